package nn

import (
	"fmt"
	"math/rand"

	"github.com/born-ml/mriscan/internal/tensor"
)

// Dropout zeroes a random fraction of its input during training and scales
// the survivors by 1/(1-rate). It is the identity at inference.
type Dropout struct {
	rate float32
	mask []float32
}

// NewDropout creates a dropout layer. Panics unless 0 <= rate < 1.
func NewDropout(rate float32) *Dropout {
	if rate < 0 || rate >= 1 {
		panic(fmt.Sprintf("dropout: rate %g out of range [0, 1)", rate))
	}
	return &Dropout{rate: rate}
}

// Forward applies dropout in training mode.
func (d *Dropout) Forward(input *tensor.Tensor, training bool) *tensor.Tensor {
	if !training || d.rate == 0 {
		if training {
			d.mask = nil
		}
		return input
	}
	out := input.Clone()
	o := out.Data()
	mask := make([]float32, len(o))
	keep := 1 / (1 - d.rate)
	for i := range o {
		if rand.Float32() >= d.rate {
			mask[i] = keep
		}
		o[i] *= mask[i]
	}
	d.mask = mask
	return out
}

// Backward applies the same mask to the gradient.
func (d *Dropout) Backward(gradOutput *tensor.Tensor) *tensor.Tensor {
	if d.mask == nil {
		return gradOutput
	}
	grad := gradOutput.Clone()
	g := grad.Data()
	for i := range g {
		g[i] *= d.mask[i]
	}
	d.mask = nil
	return grad
}

// Parameters returns nil.
func (d *Dropout) Parameters() []*Parameter { return nil }

// Buffers returns nil.
func (d *Dropout) Buffers() []*Parameter { return nil }

func (d *Dropout) String() string { return fmt.Sprintf("Dropout(rate=%g)", d.rate) }
