package nn

import (
	"github.com/born-ml/mriscan/internal/tensor"
)

// ReLU applies max(0, x) element-wise.
type ReLU struct {
	output *tensor.Tensor
}

// NewReLU creates a new ReLU activation.
func NewReLU() *ReLU {
	return &ReLU{}
}

// Forward applies ReLU.
func (r *ReLU) Forward(input *tensor.Tensor, training bool) *tensor.Tensor {
	out := input.Clone()
	d := out.Data()
	for i, v := range d {
		if v < 0 {
			d[i] = 0
		}
	}
	if training {
		r.output = out
	}
	return out
}

// Backward passes the gradient where the forward output was positive.
func (r *ReLU) Backward(gradOutput *tensor.Tensor) *tensor.Tensor {
	grad := gradOutput.Clone()
	g, o := grad.Data(), r.output.Data()
	for i := range g {
		if o[i] <= 0 {
			g[i] = 0
		}
	}
	r.output = nil
	return grad
}

// Parameters returns nil; ReLU has no parameters.
func (r *ReLU) Parameters() []*Parameter { return nil }

// Buffers returns nil.
func (r *ReLU) Buffers() []*Parameter { return nil }

func (r *ReLU) String() string { return "ReLU()" }
