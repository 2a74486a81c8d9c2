package nn

import (
	"fmt"
	"math"

	"github.com/born-ml/mriscan/internal/tensor"
)

// Batch normalization defaults.
const (
	DefaultBNMomentum = 0.99
	DefaultBNEpsilon  = 1e-3
)

// BatchNorm normalizes the last axis of its input.
//
// In training mode the batch mean and variance over every other axis are
// used and the moving statistics are updated:
//
//	moving = momentum*moving + (1-momentum)*batch
//
// In inference mode, or whenever the layer is frozen, the moving
// statistics are used instead.
type BatchNorm struct {
	name     string
	features int
	momentum float32
	eps      float32

	gamma      *Parameter
	beta       *Parameter
	movingMean *Parameter
	movingVar  *Parameter

	// training cache
	xhat      []float32
	invStd    []float32
	inference bool
}

// NewBatchNorm creates a batch normalization layer over the last axis.
func NewBatchNorm(name string, features int) *BatchNorm {
	return &BatchNorm{
		name:       name,
		features:   features,
		momentum:   DefaultBNMomentum,
		eps:        DefaultBNEpsilon,
		gamma:      NewParameter(name+".gamma", Ones(tensor.Shape{features})),
		beta:       NewParameter(name+".beta", tensor.Zeros(tensor.Shape{features})),
		movingMean: newBuffer(name+".moving_mean", tensor.Zeros(tensor.Shape{features})),
		movingVar:  newBuffer(name+".moving_variance", Ones(tensor.Shape{features})),
	}
}

// WithEpsilon overrides the variance epsilon and returns b.
func (b *BatchNorm) WithEpsilon(eps float32) *BatchNorm {
	b.eps = eps
	return b
}

// Forward normalizes the input.
func (b *BatchNorm) Forward(input *tensor.Tensor, training bool) *tensor.Tensor {
	C := input.Dim(-1)
	if C != b.features {
		panic(fmt.Sprintf("%s: expected %d features, got %d", b.name, b.features, C))
	}

	if !training || !b.gamma.Trainable() {
		out := b.normalizeInference(input)
		if training {
			b.inference = true
			b.xhat = nil
		}
		return out
	}

	in := input.Data()
	m := len(in) / C
	mean := make([]float64, C)
	variance := make([]float64, C)
	for i := 0; i < len(in); i += C {
		for c := 0; c < C; c++ {
			mean[c] += float64(in[i+c])
		}
	}
	for c := range mean {
		mean[c] /= float64(m)
	}
	for i := 0; i < len(in); i += C {
		for c := 0; c < C; c++ {
			d := float64(in[i+c]) - mean[c]
			variance[c] += d * d
		}
	}
	invStd := make([]float32, C)
	for c := range variance {
		variance[c] /= float64(m)
		invStd[c] = float32(1 / math.Sqrt(variance[c]+float64(b.eps)))
	}

	out := tensor.Zeros(input.Shape())
	o := out.Data()
	xhat := make([]float32, len(in))
	gamma, beta := b.gamma.Tensor().Data(), b.beta.Tensor().Data()
	for i := 0; i < len(in); i += C {
		for c := 0; c < C; c++ {
			xh := (in[i+c] - float32(mean[c])) * invStd[c]
			xhat[i+c] = xh
			o[i+c] = gamma[c]*xh + beta[c]
		}
	}

	mm, mv := b.movingMean.Tensor().Data(), b.movingVar.Tensor().Data()
	for c := 0; c < C; c++ {
		mm[c] = b.momentum*mm[c] + (1-b.momentum)*float32(mean[c])
		mv[c] = b.momentum*mv[c] + (1-b.momentum)*float32(variance[c])
	}

	b.xhat = xhat
	b.invStd = invStd
	b.inference = false
	return out
}

func (b *BatchNorm) normalizeInference(input *tensor.Tensor) *tensor.Tensor {
	C := b.features
	scale, shift := b.inferenceAffine()
	out := tensor.Zeros(input.Shape())
	in, o := input.Data(), out.Data()
	for i := 0; i < len(in); i += C {
		for c := 0; c < C; c++ {
			o[i+c] = in[i+c]*scale[c] + shift[c]
		}
	}
	return out
}

// inferenceAffine folds the moving statistics into y = x*scale + shift.
func (b *BatchNorm) inferenceAffine() (scale, shift []float32) {
	gamma, beta := b.gamma.Tensor().Data(), b.beta.Tensor().Data()
	mm, mv := b.movingMean.Tensor().Data(), b.movingVar.Tensor().Data()
	scale = make([]float32, b.features)
	shift = make([]float32, b.features)
	for c := range scale {
		scale[c] = gamma[c] / float32(math.Sqrt(float64(mv[c]+b.eps)))
		shift[c] = beta[c] - mm[c]*scale[c]
	}
	return scale, shift
}

// Backward computes
//
//	dbeta  = sum(g)
//	dgamma = sum(g * xhat)
//	dx     = gamma * invStd / m * (m*g - dbeta - xhat*dgamma)
//
// When the forward pass ran on moving statistics, dx = g * scale.
func (b *BatchNorm) Backward(gradOutput *tensor.Tensor) *tensor.Tensor {
	C := b.features
	g := gradOutput.Data()
	grad := tensor.Zeros(gradOutput.Shape())
	gIn := grad.Data()

	if b.inference {
		scale, _ := b.inferenceAffine()
		for i := 0; i < len(g); i += C {
			for c := 0; c < C; c++ {
				gIn[i+c] = g[i+c] * scale[c]
			}
		}
		return grad
	}
	if b.xhat == nil {
		panic(fmt.Sprintf("%s: Backward called without a training Forward", b.name))
	}

	m := float32(len(g) / C)
	dbeta := make([]float32, C)
	dgamma := make([]float32, C)
	for i := 0; i < len(g); i += C {
		for c := 0; c < C; c++ {
			dbeta[c] += g[i+c]
			dgamma[c] += g[i+c] * b.xhat[i+c]
		}
	}

	gamma := b.gamma.Tensor().Data()
	for i := 0; i < len(g); i += C {
		for c := 0; c < C; c++ {
			gIn[i+c] = gamma[c] * b.invStd[c] / m * (m*g[i+c] - dbeta[c] - b.xhat[i+c]*dgamma[c])
		}
	}

	if b.gamma.Trainable() {
		b.gamma.AccumulateGrad(tensor.MustFromSlice(dgamma, tensor.Shape{C}))
		b.beta.AccumulateGrad(tensor.MustFromSlice(dbeta, tensor.Shape{C}))
	}
	b.xhat, b.invStd = nil, nil
	return grad
}

// Parameters returns [gamma, beta].
func (b *BatchNorm) Parameters() []*Parameter {
	return []*Parameter{b.gamma, b.beta}
}

// Buffers returns the moving mean and variance.
func (b *BatchNorm) Buffers() []*Parameter {
	return []*Parameter{b.movingMean, b.movingVar}
}

func (b *BatchNorm) String() string {
	return fmt.Sprintf("BatchNorm(%s, features=%d, momentum=%g, eps=%g)", b.name, b.features, b.momentum, b.eps)
}
