package nn

import (
	"fmt"

	"github.com/born-ml/mriscan/internal/tensor"
)

// Linear implements a fully connected layer: y = x @ W + b.
//
// Shapes:
//   - Input: [batch_size, in_features]
//   - Weight: [in_features, out_features]
//   - Bias: [out_features]
//   - Output: [batch_size, out_features]
type Linear struct {
	name        string
	inFeatures  int
	outFeatures int
	weight      *Parameter
	bias        *Parameter

	backend tensor.Backend
	input   *tensor.Tensor
}

// NewLinear creates a new fully connected layer with Glorot uniform weights
// and zero bias.
func NewLinear(name string, inFeatures, outFeatures int, backend tensor.Backend) *Linear {
	return &Linear{
		name:        name,
		inFeatures:  inFeatures,
		outFeatures: outFeatures,
		weight:      NewParameter(name+".kernel", GlorotUniform(inFeatures, outFeatures, tensor.Shape{inFeatures, outFeatures})),
		bias:        NewParameter(name+".bias", tensor.Zeros(tensor.Shape{outFeatures})),
		backend:     backend,
	}
}

// Forward computes x @ W + b.
func (l *Linear) Forward(input *tensor.Tensor, training bool) *tensor.Tensor {
	s := input.Shape()
	if len(s) != 2 || s[1] != l.inFeatures {
		panic(fmt.Sprintf("%s: expected input [batch, %d], got %v", l.name, l.inFeatures, s))
	}
	out := l.backend.MatMul(input, l.weight.Tensor(), false, false)
	addBias(out.Data(), l.bias.Tensor().Data())
	if training {
		l.input = input
	}
	return out
}

// Backward computes:
//
//	dW = x^T @ grad
//	db = sum(grad, axis=0)
//	dx = grad @ W^T
func (l *Linear) Backward(gradOutput *tensor.Tensor) *tensor.Tensor {
	if l.input == nil {
		panic(fmt.Sprintf("%s: Backward called without a training Forward", l.name))
	}
	if l.weight.Trainable() {
		l.weight.AccumulateGrad(l.backend.MatMul(l.input, gradOutput, true, false))
		l.bias.AccumulateGrad(sumBias(gradOutput, l.outFeatures))
	}
	l.input = nil
	return l.backend.MatMul(gradOutput, l.weight.Tensor(), false, true)
}

// Parameters returns [weight, bias].
func (l *Linear) Parameters() []*Parameter {
	return []*Parameter{l.weight, l.bias}
}

// Buffers returns nil; Linear has no buffers.
func (l *Linear) Buffers() []*Parameter { return nil }

// String returns a string representation of the layer.
func (l *Linear) String() string {
	return fmt.Sprintf("Linear(%s, in=%d, out=%d)", l.name, l.inFeatures, l.outFeatures)
}

// Weight returns the weight parameter.
func (l *Linear) Weight() *Parameter { return l.weight }

// Bias returns the bias parameter.
func (l *Linear) Bias() *Parameter { return l.bias }
