package nn

import (
	"github.com/born-ml/mriscan/internal/tensor"
)

// Parameter represents a named weight tensor of a layer.
//
// Example:
//
//	kernel := nn.NewParameter("block1_conv1.kernel", kernelTensor)
//
//	// After a backward pass
//	g := kernel.Grad()
type Parameter struct {
	name      string         // Parameter name (e.g., "block1_conv1.kernel")
	tensor    *tensor.Tensor // The parameter tensor
	grad      *tensor.Tensor // Accumulated gradient, nil until the first backward pass
	trainable bool
}

// NewParameter creates a new trainable parameter.
func NewParameter(name string, t *tensor.Tensor) *Parameter {
	return &Parameter{
		name:      name,
		tensor:    t,
		trainable: true,
	}
}

// newBuffer creates non-trainable persistent state.
func newBuffer(name string, t *tensor.Tensor) *Parameter {
	return &Parameter{name: name, tensor: t}
}

// Name returns the parameter name.
func (p *Parameter) Name() string {
	return p.name
}

// Tensor returns the parameter tensor.
func (p *Parameter) Tensor() *tensor.Tensor {
	return p.tensor
}

// Grad returns the gradient tensor.
//
// Returns nil if no gradient has been computed yet.
func (p *Parameter) Grad() *tensor.Tensor {
	return p.grad
}

// SetGrad sets the gradient tensor.
func (p *Parameter) SetGrad(grad *tensor.Tensor) {
	p.grad = grad
}

// AccumulateGrad adds g into the parameter gradient.
func (p *Parameter) AccumulateGrad(g *tensor.Tensor) {
	if p.grad == nil {
		p.grad = g.Clone()
		return
	}
	p.grad.AddInPlace(g)
}

// ZeroGrad clears the gradient tensor.
func (p *Parameter) ZeroGrad() {
	p.grad = nil
}

// Trainable reports whether the optimizer should update this parameter.
func (p *Parameter) Trainable() bool {
	return p.trainable
}

// SetTrainable freezes or unfreezes the parameter.
func (p *Parameter) SetTrainable(trainable bool) {
	p.trainable = trainable
}
