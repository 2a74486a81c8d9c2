// Package nn implements the neural network layers used by the MRI models.
//
// Layers follow a simple explicit contract instead of a recorded tape:
//   - Forward(x, training) computes the output. In training mode a layer
//     caches what it needs for its backward pass; in inference mode it
//     touches no state and is safe for concurrent use.
//   - Backward(grad) consumes the cached activations, accumulates parameter
//     gradients and returns the gradient with respect to the layer input.
//
// All image tensors are NHWC.
package nn

import (
	"fmt"

	"github.com/born-ml/mriscan/internal/tensor"
)

// Module is the base interface for all neural network components.
//
//	model := nn.NewSequential(
//	    nn.NewConv2D("conv1", 3, 16, 3, 1, nn.Same, true, backend),
//	    nn.NewReLU(),
//	    nn.NewFlatten(),
//	)
type Module interface {
	// Forward computes the output of the module.
	Forward(input *tensor.Tensor, training bool) *tensor.Tensor

	// Backward propagates gradOutput through the last training-mode
	// Forward call. Returns nil when the module does not propagate
	// gradients to its input (e.g. preprocessing layers).
	Backward(gradOutput *tensor.Tensor) *tensor.Tensor

	// Parameters returns the learnable parameters, trainable or frozen.
	Parameters() []*Parameter

	// Buffers returns persistent state that is not learned by gradient
	// descent, such as batch-norm moving statistics.
	Buffers() []*Parameter

	// String returns a one-line description of the module.
	String() string
}

// Freeze marks every parameter of m as non-trainable.
func Freeze(m Module) {
	for _, p := range m.Parameters() {
		p.SetTrainable(false)
	}
}

// Unfreeze marks every parameter of m as trainable.
func Unfreeze(m Module) {
	for _, p := range m.Parameters() {
		p.SetTrainable(true)
	}
}

// IsFrozen reports whether m has no trainable parameters.
func IsFrozen(m Module) bool {
	for _, p := range m.Parameters() {
		if p.Trainable() {
			return false
		}
	}
	return true
}

// TrainableParameters returns the parameters of m that are currently trainable.
func TrainableParameters(m Module) []*Parameter {
	var out []*Parameter
	for _, p := range m.Parameters() {
		if p.Trainable() {
			out = append(out, p)
		}
	}
	return out
}

// CountParameters returns the number of scalar weights in m, split into
// trainable and non-trainable (frozen parameters plus buffers).
func CountParameters(m Module) (trainable, frozen int) {
	for _, p := range m.Parameters() {
		if p.Trainable() {
			trainable += p.Tensor().NumElements()
		} else {
			frozen += p.Tensor().NumElements()
		}
	}
	for _, b := range m.Buffers() {
		frozen += b.Tensor().NumElements()
	}
	return trainable, frozen
}

// StateDict returns every parameter and buffer of m keyed by name.
// The tensors are shared with the module, not copied.
func StateDict(m Module) (map[string]*tensor.Tensor, error) {
	dict := make(map[string]*tensor.Tensor)
	for _, p := range append(m.Parameters(), m.Buffers()...) {
		if _, dup := dict[p.Name()]; dup {
			return nil, fmt.Errorf("duplicate state name %q", p.Name())
		}
		dict[p.Name()] = p.Tensor()
	}
	return dict, nil
}

// SnapshotState returns a deep copy of the state dict of m.
func SnapshotState(m Module) (map[string]*tensor.Tensor, error) {
	dict, err := StateDict(m)
	if err != nil {
		return nil, err
	}
	snap := make(map[string]*tensor.Tensor, len(dict))
	for k, v := range dict {
		snap[k] = v.Clone()
	}
	return snap, nil
}

// LoadStateDict copies tensors from dict into the parameters and buffers of m.
//
// Every state entry of m must be present with a matching shape. Extra
// entries in dict are ignored only when strict is false.
func LoadStateDict(m Module, dict map[string]*tensor.Tensor, strict bool) error {
	own, err := StateDict(m)
	if err != nil {
		return err
	}
	for name, dst := range own {
		src, ok := dict[name]
		if !ok {
			return fmt.Errorf("missing state %q", name)
		}
		if err := dst.CopyFrom(src); err != nil {
			return fmt.Errorf("state %q: %w", name, err)
		}
	}
	if strict {
		for name := range dict {
			if _, ok := own[name]; !ok {
				return fmt.Errorf("unexpected state %q", name)
			}
		}
	}
	return nil
}

// ZeroGrad clears the gradients of all parameters of m.
func ZeroGrad(m Module) {
	for _, p := range m.Parameters() {
		p.ZeroGrad()
	}
}
