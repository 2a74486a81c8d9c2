package nn

import (
	"fmt"
	"strings"

	"github.com/born-ml/mriscan/internal/tensor"
)

// Sequential is a container module that chains multiple modules together.
//
// Each module's output becomes the next module's input. Backward runs the
// modules in reverse order and stops early when a module reports that it
// does not propagate gradients.
type Sequential struct {
	modules []Module
}

// NewSequential creates a new Sequential container.
func NewSequential(modules ...Module) *Sequential {
	return &Sequential{
		modules: modules,
	}
}

// Forward applies all modules in sequence.
func (s *Sequential) Forward(input *tensor.Tensor, training bool) *tensor.Tensor {
	output := input
	for _, module := range s.modules {
		output = module.Forward(output, training)
	}
	return output
}

// Backward applies every module's Backward in reverse order.
func (s *Sequential) Backward(gradOutput *tensor.Tensor) *tensor.Tensor {
	grad := gradOutput
	for i := len(s.modules) - 1; i >= 0; i-- {
		grad = s.modules[i].Backward(grad)
		if grad == nil {
			return nil
		}
	}
	return grad
}

// Parameters returns all parameters from all modules.
func (s *Sequential) Parameters() []*Parameter {
	var params []*Parameter
	for _, module := range s.modules {
		params = append(params, module.Parameters()...)
	}
	return params
}

// Buffers returns all buffers from all modules.
func (s *Sequential) Buffers() []*Parameter {
	var bufs []*Parameter
	for _, module := range s.modules {
		bufs = append(bufs, module.Buffers()...)
	}
	return bufs
}

// Add appends a module to the sequence.
func (s *Sequential) Add(module Module) {
	s.modules = append(s.modules, module)
}

// Len returns the number of modules in the sequence.
func (s *Sequential) Len() int {
	return len(s.modules)
}

// Module returns the module at index i.
func (s *Sequential) Module(i int) Module {
	return s.modules[i]
}

// String returns a multi-line description of the sequence.
func (s *Sequential) String() string {
	var b strings.Builder
	b.WriteString("Sequential(\n")
	for _, m := range s.modules {
		for _, line := range strings.Split(m.String(), "\n") {
			fmt.Fprintf(&b, "  %s\n", line)
		}
	}
	b.WriteString(")")
	return b.String()
}
