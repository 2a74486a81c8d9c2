package optim_test

import (
	"math"
	"testing"

	"github.com/born-ml/mriscan/internal/nn"
	"github.com/born-ml/mriscan/internal/optim"
	"github.com/born-ml/mriscan/internal/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Helper to check float equality with tolerance.
func floatEqual(a, b, eps float32) bool {
	diff := a - b
	if diff < 0 {
		diff = -diff
	}
	return diff < eps
}

func scalarParam(name string, v float32) *nn.Parameter {
	return nn.NewParameter(name, tensor.MustFromSlice([]float32{v}, tensor.Shape{1}))
}

// TestAdam_FirstStep checks that the first bias-corrected step moves the
// parameter by lr in the direction opposite to the gradient.
func TestAdam_FirstStep(t *testing.T) {
	param := scalarParam("x", 1.0)
	optimizer := optim.NewAdam([]*nn.Parameter{param}, optim.AdamConfig{LR: 0.1})

	param.SetGrad(tensor.MustFromSlice([]float32{2.0}, tensor.Shape{1}))
	optimizer.Step()

	actual := param.Tensor().Data()[0]
	if !floatEqual(actual, 0.9, 1e-5) {
		t.Errorf("Adam first step: got %f, want 0.9", actual)
	}
	assert.Equal(t, 1, optimizer.Steps())
}

func TestAdam_Defaults(t *testing.T) {
	optimizer := optim.NewAdam(nil, optim.AdamConfig{})
	assert.Equal(t, float32(0.001), optimizer.GetLR())

	optimizer.SetLR(0.0008)
	assert.Equal(t, float32(0.0008), optimizer.GetLR())
}

func TestAdam_SkipsFrozenAndMissingGrads(t *testing.T) {
	frozen := scalarParam("frozen", 1)
	frozen.SetTrainable(false)
	frozen.SetGrad(tensor.MustFromSlice([]float32{1}, tensor.Shape{1}))
	noGrad := scalarParam("nograd", 1)

	optimizer := optim.NewAdam([]*nn.Parameter{frozen, noGrad}, optim.AdamConfig{LR: 0.1})
	optimizer.Step()

	assert.Equal(t, float32(1), frozen.Tensor().Data()[0])
	assert.Equal(t, float32(1), noGrad.Tensor().Data()[0])
}

// TestAdam_Minimizes checks convergence on f(x) = (x - 3)².
func TestAdam_Minimizes(t *testing.T) {
	param := scalarParam("x", 0)
	optimizer := optim.NewAdam([]*nn.Parameter{param}, optim.AdamConfig{LR: 0.1})

	for i := 0; i < 500; i++ {
		x := param.Tensor().Data()[0]
		param.SetGrad(tensor.MustFromSlice([]float32{2 * (x - 3)}, tensor.Shape{1}))
		optimizer.Step()
		optimizer.ZeroGrad()
	}

	assert.InDelta(t, 3.0, float64(param.Tensor().Data()[0]), 1e-2)
	assert.Nil(t, param.Grad())
	assert.False(t, math.IsNaN(float64(param.Tensor().Data()[0])))
}

// TestAdam_StateDictResumes checks that a fresh optimizer loaded from a
// state dict continues exactly where the original left off.
func TestAdam_StateDictResumes(t *testing.T) {
	grad := func(p *nn.Parameter) {
		x := p.Tensor().Data()[0]
		p.SetGrad(tensor.MustFromSlice([]float32{2 * (x - 3)}, tensor.Shape{1}))
	}

	a := scalarParam("x", 0)
	optA := optim.NewAdam([]*nn.Parameter{a}, optim.AdamConfig{LR: 0.1})
	for i := 0; i < 3; i++ {
		grad(a)
		optA.Step()
		optA.ZeroGrad()
	}

	state := optA.StateDict()
	require.Contains(t, state, optim.StateStep)
	require.Contains(t, state, optim.StateMoment1+"x")
	require.Contains(t, state, optim.StateMoment2+"x")
	assert.Equal(t, []float32{3}, state[optim.StateStep].Data())

	b := scalarParam("x", a.Tensor().Data()[0])
	optB := optim.NewAdam([]*nn.Parameter{b}, optim.AdamConfig{LR: 0.1})
	require.NoError(t, optB.LoadStateDict(state))
	assert.Equal(t, 3, optB.Steps())

	grad(a)
	optA.Step()
	grad(b)
	optB.Step()
	assert.Equal(t, a.Tensor().Data()[0], b.Tensor().Data()[0])

	// The state dict is a copy.
	state[optim.StateMoment1+"x"].Data()[0] = 1e6
	assert.NotEqual(t, float32(1e6), optA.StateDict()[optim.StateMoment1+"x"].Data()[0])
}

func TestAdam_LoadStateDictErrors(t *testing.T) {
	param := nn.NewParameter("w", tensor.Zeros(tensor.Shape{2, 2}))
	optimizer := optim.NewAdam([]*nn.Parameter{param}, optim.AdamConfig{})

	err := optimizer.LoadStateDict(map[string]*tensor.Tensor{})
	assert.ErrorContains(t, err, optim.StateStep)

	err = optimizer.LoadStateDict(map[string]*tensor.Tensor{
		optim.StateStep:          tensor.MustFromSlice([]float32{4}, tensor.Shape{1}),
		optim.StateMoment1 + "w": tensor.Zeros(tensor.Shape{4}),
	})
	assert.ErrorContains(t, err, "shape mismatch")
	assert.Zero(t, optimizer.Steps())
}
