package optim

import (
	"fmt"
	"math"

	"github.com/born-ml/mriscan/internal/nn"
	"github.com/born-ml/mriscan/internal/tensor"
)

// Adam implements the Adam (Adaptive Moment Estimation) optimizer.
//
// Update rule:
//
//	m_t = beta1 * m_{t-1} + (1-beta1) * gradient
//	v_t = beta2 * v_{t-1} + (1-beta2) * gradient²
//	m_hat = m_t / (1 - beta1^t)
//	v_hat = v_t / (1 - beta2^t)
//	param = param - lr * m_hat / (sqrt(v_hat) + eps)
//
// Reference: "Adam: A Method for Stochastic Optimization" (Kingma & Ba, 2014)
type Adam struct {
	params []*nn.Parameter
	lr     float32
	beta1  float32
	beta2  float32
	eps    float32
	t      int                              // Timestep for bias correction
	m      map[*nn.Parameter]*tensor.Tensor // First moment estimates
	v      map[*nn.Parameter]*tensor.Tensor // Second moment estimates
}

// AdamConfig holds configuration for Adam optimizer.
type AdamConfig struct {
	LR    float32    // Learning rate (default: 0.001)
	Betas [2]float32 // Coefficients for computing running averages (default: [0.9, 0.999])
	Eps   float32    // Term for numerical stability (default: 1e-7)
}

// Compile-time check that Adam implements Optimizer.
var _ Optimizer = (*Adam)(nil)

// NewAdam creates a new Adam optimizer over params.
//
// Zero config fields take their defaults.
func NewAdam(params []*nn.Parameter, config AdamConfig) *Adam {
	if config.LR == 0 {
		config.LR = 0.001
	}
	if config.Betas[0] == 0 {
		config.Betas[0] = 0.9
	}
	if config.Betas[1] == 0 {
		config.Betas[1] = 0.999
	}
	if config.Eps == 0 {
		config.Eps = 1e-7
	}

	return &Adam{
		params: params,
		lr:     config.LR,
		beta1:  config.Betas[0],
		beta2:  config.Betas[1],
		eps:    config.Eps,
		m:      make(map[*nn.Parameter]*tensor.Tensor),
		v:      make(map[*nn.Parameter]*tensor.Tensor),
	}
}

// Step performs a single optimization step.
func (a *Adam) Step() {
	a.t++

	biasCorrection1 := float32(1.0 - math.Pow(float64(a.beta1), float64(a.t)))
	biasCorrection2 := float32(1.0 - math.Pow(float64(a.beta2), float64(a.t)))

	for _, param := range a.params {
		grad := param.Grad()
		if grad == nil || !param.Trainable() {
			continue
		}

		m, ok := a.m[param]
		if !ok {
			m = tensor.Zeros(param.Tensor().Shape())
			a.m[param] = m
		}
		v, ok := a.v[param]
		if !ok {
			v = tensor.Zeros(param.Tensor().Shape())
			a.v[param] = v
		}

		a.updateParameter(param.Tensor().Data(), grad.Data(), m.Data(), v.Data(), biasCorrection1, biasCorrection2)
	}
}

func (a *Adam) updateParameter(paramData, gradData, mData, vData []float32, biasCorrection1, biasCorrection2 float32) {
	for i := range paramData {
		g := gradData[i]

		mData[i] = a.beta1*mData[i] + (1.0-a.beta1)*g
		vData[i] = a.beta2*vData[i] + (1.0-a.beta2)*g*g

		mHat := mData[i] / biasCorrection1
		vHat := vData[i] / biasCorrection2

		paramData[i] -= a.lr * mHat / (float32(math.Sqrt(float64(vHat))) + a.eps)
	}
}

// ZeroGrad clears gradients for all parameters.
func (a *Adam) ZeroGrad() {
	for _, param := range a.params {
		param.ZeroGrad()
	}
}

// GetLR returns the current learning rate.
func (a *Adam) GetLR() float32 {
	return a.lr
}

// SetLR sets the learning rate.
func (a *Adam) SetLR(lr float32) {
	a.lr = lr
}

// Adam state dict keys. Moment keys are suffixed with the parameter name.
const (
	StateStep    = "step"
	StateMoment1 = "m."
	StateMoment2 = "v."
)

// StateDict returns a copy of the optimizer state for serialization.
//
// State keys: "step" -> scalar timestep, "m.{param}" and "v.{param}" ->
// moment estimates. Parameters that have not been updated yet have no
// moments.
func (a *Adam) StateDict() map[string]*tensor.Tensor {
	dict := map[string]*tensor.Tensor{
		StateStep: tensor.MustFromSlice([]float32{float32(a.t)}, tensor.Shape{1}),
	}
	for _, param := range a.params {
		if m, ok := a.m[param]; ok {
			dict[StateMoment1+param.Name()] = m.Clone()
		}
		if v, ok := a.v[param]; ok {
			dict[StateMoment2+param.Name()] = v.Clone()
		}
	}
	return dict
}

// LoadStateDict restores optimizer state written by StateDict.
//
// Moments missing from dict start at zero on the next step. Returns an
// error if the timestep is absent or a moment shape does not match its
// parameter.
func (a *Adam) LoadStateDict(dict map[string]*tensor.Tensor) error {
	step, ok := dict[StateStep]
	if !ok || step.NumElements() != 1 {
		return fmt.Errorf("adam state: missing %q", StateStep)
	}

	m := make(map[*nn.Parameter]*tensor.Tensor)
	v := make(map[*nn.Parameter]*tensor.Tensor)
	for _, param := range a.params {
		for prefix, dst := range map[string]map[*nn.Parameter]*tensor.Tensor{StateMoment1: m, StateMoment2: v} {
			src, ok := dict[prefix+param.Name()]
			if !ok {
				continue
			}
			moment := tensor.Zeros(param.Tensor().Shape())
			if err := moment.CopyFrom(src); err != nil {
				return fmt.Errorf("adam state %q: %w", prefix+param.Name(), err)
			}
			dst[param] = moment
		}
	}

	a.t = int(step.Data()[0])
	a.m = m
	a.v = v
	return nil
}

// Steps returns the number of updates applied so far.
func (a *Adam) Steps() int {
	return a.t
}
