// Package optim implements the optimizer used to train the MRI models.
//
// Example usage:
//
//	optimizer := optim.NewAdam(model.Parameters(), optim.AdamConfig{LR: 1e-4})
//
//	for _, batch := range batches {
//	    logits := model.Forward(batch.Images, true)
//	    loss, grad := nn.SoftmaxCrossEntropy(logits, batch.Labels)
//	    model.Backward(grad)
//
//	    optimizer.Step()
//	    optimizer.ZeroGrad()
//	}
package optim

// Optimizer is the base interface for optimization algorithms.
type Optimizer interface {
	// Step applies the accumulated gradients to every trainable parameter
	// that has one. Frozen parameters and parameters without a gradient
	// are left untouched.
	Step()

	// ZeroGrad clears all parameter gradients.
	ZeroGrad()

	// GetLR returns the current learning rate.
	GetLR() float32

	// SetLR replaces the learning rate, e.g. from a schedule.
	SetLR(lr float32)
}
