package tensor

// Backend defines the compute-heavy kernels that layers delegate to.
//
// All image tensors are NHWC. Convolution kernels are HWIO:
// [kernelH, kernelW, inChannels, outChannels].
type Backend interface {
	// MatMul computes op(a) @ op(b) for 2D tensors, where op transposes
	// its argument when the matching flag is set.
	MatMul(a, b *Tensor, transA, transB bool) *Tensor

	// Conv2D computes a 2D convolution (cross-correlation) without bias.
	Conv2D(input, kernel *Tensor, stride int, pad Padding) *Tensor

	// Conv2DBackward returns gradients with respect to input and kernel.
	// gradInput is nil when wantInput is false; gradKernel is nil when
	// wantKernel is false.
	Conv2DBackward(input, kernel, gradOutput *Tensor, stride int, pad Padding, wantInput, wantKernel bool) (gradInput, gradKernel *Tensor)

	// MaxPool2D performs valid max pooling and returns, for every output
	// element, the flat input index that produced it.
	MaxPool2D(input *Tensor, size, stride int) (*Tensor, []int32)

	// MaxPool2DBackward scatters gradOutput back to the argmax positions.
	MaxPool2DBackward(gradOutput *Tensor, argmax []int32, inputShape Shape) *Tensor

	// Name returns the backend name.
	Name() string
}
