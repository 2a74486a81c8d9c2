package nn

import (
	"fmt"

	"github.com/born-ml/mriscan/internal/tensor"
)

// PadMode selects how a convolution pads its input.
type PadMode int

const (
	// Valid applies no padding.
	Valid PadMode = iota
	// Same pads so that output size is ceil(input / stride).
	Same
)

func (m PadMode) String() string {
	if m == Same {
		return "same"
	}
	return "valid"
}

// Conv2D implements a 2D convolutional layer over NHWC input.
//
// Output shape: [batch, out_h, out_w, out_channels]
//
// The kernel is stored HWIO: [kernel, kernel, in_channels, out_channels].
// Weights use Glorot uniform initialization and the bias starts at zero.
type Conv2D struct {
	name        string
	inChannels  int
	outChannels int
	kernelSize  int
	stride      int
	padding     PadMode

	weight *Parameter
	bias   *Parameter // nil if useBias=false

	backend tensor.Backend

	// training cache
	input *tensor.Tensor
	pad   tensor.Padding
}

// NewConv2D creates a new 2D convolutional layer.
func NewConv2D(name string, inChannels, outChannels, kernelSize, stride int, padding PadMode, useBias bool, backend tensor.Backend) *Conv2D {
	fanIn := inChannels * kernelSize * kernelSize
	fanOut := outChannels * kernelSize * kernelSize
	kernel := GlorotUniform(fanIn, fanOut, tensor.Shape{kernelSize, kernelSize, inChannels, outChannels})

	c := &Conv2D{
		name:        name,
		inChannels:  inChannels,
		outChannels: outChannels,
		kernelSize:  kernelSize,
		stride:      stride,
		padding:     padding,
		weight:      NewParameter(name+".kernel", kernel),
		backend:     backend,
	}
	if useBias {
		c.bias = NewParameter(name+".bias", tensor.Zeros(tensor.Shape{outChannels}))
	}
	return c
}

// Forward computes the convolution. Panics on a channel mismatch.
func (c *Conv2D) Forward(input *tensor.Tensor, training bool) *tensor.Tensor {
	_, H, W, C := input.Shape().NHWC()
	if C != c.inChannels {
		panic(fmt.Sprintf("%s: expected %d input channels, got %d", c.name, c.inChannels, C))
	}

	pad := c.paddingFor(H, W)
	out := c.backend.Conv2D(input, c.weight.Tensor(), c.stride, pad)

	if c.bias != nil {
		addBias(out.Data(), c.bias.Tensor().Data())
	}
	if training {
		c.input = input
		c.pad = pad
	}
	return out
}

// Backward computes kernel and bias gradients (when trainable) and returns
// the gradient with respect to the input.
func (c *Conv2D) Backward(gradOutput *tensor.Tensor) *tensor.Tensor {
	if c.input == nil {
		panic(fmt.Sprintf("%s: Backward called without a training Forward", c.name))
	}
	trainable := c.weight.Trainable()
	gradInput, gradKernel := c.backend.Conv2DBackward(c.input, c.weight.Tensor(), gradOutput, c.stride, c.pad, true, trainable)
	if trainable {
		c.weight.AccumulateGrad(gradKernel)
		if c.bias != nil {
			c.bias.AccumulateGrad(sumBias(gradOutput, c.outChannels))
		}
	}
	c.input = nil
	return gradInput
}

func (c *Conv2D) paddingFor(h, w int) tensor.Padding {
	if c.padding == Same {
		return tensor.SamePadding(h, w, c.kernelSize, c.kernelSize, c.stride)
	}
	return tensor.Padding{}
}

// OutputSize returns the spatial output size for an h x w input.
func (c *Conv2D) OutputSize(h, w int) (int, int) {
	return c.paddingFor(h, w).OutputSize(h, w, c.kernelSize, c.kernelSize, c.stride)
}

// Parameters returns the kernel and, if present, the bias.
func (c *Conv2D) Parameters() []*Parameter {
	if c.bias != nil {
		return []*Parameter{c.weight, c.bias}
	}
	return []*Parameter{c.weight}
}

// Buffers returns nil; Conv2D has no buffers.
func (c *Conv2D) Buffers() []*Parameter { return nil }

// String returns a string representation of the layer.
func (c *Conv2D) String() string {
	return fmt.Sprintf("Conv2D(%s, in=%d, out=%d, kernel=%d, stride=%d, padding=%s, bias=%v)",
		c.name, c.inChannels, c.outChannels, c.kernelSize, c.stride, c.padding, c.bias != nil)
}

// OutChannels returns the number of output channels.
func (c *Conv2D) OutChannels() int { return c.outChannels }

// addBias adds a per-channel bias to NHWC (or [N, F]) data.
func addBias(data, bias []float32) {
	c := len(bias)
	for i := 0; i < len(data); i += c {
		row := data[i : i+c]
		for j, b := range bias {
			row[j] += b
		}
	}
}

// sumBias sums a gradient over every axis except the last.
func sumBias(grad *tensor.Tensor, channels int) *tensor.Tensor {
	out := tensor.Zeros(tensor.Shape{channels})
	o := out.Data()
	g := grad.Data()
	for i := 0; i < len(g); i += channels {
		for j := 0; j < channels; j++ {
			o[j] += g[i+j]
		}
	}
	return out
}
