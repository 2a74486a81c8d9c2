package nn

import (
	"fmt"

	"github.com/born-ml/mriscan/internal/tensor"
)

// MaxPool2D implements valid 2D max pooling over NHWC input.
type MaxPool2D struct {
	size    int
	stride  int
	backend tensor.Backend

	inputShape tensor.Shape
	argmax     []int32
}

// NewMaxPool2D creates a max pooling layer.
func NewMaxPool2D(size, stride int, backend tensor.Backend) *MaxPool2D {
	return &MaxPool2D{size: size, stride: stride, backend: backend}
}

// Forward applies max pooling.
func (m *MaxPool2D) Forward(input *tensor.Tensor, training bool) *tensor.Tensor {
	out, argmax := m.backend.MaxPool2D(input, m.size, m.stride)
	if training {
		m.inputShape = input.Shape().Clone()
		m.argmax = argmax
	}
	return out
}

// Backward scatters gradients to the max positions.
func (m *MaxPool2D) Backward(gradOutput *tensor.Tensor) *tensor.Tensor {
	grad := m.backend.MaxPool2DBackward(gradOutput, m.argmax, m.inputShape)
	m.argmax = nil
	return grad
}

// Parameters returns nil; MaxPool2D has no parameters.
func (m *MaxPool2D) Parameters() []*Parameter { return nil }

// Buffers returns nil.
func (m *MaxPool2D) Buffers() []*Parameter { return nil }

func (m *MaxPool2D) String() string {
	return fmt.Sprintf("MaxPool2D(size=%d, stride=%d)", m.size, m.stride)
}

// ZeroPad2D pads the spatial dimensions of NHWC input with zeros.
type ZeroPad2D struct {
	pad tensor.Padding
}

// NewZeroPad2D creates a zero padding layer with p pixels on every side.
func NewZeroPad2D(p int) *ZeroPad2D {
	return &ZeroPad2D{pad: tensor.Uniform(p)}
}

// Forward pads the input.
func (z *ZeroPad2D) Forward(input *tensor.Tensor, _ bool) *tensor.Tensor {
	N, H, W, C := input.Shape().NHWC()
	p := z.pad
	OH, OW := H+p.Top+p.Bottom, W+p.Left+p.Right
	out := tensor.Zeros(tensor.Shape{N, OH, OW, C})
	in, o := input.Data(), out.Data()
	for n := 0; n < N; n++ {
		for y := 0; y < H; y++ {
			src := ((n*H + y) * W) * C
			dst := ((n*OH+y+p.Top)*OW + p.Left) * C
			copy(o[dst:dst+W*C], in[src:src+W*C])
		}
	}
	return out
}

// Backward crops the gradient back to the unpadded region.
func (z *ZeroPad2D) Backward(gradOutput *tensor.Tensor) *tensor.Tensor {
	N, OH, OW, C := gradOutput.Shape().NHWC()
	p := z.pad
	H, W := OH-p.Top-p.Bottom, OW-p.Left-p.Right
	grad := tensor.Zeros(tensor.Shape{N, H, W, C})
	g, gIn := gradOutput.Data(), grad.Data()
	for n := 0; n < N; n++ {
		for y := 0; y < H; y++ {
			src := ((n*OH+y+p.Top)*OW + p.Left) * C
			dst := ((n*H + y) * W) * C
			copy(gIn[dst:dst+W*C], g[src:src+W*C])
		}
	}
	return grad
}

// Parameters returns nil.
func (z *ZeroPad2D) Parameters() []*Parameter { return nil }

// Buffers returns nil.
func (z *ZeroPad2D) Buffers() []*Parameter { return nil }

func (z *ZeroPad2D) String() string {
	return fmt.Sprintf("ZeroPad2D(%d)", z.pad.Top)
}

// GlobalAvgPool2D averages each channel over the spatial dimensions:
// [N, H, W, C] -> [N, C].
type GlobalAvgPool2D struct {
	inputShape tensor.Shape
}

// NewGlobalAvgPool2D creates a global average pooling layer.
func NewGlobalAvgPool2D() *GlobalAvgPool2D {
	return &GlobalAvgPool2D{}
}

// Forward averages over height and width.
func (g *GlobalAvgPool2D) Forward(input *tensor.Tensor, training bool) *tensor.Tensor {
	N, H, W, C := input.Shape().NHWC()
	out := tensor.Zeros(tensor.Shape{N, C})
	in, o := input.Data(), out.Data()
	inv := 1 / float32(H*W)
	for n := 0; n < N; n++ {
		row := o[n*C : (n+1)*C]
		for i := 0; i < H*W; i++ {
			px := in[(n*H*W+i)*C:]
			for c := 0; c < C; c++ {
				row[c] += px[c]
			}
		}
		for c := range row {
			row[c] *= inv
		}
	}
	if training {
		g.inputShape = input.Shape().Clone()
	}
	return out
}

// Backward spreads each channel gradient evenly over the spatial positions.
func (g *GlobalAvgPool2D) Backward(gradOutput *tensor.Tensor) *tensor.Tensor {
	N, H, W, C := g.inputShape.NHWC()
	grad := tensor.Zeros(g.inputShape)
	gOut, gIn := gradOutput.Data(), grad.Data()
	inv := 1 / float32(H*W)
	for n := 0; n < N; n++ {
		for i := 0; i < H*W; i++ {
			px := gIn[(n*H*W+i)*C:]
			for c := 0; c < C; c++ {
				px[c] = gOut[n*C+c] * inv
			}
		}
	}
	return grad
}

// Parameters returns nil.
func (g *GlobalAvgPool2D) Parameters() []*Parameter { return nil }

// Buffers returns nil.
func (g *GlobalAvgPool2D) Buffers() []*Parameter { return nil }

func (g *GlobalAvgPool2D) String() string { return "GlobalAvgPool2D()" }

// Flatten reshapes [N, ...] into [N, features].
type Flatten struct {
	inputShape tensor.Shape
}

// NewFlatten creates a flatten layer.
func NewFlatten() *Flatten {
	return &Flatten{}
}

// Forward flattens every dimension after the batch dimension.
func (f *Flatten) Forward(input *tensor.Tensor, training bool) *tensor.Tensor {
	n := input.Dim(0)
	if training {
		f.inputShape = input.Shape().Clone()
	}
	return input.Clone().Reshape(n, input.NumElements()/n)
}

// Backward restores the original shape.
func (f *Flatten) Backward(gradOutput *tensor.Tensor) *tensor.Tensor {
	return gradOutput.Reshape(f.inputShape...)
}

// Parameters returns nil.
func (f *Flatten) Parameters() []*Parameter { return nil }

// Buffers returns nil.
func (f *Flatten) Buffers() []*Parameter { return nil }

func (f *Flatten) String() string { return "Flatten()" }
