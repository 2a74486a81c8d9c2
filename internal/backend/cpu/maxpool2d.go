package cpu

import (
	"fmt"
	"math"

	"github.com/born-ml/mriscan/internal/parallel"
	"github.com/born-ml/mriscan/internal/tensor"
)

// MaxPool2D performs 2D max pooling without padding.
//
// Input shape:  [batch, height, width, channels]
// Output shape: [batch, out_height, out_width, channels]
//
// Where:
//
//	out_height = (height - size) / stride + 1
//	out_width = (width - size) / stride + 1
//
// The returned argmax slice holds, for each output element, the flat input
// index of the selected maximum. Ties resolve to the first position in
// row-major window order.
func (cpu *CPUBackend) MaxPool2D(input *tensor.Tensor, size, stride int) (*tensor.Tensor, []int32) {
	N, H, W, C := input.Shape().NHWC()
	if size <= 0 {
		panic(fmt.Sprintf("maxpool2d: invalid kernel size %d", size))
	}
	if stride <= 0 {
		panic(fmt.Sprintf("maxpool2d: invalid stride %d", stride))
	}
	if size > H || size > W {
		panic(fmt.Sprintf("maxpool2d: kernel size %d too large for input %dx%d", size, H, W))
	}

	HOut := (H-size)/stride + 1
	WOut := (W-size)/stride + 1

	out := tensor.Zeros(tensor.Shape{N, HOut, WOut, C})
	argmax := make([]int32, out.NumElements())
	in, o := input.Data(), out.Data()

	parallel.For(N, func(n int) {
		base := n * H * W * C
		for oh := 0; oh < HOut; oh++ {
			for ow := 0; ow < WOut; ow++ {
				for c := 0; c < C; c++ {
					best := float32(math.Inf(-1))
					bestIdx := -1
					for kh := 0; kh < size; kh++ {
						y := oh*stride + kh
						for kw := 0; kw < size; kw++ {
							x := ow*stride + kw
							idx := base + (y*W+x)*C + c
							if v := in[idx]; bestIdx < 0 || v > best {
								best, bestIdx = v, idx
							}
						}
					}
					outIdx := ((n*HOut+oh)*WOut+ow)*C + c
					o[outIdx] = best
					argmax[outIdx] = int32(bestIdx)
				}
			}
		}
	}, cpu.par)

	return out, argmax
}

// MaxPool2DBackward routes each output gradient to the input position that
// won the forward max. Overlapping windows accumulate.
func (cpu *CPUBackend) MaxPool2DBackward(gradOutput *tensor.Tensor, argmax []int32, inputShape tensor.Shape) *tensor.Tensor {
	if len(argmax) != gradOutput.NumElements() {
		panic(fmt.Sprintf("maxpool2d backward: %d argmax entries for %d gradients", len(argmax), gradOutput.NumElements()))
	}
	N := gradOutput.Dim(0)
	grad := tensor.Zeros(inputShape)
	g, gIn := gradOutput.Data(), grad.Data()
	per := len(argmax) / N

	// argmax entries of sample n always point inside sample n, so samples
	// never write to the same input slot.
	parallel.For(N, func(n int) {
		for i := n * per; i < (n+1)*per; i++ {
			gIn[argmax[i]] += g[i]
		}
	}, cpu.par)

	return grad
}
