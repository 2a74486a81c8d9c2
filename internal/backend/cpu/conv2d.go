package cpu

import (
	"fmt"
	"sync"

	"github.com/born-ml/mriscan/internal/parallel"
	"github.com/born-ml/mriscan/internal/tensor"
)

// Conv2D performs 2D convolution using the im2col algorithm.
//
// Input shape:  [batch, height, width, in_channels]
// Kernel shape: [kernel_h, kernel_w, in_channels, out_channels]
// Output shape: [batch, out_h, out_w, out_channels]
//
// Each sample is lowered to a [out_h*out_w, kernel_h*kernel_w*in_channels]
// patch matrix and multiplied by the kernel viewed as
// [kernel_h*kernel_w*in_channels, out_channels]. Samples run in parallel.
func (cpu *CPUBackend) Conv2D(input, kernel *tensor.Tensor, stride int, pad tensor.Padding) *tensor.Tensor {
	g := newConvGeometry("conv2d", input.Shape(), kernel.Shape(), stride, pad)

	out := tensor.Zeros(tensor.Shape{g.n, g.outH, g.outW, g.cout})
	in, k, o := input.Data(), kernel.Data(), out.Data()

	parallel.For(g.n, func(n int) {
		cols := make([]float32, g.rows()*g.colWidth())
		g.im2col(cols, in[n*g.inSize():(n+1)*g.inSize()])
		gemm(false, false, g.rows(), g.cout, g.colWidth(),
			cols, g.colWidth(), k, g.cout, 0, o[n*g.outSize():(n+1)*g.outSize()], g.cout)
	}, cpu.par)

	return out
}

// Conv2DBackward computes gradients of Conv2D.
//
//	gradKernel = sum_n cols_n^T @ gradOut_n
//	gradInput_n = col2im(gradOut_n @ kernel^T)
func (cpu *CPUBackend) Conv2DBackward(input, kernel, gradOutput *tensor.Tensor, stride int, pad tensor.Padding, wantInput, wantKernel bool) (*tensor.Tensor, *tensor.Tensor) {
	g := newConvGeometry("conv2d backward", input.Shape(), kernel.Shape(), stride, pad)
	if want := (tensor.Shape{g.n, g.outH, g.outW, g.cout}); !gradOutput.Shape().Equal(want) {
		panic(fmt.Sprintf("conv2d backward: grad shape %v, want %v", gradOutput.Shape(), want))
	}

	var gradInput, gradKernel *tensor.Tensor
	if wantInput {
		gradInput = tensor.Zeros(input.Shape())
	}
	if wantKernel {
		gradKernel = tensor.Zeros(kernel.Shape())
	}
	if !wantInput && !wantKernel {
		return nil, nil
	}

	in, k, gOut := input.Data(), kernel.Data(), gradOutput.Data()
	var mu sync.Mutex

	parallel.For(g.n, func(n int) {
		gOutN := gOut[n*g.outSize() : (n+1)*g.outSize()]

		if wantKernel {
			cols := make([]float32, g.rows()*g.colWidth())
			g.im2col(cols, in[n*g.inSize():(n+1)*g.inSize()])
			local := make([]float32, g.colWidth()*g.cout)
			gemm(true, false, g.colWidth(), g.cout, g.rows(),
				cols, g.colWidth(), gOutN, g.cout, 0, local, g.cout)

			mu.Lock()
			dst := gradKernel.Data()
			for i, v := range local {
				dst[i] += v
			}
			mu.Unlock()
		}

		if wantInput {
			dcols := make([]float32, g.rows()*g.colWidth())
			gemm(false, true, g.rows(), g.colWidth(), g.cout,
				gOutN, g.cout, k, g.cout, 0, dcols, g.colWidth())
			g.col2im(gradInput.Data()[n*g.inSize():(n+1)*g.inSize()], dcols)
		}
	}, cpu.par)

	return gradInput, gradKernel
}

type convGeometry struct {
	n, h, w, cin int
	kh, kw, cout int
	outH, outW   int
	stride       int
	pad          tensor.Padding
}

func newConvGeometry(op string, inShape, kShape tensor.Shape, stride int, pad tensor.Padding) convGeometry {
	if len(inShape) != 4 {
		panic(fmt.Sprintf("%s: input must be 4D [N,H,W,C], got %v", op, inShape))
	}
	if len(kShape) != 4 {
		panic(fmt.Sprintf("%s: kernel must be 4D [KH,KW,C_in,C_out], got %v", op, kShape))
	}
	if stride <= 0 {
		panic(fmt.Sprintf("%s: invalid stride %d", op, stride))
	}
	g := convGeometry{
		n: inShape[0], h: inShape[1], w: inShape[2], cin: inShape[3],
		kh: kShape[0], kw: kShape[1], cout: kShape[3],
		stride: stride, pad: pad,
	}
	if kShape[2] != g.cin {
		panic(fmt.Sprintf("%s: input channels %d != kernel channels %d", op, g.cin, kShape[2]))
	}
	g.outH, g.outW = pad.OutputSize(g.h, g.w, g.kh, g.kw, stride)
	if g.outH <= 0 || g.outW <= 0 {
		panic(fmt.Sprintf("%s: invalid output dimensions %dx%d for input %dx%d, kernel %dx%d, stride %d",
			op, g.outH, g.outW, g.h, g.w, g.kh, g.kw, stride))
	}
	return g
}

func (g convGeometry) rows() int     { return g.outH * g.outW }
func (g convGeometry) colWidth() int { return g.kh * g.kw * g.cin }
func (g convGeometry) inSize() int   { return g.h * g.w * g.cin }
func (g convGeometry) outSize() int  { return g.outH * g.outW * g.cout }

// im2col writes one row per output position; each row holds the patch in
// (kh, kw, c) order with zeros where the window overlaps padding.
func (g convGeometry) im2col(cols, in []float32) {
	width := g.colWidth()
	for oh := 0; oh < g.outH; oh++ {
		for ow := 0; ow < g.outW; ow++ {
			row := cols[(oh*g.outW+ow)*width:]
			hStart := oh*g.stride - g.pad.Top
			wStart := ow*g.stride - g.pad.Left
			idx := 0
			for kh := 0; kh < g.kh; kh++ {
				y := hStart + kh
				for kw := 0; kw < g.kw; kw++ {
					x := wStart + kw
					if y < 0 || y >= g.h || x < 0 || x >= g.w {
						clear(row[idx : idx+g.cin])
					} else {
						src := (y*g.w + x) * g.cin
						copy(row[idx:idx+g.cin], in[src:src+g.cin])
					}
					idx += g.cin
				}
			}
		}
	}
}

// col2im is the adjoint of im2col: it accumulates patch gradients back
// into the (unpadded) input gradient.
func (g convGeometry) col2im(dst, cols []float32) {
	width := g.colWidth()
	for oh := 0; oh < g.outH; oh++ {
		for ow := 0; ow < g.outW; ow++ {
			row := cols[(oh*g.outW+ow)*width:]
			hStart := oh*g.stride - g.pad.Top
			wStart := ow*g.stride - g.pad.Left
			idx := 0
			for kh := 0; kh < g.kh; kh++ {
				y := hStart + kh
				for kw := 0; kw < g.kw; kw++ {
					x := wStart + kw
					if y >= 0 && y < g.h && x >= 0 && x < g.w {
						d := dst[(y*g.w+x)*g.cin:]
						for c := 0; c < g.cin; c++ {
							d[c] += row[idx+c]
						}
					}
					idx += g.cin
				}
			}
		}
	}
}
