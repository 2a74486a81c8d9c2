package nn

import (
	"fmt"

	"github.com/born-ml/mriscan/internal/tensor"
)

// ConcatChannels joins NHWC tensors along the channel axis.
//
// Every input must have the same batch, height and width. When equalDepth
// is set the channel counts must match as well.
func ConcatChannels(equalDepth bool, inputs ...*tensor.Tensor) (*tensor.Tensor, error) {
	if len(inputs) == 0 {
		return nil, fmt.Errorf("concat: no inputs")
	}
	N, H, W, _ := inputs[0].Shape().NHWC()
	total := 0
	for i, in := range inputs {
		s := in.Shape()
		if len(s) != 4 || s[0] != N || s[1] != H || s[2] != W {
			return nil, fmt.Errorf("concat: input %d has shape %v, want [%d %d %d *]", i, s, N, H, W)
		}
		if equalDepth && s[3] != inputs[0].Dim(3) {
			return nil, fmt.Errorf("concat: input %d has depth %d, want %d", i, s[3], inputs[0].Dim(3))
		}
		total += s[3]
	}

	out := tensor.Zeros(tensor.Shape{N, H, W, total})
	o := out.Data()
	offset := 0
	for _, in := range inputs {
		C := in.Dim(3)
		src := in.Data()
		for px := 0; px < N*H*W; px++ {
			copy(o[px*total+offset:px*total+offset+C], src[px*C:(px+1)*C])
		}
		offset += C
	}
	return out, nil
}

// SplitChannels is the inverse of ConcatChannels for gradients: it slices
// grad into pieces with the given channel depths.
func SplitChannels(grad *tensor.Tensor, depths ...int) []*tensor.Tensor {
	N, H, W, total := grad.Shape().NHWC()
	sum := 0
	for _, d := range depths {
		sum += d
	}
	if sum != total {
		panic(fmt.Sprintf("split: depths sum to %d, tensor has %d channels", sum, total))
	}

	g := grad.Data()
	parts := make([]*tensor.Tensor, len(depths))
	offset := 0
	for i, C := range depths {
		part := tensor.Zeros(tensor.Shape{N, H, W, C})
		p := part.Data()
		for px := 0; px < N*H*W; px++ {
			copy(p[px*C:(px+1)*C], g[px*total+offset:px*total+offset+C])
		}
		parts[i] = part
		offset += C
	}
	return parts
}
