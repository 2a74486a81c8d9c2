package nn

import (
	"github.com/born-ml/mriscan/internal/tensor"
)

// BinarizeFactor scales the per-image mean into the binarization threshold.
const BinarizeFactor = 1.5

// Binarize maps each image to {0, 1}: a pixel becomes 1 when it is strictly
// greater than 1.5 times the mean of that image over all of its pixels and
// channels, else 0.
//
// A uniform image maps to all zeros. For non-negative input fewer than 2/3
// of the pixels can exceed 1.5 times the mean, so a binarized image has mean
// p < 2/3 and threshold 1.5p < 1: binarizing it again returns it unchanged.
type Binarize struct{}

// NewBinarize creates a binarization layer.
func NewBinarize() *Binarize {
	return &Binarize{}
}

// Forward binarizes every sample independently.
func (b *Binarize) Forward(input *tensor.Tensor, _ bool) *tensor.Tensor {
	return BinarizeBatch(input)
}

// BinarizeBatch binarizes every sample of an [N, ...] tensor.
func BinarizeBatch(input *tensor.Tensor) *tensor.Tensor {
	out := tensor.Zeros(input.Shape())
	n := input.Dim(0)
	per := input.NumElements() / n
	in, o := input.Data(), out.Data()
	for s := 0; s < n; s++ {
		img := in[s*per : (s+1)*per]
		var sum float64
		for _, v := range img {
			sum += float64(v)
		}
		threshold := float32(BinarizeFactor * sum / float64(per))
		dst := o[s*per : (s+1)*per]
		for i, v := range img {
			if v > threshold {
				dst[i] = 1
			}
		}
	}
	return out
}

// Backward returns nil: binarization is a non-differentiable preprocessing
// step and nothing upstream of it is trainable.
func (b *Binarize) Backward(*tensor.Tensor) *tensor.Tensor { return nil }

// Parameters returns nil.
func (b *Binarize) Parameters() []*Parameter { return nil }

// Buffers returns nil.
func (b *Binarize) Buffers() []*Parameter { return nil }

func (b *Binarize) String() string { return "Binarize(factor=1.5)" }
