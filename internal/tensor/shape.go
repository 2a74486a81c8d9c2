package tensor

import "fmt"

// Shape represents the dimensions of a tensor.
//
// Image batches use NHWC layout: [batch, height, width, channels].
type Shape []int

// NumElements returns the total number of elements in the tensor.
func (s Shape) NumElements() int {
	if len(s) == 0 {
		return 1 // Scalar has 1 element
	}
	n := 1
	for _, dim := range s {
		n *= dim
	}
	return n
}

// Validate checks if the shape is valid (all dimensions > 0).
func (s Shape) Validate() error {
	for i, dim := range s {
		if dim <= 0 {
			return fmt.Errorf("invalid dimension at index %d: %d (must be > 0)", i, dim)
		}
	}
	return nil
}

// Equal checks if two shapes are equal.
func (s Shape) Equal(other Shape) bool {
	if len(s) != len(other) {
		return false
	}
	for i := range s {
		if s[i] != other[i] {
			return false
		}
	}
	return true
}

// Clone returns a copy of the shape.
func (s Shape) Clone() Shape {
	clone := make(Shape, len(s))
	copy(clone, s)
	return clone
}

// ComputeStrides calculates row-major strides for the shape.
func (s Shape) ComputeStrides() []int {
	strides := make([]int, len(s))
	if len(s) == 0 {
		return strides
	}

	strides[len(s)-1] = 1
	for i := len(s) - 2; i >= 0; i-- {
		strides[i] = strides[i+1] * s[i+1]
	}
	return strides
}

// NHWC splits a 4D image-batch shape into its components.
// Panics if the shape is not 4D.
func (s Shape) NHWC() (n, h, w, c int) {
	if len(s) != 4 {
		panic(fmt.Sprintf("expected 4D shape [N,H,W,C], got %v", s))
	}
	return s[0], s[1], s[2], s[3]
}

// Padding is explicit spatial zero padding on each side of an image.
type Padding struct {
	Top, Bottom, Left, Right int
}

// SamePadding computes the padding that keeps out = ceil(in/stride),
// placing the extra row or column at the bottom/right.
func SamePadding(h, w, kh, kw, stride int) Padding {
	ph := samePad(h, kh, stride)
	pw := samePad(w, kw, stride)
	return Padding{Top: ph / 2, Bottom: ph - ph/2, Left: pw / 2, Right: pw - pw/2}
}

func samePad(in, k, stride int) int {
	out := (in + stride - 1) / stride
	return max((out-1)*stride+k-in, 0)
}

// Uniform returns the same padding on all four sides.
func Uniform(p int) Padding {
	return Padding{Top: p, Bottom: p, Left: p, Right: p}
}

// OutputSize returns the spatial output size of a sliding window
// of size kh x kw moved with the given stride over the padded input.
func (p Padding) OutputSize(h, w, kh, kw, stride int) (int, int) {
	outH := (h+p.Top+p.Bottom-kh)/stride + 1
	outW := (w+p.Left+p.Right-kw)/stride + 1
	return outH, outW
}
