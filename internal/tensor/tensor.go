// Package tensor provides the dense float32 tensor used throughout mriscan.
//
// Tensors are contiguous, row-major and untyped beyond float32. Image batches
// use NHWC layout so that the channel dimension is innermost, which lets
// convolutions run as a single im2col matrix multiply per sample.
package tensor

import (
	"fmt"
	"math"
	"strings"
)

// Tensor is a contiguous row-major float32 array with a shape.
type Tensor struct {
	shape   Shape
	strides []int
	data    []float32
}

// Zeros creates a tensor filled with zeros.
// Panics if the shape is invalid.
func Zeros(shape Shape) *Tensor {
	if err := shape.Validate(); err != nil {
		panic(fmt.Sprintf("tensor.Zeros: %v", err))
	}
	return &Tensor{
		shape:   shape.Clone(),
		strides: shape.ComputeStrides(),
		data:    make([]float32, shape.NumElements()),
	}
}

// Full creates a tensor filled with value.
func Full(shape Shape, value float32) *Tensor {
	t := Zeros(shape)
	t.Fill(value)
	return t
}

// FromSlice creates a tensor from a Go slice.
// The slice is copied into the tensor's memory.
func FromSlice(data []float32, shape Shape) (*Tensor, error) {
	if err := shape.Validate(); err != nil {
		return nil, err
	}
	if shape.NumElements() != len(data) {
		return nil, fmt.Errorf("shape %v requires %d elements, but got %d", shape, shape.NumElements(), len(data))
	}
	t := Zeros(shape)
	copy(t.data, data)
	return t, nil
}

// MustFromSlice is like FromSlice but panics on error.
func MustFromSlice(data []float32, shape Shape) *Tensor {
	t, err := FromSlice(data, shape)
	if err != nil {
		panic(err)
	}
	return t
}

// Shape returns the tensor's shape.
func (t *Tensor) Shape() Shape {
	return t.shape
}

// Dim returns the size of dimension i. Negative indices count from the end.
func (t *Tensor) Dim(i int) int {
	if i < 0 {
		i += len(t.shape)
	}
	return t.shape[i]
}

// NumElements returns the total number of elements.
func (t *Tensor) NumElements() int {
	return len(t.data)
}

// Data returns the underlying storage. Writes are visible to the tensor.
func (t *Tensor) Data() []float32 {
	return t.data
}

// Reshape returns a tensor sharing storage with t under a new shape.
// Panics if the element count differs.
func (t *Tensor) Reshape(shape ...int) *Tensor {
	s := Shape(shape)
	if s.NumElements() != len(t.data) {
		panic(fmt.Sprintf("tensor.Reshape: cannot reshape %v into %v", t.shape, s))
	}
	return &Tensor{shape: s.Clone(), strides: s.ComputeStrides(), data: t.data}
}

// Clone returns a deep copy of the tensor.
func (t *Tensor) Clone() *Tensor {
	c := Zeros(t.shape)
	copy(c.data, t.data)
	return c
}

// CopyFrom copies the values of src into t. Shapes must match.
func (t *Tensor) CopyFrom(src *Tensor) error {
	if !t.shape.Equal(src.shape) {
		return fmt.Errorf("shape mismatch: %v vs %v", t.shape, src.shape)
	}
	copy(t.data, src.data)
	return nil
}

// Fill sets every element to value.
func (t *Tensor) Fill(value float32) {
	for i := range t.data {
		t.data[i] = value
	}
}

// At returns the element at the given multi-dimensional index.
func (t *Tensor) At(idx ...int) float32 {
	return t.data[t.offset(idx)]
}

// Set writes value at the given multi-dimensional index.
func (t *Tensor) Set(value float32, idx ...int) {
	t.data[t.offset(idx)] = value
}

func (t *Tensor) offset(idx []int) int {
	if len(idx) != len(t.shape) {
		panic(fmt.Sprintf("index rank %d does not match tensor rank %d", len(idx), len(t.shape)))
	}
	off := 0
	for i, v := range idx {
		if v < 0 || v >= t.shape[i] {
			panic(fmt.Sprintf("index %d out of range for dimension %d of size %d", v, i, t.shape[i]))
		}
		off += v * t.strides[i]
	}
	return off
}

// AddInPlace adds other element-wise into t. Shapes must have equal size.
func (t *Tensor) AddInPlace(other *Tensor) {
	if len(t.data) != len(other.data) {
		panic(fmt.Sprintf("tensor.AddInPlace: size mismatch %v vs %v", t.shape, other.shape))
	}
	for i, v := range other.data {
		t.data[i] += v
	}
}

// Scale multiplies every element by s in place.
func (t *Tensor) Scale(s float32) {
	for i := range t.data {
		t.data[i] *= s
	}
}

// Slice returns a tensor sharing storage with rows [start, end) of the
// leading dimension.
func (t *Tensor) Slice(start, end int) *Tensor {
	if start < 0 || end > t.shape[0] || start >= end {
		panic(fmt.Sprintf("tensor.Slice: invalid range [%d,%d) for leading dim %d", start, end, t.shape[0]))
	}
	row := len(t.data) / t.shape[0]
	s := t.shape.Clone()
	s[0] = end - start
	return &Tensor{shape: s, strides: s.ComputeStrides(), data: t.data[start*row : end*row]}
}

// HasNonFinite reports whether the tensor contains a NaN or infinity.
func (t *Tensor) HasNonFinite() bool {
	for _, v := range t.data {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return true
		}
	}
	return false
}

// Stack concatenates same-shaped tensors along a new leading dimension.
func Stack(items []*Tensor) (*Tensor, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("tensor.Stack: no tensors")
	}
	inner := items[0].shape
	out := Zeros(append(Shape{len(items)}, inner...))
	n := inner.NumElements()
	for i, it := range items {
		if !it.shape.Equal(inner) {
			return nil, fmt.Errorf("tensor.Stack: item %d has shape %v, want %v", i, it.shape, inner)
		}
		copy(out.data[i*n:(i+1)*n], it.data)
	}
	return out, nil
}

// String returns a short description of the tensor.
func (t *Tensor) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Tensor%v[", []int(t.shape))
	for i, v := range t.data {
		if i == 6 {
			b.WriteString(" ...")
			break
		}
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%.4g", v)
	}
	b.WriteByte(']')
	return b.String()
}
