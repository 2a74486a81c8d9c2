// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package tensor provides the public tensor types used by the mriscan
// models.
//
// Tensors are dense float32 arrays in row-major order. Image batches are
// laid out NHWC: [batch, height, width, channels].
//
// Example:
//
//	x := tensor.Zeros(tensor.Shape{1, 256, 256, 3})
//	x.Set(1, 0, 128, 128, 0)
package tensor

import (
	"github.com/born-ml/mriscan/internal/tensor"
)

// Tensor is a dense float32 tensor.
type Tensor = tensor.Tensor

// Shape represents the dimensions of a tensor.
// Example: Shape{2, 3, 4} represents a 3D tensor with dimensions 2×3×4.
type Shape = tensor.Shape

// Padding is the explicit padding of a 2D convolution.
type Padding = tensor.Padding

// Backend computes the heavy tensor operations (matrix multiply,
// convolution, pooling). See backend/cpu for the default implementation.
type Backend = tensor.Backend

// Zeros creates a zero-filled tensor.
func Zeros(shape Shape) *Tensor {
	return tensor.Zeros(shape)
}

// Full creates a tensor with every element set to value.
func Full(shape Shape, value float32) *Tensor {
	return tensor.Full(shape, value)
}

// FromSlice copies data into a tensor of the given shape.
func FromSlice(data []float32, shape Shape) (*Tensor, error) {
	return tensor.FromSlice(data, shape)
}

// Stack joins equally shaped tensors along a new leading axis.
func Stack(items []*Tensor) (*Tensor, error) {
	return tensor.Stack(items)
}
