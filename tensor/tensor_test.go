// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package tensor_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/mriscan/tensor"
)

func TestPublicConstructors(t *testing.T) {
	x := tensor.Zeros(tensor.Shape{2, 3})
	assert.Equal(t, 6, x.NumElements())

	y := tensor.Full(tensor.Shape{2, 3}, 0.5)
	x.AddInPlace(y)
	assert.InDelta(t, 0.5, x.At(1, 2), 1e-7)

	_, err := tensor.FromSlice([]float32{1, 2, 3}, tensor.Shape{2, 2})
	assert.Error(t, err)

	batch, err := tensor.Stack([]*tensor.Tensor{x, y})
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{2, 2, 3}, batch.Shape())
}
