// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package cpu provides the pure Go CPU backend.
//
// Convolutions are lowered to GEMM through im2col and run on gonum's
// BLAS; independent samples of a batch are processed in parallel.
package cpu

import (
	internalcpu "github.com/born-ml/mriscan/internal/backend/cpu"
	"github.com/born-ml/mriscan/tensor"
)

// Backend represents the CPU backend implementation.
type Backend = internalcpu.CPUBackend

// Compile-time check that Backend implements tensor.Backend.
var _ tensor.Backend = (*Backend)(nil)

// New creates a CPU backend using every available core.
//
// Example:
//
//	p, err := inference.Load("trained/MRI_ENSEMBLED.born", cpu.New())
func New() *Backend {
	return internalcpu.New()
}

// NewWithWorkers creates a CPU backend limited to n worker goroutines.
func NewWithWorkers(n int) *Backend {
	return internalcpu.NewWithWorkers(n)
}
