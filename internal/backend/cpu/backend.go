// Package cpu implements the CPU backend on top of gonum's BLAS.
package cpu

import (
	"fmt"

	"github.com/born-ml/mriscan/internal/parallel"
	"github.com/born-ml/mriscan/internal/tensor"
	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
)

// CPUBackend implements tensor.Backend with per-sample parallelism.
type CPUBackend struct {
	par parallel.Config
}

// Compile-time check that CPUBackend implements tensor.Backend.
var _ tensor.Backend = (*CPUBackend)(nil)

// New creates a new CPU backend using all available cores.
func New() *CPUBackend {
	return &CPUBackend{par: parallel.DefaultConfig()}
}

// NewWithWorkers creates a CPU backend limited to n concurrent workers.
// n <= 0 uses all available cores.
func NewWithWorkers(n int) *CPUBackend {
	return &CPUBackend{par: parallel.DefaultConfig().WithWorkers(n)}
}

// Name returns the backend name.
func (cpu *CPUBackend) Name() string {
	return "CPU"
}

// MatMul computes op(a) @ op(b) for 2D tensors.
func (cpu *CPUBackend) MatMul(a, b *tensor.Tensor, transA, transB bool) *tensor.Tensor {
	as, bs := a.Shape(), b.Shape()
	if len(as) != 2 || len(bs) != 2 {
		panic(fmt.Sprintf("matmul: expected 2D operands, got %v and %v", as, bs))
	}

	m, k := as[0], as[1]
	if transA {
		m, k = k, m
	}
	kb, n := bs[0], bs[1]
	if transB {
		kb, n = n, kb
	}
	if k != kb {
		panic(fmt.Sprintf("matmul: inner dimensions mismatch: %v (trans=%v) @ %v (trans=%v)", as, transA, bs, transB))
	}

	out := tensor.Zeros(tensor.Shape{m, n})
	gemm(transA, transB, m, n, k, a.Data(), as[1], b.Data(), bs[1], 0, out.Data(), n)
	return out
}

// gemm computes c = op(a) @ op(b) + beta*c on row-major storage.
func gemm(transA, transB bool, m, n, k int, a []float32, lda int, b []float32, ldb int, beta float32, c []float32, ldc int) {
	tA, tB := blas.NoTrans, blas.NoTrans
	if transA {
		tA = blas.Trans
	}
	if transB {
		tB = blas.Trans
	}
	blas32.Implementation().Sgemm(tA, tB, m, n, k, 1, a, lda, b, ldb, beta, c, ldc)
}
