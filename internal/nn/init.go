package nn

import (
	"math"
	"math/rand"
	"sync"

	"github.com/born-ml/mriscan/internal/tensor"
)

var (
	initMu  sync.Mutex
	initRng = rand.New(rand.NewSource(1)) //nolint:gosec // weight init is not security-critical
)

// SeedInit reseeds the weight initializer so that model construction is
// reproducible.
func SeedInit(seed int64) {
	initMu.Lock()
	defer initMu.Unlock()
	initRng = rand.New(rand.NewSource(seed)) //nolint:gosec // weight init is not security-critical
}

// GlorotUniform initializes weights from U(-limit, limit) with
// limit = sqrt(6 / (fanIn + fanOut)).
func GlorotUniform(fanIn, fanOut int, shape tensor.Shape) *tensor.Tensor {
	limit := math.Sqrt(6.0 / float64(fanIn+fanOut))

	t := tensor.Zeros(shape)
	data := t.Data()

	initMu.Lock()
	defer initMu.Unlock()
	for i := range data {
		data[i] = float32((initRng.Float64()*2.0 - 1.0) * limit)
	}
	return t
}

// Ones creates a tensor filled with ones.
func Ones(shape tensor.Shape) *tensor.Tensor {
	return tensor.Full(shape, 1)
}
