package dataset

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/born-ml/mriscan/internal/nn"
	"github.com/born-ml/mriscan/internal/parallel"
	"github.com/born-ml/mriscan/internal/tensor"
	"github.com/born-ml/mriscan/internal/vision"
)

// Split is an ordered, batchable subset of a Dataset.
//
// A Split is safe for concurrent reads; batches are decoded on demand.
type Split struct {
	name    string
	samples []Sample
	classes int
	cfg     Config
	seed    int64
	shuffle bool

	load func(path string, size int) (*tensor.Tensor, error)
}

func loadSample(path string, size int) (*tensor.Tensor, error) {
	return vision.LoadPadded(path, size)
}

// Name returns "training", "validation" or "all".
func (s *Split) Name() string { return s.name }

// Len returns the number of samples.
func (s *Split) Len() int { return len(s.samples) }

// Samples returns the samples in split order (before per-epoch shuffling).
func (s *Split) Samples() []Sample {
	out := make([]Sample, len(s.samples))
	copy(out, s.samples)
	return out
}

// NumBatches returns the number of batches per epoch; the last may be short.
func (s *Split) NumBatches() int {
	return (len(s.samples) + s.cfg.BatchSize - 1) / s.cfg.BatchSize
}

// Order returns the sample order used during the given epoch.
func (s *Split) Order(epoch int) []int {
	order := make([]int, len(s.samples))
	for i := range order {
		order[i] = i
	}
	if s.shuffle {
		rng := rand.New(rand.NewSource(s.seed + int64(epoch) + 1))
		rng.Shuffle(len(order), func(i, j int) {
			order[i], order[j] = order[j], order[i]
		})
	}
	return order
}

// Batch decodes batch i of the given epoch.
//
// x is [B, S, S, 3] with values in [0, 1]; y is the [B, classes] one-hot
// label tensor. Images are decoded concurrently.
func (s *Split) Batch(ctx context.Context, epoch, i int) (x, y *tensor.Tensor, err error) {
	return s.batch(ctx, s.Order(epoch), i)
}

func (s *Split) batch(ctx context.Context, order []int, i int) (x, y *tensor.Tensor, err error) {
	if i < 0 || i >= s.NumBatches() {
		return nil, nil, fmt.Errorf("batch %d out of range [0, %d)", i, s.NumBatches())
	}
	start := i * s.cfg.BatchSize
	end := min(start+s.cfg.BatchSize, len(order))
	idx := order[start:end]

	size := s.cfg.ImageSize
	x = tensor.Zeros(tensor.Shape{len(idx), size, size, vision.Channels})
	labels := make([]int, len(idx))
	per := size * size * vision.Channels

	cfg := parallel.DefaultConfig().WithWorkers(s.cfg.Workers)
	err = parallel.ForErr(ctx, len(idx), func(_ context.Context, k int) error {
		sample := s.samples[idx[k]]
		img, err := s.load(sample.Path, size)
		if err != nil {
			return err
		}
		copy(x.Data()[k*per:(k+1)*per], img.Data())
		labels[k] = sample.Label
		return nil
	}, cfg)
	if err != nil {
		return nil, nil, err
	}
	return x, nn.OneHot(labels, s.classes), nil
}

// Each calls fn for every batch of the epoch in order, stopping at the
// first error.
func (s *Split) Each(ctx context.Context, epoch int, fn func(x, y *tensor.Tensor) error) error {
	order := s.Order(epoch)
	for i := 0; i < s.NumBatches(); i++ {
		x, y, err := s.batch(ctx, order, i)
		if err != nil {
			return err
		}
		if err := fn(x, y); err != nil {
			return err
		}
	}
	return nil
}
