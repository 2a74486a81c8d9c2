package nn

import (
	"fmt"
	"math"
	"math/rand"
	"sync"

	"github.com/born-ml/mriscan/internal/parallel"
	"github.com/born-ml/mriscan/internal/tensor"
)

// Augmentation defaults.
const (
	DefaultRotationFactor = 0.2 // fraction of a half-turn
	DefaultZoomFactor     = 0.1
	DefaultContrastLower  = 0.8
	DefaultContrastUpper  = 1.2
)

// NewAugmentation returns the training-time augmentation pipeline:
// random rotation, random zoom and random contrast. Every stage is the
// identity at inference.
func NewAugmentation(seed int64) *Sequential {
	src := NewSource(seed)
	return NewSequential(
		NewRandomRotation(DefaultRotationFactor, src),
		NewRandomZoom(DefaultZoomFactor, DefaultZoomFactor, src),
		NewRandomContrast(DefaultContrastLower, DefaultContrastUpper, src),
	)
}

// Source is a seeded random generator that several augmentation layers can
// share.
type Source struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewSource creates a generator seeded with seed.
func NewSource(seed int64) *Source {
	return &Source{rng: rand.New(rand.NewSource(seed))} //nolint:gosec // augmentation randomness
}

func (s *Source) uniform(lo, hi float64) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return lo + (hi-lo)*s.rng.Float64()
}

// RandomRotation rotates each training image by an angle drawn uniformly
// from [-factor*pi, factor*pi] around the image center, with bilinear
// sampling and reflected borders.
type RandomRotation struct {
	factor float64
	src    *Source
}

// NewRandomRotation creates a random rotation layer. A nil source is
// replaced by one seeded with 0.
func NewRandomRotation(factor float64, src *Source) *RandomRotation {
	if src == nil {
		src = NewSource(0)
	}
	return &RandomRotation{factor: factor, src: src}
}

// Forward rotates every sample in training mode.
func (r *RandomRotation) Forward(input *tensor.Tensor, training bool) *tensor.Tensor {
	if !training || r.factor == 0 {
		return input
	}
	N := input.Dim(0)
	transforms := make([]affine, N)
	for n := range transforms {
		theta := r.src.uniform(-r.factor*math.Pi, r.factor*math.Pi)
		cos, sin := math.Cos(theta), math.Sin(theta)
		transforms[n] = affine{a: cos, b: -sin, c: sin, d: cos}
	}
	return resampleBatch(input, transforms)
}

// Backward returns nil.
func (r *RandomRotation) Backward(*tensor.Tensor) *tensor.Tensor { return nil }

// Parameters returns nil.
func (r *RandomRotation) Parameters() []*Parameter { return nil }

// Buffers returns nil.
func (r *RandomRotation) Buffers() []*Parameter { return nil }

func (r *RandomRotation) String() string {
	return fmt.Sprintf("RandomRotation(factor=%g)", r.factor)
}

// RandomZoom scales height and width independently by factors drawn from
// [1-heightFactor, 1+heightFactor] and [1-widthFactor, 1+widthFactor].
type RandomZoom struct {
	heightFactor float64
	widthFactor  float64
	src          *Source
}

// NewRandomZoom creates a random zoom layer.
func NewRandomZoom(heightFactor, widthFactor float64, src *Source) *RandomZoom {
	if src == nil {
		src = NewSource(0)
	}
	return &RandomZoom{heightFactor: heightFactor, widthFactor: widthFactor, src: src}
}

// Forward zooms every sample in training mode.
func (z *RandomZoom) Forward(input *tensor.Tensor, training bool) *tensor.Tensor {
	if !training || (z.heightFactor == 0 && z.widthFactor == 0) {
		return input
	}
	N := input.Dim(0)
	transforms := make([]affine, N)
	for n := range transforms {
		zy := z.src.uniform(1-z.heightFactor, 1+z.heightFactor)
		zx := z.src.uniform(1-z.widthFactor, 1+z.widthFactor)
		transforms[n] = affine{a: zy, d: zx}
	}
	return resampleBatch(input, transforms)
}

// Backward returns nil.
func (z *RandomZoom) Backward(*tensor.Tensor) *tensor.Tensor { return nil }

// Parameters returns nil.
func (z *RandomZoom) Parameters() []*Parameter { return nil }

// Buffers returns nil.
func (z *RandomZoom) Buffers() []*Parameter { return nil }

func (z *RandomZoom) String() string {
	return fmt.Sprintf("RandomZoom(height=%g, width=%g)", z.heightFactor, z.widthFactor)
}

// RandomContrast scales each channel's deviation from its spatial mean by a
// per-image factor drawn from [lower, upper] and clips the result to [0, 1].
type RandomContrast struct {
	lower, upper float64
	src          *Source
}

// NewRandomContrast creates a random contrast layer.
func NewRandomContrast(lower, upper float64, src *Source) *RandomContrast {
	if src == nil {
		src = NewSource(0)
	}
	return &RandomContrast{lower: lower, upper: upper, src: src}
}

// Forward adjusts contrast in training mode.
func (r *RandomContrast) Forward(input *tensor.Tensor, training bool) *tensor.Tensor {
	if !training {
		return input
	}
	N, H, W, C := input.Shape().NHWC()
	out := tensor.Zeros(input.Shape())
	in, o := input.Data(), out.Data()
	per := H * W * C
	for n := 0; n < N; n++ {
		factor := float32(r.src.uniform(r.lower, r.upper))
		img, dst := in[n*per:(n+1)*per], o[n*per:(n+1)*per]
		mean := make([]float64, C)
		for i := 0; i < per; i += C {
			for c := 0; c < C; c++ {
				mean[c] += float64(img[i+c])
			}
		}
		for c := range mean {
			mean[c] /= float64(H * W)
		}
		for i := 0; i < per; i += C {
			for c := 0; c < C; c++ {
				m := float32(mean[c])
				dst[i+c] = clamp01((img[i+c]-m)*factor + m)
			}
		}
	}
	return out
}

// Backward returns nil.
func (r *RandomContrast) Backward(*tensor.Tensor) *tensor.Tensor { return nil }

// Parameters returns nil.
func (r *RandomContrast) Parameters() []*Parameter { return nil }

// Buffers returns nil.
func (r *RandomContrast) Buffers() []*Parameter { return nil }

func (r *RandomContrast) String() string {
	return fmt.Sprintf("RandomContrast(lower=%g, upper=%g)", r.lower, r.upper)
}

func clamp01(v float32) float32 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// affine maps an output offset from the image center to an input offset:
//
//	[dy_in]   [a b] [dy_out]
//	[dx_in] = [c d] [dx_out]
type affine struct {
	a, b, c, d float64
}

func resampleBatch(input *tensor.Tensor, transforms []affine) *tensor.Tensor {
	N, H, W, C := input.Shape().NHWC()
	out := tensor.Zeros(input.Shape())
	per := H * W * C
	in, o := input.Data(), out.Data()
	parallel.For(N, func(n int) {
		resample(o[n*per:(n+1)*per], in[n*per:(n+1)*per], H, W, C, transforms[n])
	}, parallel.DefaultConfig())
	return out
}

// resample fills dst by bilinear sampling src at the inverse-transformed
// position of every output pixel. Positions outside the image are
// reflected back inside (d c b a | a b c d | d c b a).
func resample(dst, src []float32, H, W, C int, t affine) {
	cy, cx := float64(H-1)/2, float64(W-1)/2
	for y := 0; y < H; y++ {
		dy := float64(y) - cy
		for x := 0; x < W; x++ {
			dx := float64(x) - cx
			sy := t.a*dy + t.b*dx + cy
			sx := t.c*dy + t.d*dx + cx

			y0, x0 := math.Floor(sy), math.Floor(sx)
			fy, fx := float32(sy-y0), float32(sx-x0)
			iy0, ix0 := reflect(int(y0), H), reflect(int(x0), W)
			iy1, ix1 := reflect(int(y0)+1, H), reflect(int(x0)+1, W)

			p00 := src[(iy0*W+ix0)*C:]
			p01 := src[(iy0*W+ix1)*C:]
			p10 := src[(iy1*W+ix0)*C:]
			p11 := src[(iy1*W+ix1)*C:]
			out := dst[(y*W+x)*C:]
			for c := 0; c < C; c++ {
				top := p00[c]*(1-fx) + p01[c]*fx
				bottom := p10[c]*(1-fx) + p11[c]*fx
				out[c] = top*(1-fy) + bottom*fy
			}
		}
	}
}

// reflect folds index i into [0, n) by mirroring about the edges, repeating
// the edge pixel.
func reflect(i, n int) int {
	if n == 1 {
		return 0
	}
	period := 2 * n
	i %= period
	if i < 0 {
		i += period
	}
	if i >= n {
		i = period - 1 - i
	}
	return i
}
