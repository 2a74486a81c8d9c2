// Package inference turns images into class probabilities with a trained
// model.
//
// A Predictor is loaded once and never mutated afterwards; its methods are
// safe for concurrent use.
package inference

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"
	"slices"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/born-ml/mriscan/internal/artifact"
	"github.com/born-ml/mriscan/internal/models"
	"github.com/born-ml/mriscan/internal/nn"
	"github.com/born-ml/mriscan/internal/tensor"
	"github.com/born-ml/mriscan/internal/vision"
)

var (
	// ErrModelNotLoaded is returned when no model is available.
	ErrModelNotLoaded = errors.New("model not loaded")

	// ErrInvalidImage is returned when the input cannot be decoded or does
	// not have 3 channels after resizing.
	ErrInvalidImage = errors.New("invalid image")
)

// Decimals is the number of decimal places probabilities are rounded to.
const Decimals = 4

// PredictionResult is the outcome of one prediction.
type PredictionResult struct {
	PredictedClass string `json:"predicted_class"`

	// Probabilities maps every class, in model class order, to its
	// probability. The values sum to 1.
	Probabilities *orderedmap.OrderedMap[string, float64] `json:"probabilities"`
}

// Probability returns the probability of class, or 0.
func (r *PredictionResult) Probability(class string) float64 {
	v, _ := r.Probabilities.Get(class)
	return v
}

// Map returns the probabilities as a plain map.
func (r *PredictionResult) Map() map[string]float64 {
	out := make(map[string]float64, r.Probabilities.Len())
	for pair := r.Probabilities.Oldest(); pair != nil; pair = pair.Next() {
		out[pair.Key] = pair.Value
	}
	return out
}

// Predictor runs a loaded model in inference mode.
type Predictor struct {
	model   models.Model
	classes []string
	size    int
}

// New wraps an already loaded model.
func New(m models.Model) (*Predictor, error) {
	if m == nil {
		return nil, ErrModelNotLoaded
	}
	arch := m.Arch()
	return &Predictor{model: m, classes: slices.Clone(arch.Classes), size: arch.InputSize}, nil
}

// Load reads the model artifact at path. A missing file yields
// ErrModelNotLoaded.
func Load(path string, backend tensor.Backend) (*Predictor, error) {
	m, err := artifact.Load(path, backend)
	if errors.Is(err, artifact.ErrArtifactMissing) {
		return nil, fmt.Errorf("%w: %w", ErrModelNotLoaded, err)
	}
	if err != nil {
		return nil, err
	}
	return New(m)
}

// Classes returns the class order of the model.
func (p *Predictor) Classes() []string { return slices.Clone(p.classes) }

// InputSize returns the side of the square model input.
func (p *Predictor) InputSize() int { return p.size }

// Arch returns the architecture of the loaded model.
func (p *Predictor) Arch() models.Arch { return p.model.Arch() }

// Predict decodes an encoded image (JPEG, PNG, WebP, ...) and classifies it.
func (p *Predictor) Predict(ctx context.Context, data []byte) (*PredictionResult, error) {
	if p == nil || p.model == nil {
		return nil, ErrModelNotLoaded
	}
	img, _, err := vision.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidImage, err)
	}
	return p.PredictImage(ctx, img)
}

// PredictImage resizes img to the model input and classifies it.
func (p *Predictor) PredictImage(ctx context.Context, img image.Image) (*PredictionResult, error) {
	if p == nil || p.model == nil {
		return nil, ErrModelNotLoaded
	}
	if img == nil || img.Bounds().Empty() {
		return nil, fmt.Errorf("%w: empty image", ErrInvalidImage)
	}
	return p.PredictTensor(ctx, vision.ToTensor(vision.ResizeExact(img, p.size)))
}

// PredictTensor classifies an [S, S, 3] tensor with values in [0, 1].
func (p *Predictor) PredictTensor(ctx context.Context, x *tensor.Tensor) (*PredictionResult, error) {
	if p == nil || p.model == nil {
		return nil, ErrModelNotLoaded
	}
	shape := x.Shape()
	if len(shape) != 3 || shape[2] != vision.Channels {
		return nil, fmt.Errorf("%w: shape %v, want [H, W, %d]", ErrInvalidImage, shape, vision.Channels)
	}
	if shape[0] != p.size || shape[1] != p.size {
		return nil, fmt.Errorf("%w: size %dx%d, want %dx%d", ErrInvalidImage, shape[0], shape[1], p.size, p.size)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	logits := p.model.Forward(x.Reshape(1, p.size, p.size, vision.Channels), false)
	if logits.HasNonFinite() {
		return nil, fmt.Errorf("model produced non-finite logits")
	}
	probs := nn.Softmax(logits).Data()
	if len(probs) != len(p.classes) {
		return nil, fmt.Errorf("model produced %d outputs for %d classes", len(probs), len(p.classes))
	}

	rounded := Round(probs, Decimals)
	result := &PredictionResult{
		PredictedClass: p.classes[nn.Argmax(probs)],
		Probabilities:  orderedmap.New[string, float64](),
	}
	for i, c := range p.classes {
		result.Probabilities.Set(c, rounded[i])
	}
	return result, nil
}

// Round rounds probabilities to the given number of decimals with the
// largest remainder method, so the rounded values still sum to 1 and keep
// the order of the inputs.
func Round(probs []float32, decimals int) []float64 {
	scale := math.Pow10(decimals)
	units := make([]int64, len(probs))
	frac := make([]float64, len(probs))
	var total int64
	for i, p := range probs {
		v := float64(p) * scale
		units[i] = int64(math.Floor(v))
		frac[i] = v - float64(units[i])
		total += units[i]
	}

	order := make([]int, len(probs))
	for i := range order {
		order[i] = i
	}
	slices.SortStableFunc(order, func(a, b int) int {
		switch {
		case frac[a] > frac[b]:
			return -1
		case frac[a] < frac[b]:
			return 1
		}
		return 0
	})
	missing := int64(math.Round(scale)) - total
	for k := 0; missing > 0 && len(order) > 0; k++ {
		units[order[k%len(order)]]++
		missing--
	}

	out := make([]float64, len(probs))
	for i, u := range units {
		out[i] = float64(u) / scale
	}
	return out
}
