// Package models builds the MRI classifiers: the VGG16, ResNet50V2 and
// custom CNN feature extractors, their classification heads and the
// ensemble that fuses all three.
//
// Every model maps a [N, S, S, 3] batch with values in [0, 1] to [N, 4]
// logits. Softmax is never applied inside a model.
package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/born-ml/mriscan/internal/backend/cpu"
	"github.com/born-ml/mriscan/internal/nn"
	"github.com/born-ml/mriscan/internal/tensor"
)

// Architecture kinds.
const (
	KindVGG16      = "vgg16"
	KindResNet50V2 = "resnet50v2"
	KindCNN        = "cnn"
	KindEnsemble   = "ensemble"
)

// DefaultInputSize is the side of the square model input.
const DefaultInputSize = 256

var (
	// ErrShapeMismatch is returned when feature maps cannot be fused.
	ErrShapeMismatch = errors.New("feature map shape mismatch")

	// ErrUnknownArch is returned by Build for an unrecognized kind.
	ErrUnknownArch = errors.New("unknown architecture")
)

// Config sizes a model. The zero value builds the full-size models.
type Config struct {
	InputSize int            // Input side in pixels (default 256, must be a multiple of 32)
	Width     int            // Divides every channel and hidden-unit count (default 1)
	Backend   tensor.Backend // Compute backend (default CPU)

	// AugmentSeed seeds the augmentation stage. Zero picks a seed from the
	// clock, so augmentation differs between runs.
	AugmentSeed int64
}

func (c Config) withDefaults() Config {
	if c.InputSize <= 0 {
		c.InputSize = DefaultInputSize
	}
	if c.Width <= 0 {
		c.Width = 1
	}
	if c.Backend == nil {
		c.Backend = cpu.New()
	}
	if c.AugmentSeed == 0 {
		c.AugmentSeed = time.Now().UnixNano()
	}
	return c
}

// scale divides a channel count by the width divisor, keeping at least one.
func (c Config) scale(n int) int {
	return max(1, n/c.Width)
}

// Arch describes a model well enough to rebuild it before loading weights.
// It is stored in every artifact header.
type Arch struct {
	Kind      string   `json:"kind"`
	InputSize int      `json:"input_size"`
	Width     int      `json:"width"`
	Classes   []string `json:"classes"`
	Binarize  bool     `json:"binarize,omitempty"`
}

// Validate checks the fields Build relies on.
func (a Arch) Validate() error {
	switch a.Kind {
	case KindVGG16, KindResNet50V2, KindCNN, KindEnsemble:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownArch, a.Kind)
	}
	if a.InputSize <= 0 || a.InputSize%32 != 0 {
		return fmt.Errorf("input size %d is not a positive multiple of 32", a.InputSize)
	}
	if len(a.Classes) < 2 {
		return fmt.Errorf("need at least 2 classes, got %d", len(a.Classes))
	}
	return nil
}

// Model is a trainable classifier.
type Model interface {
	nn.Module

	// Arch returns the architecture the model was built from.
	Arch() Arch
}

// BuildBackbone constructs the feature extractor of a single-extractor
// architecture.
func BuildBackbone(arch Arch, backend tensor.Backend) (*Backbone, error) {
	if err := arch.Validate(); err != nil {
		return nil, err
	}
	cfg := Config{InputSize: arch.InputSize, Width: arch.Width, Backend: backend}
	switch arch.Kind {
	case KindVGG16:
		return NewVGG16(cfg), nil
	case KindResNet50V2:
		return NewResNet50V2(cfg), nil
	case KindCNN:
		return NewCNN(cfg, arch.Binarize), nil
	default:
		return nil, fmt.Errorf("%w: %s has no single backbone", ErrUnknownArch, arch.Kind)
	}
}

// Build constructs an untrained model for arch. Ensembles are built with
// fresh, frozen extractors whose weights are expected to be loaded from
// the ensemble's own artifact.
func Build(arch Arch, backend tensor.Backend) (Model, error) {
	if err := arch.Validate(); err != nil {
		return nil, err
	}
	cfg := Config{InputSize: arch.InputSize, Width: arch.Width, Backend: backend}

	switch arch.Kind {
	case KindVGG16:
		return NewVGG16Classifier(cfg, arch.Classes), nil
	case KindResNet50V2:
		return NewResNet50V2Classifier(cfg, arch.Classes), nil
	case KindCNN:
		return NewCNNClassifier(cfg, arch.Classes, arch.Binarize), nil
	default:
		vgg := NewVGG16(cfg)
		resnet := NewResNet50V2(cfg)
		cnn := NewCNN(cfg, arch.Binarize)
		e, err := NewEnsemble(cfg, arch.Classes, vgg, resnet, cnn)
		if err != nil {
			return nil, err
		}
		return e, nil
	}
}
