package models

import (
	"fmt"
	"strings"

	"github.com/born-ml/mriscan/internal/nn"
	"github.com/born-ml/mriscan/internal/serialization"
	"github.com/born-ml/mriscan/internal/tensor"
)

// Backbone is a feature extractor mapping [N, S, S, 3] images to a
// [N, H, W, C] feature map.
//
// All parameter names of a backbone start with its name and a dot, so
// several backbones can live in one state dict.
type Backbone struct {
	*nn.Sequential
	name      string
	h, w, c   int
	binarized bool
}

func newBackbone(name string, seq *nn.Sequential, h, w, c int) *Backbone {
	return &Backbone{Sequential: seq, name: name, h: h, w: w, c: c}
}

// Binarized reports whether the backbone thresholds its input first.
func (b *Backbone) Binarized() bool { return b.binarized }

// Name returns the backbone kind, e.g. "vgg16".
func (b *Backbone) Name() string { return b.name }

// OutputShape returns the feature map height, width and depth.
func (b *Backbone) OutputShape() (h, w, c int) { return b.h, b.w, b.c }

func (b *Backbone) String() string {
	return fmt.Sprintf("Backbone(%s, out=%dx%dx%d)", b.name, b.h, b.w, b.c)
}

// LoadPretrained loads backbone weights from a SafeTensors file.
//
// Tensor names may be stored with or without the "<name>." prefix. Every
// backbone parameter must be present; extra tensors are ignored.
func (b *Backbone) LoadPretrained(path string) error {
	raw, _, err := serialization.ReadSafeTensors(path)
	if err != nil {
		return fmt.Errorf("load pretrained %s: %w", b.name, err)
	}
	prefix := b.name + "."
	dict := make(map[string]*tensor.Tensor, len(raw))
	for name, t := range raw {
		if !strings.HasPrefix(name, prefix) {
			name = prefix + name
		}
		dict[name] = t
	}
	if err := nn.LoadStateDict(b, dict, false); err != nil {
		return fmt.Errorf("load pretrained %s: %w", b.name, err)
	}
	return nil
}

// forwardFeatures runs the backbone, in training mode only when it has
// trainable parameters. It reports whether a backward pass is needed.
func forwardFeatures(b *Backbone, x *tensor.Tensor, training bool) (*tensor.Tensor, bool) {
	train := training && !nn.IsFrozen(b)
	return b.Forward(x, train), train
}
