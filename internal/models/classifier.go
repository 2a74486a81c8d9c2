package models

import (
	"fmt"

	"github.com/born-ml/mriscan/internal/nn"
	"github.com/born-ml/mriscan/internal/tensor"
)

// HeadKind selects one of the classification heads.
type HeadKind int

// Heads. Every head ends in a linear dense layer producing one logit per
// class.
const (
	// HeadVGG: flatten → batch norm → dense(1024, relu) → dense.
	HeadVGG HeadKind = iota
	// HeadResNet: flatten → batch norm → dense(1024, relu) → batch norm →
	// dropout(0.25) → dense.
	HeadResNet
	// HeadCNN: flatten → dense(1024, relu) → batch norm → dropout(0.25) → dense.
	HeadCNN
)

// Head defaults.
const (
	HeadHidden  = 1024
	DropoutRate = 0.25
)

func newHead(name string, kind HeadKind, base *Backbone, cfg Config, classes int) *nn.Sequential {
	h, w, c := base.OutputShape()
	features := h * w * c
	hidden := cfg.scale(HeadHidden)

	seq := nn.NewSequential(nn.NewFlatten())
	if kind != HeadCNN {
		seq.Add(nn.NewBatchNorm(name+".bn_features", features))
	}
	seq.Add(nn.NewLinear(name+".dense_hidden", features, hidden, cfg.Backend))
	seq.Add(nn.NewReLU())
	if kind != HeadVGG {
		seq.Add(nn.NewBatchNorm(name+".bn_hidden", hidden))
		seq.Add(nn.NewDropout(DropoutRate))
	}
	seq.Add(nn.NewLinear(name+".logits", hidden, classes, cfg.Backend))
	return seq
}

// Classifier is a single-extractor model: augmentation, backbone, head.
//
// The backbone runs in inference mode whenever it is frozen, so a frozen
// backbone's batch norms keep their moving statistics.
type Classifier struct {
	arch     Arch
	augment  *nn.Sequential
	backbone *Backbone
	head     *nn.Sequential

	trainBackbone bool
}

func newClassifier(arch Arch, cfg Config, base *Backbone, head *nn.Sequential) *Classifier {
	return &Classifier{
		arch:     arch,
		augment:  nn.NewAugmentation(cfg.AugmentSeed),
		backbone: base,
		head:     head,
	}
}

// Arch returns the architecture description.
func (c *Classifier) Arch() Arch { return c.arch }

// Backbone returns the feature extractor.
func (c *Classifier) Backbone() *Backbone { return c.backbone }

// Head returns the classification head.
func (c *Classifier) Head() *nn.Sequential { return c.head }

// Forward maps images to logits.
func (c *Classifier) Forward(x *tensor.Tensor, training bool) *tensor.Tensor {
	x = c.augment.Forward(x, training)
	features, trainBackbone := forwardFeatures(c.backbone, x, training)
	if training {
		c.trainBackbone = trainBackbone
	}
	return c.head.Forward(features, training)
}

// Backward propagates through the head and, when it was trained in the
// last forward pass, the backbone. Returns nil.
func (c *Classifier) Backward(grad *tensor.Tensor) *tensor.Tensor {
	grad = c.head.Backward(grad)
	if c.trainBackbone {
		c.backbone.Backward(grad)
	}
	return nil
}

// Parameters returns backbone then head parameters.
func (c *Classifier) Parameters() []*nn.Parameter {
	return append(c.backbone.Parameters(), c.head.Parameters()...)
}

// Buffers returns backbone then head buffers.
func (c *Classifier) Buffers() []*nn.Parameter {
	return append(c.backbone.Buffers(), c.head.Buffers()...)
}

func (c *Classifier) String() string {
	trainable, frozen := nn.CountParameters(c)
	return fmt.Sprintf("Classifier(%s, classes=%d, trainable=%d, non_trainable=%d)",
		c.arch.Kind, len(c.arch.Classes), trainable, frozen)
}
