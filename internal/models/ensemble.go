package models

import (
	"fmt"

	"github.com/born-ml/mriscan/internal/nn"
	"github.com/born-ml/mriscan/internal/tensor"
)

// Ensemble hidden width.
const EnsembleHidden = 512

// Ensemble fuses three extractors into one classifier.
//
// The input is augmented once and the same tensor feeds all three
// backbones. Each feature map is batch-normalized; the ResNet features are
// first projected by a 1x1 ReLU convolution to the common depth. The maps
// are concatenated along channels, globally average-pooled and classified
// by dense(512, relu) → batch norm → dropout(0.25) → dense(classes).
type Ensemble struct {
	arch    Arch
	augment *nn.Sequential

	vgg, resnet, cnn *Backbone

	bnVGG      *nn.BatchNorm
	projection *nn.Sequential
	bnCNN      *nn.BatchNorm
	head       *nn.Sequential

	depth int

	// training cache
	trained [3]bool
}

// NewEnsemble wires the three extractors together. The extractors are
// frozen; they are owned by the ensemble from here on.
//
// Returns ErrShapeMismatch if the VGG and CNN feature depths differ or the
// three spatial sizes do not agree.
func NewEnsemble(cfg Config, classes []string, vgg, resnet, cnn *Backbone) (*Ensemble, error) {
	cfg = cfg.withDefaults()
	vh, vw, vc := vgg.OutputShape()
	rh, rw, rc := resnet.OutputShape()
	ch, cw, cc := cnn.OutputShape()
	if vc != cc {
		return nil, fmt.Errorf("%w: %s depth %d, %s depth %d", ErrShapeMismatch, vgg.Name(), vc, cnn.Name(), cc)
	}
	if vh != rh || vh != ch || vw != rw || vw != cw {
		return nil, fmt.Errorf("%w: spatial sizes %dx%d, %dx%d, %dx%d", ErrShapeMismatch, vh, vw, rh, rw, ch, cw)
	}

	nn.Freeze(vgg)
	nn.Freeze(resnet)
	nn.Freeze(cnn)

	const p = KindEnsemble + "."
	hidden := cfg.scale(EnsembleHidden)
	e := &Ensemble{
		arch: Arch{
			Kind:      KindEnsemble,
			InputSize: cfg.InputSize,
			Width:     cfg.Width,
			Classes:   classes,
			Binarize:  cnn.Binarized(),
		},
		augment: nn.NewAugmentation(cfg.AugmentSeed),
		vgg:     vgg,
		resnet:  resnet,
		cnn:     cnn,
		bnVGG:   nn.NewBatchNorm(p+"bn_vgg16", vc),
		projection: nn.NewSequential(
			nn.NewConv2D(p+"resnet50v2_projection", rc, vc, 1, 1, nn.Same, true, cfg.Backend),
			nn.NewReLU(),
			nn.NewBatchNorm(p+"bn_resnet50v2", vc),
		),
		bnCNN: nn.NewBatchNorm(p+"bn_cnn", cc),
		head: nn.NewSequential(
			nn.NewGlobalAvgPool2D(),
			nn.NewLinear(p+"dense_hidden", 3*vc, hidden, cfg.Backend),
			nn.NewReLU(),
			nn.NewBatchNorm(p+"bn_hidden", hidden),
			nn.NewDropout(DropoutRate),
			nn.NewLinear(p+"logits", hidden, len(classes), cfg.Backend),
		),
		depth: vc,
	}
	return e, nil
}

// Arch returns the architecture description.
func (e *Ensemble) Arch() Arch { return e.arch }

// Backbones returns the VGG16, ResNet50V2 and CNN extractors.
func (e *Ensemble) Backbones() (vgg, resnet, cnn *Backbone) {
	return e.vgg, e.resnet, e.cnn
}

// Features returns the fused feature map before pooling, [N, H, W, 3*depth].
// Panics if the branch outputs cannot be concatenated.
func (e *Ensemble) Features(x *tensor.Tensor, training bool) *tensor.Tensor {
	x = e.augment.Forward(x, training)

	fv, tv := forwardFeatures(e.vgg, x, training)
	fr, tr := forwardFeatures(e.resnet, x, training)
	fc, tc := forwardFeatures(e.cnn, x, training)
	if training {
		e.trained = [3]bool{tv, tr, tc}
	}

	a := e.bnVGG.Forward(fv, training)
	b := e.projection.Forward(fr, training)
	c := e.bnCNN.Forward(fc, training)

	fused, err := nn.ConcatChannels(true, a, b, c)
	if err != nil {
		panic(fmt.Sprintf("ensemble: %v", err))
	}
	return fused
}

// Forward maps images to logits.
func (e *Ensemble) Forward(x *tensor.Tensor, training bool) *tensor.Tensor {
	return e.head.Forward(e.Features(x, training), training)
}

// Backward propagates through the fusion layers and any trainable
// extractor. Returns nil.
func (e *Ensemble) Backward(grad *tensor.Tensor) *tensor.Tensor {
	grad = e.head.Backward(grad)
	parts := nn.SplitChannels(grad, e.depth, e.depth, e.depth)

	gv := e.bnVGG.Backward(parts[0])
	gr := e.projection.Backward(parts[1])
	gc := e.bnCNN.Backward(parts[2])

	if e.trained[0] {
		e.vgg.Backward(gv)
	}
	if e.trained[1] {
		e.resnet.Backward(gr)
	}
	if e.trained[2] {
		e.cnn.Backward(gc)
	}
	return nil
}

// Parameters returns extractor parameters followed by the fusion layers.
func (e *Ensemble) Parameters() []*nn.Parameter {
	var params []*nn.Parameter
	for _, m := range e.modules() {
		params = append(params, m.Parameters()...)
	}
	return params
}

// Buffers returns extractor buffers followed by the fusion layers.
func (e *Ensemble) Buffers() []*nn.Parameter {
	var bufs []*nn.Parameter
	for _, m := range e.modules() {
		bufs = append(bufs, m.Buffers()...)
	}
	return bufs
}

func (e *Ensemble) modules() []nn.Module {
	return []nn.Module{e.vgg, e.resnet, e.cnn, e.bnVGG, e.projection, e.bnCNN, e.head}
}

func (e *Ensemble) String() string {
	trainable, frozen := nn.CountParameters(e)
	return fmt.Sprintf("Ensemble(%s + %s + %s, depth=%d, trainable=%d, non_trainable=%d)",
		e.vgg, e.resnet, e.cnn, e.depth, trainable, frozen)
}
