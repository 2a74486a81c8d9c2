package models

import (
	"fmt"

	"github.com/born-ml/mriscan/internal/nn"
)

var cnnStages = []int{32, 64, 128, 256, 512}

// NewCNN builds the custom convolutional extractor: five stages of two 3x3
// same-padded ReLU convolutions, 2x2 max pooling and batch norm. With
// binarize set, the input is first thresholded by nn.Binarize.
//
// A 256x256 input gives an 8x8x512 feature map.
func NewCNN(cfg Config, binarize bool) *Backbone {
	cfg = cfg.withDefaults()
	seq := nn.NewSequential()
	if binarize {
		seq.Add(nn.NewBinarize())
	}
	in := 3
	for si, width := range cnnStages {
		out := cfg.scale(width)
		for ci := 1; ci <= 2; ci++ {
			name := fmt.Sprintf("%s.stage%d_conv%d", KindCNN, si+1, ci)
			seq.Add(nn.NewConv2D(name, in, out, 3, 1, nn.Same, true, cfg.Backend))
			seq.Add(nn.NewReLU())
			in = out
		}
		seq.Add(nn.NewMaxPool2D(2, 2, cfg.Backend))
		seq.Add(nn.NewBatchNorm(fmt.Sprintf("%s.stage%d_bn", KindCNN, si+1), out))
	}
	side := cfg.InputSize / 32
	b := newBackbone(KindCNN, seq, side, side, in)
	b.binarized = binarize
	return b
}

// NewCNNClassifier builds the custom CNN classifier, trained end to end:
// augmentation, the CNN extractor and the head flatten → dense(1024, relu)
// → batch norm → dropout(0.25) → dense(classes).
func NewCNNClassifier(cfg Config, classes []string, binarize bool) *Classifier {
	cfg = cfg.withDefaults()
	base := NewCNN(cfg, binarize)
	head := newHead("cnn_head", HeadCNN, base, cfg, len(classes))
	return newClassifier(Arch{
		Kind:      KindCNN,
		InputSize: cfg.InputSize,
		Width:     cfg.Width,
		Classes:   classes,
		Binarize:  binarize,
	}, cfg, base, head)
}
