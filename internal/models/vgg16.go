package models

import (
	"fmt"

	"github.com/born-ml/mriscan/internal/nn"
)

var vgg16Blocks = [][]int{
	{64, 64},
	{128, 128},
	{256, 256, 256},
	{512, 512, 512},
	{512, 512, 512},
}

// NewVGG16 builds the VGG16 convolutional base without its top layers:
// five blocks of 3x3 same-padded ReLU convolutions, each followed by 2x2
// max pooling. A 256x256 input gives an 8x8x512 feature map.
func NewVGG16(cfg Config) *Backbone {
	cfg = cfg.withDefaults()
	seq := nn.NewSequential()
	in := 3
	for bi, widths := range vgg16Blocks {
		for ci, width := range widths {
			out := cfg.scale(width)
			name := fmt.Sprintf("%s.block%d_conv%d", KindVGG16, bi+1, ci+1)
			seq.Add(nn.NewConv2D(name, in, out, 3, 1, nn.Same, true, cfg.Backend))
			seq.Add(nn.NewReLU())
			in = out
		}
		seq.Add(nn.NewMaxPool2D(2, 2, cfg.Backend))
	}
	side := cfg.InputSize / 32
	return newBackbone(KindVGG16, seq, side, side, in)
}

// NewVGG16Classifier builds the transfer-tuned classifier: augmentation,
// a frozen VGG16 base and the head flatten → batch norm → dense(1024, relu)
// → dense(classes).
func NewVGG16Classifier(cfg Config, classes []string) *Classifier {
	cfg = cfg.withDefaults()
	base := NewVGG16(cfg)
	nn.Freeze(base)
	head := newHead("vgg16_head", HeadVGG, base, cfg, len(classes))
	return newClassifier(Arch{
		Kind:      KindVGG16,
		InputSize: cfg.InputSize,
		Width:     cfg.Width,
		Classes:   classes,
	}, cfg, base, head)
}
