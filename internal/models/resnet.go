package models

import (
	"fmt"
	"strings"

	"github.com/born-ml/mriscan/internal/nn"
	"github.com/born-ml/mriscan/internal/tensor"
)

// ResNet batch norms use a smaller epsilon than the framework default.
const resnetBNEpsilon = 1.001e-5

// resnetStage describes one stack of bottleneck blocks.
type resnetStage struct {
	filters int
	blocks  int
	stride  int // stride of the last block
}

var resnet50V2Stages = []resnetStage{
	{64, 3, 2},
	{128, 4, 2},
	{256, 6, 2},
	{512, 3, 1},
}

// NewResNet50V2 builds the ResNet50V2 convolutional base without its top
// layers. A 256x256 input gives an 8x8x2048 feature map.
//
// Stem: zero pad 3, 7x7/2 convolution, zero pad 1, 3x3/2 max pooling.
// Then four stacks of pre-activation bottleneck blocks and a final batch
// norm + ReLU.
func NewResNet50V2(cfg Config) *Backbone {
	cfg = cfg.withDefaults()
	p := KindResNet50V2 + "."

	stem := cfg.scale(64)
	seq := nn.NewSequential(
		nn.NewZeroPad2D(3),
		nn.NewConv2D(p+"conv1_conv", 3, stem, 7, 2, nn.Valid, true, cfg.Backend),
		nn.NewZeroPad2D(1),
		nn.NewMaxPool2D(3, 2, cfg.Backend),
	)

	in := stem
	side := cfg.InputSize / 4
	for si, st := range resnet50V2Stages {
		filters := cfg.scale(st.filters)
		for bi := 0; bi < st.blocks; bi++ {
			stride := 1
			if bi == st.blocks-1 {
				stride = st.stride
			}
			name := fmt.Sprintf("%sconv%d_block%d", p, si+2, bi+1)
			seq.Add(newPreActBottleneck(name, in, filters, stride, bi == 0, cfg.Backend))
			in = 4 * filters
		}
		if st.stride > 1 {
			side /= st.stride
		}
	}

	seq.Add(nn.NewBatchNorm(p+"post_bn", in).WithEpsilon(resnetBNEpsilon))
	seq.Add(nn.NewReLU())
	return newBackbone(KindResNet50V2, seq, side, side, in)
}

// NewResNet50V2Classifier builds the transfer-frozen classifier:
// augmentation, a frozen ResNet50V2 base and the head flatten → batch norm
// → dense(1024, relu) → batch norm → dropout(0.25) → dense(classes).
func NewResNet50V2Classifier(cfg Config, classes []string) *Classifier {
	cfg = cfg.withDefaults()
	base := NewResNet50V2(cfg)
	nn.Freeze(base)
	head := newHead("resnet50v2_head", HeadResNet, base, cfg, len(classes))
	return newClassifier(Arch{
		Kind:      KindResNet50V2,
		InputSize: cfg.InputSize,
		Width:     cfg.Width,
		Classes:   classes,
	}, cfg, base, head)
}

// preActBottleneck is a ResNetV2 block:
//
//	preact   = relu(bn(x))
//	shortcut = conv1x1(preact, 4f, stride)  when the block projects
//	         = maxpool1x1(x, stride)        when stride > 1
//	         = x                            otherwise
//	residual = conv1x1(f) bn relu, pad 1, conv3x3(f, stride) bn relu, conv1x1(4f)
//	out      = shortcut + residual
type preActBottleneck struct {
	name     string
	preBN    *nn.BatchNorm
	preReLU  *nn.ReLU
	shortcut nn.Module // nil for identity
	project  bool      // shortcut reads preact instead of x
	residual *nn.Sequential
}

func newPreActBottleneck(name string, in, filters, stride int, project bool, backend tensor.Backend) *preActBottleneck {
	b := &preActBottleneck{
		name:    name,
		preBN:   nn.NewBatchNorm(name+"_preact_bn", in).WithEpsilon(resnetBNEpsilon),
		preReLU: nn.NewReLU(),
		project: project,
	}
	switch {
	case project:
		b.shortcut = nn.NewConv2D(name+"_0_conv", in, 4*filters, 1, stride, nn.Valid, true, backend)
	case stride > 1:
		b.shortcut = nn.NewMaxPool2D(1, stride, backend)
	}
	b.residual = nn.NewSequential(
		nn.NewConv2D(name+"_1_conv", in, filters, 1, 1, nn.Valid, false, backend),
		nn.NewBatchNorm(name+"_1_bn", filters).WithEpsilon(resnetBNEpsilon),
		nn.NewReLU(),
		nn.NewZeroPad2D(1),
		nn.NewConv2D(name+"_2_conv", filters, filters, 3, stride, nn.Valid, false, backend),
		nn.NewBatchNorm(name+"_2_bn", filters).WithEpsilon(resnetBNEpsilon),
		nn.NewReLU(),
		nn.NewConv2D(name+"_3_conv", filters, 4*filters, 1, 1, nn.Valid, true, backend),
	)
	return b
}

func (b *preActBottleneck) Forward(x *tensor.Tensor, training bool) *tensor.Tensor {
	preact := b.preReLU.Forward(b.preBN.Forward(x, training), training)

	var short *tensor.Tensor
	switch {
	case b.project:
		short = b.shortcut.Forward(preact, training)
	case b.shortcut != nil:
		short = b.shortcut.Forward(x, training)
	default:
		short = x
	}

	out := b.residual.Forward(preact, training)
	out.AddInPlace(short)
	return out
}

func (b *preActBottleneck) Backward(grad *tensor.Tensor) *tensor.Tensor {
	gradPreact := b.residual.Backward(grad)

	var gradX *tensor.Tensor
	switch {
	case b.project:
		gradPreact.AddInPlace(b.shortcut.Backward(grad))
	case b.shortcut != nil:
		gradX = b.shortcut.Backward(grad)
	default:
		gradX = grad
	}

	gradIn := b.preBN.Backward(b.preReLU.Backward(gradPreact))
	if gradX != nil {
		gradIn.AddInPlace(gradX)
	}
	return gradIn
}

func (b *preActBottleneck) Parameters() []*nn.Parameter {
	params := b.preBN.Parameters()
	if b.project {
		params = append(params, b.shortcut.Parameters()...)
	}
	return append(params, b.residual.Parameters()...)
}

func (b *preActBottleneck) Buffers() []*nn.Parameter {
	return append(b.preBN.Buffers(), b.residual.Buffers()...)
}

func (b *preActBottleneck) String() string {
	short := "identity"
	switch {
	case b.project:
		short = "conv"
	case b.shortcut != nil:
		short = "maxpool"
	}
	name := b.name[strings.LastIndex(b.name, ".")+1:]
	return fmt.Sprintf("PreActBottleneck(%s, shortcut=%s)", name, short)
}
