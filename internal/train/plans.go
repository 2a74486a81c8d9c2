package train

import (
	"errors"
	"fmt"
	"slices"

	"github.com/born-ml/mriscan/internal/artifact"
	"github.com/born-ml/mriscan/internal/models"
)

// FreezeAction changes the extractor state at the start of a phase.
type FreezeAction int

const (
	KeepBackbone FreezeAction = iota
	FreezeBackbone
	UnfreezeBackbone
)

func (f FreezeAction) String() string {
	switch f {
	case FreezeBackbone:
		return "freeze"
	case UnfreezeBackbone:
		return "unfreeze"
	default:
		return "keep"
	}
}

// Phase is one fit call of a plan.
type Phase struct {
	Name   string
	Epochs int

	// LR starts a fresh Adam optimizer with this learning rate. Zero keeps
	// the optimizer, and its learning rate, of the previous phase.
	LR float32

	Freeze         FreezeAction
	StartFromEpoch int      // first epoch early stopping monitors
	Schedule       Schedule // optional per-epoch learning rate
}

// Validate checks the phase can run.
func (p Phase) Validate() error {
	if p.Epochs <= 0 {
		return fmt.Errorf("phase %q: epochs must be positive, got %d", p.Name, p.Epochs)
	}
	if p.LR < 0 {
		return fmt.Errorf("phase %q: negative learning rate %g", p.Name, p.LR)
	}
	return nil
}

// Components.
const (
	ComponentVGG16        = "vgg16"
	ComponentResNet50V2   = "resnet50v2"
	ComponentCNN          = "cnn"
	ComponentCNNBinarized = "cnn-binarized"
	ComponentEnsemble     = "ensemble"
)

// BaseLR is the Adam learning rate of every first phase.
const BaseLR = 1e-3

// ErrUnknownComponent is returned by PlanFor.
var ErrUnknownComponent = errors.New("unknown component")

// Plan describes how one component is built and trained.
type Plan struct {
	Component string
	Artifact  string // artifact name, e.g. MRI_VGG16_Tuned
	Kind      string // models.Kind*
	Binarize  bool
	Phases    []Phase

	// Extractors lists the artifacts whose bases an ensemble is built
	// from, in VGG16, ResNet50V2, CNN order.
	Extractors []string
}

var plans = []Plan{
	{
		Component: ComponentVGG16,
		Artifact:  artifact.NameVGG16,
		Kind:      models.KindVGG16,
		Phases: []Phase{
			{Name: "head", Epochs: 50, LR: BaseLR, Freeze: FreezeBackbone, StartFromEpoch: 10},
			{Name: "fine-tune", Epochs: 20, LR: BaseLR / 1000, Freeze: UnfreezeBackbone, StartFromEpoch: 10},
		},
	},
	{
		Component: ComponentResNet50V2,
		Artifact:  artifact.NameResNet50V2,
		Kind:      models.KindResNet50V2,
		Phases: []Phase{
			{Name: "head", Epochs: 50, LR: BaseLR, Freeze: FreezeBackbone, StartFromEpoch: 10},
		},
	},
	{
		Component: ComponentCNN,
		Artifact:  artifact.NameCNN,
		Kind:      models.KindCNN,
		Phases: []Phase{
			{Name: "train", Epochs: 50, LR: BaseLR, StartFromEpoch: 15},
		},
	},
	{
		Component: ComponentCNNBinarized,
		Artifact:  artifact.NameCNNBinarized,
		Kind:      models.KindCNN,
		Binarize:  true,
		Phases: []Phase{
			{Name: "train", Epochs: 50, LR: BaseLR, StartFromEpoch: 15},
		},
	},
	{
		Component:  ComponentEnsemble,
		Artifact:   artifact.NameEnsemble,
		Kind:       models.KindEnsemble,
		Extractors: []string{artifact.NameVGG16, artifact.NameResNet50V2, artifact.NameCNN},
		Phases: []Phase{
			{Name: "fusion", Epochs: 50, LR: BaseLR, Freeze: FreezeBackbone, StartFromEpoch: 15},
			{Name: "fusion-continued", Epochs: 50, StartFromEpoch: 40},
			{Name: "fusion-decay", Epochs: 50, StartFromEpoch: 10, Schedule: StepDecay(5, 0.8)},
		},
	},
}

// Plans returns every component plan in dependency order: the ensemble
// comes last.
func Plans() []Plan {
	out := make([]Plan, len(plans))
	for i, p := range plans {
		p.Phases = slices.Clone(p.Phases)
		p.Extractors = slices.Clone(p.Extractors)
		out[i] = p
	}
	return out
}

// PlanFor returns the plan of a component.
func PlanFor(component string) (Plan, error) {
	for _, p := range Plans() {
		if p.Component == component {
			return p, nil
		}
	}
	return Plan{}, fmt.Errorf("%w: %q", ErrUnknownComponent, component)
}

// Components returns the component names in dependency order.
func Components() []string {
	names := make([]string, len(plans))
	for i, p := range plans {
		names[i] = p.Component
	}
	return names
}

// WithEpochs returns a copy of the plan with every phase capped at n
// epochs and its start epoch scaled down to fit. n <= 0 leaves the plan
// unchanged.
func (p Plan) WithEpochs(n int) Plan {
	if n <= 0 {
		return p
	}
	p.Phases = slices.Clone(p.Phases)
	for i := range p.Phases {
		ph := &p.Phases[i]
		if ph.Epochs > n {
			ph.StartFromEpoch = ph.StartFromEpoch * n / ph.Epochs
			ph.Epochs = n
		}
	}
	return p
}
