// Package artifact persists trained models.
//
// Every trained component is written as up to four files in one directory:
//
//	<name>.born                full model, architecture in the header
//	<name>_Base.born           extractor only, consumed by the ensemble
//	<name>.safetensors         raw weight snapshot of the full model
//	<name>_Base.safetensors    raw weight snapshot of the extractor
//
// The architecture, including the pinned class order, travels in the
// header metadata so a model can be rebuilt before its weights are read.
package artifact

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/born-ml/mriscan/internal/models"
	"github.com/born-ml/mriscan/internal/nn"
	"github.com/born-ml/mriscan/internal/serialization"
	"github.com/born-ml/mriscan/internal/tensor"
	"github.com/born-ml/mriscan/internal/version"
)

// Component artifact names.
const (
	NameVGG16        = "MRI_VGG16_Tuned"
	NameResNet50V2   = "MRI_ResNet50V2_Tuned"
	NameCNN          = "MRI_CNN"
	NameCNNBinarized = "MRI_CNN_Binarized"
	NameEnsemble     = "MRI_ENSEMBLED"
)

// Header metadata keys.
const (
	MetaArch      = "arch"
	MetaComponent = "component"

	ComponentFull = "full"
	ComponentBase = "base"
)

const baseSuffix = "_Base"

// OptimizerPrefix namespaces optimizer state inside a checkpoint.
const OptimizerPrefix = "optimizer."

var (
	// ErrArtifactMissing is returned when a required model file is absent.
	ErrArtifactMissing = errors.New("artifact missing")

	// ErrClassMismatch is returned when an artifact was trained on a
	// different class order than the caller expects.
	ErrClassMismatch = errors.New("class order mismatch")
)

// Path returns the full model file for name.
func Path(dir, name string) string { return filepath.Join(dir, name+".born") }

// BasePath returns the extractor-only file for name.
func BasePath(dir, name string) string { return filepath.Join(dir, name+baseSuffix+".born") }

// WeightsPath returns the raw weight snapshot of the full model.
func WeightsPath(dir, name string) string { return filepath.Join(dir, name+".safetensors") }

// BaseWeightsPath returns the raw weight snapshot of the extractor.
func BaseWeightsPath(dir, name string) string {
	return filepath.Join(dir, name+baseSuffix+".safetensors")
}

// Exists reports whether path is a regular file.
func Exists(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.Mode().IsRegular()
}

// Save writes the full model and its weight snapshot. For single-extractor
// classifiers the extractor is written as well.
func Save(dir, name string, m models.Model) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("save %s: %w", name, err)
	}
	arch := m.Arch()
	if err := write(Path(dir, name), WeightsPath(dir, name), m, arch, ComponentFull); err != nil {
		return fmt.Errorf("save %s: %w", name, err)
	}

	c, ok := m.(*models.Classifier)
	if !ok {
		return nil
	}
	if err := write(BasePath(dir, name), BaseWeightsPath(dir, name), c.Backbone(), arch, ComponentBase); err != nil {
		return fmt.Errorf("save %s base: %w", name, err)
	}
	return nil
}

func write(bornPath, weightsPath string, m nn.Module, arch models.Arch, component string) error {
	dict, err := nn.StateDict(m)
	if err != nil {
		return err
	}
	meta, err := metadata(arch, component)
	if err != nil {
		return err
	}
	if err := serialization.WriteBorn(bornPath, dict, serialization.WriterOptions{
		ModelType:  arch.Kind,
		AppVersion: version.Version,
		Metadata:   meta,
	}); err != nil {
		return err
	}
	return serialization.WriteSafeTensors(weightsPath, dict, meta, serialization.SafeTensorsF32)
}

// SaveCheckpoint writes the weights of m to path, tagged with the training
// position they were taken at. optState, typically Adam.StateDict, is
// stored alongside under OptimizerPrefix and may be nil.
func SaveCheckpoint(path string, m models.Model, optState map[string]*tensor.Tensor, ckpt serialization.CheckpointMeta) error {
	dict, err := nn.StateDict(m)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("checkpoint: %w", err)
	}

	combined := make(map[string]*tensor.Tensor, len(dict)+len(optState))
	for name, t := range dict {
		combined[name] = t
	}
	for name, t := range optState {
		combined[OptimizerPrefix+name] = t
	}

	meta, err := metadata(m.Arch(), ComponentFull)
	if err != nil {
		return err
	}
	err = serialization.WriteBorn(path, combined, serialization.WriterOptions{
		ModelType:  m.Arch().Kind,
		AppVersion: version.Version,
		Metadata:   meta,
		Checkpoint: &ckpt,
	})
	if err != nil {
		return fmt.Errorf("checkpoint: %w", err)
	}
	return nil
}

// LoadCheckpoint rebuilds the model saved by SaveCheckpoint and returns it
// together with the optimizer state and the training position.
func LoadCheckpoint(path string, backend tensor.Backend) (models.Model, map[string]*tensor.Tensor, *serialization.CheckpointMeta, error) {
	m, optState, h, err := load(path, backend)
	if err != nil {
		return nil, nil, nil, err
	}
	if h.CheckpointMeta == nil {
		return nil, nil, nil, fmt.Errorf("load %s: not a checkpoint", path)
	}
	return m, optState, h.CheckpointMeta, nil
}

// splitOptimizer moves the entries under OptimizerPrefix out of dict.
func splitOptimizer(dict map[string]*tensor.Tensor) map[string]*tensor.Tensor {
	opt := make(map[string]*tensor.Tensor)
	for name, t := range dict {
		if rest, ok := strings.CutPrefix(name, OptimizerPrefix); ok {
			opt[rest] = t
			delete(dict, name)
		}
	}
	return opt
}

func metadata(arch models.Arch, component string) (map[string]string, error) {
	b, err := json.Marshal(arch)
	if err != nil {
		return nil, err
	}
	return map[string]string{MetaArch: string(b), MetaComponent: component}, nil
}

// ReadArch returns the architecture stored in the header of path without
// reading any weights.
func ReadArch(path string) (models.Arch, *serialization.Header, error) {
	if !Exists(path) {
		return models.Arch{}, nil, fmt.Errorf("%w: %s", ErrArtifactMissing, path)
	}
	h, err := serialization.ReadBornHeader(path)
	if err != nil {
		return models.Arch{}, nil, err
	}
	arch, err := archFromHeader(h)
	return arch, h, err
}

func archFromHeader(h *serialization.Header) (models.Arch, error) {
	var arch models.Arch
	raw, ok := h.Metadata[MetaArch]
	if !ok {
		return arch, fmt.Errorf("header has no %q metadata", MetaArch)
	}
	if err := json.Unmarshal([]byte(raw), &arch); err != nil {
		return arch, fmt.Errorf("decode arch: %w", err)
	}
	return arch, arch.Validate()
}

// Load rebuilds the full model stored at path and loads its weights.
// Checkpoints written by SaveCheckpoint load the same way; their optimizer
// state is dropped.
func Load(path string, backend tensor.Backend) (models.Model, error) {
	m, _, _, err := load(path, backend)
	return m, err
}

func load(path string, backend tensor.Backend) (models.Model, map[string]*tensor.Tensor, *serialization.Header, error) {
	if !Exists(path) {
		return nil, nil, nil, fmt.Errorf("%w: %s", ErrArtifactMissing, path)
	}
	dict, h, err := serialization.ReadBorn(path)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load %s: %w", path, err)
	}
	if c := h.Metadata[MetaComponent]; c != ComponentFull {
		return nil, nil, nil, fmt.Errorf("load %s: component is %q, want %q", path, c, ComponentFull)
	}
	arch, err := archFromHeader(h)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load %s: %w", path, err)
	}
	m, err := models.Build(arch, backend)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load %s: %w", path, err)
	}
	optState := splitOptimizer(dict)
	if err := nn.LoadStateDict(m, dict, true); err != nil {
		return nil, nil, nil, fmt.Errorf("load %s: %w", path, err)
	}
	return m, optState, h, nil
}

// LoadBackbone rebuilds the extractor saved for the component name in dir.
func LoadBackbone(dir, name string, backend tensor.Backend) (*models.Backbone, error) {
	path := BasePath(dir, name)
	if !Exists(path) {
		return nil, fmt.Errorf("%w: %s", ErrArtifactMissing, path)
	}
	dict, h, err := serialization.ReadBorn(path)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	arch, err := archFromHeader(h)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	b, err := models.BuildBackbone(arch, backend)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	if err := nn.LoadStateDict(b, dict, true); err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return b, nil
}

// CheckClasses returns ErrClassMismatch unless m was trained on exactly
// classes, in that order.
func CheckClasses(m models.Model, classes []string) error {
	if got := m.Arch().Classes; !slices.Equal(got, classes) {
		return fmt.Errorf("%w: model %v, expected %v", ErrClassMismatch, got, classes)
	}
	return nil
}
