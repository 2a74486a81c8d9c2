package artifact

import (
	"math/rand"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/mriscan/internal/backend/cpu"
	"github.com/born-ml/mriscan/internal/models"
	"github.com/born-ml/mriscan/internal/nn"
	"github.com/born-ml/mriscan/internal/serialization"
	"github.com/born-ml/mriscan/internal/tensor"
)

var classes = []string{"glioma", "meningioma", "notumor", "pituitary"}

func tiny() models.Config {
	return models.Config{InputSize: 32, Width: 16, Backend: cpu.New(), AugmentSeed: 1}
}

func images(n int) *tensor.Tensor {
	r := rand.New(rand.NewSource(3))
	x := tensor.Zeros(tensor.Shape{n, 32, 32, 3})
	for i := range x.Data() {
		x.Data()[i] = r.Float32()
	}
	return x
}

func TestSaveLoadClassifier(t *testing.T) {
	dir := t.TempDir()
	m := models.NewCNNClassifier(tiny(), classes, true)
	require.NoError(t, Save(dir, NameCNNBinarized, m))

	for _, p := range []string{
		Path(dir, NameCNNBinarized),
		BasePath(dir, NameCNNBinarized),
		WeightsPath(dir, NameCNNBinarized),
		BaseWeightsPath(dir, NameCNNBinarized),
	} {
		assert.True(t, Exists(p), p)
	}

	loaded, err := Load(Path(dir, NameCNNBinarized), cpu.New())
	require.NoError(t, err)
	assert.Equal(t, m.Arch(), loaded.Arch())

	x := images(2)
	assert.Equal(t, m.Forward(x, false).Data(), loaded.Forward(x, false).Data())
}

func TestLoadBackboneFeedsEnsemble(t *testing.T) {
	dir := t.TempDir()
	vgg := models.NewVGG16Classifier(tiny(), classes)
	resnet := models.NewResNet50V2Classifier(tiny(), classes)
	cnn := models.NewCNNClassifier(tiny(), classes, false)
	require.NoError(t, Save(dir, NameVGG16, vgg))
	require.NoError(t, Save(dir, NameResNet50V2, resnet))
	require.NoError(t, Save(dir, NameCNN, cnn))

	bv, err := LoadBackbone(dir, NameVGG16, cpu.New())
	require.NoError(t, err)
	br, err := LoadBackbone(dir, NameResNet50V2, cpu.New())
	require.NoError(t, err)
	bc, err := LoadBackbone(dir, NameCNN, cpu.New())
	require.NoError(t, err)

	x := images(1)
	assert.Equal(t, vgg.Backbone().Forward(x, false).Data(), bv.Forward(x, false).Data())

	e, err := models.NewEnsemble(tiny(), classes, bv, br, bc)
	require.NoError(t, err)
	require.NoError(t, Save(dir, NameEnsemble, e))
	assert.False(t, Exists(BasePath(dir, NameEnsemble)))

	loaded, err := Load(Path(dir, NameEnsemble), cpu.New())
	require.NoError(t, err)
	assert.Equal(t, models.KindEnsemble, loaded.Arch().Kind)
	assert.Equal(t, e.Forward(x, false).Data(), loaded.Forward(x, false).Data())
	lv, lr, lc := loaded.(*models.Ensemble).Backbones()
	for _, b := range []*models.Backbone{lv, lr, lc} {
		assert.True(t, nn.IsFrozen(b), b.Name())
	}
}

func TestMissingArtifacts(t *testing.T) {
	dir := t.TempDir()
	_, err := Load(Path(dir, NameEnsemble), nil)
	assert.ErrorIs(t, err, ErrArtifactMissing)

	_, err = LoadBackbone(dir, NameVGG16, nil)
	assert.ErrorIs(t, err, ErrArtifactMissing)

	_, _, err = ReadArch(Path(dir, NameCNN))
	assert.ErrorIs(t, err, ErrArtifactMissing)
}

func TestLoadRejectsBaseFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, Save(dir, NameCNN, models.NewCNNClassifier(tiny(), classes, false)))
	_, err := Load(BasePath(dir, NameCNN), nil)
	assert.Error(t, err)
}

func TestCheckpointRoundTrip(t *testing.T) {
	path := Path(t.TempDir()+"/ckpt", "best")
	m := models.NewResNet50V2Classifier(tiny(), classes)
	require.NoError(t, SaveCheckpoint(path, m, nil, serialization.CheckpointMeta{Epoch: 4, Phase: "head", ValLoss: 0.5}))

	arch, h, err := ReadArch(path)
	require.NoError(t, err)
	assert.Equal(t, m.Arch(), arch)
	require.NotNil(t, h.CheckpointMeta)
	assert.Equal(t, 4, h.CheckpointMeta.Epoch)
	assert.InDelta(t, 0.5, h.CheckpointMeta.ValLoss, 1e-12)

	_, err = Load(path, nil)
	assert.NoError(t, err)
}

func TestCheckpointOptimizerState(t *testing.T) {
	path := Path(t.TempDir(), "best")
	m := models.NewCNNClassifier(tiny(), classes, false)
	optState := map[string]*tensor.Tensor{
		"step":        tensor.MustFromSlice([]float32{12}, tensor.Shape{1}),
		"m.head.bias": tensor.MustFromSlice([]float32{0.1, 0.2, 0.3, 0.4}, tensor.Shape{4}),
	}
	require.NoError(t, SaveCheckpoint(path, m, optState, serialization.CheckpointMeta{Epoch: 2, Phase: "train", ValLoss: 0.7}))

	// Plain loads ignore the optimizer entries.
	_, err := Load(path, nil)
	require.NoError(t, err)

	loaded, gotState, meta, err := LoadCheckpoint(path, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, meta.Epoch)
	require.Len(t, gotState, 2)
	assert.Equal(t, []float32{12}, gotState["step"].Data())
	assert.Equal(t, optState["m.head.bias"].Data(), gotState["m.head.bias"].Data())

	x := images(1)
	assert.Equal(t, m.Forward(x, false).Data(), loaded.Forward(x, false).Data())

	// Full models are not checkpoints.
	dir := t.TempDir()
	require.NoError(t, Save(dir, NameCNN, m))
	_, _, _, err = LoadCheckpoint(Path(dir, NameCNN), nil)
	assert.ErrorContains(t, err, "not a checkpoint")
}

func TestCheckClasses(t *testing.T) {
	m := models.NewCNNClassifier(tiny(), classes, false)
	assert.NoError(t, CheckClasses(m, classes))

	swapped := []string{"meningioma", "glioma", "notumor", "pituitary"}
	assert.ErrorIs(t, CheckClasses(m, swapped), ErrClassMismatch)
}

func TestExists(t *testing.T) {
	dir := t.TempDir()
	assert.False(t, Exists(dir))
	p := dir + "/f"
	require.NoError(t, os.WriteFile(p, nil, 0o644))
	assert.True(t, Exists(p))
}
