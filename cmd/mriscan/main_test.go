package main

import (
	"bytes"
	"encoding/json"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/mriscan/internal/artifact"
	"github.com/born-ml/mriscan/internal/backend/cpu"
	"github.com/born-ml/mriscan/internal/models"
	"github.com/born-ml/mriscan/internal/version"
)

var classes = []string{"glioma", "meningioma", "notumor", "pituitary"}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := NewCLI()
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "mriscan version "+version.Version+"\n", out)
}

func TestTrainUnknownComponent(t *testing.T) {
	_, err := run(t, "train", "lenet", "--dataset", t.TempDir())
	assert.Error(t, err)
}

func TestEvaluateMissingModel(t *testing.T) {
	_, err := run(t, "evaluate", "cnn", "--trained", t.TempDir(), "--dataset", t.TempDir())
	assert.ErrorIs(t, err, artifact.ErrArtifactMissing)
}

func writeScan(t *testing.T, dir string) string {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 40, 40))
	for i := range img.Pix {
		img.Pix[i] = uint8(i)
	}
	path := filepath.Join(dir, "scan.png")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
	return path
}

func TestPredict(t *testing.T) {
	dir := t.TempDir()
	cfg := models.Config{InputSize: 32, Width: 16, Backend: cpu.New(), AugmentSeed: 1}
	require.NoError(t, artifact.Save(dir, artifact.NameCNN, models.NewCNNClassifier(cfg, classes, false)))
	model := artifact.Path(dir, artifact.NameCNN)
	scan := writeScan(t, dir)

	out, err := run(t, "predict", "--model", model, scan)
	require.NoError(t, err)
	assert.Contains(t, out, "PREDICTION")
	assert.Contains(t, out, "scan.png")

	out, err = run(t, "predict", "--json", "--model", model, scan)
	require.NoError(t, err)
	var got struct {
		Filename   string `json:"filename"`
		Prediction struct {
			PredictedClass string             `json:"predicted_class"`
			Probabilities  map[string]float64 `json:"probabilities"`
		} `json:"prediction"`
	}
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(out)), &got))
	assert.Equal(t, "scan.png", got.Filename)
	assert.Contains(t, classes, got.Prediction.PredictedClass)
	assert.Len(t, got.Prediction.Probabilities, len(classes))

	_, err = run(t, "predict", "--model", filepath.Join(dir, "missing.born"), scan)
	assert.Error(t, err)
}
