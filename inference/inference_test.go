// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package inference_test

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/mriscan/backend/cpu"
	"github.com/born-ml/mriscan/inference"
	"github.com/born-ml/mriscan/internal/artifact"
	"github.com/born-ml/mriscan/internal/models"
)

func TestLoadMissing(t *testing.T) {
	p, err := inference.Load(filepath.Join(t.TempDir(), "missing.born"), nil)
	assert.Nil(t, p)
	assert.ErrorIs(t, err, inference.ErrModelNotLoaded)
}

func TestLoadAndPredict(t *testing.T) {
	dir := t.TempDir()
	classes := []string{"glioma", "meningioma", "notumor", "pituitary"}
	cfg := models.Config{InputSize: 32, Width: 16, Backend: cpu.New(), AugmentSeed: 1}
	require.NoError(t, artifact.Save(dir, artifact.NameCNN, models.NewCNNClassifier(cfg, classes, false)))

	p, err := inference.Load(artifact.Path(dir, artifact.NameCNN), cpu.NewWithWorkers(2))
	require.NoError(t, err)
	assert.Equal(t, classes, p.Classes())

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, 64, 64))))
	res, err := p.Predict(context.Background(), buf.Bytes())
	require.NoError(t, err)
	assert.Contains(t, classes, res.PredictedClass)

	_, err = p.Predict(context.Background(), []byte("garbage"))
	assert.ErrorIs(t, err, inference.ErrInvalidImage)
}
