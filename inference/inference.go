// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package inference classifies brain MRI scans with a trained ensemble.
//
// Example:
//
//	p, err := inference.Load("trained/MRI_ENSEMBLED.born", nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	res, err := p.Predict(ctx, imageBytes)
//	if errors.Is(err, inference.ErrInvalidImage) {
//	    // reject the upload
//	}
//	fmt.Println(res.PredictedClass, res.Probability("glioma"))
package inference

import (
	"github.com/born-ml/mriscan/internal/inference"
	"github.com/born-ml/mriscan/internal/tensor"
)

// Predictor classifies images with a loaded model. Safe for concurrent use.
type Predictor = inference.Predictor

// PredictionResult holds the predicted class and the per-class
// probabilities in model class order.
type PredictionResult = inference.PredictionResult

var (
	// ErrModelNotLoaded is returned when the model artifact is missing.
	ErrModelNotLoaded = inference.ErrModelNotLoaded

	// ErrInvalidImage is returned for undecodable or malformed input.
	ErrInvalidImage = inference.ErrInvalidImage
)

// Load reads a model artifact. A nil backend selects the CPU backend.
func Load(path string, backend tensor.Backend) (*Predictor, error) {
	return inference.Load(path, backend)
}
