package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"slices"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/born-ml/mriscan/internal/inference"
	"github.com/born-ml/mriscan/internal/store"
)

// FormFile is the multipart field carrying the scan.
const FormFile = "file"

var allowedContentTypes = []string{"image/jpeg", "image/png", "image/jpg", "image/webp"}

var extensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/jpg":  ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
}

// PredictResponse is returned by /predict.
type PredictResponse struct {
	Filename   string                      `json:"filename"`
	Prediction *inference.PredictionResult `json:"prediction"`
}

// upload reads the scan from the request. It writes the error response
// itself and returns ok=false on failure.
func (s *Server) upload(c *gin.Context) (fh *multipart.FileHeader, data []byte, ok bool) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.maxUpload)
	fh, err := c.FormFile(FormFile)
	if err != nil {
		abort(c, http.StatusBadRequest, fmt.Sprintf("missing %q form file", FormFile))
		return nil, nil, false
	}
	if !slices.Contains(allowedContentTypes, fh.Header.Get("Content-Type")) {
		abort(c, http.StatusBadRequest, "Invalid image type. Supported: JPEG, PNG, WebP")
		return nil, nil, false
	}

	f, err := fh.Open()
	if err != nil {
		abort(c, http.StatusBadRequest, err.Error())
		return nil, nil, false
	}
	defer f.Close()
	if data, err = io.ReadAll(f); err != nil {
		abort(c, http.StatusBadRequest, err.Error())
		return nil, nil, false
	}
	return fh, data, true
}

// predict runs the classifier, bounded by the server's concurrency limit.
// It writes the error response itself and returns nil on failure.
func (s *Server) predict(c *gin.Context, data []byte) *inference.PredictionResult {
	if s.predictor == nil {
		abort(c, http.StatusServiceUnavailable, inference.ErrModelNotLoaded.Error())
		return nil
	}

	ctx := c.Request.Context()
	if err := s.sem.Acquire(ctx, 1); err != nil {
		abort(c, http.StatusServiceUnavailable, err.Error())
		return nil
	}
	defer s.sem.Release(1)

	result, err := s.predictor.Predict(ctx, data)
	switch {
	case err == nil:
		return result
	case errors.Is(err, inference.ErrInvalidImage):
		abort(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, inference.ErrModelNotLoaded):
		abort(c, http.StatusServiceUnavailable, err.Error())
	default:
		s.internalError(c, err)
	}
	return nil
}

func (s *Server) PredictHandler(c *gin.Context) {
	fh, data, ok := s.upload(c)
	if !ok {
		return
	}
	result := s.predict(c, data)
	if result == nil {
		return
	}
	s.log.Info("prediction", "id", c.GetString(HeaderRequestID), "file", fh.Filename, "class", result.PredictedClass)
	c.JSON(http.StatusOK, PredictResponse{Filename: fh.Filename, Prediction: result})
}

// AnalyzeHandler classifies a scan for a patient of the acting doctor and
// stores the result. The scan is kept under the upload directory.
func (s *Server) AnalyzeHandler(c *gin.Context) {
	patientID, ok := pathID(c, "patient_id")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	if _, err := s.store.GetPatient(ctx, doctorID(c), patientID); s.patientError(c, err) {
		return
	}

	fh, data, ok := s.upload(c)
	if !ok {
		return
	}
	result := s.predict(c, data)
	if result == nil {
		return
	}

	probs, err := json.Marshal(result.Probabilities)
	if err != nil {
		s.internalError(c, err)
		return
	}
	path, err := s.saveScan(data, fh.Header.Get("Content-Type"))
	if err != nil {
		s.internalError(c, err)
		return
	}

	a, err := s.store.CreateAnalysis(ctx, store.Analysis{
		PatientID:      patientID,
		ImagePath:      path,
		PredictedClass: result.PredictedClass,
		Probabilities:  string(probs),
	})
	if err != nil {
		os.Remove(path)
		s.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

func (s *Server) ListAnalysesHandler(c *gin.Context) {
	patientID, ok := pathID(c, "patient_id")
	if !ok {
		return
	}
	analyses, err := s.store.ListAnalyses(c.Request.Context(), doctorID(c), patientID)
	if s.patientError(c, err) {
		return
	}
	c.JSON(http.StatusOK, analyses)
}

// saveScan writes data under a fresh name in the upload directory and
// returns its path. Without an upload directory nothing is written and the
// returned path is only the generated name.
func (s *Server) saveScan(data []byte, contentType string) (string, error) {
	name := uuid.NewString() + extensions[contentType]
	if s.uploadDir == "" {
		return name, nil
	}
	if err := os.MkdirAll(s.uploadDir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(s.uploadDir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}
