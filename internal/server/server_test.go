package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/mriscan/internal/backend/cpu"
	"github.com/born-ml/mriscan/internal/inference"
	"github.com/born-ml/mriscan/internal/models"
	"github.com/born-ml/mriscan/internal/store"
)

var classes = []string{"glioma", "meningioma", "notumor", "pituitary"}

func init() {
	gin.SetMode(gin.TestMode)
}

type harness struct {
	t       *testing.T
	handler http.Handler
	store   *store.Store
	uploads string
}

func newHarness(t *testing.T, withModel bool) *harness {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "mri.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	var p *inference.Predictor
	if withModel {
		cfg := models.Config{InputSize: 32, Width: 16, Backend: cpu.New(), AugmentSeed: 1}
		p, err = inference.New(models.NewCNNClassifier(cfg, classes, false))
		require.NoError(t, err)
	}

	uploads := filepath.Join(dir, "uploads")
	s := New(Options{Store: st, Predictor: p, UploadDir: uploads, MaxConcurrent: 2})
	return &harness{t: t, handler: s.Routes(), store: st, uploads: uploads}
}

func (h *harness) do(req *http.Request, doctor int64) *httptest.ResponseRecorder {
	if doctor != 0 {
		req.Header.Set(HeaderDoctorID, fmt.Sprint(doctor))
	}
	w := httptest.NewRecorder()
	h.handler.ServeHTTP(w, req)
	return w
}

func (h *harness) json(method, path string, body any, doctor int64) *httptest.ResponseRecorder {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(h.t, err)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	return h.do(req, doctor)
}

func (h *harness) upload(path, contentType string, data []byte, doctor int64) *httptest.ResponseRecorder {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	hdr := make(textproto.MIMEHeader)
	hdr.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename="scan.png"`, FormFile))
	hdr.Set("Content-Type", contentType)
	part, err := mw.CreatePart(hdr)
	require.NoError(h.t, err)
	_, err = part.Write(data)
	require.NoError(h.t, err)
	require.NoError(h.t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return h.do(req, doctor)
}

func (h *harness) doctor(email string) int64 {
	w := h.json(http.MethodPost, "/api/doctors", map[string]string{
		"name": "Dr. Grey", "email": email, "specialization": "Radiology",
	}, 0)
	require.Equal(h.t, http.StatusCreated, w.Code, w.Body.String())
	var d DoctorResponse
	require.NoError(h.t, json.Unmarshal(w.Body.Bytes(), &d))
	return d.ID
}

func scanPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 48, 40))
	for i := range img.Pix {
		img.Pix[i] = uint8(i * 7)
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	h := newHarness(t, false)
	w := h.json(http.MethodGet, "/health", nil, 0)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"healthy"}`, w.Body.String())
	assert.NotEmpty(t, w.Header().Get(HeaderRequestID))
}

func TestPredict(t *testing.T) {
	h := newHarness(t, true)

	w := h.upload("/predict", "image/png", scanPNG(t), 0)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Filename   string `json:"filename"`
		Prediction struct {
			PredictedClass string             `json:"predicted_class"`
			Probabilities  map[string]float64 `json:"probabilities"`
		} `json:"prediction"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "scan.png", resp.Filename)
	assert.Contains(t, classes, resp.Prediction.PredictedClass)
	var sum float64
	for _, p := range resp.Prediction.Probabilities {
		sum += p
	}
	assert.InDelta(t, 1, sum, 1e-6)

	// class order on the wire follows the model
	body := w.Body.String()
	last := -1
	for _, c := range classes {
		i := strings.Index(body, `"`+c+`"`)
		require.Greater(t, i, last, c)
		last = i
	}
}

func TestPredictErrors(t *testing.T) {
	h := newHarness(t, true)

	w := h.upload("/predict", "application/pdf", scanPNG(t), 0)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = h.upload("/predict", "image/png", []byte("not an image"), 0)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	req := httptest.NewRequest(http.MethodPost, "/predict", nil)
	assert.Equal(t, http.StatusBadRequest, h.do(req, 0).Code)

	w = newHarness(t, false).upload("/predict", "image/png", scanPNG(t), 0)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestRequiresDoctor(t *testing.T) {
	h := newHarness(t, false)
	assert.Equal(t, http.StatusUnauthorized, h.json(http.MethodGet, "/api/patients", nil, 0).Code)
	assert.Equal(t, http.StatusUnauthorized, h.json(http.MethodGet, "/api/patients", nil, 42).Code)
}

func TestDoctors(t *testing.T) {
	h := newHarness(t, false)
	id := h.doctor("grey@example.com")

	w := h.json(http.MethodPost, "/api/doctors", map[string]string{
		"name": "Dr. Grey", "email": "grey@example.com", "specialization": "Radiology",
	}, 0)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = h.json(http.MethodPost, "/api/doctors", map[string]string{"name": "X", "email": "nope"}, 0)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = h.json(http.MethodPut, "/api/doctors/me", map[string]string{"specialization": "Neurology"}, id)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	d := decode[DoctorResponse](t, w)
	assert.Equal(t, "Neurology", d.Specialization)
	assert.Equal(t, "Dr. Grey", d.Name)
	assert.Empty(t, d.Patients)
}

func TestPatientLifecycle(t *testing.T) {
	h := newHarness(t, false)
	a := h.doctor("a@example.com")
	b := h.doctor("b@example.com")

	w := h.json(http.MethodPost, "/api/patients", map[string]any{
		"name": "Joe", "age": 41, "gender": "male", "disease": "headache",
	}, a)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	d := decode[DoctorResponse](t, w)
	require.Len(t, d.Patients, 1)
	id := d.Patients[0].ID

	w = h.json(http.MethodPost, "/api/patients", map[string]any{
		"name": "Old", "age": 151, "gender": "male", "disease": "x",
	}, a)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	list := decode[struct{ Patients []store.Patient }](t, h.json(http.MethodGet, "/api/patients", nil, a))
	assert.Len(t, list.Patients, 1)
	list = decode[struct{ Patients []store.Patient }](t, h.json(http.MethodGet, "/api/patients", nil, b))
	assert.Empty(t, list.Patients)

	path := fmt.Sprintf("/api/patients/%d", id)
	w = h.json(http.MethodGet, path, nil, b)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.JSONEq(t, `{"detail":"Patient not found"}`, w.Body.String())

	w = h.json(http.MethodPut, path, map[string]any{"age": 42}, a)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	p := decode[store.Patient](t, w)
	assert.Equal(t, 42, p.Age)
	assert.Equal(t, "Joe", p.Name)

	w = h.json(http.MethodGet, "/api/patients/abc", nil, a)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = h.json(http.MethodDelete, path, nil, a)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"message":"Patient deleted successfully"}`, w.Body.String())
	assert.Equal(t, http.StatusNotFound, h.json(http.MethodGet, path, nil, a).Code)
}

func TestAnalysis(t *testing.T) {
	h := newHarness(t, true)
	a := h.doctor("a@example.com")
	b := h.doctor("b@example.com")

	w := h.json(http.MethodPost, "/api/patients", map[string]any{
		"name": "Ann", "age": 30, "gender": "female", "disease": "migraine",
	}, a)
	require.Equal(t, http.StatusOK, w.Code)
	pid := decode[DoctorResponse](t, w).Patients[0].ID

	predict := fmt.Sprintf("/api/analysis/predict/%d", pid)
	assert.Equal(t, http.StatusNotFound, h.upload(predict, "image/png", scanPNG(t), b).Code)
	assert.Equal(t, http.StatusBadRequest, h.upload(predict, "image/gif", scanPNG(t), a).Code)

	w = h.upload(predict, "image/png", scanPNG(t), a)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	an := decode[store.Analysis](t, w)
	assert.Equal(t, pid, an.PatientID)
	assert.Contains(t, classes, an.PredictedClass)
	assert.FileExists(t, an.ImagePath)
	assert.Equal(t, h.uploads, filepath.Dir(an.ImagePath))

	var probs map[string]float64
	require.NoError(t, json.Unmarshal([]byte(an.Probabilities), &probs))
	assert.Len(t, probs, len(classes))

	w = h.json(http.MethodGet, fmt.Sprintf("/api/analysis/patient/%d", pid), nil, a)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[[]store.Analysis](t, w)
	require.Len(t, list, 1)
	assert.Equal(t, an.ID, list[0].ID)

	p := decode[store.Patient](t, h.json(http.MethodGet, fmt.Sprintf("/api/patients/%d", pid), nil, a))
	require.NotNil(t, p.URL)
	assert.Equal(t, an.ImagePath, *p.URL)

	w = h.json(http.MethodGet, fmt.Sprintf("/api/analysis/patient/%d", pid), nil, b)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCORS(t *testing.T) {
	preflight := func(handler http.Handler, origin string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodOptions, "/api/patients", nil)
		req.Header.Set("Origin", origin)
		req.Header.Set("Access-Control-Request-Method", http.MethodGet)
		req.Header.Set("Access-Control-Request-Headers", HeaderDoctorID)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		return w
	}

	t.Run("any origin", func(t *testing.T) {
		h := newHarness(t, false)
		w := preflight(h.handler, "http://localhost:3000")
		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
		assert.Empty(t, w.Header().Get("Access-Control-Allow-Credentials"))
	})

	t.Run("configured origins", func(t *testing.T) {
		handler := New(Options{Origins: []string{"https://clinic.example"}}).Routes()
		w := preflight(handler, "https://clinic.example")
		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Equal(t, "https://clinic.example", w.Header().Get("Access-Control-Allow-Origin"))
		assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))

		w = preflight(handler, "https://evil.example")
		assert.Equal(t, http.StatusForbidden, w.Code)
	})
}

func TestSaveScanWithoutUploadDir(t *testing.T) {
	s := New(Options{})
	name, err := s.saveScan([]byte{1}, "image/webp")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(name, ".webp"))
	_, err = os.Stat(name)
	assert.True(t, os.IsNotExist(err))
}
