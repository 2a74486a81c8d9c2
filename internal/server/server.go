// Package server exposes the MRI classifier and the patient records over
// HTTP.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/born-ml/mriscan/internal/inference"
	"github.com/born-ml/mriscan/internal/store"
)

// Header names.
const (
	HeaderDoctorID  = "X-Doctor-ID"
	HeaderRequestID = "X-Request-ID"
)

// DefaultMaxUpload bounds the size of an uploaded scan.
const DefaultMaxUpload = 32 << 20

// Options configure a Server.
type Options struct {
	Store     *store.Store
	Predictor *inference.Predictor // nil answers predictions with 503
	UploadDir string               // scans attached to analyses are kept here

	Origins       []string // CORS origins, all when empty
	MaxConcurrent int      // concurrent predictions, default 1
	MaxUpload     int64    // bytes, default DefaultMaxUpload
	Logger        *slog.Logger
}

// Server holds the handlers' shared state.
type Server struct {
	store     *store.Store
	predictor *inference.Predictor
	uploadDir string
	origins   []string
	maxUpload int64
	sem       *semaphore.Weighted
	log       *slog.Logger
}

// New returns a server for opts.
func New(opts Options) *Server {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 1
	}
	if opts.MaxUpload <= 0 {
		opts.MaxUpload = DefaultMaxUpload
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Server{
		store:     opts.Store,
		predictor: opts.Predictor,
		uploadDir: opts.UploadDir,
		origins:   opts.Origins,
		maxUpload: opts.MaxUpload,
		sem:       semaphore.NewWeighted(int64(opts.MaxConcurrent)),
		log:       opts.Logger,
	}
}

// Routes builds the HTTP handler.
func (s *Server) Routes() http.Handler {
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowHeaders = []string{
		"Authorization",
		"Content-Type",
		"Accept",
		"X-Requested-With",
		HeaderDoctorID,
	}
	// Credentials are only shared with explicitly allowed origins.
	if len(s.origins) == 0 {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = s.origins
		corsConfig.AllowCredentials = true
	}

	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(
		gin.Recovery(),
		s.requestID(),
		s.logRequests(),
		cors.New(corsConfig),
	)

	r.GET("/health", s.HealthHandler)
	r.POST("/predict", s.PredictHandler)

	doctors := r.Group("/api/doctors")
	doctors.POST("", s.CreateDoctorHandler)
	doctors.GET("/me", s.requireDoctor, s.ShowDoctorHandler)
	doctors.PUT("/me", s.requireDoctor, s.UpdateDoctorHandler)

	patients := r.Group("/api/patients", s.requireDoctor)
	patients.GET("", s.ListPatientsHandler)
	patients.POST("", s.CreatePatientHandler)
	patients.GET("/:id", s.ShowPatientHandler)
	patients.PUT("/:id", s.UpdatePatientHandler)
	patients.DELETE("/:id", s.DeletePatientHandler)

	analysis := r.Group("/api/analysis", s.requireDoctor)
	analysis.POST("/predict/:patient_id", s.AnalyzeHandler)
	analysis.GET("/patient/:patient_id", s.ListAnalysesHandler)

	return r
}

// Serve serves handler on ln until ctx is cancelled, then drains in-flight
// requests.
func Serve(ctx context.Context, ln net.Listener, handler http.Handler) error {
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) HealthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

func (s *Server) requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(HeaderRequestID, id)
		c.Header(HeaderRequestID, id)
		c.Next()
	}
}

func (s *Server) logRequests() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug("request",
			"id", c.GetString(HeaderRequestID),
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}

const doctorKey = "doctor_id"

// requireDoctor resolves the acting doctor from the X-Doctor-ID header.
func (s *Server) requireDoctor(c *gin.Context) {
	id, err := strconv.ParseInt(c.GetHeader(HeaderDoctorID), 10, 64)
	if err != nil || id <= 0 {
		abort(c, http.StatusUnauthorized, "missing or invalid "+HeaderDoctorID+" header")
		return
	}
	if _, err := s.store.GetDoctor(c.Request.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			abort(c, http.StatusUnauthorized, "Doctor not found")
			return
		}
		s.internalError(c, err)
		return
	}
	c.Set(doctorKey, id)
	c.Next()
}

func doctorID(c *gin.Context) int64 { return c.GetInt64(doctorKey) }

func abort(c *gin.Context, status int, detail string) {
	c.AbortWithStatusJSON(status, gin.H{"detail": detail})
}

func (s *Server) internalError(c *gin.Context, err error) {
	s.log.Error("request failed", "id", c.GetString(HeaderRequestID), "error", err)
	abort(c, http.StatusInternalServerError, "internal server error")
}
