package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/born-ml/mriscan/internal/store"
)

// DoctorResponse is a doctor with their patients.
type DoctorResponse struct {
	*store.Doctor
	Patients []store.Patient `json:"patients"`
}

type createDoctorRequest struct {
	Name           string  `json:"name"           binding:"required,min=2,max=255"`
	Email          string  `json:"email"          binding:"required,email"`
	Specialization string  `json:"specialization" binding:"required,min=2"`
	ProfileImage   *string `json:"profileImage"`
}

type updateDoctorRequest struct {
	Name           *string `json:"name"           binding:"omitempty,min=2"`
	Specialization *string `json:"specialization" binding:"omitempty,min=2"`
	ProfileImage   *string `json:"profileImage"`
}

type createPatientRequest struct {
	Name    string  `json:"name"    binding:"required"`
	Age     *int    `json:"age"     binding:"required,gte=0,lte=150"`
	Gender  string  `json:"gender"  binding:"required"`
	Disease string  `json:"disease" binding:"required"`
	Notes   *string `json:"notes"`
}

type updatePatientRequest struct {
	Name    *string `json:"name"`
	Age     *int    `json:"age"     binding:"omitempty,gte=0,lte=150"`
	Gender  *string `json:"gender"`
	Disease *string `json:"disease"`
	Notes   *string `json:"notes"`
}

func (s *Server) doctorResponse(c *gin.Context, id int64) (*DoctorResponse, error) {
	d, err := s.store.GetDoctor(c.Request.Context(), id)
	if err != nil {
		return nil, err
	}
	patients, err := s.store.ListPatients(c.Request.Context(), id)
	if err != nil {
		return nil, err
	}
	return &DoctorResponse{Doctor: d, Patients: patients}, nil
}

func (s *Server) CreateDoctorHandler(c *gin.Context) {
	var req createDoctorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusUnprocessableEntity, err.Error())
		return
	}

	d, err := s.store.CreateDoctor(c.Request.Context(), store.Doctor{
		Name:           req.Name,
		Email:          req.Email,
		Specialization: req.Specialization,
		ProfileImage:   req.ProfileImage,
	})
	if errors.Is(err, store.ErrDuplicate) {
		abort(c, http.StatusBadRequest, "Email already registered")
		return
	} else if err != nil {
		s.internalError(c, err)
		return
	}
	c.JSON(http.StatusCreated, DoctorResponse{Doctor: d, Patients: []store.Patient{}})
}

func (s *Server) ShowDoctorHandler(c *gin.Context) {
	resp, err := s.doctorResponse(c, doctorID(c))
	if err != nil {
		s.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) UpdateDoctorHandler(c *gin.Context) {
	var req updateDoctorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if _, err := s.store.UpdateDoctor(c.Request.Context(), doctorID(c), store.DoctorUpdate(req)); err != nil {
		s.internalError(c, err)
		return
	}
	s.ShowDoctorHandler(c)
}

func (s *Server) ListPatientsHandler(c *gin.Context) {
	patients, err := s.store.ListPatients(c.Request.Context(), doctorID(c))
	if err != nil {
		s.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"patients": patients})
}

// CreatePatientHandler answers with the doctor and all of their patients.
func (s *Server) CreatePatientHandler(c *gin.Context) {
	var req createPatientRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusUnprocessableEntity, err.Error())
		return
	}

	_, err := s.store.CreatePatient(c.Request.Context(), store.Patient{
		DoctorID: doctorID(c),
		Name:     req.Name,
		Age:      *req.Age,
		Gender:   req.Gender,
		Disease:  req.Disease,
		Notes:    req.Notes,
	})
	if err != nil {
		s.internalError(c, err)
		return
	}
	s.ShowDoctorHandler(c)
}

func (s *Server) ShowPatientHandler(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	p, err := s.store.GetPatient(c.Request.Context(), doctorID(c), id)
	if s.patientError(c, err) {
		return
	}
	c.JSON(http.StatusOK, p)
}

func (s *Server) UpdatePatientHandler(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req updatePatientRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusUnprocessableEntity, err.Error())
		return
	}
	p, err := s.store.UpdatePatient(c.Request.Context(), doctorID(c), id, store.PatientUpdate(req))
	if s.patientError(c, err) {
		return
	}
	c.JSON(http.StatusOK, p)
}

func (s *Server) DeletePatientHandler(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if s.patientError(c, s.store.DeletePatient(c.Request.Context(), doctorID(c), id)) {
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Patient deleted successfully"})
}

// patientError writes the response for a failed patient lookup and
// reports whether err was non-nil.
func (s *Server) patientError(c *gin.Context, err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, store.ErrNotFound):
		abort(c, http.StatusNotFound, "Patient not found")
	default:
		s.internalError(c, err)
	}
	return true
}

func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil {
		abort(c, http.StatusUnprocessableEntity, "invalid "+name)
		return 0, false
	}
	return id, true
}
