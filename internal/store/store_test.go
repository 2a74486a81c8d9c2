package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func open(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "mriscan.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func ptr[T any](v T) *T { return &v }

func doctor(t *testing.T, s *Store, email string) *Doctor {
	t.Helper()
	d, err := s.CreateDoctor(context.Background(), Doctor{Name: "Dr. Ada", Email: email, Specialization: "Neurology"})
	require.NoError(t, err)
	return d
}

func TestDoctors(t *testing.T) {
	s := open(t)
	ctx := context.Background()

	d := doctor(t, s, "ada@example.com")
	assert.NotZero(t, d.ID)
	assert.False(t, d.CreatedAt.IsZero())

	_, err := s.CreateDoctor(ctx, Doctor{Name: "Other", Email: "ada@example.com", Specialization: "Radiology"})
	assert.ErrorIs(t, err, ErrDuplicate)

	got, err := s.GetDoctor(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, "Dr. Ada", got.Name)
	assert.Nil(t, got.ProfileImage)

	got, err = s.UpdateDoctor(ctx, d.ID, DoctorUpdate{ProfileImage: ptr("uploads/ada.png")})
	require.NoError(t, err)
	assert.Equal(t, "Neurology", got.Specialization)
	require.NotNil(t, got.ProfileImage)
	assert.Equal(t, "uploads/ada.png", *got.ProfileImage)

	_, err = s.GetDoctor(ctx, 999)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.UpdateDoctor(ctx, 999, DoctorUpdate{Name: ptr("x")})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPatientsScopedToDoctor(t *testing.T) {
	s := open(t)
	ctx := context.Background()
	a := doctor(t, s, "a@example.com")
	b := doctor(t, s, "b@example.com")

	p, err := s.CreatePatient(ctx, Patient{DoctorID: a.ID, Name: "Joe", Age: 41, Gender: "male", Disease: "headache"})
	require.NoError(t, err)
	assert.Nil(t, p.URL)

	_, err = s.CreatePatient(ctx, Patient{DoctorID: 999, Name: "Nobody"})
	assert.ErrorIs(t, err, ErrNotFound)

	list, err := s.ListPatients(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Joe", list[0].Name)

	list, err = s.ListPatients(ctx, b.ID)
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.NotNil(t, list)

	_, err = s.GetPatient(ctx, b.ID, p.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.UpdatePatient(ctx, b.ID, p.ID, PatientUpdate{Age: ptr(50)})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.DeletePatient(ctx, b.ID, p.ID), ErrNotFound)
}

func TestUpdatePatientIsPartial(t *testing.T) {
	s := open(t)
	ctx := context.Background()
	d := doctor(t, s, "d@example.com")
	p, err := s.CreatePatient(ctx, Patient{DoctorID: d.ID, Name: "Ann", Age: 30, Gender: "female", Disease: "migraine"})
	require.NoError(t, err)

	got, err := s.UpdatePatient(ctx, d.ID, p.ID, PatientUpdate{Age: ptr(31), Notes: ptr("follow up")})
	require.NoError(t, err)
	assert.Equal(t, "Ann", got.Name)
	assert.Equal(t, 31, got.Age)
	assert.Equal(t, "migraine", got.Disease)
	require.NotNil(t, got.Notes)
	assert.Equal(t, "follow up", *got.Notes)
	assert.False(t, got.UpdatedAt.Before(got.CreatedAt))
}

func TestAnalysesCascade(t *testing.T) {
	s := open(t)
	ctx := context.Background()
	d := doctor(t, s, "c@example.com")
	p, err := s.CreatePatient(ctx, Patient{DoctorID: d.ID, Name: "Max", Age: 60, Gender: "male", Disease: "seizures"})
	require.NoError(t, err)

	for _, img := range []string{"uploads/1.png", "uploads/2.png"} {
		_, err := s.CreateAnalysis(ctx, Analysis{
			PatientID:      p.ID,
			ImagePath:      img,
			PredictedClass: "glioma",
			Probabilities:  `{"glioma":0.9,"meningioma":0.05,"notumor":0.03,"pituitary":0.02}`,
		})
		require.NoError(t, err)
	}

	list, err := s.ListAnalyses(ctx, d.ID, p.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "uploads/1.png", list[0].ImagePath)

	got, err := s.GetPatient(ctx, d.ID, p.ID)
	require.NoError(t, err)
	require.NotNil(t, got.URL)
	assert.Equal(t, "uploads/2.png", *got.URL)

	_, err = s.CreateAnalysis(ctx, Analysis{PatientID: 999, ImagePath: "x", PredictedClass: "glioma", Probabilities: "{}"})
	assert.Error(t, err)

	require.NoError(t, s.DeletePatient(ctx, d.ID, p.ID))
	_, err = s.ListAnalyses(ctx, d.ID, p.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	var n int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM mri_analyses`).Scan(&n))
	assert.Zero(t, n)
}

func TestReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mriscan.db")
	s, err := Open(path)
	require.NoError(t, err)
	d, err := s.CreateDoctor(context.Background(), Doctor{Name: "A", Email: "a@x", Specialization: "N"})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	got, err := s.GetDoctor(context.Background(), d.ID)
	require.NoError(t, err)
	assert.Equal(t, "a@x", got.Email)
}
