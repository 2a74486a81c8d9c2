package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Patient belongs to exactly one doctor.
type Patient struct {
	ID        int64     `json:"id"`
	DoctorID  int64     `json:"doctorId"`
	Name      string    `json:"name"`
	Age       int       `json:"age"`
	Gender    string    `json:"gender"`
	Disease   string    `json:"disease"`
	Notes     *string   `json:"notes"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	// URL is the image path of the latest analysis, if any.
	URL *string `json:"url"`
}

// PatientUpdate holds the fields to change; nil fields are kept.
type PatientUpdate struct {
	Name    *string `json:"name"`
	Age     *int    `json:"age"`
	Gender  *string `json:"gender"`
	Disease *string `json:"disease"`
	Notes   *string `json:"notes"`
}

const patientColumns = `
	p.id, p.doctor_id, p.name, p.age, p.gender, p.disease, p.notes, p.created_at, p.updated_at,
	(SELECT a.image_path FROM mri_analyses a WHERE a.patient_id = p.id ORDER BY a.id DESC LIMIT 1)`

type scanner interface {
	Scan(dest ...any) error
}

func scanPatient(row scanner) (*Patient, error) {
	var p Patient
	err := row.Scan(&p.ID, &p.DoctorID, &p.Name, &p.Age, &p.Gender, &p.Disease, &p.Notes,
		&p.CreatedAt, &p.UpdatedAt, &p.URL)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// CreatePatient inserts p for its doctor. An unknown doctor yields
// ErrNotFound.
func (s *Store) CreatePatient(ctx context.Context, p Patient) (*Patient, error) {
	if _, err := s.GetDoctor(ctx, p.DoctorID); err != nil {
		return nil, err
	}
	p.CreatedAt = now()
	p.UpdatedAt = p.CreatedAt
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO patients (doctor_id, name, age, gender, disease, notes, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.DoctorID, p.Name, p.Age, p.Gender, p.Disease, p.Notes, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("create patient: %w", err)
	}
	if p.ID, err = res.LastInsertId(); err != nil {
		return nil, err
	}
	p.URL = nil
	return &p, nil
}

// ListPatients returns the patients of a doctor ordered by ID.
func (s *Store) ListPatients(ctx context.Context, doctorID int64) ([]Patient, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+patientColumns+`
		FROM patients p WHERE p.doctor_id = ? ORDER BY p.id`, doctorID)
	if err != nil {
		return nil, fmt.Errorf("list patients: %w", err)
	}
	defer rows.Close()

	patients := []Patient{}
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, fmt.Errorf("list patients: %w", err)
		}
		patients = append(patients, *p)
	}
	return patients, rows.Err()
}

// GetPatient returns a patient of the given doctor.
func (s *Store) GetPatient(ctx context.Context, doctorID, id int64) (*Patient, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+patientColumns+`
		FROM patients p WHERE p.id = ? AND p.doctor_id = ?`, id, doctorID)
	p, err := scanPatient(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("patient %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get patient: %w", err)
	}
	return p, nil
}

// UpdatePatient applies u to a patient of the given doctor.
func (s *Store) UpdatePatient(ctx context.Context, doctorID, id int64, u PatientUpdate) (*Patient, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE patients SET
			name = COALESCE(?, name),
			age = COALESCE(?, age),
			gender = COALESCE(?, gender),
			disease = COALESCE(?, disease),
			notes = COALESCE(?, notes),
			updated_at = ?
		WHERE id = ? AND doctor_id = ?`,
		u.Name, u.Age, u.Gender, u.Disease, u.Notes, now(), id, doctorID)
	if err != nil {
		return nil, fmt.Errorf("update patient: %w", err)
	}
	if err := affected(res, "patient", id); err != nil {
		return nil, err
	}
	return s.GetPatient(ctx, doctorID, id)
}

// DeletePatient removes a patient of the given doctor and its analyses.
func (s *Store) DeletePatient(ctx context.Context, doctorID, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM patients WHERE id = ? AND doctor_id = ?`, id, doctorID)
	if err != nil {
		return fmt.Errorf("delete patient: %w", err)
	}
	return affected(res, "patient", id)
}
