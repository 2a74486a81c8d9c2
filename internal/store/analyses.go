package store

import (
	"context"
	"fmt"
	"time"
)

// Analysis is one stored prediction for a patient's scan.
type Analysis struct {
	ID             int64  `json:"id"`
	PatientID      int64  `json:"patientId"`
	ImagePath      string `json:"imagePath"`
	PredictedClass string `json:"predictedClass"`

	// Probabilities is the JSON object of class probabilities, in model
	// class order.
	Probabilities string    `json:"probabilities"`
	CreatedAt     time.Time `json:"createdAt"`
}

// CreateAnalysis stores a for its patient.
func (s *Store) CreateAnalysis(ctx context.Context, a Analysis) (*Analysis, error) {
	a.CreatedAt = now()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO mri_analyses (patient_id, image_path, predicted_class, probabilities, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		a.PatientID, a.ImagePath, a.PredictedClass, a.Probabilities, a.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("create analysis: %w", err)
	}
	if a.ID, err = res.LastInsertId(); err != nil {
		return nil, err
	}
	return &a, nil
}

// ListAnalyses returns the analyses of a patient of the given doctor,
// oldest first.
func (s *Store) ListAnalyses(ctx context.Context, doctorID, patientID int64) ([]Analysis, error) {
	if _, err := s.GetPatient(ctx, doctorID, patientID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, patient_id, image_path, predicted_class, probabilities, created_at
		FROM mri_analyses WHERE patient_id = ? ORDER BY id`, patientID)
	if err != nil {
		return nil, fmt.Errorf("list analyses: %w", err)
	}
	defer rows.Close()

	analyses := []Analysis{}
	for rows.Next() {
		var a Analysis
		if err := rows.Scan(&a.ID, &a.PatientID, &a.ImagePath, &a.PredictedClass, &a.Probabilities, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("list analyses: %w", err)
		}
		analyses = append(analyses, a)
	}
	return analyses, rows.Err()
}
