// Package store persists doctors, their patients and MRI analyses in SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
)

var (
	// ErrNotFound is returned when a row does not exist or belongs to
	// another doctor.
	ErrNotFound = errors.New("not found")

	// ErrDuplicate is returned when a unique column already holds the value.
	ErrDuplicate = errors.New("already exists")
)

// Store wraps the SQLite connection. SQLite serializes writers itself, so
// no application-level locking is needed.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path and applies the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize database: %w", err)
	}
	return s, nil
}

// Close checkpoints the write-ahead log and closes the database.
func (s *Store) Close() error {
	_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE);")
	return s.db.Close()
}

func (s *Store) init() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS doctors (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		email TEXT NOT NULL UNIQUE,
		specialization TEXT NOT NULL,
		profile_image TEXT,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS patients (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		doctor_id INTEGER NOT NULL,
		name TEXT NOT NULL,
		age INTEGER NOT NULL,
		gender TEXT NOT NULL,
		disease TEXT NOT NULL,
		notes TEXT,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		FOREIGN KEY (doctor_id) REFERENCES doctors(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_patients_doctor_id ON patients(doctor_id);

	CREATE TABLE IF NOT EXISTS mri_analyses (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		patient_id INTEGER NOT NULL,
		image_path TEXT NOT NULL,
		predicted_class TEXT NOT NULL,
		probabilities TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		FOREIGN KEY (patient_id) REFERENCES patients(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_mri_analyses_patient_id ON mri_analyses(patient_id);
	`)
	return err
}

func now() time.Time { return time.Now().UTC() }

func isUnique(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintUnique
}

// Doctor is a registered physician.
type Doctor struct {
	ID             int64     `json:"id"`
	Name           string    `json:"name"`
	Email          string    `json:"email"`
	Specialization string    `json:"specialization"`
	ProfileImage   *string   `json:"profileImage"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// CreateDoctor inserts d and returns it with its ID and timestamps set.
// A taken email yields ErrDuplicate.
func (s *Store) CreateDoctor(ctx context.Context, d Doctor) (*Doctor, error) {
	d.CreatedAt = now()
	d.UpdatedAt = d.CreatedAt
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO doctors (name, email, specialization, profile_image, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		d.Name, d.Email, d.Specialization, d.ProfileImage, d.CreatedAt, d.UpdatedAt)
	if isUnique(err) {
		return nil, fmt.Errorf("doctor %s: %w", d.Email, ErrDuplicate)
	}
	if err != nil {
		return nil, fmt.Errorf("create doctor: %w", err)
	}
	if d.ID, err = res.LastInsertId(); err != nil {
		return nil, err
	}
	return &d, nil
}

// GetDoctor returns the doctor with the given ID.
func (s *Store) GetDoctor(ctx context.Context, id int64) (*Doctor, error) {
	var d Doctor
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, email, specialization, profile_image, created_at, updated_at
		FROM doctors WHERE id = ?`, id).
		Scan(&d.ID, &d.Name, &d.Email, &d.Specialization, &d.ProfileImage, &d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("doctor %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get doctor: %w", err)
	}
	return &d, nil
}

// DoctorUpdate holds the fields to change; nil fields are kept.
type DoctorUpdate struct {
	Name           *string `json:"name"`
	Specialization *string `json:"specialization"`
	ProfileImage   *string `json:"profileImage"`
}

// UpdateDoctor applies u to the doctor with the given ID.
func (s *Store) UpdateDoctor(ctx context.Context, id int64, u DoctorUpdate) (*Doctor, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE doctors SET
			name = COALESCE(?, name),
			specialization = COALESCE(?, specialization),
			profile_image = COALESCE(?, profile_image),
			updated_at = ?
		WHERE id = ?`,
		u.Name, u.Specialization, u.ProfileImage, now(), id)
	if err != nil {
		return nil, fmt.Errorf("update doctor: %w", err)
	}
	if err := affected(res, "doctor", id); err != nil {
		return nil, err
	}
	return s.GetDoctor(ctx, id)
}

func affected(res sql.Result, what string, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s %d: %w", what, id, ErrNotFound)
	}
	return nil
}
