package train

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/born-ml/mriscan/internal/models"
)

// Epoch is one row of the training history.
type Epoch struct {
	Phase       string        `json:"phase"`
	Epoch       int           `json:"epoch"`
	Loss        float64       `json:"loss"`
	Accuracy    float64       `json:"accuracy"`
	ValLoss     float64       `json:"val_loss"`
	ValAccuracy float64       `json:"val_accuracy"`
	LR          float32       `json:"lr"`
	Duration    time.Duration `json:"duration_ns"`
}

// History records every epoch of a training run.
type History struct {
	RunID  string      `json:"run_id,omitempty"`
	Arch   models.Arch `json:"arch"`
	Epochs []Epoch     `json:"epochs"`
	Test   *Metrics    `json:"test,omitempty"`
}

// Phase returns the epochs of one phase.
func (h *History) Phase(name string) []Epoch {
	var out []Epoch
	for _, e := range h.Epochs {
		if e.Phase == name {
			out = append(out, e)
		}
	}
	return out
}

// HistoryPath returns where the history of the named artifact is written.
func HistoryPath(dir, name string) string {
	return filepath.Join(dir, name+".history.json")
}

// Save writes the history as indented JSON.
func (h *History) Save(path string) error {
	b, err := json.MarshalIndent(h, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("save history: %w", err)
	}
	return nil
}

// LoadHistory reads a history written by Save.
func LoadHistory(path string) (*History, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var h History
	if err := json.Unmarshal(b, &h); err != nil {
		return nil, fmt.Errorf("load history %s: %w", path, err)
	}
	return &h, nil
}
