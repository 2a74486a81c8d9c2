package train

import (
	"fmt"
	"math"

	"github.com/born-ml/mriscan/internal/artifact"
	"github.com/born-ml/mriscan/internal/models"
	"github.com/born-ml/mriscan/internal/nn"
	"github.com/born-ml/mriscan/internal/optim"
	"github.com/born-ml/mriscan/internal/serialization"
	"github.com/born-ml/mriscan/internal/tensor"
)

// Early stopping defaults.
const (
	DefaultPatience = 3
	DefaultMinDelta = 1e-3
)

// EarlyStopping halts a phase once the validation loss stops improving.
//
// Epochs before StartFromEpoch are ignored entirely. From then on an epoch
// improves when its loss is lower than the best seen by more than MinDelta;
// after Patience epochs without improvement the phase stops. With
// RestoreBest, the weights of the best monitored epoch are put back when
// the phase ends, whether or not it stopped early.
//
// Call Reset before first use when not built by NewEarlyStopping.
type EarlyStopping struct {
	Patience       int
	MinDelta       float64
	StartFromEpoch int
	RestoreBest    bool

	wait         int // epochs since the last improvement
	best         float64
	bestEpoch    int
	stoppedEpoch int
	bestState    map[string]*tensor.Tensor
}

// NewEarlyStopping returns an early-stopping monitor with the default
// patience and minimum delta that restores the best weights.
func NewEarlyStopping(startFromEpoch int) *EarlyStopping {
	es := &EarlyStopping{
		Patience:       DefaultPatience,
		MinDelta:       DefaultMinDelta,
		StartFromEpoch: startFromEpoch,
		RestoreBest:    true,
	}
	es.Reset()
	return es
}

// Reset clears the monitor for a new phase.
func (es *EarlyStopping) Reset() {
	es.wait = 0
	es.best = math.Inf(1)
	es.bestEpoch = -1
	es.stoppedEpoch = -1
	es.bestState = nil
}

// Observe records the validation loss of a 0-indexed epoch and reports
// whether training should stop. m may be nil when RestoreBest is false.
func (es *EarlyStopping) Observe(epoch int, valLoss float64, m nn.Module) (bool, error) {
	if epoch < es.StartFromEpoch {
		return false, nil
	}
	if es.RestoreBest && es.bestState == nil {
		if err := es.snapshot(m); err != nil {
			return false, err
		}
	}

	es.wait++
	if valLoss+es.MinDelta < es.best {
		es.best = valLoss
		es.bestEpoch = epoch
		es.wait = 0
		if es.RestoreBest {
			if err := es.snapshot(m); err != nil {
				return false, err
			}
		}
		return false, nil
	}
	if es.wait >= es.Patience && epoch > 0 {
		es.stoppedEpoch = epoch
		return true, nil
	}
	return false, nil
}

func (es *EarlyStopping) snapshot(m nn.Module) error {
	state, err := nn.SnapshotState(m)
	if err != nil {
		return fmt.Errorf("early stopping: %w", err)
	}
	es.bestState = state
	return nil
}

// Restore loads the best recorded weights into m. It is a no-op when no
// epoch was monitored or RestoreBest is off.
func (es *EarlyStopping) Restore(m nn.Module) (bool, error) {
	if !es.RestoreBest || es.bestState == nil {
		return false, nil
	}
	if err := nn.LoadStateDict(m, es.bestState, true); err != nil {
		return false, fmt.Errorf("restore best weights: %w", err)
	}
	return true, nil
}

// BestEpoch returns the epoch of the best monitored loss, or -1.
func (es *EarlyStopping) BestEpoch() int { return es.bestEpoch }

// StoppedEpoch returns the epoch training stopped at, or -1.
func (es *EarlyStopping) StoppedEpoch() int { return es.stoppedEpoch }

// ModelCheckpoint persists the model whenever the validation loss reaches
// a new minimum. Its best value persists across phases, so a later phase
// can only overwrite the file with a better model.
type ModelCheckpoint struct {
	Path string

	best  float64
	saves int
}

// NewModelCheckpoint returns a checkpoint writing to path.
func NewModelCheckpoint(path string) *ModelCheckpoint {
	return &ModelCheckpoint{Path: path, best: math.Inf(1)}
}

// Observe saves m, and the state of opt when it is not nil, if valLoss is
// lower than every loss saved before. NaN never improves.
func (c *ModelCheckpoint) Observe(epoch int, phase string, valLoss float64, m models.Model, opt *optim.Adam) (bool, error) {
	if !(valLoss < c.best) {
		return false, nil
	}
	var optState map[string]*tensor.Tensor
	if opt != nil {
		optState = opt.StateDict()
	}
	err := artifact.SaveCheckpoint(c.Path, m, optState, serialization.CheckpointMeta{
		Epoch:   epoch,
		Phase:   phase,
		ValLoss: valLoss,
	})
	if err != nil {
		return false, err
	}
	c.best = valLoss
	c.saves++
	return true, nil
}

// Best returns the lowest saved validation loss, or +Inf.
func (c *ModelCheckpoint) Best() float64 { return c.best }

// Saves returns how many times the checkpoint was written.
func (c *ModelCheckpoint) Saves() int { return c.saves }

// Schedule maps a 0-indexed epoch of a phase and the current learning rate
// to the learning rate used for that epoch.
type Schedule func(epoch int, lr float32) float32

// StepDecay multiplies the learning rate by factor on every epoch that is
// a multiple of every, starting with epoch 0.
func StepDecay(every int, factor float32) Schedule {
	return func(epoch int, lr float32) float32 {
		if epoch%every == 0 {
			return lr * factor
		}
		return lr
	}
}
