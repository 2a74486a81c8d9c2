// Package train runs the multi-phase training of the MRI models.
//
// A Plan lists the phases of one component. Each Phase trains the model
// with Adam against softmax cross-entropy on the logits, evaluates the
// validation split after every epoch, checkpoints on a new best
// validation loss and stops early once the loss plateaus. A phase starts
// from the best weights restored at the end of the phase before it.
package train

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/born-ml/mriscan/internal/logutil"
	"github.com/born-ml/mriscan/internal/models"
	"github.com/born-ml/mriscan/internal/nn"
	"github.com/born-ml/mriscan/internal/optim"
	"github.com/born-ml/mriscan/internal/tensor"
)

// ErrTrainingDiverged is returned when the loss becomes NaN or infinite.
// Training is not recovered; rerun with adjusted hyperparameters.
var ErrTrainingDiverged = errors.New("training diverged")

// Batches is an epoch-ordered stream of image batches with one-hot labels.
// *dataset.Split implements it.
type Batches interface {
	Len() int
	Each(ctx context.Context, epoch int, fn func(x, y *tensor.Tensor) error) error
}

// Metrics are sample-weighted means over one pass of a split.
type Metrics struct {
	Loss     float64 `json:"loss"`
	Accuracy float64 `json:"accuracy"`
}

// Trainer trains one model across phases.
type Trainer struct {
	model      models.Model
	train, val Batches
	checkpoint *ModelCheckpoint
	logger     *slog.Logger

	opt     *optim.Adam
	epochs  int // epochs run across all phases, seeds the data order
	history History
}

// NewTrainer returns a trainer for m. checkpoint may be nil to disable
// checkpointing; logger may be nil for slog.Default().
func NewTrainer(m models.Model, train, val Batches, checkpoint *ModelCheckpoint, logger *slog.Logger) *Trainer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Trainer{
		model:      m,
		train:      train,
		val:        val,
		checkpoint: checkpoint,
		logger:     logger,
		history:    History{Arch: m.Arch()},
	}
}

// Model returns the model being trained.
func (t *Trainer) Model() models.Model { return t.model }

// History returns the epochs run so far.
func (t *Trainer) History() *History { return &t.history }

// Fit runs the phases in order.
func (t *Trainer) Fit(ctx context.Context, phases []Phase) (*History, error) {
	for _, p := range phases {
		if err := t.RunPhase(ctx, p); err != nil {
			return &t.history, err
		}
	}
	return &t.history, nil
}

// RunPhase trains one phase. On return without error the model holds the
// best weights monitored by early stopping.
func (t *Trainer) RunPhase(ctx context.Context, p Phase) error {
	if err := p.Validate(); err != nil {
		return err
	}
	switch p.Freeze {
	case FreezeBackbone:
		setBackbones(t.model, nn.Freeze)
	case UnfreezeBackbone:
		setBackbones(t.model, nn.Unfreeze)
	}
	if p.LR > 0 || t.opt == nil {
		t.opt = optim.NewAdam(nn.TrainableParameters(t.model), optim.AdamConfig{LR: p.LR})
	}

	trainable, frozen := nn.CountParameters(t.model)
	t.logger.Info("phase start", "phase", p.Name, "epochs", p.Epochs, "lr", t.opt.GetLR(),
		"start_from_epoch", p.StartFromEpoch, "trainable", trainable, "non_trainable", frozen)

	es := NewEarlyStopping(p.StartFromEpoch)
	for epoch := 0; epoch < p.Epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if p.Schedule != nil {
			t.opt.SetLR(p.Schedule(epoch, t.opt.GetLR()))
		}

		start := time.Now()
		trainMetrics, err := t.trainEpoch(ctx)
		if err != nil {
			return fmt.Errorf("%s epoch %d: %w", p.Name, epoch+1, err)
		}
		valMetrics, err := Evaluate(ctx, t.model, t.val)
		if err != nil {
			return fmt.Errorf("%s epoch %d: %w", p.Name, epoch+1, err)
		}
		if isNonFinite(valMetrics.Loss) {
			return fmt.Errorf("%s epoch %d: %w: val_loss %v", p.Name, epoch+1, ErrTrainingDiverged, valMetrics.Loss)
		}
		t.epochs++

		rec := Epoch{
			Phase:       p.Name,
			Epoch:       epoch,
			Loss:        trainMetrics.Loss,
			Accuracy:    trainMetrics.Accuracy,
			ValLoss:     valMetrics.Loss,
			ValAccuracy: valMetrics.Accuracy,
			LR:          t.opt.GetLR(),
			Duration:    time.Since(start),
		}
		t.history.Epochs = append(t.history.Epochs, rec)
		t.logger.Info("epoch", "phase", p.Name, "epoch", epoch+1, "of", p.Epochs,
			"loss", rec.Loss, "accuracy", rec.Accuracy,
			"val_loss", rec.ValLoss, "val_accuracy", rec.ValAccuracy,
			"lr", rec.LR, "duration", rec.Duration.Round(time.Millisecond))

		if t.checkpoint != nil {
			saved, err := t.checkpoint.Observe(epoch, p.Name, valMetrics.Loss, t.model, t.opt)
			if err != nil {
				return fmt.Errorf("%s epoch %d: %w", p.Name, epoch+1, err)
			}
			if saved {
				t.logger.Debug("checkpoint saved", "path", t.checkpoint.Path, "val_loss", valMetrics.Loss)
			}
		}

		stop, err := es.Observe(epoch, valMetrics.Loss, t.model)
		if err != nil {
			return err
		}
		if stop {
			t.logger.Info("early stopping", "phase", p.Name, "epoch", epoch+1, "best_epoch", es.BestEpoch()+1)
			break
		}
	}

	restored, err := es.Restore(t.model)
	if err != nil {
		return err
	}
	if restored {
		t.logger.Info("restored best weights", "phase", p.Name, "epoch", es.BestEpoch()+1)
	}
	return nil
}

func (t *Trainer) trainEpoch(ctx context.Context) (Metrics, error) {
	var sum float64
	var correct, seen, step int
	err := t.train.Each(ctx, t.epochs, func(x, y *tensor.Tensor) error {
		logits := t.model.Forward(x, true)
		loss, grad := nn.SoftmaxCrossEntropy(logits, y)
		if isNonFinite(loss) {
			return fmt.Errorf("%w: loss %v", ErrTrainingDiverged, loss)
		}
		t.model.Backward(grad)
		t.opt.Step()
		t.opt.ZeroGrad()
		logutil.Trace(t.logger, "batch", "step", step, "loss", loss)
		step++

		n := x.Dim(0)
		sum += loss * float64(n)
		correct += nn.Accuracy(logits, y)
		seen += n
		return nil
	})
	if err != nil {
		return Metrics{}, err
	}
	return mean(sum, correct, seen), nil
}

// Evaluate runs m in inference mode over data.
func Evaluate(ctx context.Context, m nn.Module, data Batches) (Metrics, error) {
	var sum float64
	var correct, seen int
	err := data.Each(ctx, 0, func(x, y *tensor.Tensor) error {
		logits := m.Forward(x, false)
		loss, _ := nn.SoftmaxCrossEntropy(logits, y)
		n := x.Dim(0)
		sum += loss * float64(n)
		correct += nn.Accuracy(logits, y)
		seen += n
		return nil
	})
	if err != nil {
		return Metrics{}, err
	}
	return mean(sum, correct, seen), nil
}

// Predictions returns the true and predicted class of every sample in data.
func Predictions(ctx context.Context, m nn.Module, data Batches) (truth, pred []int, err error) {
	err = data.Each(ctx, 0, func(x, y *tensor.Tensor) error {
		logits := m.Forward(x, false)
		k := logits.Dim(1)
		for n := 0; n < logits.Dim(0); n++ {
			truth = append(truth, nn.Argmax(y.Data()[n*k:(n+1)*k]))
			pred = append(pred, nn.Argmax(logits.Data()[n*k:(n+1)*k]))
		}
		return nil
	})
	return truth, pred, err
}

func mean(sum float64, correct, seen int) Metrics {
	if seen == 0 {
		return Metrics{Loss: math.NaN()}
	}
	return Metrics{Loss: sum / float64(seen), Accuracy: float64(correct) / float64(seen)}
}

func isNonFinite(v float64) bool {
	return math.IsNaN(v) || math.IsInf(v, 0)
}

// setBackbones applies fn to every extractor of m.
func setBackbones(m models.Model, fn func(nn.Module)) {
	switch m := m.(type) {
	case *models.Classifier:
		fn(m.Backbone())
	case *models.Ensemble:
		vgg, resnet, cnn := m.Backbones()
		fn(vgg)
		fn(resnet)
		fn(cnn)
	}
}
