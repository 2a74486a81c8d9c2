package train

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/born-ml/mriscan/internal/artifact"
	"github.com/born-ml/mriscan/internal/dataset"
	"github.com/born-ml/mriscan/internal/models"
	"github.com/born-ml/mriscan/internal/nn"
)

// Dataset subdirectories.
const (
	TrainingDir = "Training"
	TestingDir  = "Testing"
)

// Options configures Run and RunAll.
type Options struct {
	DatasetDir    string // contains Training/ and, optionally, Testing/
	TrainedDir    string // artifacts are written here
	CheckpointDir string // best-validation checkpoints are written here
	PretrainedDir string // optional <backbone>.safetensors ImageNet weights

	Data            dataset.Config
	ValidationSplit float64 // default 0.2
	Seed            int64   // default 74
	Model           models.Config

	// Epochs caps every phase when positive.
	Epochs int

	// Parallel trains the independent extractors of RunAll concurrently.
	Parallel bool

	Logger *slog.Logger
	Report io.Writer // receives classification reports when set
}

func (o Options) withDefaults() Options {
	if o.ValidationSplit == 0 {
		o.ValidationSplit = dataset.DefaultValidationSplit
	}
	if o.Seed == 0 {
		o.Seed = dataset.DefaultSeed
	}
	if o.Data.ImageSize <= 0 {
		o.Data.ImageSize = dataset.DefaultImageSize
	}
	if o.Data.Classes == nil {
		o.Data.Classes = dataset.DefaultClasses
	}
	o.Model.InputSize = o.Data.ImageSize
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Result describes one trained component.
type Result struct {
	Plan    Plan
	Skipped bool
	History *History
	Test    *Metrics
	Report  *Report
}

// Run trains the component described by plan, saves its artifacts and, if
// a test split exists, evaluates it.
//
// An ensemble fails with artifact.ErrArtifactMissing when any of its
// extractors has not been trained.
func Run(ctx context.Context, plan Plan, opts Options) (*Result, error) {
	opts = opts.withDefaults()
	plan = plan.WithEpochs(opts.Epochs)
	runID := uuid.NewString()
	logger := opts.Logger.With("component", plan.Component, "run", runID)

	data, err := dataset.Open(filepath.Join(opts.DatasetDir, TrainingDir), opts.Data)
	if err != nil {
		return nil, err
	}
	trainSplit, valSplit, err := data.Split(opts.ValidationSplit, opts.Seed)
	if err != nil {
		return nil, err
	}
	classes := data.Classes()
	logger.Info("dataset", "classes", classes, "training", trainSplit.Len(), "validation", valSplit.Len())

	m, err := buildModel(plan, classes, opts, logger)
	if err != nil {
		return nil, err
	}
	logger.Info("model", "model", m.String())

	ckpt := NewModelCheckpoint(artifact.Path(opts.CheckpointDir, plan.Artifact))
	trainer := NewTrainer(m, trainSplit, valSplit, ckpt, logger)
	trainer.History().RunID = runID

	start := time.Now()
	history, err := trainer.Fit(ctx, plan.Phases)
	if err != nil {
		return nil, fmt.Errorf("train %s: %w", plan.Component, err)
	}
	logger.Info("training done", "epochs", len(history.Epochs), "duration", time.Since(start).Round(time.Second))

	if err := artifact.Save(opts.TrainedDir, plan.Artifact, m); err != nil {
		return nil, err
	}
	logger.Info("saved", "path", artifact.Path(opts.TrainedDir, plan.Artifact))

	res := &Result{Plan: plan, History: history}
	if err := evaluate(ctx, res, m, opts, logger); err != nil {
		return nil, err
	}
	if err := history.Save(HistoryPath(opts.TrainedDir, plan.Artifact)); err != nil {
		return nil, err
	}
	return res, nil
}

func evaluate(ctx context.Context, res *Result, m models.Model, opts Options, logger *slog.Logger) error {
	metrics, report, err := Test(ctx, m, opts)
	if errors.Is(err, fs.ErrNotExist) {
		logger.Warn("no test split, skipping evaluation", "dir", filepath.Join(opts.DatasetDir, TestingDir))
		return nil
	}
	if err != nil {
		return err
	}
	logger.Info("test", "loss", metrics.Loss, "accuracy", metrics.Accuracy)
	if opts.Report != nil {
		fmt.Fprintf(opts.Report, "\n%s\n\n", res.Plan.Artifact)
		report.Render(opts.Report)
	}
	res.Test = metrics
	res.Report = report
	res.History.Test = metrics
	return nil
}

// Test evaluates m on the Testing split under opts.DatasetDir, using the
// class order and input size m was trained with. The error wraps
// fs.ErrNotExist when there is no test split.
func Test(ctx context.Context, m models.Model, opts Options) (*Metrics, *Report, error) {
	opts = opts.withDefaults()
	arch := m.Arch()
	cfg := opts.Data
	cfg.Classes = arch.Classes
	cfg.ImageSize = arch.InputSize
	test, err := dataset.Open(filepath.Join(opts.DatasetDir, TestingDir), cfg)
	if err != nil {
		return nil, nil, err
	}

	metrics, err := Evaluate(ctx, m, test.All())
	if err != nil {
		return nil, nil, fmt.Errorf("evaluate: %w", err)
	}
	truth, pred, err := Predictions(ctx, m, test.All())
	if err != nil {
		return nil, nil, fmt.Errorf("evaluate: %w", err)
	}
	report, err := ClassificationReport(arch.Classes, truth, pred)
	if err != nil {
		return nil, nil, err
	}
	return &metrics, report, nil
}

// buildMu keeps seeding and weight initialization of one model together
// when RunAll builds extractors concurrently.
var buildMu sync.Mutex

func buildModel(plan Plan, classes []string, opts Options, logger *slog.Logger) (models.Model, error) {
	buildMu.Lock()
	defer buildMu.Unlock()
	nn.SeedInit(opts.Seed)

	cfg := opts.Model
	switch plan.Kind {
	case models.KindVGG16:
		m := models.NewVGG16Classifier(cfg, classes)
		return m, loadPretrained(m.Backbone(), opts.PretrainedDir, logger)
	case models.KindResNet50V2:
		m := models.NewResNet50V2Classifier(cfg, classes)
		return m, loadPretrained(m.Backbone(), opts.PretrainedDir, logger)
	case models.KindCNN:
		return models.NewCNNClassifier(cfg, classes, plan.Binarize), nil
	case models.KindEnsemble:
		return buildEnsemble(plan, classes, opts)
	default:
		return nil, fmt.Errorf("%w: %q", models.ErrUnknownArch, plan.Kind)
	}
}

// loadPretrained loads <dir>/<backbone>.safetensors when present.
func loadPretrained(b *models.Backbone, dir string, logger *slog.Logger) error {
	path := filepath.Join(dir, b.Name()+".safetensors")
	if dir == "" || !artifact.Exists(path) {
		logger.Warn("no pretrained weights, backbone starts from random initialization", "backbone", b.Name(), "path", path)
		return nil
	}
	if err := b.LoadPretrained(path); err != nil {
		return err
	}
	logger.Info("loaded pretrained weights", "backbone", b.Name(), "path", path)
	return nil
}

func buildEnsemble(plan Plan, classes []string, opts Options) (models.Model, error) {
	if len(plan.Extractors) != 3 {
		return nil, fmt.Errorf("ensemble needs 3 extractors, plan lists %d", len(plan.Extractors))
	}
	var bases [3]*models.Backbone
	for i, name := range plan.Extractors {
		arch, _, err := artifact.ReadArch(artifact.BasePath(opts.TrainedDir, name))
		if err != nil {
			return nil, fmt.Errorf("ensemble extractor %s: %w", name, err)
		}
		if !slices.Equal(arch.Classes, classes) {
			return nil, fmt.Errorf("ensemble extractor %s: %w: trained on %v, dataset has %v",
				name, artifact.ErrClassMismatch, arch.Classes, classes)
		}
		b, err := artifact.LoadBackbone(opts.TrainedDir, name, opts.Model.Backend)
		if err != nil {
			return nil, fmt.Errorf("ensemble extractor %s: %w", name, err)
		}
		bases[i] = b
	}
	e, err := models.NewEnsemble(opts.Model, classes, bases[0], bases[1], bases[2])
	if err != nil {
		return nil, err
	}
	return e, nil
}

// Trained reports whether the artifacts of plan already exist: the base
// for an extractor, the full model for the ensemble.
func Trained(plan Plan, trainedDir string) bool {
	if plan.Kind == models.KindEnsemble {
		return artifact.Exists(artifact.Path(trainedDir, plan.Artifact))
	}
	return artifact.Exists(artifact.BasePath(trainedDir, plan.Artifact))
}

// RunAll trains every component that has not been trained yet, extractors
// first and the ensemble last. With opts.Parallel the extractors train
// concurrently; they share no mutable state.
func RunAll(ctx context.Context, opts Options) ([]*Result, error) {
	opts = opts.withDefaults()
	all := Plans()
	results := make([]*Result, len(all))

	run := func(ctx context.Context, i int) error {
		p := all[i]
		if Trained(p, opts.TrainedDir) {
			opts.Logger.Info("already trained, skipping", "component", p.Component)
			results[i] = &Result{Plan: p, Skipped: true}
			return nil
		}
		res, err := Run(ctx, p, opts)
		if err != nil {
			return err
		}
		results[i] = res
		return nil
	}

	last := len(all) - 1
	g, gctx := errgroup.WithContext(ctx)
	if !opts.Parallel {
		g.SetLimit(1)
	}
	for i := 0; i < last; i++ {
		i := i // per-iteration copy (go 1.21 loop semantics)
		g.Go(func() error { return run(gctx, i) })
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	if err := run(ctx, last); err != nil {
		return results, err
	}
	return results, nil
}
