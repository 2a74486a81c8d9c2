// Package dataset reads a directory-per-class image tree and serves it as
// deterministic train/validation/test batches.
//
// Layout:
//
//	root/
//	  glioma/*.jpg
//	  meningioma/*.jpg
//	  notumor/*.jpg
//	  pituitary/*.jpg
//
// Class order is the lexicographic order of the class directory names and
// never depends on the order the file system lists them in.
package dataset

import (
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
)

// Defaults matching the trained models.
const (
	DefaultImageSize       = 256
	DefaultBatchSize       = 32
	DefaultValidationSplit = 0.2
	DefaultSeed            = 74
)

// DefaultClasses is the diagnostic class order every model is trained on.
var DefaultClasses = []string{"glioma", "meningioma", "notumor", "pituitary"}

// ErrConfiguration reports a malformed dataset layout: missing or
// mismatched class directories, or an empty split.
var ErrConfiguration = errors.New("dataset configuration error")

var imageExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".bmp": true, ".gif": true, ".webp": true, ".tif": true, ".tiff": true,
}

// Config controls how images are loaded and batched.
type Config struct {
	ImageSize int // Side of the square input (default 256)
	BatchSize int // Samples per batch (default 32)
	Workers   int // Concurrent image decoders (default NumCPU)

	// Classes, when set, must equal the discovered class directories.
	Classes []string
}

func (c Config) withDefaults() Config {
	if c.ImageSize <= 0 {
		c.ImageSize = DefaultImageSize
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.Workers <= 0 {
		c.Workers = runtime.NumCPU()
	}
	return c
}

// Sample is one labeled image file.
type Sample struct {
	Path  string
	Label int
}

// Dataset is the full list of samples found under a root directory.
type Dataset struct {
	root    string
	classes []string
	samples []Sample
	cfg     Config
}

// Open scans root for class directories and their image files.
//
// Returns ErrConfiguration if fewer than two classes are found, if a class
// has no images, or if the classes differ from cfg.Classes.
func Open(root string, cfg Config) (*Dataset, error) {
	cfg = cfg.withDefaults()

	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	var classes []string
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			classes = append(classes, e.Name())
		}
	}
	slices.Sort(classes)

	if len(classes) < 2 {
		return nil, fmt.Errorf("%w: %s has %d class directories, need at least 2", ErrConfiguration, root, len(classes))
	}
	if cfg.Classes != nil && !slices.Equal(classes, cfg.Classes) {
		return nil, fmt.Errorf("%w: %s has classes %v, expected %v", ErrConfiguration, root, classes, cfg.Classes)
	}

	var samples []Sample
	for label, class := range classes {
		files, err := listImages(filepath.Join(root, class))
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
		}
		if len(files) == 0 {
			return nil, fmt.Errorf("%w: class %q has no images", ErrConfiguration, class)
		}
		for _, f := range files {
			samples = append(samples, Sample{Path: f, Label: label})
		}
	}

	return &Dataset{root: root, classes: classes, samples: samples, cfg: cfg}, nil
}

func listImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if e.Type().IsRegular() && imageExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	slices.Sort(files)
	return files, nil
}

// Classes returns the class names in label order.
func (d *Dataset) Classes() []string {
	return slices.Clone(d.classes)
}

// Len returns the number of samples.
func (d *Dataset) Len() int {
	return len(d.samples)
}

// Samples returns a copy of all samples in scan order.
func (d *Dataset) Samples() []Sample {
	return slices.Clone(d.samples)
}

// All returns the whole dataset as one unshuffled split (e.g. the test set).
func (d *Dataset) All() *Split {
	return d.newSplit("all", slices.Clone(d.samples), 0, false)
}

// Split partitions the samples into training and validation subsets.
//
// The samples are shuffled with a generator seeded by seed, then the last
// int(fraction*N) samples become the validation split. The same dataset,
// fraction and seed always give the same partition. The training split is
// reshuffled every epoch; the validation split is not.
func (d *Dataset) Split(fraction float64, seed int64) (train, val *Split, err error) {
	if fraction <= 0 || fraction >= 1 {
		return nil, nil, fmt.Errorf("%w: validation fraction %g outside (0, 1)", ErrConfiguration, fraction)
	}
	shuffled := slices.Clone(d.samples)
	rng := rand.New(rand.NewSource(seed))
	rng.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	numVal := int(fraction * float64(len(shuffled)))
	numTrain := len(shuffled) - numVal
	if numVal == 0 || numTrain == 0 {
		return nil, nil, fmt.Errorf("%w: %d samples with fraction %g leave an empty split", ErrConfiguration, len(shuffled), fraction)
	}

	train = d.newSplit("training", shuffled[:numTrain], seed, true)
	val = d.newSplit("validation", shuffled[numTrain:], seed, false)
	return train, val, nil
}

func (d *Dataset) newSplit(name string, samples []Sample, seed int64, shuffle bool) *Split {
	return &Split{
		name:    name,
		samples: samples,
		classes: len(d.classes),
		cfg:     d.cfg,
		seed:    seed,
		shuffle: shuffle,
		load:    loadSample,
	}
}
