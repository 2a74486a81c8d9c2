package dataset

import (
	"context"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/mriscan/internal/tensor"
)

// writeTree creates root/<class>/img_<i>.png with perClass images per class.
// Every pixel of an image in class k has value 40*k.
func writeTree(t *testing.T, classes []string, perClass int) string {
	t.Helper()
	root := t.TempDir()
	for k, class := range classes {
		dir := filepath.Join(root, class)
		require.NoError(t, os.MkdirAll(dir, 0o755))
		for i := 0; i < perClass; i++ {
			img := image.NewGray(image.Rect(0, 0, 6, 4))
			for p := range img.Pix {
				img.Pix[p] = uint8(40 * k)
			}
			f, err := os.Create(filepath.Join(dir, fmt.Sprintf("img_%02d.png", i)))
			require.NoError(t, err)
			require.NoError(t, png.Encode(f, img))
			require.NoError(t, f.Close())
		}
		// Ignored entries.
		require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o600))
	}
	return root
}

func TestOpenSortsClasses(t *testing.T) {
	root := writeTree(t, []string{"pituitary", "glioma", "notumor", "meningioma"}, 2)

	ds, err := Open(root, Config{ImageSize: 4})
	require.NoError(t, err)
	assert.Equal(t, DefaultClasses, ds.Classes())
	assert.Equal(t, 8, ds.Len())

	samples := ds.Samples()
	assert.Equal(t, 0, samples[0].Label)
	assert.Equal(t, "img_00.png", filepath.Base(samples[0].Path))
	assert.Equal(t, 3, samples[7].Label)
}

func TestOpenConfigurationErrors(t *testing.T) {
	t.Run("missing root", func(t *testing.T) {
		_, err := Open(filepath.Join(t.TempDir(), "nope"), Config{})
		assert.ErrorIs(t, err, ErrConfiguration)
	})

	t.Run("single class", func(t *testing.T) {
		_, err := Open(writeTree(t, []string{"glioma"}, 2), Config{})
		assert.ErrorIs(t, err, ErrConfiguration)
	})

	t.Run("class mismatch", func(t *testing.T) {
		root := writeTree(t, []string{"glioma", "notumor", "pituitary"}, 1)
		_, err := Open(root, Config{Classes: DefaultClasses})
		assert.ErrorIs(t, err, ErrConfiguration)
	})

	t.Run("empty class", func(t *testing.T) {
		root := writeTree(t, []string{"a", "b"}, 1)
		require.NoError(t, os.MkdirAll(filepath.Join(root, "c"), 0o755))
		_, err := Open(root, Config{})
		assert.ErrorIs(t, err, ErrConfiguration)
	})
}

func TestSplitDeterministicDisjointComplete(t *testing.T) {
	root := writeTree(t, DefaultClasses, 10)
	ds, err := Open(root, Config{ImageSize: 4, BatchSize: 8})
	require.NoError(t, err)

	train1, val1, err := ds.Split(DefaultValidationSplit, DefaultSeed)
	require.NoError(t, err)
	train2, val2, err := ds.Split(DefaultValidationSplit, DefaultSeed)
	require.NoError(t, err)

	assert.Equal(t, train1.Samples(), train2.Samples())
	assert.Equal(t, val1.Samples(), val2.Samples())
	assert.Equal(t, 32, train1.Len())
	assert.Equal(t, 8, val1.Len())

	seen := map[string]string{}
	for _, s := range train1.Samples() {
		seen[s.Path] = "train"
	}
	for _, s := range val1.Samples() {
		_, dup := seen[s.Path]
		assert.False(t, dup, "sample %s in both splits", s.Path)
		seen[s.Path] = "val"
	}
	assert.Len(t, seen, ds.Len())

	_, other, err := ds.Split(DefaultValidationSplit, 1)
	require.NoError(t, err)
	assert.NotEqual(t, val1.Samples(), other.Samples())
}

func TestSplitEmpty(t *testing.T) {
	ds, err := Open(writeTree(t, []string{"a", "b"}, 1), Config{})
	require.NoError(t, err)

	_, _, err = ds.Split(0.2, DefaultSeed) // int(0.4) == 0 validation samples
	assert.ErrorIs(t, err, ErrConfiguration)

	_, _, err = ds.Split(1.5, DefaultSeed)
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestBatch(t *testing.T) {
	ds, err := Open(writeTree(t, []string{"a", "b"}, 5), Config{ImageSize: 4, BatchSize: 4, Workers: 3})
	require.NoError(t, err)

	all := ds.All()
	assert.Equal(t, 3, all.NumBatches())

	x, y, err := all.Batch(context.Background(), 0, 2)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 4, 4, 3}, []int(x.Shape()))
	assert.Equal(t, []int{2, 2}, []int(y.Shape()))
	// Last two samples belong to class "b".
	assert.Equal(t, []float32{0, 1, 0, 1}, y.Data())

	// 6x4 scans become 4x3 plus one black padding row.
	assert.InDelta(t, 40.0/255, x.At(0, 1, 2, 0), 2.0/255)
	assert.Equal(t, float32(0), x.At(0, 3, 0, 0))

	_, _, err = all.Batch(context.Background(), 0, 3)
	assert.Error(t, err)
}

func TestTrainingOrderChangesPerEpoch(t *testing.T) {
	ds, err := Open(writeTree(t, DefaultClasses, 10), Config{ImageSize: 4})
	require.NoError(t, err)
	train, val, err := ds.Split(0.2, DefaultSeed)
	require.NoError(t, err)

	assert.Equal(t, train.Order(3), train.Order(3))
	assert.NotEqual(t, train.Order(0), train.Order(1))
	assert.ElementsMatch(t, train.Order(0), train.Order(1))
	assert.Equal(t, val.Order(0), val.Order(1))
}

func TestEachStopsOnError(t *testing.T) {
	ds, err := Open(writeTree(t, []string{"a", "b"}, 4), Config{ImageSize: 4, BatchSize: 2})
	require.NoError(t, err)

	calls := 0
	stop := fmt.Errorf("stop")
	err = ds.All().Each(context.Background(), 0, func(x, y *tensor.Tensor) error {
		calls++
		if calls == 2 {
			return stop
		}
		return nil
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 2, calls)
}

func TestBatchCanceled(t *testing.T) {
	ds, err := Open(writeTree(t, []string{"a", "b"}, 4), Config{ImageSize: 4, BatchSize: 8, Workers: 1})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err = ds.All().Batch(ctx, 0, 0)
	assert.ErrorIs(t, err, context.Canceled)
}
