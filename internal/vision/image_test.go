package vision

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func solid(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestDecode(t *testing.T) {
	img, format, err := Decode(encodePNG(t, solid(4, 3, color.White)))
	require.NoError(t, err)
	assert.Equal(t, "png", format)
	assert.Equal(t, 4, img.Bounds().Dx())

	_, _, err = Decode([]byte("definitely not an image"))
	assert.ErrorIs(t, err, ErrDecode)
}

func TestResizePadKeepsAspect(t *testing.T) {
	// 8x4 white image into a 8x8 canvas: rows 2..5 white, rest black.
	out := ResizePad(solid(8, 4, color.White), 8)
	require.Equal(t, image.Rect(0, 0, 8, 8), out.Bounds())

	assert.Equal(t, color.RGBA{0, 0, 0, 255}, out.RGBAAt(4, 0))
	assert.Equal(t, color.RGBA{0, 0, 0, 255}, out.RGBAAt(4, 7))
	assert.Equal(t, color.RGBA{255, 255, 255, 255}, out.RGBAAt(4, 3))
	assert.Equal(t, color.RGBA{255, 255, 255, 255}, out.RGBAAt(0, 4))
}

func TestFitSize(t *testing.T) {
	tests := []struct {
		w, h, size int
		wantW      int
		wantH      int
	}{
		{512, 512, 256, 256, 256},
		{512, 256, 256, 256, 128},
		{100, 300, 30, 10, 30},
		{1000, 1, 8, 8, 1},
	}
	for _, tt := range tests {
		w, h := fitSize(tt.w, tt.h, tt.size)
		assert.Equal(t, tt.wantW, w, "%dx%d", tt.w, tt.h)
		assert.Equal(t, tt.wantH, h, "%dx%d", tt.w, tt.h)
	}
}

func TestResizeExact(t *testing.T) {
	out := ResizeExact(solid(10, 20, color.Gray{128}), 4)
	assert.Equal(t, 4, out.Bounds().Dx())
	assert.Equal(t, 4, out.Bounds().Dy())

	same := solid(4, 4, color.White)
	assert.Same(t, same, ResizeExact(same, 4))
}

func TestToTensor(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 2, 1))
	img.SetGray(0, 0, color.Gray{255})
	img.SetGray(1, 0, color.Gray{51})

	x := ToTensor(img)
	assert.Equal(t, []int{1, 2, 3}, []int(x.Shape()))
	assert.Equal(t, []float32{1, 1, 1, 0.2, 0.2, 0.2}, x.Data())
}

func TestToTensorDropsAlpha(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 1, 1))
	img.SetNRGBA(0, 0, color.NRGBA{R: 255, G: 0, B: 51, A: 0})

	assert.Equal(t, []float32{1, 0, 0.2}, ToTensor(img).Data())
}

func TestLoadPadded(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scan.png")
	require.NoError(t, os.WriteFile(path, encodePNG(t, solid(6, 6, color.White)), 0o600))

	x, err := LoadPadded(path, 3)
	require.NoError(t, err)
	assert.Equal(t, []int{3, 3, 3}, []int(x.Shape()))
	for _, v := range x.Data() {
		assert.InDelta(t, 1.0, v, 1e-6)
	}

	_, err = LoadPadded(filepath.Join(t.TempDir(), "missing.png"), 3)
	assert.Error(t, err)
}
