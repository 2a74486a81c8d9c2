// Package vision decodes MRI scans and turns them into model input tensors.
package vision

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"os"

	// Registered decoders.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/nfnt/resize"
	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/born-ml/mriscan/internal/tensor"
)

// Channels is the number of color channels fed to every model.
const Channels = 3

// ErrDecode is returned when image bytes cannot be decoded.
var ErrDecode = errors.New("cannot decode image")

// Decode decodes JPEG, PNG, GIF, BMP, TIFF or WebP data.
func Decode(data []byte) (image.Image, string, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrDecode, err)
	}
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, "", fmt.Errorf("%w: empty image %dx%d", ErrDecode, b.Dx(), b.Dy())
	}
	return img, format, nil
}

// ResizePad scales img to fit a size×size square, preserving its aspect
// ratio, and centers it on a black canvas. Interpolation is bilinear.
func ResizePad(img image.Image, size int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(color.Black), image.Point{}, draw.Src)

	src := img.Bounds()
	w, h := fitSize(src.Dx(), src.Dy(), size)
	x0 := (size - w) / 2
	y0 := (size - h) / 2
	draw.BiLinear.Scale(dst, image.Rect(x0, y0, x0+w, y0+h), img, src, draw.Src, nil)
	return dst
}

// fitSize returns the largest w×h with the source aspect ratio inside size×size.
func fitSize(srcW, srcH, size int) (int, int) {
	if srcW >= srcH {
		h := max(1, int(float64(srcH)*float64(size)/float64(srcW)+0.5))
		return size, min(h, size)
	}
	w := max(1, int(float64(srcW)*float64(size)/float64(srcH)+0.5))
	return min(w, size), size
}

// ResizeExact stretches img to size×size with nearest-neighbor sampling,
// the way single images are prepared for prediction.
func ResizeExact(img image.Image, size int) image.Image {
	b := img.Bounds()
	if b.Dx() == size && b.Dy() == size {
		return img
	}
	return resize.Resize(uint(size), uint(size), img, resize.NearestNeighbor)
}

// ToTensor converts img to an [H, W, 3] tensor with values in [0, 1].
//
// Grayscale images are replicated across channels and alpha is dropped
// without compositing.
func ToTensor(img image.Image) *tensor.Tensor {
	b := img.Bounds()
	h, w := b.Dy(), b.Dx()
	out := tensor.Zeros(tensor.Shape{h, w, Channels})
	data := out.Data()
	i := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			data[i] = float32(c.R) / 255
			data[i+1] = float32(c.G) / 255
			data[i+2] = float32(c.B) / 255
			i += Channels
		}
	}
	return out
}

// LoadPadded reads an image file and returns it as a size×size×3 tensor
// using ResizePad.
func LoadPadded(path string, size int) (*tensor.Tensor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	img, _, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return ToTensor(ResizePad(img, size)), nil
}
