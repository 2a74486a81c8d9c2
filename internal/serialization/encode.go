package serialization

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/d4l3k/go-bfloat16"
	"github.com/x448/float16"

	"github.com/born-ml/mriscan/internal/tensor"
)

const encodeChunk = 16 * 1024 // elements per write

// encodeTensor streams t to w in little-endian form using dtype.
func encodeTensor(w io.Writer, t *tensor.Tensor, dtype string) error {
	data := t.Data()
	size := dtypeSize(dtype)
	buf := make([]byte, min(len(data), encodeChunk)*size)

	for start := 0; start < len(data); start += encodeChunk {
		end := min(start+encodeChunk, len(data))
		b := buf[:(end-start)*size]
		switch dtype {
		case DTypeFloat32:
			for i, v := range data[start:end] {
				binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(v))
			}
		case DTypeFloat16:
			for i, v := range data[start:end] {
				binary.LittleEndian.PutUint16(b[i*2:], float16.Fromfloat32(v).Bits())
			}
		default:
			return fmt.Errorf("%w: %s", ErrUnsupportedDType, dtype)
		}
		if _, err := w.Write(b); err != nil {
			return err
		}
	}
	return nil
}

// decodeTensor builds a float32 tensor from raw little-endian bytes.
func decodeTensor(raw []byte, dtype string, shape tensor.Shape) (*tensor.Tensor, error) {
	var data []float32
	switch dtype {
	case DTypeFloat32, "F32":
		if len(raw)%4 != 0 {
			return nil, fmt.Errorf("float32 data length %d is not a multiple of 4", len(raw))
		}
		data = make([]float32, len(raw)/4)
		for i := range data {
			data[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
		}
	case DTypeFloat16, "F16":
		if len(raw)%2 != 0 {
			return nil, fmt.Errorf("float16 data length %d is not a multiple of 2", len(raw))
		}
		data = make([]float32, len(raw)/2)
		for i := range data {
			data[i] = float16.Frombits(binary.LittleEndian.Uint16(raw[i*2:])).Float32()
		}
	case "BF16":
		if len(raw)%2 != 0 {
			return nil, fmt.Errorf("bfloat16 data length %d is not a multiple of 2", len(raw))
		}
		data = bfloat16.DecodeFloat32(raw)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedDType, dtype)
	}
	return tensor.FromSlice(data, shape)
}

// alignUp rounds n up to the next multiple of HeaderAlignment.
func alignUp(n int64) int64 {
	return (n + HeaderAlignment - 1) / HeaderAlignment * HeaderAlignment
}
