package serialization

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/born-ml/mriscan/internal/tensor"
)

// SafeTensors element types.
const (
	SafeTensorsF32  = "F32"
	SafeTensorsF16  = "F16"
	SafeTensorsBF16 = "BF16"
)

const safeTensorsMetadataKey = "__metadata__"

type safeTensorsEntry struct {
	DType       string   `json:"dtype"`
	Shape       []int    `json:"shape"`
	DataOffsets [2]int64 `json:"data_offsets"`
}

// WriteSafeTensors writes tensors to path in SafeTensors format.
//
// dtype is SafeTensorsF32 or SafeTensorsF16; empty means F32. Tensors are
// laid out sorted by name.
func WriteSafeTensors(path string, tensors map[string]*tensor.Tensor, metadata map[string]string, dtype string) error {
	if dtype == "" {
		dtype = SafeTensorsF32
	}
	var bornType string
	switch dtype {
	case SafeTensorsF32:
		bornType = DTypeFloat32
	case SafeTensorsF16:
		bornType = DTypeFloat16
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedDType, dtype)
	}

	names := sortedNames(tensors)
	header := make(map[string]any, len(names)+1)
	if len(metadata) > 0 {
		header[safeTensorsMetadataKey] = metadata
	}
	var offset int64
	for _, name := range names {
		if err := validateTensorName(name); err != nil {
			return err
		}
		t := tensors[name]
		size := int64(t.NumElements() * dtypeSize(bornType))
		header[name] = safeTensorsEntry{
			DType:       dtype,
			Shape:       t.Shape().Clone(),
			DataOffsets: [2]int64{offset, offset + size},
		}
		offset += size
	}

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("failed to marshal header: %w", err)
	}
	// Pad with spaces to an 8-byte boundary.
	for len(headerJSON)%8 != 0 {
		headerJSON = append(headerJSON, ' ')
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".safetensors-*")
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer os.Remove(tmp.Name())

	w := bufio.NewWriterSize(tmp, 1<<20)
	if err := binary.Write(w, binary.LittleEndian, uint64(len(headerJSON))); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write header size: %w", err)
	}
	if _, err := w.Write(headerJSON); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write header: %w", err)
	}
	for _, name := range names {
		if err := encodeTensor(w, tensors[name], bornType); err != nil {
			tmp.Close()
			return fmt.Errorf("tensor %q: %w", name, err)
		}
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to flush: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close file: %w", err)
	}
	return os.Rename(tmp.Name(), path)
}

// ReadSafeTensors loads every tensor of a SafeTensors file as float32.
// F32, F16 and BF16 elements are supported.
func ReadSafeTensors(path string) (map[string]*tensor.Tensor, map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	r := bufio.NewReaderSize(f, 1<<20)
	var headerSize uint64
	if err := binary.Read(r, binary.LittleEndian, &headerSize); err != nil {
		return nil, nil, fmt.Errorf("failed to read header size: %w", err)
	}
	if headerSize > MaxHeaderSize {
		return nil, nil, fmt.Errorf("%w: %d bytes", ErrHeaderTooLarge, headerSize)
	}
	raw := make([]byte, headerSize)
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, nil, fmt.Errorf("failed to read header: %w", err)
	}

	var entries map[string]json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, nil, fmt.Errorf("failed to parse header JSON: %w", err)
	}

	var metadata map[string]string
	metas := make([]TensorMeta, 0, len(entries))
	srcTypes := make(map[string]string, len(entries))
	for name, msg := range entries {
		if name == safeTensorsMetadataKey {
			if err := json.Unmarshal(msg, &metadata); err != nil {
				return nil, nil, fmt.Errorf("failed to parse metadata: %w", err)
			}
			continue
		}
		var e safeTensorsEntry
		if err := json.Unmarshal(msg, &e); err != nil {
			return nil, nil, fmt.Errorf("tensor %q: %w", name, err)
		}
		var bornType string
		switch e.DType {
		case SafeTensorsF32:
			bornType = DTypeFloat32
		case SafeTensorsF16, SafeTensorsBF16:
			bornType = DTypeFloat16 // same element width
		default:
			return nil, nil, fmt.Errorf("tensor %q: %w: %s", name, ErrUnsupportedDType, e.DType)
		}
		metas = append(metas, TensorMeta{
			Name:   name,
			DType:  bornType,
			Shape:  e.Shape,
			Offset: e.DataOffsets[0],
			Size:   e.DataOffsets[1] - e.DataOffsets[0],
		})
		srcTypes[name] = e.DType
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read tensor data: %w", err)
	}
	if err := validateTensors(metas, int64(len(data))); err != nil {
		return nil, nil, err
	}

	out := make(map[string]*tensor.Tensor, len(metas))
	for _, m := range metas {
		t, err := decodeTensor(data[m.Offset:m.Offset+m.Size], srcTypes[m.Name], m.Shape)
		if err != nil {
			return nil, nil, fmt.Errorf("tensor %q: %w", m.Name, err)
		}
		out[m.Name] = t
	}
	return out, metadata, nil
}
