package serialization

import (
	"bufio"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/born-ml/mriscan/internal/tensor"
)

// WriterOptions configures WriteBorn.
type WriterOptions struct {
	ModelType  string
	AppVersion string
	Metadata   map[string]string
	Checkpoint *CheckpointMeta
	// DType selects the on-disk element type. Defaults to float32.
	DType string
}

// WriteBorn writes tensors to path in .born format.
//
// Tensors are stored sorted by name. The file is written to a temporary
// sibling and renamed into place, so readers never observe a partial file.
func WriteBorn(path string, tensors map[string]*tensor.Tensor, opts WriterOptions) error {
	dtype := opts.DType
	if dtype == "" {
		dtype = DTypeFloat32
	}
	if dtype != DTypeFloat32 && dtype != DTypeFloat16 {
		return fmt.Errorf("%w: %s", ErrUnsupportedDType, dtype)
	}

	names := sortedNames(tensors)
	metas := make([]TensorMeta, 0, len(names))
	var offset int64
	for _, name := range names {
		t := tensors[name]
		size := int64(t.NumElements() * dtypeSize(dtype))
		metas = append(metas, TensorMeta{
			Name:   name,
			DType:  dtype,
			Shape:  t.Shape().Clone(),
			Offset: offset,
			Size:   size,
		})
		offset = alignUp(offset + size)
	}
	dataSize := offset
	if err := validateTensors(metas, dataSize); err != nil {
		return err
	}

	// First pass: checksum of the data section.
	h := sha256.New()
	if err := writeData(h, metas, tensors); err != nil {
		return fmt.Errorf("failed to hash tensor data: %w", err)
	}
	var checksum [ChecksumSize]byte
	copy(checksum[:], h.Sum(nil))

	header := Header{
		FormatVersion:  FormatVersion,
		AppVersion:     opts.AppVersion,
		ModelType:      opts.ModelType,
		CreatedAt:      time.Now().UTC(),
		Tensors:        metas,
		Metadata:       opts.Metadata,
		CheckpointMeta: opts.Checkpoint,
	}
	if header.Metadata == nil {
		header.Metadata = map[string]string{}
	}
	headerJSON, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("failed to marshal header: %w", err)
	}

	var flags uint32
	if len(opts.Metadata) > 0 {
		flags |= FlagHasMetadata
	}
	if opts.Checkpoint != nil {
		flags |= FlagHasCheckpoint
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".born-*")
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer os.Remove(tmp.Name())

	w := bufio.NewWriterSize(tmp, 1<<20)
	if err := writeFixedHeader(w, flags, uint64(len(headerJSON)), uint64(dataSize), checksum); err != nil {
		tmp.Close()
		return err
	}
	if _, err := w.Write(headerJSON); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write header: %w", err)
	}
	used := int64(FixedHeaderSize + len(headerJSON))
	if err := writeZeros(w, alignUp(used)-used); err != nil {
		tmp.Close()
		return err
	}
	if err := writeData(w, metas, tensors); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write tensor data: %w", err)
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

func writeFixedHeader(w io.Writer, flags uint32, headerSize, dataSize uint64, checksum [ChecksumSize]byte) error {
	var fixed [FixedHeaderSize]byte
	copy(fixed[0:4], MagicBytes)
	binary.LittleEndian.PutUint32(fixed[4:8], FormatVersion)
	binary.LittleEndian.PutUint32(fixed[8:12], flags)
	binary.LittleEndian.PutUint64(fixed[16:24], headerSize)
	binary.LittleEndian.PutUint64(fixed[24:32], dataSize)
	copy(fixed[ChecksumOffset:ChecksumOffset+ChecksumSize], checksum[:])
	if _, err := w.Write(fixed[:]); err != nil {
		return fmt.Errorf("failed to write fixed header: %w", err)
	}
	return nil
}

// writeData writes the data section: each tensor at its offset, zero padded
// between tensors and at the end.
func writeData(w io.Writer, metas []TensorMeta, tensors map[string]*tensor.Tensor) error {
	var pos int64
	for _, m := range metas {
		if err := writeZeros(w, m.Offset-pos); err != nil {
			return err
		}
		if err := encodeTensor(w, tensors[m.Name], m.DType); err != nil {
			return fmt.Errorf("tensor %q: %w", m.Name, err)
		}
		pos = m.Offset + m.Size
	}
	return writeZeros(w, alignUp(pos)-pos)
}

var zeroPad [HeaderAlignment]byte

func writeZeros(w io.Writer, n int64) error {
	for n > 0 {
		k := min(n, int64(len(zeroPad)))
		if _, err := w.Write(zeroPad[:k]); err != nil {
			return err
		}
		n -= k
	}
	return nil
}

func sortedNames(tensors map[string]*tensor.Tensor) []string {
	names := make([]string, 0, len(tensors))
	for name := range tensors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
