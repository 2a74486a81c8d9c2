package serialization

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/born-ml/mriscan/internal/tensor"
)

// ReadBornHeader reads only the fixed and JSON headers of a .born file.
func ReadBornHeader(path string) (*Header, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	header, _, err := readHeaders(bufio.NewReader(f))
	return header, err
}

// ReadBorn loads every tensor of a .born file and verifies its checksum.
func ReadBorn(path string) (map[string]*tensor.Tensor, *Header, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	r := bufio.NewReaderSize(f, 1<<20)
	header, fixed, err := readHeaders(r)
	if err != nil {
		return nil, nil, err
	}

	used := int64(FixedHeaderSize) + int64(fixed.headerSize)
	if _, err := io.CopyN(io.Discard, r, alignUp(used)-used); err != nil {
		return nil, nil, fmt.Errorf("failed to skip header padding: %w", err)
	}

	fi, err := f.Stat()
	if err != nil {
		return nil, nil, err
	}
	if avail := fi.Size() - alignUp(used); fixed.dataSize > uint64(max(avail, 0)) {
		return nil, nil, &ValidationError{
			Type:    "truncated_data",
			Details: fmt.Sprintf("header claims %d data bytes, file holds %d", fixed.dataSize, max(avail, 0)),
		}
	}

	data := make([]byte, fixed.dataSize)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, nil, fmt.Errorf("failed to read tensor data: %w", err)
	}
	if err := verifyChecksum(fixed.checksum, data); err != nil {
		return nil, nil, err
	}

	out := make(map[string]*tensor.Tensor, len(header.Tensors))
	for _, m := range header.Tensors {
		t, err := decodeTensor(data[m.Offset:m.Offset+m.Size], m.DType, m.Shape)
		if err != nil {
			return nil, nil, fmt.Errorf("tensor %q: %w", m.Name, err)
		}
		out[m.Name] = t
	}
	return out, header, nil
}

type fixedHeader struct {
	version    uint32
	flags      uint32
	headerSize uint64
	dataSize   uint64
	checksum   [ChecksumSize]byte
}

func readHeaders(r io.Reader) (*Header, *fixedHeader, error) {
	var buf [FixedHeaderSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return nil, nil, fmt.Errorf("failed to read fixed header: %w", err)
	}
	if string(buf[0:4]) != MagicBytes {
		return nil, nil, fmt.Errorf("%w: got %q, want %q", ErrInvalidMagic, buf[0:4], MagicBytes)
	}

	fixed := &fixedHeader{
		version:    binary.LittleEndian.Uint32(buf[4:8]),
		flags:      binary.LittleEndian.Uint32(buf[8:12]),
		headerSize: binary.LittleEndian.Uint64(buf[16:24]),
		dataSize:   binary.LittleEndian.Uint64(buf[24:32]),
	}
	copy(fixed.checksum[:], buf[ChecksumOffset:ChecksumOffset+ChecksumSize])

	if fixed.version != FormatVersion {
		return nil, nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, fixed.version)
	}
	if fixed.headerSize > MaxHeaderSize {
		return nil, nil, fmt.Errorf("%w: %d bytes", ErrHeaderTooLarge, fixed.headerSize)
	}

	raw := make([]byte, fixed.headerSize)
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, nil, fmt.Errorf("failed to read header: %w", err)
	}
	var header Header
	if err := json.Unmarshal(raw, &header); err != nil {
		return nil, nil, fmt.Errorf("failed to parse header JSON: %w", err)
	}
	if err := validateTensors(header.Tensors, int64(fixed.dataSize)); err != nil {
		return nil, nil, err
	}
	return &header, fixed, nil
}
