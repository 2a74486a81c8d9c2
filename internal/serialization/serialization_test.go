package serialization

import (
	"encoding/binary"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/d4l3k/go-bfloat16"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/mriscan/internal/tensor"
)

func sampleTensors() map[string]*tensor.Tensor {
	return map[string]*tensor.Tensor{
		"dense.kernel": tensor.MustFromSlice([]float32{1, 2, 3, 4, 5, 6}, tensor.Shape{3, 2}),
		"dense.bias":   tensor.MustFromSlice([]float32{0.5, -0.25}, tensor.Shape{2}),
		"bn.gamma":     tensor.MustFromSlice([]float32{1, 1, 1}, tensor.Shape{3}),
	}
}

func TestBornRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.born")
	opts := WriterOptions{
		ModelType:  "vgg16",
		AppVersion: "test",
		Metadata:   map[string]string{"classes": `["glioma","meningioma","notumor","pituitary"]`},
		Checkpoint: &CheckpointMeta{Epoch: 3, Phase: "fine_tune", ValLoss: 0.42},
	}
	require.NoError(t, WriteBorn(path, sampleTensors(), opts))

	got, header, err := ReadBorn(path)
	require.NoError(t, err)
	assert.Equal(t, "vgg16", header.ModelType)
	assert.Equal(t, FormatVersion, header.FormatVersion)
	assert.Equal(t, opts.Metadata, header.Metadata)
	require.NotNil(t, header.CheckpointMeta)
	assert.Equal(t, 3, header.CheckpointMeta.Epoch)

	require.Len(t, got, 3)
	for name, want := range sampleTensors() {
		require.Contains(t, got, name)
		assert.Equal(t, want.Shape(), got[name].Shape(), name)
		assert.Equal(t, want.Data(), got[name].Data(), name)
	}

	// Tensors are laid out sorted by name, each 64-byte aligned.
	names := make([]string, len(header.Tensors))
	for i, m := range header.Tensors {
		names[i] = m.Name
		assert.Zero(t, m.Offset%HeaderAlignment, m.Name)
	}
	assert.Equal(t, []string{"bn.gamma", "dense.bias", "dense.kernel"}, names)
}

func TestBornFloat16(t *testing.T) {
	path := filepath.Join(t.TempDir(), "half.born")
	require.NoError(t, WriteBorn(path, sampleTensors(), WriterOptions{DType: DTypeFloat16}))

	got, header, err := ReadBorn(path)
	require.NoError(t, err)
	for _, m := range header.Tensors {
		assert.Equal(t, DTypeFloat16, m.DType)
	}
	// Every sample value is exactly representable in half precision.
	assert.Equal(t, []float32{0.5, -0.25}, got["dense.bias"].Data())
}

func TestBornFixedHeaderLayout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.born")
	require.NoError(t, WriteBorn(path, sampleTensors(), WriterOptions{}))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(raw), FixedHeaderSize)
	assert.Equal(t, MagicBytes, string(raw[:4]))
	assert.Equal(t, uint32(FormatVersion), binary.LittleEndian.Uint32(raw[4:8]))

	headerSize := binary.LittleEndian.Uint64(raw[16:24])
	dataSize := binary.LittleEndian.Uint64(raw[24:32])
	dataStart := alignUp(int64(FixedHeaderSize) + int64(headerSize))
	assert.Equal(t, int64(len(raw)), dataStart+int64(dataSize))

	var header Header
	require.NoError(t, json.Unmarshal(raw[FixedHeaderSize:FixedHeaderSize+int(headerSize)], &header))
	assert.Len(t, header.Tensors, 3)
}

func TestBornCorruptedData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.born")
	require.NoError(t, WriteBorn(path, sampleTensors(), WriterOptions{}))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	raw[len(raw)-70] ^= 0xFF // inside the data section
	require.NoError(t, os.WriteFile(path, raw, 0o600))

	_, _, err = ReadBorn(path)
	assert.ErrorIs(t, err, ErrChecksumMismatch)

	// Headers stay readable.
	header, err := ReadBornHeader(path)
	require.NoError(t, err)
	assert.Len(t, header.Tensors, 3)
}

func TestBornDataSizeBeyondFile(t *testing.T) {
	tests := []struct {
		name    string
		tensors map[string]*tensor.Tensor
		mutate  func(raw []byte) []byte
	}{
		{
			name:    "huge claim",
			tensors: map[string]*tensor.Tensor{},
			mutate: func(raw []byte) []byte {
				binary.LittleEndian.PutUint64(raw[24:32], 1<<62)
				return raw
			},
		},
		{
			name:    "truncated",
			tensors: sampleTensors(),
			mutate:  func(raw []byte) []byte { return raw[:len(raw)-1] },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "model.born")
			require.NoError(t, WriteBorn(path, tt.tensors, WriterOptions{}))
			raw, err := os.ReadFile(path)
			require.NoError(t, err)
			require.NoError(t, os.WriteFile(path, tt.mutate(raw), 0o600))

			_, _, err = ReadBorn(path)
			var vErr *ValidationError
			require.ErrorAs(t, err, &vErr)
			assert.Equal(t, "truncated_data", vErr.Type)
		})
	}
}

func TestBornInvalidMagic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.born")
	require.NoError(t, os.WriteFile(path, make([]byte, 128), 0o600))

	_, _, err := ReadBorn(path)
	assert.ErrorIs(t, err, ErrInvalidMagic)
}

func TestBornRejectsPathLikeNames(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.born")
	tensors := map[string]*tensor.Tensor{"block1/conv": tensor.Zeros(tensor.Shape{1})}

	err := WriteBorn(path, tensors, WriterOptions{})
	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "invalid_name", vErr.Type)
}

func TestValidateTensors(t *testing.T) {
	tests := []struct {
		name    string
		tensors []TensorMeta
		want    string
	}{
		{
			name: "overlap",
			tensors: []TensorMeta{
				{Name: "a", DType: DTypeFloat32, Shape: []int{4}, Offset: 0, Size: 16},
				{Name: "b", DType: DTypeFloat32, Shape: []int{4}, Offset: 8, Size: 16},
			},
			want: "offset_overlap",
		},
		{
			name:    "out of bounds",
			tensors: []TensorMeta{{Name: "a", DType: DTypeFloat32, Shape: []int{32}, Offset: 0, Size: 128}},
			want:    "out_of_bounds",
		},
		{
			name:    "size mismatch",
			tensors: []TensorMeta{{Name: "a", DType: DTypeFloat32, Shape: []int{2, 2}, Offset: 0, Size: 8}},
			want:    "size_mismatch",
		},
		{
			name:    "traversal",
			tensors: []TensorMeta{{Name: "a..b", DType: DTypeFloat32, Shape: []int{1}, Offset: 0, Size: 4}},
			want:    "invalid_name",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateTensors(tt.tensors, 64)
			var vErr *ValidationError
			require.ErrorAs(t, err, &vErr)
			assert.Equal(t, tt.want, vErr.Type)
		})
	}

	ok := []TensorMeta{
		{Name: "a", DType: DTypeFloat32, Shape: []int{4}, Offset: 0, Size: 16},
		{Name: "b", DType: DTypeFloat16, Shape: []int{2, 4}, Offset: 16, Size: 16},
	}
	assert.NoError(t, validateTensors(ok, 64))
}

func TestSafeTensorsRoundTrip(t *testing.T) {
	for _, dtype := range []string{SafeTensorsF32, SafeTensorsF16} {
		t.Run(dtype, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "weights.safetensors")
			meta := map[string]string{"format": "pt"}
			require.NoError(t, WriteSafeTensors(path, sampleTensors(), meta, dtype))

			got, gotMeta, err := ReadSafeTensors(path)
			require.NoError(t, err)
			assert.Equal(t, meta, gotMeta)
			for name, want := range sampleTensors() {
				require.Contains(t, got, name)
				assert.Equal(t, want.Shape(), got[name].Shape())
				assert.Equal(t, want.Data(), got[name].Data())
			}
		})
	}
}

func TestSafeTensorsHeaderAlignment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "weights.safetensors")
	require.NoError(t, WriteSafeTensors(path, sampleTensors(), nil, ""))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	headerSize := binary.LittleEndian.Uint64(raw[:8])
	assert.Zero(t, headerSize%8)

	var header map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw[8:8+headerSize], &header))
	assert.NotContains(t, header, safeTensorsMetadataKey)
	assert.Contains(t, header, "dense.kernel")
}

// writeRawSafeTensors builds a file by hand, the way an external exporter would.
func writeRawSafeTensors(t *testing.T, header map[string]any, data []byte) string {
	t.Helper()
	h, err := json.Marshal(header)
	require.NoError(t, err)

	buf := make([]byte, 8, 8+len(h)+len(data))
	binary.LittleEndian.PutUint64(buf, uint64(len(h)))
	buf = append(buf, h...)
	buf = append(buf, data...)

	path := filepath.Join(t.TempDir(), "external.safetensors")
	require.NoError(t, os.WriteFile(path, buf, 0o600))
	return path
}

func TestSafeTensorsBFloat16(t *testing.T) {
	values := []float32{1, -2, 0.5, 3}
	path := writeRawSafeTensors(t, map[string]any{
		"conv.kernel": map[string]any{"dtype": "BF16", "shape": []int{2, 2}, "data_offsets": []int{0, 8}},
	}, bfloat16.EncodeFloat32(values))

	got, _, err := ReadSafeTensors(path)
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{2, 2}, got["conv.kernel"].Shape())
	assert.Equal(t, values, got["conv.kernel"].Data())
}

func TestSafeTensorsUnsupportedDType(t *testing.T) {
	path := writeRawSafeTensors(t, map[string]any{
		"ids": map[string]any{"dtype": "I64", "shape": []int{1}, "data_offsets": []int{0, 8}},
	}, make([]byte, 8))

	_, _, err := ReadSafeTensors(path)
	assert.ErrorIs(t, err, ErrUnsupportedDType)
}
