// Package serialization reads and writes model weights.
//
// Two formats are supported:
//
//   - .born: a self-describing container with a 64-byte fixed header, a JSON
//     header (tensor table plus free-form metadata such as the architecture
//     and class order) and a 64-byte aligned data section protected by a
//     SHA-256 checksum.
//   - SafeTensors: the HuggingFace layout (8-byte header size, JSON header,
//     raw little-endian data). Used for raw weight snapshots and for
//     importing pretrained backbone weights.
//
// .born layout:
//
//	0x00  "BORN"
//	0x04  uint32 format version
//	0x08  uint32 flags
//	0x0C  reserved
//	0x10  uint64 JSON header size
//	0x18  uint64 data size
//	0x20  [32]byte SHA-256 of the data section
//	0x40  JSON header, zero padding to 64 bytes, tensor data
package serialization

import (
	"time"
)

// Format constants.
const (
	MagicBytes      = "BORN"
	FormatVersion   = 2
	HeaderAlignment = 64   // Align tensor data to 64 bytes
	FixedHeaderSize = 64   // Fixed header size (0x40 bytes)
	ChecksumSize    = 32   // SHA-256 checksum size (32 bytes)
	ChecksumOffset  = 0x20 // Checksum offset in the fixed header
)

// Data type string constants used in headers.
const (
	DTypeFloat32 = "float32"
	DTypeFloat16 = "float16"
)

// Flags for the .born format.
const (
	FlagHasMetadata   uint32 = 1 << 2 // custom metadata included
	FlagHasCheckpoint uint32 = 1 << 3 // training checkpoint metadata included
)

// Header represents the JSON header in a .born file.
type Header struct {
	FormatVersion  int               `json:"format_version"`
	AppVersion     string            `json:"app_version"`
	ModelType      string            `json:"model_type"` // e.g. "vgg16", "ensemble"
	CreatedAt      time.Time         `json:"created_at"`
	Tensors        []TensorMeta      `json:"tensors"`
	Metadata       map[string]string `json:"metadata"`
	CheckpointMeta *CheckpointMeta   `json:"checkpoint,omitempty"`
}

// CheckpointMeta records where in training a checkpoint was taken.
type CheckpointMeta struct {
	Epoch   int     `json:"epoch"`    // 0-indexed epoch
	Phase   string  `json:"phase"`    // training phase name
	ValLoss float64 `json:"val_loss"` // monitored value when saved
}

// TensorMeta describes a tensor in the .born file.
type TensorMeta struct {
	Name   string `json:"name"`   // Tensor name (e.g., "block1_conv1.kernel")
	DType  string `json:"dtype"`  // Data type
	Shape  []int  `json:"shape"`  // Tensor shape
	Offset int64  `json:"offset"` // Byte offset from the start of the data section
	Size   int64  `json:"size"`   // Size in bytes
}

func dtypeSize(dtype string) int {
	switch dtype {
	case DTypeFloat16:
		return 2
	default:
		return 4
	}
}
