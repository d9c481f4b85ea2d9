package checkpoint

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

// Format constants.
const (
	MagicBytes        = "BORN"
	FormatVersion     = 1    // v1: no checksum
	FormatVersionV2   = 2    // v2: SHA-256 checksum of the data section
	HeaderAlignment   = 64   // tensor data starts on a 64-byte boundary
	FixedHeaderSizeV2 = 64   // v2 fixed header size (0x40 bytes)
	ChecksumSize      = 32   // SHA-256 checksum size
	ChecksumOffsetV2  = 0x20 // checksum offset in the v2 fixed header
	v1PreambleSize    = 4 + 4 + 4 + 8
)

// Data types stored in a checkpoint.
const (
	DTypeFloat32 = "float32"
	DTypeFloat64 = "float64"
)

// Flags for the .born format.
const (
	FlagHasMetadata uint32 = 1 << 2
)

// Metadata keys describing the training context.
const (
	MetaDatasetKind         = "dataset.kind"
	MetaDatasetPath         = "dataset.path"
	MetaDatasetTrain        = "dataset.train"
	MetaDatasetBatchSize    = "dataset.batch_size"
	MetaDatasetSubsetSize   = "dataset.subset_size"
	MetaDatasetRandomLabels = "dataset.random_labels"
	MetaCriterion           = "criterion"
	MetaActivation          = "activation"
)

// Header is the JSON header of a .born file.
type Header struct {
	FormatVersion int               `json:"format_version"`
	Generator     string            `json:"generator"`
	ModelType     string            `json:"model_type"`
	CreatedAt     time.Time         `json:"created_at"`
	Tensors       []TensorMeta      `json:"tensors"` // depth order
	Metadata      map[string]string `json:"metadata"`
}

// TensorMeta describes one tensor of the data section.
type TensorMeta struct {
	Name   string `json:"name"`   // e.g. "fc1.weight"
	DType  string `json:"dtype"`  // "float32" or "float64"
	Shape  []int  `json:"shape"`  // row-major
	Offset int64  `json:"offset"` // bytes from the start of the data section
	Size   int64  `json:"size"`   // bytes
}

// dtypeSize returns the element size in bytes.
func dtypeSize(dtype string) (int, error) {
	switch dtype {
	case DTypeFloat32:
		return 4, nil
	case DTypeFloat64:
		return 8, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedDType, dtype)
	}
}

// encodeValues appends values in little-endian dtype encoding.
func encodeValues(dst []byte, values []float64, dtype string) []byte {
	switch dtype {
	case DTypeFloat32:
		for _, v := range values {
			dst = binary.LittleEndian.AppendUint32(dst, math.Float32bits(float32(v)))
		}
	default:
		for _, v := range values {
			dst = binary.LittleEndian.AppendUint64(dst, math.Float64bits(v))
		}
	}
	return dst
}

// decodeValues widens raw little-endian data to float64.
func decodeValues(raw []byte, dtype string) []float64 {
	switch dtype {
	case DTypeFloat32:
		out := make([]float64, len(raw)/4)
		for i := range out {
			out[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:])))
		}
		return out
	default:
		out := make([]float64, len(raw)/8)
		for i := range out {
			out[i] = math.Float64frombits(binary.LittleEndian.Uint64(raw[i*8:]))
		}
		return out
	}
}

// alignedDataOffset returns where tensor data starts after a preamble and
// a JSON header of the given sizes.
func alignedDataOffset(preamble, headerSize int64) int64 {
	pos := preamble + headerSize
	return pos + (HeaderAlignment-(pos%HeaderAlignment))%HeaderAlignment
}
