package checkpoint

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/born-ml/genbound/internal/params"
)

// generator identifies the writer in the header.
const generator = "genbound"

// WriteOptions configures Save and Write.
type WriteOptions struct {
	Version   int    // FormatVersion or FormatVersionV2 (default)
	DType     string // DTypeFloat32 (default) or DTypeFloat64
	ModelType string // default "MLP"
	Metadata  map[string]string
}

func (o WriteOptions) withDefaults() WriteOptions {
	if o.Version == 0 {
		o.Version = FormatVersionV2
	}
	if o.DType == "" {
		o.DType = DTypeFloat32
	}
	if o.ModelType == "" {
		o.ModelType = "MLP"
	}
	return o
}

// Save writes ps to path.
func Save(path string, ps *params.Set, opts WriteOptions) (err error) {
	//nolint:gosec // G304: checkpoint paths come from the user
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer func() {
		if cerr := file.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return Write(file, ps, opts)
}

// Write encodes ps to w in the .born format. Tensors are stored in depth
// order.
func Write(w io.Writer, ps *params.Set, opts WriteOptions) error {
	opts = opts.withDefaults()
	if opts.Version != FormatVersion && opts.Version != FormatVersionV2 {
		return fmt.Errorf("%w: %d", ErrUnsupportedVersion, opts.Version)
	}
	elem, err := dtypeSize(opts.DType)
	if err != nil {
		return err
	}

	header := Header{
		FormatVersion: opts.Version,
		Generator:     generator,
		ModelType:     opts.ModelType,
		CreatedAt:     time.Now().UTC(),
		Tensors:       make([]TensorMeta, 0, ps.Len()),
		Metadata:      opts.Metadata,
	}
	if header.Metadata == nil {
		header.Metadata = make(map[string]string)
	}

	var data []byte
	var offset int64
	for _, e := range ps.Entries() {
		if err := ValidateTensorName(e.Name); err != nil {
			return err
		}
		size := int64(e.Tensor.NumElements() * elem)
		header.Tensors = append(header.Tensors, TensorMeta{
			Name:   e.Name,
			DType:  opts.DType,
			Shape:  []int(e.Tensor.Shape().Clone()),
			Offset: offset,
			Size:   size,
		})
		data = encodeValues(data, e.Tensor.Data(), opts.DType)
		offset += size
	}

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("failed to marshal header: %w", err)
	}
	headerSize := uint64(len(headerJSON))

	flags := uint32(0)
	if len(header.Metadata) > 0 {
		flags |= FlagHasMetadata
	}

	var preamble []byte
	if opts.Version == FormatVersionV2 {
		preamble = make([]byte, FixedHeaderSizeV2)
		copy(preamble[0:4], MagicBytes)
		binary.LittleEndian.PutUint32(preamble[4:8], FormatVersionV2)
		binary.LittleEndian.PutUint32(preamble[8:12], flags)
		// 0x0C-0x0F reserved.
		binary.LittleEndian.PutUint64(preamble[16:24], headerSize)
		binary.LittleEndian.PutUint64(preamble[24:32], uint64(len(data)))
		checksum := ComputeChecksum(data)
		copy(preamble[ChecksumOffsetV2:ChecksumOffsetV2+ChecksumSize], checksum[:])
	} else {
		preamble = make([]byte, 0, v1PreambleSize)
		preamble = append(preamble, MagicBytes...)
		preamble = binary.LittleEndian.AppendUint32(preamble, FormatVersion)
		preamble = binary.LittleEndian.AppendUint32(preamble, flags)
		preamble = binary.LittleEndian.AppendUint64(preamble, headerSize)
	}

	if _, err := w.Write(preamble); err != nil {
		return fmt.Errorf("failed to write fixed header: %w", err)
	}
	if _, err := w.Write(headerJSON); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	//nolint:gosec // G115: header size is bounded by MaxHeaderSize
	pos := int64(len(preamble)) + int64(headerSize)
	if padding := alignedDataOffset(int64(len(preamble)), int64(headerSize)) - pos; padding > 0 {
		if _, err := w.Write(make([]byte, padding)); err != nil {
			return fmt.Errorf("failed to write padding: %w", err)
		}
	}

	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write tensor data: %w", err)
	}
	return nil
}
