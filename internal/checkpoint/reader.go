package checkpoint

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/born-ml/genbound/internal/params"
	"github.com/born-ml/genbound/internal/tensor"
)

// ReaderOptions configures a Reader.
type ReaderOptions struct {
	SkipChecksumValidation bool
	ValidationLevel        ValidationLevel
}

// Reader reads tensors from a .born file.
type Reader struct {
	file       *os.File
	header     Header
	flags      uint32
	version    uint32
	dataOffset int64
	dataSize   int64
	checksum   [32]byte
	opts       ReaderOptions
	closed     bool
}

// Open opens a .born file with strict validation.
func Open(path string) (*Reader, error) {
	return OpenWithOptions(path, ReaderOptions{ValidationLevel: ValidationStrict})
}

// OpenWithOptions opens a .born file.
func OpenWithOptions(path string, opts ReaderOptions) (*Reader, error) {
	//nolint:gosec // G304: checkpoint paths come from the user
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}

	r := &Reader{file: file, opts: opts}
	if err := r.parseHeader(); err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("failed to parse header: %w", err)
	}

	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}
	r.dataSize = info.Size() - r.dataOffset

	if err := ValidateHeader(&r.header, r.dataSize, opts.ValidationLevel); err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("validation failed: %w", err)
	}
	return r, nil
}

// Load reads every tensor of path into a parameter set in header order.
func Load(path string) (*params.Set, Header, error) {
	r, err := Open(path)
	if err != nil {
		return nil, Header{}, err
	}
	defer r.Close()

	ps, err := r.ReadParams()
	if err != nil {
		return nil, Header{}, err
	}
	return ps, r.Header(), nil
}

func (r *Reader) parseHeader() error {
	magic := make([]byte, 4)
	if _, err := io.ReadFull(r.file, magic); err != nil {
		return fmt.Errorf("failed to read magic bytes: %w", err)
	}
	if string(magic) != MagicBytes {
		return ErrInvalidMagic
	}
	if err := binary.Read(r.file, binary.LittleEndian, &r.version); err != nil {
		return fmt.Errorf("failed to read version: %w", err)
	}

	switch r.version {
	case FormatVersion:
		return r.parseHeaderV1()
	case FormatVersionV2:
		return r.parseHeaderV2()
	default:
		return fmt.Errorf("%w: got %d, expected %d or %d", ErrUnsupportedVersion, r.version, FormatVersion, FormatVersionV2)
	}
}

func (r *Reader) parseHeaderV1() error {
	if err := binary.Read(r.file, binary.LittleEndian, &r.flags); err != nil {
		return fmt.Errorf("failed to read flags: %w", err)
	}
	var headerSize uint64
	if err := binary.Read(r.file, binary.LittleEndian, &headerSize); err != nil {
		return fmt.Errorf("failed to read header size: %w", err)
	}
	if err := readHeaderJSON(r.file, headerSize, &r.header); err != nil {
		return err
	}
	//nolint:gosec // G115: bounded by MaxHeaderSize
	r.dataOffset = alignedDataOffset(v1PreambleSize, int64(headerSize))
	return nil
}

func (r *Reader) parseHeaderV2() error {
	if _, err := r.file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("failed to seek to start: %w", err)
	}
	fixed := make([]byte, FixedHeaderSizeV2)
	if _, err := io.ReadFull(r.file, fixed); err != nil {
		return fmt.Errorf("failed to read fixed header: %w", err)
	}
	r.flags = binary.LittleEndian.Uint32(fixed[8:12])
	headerSize := binary.LittleEndian.Uint64(fixed[16:24])
	dataSize := binary.LittleEndian.Uint64(fixed[24:32])
	copy(r.checksum[:], fixed[ChecksumOffsetV2:ChecksumOffsetV2+ChecksumSize])

	if err := readHeaderJSON(r.file, headerSize, &r.header); err != nil {
		return err
	}
	//nolint:gosec // G115: bounded by MaxHeaderSize
	r.dataOffset = alignedDataOffset(FixedHeaderSizeV2, int64(headerSize))

	if r.opts.SkipChecksumValidation {
		return nil
	}
	if _, err := r.file.Seek(r.dataOffset, io.SeekStart); err != nil {
		return fmt.Errorf("failed to seek to tensor data: %w", err)
	}
	//nolint:gosec // G115: data size is checked against the file by the limited read
	computed, err := ComputeChecksumReader(io.LimitReader(r.file, int64(dataSize)))
	if err != nil {
		return fmt.Errorf("failed to read tensor data for checksum: %w", err)
	}
	return ValidateChecksum(computed, r.checksum)
}

func readHeaderJSON(src io.Reader, size uint64, h *Header) error {
	if size > MaxHeaderSize {
		return ErrHeaderTooLarge
	}
	raw := make([]byte, size)
	if _, err := io.ReadFull(src, raw); err != nil {
		return fmt.Errorf("failed to read header: %w", err)
	}
	if err := json.Unmarshal(raw, h); err != nil {
		return fmt.Errorf("failed to parse header JSON: %w", err)
	}
	return nil
}

// Header returns the file header.
func (r *Reader) Header() Header {
	return r.header
}

// Version returns the format version of the file.
func (r *Reader) Version() int {
	return int(r.version)
}

// Metadata returns the header metadata.
func (r *Reader) Metadata() map[string]string {
	return r.header.Metadata
}

// TensorNames returns the tensor names in depth order.
func (r *Reader) TensorNames() []string {
	names := make([]string, len(r.header.Tensors))
	for i, meta := range r.header.Tensors {
		names[i] = meta.Name
	}
	return names
}

// TensorInfo returns the header entry for name.
func (r *Reader) TensorInfo(name string) (*TensorMeta, error) {
	for _, meta := range r.header.Tensors {
		if meta.Name == name {
			return &meta, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrTensorNotFound, name)
}

// ReadTensor loads one tensor, widened to float64.
func (r *Reader) ReadTensor(name string) (*tensor.Tensor, error) {
	if r.closed {
		return nil, ErrClosed
	}
	meta, err := r.TensorInfo(name)
	if err != nil {
		return nil, err
	}
	if _, err := dtypeSize(meta.DType); err != nil {
		return nil, err
	}

	raw := make([]byte, meta.Size)
	if _, err := r.file.Seek(r.dataOffset+meta.Offset, io.SeekStart); err != nil {
		return nil, fmt.Errorf("failed to seek to tensor data: %w", err)
	}
	if _, err := io.ReadFull(r.file, raw); err != nil {
		return nil, fmt.Errorf("failed to read tensor data: %w", err)
	}

	t, err := tensor.New(tensor.Shape(meta.Shape), decodeValues(raw, meta.DType))
	if err != nil {
		return nil, fmt.Errorf("invalid tensor %s: %w", name, err)
	}
	return t, nil
}

// ReadParams loads every tensor into a parameter set in header order.
func (r *Reader) ReadParams() (*params.Set, error) {
	if r.closed {
		return nil, ErrClosed
	}
	ps := &params.Set{}
	for _, meta := range r.header.Tensors {
		t, err := r.ReadTensor(meta.Name)
		if err != nil {
			return nil, fmt.Errorf("failed to load tensor %s: %w", meta.Name, err)
		}
		if err := ps.Add(meta.Name, t); err != nil {
			return nil, err
		}
	}
	return ps, nil
}

// Close closes the underlying file.
func (r *Reader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	return r.file.Close()
}

// ReadFrom decodes a complete .born stream of either version. The data
// section is buffered in memory to verify the v2 checksum.
func ReadFrom(src io.Reader, opts ReaderOptions) (*params.Set, Header, error) {
	preamble := make([]byte, v1PreambleSize)
	if _, err := io.ReadFull(src, preamble); err != nil {
		return nil, Header{}, fmt.Errorf("failed to read fixed header: %w", err)
	}
	if string(preamble[0:4]) != MagicBytes {
		return nil, Header{}, ErrInvalidMagic
	}

	var (
		headerSize   uint64
		dataSize     int64 = -1
		stored       [32]byte
		preambleSize int64
	)
	switch version := binary.LittleEndian.Uint32(preamble[4:8]); version {
	case FormatVersion:
		headerSize = binary.LittleEndian.Uint64(preamble[12:20])
		preambleSize = v1PreambleSize
	case FormatVersionV2:
		fixed := make([]byte, FixedHeaderSizeV2)
		copy(fixed, preamble)
		if _, err := io.ReadFull(src, fixed[v1PreambleSize:]); err != nil {
			return nil, Header{}, fmt.Errorf("failed to read fixed header: %w", err)
		}
		headerSize = binary.LittleEndian.Uint64(fixed[16:24])
		dataSize = int64(binary.LittleEndian.Uint64(fixed[24:32])) //nolint:gosec // G115
		copy(stored[:], fixed[ChecksumOffsetV2:ChecksumOffsetV2+ChecksumSize])
		preambleSize = FixedHeaderSizeV2
	default:
		return nil, Header{}, fmt.Errorf("%w: got %d", ErrUnsupportedVersion, version)
	}

	var header Header
	if err := readHeaderJSON(src, headerSize, &header); err != nil {
		return nil, Header{}, err
	}
	//nolint:gosec // G115: bounded by MaxHeaderSize
	pos := preambleSize + int64(headerSize)
	if _, err := io.CopyN(io.Discard, src, alignedDataOffset(preambleSize, int64(headerSize))-pos); err != nil {
		return nil, Header{}, fmt.Errorf("failed to read padding: %w", err)
	}

	var data []byte
	var err error
	if dataSize >= 0 {
		data = make([]byte, dataSize)
		_, err = io.ReadFull(src, data)
	} else {
		data, err = io.ReadAll(src)
	}
	if err != nil {
		return nil, Header{}, fmt.Errorf("failed to read tensor data: %w", err)
	}

	if dataSize >= 0 && !opts.SkipChecksumValidation {
		if err := ValidateChecksum(ComputeChecksum(data), stored); err != nil {
			return nil, Header{}, err
		}
	}
	if err := ValidateHeader(&header, int64(len(data)), opts.ValidationLevel); err != nil {
		return nil, Header{}, fmt.Errorf("validation failed: %w", err)
	}

	ps := &params.Set{}
	for _, meta := range header.Tensors {
		if meta.Offset < 0 || meta.Size < 0 || meta.Offset+meta.Size > int64(len(data)) {
			return nil, Header{}, &ValidationError{Type: "out_of_bounds", Tensor: meta.Name, Details: "outside data section"}
		}
		if _, err := dtypeSize(meta.DType); err != nil {
			return nil, Header{}, err
		}
		raw := data[meta.Offset : meta.Offset+meta.Size]
		t, err := tensor.New(tensor.Shape(meta.Shape), decodeValues(raw, meta.DType))
		if err != nil {
			return nil, Header{}, fmt.Errorf("invalid tensor %s: %w", meta.Name, err)
		}
		if err := ps.Add(meta.Name, t); err != nil {
			return nil, Header{}, err
		}
	}
	return ps, header, nil
}
