package dataset

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/born-ml/genbound/internal/tensor"
)

// IDX magic numbers.
const (
	idxImagesMagic = 2051
	idxLabelsMagic = 2049
)

// LoadIDX reads an MNIST-style IDX pair from cfg.Path:
// train-images-idx3-ubyte / train-labels-idx1-ubyte, or the t10k- files
// for the validation split. Pixels are scaled to [0, 1].
func LoadIDX(cfg Config) (*Examples, error) {
	prefix := "t10k"
	if cfg.Train {
		prefix = "train"
	}
	imageFile := filepath.Join(cfg.Path, prefix+"-images-idx3-ubyte")
	labelFile := filepath.Join(cfg.Path, prefix+"-labels-idx1-ubyte")

	pixels, rows, cols, err := readIDXImages(imageFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load images: %w", err)
	}
	labelsRaw, err := readIDXLabels(labelFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load labels: %w", err)
	}

	size := rows * cols
	if len(pixels)/size != len(labelsRaw) {
		return nil, fmt.Errorf("%w: image count (%d) != label count (%d)",
			ErrLengthMismatch, len(pixels)/size, len(labelsRaw))
	}

	data := make([]float64, len(pixels))
	for i, p := range pixels {
		data[i] = float64(p) / 255.0
	}
	labels := make([]int, len(labelsRaw))
	numClasses := 0
	for i, l := range labelsRaw {
		labels[i] = int(l)
		numClasses = max(numClasses, int(l)+1)
	}

	return &Examples{
		Shape:      tensor.Shape{rows, cols},
		Data:       data,
		Labels:     labels,
		NumClasses: numClasses,
	}, nil
}

// readIDXImages reads an IDX image file.
//
//	magic number: 0x00000803 (2051)
//	number of images: 4 bytes
//	number of rows: 4 bytes
//	number of cols: 4 bytes
//	pixel data: unsigned bytes (0-255)
func readIDXImages(filename string) (pixels []byte, rows, cols int, err error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, 0, 0, err
	}
	defer file.Close()

	var header [4]uint32
	if err := binary.Read(file, binary.BigEndian, &header); err != nil {
		return nil, 0, 0, fmt.Errorf("failed to read header: %w", err)
	}
	if header[0] != idxImagesMagic {
		return nil, 0, 0, fmt.Errorf("%w: invalid magic number: got %d, want %d",
			ErrInvalidFormat, header[0], idxImagesMagic)
	}

	n, rows, cols := int(header[1]), int(header[2]), int(header[3])
	if rows == 0 || cols == 0 {
		return nil, 0, 0, fmt.Errorf("%w: image size %dx%d", ErrInvalidFormat, rows, cols)
	}
	pixels = make([]byte, n*rows*cols)
	if _, err := io.ReadFull(file, pixels); err != nil {
		return nil, 0, 0, fmt.Errorf("failed to read %d images: %w", n, err)
	}
	return pixels, rows, cols, nil
}

// readIDXLabels reads an IDX label file.
//
//	magic number: 0x00000801 (2049)
//	number of labels: 4 bytes
//	label data: unsigned bytes
func readIDXLabels(filename string) ([]byte, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var header [2]uint32
	if err := binary.Read(file, binary.BigEndian, &header); err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	if header[0] != idxLabelsMagic {
		return nil, fmt.Errorf("%w: invalid magic number: got %d, want %d",
			ErrInvalidFormat, header[0], idxLabelsMagic)
	}

	labels := make([]byte, header[1])
	if _, err := io.ReadFull(file, labels); err != nil {
		return nil, fmt.Errorf("failed to read labels: %w", err)
	}
	return labels, nil
}
