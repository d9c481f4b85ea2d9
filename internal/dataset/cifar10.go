package dataset

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/born-ml/genbound/internal/tensor"
)

// CIFAR-10 binary layout: one label byte followed by 3x32x32 channel-major
// pixels per record.
const (
	cifarChannels   = 3
	cifarSide       = 32
	cifarImageBytes = cifarChannels * cifarSide * cifarSide
	cifarRecord     = 1 + cifarImageBytes
	cifarClasses    = 10
)

// Per-channel normalization applied after scaling to [0, 1].
var (
	cifarMean = [cifarChannels]float64{0.485, 0.456, 0.406}
	cifarStd  = [cifarChannels]float64{0.229, 0.224, 0.225}
)

// CIFAR10Classes returns the class names in label order.
func CIFAR10Classes() []string {
	return []string{"plane", "car", "bird", "cat", "deer", "dog", "frog", "horse", "ship", "truck"}
}

// LoadCIFAR10 reads the binary CIFAR-10 batches from cfg.Path:
// data_batch_1.bin to data_batch_5.bin for training, test_batch.bin
// otherwise. Images are [3, 32, 32], normalized per channel.
func LoadCIFAR10(cfg Config) (*Examples, error) {
	files := []string{"test_batch.bin"}
	if cfg.Train {
		files = []string{"data_batch_1.bin", "data_batch_2.bin", "data_batch_3.bin", "data_batch_4.bin", "data_batch_5.bin"}
	}

	out := &Examples{
		Shape:      tensor.Shape{cifarChannels, cifarSide, cifarSide},
		NumClasses: cifarClasses,
	}
	for _, name := range files {
		if err := readCIFARBatch(filepath.Join(cfg.Path, name), out); err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
	}
	return out, nil
}

func readCIFARBatch(filename string, out *Examples) error {
	file, err := os.Open(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	raw, err := io.ReadAll(file)
	if err != nil {
		return err
	}
	if len(raw)%cifarRecord != 0 {
		return fmt.Errorf("%w: %d bytes is not a multiple of the %d-byte record",
			ErrInvalidFormat, len(raw), cifarRecord)
	}

	plane := cifarSide * cifarSide
	for off := 0; off < len(raw); off += cifarRecord {
		label := int(raw[off])
		if label >= cifarClasses {
			return fmt.Errorf("%w: label %d at offset %d", ErrInvalidFormat, label, off)
		}
		out.Labels = append(out.Labels, label)
		pixels := raw[off+1 : off+cifarRecord]
		for i, p := range pixels {
			c := i / plane
			out.Data = append(out.Data, (float64(p)/255.0-cifarMean[c])/cifarStd[c])
		}
	}
	return nil
}
