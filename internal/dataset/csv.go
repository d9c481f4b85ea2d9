package dataset

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"

	"github.com/born-ml/genbound/internal/tensor"
)

// LoadCSV reads a label-first CSV file with a header row:
//
//	label,pixel0,pixel1,...
//	5,0,0,12,...
//
// Every row must have the header's width. Values are scaled by 1/255.
func LoadCSV(cfg Config) (*Examples, error) {
	file, err := os.Open(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	records, err := csv.NewReader(file).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV: %w", err)
	}
	if len(records) < 2 {
		return nil, fmt.Errorf("%w: CSV file is empty or missing header", ErrInvalidFormat)
	}

	width := len(records[0]) - 1
	if width < 1 {
		return nil, fmt.Errorf("%w: header has no feature columns", ErrInvalidFormat)
	}
	records = records[1:]

	data := make([]float64, 0, len(records)*width)
	labels := make([]int, len(records))
	numClasses := 0
	for i, record := range records {
		if len(record) != width+1 {
			return nil, fmt.Errorf("%w: invalid record length at row %d: got %d, want %d",
				ErrInvalidFormat, i+1, len(record), width+1)
		}
		label, err := strconv.Atoi(record[0])
		if err != nil {
			return nil, fmt.Errorf("invalid label at row %d: %w", i+1, err)
		}
		if label < 0 {
			return nil, fmt.Errorf("%w: negative label at row %d: %d", ErrInvalidFormat, i+1, label)
		}
		labels[i] = label
		numClasses = max(numClasses, label+1)

		for j := 1; j <= width; j++ {
			v, err := strconv.ParseFloat(record[j], 64)
			if err != nil {
				return nil, fmt.Errorf("invalid value at row %d, column %d: %w", i+1, j, err)
			}
			data = append(data, v/255.0)
		}
	}

	return &Examples{
		Shape:      tensor.Shape{width},
		Data:       data,
		Labels:     labels,
		NumClasses: numClasses,
	}, nil
}
