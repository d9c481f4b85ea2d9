package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
)

// SummaryConfig specifies options for the CSV summary.
type SummaryConfig struct {
	// IncludeHeader writes column headers as the first row.
	// Default: true
	IncludeHeader bool

	// Precision is the number of decimal places, -1 for the shortest
	// representation that parses back to the same value.
	// Default: -1
	Precision int

	// NAString is written for measures without a value.
	// Default: "NA" (compatible with R and Python pandas)
	NAString string

	// Comma is the field delimiter.
	// Default: ','
	Comma rune
}

// DefaultSummaryConfig returns the default summary options.
func DefaultSummaryConfig() *SummaryConfig {
	return &SummaryConfig{
		IncludeHeader: true,
		Precision:     -1,
		NAString:      "NA",
		Comma:         ',',
	}
}

// SummaryColumns are the CSV headers, in order.
var SummaryColumns = []string{"name", "l2", "spectral", "l2_path", "l1_path", "sharpness"}

// WriteSummaryCSV writes one row per record. If config is nil,
// DefaultSummaryConfig() is used.
func WriteSummaryCSV(w io.Writer, records []*Record, config *SummaryConfig) error {
	if config == nil {
		config = DefaultSummaryConfig()
	}

	cw := csv.NewWriter(w)
	if config.Comma != 0 {
		cw.Comma = config.Comma
	}

	if config.IncludeHeader {
		if err := cw.Write(SummaryColumns); err != nil {
			return fmt.Errorf("failed to write CSV header: %w", err)
		}
	}

	for _, rec := range records {
		row := make([]string, 0, len(SummaryColumns))
		row = append(row, formatString(rec.Name, config.NAString))
		for _, label := range Labels {
			v, ok := rec.Value(label)
			if !ok {
				row = append(row, config.NAString)
				continue
			}
			row = append(row, strconv.FormatFloat(v, 'f', config.Precision, 64))
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("failed to flush CSV writer: %w", err)
	}
	return nil
}

func formatString(s, na string) string {
	if s == "" {
		return na
	}
	return s
}
