// Package report writes and parses the plain-text measure log.
//
// A record starts with the run identifier (the checkpoint path) on its own
// line and continues with one "<Label>: <value>" line per measure. Sharpness
// is written again on every new maximum, so readers keep the last value of a
// label. A measure that could not be computed is written as
// "<label> norm does not exist".
package report

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
)

// Measure labels.
const (
	LabelL2        = "L2"
	LabelSpectral  = "Spectral"
	LabelL2Path    = "L2-path"
	LabelL1Path    = "L1-path"
	LabelSharpness = "Sharpness"
)

// Labels lists the measure labels in report order.
var Labels = []string{LabelL2, LabelSpectral, LabelL2Path, LabelL1Path, LabelSharpness}

const missingSuffix = " norm does not exist"

// ErrNoHeader is returned by Parse for a log without a run identifier line.
var ErrNoHeader = errors.New("report: missing run identifier line")

// Writer emits report lines. It is safe for concurrent use; the first write
// error is kept and returned by every later call.
type Writer struct {
	mu  sync.Mutex
	out io.Writer
	err error
}

// NewWriter returns a writer on out.
func NewWriter(out io.Writer) *Writer {
	return &Writer{out: out}
}

// Header writes the run identifier line.
func (w *Writer) Header(id string) error {
	return w.printf("%s\n", id)
}

// Record writes one measure line at full precision.
func (w *Writer) Record(label string, v float64) error {
	return w.printf("%-15s: %150.30f\n", label, v)
}

// Missing writes the marker for a measure that could not be computed.
func (w *Writer) Missing(label string) error {
	return w.printf("%s%s\n", strings.ToLower(label), missingSuffix)
}

// Err returns the first write error.
func (w *Writer) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

func (w *Writer) printf(format string, args ...any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	if _, err := fmt.Fprintf(w.out, format, args...); err != nil {
		w.err = fmt.Errorf("report: write: %w", err)
	}
	return w.err
}

// Record is one parsed report.
type Record struct {
	ID      string             // first line, the run identifier
	Name    string             // second-to-last path segment of ID
	Values  map[string]float64 // last value per label
	Missing []string           // labels reported as not existing, in log order
}

// Value returns the value recorded for label.
func (r *Record) Value(label string) (float64, bool) {
	v, ok := r.Values[label]
	return v, ok
}

// IsMissing reports whether label was reported as not existing.
func (r *Record) IsMissing(label string) bool {
	for _, m := range r.Missing {
		if m == label {
			return true
		}
	}
	return false
}

// Parse reads one report. Lines that are neither a measure nor a missing
// marker are ignored, so logs with interleaved output still parse.
func Parse(in io.Reader) (*Record, error) {
	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 0, 4096), 1<<20)

	rec := &Record{Values: make(map[string]float64)}
	header := false
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if !header {
			rec.ID = line
			rec.Name = runName(line)
			header = true
			continue
		}

		if label, ok := strings.CutSuffix(line, missingSuffix); ok {
			rec.Missing = append(rec.Missing, canonicalLabel(label))
			continue
		}

		label, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			continue
		}
		rec.Values[strings.TrimSpace(label)] = v
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("report: read: %w", err)
	}
	if !header {
		return nil, ErrNoHeader
	}
	return rec, nil
}

// ParseFile parses the report stored at path.
func ParseFile(path string) (*Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("report: %w", err)
	}
	defer f.Close()

	rec, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return rec, nil
}

// runName returns the directory that holds the checkpoint named by id.
func runName(id string) string {
	parts := strings.Split(id, "/")
	if len(parts) < 2 {
		return id
	}
	return parts[len(parts)-2]
}

// canonicalLabel maps a lower-cased marker back to its measure label.
func canonicalLabel(s string) string {
	s = strings.TrimSpace(s)
	for _, l := range Labels {
		if strings.EqualFold(l, s) {
			return l
		}
	}
	return s
}
