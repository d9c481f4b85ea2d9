package report

import (
	"bytes"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriter_RecordFormat(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	require.NoError(t, w.Record(LabelL2, 1.5))

	line := strings.TrimSuffix(buf.String(), "\n")
	label, value, ok := strings.Cut(line, ": ")
	require.True(t, ok)
	assert.Equal(t, "L2             ", label)
	assert.Len(t, value, 150)
	assert.True(t, strings.HasSuffix(value, "1.500000000000000000000000000000"))
}

func TestWriter_Missing(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	require.NoError(t, w.Missing(LabelL2Path))
	assert.Equal(t, "l2-path norm does not exist\n", buf.String())
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestWriter_KeepsFirstError(t *testing.T) {
	w := NewWriter(failingWriter{})
	err := w.Header("/a/b/c")
	require.Error(t, err)
	assert.Equal(t, err, w.Record(LabelL2, 1))
	assert.Equal(t, err, w.Err())
}

func TestParse_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	require.NoError(t, w.Header("/storage/checkpoints/run_7/solver_e_reached_100.born"))
	require.NoError(t, w.Record(LabelL2, 12345.678))
	require.NoError(t, w.Record(LabelSpectral, 0.25))
	require.NoError(t, w.Missing(LabelL2Path))
	require.NoError(t, w.Record(LabelL1Path, 3.0e12))
	require.NoError(t, w.Record(LabelSharpness, 0.001))
	require.NoError(t, w.Record(LabelSharpness, 0.0125))
	require.NoError(t, w.Record(LabelSharpness, 0.75))

	rec, err := Parse(&buf)
	require.NoError(t, err)

	assert.Equal(t, "run_7", rec.Name)
	assert.Equal(t, "/storage/checkpoints/run_7/solver_e_reached_100.born", rec.ID)
	assert.Equal(t, map[string]float64{
		LabelL2:        12345.678,
		LabelSpectral:  0.25,
		LabelL1Path:    3.0e12,
		LabelSharpness: 0.75,
	}, rec.Values)
	assert.Equal(t, []string{LabelL2Path}, rec.Missing)
	assert.True(t, rec.IsMissing(LabelL2Path))
	assert.False(t, rec.IsMissing(LabelL2))

	_, ok := rec.Value(LabelL2Path)
	assert.False(t, ok)
}

func TestParse_IgnoresNoise(t *testing.T) {
	log := strings.Join([]string{
		"",
		"/x/run/file.born",
		"Loading train set: 60000 examples",
		"0",
		"1",
		"Sharpness      : 0.5",
		"not a number: abc",
		"Sharpness      : 0.7",
		"",
	}, "\n")

	rec, err := Parse(strings.NewReader(log))
	require.NoError(t, err)
	assert.Equal(t, "run", rec.Name)
	assert.Equal(t, map[string]float64{LabelSharpness: 0.7}, rec.Values)
	assert.Empty(t, rec.Missing)
}

func TestParse_NameWithoutDirectory(t *testing.T) {
	rec, err := Parse(strings.NewReader("model.born\nL2: 1\n"))
	require.NoError(t, err)
	assert.Equal(t, "model.born", rec.Name)
}

func TestParse_Empty(t *testing.T) {
	_, err := Parse(strings.NewReader("\n\n"))
	assert.ErrorIs(t, err, ErrNoHeader)
}

func TestParseFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "measures.log")
	require.NoError(t, os.WriteFile(path, []byte("/a/b/c.born\nL2: 2\n"), 0o644))

	rec, err := ParseFile(path)
	require.NoError(t, err)
	assert.Equal(t, "b", rec.Name)

	_, err = ParseFile(filepath.Join(t.TempDir(), "missing.log"))
	assert.Error(t, err)
}

func TestWriteSummaryCSV(t *testing.T) {
	records := []*Record{
		{
			Name: "run_a",
			Values: map[string]float64{
				LabelL2: 1.5, LabelSpectral: 2, LabelL2Path: 3, LabelL1Path: 4, LabelSharpness: 0.125,
			},
		},
		{
			Name:    "run_b",
			Values:  map[string]float64{LabelL2: 10, LabelSharpness: math.Inf(-1)},
			Missing: []string{LabelL2Path, LabelL1Path},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteSummaryCSV(&buf, records, nil))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, SummaryColumns, rows[0])
	assert.Equal(t, []string{"run_a", "1.5", "2", "3", "4", "0.125"}, rows[1])
	assert.Equal(t, []string{"run_b", "10", "NA", "NA", "NA", "-Inf"}, rows[2])
}

func TestWriteSummaryCSV_Config(t *testing.T) {
	config := DefaultSummaryConfig()
	config.IncludeHeader = false
	config.Precision = 2
	config.NAString = ""
	config.Comma = '\t'

	var buf bytes.Buffer
	require.NoError(t, WriteSummaryCSV(&buf, []*Record{{Values: map[string]float64{LabelL2: 1}}}, config))
	assert.Equal(t, "\t1.00\t\t\t\t\n", buf.String())
}
