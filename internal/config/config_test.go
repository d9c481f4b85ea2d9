package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/born-ml/genbound/internal/dataset"
	"github.com/born-ml/genbound/internal/measures"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "genbound.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 0.05, cfg.Eps)
	assert.Equal(t, 5e-4, cfg.Alpha)
	assert.Equal(t, int64(100000), cfg.Iterations)
	assert.Equal(t, "auto", cfg.Device)
	assert.Equal(t, 8, cfg.Workers)
	assert.Zero(t, cfg.MaxPaths)
	assert.False(t, cfg.StrictFanIn)

	names, err := cfg.MeasureNames()
	require.NoError(t, err)
	assert.Equal(t, measures.All(), names)
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	path := writeConfig(t, `
eps: 0.1
iterations: -1
measures: [l2, L2-path, sharpness, l2]
dataset:
  path: /data/mnist
  subset_size: 500
criterion: mse
log:
  level: debug
  format: json
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 0.1, cfg.Eps)
	assert.Equal(t, int64(-1), cfg.Iterations)
	assert.Equal(t, 5e-4, cfg.Alpha)
	assert.Equal(t, "mse", cfg.Criterion)
	assert.Equal(t, "debug", cfg.Log.Level)

	names, err := cfg.MeasureNames()
	require.NoError(t, err)
	assert.Equal(t, []measures.Name{measures.L2, measures.L2Path, measures.Sharpness}, names)

	mc := cfg.MeasuresConfig()
	assert.Equal(t, names, mc.Measures)
	assert.Equal(t, int64(-1), mc.Iterations)

	base := dataset.Config{Kind: dataset.KindIDX, Path: "/old", BatchSize: 64, SubsetSize: -1}
	got := cfg.Dataset.Apply(base)
	assert.Equal(t, dataset.Config{Kind: dataset.KindIDX, Path: "/data/mnist", BatchSize: 64, SubsetSize: 500}, got)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"eps", "eps: 1.5\n"},
		{"alpha", "alpha: 0\n"},
		{"workers", "workers: -2\n"},
		{"device", "device: tpu\n"},
		{"measure", "measures: [vc_dimension]\n"},
		{"dataset kind", "dataset:\n  kind: imagenet\n"},
		{"criterion", "criterion: hinge_squared\n"},
		{"log format", "log:\n  format: xml\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			assert.ErrorIs(t, err, ErrInvalid)
		})
	}
}

func TestLoad_ParseError(t *testing.T) {
	_, err := Load(writeConfig(t, "eps: [not, a, number\n"))
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalid)
}

func TestLoadOrDefault(t *testing.T) {
	cfg, err := LoadOrDefault("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	cfg, err = LoadOrDefault(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Seed = 42
	cfg.MaxPaths = 1 << 20
	train := true
	cfg.Dataset.Train = &train
	cfg.Dataset.Kind = string(dataset.KindCIFAR10)

	path := filepath.Join(t.TempDir(), "nested", "genbound.yaml")
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestEnumeratorOptions(t *testing.T) {
	cfg := Default()
	cfg.MaxPaths = 100
	cfg.StrictFanIn = true
	opts := cfg.EnumeratorOptions(nil)
	assert.Equal(t, 8, opts.Workers)
	assert.Equal(t, 100, opts.MaxPaths)
	assert.True(t, opts.StrictFanIn)
}
