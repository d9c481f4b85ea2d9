package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"", slog.LevelInfo},
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := ParseLevel("verbose")
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestNewWithWriter_JSONCarriesRunID(t *testing.T) {
	var buf bytes.Buffer
	logger, runID, err := NewWithWriter(&buf, Config{Level: "debug", Format: "json"})
	require.NoError(t, err)
	_, err = uuid.Parse(runID)
	require.NoError(t, err)

	logger.Debug("enumerated layer", "paths", 8)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, runID, entry["run_id"])
	assert.Equal(t, "enumerated layer", entry["msg"])
	assert.EqualValues(t, 8, entry["paths"])
}

func TestNewWithWriter_TextFiltersLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, _, err := NewWithWriter(&buf, Config{Level: "warn"})
	require.NoError(t, err)

	logger.Info("hidden")
	logger.Warn("shown")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.True(t, strings.Contains(out, "msg=shown"))
}

func TestNewWithWriter_RunIDsDiffer(t *testing.T) {
	_, a, err := NewWithWriter(&bytes.Buffer{}, DefaultConfig())
	require.NoError(t, err)
	_, b, err := NewWithWriter(&bytes.Buffer{}, DefaultConfig())
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
	assert.ErrorIs(t, Config{Format: "xml"}.Validate(), ErrInvalidConfig)
	assert.ErrorIs(t, Config{Level: "loud"}.Validate(), ErrInvalidConfig)
}
