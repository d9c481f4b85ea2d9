// Package logging configures the structured logger of a run.
//
// Logs go to stderr so that stdout carries only the measure report.
package logging

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/google/uuid"
)

// ErrInvalidConfig is returned for unknown levels or formats.
var ErrInvalidConfig = errors.New("logging: invalid configuration")

// Output formats.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// Config selects the level and format.
type Config struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

// DefaultConfig returns info-level text logging.
func DefaultConfig() Config {
	return Config{Level: "info", Format: FormatText}
}

// Validate checks level and format.
func (c Config) Validate() error {
	if _, err := ParseLevel(c.Level); err != nil {
		return err
	}
	switch strings.ToLower(c.Format) {
	case "", FormatText, FormatJSON:
		return nil
	default:
		return fmt.Errorf("%w: format %q", ErrInvalidConfig, c.Format)
	}
}

// ParseLevel maps a level name to a slog level. An empty name is info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("%w: level %q", ErrInvalidConfig, s)
	}
}

// New returns a logger on stderr tagged with a fresh run_id, and the id.
func New(cfg Config) (*slog.Logger, string, error) {
	return NewWithWriter(os.Stderr, cfg)
}

// NewWithWriter is New with an explicit destination.
func NewWithWriter(w io.Writer, cfg Config) (*slog.Logger, string, error) {
	if err := cfg.Validate(); err != nil {
		return nil, "", err
	}
	level, _ := ParseLevel(cfg.Level)
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if strings.ToLower(cfg.Format) == FormatJSON {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	runID := uuid.NewString()
	return slog.New(handler).With(slog.String("run_id", runID)), runID, nil
}
