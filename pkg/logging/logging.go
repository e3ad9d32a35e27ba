// Package logging sets up zerolog for the CLI and turns pipeline events into
// structured log lines.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// DefaultFile is the log file written next to the outputs
const DefaultFile = "ufed-kml-map.log"

// Config selects level, console format and an optional log file.
type Config struct {
	// Level may be "trace", "debug", "info", "warn", or "error" (default "info").
	Level string `mapstructure:"level"`
	// Format may be "console" or "json" (default "console").
	Format string `mapstructure:"format"`
	// File receives JSON lines in addition to the console. Empty disables it.
	File string `mapstructure:"file"`
}

// ParseLevel maps a level name to zerolog, defaulting to info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Setup builds a logger writing to console and, when configured, appending
// to cfg.File. The returned close function releases the file.
func Setup(cfg Config, console io.Writer) (zerolog.Logger, func() error, error) {
	if console == nil {
		console = os.Stderr
	}

	var out io.Writer = console
	if !strings.EqualFold(cfg.Format, "json") {
		out = zerolog.ConsoleWriter{Out: console, TimeFormat: time.DateTime}
	}

	closeFn := func() error { return nil }
	if cfg.File != "" {
		if dir := filepath.Dir(cfg.File); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return zerolog.Nop(), closeFn, fmt.Errorf("failed to create log directory: %w", err)
			}
		}
		file, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return zerolog.Nop(), closeFn, fmt.Errorf("failed to open log file: %w", err)
		}
		out = zerolog.MultiLevelWriter(out, file)
		closeFn = file.Close
	}

	logger := zerolog.New(out).Level(ParseLevel(cfg.Level)).With().Timestamp().Logger()
	return logger, closeFn, nil
}
