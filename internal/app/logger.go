package app

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/climaglyph/climaglyph/internal/config"
)

// NewLogger returns the root logger for a service. Unknown levels fall back
// to info.
func NewLogger(cfg config.LoggingConfig, service, version string) zerolog.Logger {
	return newLogger(os.Stdout, cfg, service, version)
}

func newLogger(w io.Writer, cfg config.LoggingConfig, service, version string) zerolog.Logger {
	if cfg.Format == "console" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}

	return zerolog.New(w).
		Level(level).
		With().
		Timestamp().
		Str("service", service).
		Str("version", version).
		Logger()
}
