// Package logging builds the structured loggers used across seqtune.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/born-ml/seqtune/internal/config"
)

// New returns a logger writing to w (stderr when nil) with the level and
// format of cfg. Format is "text", "json" or "logfmt".
func New(cfg config.Logging, w io.Writer) (*log.Logger, error) {
	if w == nil {
		w = os.Stderr
	}
	level := log.InfoLevel
	if cfg.Level != "" {
		var err error
		level, err = log.ParseLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("%w: logging.level: %w", config.ErrInvalid, err)
		}
	}

	var formatter log.Formatter
	switch strings.ToLower(cfg.Format) {
	case "", "text":
		formatter = log.TextFormatter
	case "json":
		formatter = log.JSONFormatter
	case "logfmt":
		formatter = log.LogfmtFormatter
	default:
		return nil, fmt.Errorf("%w: logging.format must be text, json or logfmt, got %q", config.ErrInvalid, cfg.Format)
	}

	return log.NewWithOptions(w, log.Options{
		Level:           level,
		Formatter:       formatter,
		ReportTimestamp: true,
		Prefix:          "seqtune",
	}), nil
}

// Discard returns a logger that drops everything.
func Discard() *log.Logger {
	return log.New(io.Discard)
}

// OrDefault returns logger, or log.Default() when logger is nil.
func OrDefault(logger *log.Logger) *log.Logger {
	if logger == nil {
		return log.Default()
	}
	return logger
}
