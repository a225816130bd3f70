// Package logging builds the slog loggers used by authd and handed to the engine.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Options selects level, format and destination.
type Options struct {
	Level   string
	Format  string
	Output  string
	Service string
	Version string
}

// New returns a JSON or text logger carrying service and version attributes.
// Unknown formats fall back to JSON, unknown levels to info.
func New(opts Options) *slog.Logger {
	return NewWithWriter(opts, writerFor(opts.Output))
}

// NewWithWriter is New with an explicit destination.
func NewWithWriter(opts Options, w io.Writer) *slog.Logger {
	hopts := &slog.HandlerOptions{Level: ParseLevel(opts.Level)}

	var handler slog.Handler
	switch strings.ToLower(opts.Format) {
	case "text":
		handler = slog.NewTextHandler(w, hopts)
	default:
		handler = slog.NewJSONHandler(w, hopts)
	}

	service := opts.Service
	if service == "" {
		service = "authcore"
	}
	attrs := []slog.Attr{slog.String("service", service)}
	if opts.Version != "" {
		attrs = append(attrs, slog.String("version", opts.Version))
	}
	return slog.New(handler.WithAttrs(attrs))
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

// ParseLevel maps debug, info, warn and error to slog levels.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func writerFor(output string) io.Writer {
	switch strings.ToLower(output) {
	case "stderr":
		return os.Stderr
	default:
		return os.Stdout
	}
}
