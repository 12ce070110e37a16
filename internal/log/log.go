// Package log builds the structured logger handed to the server, CLI and key
// loading. There is no package-level logger; callers pass the result along.
package log

import (
	"io"
	"log/slog"
	"os"
)

// Options configures the logger.
type Options struct {
	// Verbose lowers the level from Info to Debug.
	Verbose bool
	// JSONFormat switches the handler from text to JSON.
	JSONFormat bool
	// Stderr is the destination (defaults to os.Stderr).
	Stderr io.Writer
}

// New returns a logger for opts. Info is the floor unless Verbose is set, so
// key-loading and listen events are always visible to operators.
func New(opts Options) *slog.Logger {
	w := opts.Stderr
	if w == nil {
		w = os.Stderr
	}
	level := slog.LevelInfo
	if opts.Verbose {
		level = slog.LevelDebug
	}
	hopts := &slog.HandlerOptions{Level: level}
	if opts.JSONFormat {
		return slog.New(slog.NewJSONHandler(w, hopts))
	}
	return slog.New(slog.NewTextHandler(w, hopts))
}

// Discard is a logger that drops everything; used by tests and one-shot CLI
// commands that print their own output.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
