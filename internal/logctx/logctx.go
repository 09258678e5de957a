// Package logctx provides zerolog.Logger constructors (SPEC_FULL.md §2
// Ambient Stack). No other package of the module imports it;
// script.ZerologDebugSink accepts any zerolog.Logger. The teacher logs ad hoc via slog/fmt in
// its CLI entry points; this subsystem is new relative to the teacher, so
// it is enriched from the rest of the retrieved pack, which reaches for
// github.com/rs/zerolog for exactly this kind of tagged structured event.
package logctx

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// New builds a console-writer-backed logger at the given level, suitable
// for interactive node operation. Pass w = nil for the default (stderr).
func New(level zerolog.Level, w io.Writer) zerolog.Logger {
	if w == nil {
		w = os.Stderr
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05"}).
		Level(level).
		With().Timestamp().Logger()
}

// NewJSON builds a plain JSON-line logger, suitable for log aggregation.
func NewJSON(level zerolog.Level, w io.Writer) zerolog.Logger {
	if w == nil {
		w = os.Stdout
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}
