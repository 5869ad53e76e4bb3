// Package wdlog wires zerolog the way spec.md §7 requires: INFO for
// cadence messages, DEBUG for verbose output, WARNING for suppressed
// repairable failures and configuration oddities, ERR for I/O and
// probe failures, and ALERT for shutdown/panic announcements. zerolog
// has no native ALERT level, so it is carried as a "severity" field on
// an Error-level event — the same field-based severity extension the
// pack's zerolog/logiface adapters use rather than forking the level
// enum.
package wdlog

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// New builds a logger writing to w. If console is true (foreground,
// interactive use) it uses zerolog's human-readable ConsoleWriter;
// otherwise it writes plain JSON lines, matching the teacher's split
// between interactive stdout and persisted log-file output.
func New(w io.Writer, console bool, verbose int) zerolog.Logger {
	level := zerolog.InfoLevel
	if verbose > 0 {
		level = zerolog.DebugLevel
	}

	var out io.Writer = w
	if console {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05"}
	}

	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}

// Default returns a logger to stderr, used before the log directory
// has been determined (early startup, configuration errors).
func Default() zerolog.Logger {
	return New(os.Stderr, true, 0)
}

// Alert logs an ALERT-severity event — shutting down, panic path —
// the one severity zerolog's level enum doesn't carry natively.
func Alert(l zerolog.Logger, msg string) {
	l.Error().Str("severity", "ALERT").Msg(msg)
}

// Suspend raises zerolog's global level above every defined level,
// silencing all loggers built by New/Default until Resume is called,
// and returns the previous level to restore. Used around the
// stop-the-world process sweep in internal/proctree.SignalAllUsers,
// per spec.md §4.3's "user-space logging is suspended" requirement.
func Suspend() zerolog.Level {
	prev := zerolog.GlobalLevel()
	zerolog.SetGlobalLevel(zerolog.Disabled)
	return prev
}

// Resume restores the global level captured by a prior Suspend call.
func Resume(prev zerolog.Level) {
	zerolog.SetGlobalLevel(prev)
}
