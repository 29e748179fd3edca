// Package log provides the structured logging interface used by the training
// loop, the grid search driver and the command line tool.
//
// The interface is slog-compatible so that the same call sites can be backed
// by log/slog, zerolog or the in-memory TestLogger:
//
//	logger := log.NewZerologLogger(os.Stderr, log.LevelInfo).With(
//	    log.TaskKey, "hs",
//	    log.RunIDKey, runID,
//	)
//	logger.Info("epoch finished",
//	    log.EpochKey, 3,
//	    log.TrainLossKey, 0.41,
//	    log.ValLossKey, 0.48,
//	)
package log

import (
	"context"
)

// Logger defines a structured logging interface compatible with Go's log/slog.
//
// Fields are alternating key/value pairs. An error passed as a value is
// rendered with its message; backends that understand cockroachdb/errors add
// the stack trace.
type Logger interface {
	// Debug logs detailed diagnostic information, such as per-batch losses.
	Debug(msg string, fields ...any)

	// Info logs operational progress, such as per-epoch metrics.
	Info(msg string, fields ...any)

	// Warn logs conditions that do not stop the run, such as early stopping
	// triggered by a NaN validation loss.
	Warn(msg string, fields ...any)

	// Error logs failures, such as a grid cell that could not be trained.
	Error(msg string, fields ...any)

	// With returns a Logger that adds fields to every subsequent record.
	With(fields ...any) Logger

	// Enabled reports whether records at level would be emitted. Use it to
	// skip building expensive fields.
	Enabled(ctx context.Context, level Level) bool
}

// Level represents a logging level, compatible with slog.Level.
type Level int

// Standard logging levels, values are compatible with slog.Level.
const (
	LevelDebug Level = -4
	LevelInfo  Level = 0
	LevelWarn  Level = 4
	LevelError Level = 8
)

// String returns the string representation of the log level.
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// nopLogger discards everything.
type nopLogger struct{}

// Nop returns a Logger that discards all records. Library types default to it
// when no logger option is given.
func Nop() Logger { return nopLogger{} }

func (nopLogger) Debug(string, ...any)                {}
func (nopLogger) Info(string, ...any)                 {}
func (nopLogger) Warn(string, ...any)                 {}
func (nopLogger) Error(string, ...any)                {}
func (n nopLogger) With(...any) Logger                { return n }
func (nopLogger) Enabled(context.Context, Level) bool { return false }
