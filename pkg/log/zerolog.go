package log

import (
	"context"
	"io"

	"github.com/rs/zerolog"

	"github.com/YuminosukeSato/haspeede/pkg/errors"
)

// ZerologLogger implements Logger on top of zerolog.
type ZerologLogger struct {
	l     zerolog.Logger
	level Level
}

// NewZerologLogger returns a JSON logger writing to w.
func NewZerologLogger(w io.Writer, level Level) *ZerologLogger {
	zl := zerolog.New(w).With().Timestamp().Logger().Level(toZerologLevel(level))
	return &ZerologLogger{l: zl, level: level}
}

// NewConsoleLogger returns a human readable logger writing to w.
func NewConsoleLogger(w io.Writer, level Level) *ZerologLogger {
	zl := zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05"}).
		With().Timestamp().Logger().Level(toZerologLevel(level))
	return &ZerologLogger{l: zl, level: level}
}

// ParseLevel maps "debug", "info", "warn" and "error" to a Level.
func ParseLevel(s string) (Level, error) {
	l, err := ToLogLevel(s)
	if err != nil {
		return LevelInfo, err
	}
	return Level(l), nil
}

func toZerologLevel(level Level) zerolog.Level {
	switch {
	case level <= LevelDebug:
		return zerolog.DebugLevel
	case level <= LevelInfo:
		return zerolog.InfoLevel
	case level <= LevelWarn:
		return zerolog.WarnLevel
	default:
		return zerolog.ErrorLevel
	}
}

func (z *ZerologLogger) Debug(msg string, fields ...any) { emit(z.l.Debug(), msg, fields) }
func (z *ZerologLogger) Info(msg string, fields ...any)  { emit(z.l.Info(), msg, fields) }
func (z *ZerologLogger) Warn(msg string, fields ...any)  { emit(z.l.Warn(), msg, fields) }
func (z *ZerologLogger) Error(msg string, fields ...any) { emit(z.l.Error(), msg, fields) }

func (z *ZerologLogger) With(fields ...any) Logger {
	ctx := z.l.With()
	for i := 0; i+1 < len(fields); i += 2 {
		key, ok := fields[i].(string)
		if !ok {
			continue
		}
		ctx = ctx.Interface(key, fields[i+1])
	}
	return &ZerologLogger{l: ctx.Logger(), level: z.level}
}

func (z *ZerologLogger) Enabled(_ context.Context, level Level) bool {
	return level >= z.level
}

// InstallWarnHook routes errors.Warn through this logger.
func (z *ZerologLogger) InstallWarnHook() {
	errors.SetZerologWarnFunc(func(w error) {
		ev := z.l.Warn()
		if m, ok := w.(zerolog.LogObjectMarshaler); ok {
			ev = ev.EmbedObject(m)
		}
		ev.Msg(w.Error())
	})
}

func emit(ev *zerolog.Event, msg string, fields []any) {
	if ev == nil {
		return
	}
	if len(fields)%2 == 1 {
		if err, ok := fields[0].(error); ok {
			ev = ev.Err(err)
			if m, ok := err.(zerolog.LogObjectMarshaler); ok {
				ev = ev.EmbedObject(m)
			}
		}
		fields = fields[1:]
	}
	for i := 0; i+1 < len(fields); i += 2 {
		key, ok := fields[i].(string)
		if !ok {
			continue
		}
		switch v := fields[i+1].(type) {
		case error:
			ev = ev.AnErr(key, v)
		case zerolog.LogObjectMarshaler:
			ev = ev.Object(key, v)
		default:
			ev = ev.Interface(key, v)
		}
	}
	ev.Msg(msg)
}
