// Package zerologadapter provides a tracelog.Logger that writes to a
// github.com/rs/zerolog.Logger.
package zerologadapter

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/pgmux/pgmux/tracelog"
)

type Logger struct {
	logger     zerolog.Logger
	skipModule bool
}

type option func(*Logger)

// WithoutModule disables adding module:pgmux to the default logger context.
func WithoutModule() option {
	return func(l *Logger) { l.skipModule = true }
}

func NewLogger(logger zerolog.Logger, options ...option) *Logger {
	l := &Logger{logger: logger}
	for _, opt := range options {
		opt(l)
	}
	if !l.skipModule {
		l.logger = l.logger.With().Str("module", "pgmux").Logger()
	}
	return l
}

func (l *Logger) Log(ctx context.Context, level tracelog.LogLevel, msg string, data map[string]any) {
	var zlevel zerolog.Level
	switch level {
	case tracelog.LogLevelNone:
		zlevel = zerolog.NoLevel
	case tracelog.LogLevelError:
		zlevel = zerolog.ErrorLevel
	case tracelog.LogLevelWarn:
		zlevel = zerolog.WarnLevel
	case tracelog.LogLevelInfo:
		zlevel = zerolog.InfoLevel
	case tracelog.LogLevelDebug, tracelog.LogLevelTrace:
		zlevel = zerolog.DebugLevel
	default:
		zlevel = zerolog.DebugLevel
	}

	event := l.logger.WithLevel(zlevel)
	if event.Enabled() {
		event.Fields(data).Msg(msg)
	}
}
