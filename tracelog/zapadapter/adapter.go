// Package zapadapter provides a tracelog.Logger that writes to a
// go.uber.org/zap.Logger.
package zapadapter

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/pgmux/pgmux/tracelog"
)

type Logger struct {
	logger *zap.Logger
}

func NewLogger(logger *zap.Logger) *Logger {
	return &Logger{logger: logger.WithOptions(zap.AddCallerSkip(1))}
}

func (pl *Logger) Log(ctx context.Context, level tracelog.LogLevel, msg string, data map[string]any) {
	var zlevel zapcore.Level
	switch level {
	case tracelog.LogLevelTrace, tracelog.LogLevelDebug:
		zlevel = zap.DebugLevel
	case tracelog.LogLevelInfo:
		zlevel = zap.InfoLevel
	case tracelog.LogLevelWarn:
		zlevel = zap.WarnLevel
	case tracelog.LogLevelError:
		zlevel = zap.ErrorLevel
	default:
		zlevel = zap.ErrorLevel
	}

	if ce := pl.logger.Check(zlevel, msg); ce != nil {
		fields := make([]zap.Field, 0, len(data))
		for k, v := range data {
			fields = append(fields, zap.Any(k, v))
		}
		ce.Write(fields...)
	}
}
