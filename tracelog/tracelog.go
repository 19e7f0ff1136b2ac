// Package tracelog adapts a leveled Logger into the pgconn.Tracer
// interface, turning session lifecycle events into traditional log lines.
package tracelog

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/pgmux/pgmux/pgconn"
)

// LogLevel is the logging level. The zero value means no level was
// specified.
type LogLevel int

const (
	LogLevelTrace = LogLevel(6)
	LogLevelDebug = LogLevel(5)
	LogLevelInfo  = LogLevel(4)
	LogLevelWarn  = LogLevel(3)
	LogLevelError = LogLevel(2)
	LogLevelNone  = LogLevel(1)
)

func (ll LogLevel) String() string {
	switch ll {
	case LogLevelTrace:
		return "trace"
	case LogLevelDebug:
		return "debug"
	case LogLevelInfo:
		return "info"
	case LogLevelWarn:
		return "warn"
	case LogLevelError:
		return "error"
	case LogLevelNone:
		return "none"
	default:
		return fmt.Sprintf("invalid level %d", ll)
	}
}

// LogLevelFromString converts a log level name ("trace", "debug", "info",
// "warn", "error", "none") to its LogLevel constant.
func LogLevelFromString(s string) (LogLevel, error) {
	switch s {
	case "trace":
		return LogLevelTrace, nil
	case "debug":
		return LogLevelDebug, nil
	case "info":
		return LogLevelInfo, nil
	case "warn":
		return LogLevelWarn, nil
	case "error":
		return LogLevelError, nil
	case "none":
		return LogLevelNone, nil
	default:
		return 0, errors.New("invalid log level")
	}
}

// Logger is the interface adapters (zerologadapter, logrusadapter,
// zapadapter) implement to receive structured log output.
type Logger interface {
	Log(ctx context.Context, level LogLevel, msg string, data map[string]any)
}

// LoggerFunc adapts a plain function to the Logger interface.
type LoggerFunc func(ctx context.Context, level LogLevel, msg string, data map[string]any)

func (f LoggerFunc) Log(ctx context.Context, level LogLevel, msg string, data map[string]any) {
	f(ctx, level, msg, data)
}

func truncateArg(a any) any {
	switch v := a.(type) {
	case []byte:
		if len(v) < 64 {
			return hex.EncodeToString(v)
		}
		return fmt.Sprintf("%x (truncated %d bytes)", v[:64], len(v)-64)
	case string:
		if len(v) <= 64 {
			return v
		}
		l := 0
		for w := 0; l < 64; l += w {
			_, w = utf8.DecodeRuneInString(v[l:])
		}
		return fmt.Sprintf("%s (truncated %d bytes)", v[:l], len(v)-l)
	default:
		return a
	}
}

// TraceLog implements pgconn.Tracer. Logger and LogLevel are required;
// TimeKey defaults to "time" if unset.
type TraceLog struct {
	Logger   Logger
	LogLevel LogLevel
	TimeKey  string

	mu          sync.Mutex
	connectedAt time.Time
}

func (tl *TraceLog) timeKey() string {
	if tl.TimeKey == "" {
		return "time"
	}
	return tl.TimeKey
}

func (tl *TraceLog) shouldLog(lvl LogLevel) bool { return tl.LogLevel >= lvl }

func (tl *TraceLog) log(lvl LogLevel, msg string, data map[string]any) {
	if data == nil {
		data = map[string]any{}
	}
	tl.Logger.Log(context.Background(), lvl, msg, data)
}

func (tl *TraceLog) TraceConnectStart(cfg *pgconn.Config) {
	tl.mu.Lock()
	tl.connectedAt = time.Now()
	tl.mu.Unlock()

	if tl.shouldLog(LogLevelInfo) {
		tl.log(LogLevelInfo, "Connect", map[string]any{"host": cfg.Host, "port": cfg.Port, "database": cfg.Database})
	}
}

func (tl *TraceLog) TraceConnectEnd(err error) {
	tl.mu.Lock()
	interval := time.Since(tl.connectedAt)
	tl.mu.Unlock()

	if err != nil {
		if tl.shouldLog(LogLevelError) {
			tl.log(LogLevelError, "Connect", map[string]any{"err": err, tl.timeKey(): interval})
		}
		return
	}
	if tl.shouldLog(LogLevelInfo) {
		tl.log(LogLevelInfo, "Connect", map[string]any{tl.timeKey(): interval})
	}
}

func (tl *TraceLog) TraceQueryStart(sql string) {
	if tl.shouldLog(LogLevelDebug) {
		tl.log(LogLevelDebug, "QueryStart", map[string]any{"sql": truncateArg(sql)})
	}
}

func (tl *TraceLog) TraceQueryEnd(err error) {
	if err != nil {
		if tl.shouldLog(LogLevelError) {
			tl.log(LogLevelError, "Query", map[string]any{"err": err})
		}
		return
	}
	if tl.shouldLog(LogLevelInfo) {
		tl.log(LogLevelInfo, "Query", nil)
	}
}

func (tl *TraceLog) TraceSessionBreak(err error) {
	if err == nil {
		if tl.shouldLog(LogLevelDebug) {
			tl.log(LogLevelDebug, "SessionBreak", nil)
		}
		return
	}
	if tl.shouldLog(LogLevelWarn) {
		tl.log(LogLevelWarn, "SessionBreak", map[string]any{"err": err})
	}
}
