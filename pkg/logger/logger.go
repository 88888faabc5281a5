// Package logger provides the structured logger shared by every trustify
// component. Loggers travel in a context.Context; code that has none falls
// back to the process default.
package logger

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync/atomic"
	"testing"

	charmlog "github.com/charmbracelet/log"
)

// Logger is the structured logger used across trustify.
type Logger interface {
	Debug(msg string, keyvals ...any)
	Info(msg string, keyvals ...any)
	Warn(msg string, keyvals ...any)
	Error(msg string, keyvals ...any)
	With(keyvals ...any) Logger
}

type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
	// SilentLevel suppresses every record.
	SilentLevel Level = "silent"
)

// ParseLevel accepts the configuration spelling of a level.
func ParseLevel(s string) (Level, error) {
	switch l := Level(strings.ToLower(strings.TrimSpace(s))); l {
	case "":
		return InfoLevel, nil
	case DebugLevel, InfoLevel, WarnLevel, ErrorLevel, SilentLevel:
		return l, nil
	default:
		return "", fmt.Errorf("logger: unknown level %q", s)
	}
}

func (l Level) charm() charmlog.Level {
	switch l {
	case DebugLevel:
		return charmlog.DebugLevel
	case WarnLevel:
		return charmlog.WarnLevel
	case ErrorLevel:
		return charmlog.ErrorLevel
	case SilentLevel:
		return charmlog.FatalLevel + 1
	default:
		return charmlog.InfoLevel
	}
}

type Options struct {
	Level     Level
	Output    io.Writer
	JSON      bool
	AddSource bool
}

type charmLogger struct {
	l *charmlog.Logger
}

func (c charmLogger) Debug(msg string, keyvals ...any) { c.l.Debug(msg, keyvals...) }
func (c charmLogger) Info(msg string, keyvals ...any)  { c.l.Info(msg, keyvals...) }
func (c charmLogger) Warn(msg string, keyvals ...any)  { c.l.Warn(msg, keyvals...) }
func (c charmLogger) Error(msg string, keyvals ...any) { c.l.Error(msg, keyvals...) }

func (c charmLogger) With(keyvals ...any) Logger {
	return charmLogger{l: c.l.With(keyvals...)}
}

// New builds a charm-backed logger. A nil Output writes to stderr.
func New(opts Options) Logger {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	l := charmlog.NewWithOptions(out, charmlog.Options{
		ReportCaller:    opts.AddSource,
		ReportTimestamp: true,
		TimeFormat:      "15:04:05",
		Level:           opts.Level.charm(),
	})
	if opts.JSON {
		l.SetFormatter(charmlog.JSONFormatter)
	}
	return charmLogger{l: l}
}

var defaultLogger atomic.Pointer[Logger]

// Setup installs a new process default and returns it.
func Setup(opts Options) Logger {
	l := New(opts)
	defaultLogger.Store(&l)
	return l
}

// GetDefault returns the process default. Test binaries get a silent
// logger until Setup is called.
func GetDefault() Logger {
	if l := defaultLogger.Load(); l != nil {
		return *l
	}
	opts := Options{Level: InfoLevel}
	if testing.Testing() {
		opts = Options{Level: SilentLevel, Output: io.Discard}
	}
	l := New(opts)
	if defaultLogger.CompareAndSwap(nil, &l) {
		return l
	}
	return *defaultLogger.Load()
}

type ctxKey struct{}

func ContextWithLogger(ctx context.Context, l Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext returns the logger attached to ctx, or the default logger.
func FromContext(ctx context.Context) Logger {
	if ctx != nil {
		if l, ok := ctx.Value(ctxKey{}).(Logger); ok && l != nil {
			return l
		}
	}
	return GetDefault()
}
