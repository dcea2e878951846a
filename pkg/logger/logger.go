// Package logger provides a structured logger
package logger

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// Logger provides structured logging, keeping the narrow Debug/Info/Warn/Error
// call surface callers already use but backed by zerolog instead of the
// standard library's log.Logger, so every call site emits structured JSON
// fields instead of a concatenated string.
type Logger struct {
	zl      zerolog.Logger
	enabled bool
}

// New creates a new Logger instance writing structured JSON to stdout.
func New() *Logger {
	return newWithWriter(os.Stdout)
}

// newWithWriter backs a Logger with an arbitrary writer, used by New and by
// tests that need to assert on emitted fields.
func newWithWriter(w io.Writer) *Logger {
	return &Logger{
		zl:      zerolog.New(w).With().Timestamp().Str("service", "smartcache").Logger(),
		enabled: true,
	}
}

// NewNoop creates a disabled logger for tests and default-constructed
// components that were not given a logger explicitly.
func NewNoop() *Logger {
	return &Logger{
		zl:      zerolog.Nop(),
		enabled: false,
	}
}

// Debug logs debug-level messages with key-value pairs.
func (l *Logger) Debug(msg string, keysAndValues ...interface{}) {
	if !l.enabled {
		return
	}
	logWithKV(l.zl.Debug(), msg, keysAndValues...)
}

// Info logs info-level messages with key-value pairs.
func (l *Logger) Info(msg string, keysAndValues ...interface{}) {
	if !l.enabled {
		return
	}
	logWithKV(l.zl.Info(), msg, keysAndValues...)
}

// Warn logs warning-level messages with key-value pairs.
func (l *Logger) Warn(msg string, keysAndValues ...interface{}) {
	if !l.enabled {
		return
	}
	logWithKV(l.zl.Warn(), msg, keysAndValues...)
}

// Error logs error-level messages with key-value pairs.
func (l *Logger) Error(msg string, keysAndValues ...interface{}) {
	if !l.enabled {
		return
	}
	logWithKV(l.zl.Error(), msg, keysAndValues...)
}

// logWithKV attaches each key-value pair to the event before firing it. A
// trailing key with no value is dropped rather than logged half-formed.
func logWithKV(event *zerolog.Event, msg string, keysAndValues ...interface{}) {
	for i := 0; i < len(keysAndValues)-1; i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			continue
		}
		event = event.Interface(key, keysAndValues[i+1])
	}
	event.Msg(msg)
}
