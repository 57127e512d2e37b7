// Package log provides the logging facade used throughout the run module.
package log

import (
	"io"
	"runtime"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

// New creates a Logger instance writing structured JSON lines to w, tagged
// with the given package prefix.
func New(w io.Writer, prefix string) *Logger {
	zl := zerolog.New(w).With().Timestamp().Str("pkg", prefix).Logger()
	return &Logger{zl}
}

// Logger wraps a zerolog.Logger to present the call-site API the rest of
// this module expects (Errorf/Warnf/Infof with caller annotation), rather
// than zerolog's event-builder style.
type Logger struct {
	zerolog.Logger
}

// Errorf prints an error log-level message.
func (l Logger) Errorf(msg string, args ...interface{}) {
	file, line := caller(2)
	l.Error().Str("at", at(file, line)).Msgf(msg, args...)
}

// Warnf prints a warn log-level message.
func (l Logger) Warnf(msg string, args ...interface{}) {
	file, line := caller(2)
	l.Warn().Str("at", at(file, line)).Msgf(msg, args...)
}

// Infof prints an info log-level message.
func (l Logger) Infof(msg string, args ...interface{}) {
	file, line := caller(2)
	l.Info().Str("at", at(file, line)).Msgf(msg, args...)
}

func at(file string, line int) string {
	return file + ":" + strconv.Itoa(line)
}

func caller(depth int) (string, int) {
	_, file, line, ok := runtime.Caller(depth)
	parts := strings.Split(file, "/")

	// shorten file if it consists of more than 3 parts
	if len(parts) > 3 {
		file = strings.Join(parts[len(parts)-3:], "/")
	}
	if !ok {
		file = "???"
		line = 0
	}
	return file, line
}
