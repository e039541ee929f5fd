package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
)

// Logger writes diagnostics to stderr so that stdout stays reserved for
// rendered templates and listings.
type Logger struct {
	mu      sync.Mutex
	out     io.Writer
	debug   bool
	noColor bool
}

// New creates a new logger instance
func New(debug, noColor bool) *Logger {
	return &Logger{
		out:     os.Stderr,
		debug:   debug,
		noColor: noColor,
	}
}

// NewTo creates a logger that writes to w.
func NewTo(w io.Writer, debug, noColor bool) *Logger {
	return &Logger{out: w, debug: debug, noColor: noColor}
}

// NewWithWriter creates an uncolored logger that writes to w instead of stderr.
func NewWithWriter(w io.Writer, debug bool) *Logger {
	return &Logger{out: w, debug: debug, noColor: true}
}

// Discard returns a logger that drops everything.
func Discard() *Logger {
	return NewWithWriter(io.Discard, false)
}

func (l *Logger) emit(color, glyph, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)

	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.noColor {
		fmt.Fprintf(l.out, "\033[%sm%s\033[0m %s\n", color, glyph, msg)
	} else {
		fmt.Fprintf(l.out, "%s %s\n", glyph, msg)
	}
}

// Info logs an informational message
func (l *Logger) Info(format string, args ...interface{}) {
	l.emit("32", "✓", format, args...)
}

// Warn logs a warning message
func (l *Logger) Warn(format string, args ...interface{}) {
	l.emit("33", "⚠", format, args...)
}

// Error logs an error message
func (l *Logger) Error(format string, args ...interface{}) {
	l.emit("31", "✗", format, args...)
}

// Debug logs a debug message if debug mode is enabled
func (l *Logger) Debug(format string, args ...interface{}) {
	if !l.debug {
		return
	}
	l.emit("36", "[DEBUG]", format, args...)
}

// Secret represents a value that should be redacted in logs
type Secret string

// String implements the Stringer interface, always returning a redacted value
func (s Secret) String() string {
	return "[REDACTED]"
}

// GoString implements the GoStringer interface for %#v formatting
func (s Secret) GoString() string {
	return "[REDACTED]"
}

// Redact replaces sensitive values in a string with [REDACTED]
func Redact(s string, secrets []string) string {
	result := s
	for _, secret := range secrets {
		if secret != "" && len(secret) > 3 { // Only redact non-trivial secrets
			result = strings.ReplaceAll(result, secret, "[REDACTED]")
		}
	}
	return result
}
