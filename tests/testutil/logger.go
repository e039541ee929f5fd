package testutil

import (
	"bytes"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/systmms/envlock/internal/logging"
)

// TestLogger is a real logging.Logger whose output is kept in memory so
// tests can check what reached the diagnostic stream.
//
// Example usage:
//
//	logger := NewTestLogger(t)
//	env := execenv.BuildEnvironment(base, secrets, logger.Logger)
//	logger.AssertContains(t, "PATH")
//	logger.AssertNotContains(t, "hunter2")
type TestLogger struct {
	*logging.Logger
	buffer *syncBuffer
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}


// NewTestLogger creates a TestLogger with debug output disabled.
func NewTestLogger(t *testing.T) *TestLogger {
	t.Helper()
	return NewTestLoggerWithDebug(t, false)
}

// NewTestLoggerWithDebug creates a TestLogger that also captures Debug calls
// when debug is true.
func NewTestLoggerWithDebug(t *testing.T, debug bool) *TestLogger {
	t.Helper()
	buf := &syncBuffer{}
	return &TestLogger{Logger: logging.NewWithWriter(buf, debug), buffer: buf}
}

// GetOutput returns everything logged so far.
func (l *TestLogger) GetOutput() string {
	return l.buffer.String()
}

// AssertContains asserts that the log output contains substr.
func (l *TestLogger) AssertContains(t *testing.T, substr string) {
	t.Helper()
	assert.Contains(t, l.GetOutput(), substr, "Expected log output to contain %q", substr)
}

// AssertNotContains asserts that the log output does NOT contain substr.
// This is the check used to prove secret values never reach the logs.
func (l *TestLogger) AssertNotContains(t *testing.T, substr string) {
	t.Helper()
	assert.NotContains(t, l.GetOutput(), substr, "Expected log output to NOT contain %q", substr)
}

// AssertLogCount asserts that a log level appears count times.
//
// Level markers:
//   - Info: "✓"
//   - Warn: "⚠"
//   - Error: "✗"
//   - Debug: "[DEBUG]"
func (l *TestLogger) AssertLogCount(t *testing.T, level string, count int) {
	t.Helper()

	var marker string
	switch level {
	case "info":
		marker = "✓"
	case "warn":
		marker = "⚠"
	case "error":
		marker = "✗"
	case "debug":
		marker = "[DEBUG]"
	default:
		t.Fatalf("Unknown log level: %s", level)
	}

	actual := strings.Count(l.GetOutput(), marker)
	assert.Equal(t, count, actual, "Expected %d %s log messages, got %d", count, level, actual)
}

// AssertEmpty asserts that nothing was logged.
func (l *TestLogger) AssertEmpty(t *testing.T) {
	t.Helper()
	output := l.GetOutput()
	assert.Empty(t, output, "Expected no log output, but got:\n%s", output)
}
