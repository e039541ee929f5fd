package logging_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/systmms/envlock/internal/logging"
)

func TestSecretRedaction(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
	}{
		{"secret is redacted", "my-secret-password"},
		{"empty secret is still redacted", ""},
		{"complex secret is redacted", "password123!@#"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, "[REDACTED]", logging.Secret(tt.input).String())
			assert.Equal(t, "[REDACTED]", logging.Secret(tt.input).GoString())
		})
	}
}

func TestSecretRedactionInOutput(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := logging.NewWithWriter(&buf, true)

	secretValue := "super-secret-password-12345"
	logger.Info("Retrieved secret: %s", logging.Secret(secretValue))
	logger.Debug("Processing secret: %v", logging.Secret(secretValue))
	logger.Warn("Struct: %#v", logging.Secret(secretValue))

	output := buf.String()
	assert.Contains(t, output, "[REDACTED]")
	assert.Contains(t, output, "[DEBUG]")
	assert.NotContains(t, output, secretValue)
}

func TestLoggerLevels(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := logging.NewWithWriter(&buf, false)

	logger.Info("info %s", "message")
	logger.Warn("warn message")
	logger.Error("error message")
	logger.Debug("debug message")

	output := buf.String()
	assert.Contains(t, output, "✓ info message")
	assert.Contains(t, output, "⚠ warn message")
	assert.Contains(t, output, "✗ error message")
	assert.NotContains(t, output, "debug message")
}

func TestRedactFunction(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		input    string
		secrets  []string
		expected string
	}{
		{
			name:     "single secret redacted",
			input:    "The password is secret123",
			secrets:  []string{"secret123"},
			expected: "The password is [REDACTED]",
		},
		{
			name:     "multiple secrets redacted",
			input:    "User admin with password secret123 and API key abc123",
			secrets:  []string{"admin", "secret123", "abc123"},
			expected: "User [REDACTED] with password [REDACTED] and API key [REDACTED]",
		},
		{
			name:     "empty secret ignored",
			input:    "This has no secrets",
			secrets:  []string{""},
			expected: "This has no secrets",
		},
		{
			name:     "short secret ignored",
			input:    "Short secret: ab",
			secrets:  []string{"ab"},
			expected: "Short secret: ab",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, logging.Redact(tt.input, tt.secrets))
		})
	}
}
