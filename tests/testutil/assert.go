package testutil

import (
	"os"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

// AssertNoSecretLeak verifies that none of the secret values appear in output.
//
// Example usage:
//
//	AssertNoSecretLeak(t, stderr.String(), []string{"hunter2", "sk-live-123"})
func AssertNoSecretLeak(t *testing.T, output string, secrets []string) {
	t.Helper()

	for _, secret := range secrets {
		if secret == "" {
			continue
		}
		assert.NotContains(t, output, secret, "Secret value leaked into output")
	}
}

// AssertFileContents verifies that a file exists and holds exactly expected.
func AssertFileContents(t *testing.T, path string, expected string) {
	t.Helper()

	assert.FileExists(t, path, "File should exist: %s", path)

	data, err := os.ReadFile(path)
	if assert.NoError(t, err, "Failed to read file %s", path) {
		assert.Equal(t, expected, string(data), "File contents mismatch for %s", path)
	}
}

// AssertFileMode verifies the permission bits of path. Skipped on Windows,
// which does not report POSIX modes.
func AssertFileMode(t *testing.T, path string, want os.FileMode) {
	t.Helper()

	if runtime.GOOS == "windows" {
		return
	}
	info, err := os.Stat(path)
	if assert.NoError(t, err) {
		assert.Equal(t, want, info.Mode().Perm(), "mode of %s", path)
	}
}

// AssertLinesContain verifies that each expected string appears on some line
// of output, in any order.
func AssertLinesContain(t *testing.T, output string, expectedLines []string) {
	t.Helper()

	lines := strings.Split(output, "\n")
	for _, expected := range expectedLines {
		found := false
		for _, line := range lines {
			if strings.Contains(line, expected) {
				found = true
				break
			}
		}
		assert.True(t, found, "Expected a line containing %q in:\n%s", expected, output)
	}
}
