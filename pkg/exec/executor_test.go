package exec

import (
	"context"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func skipWithoutShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("uses POSIX utilities")
	}
}

func TestExecuteCapturesBothStreams(t *testing.T) {
	t.Parallel()
	skipWithoutShell(t)

	stdout, stderr, err := DefaultExecutor().Execute(context.Background(), "sh", "-c", "echo out; echo err >&2")
	require.NoError(t, err)
	assert.Equal(t, "out\n", string(stdout))
	assert.Equal(t, "err\n", string(stderr))
}

func TestExecuteReportsFailure(t *testing.T) {
	t.Parallel()
	skipWithoutShell(t)

	tests := []struct {
		name string
		cmd  string
		args []string
	}{
		{name: "missing program", cmd: "envlock_missing_program_xyz"},
		{name: "non-zero exit", cmd: "sh", args: []string{"-c", "echo 'not signed in' >&2; exit 1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, _, err := DefaultExecutor().Execute(context.Background(), tt.cmd, tt.args...)
			assert.Error(t, err)
		})
	}
}

func TestExecuteWithInputFeedsStdin(t *testing.T) {
	t.Parallel()
	skipWithoutShell(t)

	payload := []byte(`{"fields":[{"label":"API_KEY","value":"s3cret"}]}`)
	stdout, _, err := DefaultExecutor().ExecuteWithInput(context.Background(), payload, "cat")
	require.NoError(t, err)
	assert.Equal(t, payload, stdout)
}

func TestExecuteHonoursCancellation(t *testing.T) {
	t.Parallel()
	skipWithoutShell(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := DefaultExecutor().Execute(ctx, "sleep", "10")
	assert.Error(t, err)
}

func TestStartDoesNotWait(t *testing.T) {
	t.Parallel()
	skipWithoutShell(t)

	e := DefaultExecutor()
	assert.NoError(t, e.Start(context.Background(), "sleep", "5"))
	assert.Error(t, e.Start(context.Background(), "envlock_missing_program_xyz"))
}
