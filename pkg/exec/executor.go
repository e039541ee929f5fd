// Package exec runs external programs behind an interface so CLI-backed
// providers and the browser opener can be driven by a mock in tests.
package exec

import (
	"bytes"
	"context"
	"os/exec"
)

// CommandExecutor runs a program to completion and captures its output.
type CommandExecutor interface {
	// Execute runs name with args. Returns stdout, stderr, and any error.
	Execute(ctx context.Context, name string, args ...string) (stdout []byte, stderr []byte, err error)

	// ExecuteWithInput is Execute with stdin fed from input. Secret values
	// travel this way so they never appear in the process table.
	ExecuteWithInput(ctx context.Context, input []byte, name string, args ...string) (stdout []byte, stderr []byte, err error)

	// Start launches name without waiting for it, for fire-and-forget
	// helpers such as a browser.
	Start(ctx context.Context, name string, args ...string) error
}

// RealCommandExecutor executes actual programs using os/exec.
type RealCommandExecutor struct{}

// Execute runs an actual program.
func (r *RealCommandExecutor) Execute(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	return r.ExecuteWithInput(ctx, nil, name, args...)
}

// ExecuteWithInput runs an actual program with input on stdin.
func (r *RealCommandExecutor) ExecuteWithInput(ctx context.Context, input []byte, name string, args ...string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if input != nil {
		cmd.Stdin = bytes.NewReader(input)
	}
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

// Start launches a program and reaps it in the background.
func (r *RealCommandExecutor) Start(ctx context.Context, name string, args ...string) error {
	cmd := exec.Command(name, args...)
	if err := cmd.Start(); err != nil {
		return err
	}
	go func() { _ = cmd.Wait() }()
	return nil
}

// DefaultExecutor returns the production executor.
func DefaultExecutor() CommandExecutor {
	return &RealCommandExecutor{}
}
