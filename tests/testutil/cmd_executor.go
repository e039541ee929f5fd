// Package testutil provides testing utilities for envlock.
package testutil

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/systmms/envlock/pkg/exec"
)

// MockCommandExecutor records every program it is asked to run and answers
// from canned responses keyed by command-line prefix.
//
// Example usage:
//
//	executor := NewMockCommandExecutor()
//	executor.On("op whoami", MockResponse{Stdout: []byte(`{"email":"dev@example.com"}`)})
//	executor.StartErr = errors.New("no browser")
type MockCommandExecutor struct {
	mu        sync.Mutex
	responses map[string]MockResponse
	calls     []RecordedCall

	// StartErr is returned by Start.
	StartErr error
}

// MockResponse is what a matched command returns.
type MockResponse struct {
	Stdout []byte
	Stderr []byte
	Err    error
}

// RecordedCall is one invocation seen by the mock.
type RecordedCall struct {
	Command    string
	Args       []string
	Input      []byte
	Background bool
}

// Line joins the command and its arguments with spaces.
func (c RecordedCall) Line() string {
	return strings.TrimSpace(c.Command + " " + strings.Join(c.Args, " "))
}

func NewMockCommandExecutor() *MockCommandExecutor {
	return &MockCommandExecutor{responses: make(map[string]MockResponse)}
}

// On answers every command line starting with prefix. The longest matching
// prefix wins, so "op item get" beats "op item".
func (m *MockCommandExecutor) On(prefix string, resp MockResponse) *MockCommandExecutor {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[prefix] = resp
	return m
}

func (m *MockCommandExecutor) Execute(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	return m.ExecuteWithInput(ctx, nil, name, args...)
}

// ExecuteWithInput fails for a command line no prefix matches.
func (m *MockCommandExecutor) ExecuteWithInput(_ context.Context, input []byte, name string, args ...string) ([]byte, []byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	call := RecordedCall{Command: name, Args: append([]string(nil), args...), Input: append([]byte(nil), input...)}
	m.calls = append(m.calls, call)

	line := call.Line()
	best, found := "", false
	for prefix := range m.responses {
		if strings.HasPrefix(line, prefix) && (!found || len(prefix) > len(best)) {
			best, found = prefix, true
		}
	}
	if !found {
		return nil, nil, fmt.Errorf("mock: no response configured for %q", line)
	}
	resp := m.responses[best]
	return resp.Stdout, resp.Stderr, resp.Err
}

// Start records a background launch and returns StartErr.
func (m *MockCommandExecutor) Start(_ context.Context, name string, args ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, RecordedCall{Command: name, Args: append([]string(nil), args...), Background: true})
	return m.StartErr
}

// Calls returns a copy of every recorded invocation, in order.
func (m *MockCommandExecutor) Calls() []RecordedCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]RecordedCall(nil), m.calls...)
}

func (m *MockCommandExecutor) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

var _ exec.CommandExecutor = (*MockCommandExecutor)(nil)
