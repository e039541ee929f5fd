// Package prompt asks the user questions on the terminal. Prompts are written
// to the diagnostic stream so stdout stays clean for command output.
package prompt

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/term"
)

// ErrNonInteractive is returned when a question would need an answer but
// prompting is disabled.
var ErrNonInteractive = errors.New("input required but running non-interactively")

// Option is one choice in a Select.
type Option struct {
	Label string
	Value string
}

// Prompter is the set of questions providers and commands may ask.
type Prompter interface {
	Select(ctx context.Context, message string, options []Option) (Option, error)
	Input(ctx context.Context, message, defaultValue string) (string, error)
	Secret(ctx context.Context, message string) (string, error)
	Confirm(ctx context.Context, message string, defaultYes bool) (bool, error)
}

// Terminal prompts on a reader/writer pair, hiding secret input when the
// reader is a terminal.
type Terminal struct {
	in  *bufio.Reader
	fd  int
	tty bool
	out io.Writer
	mu  sync.Mutex
}

// NewTerminalWith prompts on in and out. Hidden input is used only when in is
// an *os.File attached to a terminal.
func NewTerminalWith(in io.Reader, out io.Writer) *Terminal {
	t := &Terminal{in: bufio.NewReader(in), out: out, fd: -1}
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		t.fd = int(f.Fd())
		t.tty = true
	}
	return t
}

func (t *Terminal) Select(ctx context.Context, message string, options []Option) (Option, error) {
	if len(options) == 0 {
		return Option{}, fmt.Errorf("%s: nothing to choose from", message)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	fmt.Fprintln(t.out, message)
	for i, opt := range options {
		fmt.Fprintf(t.out, "  %d. %s\n", i+1, opt.Label)
	}

	for {
		fmt.Fprintf(t.out, "Enter choice [1-%d]: ", len(options))
		line, err := t.readLine(ctx)
		if err != nil {
			return Option{}, fmt.Errorf("failed to read choice: %w", err)
		}
		choice, err := strconv.Atoi(line)
		if err == nil && choice >= 1 && choice <= len(options) {
			return options[choice-1], nil
		}
		fmt.Fprintf(t.out, "Invalid choice %q\n", line)
	}
}

func (t *Terminal) Input(ctx context.Context, message, defaultValue string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if defaultValue != "" {
		fmt.Fprintf(t.out, "%s [%s]: ", message, defaultValue)
	} else {
		fmt.Fprintf(t.out, "%s: ", message)
	}
	line, err := t.readLine(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	if line == "" {
		return defaultValue, nil
	}
	return line, nil
}

func (t *Terminal) Secret(ctx context.Context, message string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	fmt.Fprintf(t.out, "%s: ", message)
	if t.tty {
		value, err := term.ReadPassword(t.fd)
		fmt.Fprintln(t.out)
		if err != nil {
			return "", fmt.Errorf("failed to read secret: %w", err)
		}
		return string(value), nil
	}

	line, err := t.readLine(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to read secret: %w", err)
	}
	return line, nil
}

func (t *Terminal) Confirm(ctx context.Context, message string, defaultYes bool) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	hint := "[y/N]"
	if defaultYes {
		hint = "[Y/n]"
	}
	fmt.Fprintf(t.out, "%s %s: ", message, hint)

	line, err := t.readLine(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to read confirmation: %w", err)
	}
	switch strings.ToLower(line) {
	case "":
		return defaultYes, nil
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}

// readLine returns one trimmed line. ctx is checked before blocking; a read
// already in progress is not interrupted.
func (t *Terminal) readLine(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	line, err := t.in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// NonInteractive answers nothing; every question fails with
// ErrNonInteractive.
type NonInteractive struct{}

func (NonInteractive) Select(_ context.Context, message string, _ []Option) (Option, error) {
	return Option{}, fmt.Errorf("%s: %w", message, ErrNonInteractive)
}

func (NonInteractive) Input(_ context.Context, message, _ string) (string, error) {
	return "", fmt.Errorf("%s: %w", message, ErrNonInteractive)
}

func (NonInteractive) Secret(_ context.Context, message string) (string, error) {
	return "", fmt.Errorf("%s: %w", message, ErrNonInteractive)
}

func (NonInteractive) Confirm(_ context.Context, message string, _ bool) (bool, error) {
	return false, fmt.Errorf("%s: %w", message, ErrNonInteractive)
}

var (
	_ Prompter = (*Terminal)(nil)
	_ Prompter = NonInteractive{}
)
