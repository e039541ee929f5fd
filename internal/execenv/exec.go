package execenv

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	dserrors "github.com/systmms/envlock/internal/errors"
	"github.com/systmms/envlock/internal/logging"
	"github.com/systmms/envlock/internal/secure"
	"github.com/systmms/envlock/pkg/provider"
)

// forwarded are the signals relayed to a running child.
var forwarded = []os.Signal{syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP}

// Executor runs a command with secrets injected into its environment.
type Executor struct {
	logger *logging.Logger

	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	notify func(c chan<- os.Signal, sig ...os.Signal)
	stop   func(c chan<- os.Signal)
}

// New creates an executor wired to the process's standard streams.
func New(logger *logging.Logger) *Executor {
	return &Executor{
		logger: logger,
		Stdin:  os.Stdin,
		Stdout: os.Stdout,
		Stderr: os.Stderr,
		notify: signal.Notify,
		stop:   signal.Stop,
	}
}

// ExecOptions configures command execution
type ExecOptions struct {
	Command []string
	// Secrets are opened only to build the child's environment.
	Secrets *secure.SealedSecrets
	// Base is the environment the secrets are layered over. Nil means the
	// current process environment.
	Base       map[string]string
	PrintVars  bool
	WorkingDir string
	Timeout    time.Duration
}

// Exec runs the command and waits for it. Signals received while the child
// runs are forwarded to it. A non-zero child exit is returned as a
// CommandError carrying the exit code.
func (e *Executor) Exec(ctx context.Context, options ExecOptions) error {
	if err := ValidateCommand(options.Command); err != nil {
		return err
	}

	// Interrupts reach the child by forwarding, not by cancelling ctx.
	ctx = context.WithoutCancel(ctx)
	if options.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, options.Timeout)
		defer cancel()
	}

	base := options.Base
	if base == nil {
		base = OSEnvironment()
	}

	var env map[string]string
	if options.Secrets != nil {
		secrets, err := options.Secrets.Open()
		if err != nil {
			return fmt.Errorf("opening sealed secrets: %w", err)
		}
		env = BuildEnvironment(base, secrets, e.logger)
		if options.PrintVars {
			e.printEnvironment(env, secrets)
		}
	} else {
		env = BuildEnvironment(base, nil, e.logger)
	}

	cmd := exec.CommandContext(ctx, options.Command[0], options.Command[1:]...)
	cmd.Env = Environ(env)
	cmd.Stdin = e.Stdin
	cmd.Stdout = e.Stdout
	cmd.Stderr = e.Stderr
	cmd.Dir = options.WorkingDir

	e.logger.Debug("Executing command: %s", strings.Join(options.Command, " "))

	if err := cmd.Start(); err != nil {
		return dserrors.CommandError{
			Command:    options.Command[0],
			Message:    err.Error(),
			Suggestion: "Check that the command is executable",
		}
	}

	sigs := make(chan os.Signal, 1)
	e.notify(sigs, forwarded...)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case sig := <-sigs:
				e.logger.Debug("Forwarding %s to child", sig)
				_ = cmd.Process.Signal(sig)
			case <-done:
				return
			}
		}
	}()

	err := cmd.Wait()
	e.stop(sigs)
	close(done)

	if err == nil {
		return nil
	}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return dserrors.CommandError{
			Command:  strings.Join(options.Command, " "),
			ExitCode: 1,
			Message:  fmt.Sprintf("timed out after %s", options.Timeout),
		}
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		code := exitErr.ExitCode()
		if code < 0 {
			// killed by a signal
			code = 1
		}
		return dserrors.CommandError{
			Command:  strings.Join(options.Command, " "),
			ExitCode: code,
		}
	}

	return dserrors.CommandError{
		Command:    strings.Join(options.Command, " "),
		Message:    err.Error(),
		Suggestion: "Check the command output above for details",
	}
}

// ExitCode extracts the child's exit code from an Exec error. ok is false
// when err did not come from a child that ran and exited.
func ExitCode(err error) (code int, ok bool) {
	var cmdErr dserrors.CommandError
	if errors.As(err, &cmdErr) && cmdErr.ExitCode != 0 {
		return cmdErr.ExitCode, true
	}
	return 0, false
}

// printEnvironment lists the injected variables with masked values.
func (e *Executor) printEnvironment(env map[string]string, secrets []provider.Secret) {
	var injected []string
	for _, s := range secrets {
		if v, ok := env[s.Name]; ok && v == s.Value && !Denied(s.Name) {
			injected = append(injected, s.Name)
		}
	}
	sort.Strings(injected)

	if len(injected) == 0 {
		fmt.Fprintln(e.Stderr, "No secrets injected")
		return
	}

	fmt.Fprintf(e.Stderr, "Injected %d environment variables:\n", len(injected))
	for _, name := range injected {
		fmt.Fprintf(e.Stderr, "  %s=%s\n", name, MaskValue(env[name]))
	}
}

// MaskValue stands in for a secret value on screen. No part of the value,
// nor its length, is shown.
func MaskValue(value string) string {
	if value == "" {
		return "(empty)"
	}
	return provider.HiddenPlaceholder
}

// ValidateCommand checks that a command was given and can be found.
func ValidateCommand(command []string) error {
	if len(command) == 0 {
		return dserrors.UserError{
			Message:    "No command specified",
			Suggestion: "Provide a command after -- (e.g., envlock run -- npm start)",
		}
	}

	if _, err := exec.LookPath(command[0]); err != nil {
		return dserrors.WrapCommandNotFound(command[0], err)
	}

	return nil
}
