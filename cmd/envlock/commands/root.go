package commands

import (
	"context"
	"errors"
	"strings"

	"github.com/spf13/cobra"

	"github.com/systmms/envlock/internal/config"
	dserrors "github.com/systmms/envlock/internal/errors"
	"github.com/systmms/envlock/internal/execenv"
	"github.com/systmms/envlock/internal/logging"
)

// Exit codes returned by Execute.
const (
	ExitOK     = 0
	ExitError  = 1
	ExitConfig = 78 // EX_CONFIG
)

// NewRootCommand builds the envlock command tree around app.
func NewRootCommand(app *App, version string) *cobra.Command {
	var (
		configFile     string
		noColor        bool
		debug          bool
		nonInteractive bool
	)

	rootCmd := &cobra.Command{
		Use:   "envlock",
		Short: "Inject secrets from your provider into commands and templates",
		Long: `envlock binds project directories to a secrets provider (the envlock hub,
AWS Secrets Manager, GCP Secret Manager, Azure Key Vault or 1Password) and
injects the secrets into a command's environment or a rendered template
without writing them anywhere else.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			app.Config.Logger = logging.NewTo(app.Stderr, debug, noColor)

			settings, err := config.LoadSettings()
			if err != nil {
				return dserrors.ConfigError{
					Message:    err.Error(),
					Suggestion: "Fix or unset the ENVLOCK_* variable named above",
					Err:        err,
				}
			}
			app.Config.Settings = settings
			app.Config.Path = configFile
			app.Config.NonInteractive = nonInteractive
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file path (default: $XDG_CONFIG_HOME/envlock/config.json, or ENVLOCK_CONFIG)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&nonInteractive, "non-interactive", false, "Fail instead of prompting")

	rootCmd.AddCommand(
		NewLoginCommand(app),
		NewLogoutCommand(app),
		NewConfigureCommand(app),
		NewRunCommand(app),
		NewRenderCommand(app),
		NewSecretsCommand(app),
		NewProvidersCommand(app),
		NewStatusCommand(app),
		NewCompletionCommand(app),
	)

	return rootCmd
}

// Execute runs args through the command tree and maps the outcome to an
// exit code. Nothing here calls os.Exit.
func Execute(ctx context.Context, app *App, version string, args []string) int {
	root := NewRootCommand(app, version)
	root.SetArgs(args)
	root.SetIn(app.Stdin)
	root.SetOut(app.Stdout)
	root.SetErr(app.Stderr)

	err := root.ExecuteContext(ctx)
	return report(app, err)
}

func report(app *App, err error) int {
	if err == nil {
		return ExitOK
	}

	logger := app.Config.Logger
	if logger == nil {
		logger = logging.NewWithWriter(app.Stderr, false)
	}

	// A child that ran reports its own failure; pass its code through.
	if code, ok := execenv.ExitCode(err); ok {
		var cmdErr dserrors.CommandError
		if errors.As(err, &cmdErr) && cmdErr.Message != "" {
			logger.Error("%s", firstLine(err))
		}
		return code
	}

	switch {
	case dserrors.Fatal(err):
		logger.Error("%v", err)
		return ExitConfig
	case dserrors.Notice(err):
		logger.Warn("%s", firstLine(err))
		return ExitError
	}

	err = dserrors.SimplifyError(err)
	logger.Error("%s", firstLine(err))

	var (
		provider string
		typed    *dserrors.Error
		userErr  dserrors.UserError
	)
	if errors.As(err, &typed) {
		provider = typed.Provider
	}
	if hint := dserrors.ProviderSuggestion(provider, err); hint != "" {
		logger.Info("Try: %s", hint)
	} else if errors.As(err, &userErr) && userErr.Suggestion != "" {
		logger.Info("Try: %s", userErr.Suggestion)
	}
	return ExitError
}

// firstLine keeps error output to a single line; UserError and ConfigError
// append details on later lines.
func firstLine(err error) string {
	msg := err.Error()
	if i := strings.IndexByte(msg, '\n'); i >= 0 {
		msg = msg[:i]
	}
	return strings.TrimSpace(msg)
}
