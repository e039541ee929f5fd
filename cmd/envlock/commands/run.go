package commands

import (
	"time"

	"github.com/spf13/cobra"

	dserrors "github.com/systmms/envlock/internal/errors"
	"github.com/systmms/envlock/internal/execenv"
	"github.com/systmms/envlock/internal/secure"
	"github.com/systmms/envlock/pkg/provider"
)

func NewRunCommand(app *App) *cobra.Command {
	var (
		envName    string
		printVars  bool
		workingDir string
		timeout    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "run [--env <name>] -- <command> [args...]",
		Short: "Run a command with secrets in its environment",
		Long: `Run a command with the secrets of the current directory's binding
injected into its environment. Secrets are never written to disk.

Variables that control the loader, interpreters, the shell or your identity
(PATH, LD_PRELOAD, PYTHONPATH, HOME, ...) are never overridden.

The command must be separated from envlock arguments with '--'. Its exit
code becomes envlock's exit code.

Examples:
  envlock run -- npm start
  envlock run --env staging -- ./migrate.sh
  envlock run --print -- python app.py`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return dserrors.UserError{
					Message:    "No command specified",
					Suggestion: "Use: envlock run [--env <name>] -- <command> [args...]",
				}
			}
			if err := execenv.ValidateCommand(args); err != nil {
				return err
			}

			ctx := cmd.Context()
			binding, p, err := app.Resolve()
			if err != nil {
				return err
			}

			secrets, err := p.Run(ctx, binding, provider.RunOptions{Env: envName})
			if err != nil {
				return err
			}
			sealed := secure.Seal(secrets)
			defer sealed.Destroy()

			app.Config.Logger.Debug("Fetched %d secrets from %s", sealed.Len(), p.Name())

			executor := execenv.New(app.Config.Logger)
			executor.Stdin = app.Stdin
			executor.Stdout = app.Stdout
			executor.Stderr = app.Stderr

			return executor.Exec(ctx, execenv.ExecOptions{
				Command:    args,
				Secrets:    sealed,
				PrintVars:  printVars,
				WorkingDir: workingDir,
				Timeout:    timeout,
			})
		},
	}

	cmd.Flags().StringVar(&envName, "env", "", "Environment to use instead of the binding's default")
	cmd.Flags().BoolVar(&printVars, "print", false, "List injected variables (values masked) on stderr")
	cmd.Flags().StringVar(&workingDir, "working-dir", "", "Working directory for the command")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Kill the command after this long (0 for no limit)")

	return cmd
}
