package commands

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	dserrors "github.com/systmms/envlock/internal/errors"
	"github.com/systmms/envlock/internal/execenv"
	"github.com/systmms/envlock/internal/secure"
	"github.com/systmms/envlock/pkg/provider"
)

func NewRenderCommand(app *App) *cobra.Command {
	var (
		envName    string
		outputPath string
	)

	cmd := &cobra.Command{
		Use:   "render <template|->",
		Short: "Substitute ${NAME} placeholders in a template with secrets",
		Long: `Replace every ${NAME} in a template with the value of the secret NAME.
Placeholders without a matching secret are left as written and reported on
stderr. Output goes to stdout unless --out is given, in which case the file
is written with mode 0600.

Examples:
  envlock render config.tmpl > config.yaml
  envlock render --env prod --out .env .env.tmpl
  cat app.tmpl | envlock render -`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			content, err := readTemplate(app, args[0])
			if err != nil {
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

			opened, err := sealed.Open()
			if err != nil {
				return err
			}
			rendered := execenv.Substitute(content, opened, app.Config.Logger)

			if outputPath == "" {
				_, err := io.WriteString(app.Stdout, rendered)
				return err
			}
			if err := writePrivateFile(outputPath, []byte(rendered)); err != nil {
				return err
			}
			app.Config.Logger.Info("Wrote %s", outputPath)
			return nil
		},
	}

	cmd.Flags().StringVar(&envName, "env", "", "Environment to use instead of the binding's default")
	cmd.Flags().StringVarP(&outputPath, "out", "o", "", "Write to this file (mode 0600) instead of stdout")

	return cmd
}

func readTemplate(app *App, path string) (string, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(app.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", dserrors.UserError{
			Message:    fmt.Sprintf("Failed to read template %s", path),
			Suggestion: "Check that the file exists and is readable",
			Err:        err,
		}
	}
	return string(data), nil
}
