package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	dserrors "github.com/systmms/envlock/internal/errors"
	"github.com/systmms/envlock/pkg/provider"
)

func NewSecretsCommand(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secrets",
		Short: "List and manage secrets in the current binding",
		Long: `List, create, update and delete secrets in the scope bound to the
current directory.

Examples:
  envlock secrets list
  envlock secrets list --show --output json
  envlock secrets create API_KEY
  echo -n "$TOKEN" | envlock secrets update API_KEY --stdin
  envlock secrets delete OLD_KEY --yes`,
	}

	cmd.AddCommand(
		newSecretsListCommand(app),
		newSecretsCreateCommand(app),
		newSecretsUpdateCommand(app),
		newSecretsDeleteCommand(app),
	)

	return cmd
}

func newSecretsListCommand(app *App) *cobra.Command {
	var (
		show   bool
		output string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List secrets (values hidden unless --show)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := parseOutputFormat(output)
			if err != nil {
				return err
			}

			binding, p, err := app.Resolve()
			if err != nil {
				return err
			}

			mode := provider.HideValues
			if show {
				mode = provider.ShowValues
			}
			secrets, err := p.ListSecrets(cmd.Context(), binding, mode)
			if err != nil {
				return err
			}

			return writeSecrets(app.Stdout, format, provider.SortByName(secrets))
		},
	}

	cmd.Flags().BoolVar(&show, "show", false, "Show secret values")
	cmd.Flags().StringVarP(&output, "output", "o", "table", "Output format: table, json or yaml")

	return cmd
}

func newSecretsCreateCommand(app *App) *cobra.Command {
	var fromStdin bool

	cmd := &cobra.Command{
		Use:   "create <name> [value]",
		Short: "Create a secret",
		Long: `Create a secret. The value is taken from the argument, from stdin with
--stdin, or asked for with hidden input. Prefer the last two so the value
stays out of your shell history.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			if err := provider.ValidateSecretName(name); err != nil {
				return err
			}

			binding, p, err := app.Resolve()
			if err != nil {
				return err
			}

			value, err := secretValue(cmd, app, args, fromStdin)
			if err != nil {
				return err
			}

			if err := p.CreateSecret(cmd.Context(), binding, name, value); err != nil {
				return err
			}
			app.Config.Logger.Info("Created %s", name)
			return nil
		},
	}

	cmd.Flags().BoolVar(&fromStdin, "stdin", false, "Read the value from stdin")

	return cmd
}

func newSecretsUpdateCommand(app *App) *cobra.Command {
	var fromStdin bool

	cmd := &cobra.Command{
		Use:   "update <name> [value]",
		Short: "Update an existing secret",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			if err := provider.ValidateSecretName(name); err != nil {
				return err
			}

			binding, p, err := app.Resolve()
			if err != nil {
				return err
			}

			value, err := secretValue(cmd, app, args, fromStdin)
			if err != nil {
				return err
			}

			if err := p.UpdateSecret(cmd.Context(), binding, name, value); err != nil {
				return err
			}
			app.Config.Logger.Info("Updated %s", name)
			return nil
		},
	}

	cmd.Flags().BoolVar(&fromStdin, "stdin", false, "Read the value from stdin")

	return cmd
}

func newSecretsDeleteCommand(app *App) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			if err := provider.ValidateSecretName(name); err != nil {
				return err
			}

			binding, p, err := app.Resolve()
			if err != nil {
				return err
			}

			if !yes {
				ok, err := app.prompter().Confirm(cmd.Context(),
					fmt.Sprintf("Delete %s from %s?", name, p.Name()), false)
				if err != nil {
					return dserrors.UserError{
						Message:    "Deletion needs confirmation",
						Suggestion: "Pass --yes to delete without asking",
						Err:        err,
					}
				}
				if !ok {
					return dserrors.Cancelled(p.Name(), "delete", "kept "+name)
				}
			}

			if err := p.DeleteSecret(cmd.Context(), binding, name); err != nil {
				return err
			}
			app.Config.Logger.Info("Deleted %s", name)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Do not ask for confirmation")

	return cmd
}

// secretValue returns the value argument, stdin, or a hidden prompt answer.
func secretValue(cmd *cobra.Command, app *App, args []string, fromStdin bool) (string, error) {
	switch {
	case len(args) == 2 && fromStdin:
		return "", dserrors.UserError{
			Message:    "Value given twice",
			Suggestion: "Pass the value as an argument or with --stdin, not both",
		}
	case len(args) == 2:
		return args[1], nil
	case fromStdin:
		data, err := io.ReadAll(app.Stdin)
		if err != nil {
			return "", err
		}
		return strings.TrimRight(string(data), "\r\n"), nil
	default:
		value, err := app.prompter().Secret(cmd.Context(), fmt.Sprintf("Value for %s", args[0]))
		if err != nil {
			return "", dserrors.UserError{
				Message:    "No value given",
				Suggestion: "Pass the value as an argument or pipe it with --stdin",
				Err:        err,
			}
		}
		return value, nil
	}
}

type outputFormat string

const (
	formatTable outputFormat = "table"
	formatJSON  outputFormat = "json"
	formatYAML  outputFormat = "yaml"
)

func parseOutputFormat(s string) (outputFormat, error) {
	switch f := outputFormat(strings.ToLower(s)); f {
	case formatTable, formatJSON, formatYAML:
		return f, nil
	default:
		return "", dserrors.UserError{
			Message:    fmt.Sprintf("Unknown output format %q", s),
			Suggestion: "Use table, json or yaml",
		}
	}
}

type secretRow struct {
	Name          string `json:"name" yaml:"name"`
	Value         string `json:"value" yaml:"value"`
	Personal      bool   `json:"personal" yaml:"personal"`
	EnvironmentID string `json:"environmentId" yaml:"environmentId"`
	ID            string `json:"id" yaml:"id"`
}

func writeSecrets(w io.Writer, format outputFormat, secrets []provider.Secret) error {
	rows := make([]secretRow, 0, len(secrets))
	for _, s := range secrets {
		rows = append(rows, secretRow{
			Name:          s.Name,
			Value:         s.Value,
			Personal:      s.IsPersonal,
			EnvironmentID: s.EnvironmentID,
			ID:            s.ID,
		})
	}

	switch format {
	case formatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	case formatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(rows); err != nil {
			return err
		}
		return enc.Close()
	}

	if len(rows) == 0 {
		_, err := fmt.Fprintln(w, "No secrets")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "NAME\tVALUE\tSCOPE\tENVIRONMENT")
	for _, r := range rows {
		scope := "shared"
		if r.Personal {
			scope = "personal"
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.Name, r.Value, scope, r.EnvironmentID)
	}
	return tw.Flush()
}
