package commands

import (
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"
)

func NewConfigureCommand(app *App) *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:   "configure [provider]",
		Short: "Bind the current directory to a provider scope",
		Long: `Bind a directory to a provider and one of its scopes (workspace,
project and environment, vault and note, or secret prefix). Commands run in
the directory or any subdirectory use the binding.

Examples:
  envlock configure
  envlock configure aws
  envlock configure hub --dir ~/src/api`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			target := dir
			if target == "" {
				wd, err := app.Workdir()
				if err != nil {
					return err
				}
				target = wd
			}
			target, err := filepath.Abs(target)
			if err != nil {
				return err
			}

			p, err := app.chooseProvider(ctx, args)
			if err != nil {
				return err
			}

			binding, err := p.Configure(ctx, target)
			if err != nil {
				return err
			}

			store, err := app.Config.Store()
			if err != nil {
				return err
			}
			if err := store.SetBinding(target, binding); err != nil {
				return err
			}

			app.Config.Logger.Info("Bound %s to %s (%s)", target, binding.Provider, describeFields(binding.Fields))
			return nil
		},
	}

	cmd.Flags().StringVar(&dir, "dir", "", "Directory to bind (default: current directory)")

	return cmd
}

func describeFields(fields map[string]string) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+fields[k])
	}
	return strings.Join(parts, ", ")
}
