package commands

import (
	"errors"
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	dserrors "github.com/systmms/envlock/internal/errors"
	"github.com/systmms/envlock/pkg/provider"
)

func NewStatusCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the binding for the current directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			binding, p, err := app.Resolve()
			if errors.Is(err, dserrors.ErrNoProjectBinding) {
				_, _ = fmt.Fprintln(app.Stdout, "Not configured")
				app.Config.Logger.Warn("%v", err)
				app.Config.Logger.Warn("Run 'envlock configure' to bind this directory")
				return nil
			}
			if err != nil {
				return err
			}

			store, err := app.Config.Store()
			if err != nil {
				return err
			}
			settings, err := store.ProviderSettings(p.Name())
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(app.Stdout, 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintf(w, "Directory:\t%s\n", binding.Path)
			_, _ = fmt.Fprintf(w, "Provider:\t%s\n", p.Name())

			keys := make([]string, 0, len(binding.Fields))
			for k := range binding.Fields {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				_, _ = fmt.Fprintf(w, "  %s:\t%s\n", k, binding.Fields[k])
			}

			if _, ok := p.(provider.AuthProvider); ok {
				stored, err := app.credentials().Has(p.Name())
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(w, "Credential:\t%s\n", yesNo(stored, "stored", "none (run 'envlock login')"))
			}
			if settings["authenticated"] != "" {
				_, _ = fmt.Fprintf(w, "Authenticated:\t%s\n", settings["authenticated"])
			}
			if settings["lastLogin"] != "" {
				_, _ = fmt.Fprintf(w, "Last login:\t%s\n", settings["lastLogin"])
			}
			return w.Flush()
		},
	}
}

func yesNo(b bool, yes, no string) string {
	if b {
		return yes
	}
	return no
}
