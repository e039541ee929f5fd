package commands

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/systmms/envlock/pkg/provider"
)

func NewProvidersCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "providers",
		Short: "List available providers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			registry, err := app.Registry()
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(app.Stdout, 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintln(w, "NAME\tLOGIN\tDESCRIPTION")
			for _, p := range registry.List() {
				login := "ambient"
				if _, ok := p.(provider.AuthProvider); ok {
					login = "browser"
				}
				_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", p.Name(), login, p.Description())
			}
			return w.Flush()
		},
	}
}
