package commands

import (
	"errors"

	"github.com/spf13/cobra"

	dserrors "github.com/systmms/envlock/internal/errors"
	"github.com/systmms/envlock/pkg/provider"
)

func NewLoginCommand(app *App) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "login [provider]",
		Short: "Authenticate with a secrets provider",
		Long: `Authenticate with a secrets provider.

The hub provider opens your browser to sign in; the cloud and password
manager providers verify the identity you are already signed in with.
Without an argument, the provider bound to the current directory is used,
or you are asked to pick one.

Examples:
  envlock login
  envlock login hub --force
  envlock login aws`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			if len(args) == 0 {
				if binding, _, err := app.Resolve(); err == nil {
					args = []string{binding.Provider}
				} else if !errors.Is(err, dserrors.ErrNoProjectBinding) {
					return err
				}
			}

			p, err := app.chooseProvider(ctx, args)
			if err != nil {
				return err
			}

			if err := p.Login(ctx, provider.LoginOptions{Force: force}); err != nil {
				return err
			}
			app.Config.Logger.Info("Logged in to %s", p.Name())
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Discard any stored credential and sign in again")

	return cmd
}

func NewLogoutCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "logout [provider]",
		Short: "Remove the stored credential for a provider",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				binding, _, err := app.Resolve()
				if err != nil {
					return err
				}
				args = []string{binding.Provider}
			}

			registry, err := app.Registry()
			if err != nil {
				return err
			}
			p, err := registry.Lookup(args[0])
			if err != nil {
				return err
			}

			if err := app.credentials().Delete(p.Name()); err != nil {
				return err
			}
			store, err := app.Config.Store()
			if err != nil {
				return err
			}
			if err := store.MarkAuthenticated(p.Name(), false, nil); err != nil {
				return err
			}

			app.Config.Logger.Info("Logged out of %s", p.Name())
			return nil
		},
	}
}
