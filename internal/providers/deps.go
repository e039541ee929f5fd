package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"

	"github.com/systmms/envlock/internal/config"
	"github.com/systmms/envlock/internal/credstore"
	dserrors "github.com/systmms/envlock/internal/errors"
	"github.com/systmms/envlock/internal/logging"
	"github.com/systmms/envlock/internal/prompt"
	"github.com/systmms/envlock/pkg/provider"
)

// Deps are the collaborators shared by every provider.
type Deps struct {
	Store       *config.Store
	Credentials credstore.Store
	Prompter    prompt.Prompter
	Logger      *logging.Logger
	Settings    config.Settings
	// HTTPClient is used by HTTP-backed providers; nil means a default client.
	HTTPClient *http.Client
}

func (d Deps) withDefaults() Deps {
	if d.Logger == nil {
		d.Logger = logging.Discard()
	}
	if d.Prompter == nil {
		d.Prompter = prompt.NonInteractive{}
	}
	if d.Credentials == nil {
		d.Credentials = credstore.NewMemory()
	}
	return d
}

// confirmOverwrite asks before replacing an existing binding for path.
func confirmOverwrite(ctx context.Context, deps Deps, providerName, path string) error {
	if deps.Store == nil {
		return nil
	}

	existing, err := deps.Store.Binding(path)
	if err != nil {
		if errors.Is(err, dserrors.ErrNoProjectBinding) {
			return nil
		}
		return err
	}

	ok, err := deps.Prompter.Confirm(ctx,
		fmt.Sprintf("%s is already bound to %s. Replace it?", existing.Path, existing.Provider), false)
	if err != nil {
		return promptError(providerName, "configure", err)
	}
	if !ok {
		return dserrors.Cancelled(providerName, "configure", "existing binding kept")
	}
	return nil
}

// chooseOne picks one of options: none is an error, exactly one is taken
// without asking, more than one always prompts.
func chooseOne(ctx context.Context, deps Deps, providerName, what string, options []prompt.Option) (prompt.Option, error) {
	switch len(options) {
	case 0:
		return prompt.Option{}, dserrors.Backend(providerName, "configure", 0,
			fmt.Sprintf("no %s available to this account", what), nil)
	case 1:
		deps.Logger.Info("Using %s %s (the only one available)", what, options[0].Label)
		return options[0], nil
	default:
		choice, err := deps.Prompter.Select(ctx, fmt.Sprintf("Select the %s", what), options)
		if err != nil {
			return prompt.Option{}, promptError(providerName, "configure", err)
		}
		return choice, nil
	}
}

// askInput prompts for free-form text, keeping def when the answer is empty.
func askInput(ctx context.Context, deps Deps, providerName, message, def string) (string, error) {
	value, err := deps.Prompter.Input(ctx, message, def)
	if err != nil {
		return "", promptError(providerName, "configure", err)
	}
	if value == "" {
		return "", &dserrors.Error{Kind: dserrors.KindProviderNotConfigured, Op: "configure", Provider: providerName,
			Detail: fmt.Sprintf("%s is required", message)}
	}
	return value, nil
}

func promptError(providerName, op string, err error) error {
	if errors.Is(err, prompt.ErrNonInteractive) {
		return &dserrors.Error{Kind: dserrors.KindProviderNotConfigured, Op: op, Provider: providerName,
			Detail: "a choice is required; run without --non-interactive", Err: err}
	}
	if errors.Is(err, context.Canceled) {
		return dserrors.Cancelled(providerName, op, "interrupted")
	}
	return fmt.Errorf("%s: %s: %w", providerName, op, err)
}

// hiddenList applies mode to a full fetch.
func hiddenList(secrets []provider.Secret, mode provider.ListMode, maskEnvironment bool) []provider.Secret {
	return provider.SortByName(provider.MaskSecrets(secrets, mode, maskEnvironment))
}

// chooseEnvironment picks among environments already present in the
// backend, or asks for a new name when there are none.
func chooseEnvironment(ctx context.Context, deps Deps, providerName string, discovered []string) (string, error) {
	seen := map[string]bool{}
	var envs []string
	for _, env := range discovered {
		if env != "" && !seen[env] {
			seen[env] = true
			envs = append(envs, env)
		}
	}
	if len(envs) == 0 {
		return askInput(ctx, deps, providerName, "Environment name", "development")
	}

	sort.Strings(envs)
	options := make([]prompt.Option, len(envs))
	for i, env := range envs {
		options[i] = prompt.Option{Label: env, Value: env}
	}
	choice, err := chooseOne(ctx, deps, providerName, "environment", options)
	if err != nil {
		return "", err
	}
	return choice.Value, nil
}
