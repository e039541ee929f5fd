package commands

import (
	"context"
	"io"
	"os"
	"sync"

	"github.com/systmms/envlock/internal/config"
	"github.com/systmms/envlock/internal/credstore"
	"github.com/systmms/envlock/internal/prompt"
	"github.com/systmms/envlock/internal/providers"
	"github.com/systmms/envlock/pkg/provider"
)

// App carries what every command needs. Fields left nil are filled with
// production defaults on first use.
type App struct {
	Config *config.Config

	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	Credentials credstore.Store
	Prompter    prompt.Prompter

	// NewRegistry builds the provider registry; nil means every built-in
	// provider.
	NewRegistry func(providers.Deps) (*providers.Registry, error)
	// Getwd returns the directory commands resolve bindings from.
	Getwd func() (string, error)

	once     sync.Once
	registry *providers.Registry
	err      error
}

// NewApp wires an App to the process's standard streams.
func NewApp(cfg *config.Config) *App {
	return &App{
		Config: cfg,
		Stdin:  os.Stdin,
		Stdout: os.Stdout,
		Stderr: os.Stderr,
		Getwd:  os.Getwd,
	}
}

func (a *App) prompter() prompt.Prompter {
	if a.Prompter == nil {
		if a.Config.NonInteractive || a.Config.Settings.NonInteractive {
			a.Prompter = prompt.NonInteractive{}
		} else {
			a.Prompter = prompt.NewTerminalWith(a.Stdin, a.Stderr)
		}
	}
	return a.Prompter
}

func (a *App) credentials() credstore.Store {
	if a.Credentials == nil {
		a.Credentials = credstore.NewKeyring(a.Config.Settings.KeyringService)
	}
	return a.Credentials
}

// Deps assembles the provider collaborators.
func (a *App) Deps() (providers.Deps, error) {
	store, err := a.Config.Store()
	if err != nil {
		return providers.Deps{}, err
	}
	return providers.Deps{
		Store:       store,
		Credentials: a.credentials(),
		Prompter:    a.prompter(),
		Logger:      a.Config.Logger,
		Settings:    a.Config.Settings,
	}, nil
}

// Registry builds the provider registry once.
func (a *App) Registry() (*providers.Registry, error) {
	a.once.Do(func() {
		var deps providers.Deps
		deps, a.err = a.Deps()
		if a.err != nil {
			return
		}
		build := a.NewRegistry
		if build == nil {
			build = providers.NewDefaultRegistry
		}
		a.registry, a.err = build(deps)
	})
	return a.registry, a.err
}

// Workdir returns the directory bindings resolve from.
func (a *App) Workdir() (string, error) {
	if a.Getwd == nil {
		return os.Getwd()
	}
	return a.Getwd()
}

// Resolve finds the binding for the working directory and its provider.
func (a *App) Resolve() (provider.Binding, provider.Provider, error) {
	store, err := a.Config.Store()
	if err != nil {
		return provider.Binding{}, nil, err
	}
	dir, err := a.Workdir()
	if err != nil {
		return provider.Binding{}, nil, err
	}
	binding, err := store.Resolve(dir)
	if err != nil {
		return provider.Binding{}, nil, err
	}
	registry, err := a.Registry()
	if err != nil {
		return provider.Binding{}, nil, err
	}
	p, err := registry.Lookup(binding.Provider)
	if err != nil {
		return provider.Binding{}, nil, err
	}
	return binding, p, nil
}

// chooseProvider returns the provider named by args, else asks for one.
func (a *App) chooseProvider(ctx context.Context, args []string) (provider.Provider, error) {
	registry, err := a.Registry()
	if err != nil {
		return nil, err
	}
	if len(args) > 0 {
		return registry.Lookup(args[0])
	}

	var options []prompt.Option
	for _, p := range registry.List() {
		options = append(options, prompt.Option{Label: p.Name() + " - " + p.Description(), Value: p.Name()})
	}
	choice, err := a.prompter().Select(ctx, "Select a provider", options)
	if err != nil {
		return nil, providerRequired(registry.Names(), err)
	}
	return registry.Lookup(choice.Value)
}
