package fakes

import (
	"context"
	"sort"
	"sync"

	dserrors "github.com/systmms/envlock/internal/errors"
	"github.com/systmms/envlock/pkg/provider"
)

// FakeProvider is an in-memory provider.Provider. Secrets are kept per
// environment; the binding's "environment" field is the default scope.
//
// Example usage:
//
//	fake := fakes.NewFakeProvider("fake").
//	    WithSecret("dev", "API_KEY", "abc").
//	    WithSecret("prod", "API_KEY", "xyz")
type FakeProvider struct {
	name string

	mu      sync.Mutex
	secrets map[string]map[string]string
	failOn  map[string]error
	calls   map[string]int

	// ConfigureBinding is returned by Configure with Path filled in.
	ConfigureBinding provider.Binding
	// LoggedIn records Login calls.
	LoggedIn []provider.LoginOptions
}

// NewFakeProvider creates an empty fake called name.
func NewFakeProvider(name string) *FakeProvider {
	return &FakeProvider{
		name:    name,
		secrets: map[string]map[string]string{},
		failOn:  map[string]error{},
		calls:   map[string]int{},
		ConfigureBinding: provider.Binding{
			Provider: name,
			Fields:   map[string]string{"environment": "dev"},
		},
	}
}

// WithSecret seeds a secret in env.
func (f *FakeProvider) WithSecret(env, name, value string) *FakeProvider {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.secrets[env] == nil {
		f.secrets[env] = map[string]string{}
	}
	f.secrets[env][name] = value
	return f
}

// WithError makes the named operation ("login", "configure", "run",
// "create", "update", "delete", "list") fail with err.
func (f *FakeProvider) WithError(op string, err error) *FakeProvider {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failOn[op] = err
	return f
}

// Calls reports how many times op was invoked.
func (f *FakeProvider) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

// Value returns the stored value of name in env.
func (f *FakeProvider) Value(env, name string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.secrets[env][name]
	return v, ok
}

func (f *FakeProvider) enter(op string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[op]++
	return f.failOn[op]
}

func (f *FakeProvider) Name() string        { return f.name }
func (f *FakeProvider) Description() string { return "In-memory fake" }

func (f *FakeProvider) Login(_ context.Context, opts provider.LoginOptions) error {
	if err := f.enter("login"); err != nil {
		return err
	}
	f.mu.Lock()
	f.LoggedIn = append(f.LoggedIn, opts)
	f.mu.Unlock()
	return nil
}

func (f *FakeProvider) Configure(_ context.Context, path string) (provider.Binding, error) {
	if err := f.enter("configure"); err != nil {
		return provider.Binding{}, err
	}
	b := provider.NewBinding(path, f.name, f.ConfigureBinding.Fields)
	return b, nil
}

func (f *FakeProvider) Run(_ context.Context, b provider.Binding, opts provider.RunOptions) ([]provider.Secret, error) {
	if err := f.enter("run"); err != nil {
		return nil, err
	}
	return f.snapshot(provider.ScopeFor(b, "environment", opts.Env)), nil
}

func (f *FakeProvider) CreateSecret(_ context.Context, b provider.Binding, name, value string) error {
	if err := provider.ValidateNewSecret(name, value); err != nil {
		return err
	}
	if err := f.enter("create"); err != nil {
		return err
	}
	env := provider.ScopeFor(b, "environment", "")

	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.secrets[env][name]; ok {
		return dserrors.SecretAlreadyExists(f.name, name)
	}
	if f.secrets[env] == nil {
		f.secrets[env] = map[string]string{}
	}
	f.secrets[env][name] = value
	return nil
}

func (f *FakeProvider) UpdateSecret(_ context.Context, b provider.Binding, name, value string) error {
	if err := provider.ValidateNewSecret(name, value); err != nil {
		return err
	}
	if err := f.enter("update"); err != nil {
		return err
	}
	env := provider.ScopeFor(b, "environment", "")

	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.secrets[env][name]; !ok {
		return dserrors.SecretNotFound(f.name, name)
	}
	f.secrets[env][name] = value
	return nil
}

func (f *FakeProvider) DeleteSecret(_ context.Context, b provider.Binding, name string) error {
	if err := provider.ValidateSecretName(name); err != nil {
		return err
	}
	if err := f.enter("delete"); err != nil {
		return err
	}
	env := provider.ScopeFor(b, "environment", "")

	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.secrets[env][name]; !ok {
		return dserrors.SecretNotFound(f.name, name)
	}
	delete(f.secrets[env], name)
	return nil
}

func (f *FakeProvider) ListSecrets(_ context.Context, b provider.Binding, mode provider.ListMode) ([]provider.Secret, error) {
	if err := f.enter("list"); err != nil {
		return nil, err
	}
	return provider.MaskSecrets(f.snapshot(provider.ScopeFor(b, "environment", "")), mode, false), nil
}

func (f *FakeProvider) snapshot(env string) []provider.Secret {
	f.mu.Lock()
	defer f.mu.Unlock()

	names := make([]string, 0, len(f.secrets[env]))
	for name := range f.secrets[env] {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]provider.Secret, 0, len(names))
	for _, name := range names {
		out = append(out, provider.Secret{
			ID:            env + "/" + name,
			Name:          name,
			Value:         f.secrets[env][name],
			EnvironmentID: env,
		})
	}
	return out
}

var _ provider.Provider = (*FakeProvider)(nil)
