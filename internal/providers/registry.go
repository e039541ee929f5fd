package providers

import (
	"fmt"
	"sort"

	dserrors "github.com/systmms/envlock/internal/errors"
	"github.com/systmms/envlock/pkg/provider"
)

// Registry maps provider names to implementations. It is built once at
// startup and passed to whatever needs lookups.
type Registry struct {
	providers map[string]provider.Provider
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]provider.Provider)}
}

// NewDefaultRegistry registers every built-in provider.
func NewDefaultRegistry(deps Deps) (*Registry, error) {
	r := NewRegistry()
	for _, p := range []provider.Provider{
		NewHubProvider(deps),
		NewAWSSecretsManagerProvider(deps),
		NewGCPSecretManagerProvider(deps),
		NewAzureKeyVaultProvider(deps),
		NewOnePasswordProvider(deps),
	} {
		if err := r.Register(p); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds p under p.Name(). Names are unique.
func (r *Registry) Register(p provider.Provider) error {
	name := p.Name()
	if name == "" {
		return fmt.Errorf("provider has an empty name")
	}
	if _, exists := r.providers[name]; exists {
		return fmt.Errorf("provider %q is already registered", name)
	}
	r.providers[name] = p
	return nil
}

// Get returns the provider registered as name.
func (r *Registry) Get(name string) (provider.Provider, bool) {
	p, ok := r.providers[name]
	return p, ok
}

// Lookup is Get with a ProviderNotFound error naming the alternatives.
func (r *Registry) Lookup(name string) (provider.Provider, error) {
	if p, ok := r.providers[name]; ok {
		return p, nil
	}
	return nil, dserrors.ProviderNotFound(name, r.Names())
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.providers[name]
	return ok
}

// List returns every provider ordered by name.
func (r *Registry) List() []provider.Provider {
	out := make([]provider.Provider, 0, len(r.providers))
	for _, name := range r.Names() {
		out = append(out, r.providers[name])
	}
	return out
}

// Names returns the registered names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
