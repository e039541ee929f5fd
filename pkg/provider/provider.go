package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	dserrors "github.com/systmms/envlock/internal/errors"
)

// Provider is the contract every secrets backend satisfies.
type Provider interface {
	// Name returns the stable, lowercase identifier used in bindings and on
	// the command line, e.g. "hub", "aws", "onepassword".
	Name() string

	// Description is a one-line human summary for listings.
	Description() string

	// Login establishes credentials. Backends relying on ambient identity
	// (a configured cloud CLI, an unlocked vault) only verify it.
	Login(ctx context.Context, opts LoginOptions) error

	// Configure walks the backend's scoping hierarchy interactively and
	// returns the Binding to persist for path. An existing binding for path
	// is never replaced without confirmation.
	Configure(ctx context.Context, path string) (Binding, error)

	// Run fetches every secret in the effective scope with real values.
	Run(ctx context.Context, binding Binding, opts RunOptions) ([]Secret, error)

	// CreateSecret adds a secret. Fails with ErrInvalidSecretName or
	// ErrEmptySecretValue before any network call, and with
	// ErrSecretAlreadyExists when the name is taken.
	CreateSecret(ctx context.Context, binding Binding, name, value string) error

	// UpdateSecret replaces the value of an existing secret.
	UpdateSecret(ctx context.Context, binding Binding, name, value string) error

	// DeleteSecret removes an existing secret.
	DeleteSecret(ctx context.Context, binding Binding, name string) error

	// ListSecrets is Run with values masked when mode is HideValues.
	ListSecrets(ctx context.Context, binding Binding, mode ListMode) ([]Secret, error)
}

// AuthProvider is implemented by backends that hold their own credential in
// the credential store rather than relying on ambient identity.
type AuthProvider interface {
	Login(ctx context.Context, opts LoginOptions) error
	Credentials(ctx context.Context) (Credentials, error)
}

// LoginOptions controls Login.
type LoginOptions struct {
	// Force discards any stored credential and re-runs the full flow.
	Force bool
}

// RunOptions controls Run.
type RunOptions struct {
	// Env overrides the binding's default environment for this call only.
	Env string
}

// Credentials is the payload kept in the credential store for providers that
// log in through OAuth.
type Credentials struct {
	AccessToken string `json:"accessToken"`
	UserID      string `json:"userId,omitempty"`
	Email       string `json:"email,omitempty"`
}

// Secret is the normalized output of every provider.
type Secret struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Value         string `json:"value"`
	IsPersonal    bool   `json:"isPersonal"`
	EnvironmentID string `json:"environmentId"`
}

// GoString keeps %#v from printing the value.
func (s Secret) GoString() string {
	return fmt.Sprintf("provider.Secret{ID:%q, Name:%q, Value:[REDACTED], IsPersonal:%t, EnvironmentID:%q}",
		s.ID, s.Name, s.IsPersonal, s.EnvironmentID)
}

// SortByName orders secrets by name in place and returns them.
func SortByName(secrets []Secret) []Secret {
	sort.SliceStable(secrets, func(i, j int) bool {
		return secrets[i].Name < secrets[j].Name
	})
	return secrets
}

// Binding maps a directory to a provider scope. Fields holds the
// provider-specific coordinates; each provider validates the keys it reads.
type Binding struct {
	Path     string            `json:"path"`
	Provider string            `json:"provider"`
	Fields   map[string]string `json:"fields,omitempty"`
}

// NewBinding builds a binding with a copy of fields.
func NewBinding(path, providerName string, fields map[string]string) Binding {
	b := Binding{Path: path, Provider: providerName, Fields: make(map[string]string, len(fields))}
	for k, v := range fields {
		b.Fields[k] = v
	}
	return b
}

// Field returns a provider-specific field or "".
func (b Binding) Field(key string) string {
	if b.Fields == nil {
		return ""
	}
	return b.Fields[key]
}

// Require returns the values of keys, failing if any is missing.
func (b Binding) Require(keys ...string) ([]string, error) {
	values := make([]string, len(keys))
	var missing []string
	for i, key := range keys {
		values[i] = b.Field(key)
		if values[i] == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return nil, &dserrors.Error{
			Kind:     dserrors.KindProviderNotConfigured,
			Provider: b.Provider,
			Detail:   fmt.Sprintf("binding for %s is missing %s; run 'envlock configure' again", b.Path, strings.Join(missing, ", ")),
		}
	}
	return values, nil
}

// UnmarshalJSON accepts both the current shape and the legacy flat shape
// where provider fields sat next to path and provider.
func (b *Binding) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*b = Binding{Fields: map[string]string{}}
	for key, value := range raw {
		switch key {
		case "path":
			if err := json.Unmarshal(value, &b.Path); err != nil {
				return fmt.Errorf("binding path: %w", err)
			}
		case "provider":
			if err := json.Unmarshal(value, &b.Provider); err != nil {
				return fmt.Errorf("binding provider: %w", err)
			}
		case "fields":
			var fields map[string]string
			if err := json.Unmarshal(value, &fields); err != nil {
				return fmt.Errorf("binding fields: %w", err)
			}
			for k, v := range fields {
				b.Fields[k] = v
			}
		default:
			var s string
			if err := json.Unmarshal(value, &s); err != nil {
				// non-string legacy values are rendered verbatim
				s = strings.Trim(string(value), `"`)
			}
			b.Fields[key] = s
		}
	}
	if len(b.Fields) == 0 {
		b.Fields = nil
	}
	return nil
}

// ScopeFor returns override when set, else the binding's default for key.
func ScopeFor(b Binding, key, override string) string {
	if override != "" {
		return override
	}
	return b.Field(key)
}
