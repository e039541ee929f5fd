package provider

import (
	"context"
	"errors"
	"reflect"
	"testing"

	dserrors "github.com/systmms/envlock/internal/errors"
)

// ContractTest defines a standard test suite that all providers must pass
type ContractTest struct {
	// CreateProvider returns a provider wired to an empty fake backend.
	CreateProvider func(t *testing.T) Provider

	// Binding is the scope the suite operates in.
	Binding Binding

	// BackendCalls reports how many requests the fake backend has served so
	// far. Used to prove validation happens before any network call.
	BackendCalls func() int

	// OverrideEnv is a second, empty scope. When set the suite checks that
	// Run honours RunOptions.Env without touching the binding.
	OverrideEnv string
}

// RunContractTests runs the standard provider contract test suite
func RunContractTests(t *testing.T, contract ContractTest) {
	t.Run("Contract", func(t *testing.T) {
		t.Run("Name", func(t *testing.T) {
			testProviderName(t, contract)
		})

		t.Run("InvalidNameRejectedBeforeBackend", func(t *testing.T) {
			testInvalidName(t, contract)
		})

		t.Run("EmptyValueRejectedBeforeBackend", func(t *testing.T) {
			testEmptyValue(t, contract)
		})

		t.Run("Lifecycle", func(t *testing.T) {
			testLifecycle(t, contract)
		})

		if contract.OverrideEnv != "" {
			t.Run("EnvOverride", func(t *testing.T) {
				testEnvOverride(t, contract)
			})
		}
	})
}

func testProviderName(t *testing.T, contract ContractTest) {
	p := contract.CreateProvider(t)

	name := p.Name()
	if name == "" {
		t.Error("Provider.Name() returned empty string")
	}
	if name != contract.Binding.Provider {
		t.Errorf("Provider.Name() = %q, binding names %q", name, contract.Binding.Provider)
	}
}

func testInvalidName(t *testing.T, contract ContractTest) {
	p := contract.CreateProvider(t)
	ctx := context.Background()
	before := contract.BackendCalls()

	for _, name := range []string{"", "has space", "semi;colon", "dollar$", "dotted.name", "ünïcode"} {
		err := p.CreateSecret(ctx, contract.Binding, name, "value")
		if !errors.Is(err, dserrors.ErrInvalidSecretName) {
			t.Errorf("CreateSecret(%q) error = %v, want ErrInvalidSecretName", name, err)
		}
	}

	if after := contract.BackendCalls(); after != before {
		t.Errorf("backend saw %d calls during invalid-name checks, want 0", after-before)
	}
}

func testEmptyValue(t *testing.T, contract ContractTest) {
	p := contract.CreateProvider(t)
	before := contract.BackendCalls()

	err := p.CreateSecret(context.Background(), contract.Binding, "VALID_NAME", "")
	if !errors.Is(err, dserrors.ErrEmptySecretValue) {
		t.Errorf("CreateSecret with empty value error = %v, want ErrEmptySecretValue", err)
	}
	if after := contract.BackendCalls(); after != before {
		t.Errorf("backend saw %d calls for an empty value, want 0", after-before)
	}
}

func testLifecycle(t *testing.T, contract ContractTest) {
	p := contract.CreateProvider(t)
	ctx := context.Background()
	b := contract.Binding

	if err := p.CreateSecret(ctx, b, "CONTRACT_KEY", "first"); err != nil {
		t.Fatalf("CreateSecret: %v", err)
	}

	if err := p.CreateSecret(ctx, b, "CONTRACT_KEY", "again"); !errors.Is(err, dserrors.ErrSecretAlreadyExists) {
		t.Errorf("duplicate CreateSecret error = %v, want ErrSecretAlreadyExists", err)
	}

	assertValue(t, p, b, "CONTRACT_KEY", "first")

	hidden, err := p.ListSecrets(ctx, b, HideValues)
	if err != nil {
		t.Fatalf("ListSecrets(hide): %v", err)
	}
	if s, ok := find(hidden, "CONTRACT_KEY"); !ok || s.Value != HiddenPlaceholder {
		t.Errorf("ListSecrets(hide) value = %q, want placeholder", s.Value)
	}

	shown, err := p.ListSecrets(ctx, b, ShowValues)
	if err != nil {
		t.Fatalf("ListSecrets(show): %v", err)
	}
	if s, ok := find(shown, "CONTRACT_KEY"); !ok || s.Value != "first" {
		t.Errorf("ListSecrets(show) value = %q, want %q", s.Value, "first")
	}

	if err := p.UpdateSecret(ctx, b, "CONTRACT_KEY", "second"); err != nil {
		t.Fatalf("UpdateSecret: %v", err)
	}
	assertValue(t, p, b, "CONTRACT_KEY", "second")

	if err := p.UpdateSecret(ctx, b, "MISSING_KEY", "x"); !errors.Is(err, dserrors.ErrSecretNotFound) {
		t.Errorf("UpdateSecret on missing secret error = %v, want ErrSecretNotFound", err)
	}

	if err := p.DeleteSecret(ctx, b, "CONTRACT_KEY"); err != nil {
		t.Fatalf("DeleteSecret: %v", err)
	}
	secrets, err := p.Run(ctx, b, RunOptions{})
	if err != nil {
		t.Fatalf("Run after delete: %v", err)
	}
	if _, ok := find(secrets, "CONTRACT_KEY"); ok {
		t.Error("deleted secret still returned by Run")
	}

	if err := p.DeleteSecret(ctx, b, "CONTRACT_KEY"); !errors.Is(err, dserrors.ErrSecretNotFound) {
		t.Errorf("second DeleteSecret error = %v, want ErrSecretNotFound", err)
	}
}

func testEnvOverride(t *testing.T, contract ContractTest) {
	p := contract.CreateProvider(t)
	ctx := context.Background()
	b := contract.Binding
	snapshot := NewBinding(b.Path, b.Provider, b.Fields)

	if err := p.CreateSecret(ctx, b, "SCOPED_KEY", "default-scope"); err != nil {
		t.Fatalf("CreateSecret: %v", err)
	}

	overridden, err := p.Run(ctx, b, RunOptions{Env: contract.OverrideEnv})
	if err != nil {
		t.Fatalf("Run with override: %v", err)
	}
	if _, ok := find(overridden, "SCOPED_KEY"); ok {
		t.Errorf("Run with Env=%q returned a secret from the default scope", contract.OverrideEnv)
	}

	if !reflect.DeepEqual(snapshot.Fields, b.Fields) {
		t.Errorf("binding mutated by Run: %v -> %v", snapshot.Fields, b.Fields)
	}

	assertValue(t, p, b, "SCOPED_KEY", "default-scope")
}

func assertValue(t *testing.T, p Provider, b Binding, name, want string) {
	t.Helper()

	secrets, err := p.Run(context.Background(), b, RunOptions{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	s, ok := find(secrets, name)
	if !ok {
		t.Fatalf("Run did not return %s", name)
	}
	if s.Value != want {
		t.Errorf("%s = %q, want %q", name, s.Value, want)
	}
}

func find(secrets []Secret, name string) (Secret, bool) {
	for _, s := range secrets {
		if s.Name == name {
			return s, true
		}
	}
	return Secret{}, false
}
