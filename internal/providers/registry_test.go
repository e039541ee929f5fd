package providers_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dserrors "github.com/systmms/envlock/internal/errors"
	"github.com/systmms/envlock/internal/providers"
	"github.com/systmms/envlock/pkg/provider"
	"github.com/systmms/envlock/tests/fakes"
)

func TestDefaultRegistry(t *testing.T) {
	t.Parallel()

	registry, err := providers.NewDefaultRegistry(providers.Deps{})
	require.NoError(t, err)

	assert.Equal(t, []string{"aws", "azure", "gcp", "hub", "onepassword"}, registry.Names())
	for _, p := range registry.List() {
		assert.NotEmpty(t, p.Description(), p.Name())
	}

	hub, ok := registry.Get("hub")
	require.True(t, ok)
	_, isAuth := hub.(provider.AuthProvider)
	assert.True(t, isAuth, "hub keeps its own credential")
}

func TestRegistryLookup(t *testing.T) {
	t.Parallel()

	registry, err := providers.NewDefaultRegistry(providers.Deps{})
	require.NoError(t, err)

	p, err := registry.Lookup("gcp")
	require.NoError(t, err)
	assert.Equal(t, "gcp", p.Name())

	_, err = registry.Lookup("vault")
	var typed *dserrors.Error
	require.ErrorAs(t, err, &typed)
	assert.Equal(t, dserrors.KindProviderNotFound, typed.Kind)
	assert.Contains(t, typed.Alternatives, "hub")
	assert.False(t, registry.Has("vault"))
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	t.Parallel()

	registry := providers.NewRegistry()
	cli := fakes.NewFakeOnePasswordCLI()
	require.NoError(t, registry.Register(providers.NewOnePasswordProvider(providers.Deps{}, providers.WithOnePasswordExecutor(cli))))

	err := registry.Register(providers.NewOnePasswordProvider(providers.Deps{}))
	assert.ErrorContains(t, err, "already registered")
	assert.Len(t, registry.List(), 1)
}
