package provider_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	dserrors "github.com/systmms/envlock/internal/errors"
	"github.com/systmms/envlock/pkg/provider"
)

func TestValidateSecretName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		valid bool
	}{
		{"DATABASE_URL", true},
		{"api-key", true},
		{"a", true},
		{"0123", true},
		{"", false},
		{"with space", false},
		{"dot.name", false},
		{"slash/name", false},
		{"${INJECT}", false},
		{"tab\tname", false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(fmt.Sprintf("%q", tt.name), func(t *testing.T) {
			t.Parallel()

			err := provider.ValidateSecretName(tt.name)
			if tt.valid {
				assert.NoError(t, err)
				return
			}
			assert.True(t, errors.Is(err, dserrors.ErrInvalidSecretName))
		})
	}
}

func TestValidateNewSecretChecksNameFirst(t *testing.T) {
	t.Parallel()

	err := provider.ValidateNewSecret("bad name", "")
	assert.True(t, errors.Is(err, dserrors.ErrInvalidSecretName))

	err = provider.ValidateNewSecret("GOOD", "")
	assert.True(t, errors.Is(err, dserrors.ErrEmptySecretValue))

	assert.NoError(t, provider.ValidateNewSecret("GOOD", "v"))
}

func TestMaskSecrets(t *testing.T) {
	t.Parallel()

	secrets := []provider.Secret{
		{ID: "1", Name: "A", Value: "alpha", EnvironmentID: "env-1"},
		{ID: "2", Name: "B", Value: "beta", EnvironmentID: "env-1", IsPersonal: true},
	}

	hidden := provider.MaskSecrets(secrets, provider.HideValues, true)
	for _, s := range hidden {
		assert.Equal(t, provider.HiddenPlaceholder, s.Value)
		assert.Equal(t, provider.HiddenPlaceholder, s.EnvironmentID)
	}
	assert.Equal(t, "alpha", secrets[0].Value, "input must not be modified")

	partial := provider.MaskSecrets(secrets, provider.HideValues, false)
	assert.Equal(t, "env-1", partial[0].EnvironmentID)

	shown := provider.MaskSecrets(secrets, provider.ShowValues, true)
	assert.Equal(t, secrets, shown)
}

func TestParseListMode(t *testing.T) {
	t.Parallel()

	mode, err := provider.ParseListMode("hide")
	require.NoError(t, err)
	assert.Equal(t, provider.HideValues, mode)

	_, err = provider.ParseListMode("reveal")
	assert.Error(t, err)
}

func TestBindingUnmarshalLegacyFlatShape(t *testing.T) {
	t.Parallel()

	var b provider.Binding
	err := json.Unmarshal([]byte(`{"path":"/srv/app","provider":"hub","workspaceId":"ws1","projectId":"p1","environmentId":"e1"}`), &b)
	require.NoError(t, err)

	assert.Equal(t, "/srv/app", b.Path)
	assert.Equal(t, "hub", b.Provider)
	assert.Equal(t, map[string]string{"workspaceId": "ws1", "projectId": "p1", "environmentId": "e1"}, b.Fields)
}

func TestBindingRoundTrip(t *testing.T) {
	t.Parallel()

	in := provider.NewBinding("/srv/app", "aws", map[string]string{"region": "eu-west-1", "prefix": "app"})
	data, err := json.Marshal(in)
	require.NoError(t, err)

	var out provider.Binding
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, in, out)
}

func TestBindingRequire(t *testing.T) {
	t.Parallel()

	b := provider.NewBinding("/srv/app", "aws", map[string]string{"region": "eu-west-1"})

	values, err := b.Require("region")
	require.NoError(t, err)
	assert.Equal(t, []string{"eu-west-1"}, values)

	_, err = b.Require("region", "prefix")
	require.Error(t, err)
	assert.True(t, errors.Is(err, dserrors.ErrProviderNotConfigured))
	assert.Contains(t, err.Error(), "prefix")
}

func TestScopeFor(t *testing.T) {
	t.Parallel()

	b := provider.NewBinding("/srv/app", "hub", map[string]string{"environmentId": "dev"})
	assert.Equal(t, "dev", provider.ScopeFor(b, "environmentId", ""))
	assert.Equal(t, "prod", provider.ScopeFor(b, "environmentId", "prod"))
	assert.Equal(t, "dev", b.Field("environmentId"))
}

func TestSecretGoStringRedactsValue(t *testing.T) {
	t.Parallel()

	s := provider.Secret{Name: "TOKEN", Value: "hunter2"}
	assert.NotContains(t, fmt.Sprintf("%#v", s), "hunter2")
}
