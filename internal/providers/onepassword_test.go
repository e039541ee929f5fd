package providers_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dserrors "github.com/systmms/envlock/internal/errors"
	"github.com/systmms/envlock/internal/providers"
	"github.com/systmms/envlock/pkg/provider"
	"github.com/systmms/envlock/tests/fakes"
	"github.com/systmms/envlock/tests/testutil"
)

func newOnePasswordFixture(t *testing.T) (*fakes.FakeOnePasswordCLI, *providers.OnePasswordProvider) {
	t.Helper()
	cli := fakes.NewFakeOnePasswordCLI()
	cli.AddVault("vault-1", "Engineering")
	cli.AddNote("vault-1", "item-dev", "api (development)", nil)
	cli.AddNote("vault-1", "item-stg", "api (staging)", nil)

	p := providers.NewOnePasswordProvider(providers.Deps{}, providers.WithOnePasswordExecutor(cli))
	return cli, p
}

func onePasswordBinding() provider.Binding {
	return provider.NewBinding("/work/api", "onepassword", map[string]string{
		"vault": "vault-1",
		"item":  "item-dev",
	})
}

func TestOnePasswordProviderContract(t *testing.T) {
	var cli *fakes.FakeOnePasswordCLI
	provider.RunContractTests(t, provider.ContractTest{
		CreateProvider: func(t *testing.T) provider.Provider {
			var p *providers.OnePasswordProvider
			cli, p = newOnePasswordFixture(t)
			return p
		},
		Binding:      onePasswordBinding(),
		BackendCalls: func() int { return cli.Calls() },
		OverrideEnv:  "item-stg",
	})
}

func TestOnePasswordRunSkipsNotesAndInvalidLabels(t *testing.T) {
	t.Parallel()

	cli, p := newOnePasswordFixture(t)
	cli.AddNote("vault-1", "item-dev", "api (development)", map[string]string{
		"DATABASE_URL": "postgres://db",
		"not a name":   "ignored",
	})

	secrets, err := p.Run(context.Background(), onePasswordBinding(), provider.RunOptions{})
	require.NoError(t, err)
	require.Len(t, secrets, 1)
	assert.Equal(t, "DATABASE_URL", secrets[0].Name)
	assert.Equal(t, "postgres://db", secrets[0].Value)
	assert.Equal(t, "database_url", secrets[0].ID)
	assert.Equal(t, "item-dev", secrets[0].EnvironmentID)
}

func TestOnePasswordOverrideMatchesTitle(t *testing.T) {
	t.Parallel()

	cli, p := newOnePasswordFixture(t)
	cli.AddNote("vault-1", "item-stg", "api (staging)", map[string]string{"TOKEN": "stg"})

	secrets, err := p.Run(context.Background(), onePasswordBinding(), provider.RunOptions{Env: "api (staging)"})
	require.NoError(t, err)
	require.Len(t, secrets, 1)
	assert.Equal(t, "stg", secrets[0].Value)
}

func TestOnePasswordEditPreservesOtherFields(t *testing.T) {
	t.Parallel()

	cli, p := newOnePasswordFixture(t)
	ctx := context.Background()

	require.NoError(t, p.CreateSecret(ctx, onePasswordBinding(), "API_KEY", "abc"))
	require.Len(t, cli.Edits, 1)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(cli.Edits[0], &payload))
	assert.Equal(t, "api (development)", payload["title"])
	fields, ok := payload["fields"].([]any)
	require.True(t, ok)
	assert.Len(t, fields, 2, "notes field kept alongside the new secret")

	value, ok := cli.Field("item-dev", "API_KEY")
	require.True(t, ok)
	assert.Equal(t, "abc", value)
}

func TestOnePasswordEditFailureRedactsValues(t *testing.T) {
	t.Parallel()

	cli, p := newOnePasswordFixture(t)
	cli.RejectEdits = true

	err := p.CreateSecret(context.Background(), onePasswordBinding(), "API_KEY", "sk-live-abcdef")
	require.Error(t, err)
	assert.Equal(t, dserrors.KindBackend, dserrors.KindOf(err))
	assert.Contains(t, err.Error(), "[REDACTED]")
	testutil.AssertNoSecretLeak(t, err.Error(), []string{"sk-live-abcdef"})
}

func TestOnePasswordErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		setup func(cli *fakes.FakeOnePasswordCLI)
		want  dserrors.Kind
	}{
		{
			name:  "not signed in",
			setup: func(cli *fakes.FakeOnePasswordCLI) { cli.SignedIn = false },
			want:  dserrors.KindAuthentication,
		},
		{
			name:  "op missing",
			setup: func(cli *fakes.FakeOnePasswordCLI) { cli.Missing = true },
			want:  dserrors.KindProviderNotConfigured,
		},
		{
			name:  "item deleted",
			setup: func(cli *fakes.FakeOnePasswordCLI) { delete(cli.Items, "item-dev") },
			want:  dserrors.KindProviderNotConfigured,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cli, p := newOnePasswordFixture(t)
			tt.setup(cli)

			_, err := p.Run(context.Background(), onePasswordBinding(), provider.RunOptions{})
			require.Error(t, err)
			assert.Equal(t, tt.want, dserrors.KindOf(err))
		})
	}
}

func TestOnePasswordLoginRecordsAccount(t *testing.T) {
	t.Parallel()

	cli := fakes.NewFakeOnePasswordCLI()
	store := testutil.NewTestConfig(t).Store()
	p := providers.NewOnePasswordProvider(providers.Deps{Store: store}, providers.WithOnePasswordExecutor(cli))

	require.NoError(t, p.Login(context.Background(), provider.LoginOptions{}))

	settings, err := store.ProviderSettings("onepassword")
	require.NoError(t, err)
	assert.Equal(t, "dev@example.com", settings["email"])
	assert.Equal(t, "true", settings["authenticated"])
}

func TestOnePasswordConfigure(t *testing.T) {
	t.Parallel()

	t.Run("single vault is auto-selected", func(t *testing.T) {
		t.Parallel()

		cli, _ := newOnePasswordFixture(t)
		prompter := testutil.NewScriptedPrompter("item-stg")
		p := providers.NewOnePasswordProvider(providers.Deps{Prompter: prompter}, providers.WithOnePasswordExecutor(cli))

		b, err := p.Configure(context.Background(), "/work/api")
		require.NoError(t, err)
		assert.Equal(t, "vault-1", b.Field("vault"))
		assert.Equal(t, "item-stg", b.Field("item"))
		assert.Equal(t, []string{"Select the secure note"}, prompter.Asked)
	})

	t.Run("non-interactive fails on ambiguity", func(t *testing.T) {
		t.Parallel()

		_, p := newOnePasswordFixture(t)

		_, err := p.Configure(context.Background(), "/work/api")
		require.Error(t, err)
		assert.True(t, errors.Is(err, dserrors.ErrProviderNotConfigured))
	})
}
