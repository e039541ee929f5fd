package providers_test

import (
	"context"
	"testing"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dserrors "github.com/systmms/envlock/internal/errors"
	"github.com/systmms/envlock/internal/providers"
	"github.com/systmms/envlock/pkg/provider"
	"github.com/systmms/envlock/tests/fakes"
	"github.com/systmms/envlock/tests/testutil"
)

const testVaultURL = "https://test-vault.vault.azure.net/"

func azureBinding() provider.Binding {
	return provider.NewBinding("/work/api", "azure", map[string]string{
		"vaultUrl":    testVaultURL,
		"prefix":      "envlock",
		"environment": "dev",
	})
}

func newAzureProvider(deps providers.Deps, client *fakes.FakeAzureKeyVaultClient) *providers.AzureKeyVaultProvider {
	return providers.NewAzureKeyVaultProvider(deps, providers.WithAzureKeyVaultClient(client))
}

func azureTags(name, env string) map[string]*string {
	return map[string]*string{"envlock-name": to.Ptr(name), "envlock-env": to.Ptr(env)}
}

func TestAzureKeyVaultProviderContract(t *testing.T) {
	var client *fakes.FakeAzureKeyVaultClient
	provider.RunContractTests(t, provider.ContractTest{
		CreateProvider: func(t *testing.T) provider.Provider {
			client = fakes.NewFakeAzureKeyVaultClient()
			return newAzureProvider(providers.Deps{}, client)
		},
		Binding:      azureBinding(),
		BackendCalls: func() int { return client.Calls() },
		OverrideEnv:  "staging",
	})
}

func TestAzureKeyVaultUnderscoresRoundTrip(t *testing.T) {
	t.Parallel()

	client := fakes.NewFakeAzureKeyVaultClient()
	p := newAzureProvider(providers.Deps{}, client)
	ctx := context.Background()

	require.NoError(t, p.CreateSecret(ctx, azureBinding(), "DATABASE_URL", "postgres://"))
	_, stored := client.Secrets["envlock-dev-database--url"]
	assert.True(t, stored, "underscores encoded as double dashes")

	secrets, err := p.Run(ctx, azureBinding(), provider.RunOptions{})
	require.NoError(t, err)
	require.Len(t, secrets, 1)
	assert.Equal(t, "DATABASE_URL", secrets[0].Name)
	assert.Equal(t, "postgres://", secrets[0].Value)
}

func TestAzureKeyVaultRunFiltersScope(t *testing.T) {
	t.Parallel()

	client := fakes.NewFakeAzureKeyVaultClient()
	client.AddSecretWithTags("envlock-dev-API--KEY", "dev-value", azureTags("API_KEY", "dev"))
	client.AddSecretWithTags("envlock-dev-eu-API--KEY", "eu-value", azureTags("API_KEY", "dev-eu"))
	client.AddSecretWithTags("envlock-dev-OLD", "old", azureTags("OLD", "dev"))
	client.Secrets["envlock-dev-old"].Enabled = false
	client.AddSecretWithTags("other-dev-API--KEY", "x", nil)

	p := newAzureProvider(providers.Deps{}, client)
	secrets, err := p.Run(context.Background(), azureBinding(), provider.RunOptions{})
	require.NoError(t, err)
	require.Len(t, secrets, 1)
	assert.Equal(t, "dev-value", secrets[0].Value)
	assert.Equal(t, "dev", secrets[0].EnvironmentID)
}

func TestAzureKeyVaultListMasksEnvironment(t *testing.T) {
	t.Parallel()

	client := fakes.NewFakeAzureKeyVaultClient()
	client.AddSecretWithTags("envlock-dev-TOKEN", "t", azureTags("TOKEN", "dev"))
	p := newAzureProvider(providers.Deps{}, client)

	listed, err := p.ListSecrets(context.Background(), azureBinding(), provider.HideValues)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, provider.HiddenPlaceholder, listed[0].Value)
	assert.NotEqual(t, "dev", listed[0].EnvironmentID)
}

func TestAzureKeyVaultErrorMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want dserrors.Kind
	}{
		{"forbidden", fakes.AzureForbiddenError(), dserrors.KindAuthentication},
		{"soft-deleted conflict", fakes.AzureConflictError(), dserrors.KindBackend},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			client := fakes.NewFakeAzureKeyVaultClient()
			client.AddError("envlock-dev-API--KEY", tt.err)
			p := newAzureProvider(providers.Deps{}, client)

			err := p.CreateSecret(context.Background(), azureBinding(), "API_KEY", "v")
			assert.Equal(t, tt.want, dserrors.KindOf(err))
		})
	}
}

func TestAzureKeyVaultRejectsBadEnvironment(t *testing.T) {
	t.Parallel()

	client := fakes.NewFakeAzureKeyVaultClient()
	p := newAzureProvider(providers.Deps{}, client)

	_, err := p.Run(context.Background(), azureBinding(), provider.RunOptions{Env: "dev_eu"})
	assert.Equal(t, dserrors.KindProviderNotConfigured, dserrors.KindOf(err))
	assert.Zero(t, client.Calls())
}

func TestAzureKeyVaultLogin(t *testing.T) {
	client := fakes.NewFakeAzureKeyVaultClient()
	store := testutil.NewTestConfig(t).Store()
	t.Setenv("AZURE_KEYVAULT_URL", "https://test-vault.vault.azure.net/some/path")

	p := newAzureProvider(providers.Deps{Store: store}, client)
	require.NoError(t, p.Login(context.Background(), provider.LoginOptions{}))

	settings, err := store.ProviderSettings("azure")
	require.NoError(t, err)
	assert.Equal(t, testVaultURL, settings["vaultUrl"])
}

func TestAzureKeyVaultConfigure(t *testing.T) {
	t.Parallel()

	t.Run("discovers environments from tags", func(t *testing.T) {
		t.Parallel()

		client := fakes.NewFakeAzureKeyVaultClient()
		client.AddSecretWithTags("envlock-prod-A", "x", azureTags("A", "prod"))
		client.AddSecretWithTags("envlock-qa-A", "x", azureTags("A", "qa"))
		prompter := testutil.NewScriptedPrompter(testVaultURL, "", "qa")

		p := newAzureProvider(providers.Deps{Prompter: prompter}, client)
		b, err := p.Configure(context.Background(), "/work/api")
		require.NoError(t, err)
		assert.Equal(t, testVaultURL, b.Field("vaultUrl"))
		assert.Equal(t, "envlock", b.Field("prefix"))
		assert.Equal(t, "qa", b.Field("environment"))
	})

	t.Run("rejects plain http vaults", func(t *testing.T) {
		t.Parallel()

		client := fakes.NewFakeAzureKeyVaultClient()
		prompter := testutil.NewScriptedPrompter("http://test-vault.vault.azure.net")

		p := newAzureProvider(providers.Deps{Prompter: prompter}, client)
		_, err := p.Configure(context.Background(), "/work/api")
		assert.Equal(t, dserrors.KindProviderNotConfigured, dserrors.KindOf(err))
	})
}
