package providers_test

import (
	"context"
	"testing"

	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dserrors "github.com/systmms/envlock/internal/errors"
	"github.com/systmms/envlock/internal/providers"
	"github.com/systmms/envlock/pkg/provider"
	"github.com/systmms/envlock/tests/fakes"
	"github.com/systmms/envlock/tests/testutil"
)

const gcpTestProject = "acme-prod"

func gcpBinding() provider.Binding {
	return provider.NewBinding("/work/api", "gcp", map[string]string{
		"projectId":   gcpTestProject,
		"environment": "development",
	})
}

func newGCPProvider(deps providers.Deps, client *fakes.FakeGCPSecretManagerClient) *providers.GCPSecretManagerProvider {
	return providers.NewGCPSecretManagerProvider(deps, providers.WithGCPClient(client))
}

func TestGCPSecretManagerProviderContract(t *testing.T) {
	var client *fakes.FakeGCPSecretManagerClient
	provider.RunContractTests(t, provider.ContractTest{
		CreateProvider: func(t *testing.T) provider.Provider {
			client = fakes.NewFakeGCPSecretManagerClient()
			return newGCPProvider(providers.Deps{}, client)
		},
		Binding:      gcpBinding(),
		BackendCalls: func() int { return client.Calls() },
		OverrideEnv:  "staging",
	})
}

func TestGCPSecretManagerRun(t *testing.T) {
	t.Parallel()

	client := fakes.NewFakeGCPSecretManagerClient()
	dev := map[string]string{"envlock-env": "development"}
	client.AddSecretString(gcpTestProject, "development__API_KEY", "abc", dev, map[string]string{"envlock-name": "API_KEY"})
	client.AddSecretString(gcpTestProject, "development__DB_URL", "postgres://", dev, nil)
	client.AddSecretString(gcpTestProject, "staging__API_KEY", "other", map[string]string{"envlock-env": "staging"}, nil)
	client.AddSecretString(gcpTestProject, "unrelated", "x", nil, nil)
	client.AddSecretString(gcpTestProject, "development__EMPTY", "", dev, nil)
	client.Secrets["projects/"+gcpTestProject+"/secrets/development__EMPTY"].Versions = nil

	logger := testutil.NewTestLogger(t)
	p := newGCPProvider(providers.Deps{Logger: logger.Logger}, client)

	secrets, err := p.Run(context.Background(), gcpBinding(), provider.RunOptions{})
	require.NoError(t, err)

	values := map[string]string{}
	for _, s := range secrets {
		values[s.Name] = s.Value
		assert.Equal(t, "development", s.EnvironmentID)
	}
	assert.Equal(t, map[string]string{"API_KEY": "abc", "DB_URL": "postgres://"}, values)
	logger.AssertContains(t, "no enabled version")
}

func TestGCPSecretManagerCreateRollsBackOnVersionFailure(t *testing.T) {
	t.Parallel()

	client := fakes.NewFakeGCPSecretManagerClient()
	client.AddSecretVersionFunc = func(context.Context, *secretmanagerpb.AddSecretVersionRequest) (*secretmanagerpb.SecretVersion, error) {
		return nil, fakes.GCPPermissionDeniedError("secretmanager.versions.add denied")
	}
	p := newGCPProvider(providers.Deps{}, client)

	err := p.CreateSecret(context.Background(), gcpBinding(), "API_KEY", "abc")
	assert.Equal(t, dserrors.KindAuthentication, dserrors.KindOf(err))
	assert.Empty(t, client.Secrets, "half-created secret removed")
}

func TestGCPSecretManagerEnvironmentIsLowercased(t *testing.T) {
	t.Parallel()

	client := fakes.NewFakeGCPSecretManagerClient()
	p := newGCPProvider(providers.Deps{}, client)
	b := provider.NewBinding("/work/api", "gcp", map[string]string{"projectId": gcpTestProject, "environment": "Production"})

	require.NoError(t, p.CreateSecret(context.Background(), b, "API_KEY", "abc"))
	data, ok := client.Secrets["projects/"+gcpTestProject+"/secrets/production__API_KEY"]
	require.True(t, ok)
	assert.Equal(t, "production", data.Labels["envlock-env"])
	assert.Equal(t, "API_KEY", data.Annotations["envlock-name"])
}

func TestGCPSecretManagerRejectsSeparatorInEnvironment(t *testing.T) {
	t.Parallel()

	client := fakes.NewFakeGCPSecretManagerClient()
	p := newGCPProvider(providers.Deps{}, client)

	_, err := p.Run(context.Background(), gcpBinding(), provider.RunOptions{Env: "prod__eu"})
	assert.Equal(t, dserrors.KindProviderNotConfigured, dserrors.KindOf(err))
	assert.False(t, dserrors.Fatal(err), "a bad --env is not a broken config file")
	assert.Contains(t, err.Error(), "--env")
	assert.Zero(t, client.Calls())
}

func TestGCPSecretManagerErrorMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want dserrors.Kind
	}{
		{"permission denied", fakes.GCPPermissionDeniedError("denied"), dserrors.KindAuthentication},
		{"unauthenticated", fakes.GCPUnauthenticatedError("token expired"), dserrors.KindAuthentication},
		{"invalid argument", fakes.GCPInvalidArgumentError("bad"), dserrors.KindBackend},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			client := fakes.NewFakeGCPSecretManagerClient()
			client.ListErr = tt.err
			p := newGCPProvider(providers.Deps{}, client)

			_, err := p.Run(context.Background(), gcpBinding(), provider.RunOptions{})
			assert.Equal(t, tt.want, dserrors.KindOf(err))
		})
	}
}

func TestGCPSecretManagerLogin(t *testing.T) {
	client := fakes.NewFakeGCPSecretManagerClient()
	store := testutil.NewTestConfig(t).Store()
	prompter := testutil.NewScriptedPrompter(gcpTestProject)
	p := newGCPProvider(providers.Deps{Store: store, Prompter: prompter}, client)

	t.Setenv("GOOGLE_CLOUD_PROJECT", "")
	t.Setenv("GCLOUD_PROJECT", "")
	t.Setenv("GCP_PROJECT", "")

	require.NoError(t, p.Login(context.Background(), provider.LoginOptions{}))

	settings, err := store.ProviderSettings("gcp")
	require.NoError(t, err)
	assert.Equal(t, gcpTestProject, settings["projectId"])
}

func TestGCPSecretManagerConfigure(t *testing.T) {
	t.Parallel()

	client := fakes.NewFakeGCPSecretManagerClient()
	client.AddSecretString(gcpTestProject, "production__A", "x", map[string]string{"envlock-env": "production"}, nil)
	client.AddSecretString(gcpTestProject, "staging__A", "x", map[string]string{"envlock-env": "staging"}, nil)
	client.AddSecretString(gcpTestProject, "staging__B", "x", map[string]string{"envlock-env": "staging"}, nil)
	prompter := testutil.NewScriptedPrompter(gcpTestProject, "staging")

	p := newGCPProvider(providers.Deps{Prompter: prompter}, client)
	b, err := p.Configure(context.Background(), "/work/api")
	require.NoError(t, err)
	assert.Equal(t, gcpTestProject, b.Field("projectId"))
	assert.Equal(t, "staging", b.Field("environment"))
	require.Len(t, prompter.Offered, 1)
	assert.Len(t, prompter.Offered[0], 2, "environments deduplicated")
}
