package providers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systmms/envlock/pkg/provider"
)

func TestGCPScopeNames(t *testing.T) {
	b := provider.NewBinding("/p", gcpProviderName, map[string]string{"projectId": "acme", "environment": "Dev"})

	scope, err := gcpScopeFor(b, "")
	require.NoError(t, err)
	assert.Equal(t, "projects/acme", scope.parent())
	assert.Equal(t, "dev__API_KEY", scope.secretID("API_KEY"))
	assert.Equal(t, "projects/acme/secrets/dev__API_KEY", scope.resource("API_KEY"))

	scope, err = gcpScopeFor(b, "QA")
	require.NoError(t, err)
	assert.Equal(t, "qa", scope.environment)
}

func TestGCPDefaultProjectFromEnvironment(t *testing.T) {
	t.Setenv("GOOGLE_CLOUD_PROJECT", "")
	t.Setenv("GCLOUD_PROJECT", "from-gcloud")
	t.Setenv("GCP_PROJECT", "from-gcp")

	p := NewGCPSecretManagerProvider(Deps{})
	assert.Equal(t, "from-gcloud", p.defaultProject())
}
