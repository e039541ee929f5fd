package providers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systmms/envlock/pkg/provider"
)

func TestAWSScopeFor(t *testing.T) {
	tests := []struct {
		name     string
		fields   map[string]string
		override string
		wantID   string
		region   string
	}{
		{
			name:   "binding defaults",
			fields: map[string]string{"region": "eu-west-1", "prefix": "envlock", "environment": "dev"},
			wantID: "envlock/dev/API_KEY",
			region: "eu-west-1",
		},
		{
			name:     "override replaces environment only",
			fields:   map[string]string{"region": "eu-west-1", "prefix": "envlock", "environment": "dev"},
			override: "prod",
			wantID:   "envlock/prod/API_KEY",
			region:   "eu-west-1",
		},
		{
			name:   "slashes trimmed and region defaulted",
			fields: map[string]string{"prefix": "/team/app/", "environment": "dev"},
			wantID: "team/app/dev/API_KEY",
			region: awsDefaultRegion,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scope, err := awsScopeFor(provider.NewBinding("/p", awsProviderName, tt.fields), tt.override)
			require.NoError(t, err)
			assert.Equal(t, tt.wantID, scope.secretID("API_KEY"))
			assert.Equal(t, tt.region, scope.region)
		})
	}
}

func TestAWSDefaultRegionFromEnvironment(t *testing.T) {
	t.Setenv("AWS_REGION", "")
	t.Setenv("AWS_DEFAULT_REGION", "ap-southeast-2")

	p := NewAWSSecretsManagerProvider(Deps{})
	assert.Equal(t, "ap-southeast-2", p.defaultRegion())

	t.Setenv("AWS_REGION", "eu-central-1")
	assert.Equal(t, "eu-central-1", p.defaultRegion())
}
