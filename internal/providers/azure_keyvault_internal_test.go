package providers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAzureNameEncoding(t *testing.T) {
	for _, name := range []string{"API_KEY", "A__B", "PLAIN", "_LEADING"} {
		encoded := encodeAzureName(name)
		assert.NotContains(t, encoded, "_")
		assert.Equal(t, name, decodeAzureName(encoded))
	}
}

func TestValidateVaultURL(t *testing.T) {
	tests := []struct {
		raw     string
		want    string
		wantErr bool
	}{
		{raw: "https://corp.vault.azure.net", want: "https://corp.vault.azure.net/"},
		{raw: "https://corp.vault.azure.net/secrets/x?api-version=7.4", want: "https://corp.vault.azure.net/"},
		{raw: "http://corp.vault.azure.net", wantErr: true},
		{raw: "corp", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := validateVaultURL(tt.raw)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestValidateAzureSegment(t *testing.T) {
	assert.NoError(t, validateAzureSegment("environment", "dev-eu-1"))
	assert.Error(t, validateAzureSegment("environment", "dev_eu"))
	assert.Error(t, validateAzureSegment("prefix", ""))
}
