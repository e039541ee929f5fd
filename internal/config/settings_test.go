package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadSettingsDefaults(t *testing.T) {
	s, err := LoadSettings()
	require.NoError(t, err)

	assert.Equal(t, DefaultAPIURL, s.APIURL)
	assert.Equal(t, DefaultAuthURL, s.AuthURL)
	assert.Equal(t, DefaultClientID, s.ClientID)
	assert.Equal(t, DefaultCallbackPort, s.CallbackPort)
	assert.Equal(t, DefaultLoginTimeout, s.LoginTimeout)
	assert.Equal(t, DefaultKeyringService, s.KeyringService)
	assert.False(t, s.NonInteractive)
}

func TestLoadSettingsFromEnvironment(t *testing.T) {
	t.Setenv("ENVLOCK_API_URL", "http://127.0.0.1:9000/")
	t.Setenv("ENVLOCK_CALLBACK_PORT", "9123")
	t.Setenv("ENVLOCK_LOGIN_TIMEOUT", "90s")
	t.Setenv("ENVLOCK_KEYRING_SERVICE", "envlock-test")
	t.Setenv("ENVLOCK_NON_INTERACTIVE", "true")
	t.Setenv("ENVLOCK_CONFIG", "/tmp/envlock.json")
	t.Setenv("ENVLOCK_AWS_ENDPOINT", "http://localhost:4566")

	s, err := LoadSettings()
	require.NoError(t, err)

	assert.Equal(t, "http://127.0.0.1:9000", s.APIURL, "trailing slash is trimmed")
	assert.Equal(t, 9123, s.CallbackPort)
	assert.Equal(t, 90*time.Second, s.LoginTimeout)
	assert.Equal(t, "envlock-test", s.KeyringService)
	assert.True(t, s.NonInteractive)
	assert.Equal(t, "/tmp/envlock.json", s.ConfigPath)
	assert.Equal(t, "http://localhost:4566", s.AWSEndpoint)
}

func TestLoadSettingsRejectsBadValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"port too large", "ENVLOCK_CALLBACK_PORT", "70000"},
		{"port zero", "ENVLOCK_CALLBACK_PORT", "0"},
		{"negative timeout", "ENVLOCK_LOGIN_TIMEOUT", "-1s"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)

			_, err := LoadSettings()
			assert.Error(t, err)
		})
	}
}

func TestConfigStorePathPrecedence(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	explicit := &Config{
		Path:     filepath.Join(dir, "flag.json"),
		Settings: Settings{ConfigPath: filepath.Join(dir, "env.json")},
	}
	store, err := explicit.Store()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "flag.json"), store.Path())

	fromEnv := &Config{Settings: Settings{ConfigPath: filepath.Join(dir, "env.json")}}
	store, err = fromEnv.Store()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "env.json"), store.Path())

	again, err := fromEnv.Store()
	require.NoError(t, err)
	assert.Same(t, store, again)
}
