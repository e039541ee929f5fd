package testutil

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/systmms/envlock/internal/config"
	"github.com/systmms/envlock/internal/logging"
	"github.com/systmms/envlock/pkg/provider"
)

// TestConfigBuilder builds a config.json in a temp directory.
//
// Example usage:
//
//	store := NewTestConfig(t).
//	    WithBinding(project, "hub", map[string]string{"environmentId": "env-dev"}).
//	    WithProviderSettings("hub", config.ProviderSettings{"authenticated": "true"}).
//	    Store()
type TestConfigBuilder struct {
	t   *testing.T
	doc *config.Document
	dir string
}

// NewTestConfig starts an empty document.
func NewTestConfig(t *testing.T) *TestConfigBuilder {
	t.Helper()
	return &TestConfigBuilder{t: t, doc: config.NewDocument(), dir: t.TempDir()}
}

// WithBinding binds path to providerName with fields.
func (b *TestConfigBuilder) WithBinding(path, providerName string, fields map[string]string) *TestConfigBuilder {
	abs, err := filepath.Abs(path)
	require.NoError(b.t, err)
	binding := provider.NewBinding(abs, providerName, fields)
	if len(binding.Fields) == 0 {
		binding.Fields = nil
	}
	b.doc.Bindings[abs] = binding
	return b
}

// WithProviderSettings sets settings for name.
func (b *TestConfigBuilder) WithProviderSettings(name string, settings config.ProviderSettings) *TestConfigBuilder {
	b.doc.ProviderSettings[name] = settings
	return b
}

// Path is where Write puts config.json.
func (b *TestConfigBuilder) Path() string {
	return filepath.Join(b.dir, "envlock", "config.json")
}

// Write saves the document and returns its path.
func (b *TestConfigBuilder) Write() string {
	b.t.Helper()
	require.NoError(b.t, config.NewStore(b.Path(), logging.Discard()).Save(b.doc))
	return b.Path()
}

// Store writes the document and opens a Store on it.
func (b *TestConfigBuilder) Store() *config.Store {
	b.t.Helper()
	return config.NewStore(b.Write(), logging.Discard())
}
