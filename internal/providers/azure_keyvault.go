package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/security/keyvault/azsecrets"

	"github.com/systmms/envlock/internal/config"
	dserrors "github.com/systmms/envlock/internal/errors"
	"github.com/systmms/envlock/pkg/provider"
)

const (
	azureProviderName = "azure"
	azureNameTag      = "envlock-name"
	azureEnvTag       = "envlock-env"
)

// AzureKeyVaultClientAPI defines the interface for Azure Key Vault operations
// This allows for mocking in tests. ListSecretProperties returns every page.
type AzureKeyVaultClientAPI interface {
	GetSecret(ctx context.Context, name string, version string, options *azsecrets.GetSecretOptions) (azsecrets.GetSecretResponse, error)
	SetSecret(ctx context.Context, name string, parameters azsecrets.SetSecretParameters, options *azsecrets.SetSecretOptions) (azsecrets.SetSecretResponse, error)
	DeleteSecret(ctx context.Context, name string, options *azsecrets.DeleteSecretOptions) (azsecrets.DeleteSecretResponse, error)
	ListSecretProperties(ctx context.Context) ([]*azsecrets.SecretProperties, error)
}

type azureClient struct {
	*azsecrets.Client
}

func (c azureClient) ListSecretProperties(ctx context.Context) ([]*azsecrets.SecretProperties, error) {
	var out []*azsecrets.SecretProperties
	pager := c.NewListSecretPropertiesPager(nil)
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		out = append(out, page.Value...)
	}
	return out, nil
}

// AzureKeyVaultProvider stores secrets in an Azure Key Vault as
// prefix-environment-NAME, with underscores encoded as "--".
type AzureKeyVaultProvider struct {
	deps Deps

	mu       sync.Mutex
	clients  map[string]AzureKeyVaultClientAPI
	injected AzureKeyVaultClientAPI
}

// AzureProviderOption is a functional option for configuring Azure providers
type AzureProviderOption func(*AzureKeyVaultProvider)

// WithAzureKeyVaultClient sets a custom Azure Key Vault client (for testing)
func WithAzureKeyVaultClient(client AzureKeyVaultClientAPI) AzureProviderOption {
	return func(p *AzureKeyVaultProvider) {
		p.injected = client
	}
}

// NewAzureKeyVaultProvider creates the azure provider. Clients authenticate
// with DefaultAzureCredential and are created per vault on first use.
func NewAzureKeyVaultProvider(deps Deps, opts ...AzureProviderOption) *AzureKeyVaultProvider {
	p := &AzureKeyVaultProvider{
		deps:    deps.withDefaults(),
		clients: map[string]AzureKeyVaultClientAPI{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *AzureKeyVaultProvider) Name() string { return azureProviderName }

func (p *AzureKeyVaultProvider) Description() string {
	return "Azure Key Vault (DefaultAzureCredential)"
}

func (p *AzureKeyVaultProvider) client(vaultURL string) (AzureKeyVaultClientAPI, error) {
	if p.injected != nil {
		return p.injected, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if c, ok := p.clients[vaultURL]; ok {
		return c, nil
	}

	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, dserrors.Authentication(azureProviderName,
			"no usable Azure credentials; run 'az login'", err)
	}
	c, err := azsecrets.NewClient(vaultURL, cred, nil)
	if err != nil {
		return nil, dserrors.Backend(azureProviderName, "connect", 0,
			fmt.Sprintf("cannot create a Key Vault client for %s", vaultURL), err)
	}

	client := azureClient{Client: c}
	p.clients[vaultURL] = client
	return client, nil
}

func (p *AzureKeyVaultProvider) defaultVaultURL() string {
	if p.deps.Store != nil {
		if settings, err := p.deps.Store.ProviderSettings(azureProviderName); err == nil && settings["vaultUrl"] != "" {
			return settings["vaultUrl"]
		}
	}
	return os.Getenv("AZURE_KEYVAULT_URL")
}

func validateVaultURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme != "https" || u.Host == "" {
		return "", &dserrors.Error{
			Kind:     dserrors.KindProviderNotConfigured,
			Provider: azureProviderName,
			Detail:   fmt.Sprintf("invalid vault URL %q; use https://vault-name.vault.azure.net/", raw),
		}
	}
	return "https://" + u.Host + "/", nil
}

// Login checks that the ambient Azure identity can list the vault.
func (p *AzureKeyVaultProvider) Login(ctx context.Context, _ provider.LoginOptions) error {
	raw := p.defaultVaultURL()
	if raw == "" {
		var err error
		raw, err = askInput(ctx, p.deps, azureProviderName, "Key Vault URL", "")
		if err != nil {
			return err
		}
	}
	vaultURL, err := validateVaultURL(raw)
	if err != nil {
		return err
	}

	client, err := p.client(vaultURL)
	if err != nil {
		return err
	}
	if _, err := client.ListSecretProperties(ctx); err != nil {
		return p.handleError(err, "login", "")
	}

	p.deps.Logger.Info("Azure credentials can read %s", vaultURL)
	if p.deps.Store != nil {
		return p.deps.Store.MarkAuthenticated(azureProviderName, true, config.ProviderSettings{"vaultUrl": vaultURL})
	}
	return nil
}

func (p *AzureKeyVaultProvider) Configure(ctx context.Context, path string) (provider.Binding, error) {
	if err := confirmOverwrite(ctx, p.deps, azureProviderName, path); err != nil {
		return provider.Binding{}, err
	}

	raw, err := askInput(ctx, p.deps, azureProviderName, "Key Vault URL", p.defaultVaultURL())
	if err != nil {
		return provider.Binding{}, err
	}
	vaultURL, err := validateVaultURL(raw)
	if err != nil {
		return provider.Binding{}, err
	}
	prefix, err := askInput(ctx, p.deps, azureProviderName, "Secret name prefix", "envlock")
	if err != nil {
		return provider.Binding{}, err
	}
	if err := validateAzureSegment("prefix", prefix); err != nil {
		return provider.Binding{}, err
	}

	client, err := p.client(vaultURL)
	if err != nil {
		return provider.Binding{}, err
	}
	props, err := client.ListSecretProperties(ctx)
	if err != nil {
		return provider.Binding{}, p.handleError(err, "configure", "")
	}

	var discovered []string
	for _, prop := range props {
		if prop.ID == nil || !strings.HasPrefix(prop.ID.Name(), prefix+"-") {
			continue
		}
		if env := prop.Tags[azureEnvTag]; env != nil {
			discovered = append(discovered, *env)
		}
	}

	environment, err := chooseEnvironment(ctx, p.deps, azureProviderName, discovered)
	if err != nil {
		return provider.Binding{}, err
	}
	if err := validateAzureSegment("environment", environment); err != nil {
		return provider.Binding{}, err
	}

	return provider.NewBinding(path, azureProviderName, map[string]string{
		"vaultUrl":    vaultURL,
		"prefix":      prefix,
		"environment": environment,
	}), nil
}

// validateAzureSegment enforces Key Vault's name alphabet on prefix and
// environment. Underscores are reserved for secret names.
func validateAzureSegment(field, value string) error {
	for _, r := range value {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '-') {
			return &dserrors.Error{
				Kind:     dserrors.KindProviderNotConfigured,
				Provider: azureProviderName,
				Detail:   fmt.Sprintf("%s %q may only contain letters, digits and '-'", field, value),
			}
		}
	}
	if value == "" {
		return &dserrors.Error{
			Kind:     dserrors.KindProviderNotConfigured,
			Provider: azureProviderName,
			Detail:   field + " is required",
		}
	}
	return nil
}

type azureScope struct {
	vaultURL    string
	prefix      string
	environment string
}

func azureScopeFor(b provider.Binding, override string) (azureScope, error) {
	fields, err := b.Require("vaultUrl", "prefix", "environment")
	if err != nil {
		return azureScope{}, err
	}
	scope := azureScope{
		vaultURL:    fields[0],
		prefix:      fields[1],
		environment: provider.ScopeFor(b, "environment", override),
	}
	if err := validateAzureSegment("environment", scope.environment); err != nil {
		return azureScope{}, err
	}
	return scope, nil
}

func (s azureScope) base() string {
	return s.prefix + "-" + s.environment + "-"
}

// vaultName encodes a secret name for Key Vault.
func (s azureScope) vaultName(name string) string {
	return s.base() + encodeAzureName(name)
}

func encodeAzureName(name string) string {
	return strings.ReplaceAll(name, "_", "--")
}

func decodeAzureName(encoded string) string {
	return strings.ReplaceAll(encoded, "--", "_")
}

func (p *AzureKeyVaultProvider) Run(ctx context.Context, b provider.Binding, opts provider.RunOptions) ([]provider.Secret, error) {
	scope, err := azureScopeFor(b, opts.Env)
	if err != nil {
		return nil, err
	}
	client, err := p.client(scope.vaultURL)
	if err != nil {
		return nil, err
	}

	props, err := client.ListSecretProperties(ctx)
	if err != nil {
		return nil, p.handleError(err, "run", "")
	}

	var secrets []provider.Secret
	for _, prop := range props {
		if prop.ID == nil {
			continue
		}
		vaultName := prop.ID.Name()
		if !strings.HasPrefix(strings.ToLower(vaultName), strings.ToLower(scope.base())) {
			continue
		}
		if prop.Attributes != nil && prop.Attributes.Enabled != nil && !*prop.Attributes.Enabled {
			p.deps.Logger.Debug("Skipping disabled secret %s", vaultName)
			continue
		}
		if env := prop.Tags[azureEnvTag]; env != nil && *env != scope.environment {
			// a longer environment sharing this one as a prefix
			continue
		}

		name := decodeAzureName(vaultName[len(scope.base()):])
		if tag := prop.Tags[azureNameTag]; tag != nil && *tag != "" {
			name = *tag
		}
		if provider.ValidateSecretName(name) != nil {
			continue
		}

		resp, err := client.GetSecret(ctx, vaultName, "", nil)
		if err != nil {
			return nil, p.handleError(err, "run", name)
		}

		secrets = append(secrets, provider.Secret{
			ID:            string(*prop.ID),
			Name:          name,
			Value:         deref(resp.Value),
			EnvironmentID: scope.environment,
		})
	}

	p.deps.Logger.Debug("Fetched %d secrets from %s under %s", len(secrets), azureProviderName, scope.base())
	return secrets, nil
}

func (p *AzureKeyVaultProvider) ListSecrets(ctx context.Context, b provider.Binding, mode provider.ListMode) ([]provider.Secret, error) {
	secrets, err := p.Run(ctx, b, provider.RunOptions{})
	if err != nil {
		return nil, err
	}
	return hiddenList(secrets, mode, true), nil
}

func (p *AzureKeyVaultProvider) exists(ctx context.Context, client AzureKeyVaultClientAPI, vaultName string) (bool, error) {
	_, err := client.GetSecret(ctx, vaultName, "", nil)
	if err == nil {
		return true, nil
	}
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound {
		return false, nil
	}
	return false, err
}

func (p *AzureKeyVaultProvider) set(ctx context.Context, client AzureKeyVaultClientAPI, scope azureScope, name, value string) error {
	_, err := client.SetSecret(ctx, scope.vaultName(name), azsecrets.SetSecretParameters{
		Value: to.Ptr(value),
		Tags: map[string]*string{
			azureNameTag: to.Ptr(name),
			azureEnvTag:  to.Ptr(scope.environment),
		},
	}, nil)
	return err
}

func (p *AzureKeyVaultProvider) CreateSecret(ctx context.Context, b provider.Binding, name, value string) error {
	if err := provider.ValidateNewSecret(name, value); err != nil {
		return err
	}
	scope, err := azureScopeFor(b, "")
	if err != nil {
		return err
	}
	client, err := p.client(scope.vaultURL)
	if err != nil {
		return err
	}

	found, err := p.exists(ctx, client, scope.vaultName(name))
	if err != nil {
		return p.handleError(err, "create", name)
	}
	if found {
		return dserrors.SecretAlreadyExists(azureProviderName, name)
	}

	if err := p.set(ctx, client, scope, name, value); err != nil {
		return p.handleError(err, "create", name)
	}
	return nil
}

// UpdateSecret writes a new version with SetSecret. Key Vault has no
// personal values, so the shared value is replaced.
func (p *AzureKeyVaultProvider) UpdateSecret(ctx context.Context, b provider.Binding, name, value string) error {
	if err := provider.ValidateNewSecret(name, value); err != nil {
		return err
	}
	scope, err := azureScopeFor(b, "")
	if err != nil {
		return err
	}
	client, err := p.client(scope.vaultURL)
	if err != nil {
		return err
	}

	found, err := p.exists(ctx, client, scope.vaultName(name))
	if err != nil {
		return p.handleError(err, "update", name)
	}
	if !found {
		return dserrors.SecretNotFound(azureProviderName, name)
	}

	if err := p.set(ctx, client, scope, name, value); err != nil {
		return p.handleError(err, "update", name)
	}
	return nil
}

func (p *AzureKeyVaultProvider) DeleteSecret(ctx context.Context, b provider.Binding, name string) error {
	if err := provider.ValidateSecretName(name); err != nil {
		return err
	}
	scope, err := azureScopeFor(b, "")
	if err != nil {
		return err
	}
	client, err := p.client(scope.vaultURL)
	if err != nil {
		return err
	}

	if _, err := client.DeleteSecret(ctx, scope.vaultName(name), nil); err != nil {
		return p.handleError(err, "delete", name)
	}
	return nil
}

func (p *AzureKeyVaultProvider) handleError(err error, op, name string) error {
	var respErr *azcore.ResponseError
	if !errors.As(err, &respErr) {
		return dserrors.Backend(azureProviderName, op, 0, "Key Vault request failed", err)
	}

	switch respErr.StatusCode {
	case http.StatusNotFound:
		if name != "" {
			return dserrors.SecretNotFound(azureProviderName, name)
		}
	case http.StatusUnauthorized, http.StatusForbidden:
		return &dserrors.Error{
			Kind:     dserrors.KindAuthentication,
			Op:       op,
			Provider: azureProviderName,
			Status:   respErr.StatusCode,
			Detail:   "access to the vault was denied (" + respErr.ErrorCode + "); check 'az login' and the vault's access policy",
			Err:      err,
		}
	case http.StatusConflict:
		return dserrors.Backend(azureProviderName, op, respErr.StatusCode,
			fmt.Sprintf("%s is deleted but recoverable; recover or purge it first", name), err)
	}
	return dserrors.Backend(azureProviderName, op, respErr.StatusCode, respErr.ErrorCode, err)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

var _ provider.Provider = (*AzureKeyVaultProvider)(nil)
