package fakes

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/security/keyvault/azsecrets"
)

const fakeVaultURL = "https://test-vault.vault.azure.net"

// FakeAzureKeyVaultClient is an in-memory Key Vault. Names are matched
// case-insensitively, like the real service.
type FakeAzureKeyVaultClient struct {
	mu sync.Mutex

	// Secrets maps lowercased secret names to their data
	Secrets map[string]*AzureSecretData
	// Errors maps secret names to errors to return
	Errors map[string]error
	// ListErr, when set, fails ListSecretProperties.
	ListErr error

	calls atomic.Int64
}

// AzureSecretData holds the data for a mock Azure Key Vault secret
type AzureSecretData struct {
	Name     string
	Versions []string
	Tags     map[string]*string
	Enabled  bool
}

// NewFakeAzureKeyVaultClient creates a new mock Azure Key Vault client
func NewFakeAzureKeyVaultClient() *FakeAzureKeyVaultClient {
	return &FakeAzureKeyVaultClient{
		Secrets: make(map[string]*AzureSecretData),
		Errors:  make(map[string]error),
	}
}

// Calls reports how many API calls the fake has served.
func (f *FakeAzureKeyVaultClient) Calls() int {
	return int(f.calls.Load())
}

// AddSecretWithTags adds an enabled secret with one version.
func (f *FakeAzureKeyVaultClient) AddSecretWithTags(name, value string, tags map[string]*string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Secrets[strings.ToLower(name)] = &AzureSecretData{
		Name:     name,
		Versions: []string{value},
		Tags:     tags,
		Enabled:  true,
	}
}

// AddError configures the mock to return an error for a specific secret
func (f *FakeAzureKeyVaultClient) AddError(name string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Errors[strings.ToLower(name)] = err
}

func secretID(name string, version int) *azsecrets.ID {
	return (*azsecrets.ID)(to.Ptr(fmt.Sprintf("%s/secrets/%s/v%d", fakeVaultURL, name, version)))
}

// GetSecret mocks the GetSecret operation
func (f *FakeAzureKeyVaultClient) GetSecret(ctx context.Context, name string, version string, options *azsecrets.GetSecretOptions) (azsecrets.GetSecretResponse, error) {
	f.calls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()

	key := strings.ToLower(name)
	if err, exists := f.Errors[key]; exists {
		return azsecrets.GetSecretResponse{}, err
	}
	data, exists := f.Secrets[key]
	if !exists {
		return azsecrets.GetSecretResponse{}, AzureNotFoundError(name)
	}

	index := len(data.Versions)
	if version != "" {
		if _, err := fmt.Sscanf(version, "v%d", &index); err != nil || index < 1 || index > len(data.Versions) {
			return azsecrets.GetSecretResponse{}, AzureNotFoundError(name)
		}
	}

	return azsecrets.GetSecretResponse{
		Secret: azsecrets.Secret{
			ID:         secretID(data.Name, index),
			Value:      to.Ptr(data.Versions[index-1]),
			Tags:       data.Tags,
			Attributes: &azsecrets.SecretAttributes{Enabled: to.Ptr(data.Enabled)},
		},
	}, nil
}

// SetSecret creates the secret or adds a version.
func (f *FakeAzureKeyVaultClient) SetSecret(ctx context.Context, name string, parameters azsecrets.SetSecretParameters, options *azsecrets.SetSecretOptions) (azsecrets.SetSecretResponse, error) {
	f.calls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()

	key := strings.ToLower(name)
	if err, exists := f.Errors[key]; exists {
		return azsecrets.SetSecretResponse{}, err
	}
	for _, r := range name {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '-') {
			return azsecrets.SetSecretResponse{}, &azcore.ResponseError{StatusCode: http.StatusBadRequest, ErrorCode: "BadParameter"}
		}
	}

	value := ""
	if parameters.Value != nil {
		value = *parameters.Value
	}

	data, exists := f.Secrets[key]
	if !exists {
		data = &AzureSecretData{Name: name, Enabled: true}
		f.Secrets[key] = data
	}
	data.Versions = append(data.Versions, value)
	data.Tags = parameters.Tags

	return azsecrets.SetSecretResponse{
		Secret: azsecrets.Secret{
			ID:   secretID(data.Name, len(data.Versions)),
			Tags: data.Tags,
		},
	}, nil
}

// DeleteSecret mocks the DeleteSecret operation
func (f *FakeAzureKeyVaultClient) DeleteSecret(ctx context.Context, name string, options *azsecrets.DeleteSecretOptions) (azsecrets.DeleteSecretResponse, error) {
	f.calls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()

	key := strings.ToLower(name)
	if err, exists := f.Errors[key]; exists {
		return azsecrets.DeleteSecretResponse{}, err
	}
	if _, exists := f.Secrets[key]; !exists {
		return azsecrets.DeleteSecretResponse{}, AzureNotFoundError(name)
	}
	delete(f.Secrets, key)
	return azsecrets.DeleteSecretResponse{}, nil
}

// ListSecretProperties returns every secret, sorted by name.
func (f *FakeAzureKeyVaultClient) ListSecretProperties(ctx context.Context) ([]*azsecrets.SecretProperties, error) {
	f.calls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.ListErr != nil {
		return nil, f.ListErr
	}

	keys := make([]string, 0, len(f.Secrets))
	for key := range f.Secrets {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	out := make([]*azsecrets.SecretProperties, 0, len(keys))
	for _, key := range keys {
		data := f.Secrets[key]
		out = append(out, &azsecrets.SecretProperties{
			ID:         (*azsecrets.ID)(to.Ptr(fmt.Sprintf("%s/secrets/%s", fakeVaultURL, data.Name))),
			Tags:       data.Tags,
			Attributes: &azsecrets.SecretAttributes{Enabled: to.Ptr(data.Enabled)},
		})
	}
	return out, nil
}

// AzureNotFoundError creates a mock Azure not found error
func AzureNotFoundError(secretName string) error {
	return &azcore.ResponseError{
		StatusCode: http.StatusNotFound,
		ErrorCode:  "SecretNotFound",
	}
}

// AzureForbiddenError creates a mock Azure forbidden error
func AzureForbiddenError() error {
	return &azcore.ResponseError{
		StatusCode: http.StatusForbidden,
		ErrorCode:  "Forbidden",
	}
}

// AzureConflictError is what Key Vault returns for a name held by a
// soft-deleted secret.
func AzureConflictError() error {
	return &azcore.ResponseError{
		StatusCode: http.StatusConflict,
		ErrorCode:  "Conflict",
	}
}
