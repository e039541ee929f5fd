package providers

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/systmms/envlock/internal/config"
	dserrors "github.com/systmms/envlock/internal/errors"
	"github.com/systmms/envlock/pkg/provider"
)

const (
	gcpProviderName  = "gcp"
	gcpEnvLabel      = "envlock-env"
	gcpNameKey       = "envlock-name"
	gcpNameSeparator = "__"
)

// GCPSecretManagerAPI is the subset of Secret Manager the gcp provider uses.
// ListSecrets returns the fully drained listing.
type GCPSecretManagerAPI interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest) (*secretmanagerpb.AccessSecretVersionResponse, error)
	ListSecrets(ctx context.Context, req *secretmanagerpb.ListSecretsRequest) ([]*secretmanagerpb.Secret, error)
	CreateSecret(ctx context.Context, req *secretmanagerpb.CreateSecretRequest) (*secretmanagerpb.Secret, error)
	AddSecretVersion(ctx context.Context, req *secretmanagerpb.AddSecretVersionRequest) (*secretmanagerpb.SecretVersion, error)
	DeleteSecret(ctx context.Context, req *secretmanagerpb.DeleteSecretRequest) error
}

// gcpClient adapts the generated client to GCPSecretManagerAPI.
type gcpClient struct {
	c *secretmanager.Client
}

func (g gcpClient) AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest) (*secretmanagerpb.AccessSecretVersionResponse, error) {
	return g.c.AccessSecretVersion(ctx, req)
}

func (g gcpClient) ListSecrets(ctx context.Context, req *secretmanagerpb.ListSecretsRequest) ([]*secretmanagerpb.Secret, error) {
	var out []*secretmanagerpb.Secret
	it := g.c.ListSecrets(ctx, req)
	for {
		secret, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, secret)
	}
}

func (g gcpClient) CreateSecret(ctx context.Context, req *secretmanagerpb.CreateSecretRequest) (*secretmanagerpb.Secret, error) {
	return g.c.CreateSecret(ctx, req)
}

func (g gcpClient) AddSecretVersion(ctx context.Context, req *secretmanagerpb.AddSecretVersionRequest) (*secretmanagerpb.SecretVersion, error) {
	return g.c.AddSecretVersion(ctx, req)
}

func (g gcpClient) DeleteSecret(ctx context.Context, req *secretmanagerpb.DeleteSecretRequest) error {
	return g.c.DeleteSecret(ctx, req)
}

// GCPSecretManagerProvider stores each secret as ENV__NAME in a GCP project,
// labelled with its environment.
type GCPSecretManagerProvider struct {
	deps Deps

	mu     sync.Mutex
	client GCPSecretManagerAPI
}

// GCPOption configures the gcp provider.
type GCPOption func(*GCPSecretManagerProvider)

// WithGCPClient injects a Secret Manager client (for testing)
func WithGCPClient(client GCPSecretManagerAPI) GCPOption {
	return func(p *GCPSecretManagerProvider) {
		p.client = client
	}
}

// NewGCPSecretManagerProvider creates the gcp provider. The client is
// created on first use from Application Default Credentials, or from the
// service account key recorded as credentialsFile in provider settings.
func NewGCPSecretManagerProvider(deps Deps, opts ...GCPOption) *GCPSecretManagerProvider {
	p := &GCPSecretManagerProvider{deps: deps.withDefaults()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *GCPSecretManagerProvider) Name() string { return gcpProviderName }

func (p *GCPSecretManagerProvider) Description() string {
	return "GCP Secret Manager (Application Default Credentials)"
}

func (p *GCPSecretManagerProvider) settings() config.ProviderSettings {
	if p.deps.Store == nil {
		return nil
	}
	settings, err := p.deps.Store.ProviderSettings(gcpProviderName)
	if err != nil {
		p.deps.Logger.Debug("Could not read %s settings: %v", gcpProviderName, err)
		return nil
	}
	return settings
}

func (p *GCPSecretManagerProvider) getClient(ctx context.Context) (GCPSecretManagerAPI, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.client != nil {
		return p.client, nil
	}

	var clientOptions []option.ClientOption
	if keyPath := p.settings()["credentialsFile"]; keyPath != "" {
		if strings.HasPrefix(keyPath, "~/") {
			home, err := os.UserHomeDir()
			if err != nil {
				return nil, fmt.Errorf("failed to get home directory: %w", err)
			}
			keyPath = filepath.Join(home, keyPath[2:])
		}
		clientOptions = append(clientOptions, option.WithCredentialsFile(keyPath))
	}

	c, err := secretmanager.NewClient(ctx, clientOptions...)
	if err != nil {
		return nil, dserrors.Authentication(gcpProviderName,
			"no usable Google credentials; run 'gcloud auth application-default login'", err)
	}
	p.client = gcpClient{c: c}
	return p.client, nil
}

// defaultProject is the project recorded at login, else the usual
// environment variables.
func (p *GCPSecretManagerProvider) defaultProject() string {
	if project := p.settings()["projectId"]; project != "" {
		return project
	}
	for _, key := range []string{"GOOGLE_CLOUD_PROJECT", "GCLOUD_PROJECT", "GCP_PROJECT"} {
		if project := os.Getenv(key); project != "" {
			return project
		}
	}
	return ""
}

// Login validates credentials by listing at most one secret in the project.
func (p *GCPSecretManagerProvider) Login(ctx context.Context, _ provider.LoginOptions) error {
	project := p.defaultProject()
	if project == "" {
		var err error
		project, err = askInput(ctx, p.deps, gcpProviderName, "GCP project id", "")
		if err != nil {
			return err
		}
	}

	client, err := p.getClient(ctx)
	if err != nil {
		return err
	}
	if _, err := client.ListSecrets(ctx, &secretmanagerpb.ListSecretsRequest{
		Parent:   "projects/" + project,
		PageSize: 1,
	}); err != nil {
		return dserrors.Authentication(gcpProviderName,
			fmt.Sprintf("cannot list secrets in project %s", project), err)
	}

	p.deps.Logger.Info("Google credentials can read Secret Manager in %s", project)
	if p.deps.Store != nil {
		return p.deps.Store.MarkAuthenticated(gcpProviderName, true, config.ProviderSettings{"projectId": project})
	}
	return nil
}

func (p *GCPSecretManagerProvider) Configure(ctx context.Context, path string) (provider.Binding, error) {
	if err := confirmOverwrite(ctx, p.deps, gcpProviderName, path); err != nil {
		return provider.Binding{}, err
	}

	project, err := askInput(ctx, p.deps, gcpProviderName, "GCP project id", p.defaultProject())
	if err != nil {
		return provider.Binding{}, err
	}

	client, err := p.getClient(ctx)
	if err != nil {
		return provider.Binding{}, err
	}
	all, err := client.ListSecrets(ctx, &secretmanagerpb.ListSecretsRequest{
		Parent: "projects/" + project,
		Filter: "labels." + gcpEnvLabel + ":*",
	})
	if err != nil {
		return provider.Binding{}, p.handleError(err, "configure", "")
	}

	discovered := make([]string, 0, len(all))
	for _, s := range all {
		discovered = append(discovered, s.GetLabels()[gcpEnvLabel])
	}

	environment, err := chooseEnvironment(ctx, p.deps, gcpProviderName, discovered)
	if err != nil {
		return provider.Binding{}, err
	}

	return provider.NewBinding(path, gcpProviderName, map[string]string{
		"projectId":   project,
		"environment": strings.ToLower(environment),
	}), nil
}

type gcpScope struct {
	project     string
	environment string
}

func gcpScopeFor(b provider.Binding, override string) (gcpScope, error) {
	fields, err := b.Require("projectId", "environment")
	if err != nil {
		return gcpScope{}, err
	}
	env := strings.ToLower(provider.ScopeFor(b, "environment", override))
	if strings.Contains(env, gcpNameSeparator) {
		return gcpScope{}, &dserrors.Error{
			Kind:     dserrors.KindProviderNotConfigured,
			Provider: gcpProviderName,
			Detail:   fmt.Sprintf("environment %q must not contain %q; pick another --env or rerun 'envlock configure gcp'", env, gcpNameSeparator),
		}
	}
	return gcpScope{project: fields[0], environment: env}, nil
}

func (s gcpScope) parent() string {
	return "projects/" + s.project
}

func (s gcpScope) secretID(name string) string {
	return s.environment + gcpNameSeparator + name
}

func (s gcpScope) resource(name string) string {
	return s.parent() + "/secrets/" + s.secretID(name)
}

func (p *GCPSecretManagerProvider) Run(ctx context.Context, b provider.Binding, opts provider.RunOptions) ([]provider.Secret, error) {
	scope, err := gcpScopeFor(b, opts.Env)
	if err != nil {
		return nil, err
	}
	client, err := p.getClient(ctx)
	if err != nil {
		return nil, err
	}

	listed, err := client.ListSecrets(ctx, &secretmanagerpb.ListSecretsRequest{
		Parent: scope.parent(),
		Filter: fmt.Sprintf("labels.%s=%s", gcpEnvLabel, scope.environment),
	})
	if err != nil {
		return nil, p.handleError(err, "run", "")
	}

	secrets := make([]provider.Secret, 0, len(listed))
	for _, s := range listed {
		name := s.GetAnnotations()[gcpNameKey]
		if name == "" {
			name = strings.TrimPrefix(s.GetName()[strings.LastIndex(s.GetName(), "/")+1:], scope.environment+gcpNameSeparator)
		}
		if provider.ValidateSecretName(name) != nil {
			p.deps.Logger.Debug("Skipping %s: not an envlock secret", s.GetName())
			continue
		}

		resp, err := client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{
			Name: s.GetName() + "/versions/latest",
		})
		if err != nil {
			if status.Code(err) == codes.NotFound || status.Code(err) == codes.FailedPrecondition {
				p.deps.Logger.Warn("Secret %s has no enabled version, skipping", name)
				continue
			}
			return nil, p.handleError(err, "run", name)
		}

		secrets = append(secrets, provider.Secret{
			ID:            s.GetName(),
			Name:          name,
			Value:         string(resp.GetPayload().GetData()),
			EnvironmentID: scope.environment,
		})
	}

	p.deps.Logger.Debug("Fetched %d secrets from %s environment %s", len(secrets), gcpProviderName, scope.environment)
	return secrets, nil
}

func (p *GCPSecretManagerProvider) ListSecrets(ctx context.Context, b provider.Binding, mode provider.ListMode) ([]provider.Secret, error) {
	secrets, err := p.Run(ctx, b, provider.RunOptions{})
	if err != nil {
		return nil, err
	}
	return hiddenList(secrets, mode, false), nil
}

// CreateSecret creates the secret and its first version. A failed first
// version removes the empty secret again.
func (p *GCPSecretManagerProvider) CreateSecret(ctx context.Context, b provider.Binding, name, value string) error {
	if err := provider.ValidateNewSecret(name, value); err != nil {
		return err
	}
	scope, err := gcpScopeFor(b, "")
	if err != nil {
		return err
	}
	client, err := p.getClient(ctx)
	if err != nil {
		return err
	}

	created, err := client.CreateSecret(ctx, &secretmanagerpb.CreateSecretRequest{
		Parent:   scope.parent(),
		SecretId: scope.secretID(name),
		Secret: &secretmanagerpb.Secret{
			Replication: &secretmanagerpb.Replication{
				Replication: &secretmanagerpb.Replication_Automatic_{
					Automatic: &secretmanagerpb.Replication_Automatic{},
				},
			},
			Labels:      map[string]string{gcpEnvLabel: scope.environment},
			Annotations: map[string]string{gcpNameKey: name},
		},
	})
	if err != nil {
		return p.handleError(err, "create", name)
	}

	if err := p.addVersion(ctx, client, created.GetName(), value); err != nil {
		if delErr := client.DeleteSecret(ctx, &secretmanagerpb.DeleteSecretRequest{Name: created.GetName()}); delErr != nil {
			p.deps.Logger.Warn("Could not remove %s after a failed create: %v", created.GetName(), delErr)
		}
		return p.handleError(err, "create", name)
	}
	return nil
}

func (p *GCPSecretManagerProvider) addVersion(ctx context.Context, client GCPSecretManagerAPI, resource, value string) error {
	_, err := client.AddSecretVersion(ctx, &secretmanagerpb.AddSecretVersionRequest{
		Parent:  resource,
		Payload: &secretmanagerpb.SecretPayload{Data: []byte(value)},
	})
	return err
}

// UpdateSecret adds a new version. There is no personal value in Secret
// Manager, so the shared value is replaced.
func (p *GCPSecretManagerProvider) UpdateSecret(ctx context.Context, b provider.Binding, name, value string) error {
	if err := provider.ValidateNewSecret(name, value); err != nil {
		return err
	}
	scope, err := gcpScopeFor(b, "")
	if err != nil {
		return err
	}
	client, err := p.getClient(ctx)
	if err != nil {
		return err
	}

	if err := p.addVersion(ctx, client, scope.resource(name), value); err != nil {
		return p.handleError(err, "update", name)
	}
	return nil
}

func (p *GCPSecretManagerProvider) DeleteSecret(ctx context.Context, b provider.Binding, name string) error {
	if err := provider.ValidateSecretName(name); err != nil {
		return err
	}
	scope, err := gcpScopeFor(b, "")
	if err != nil {
		return err
	}
	client, err := p.getClient(ctx)
	if err != nil {
		return err
	}

	if err := client.DeleteSecret(ctx, &secretmanagerpb.DeleteSecretRequest{Name: scope.resource(name)}); err != nil {
		return p.handleError(err, "delete", name)
	}
	return nil
}

func (p *GCPSecretManagerProvider) handleError(err error, op, name string) error {
	st, ok := status.FromError(err)
	if !ok {
		return dserrors.Backend(gcpProviderName, op, 0, "Secret Manager request failed", err)
	}

	switch st.Code() {
	case codes.NotFound:
		if name != "" {
			return dserrors.SecretNotFound(gcpProviderName, name)
		}
	case codes.AlreadyExists:
		return dserrors.SecretAlreadyExists(gcpProviderName, name)
	case codes.PermissionDenied, codes.Unauthenticated:
		return &dserrors.Error{
			Kind:     dserrors.KindAuthentication,
			Op:       op,
			Provider: gcpProviderName,
			Detail:   st.Message(),
			Err:      err,
		}
	}
	return dserrors.Backend(gcpProviderName, op, 0, fmt.Sprintf("%s: %s", st.Code(), st.Message()), err)
}

var _ provider.Provider = (*GCPSecretManagerProvider)(nil)
