package providers

import (
	"context"
	"strings"

	"github.com/systmms/envlock/internal/auth"
	"github.com/systmms/envlock/internal/config"
	"github.com/systmms/envlock/internal/credstore"
	dserrors "github.com/systmms/envlock/internal/errors"
	"github.com/systmms/envlock/internal/prompt"
	"github.com/systmms/envlock/pkg/provider"
)

const hubProviderName = "hub"

// HubProvider is the envlock hub backend. It logs in through OAuth PKCE and
// scopes secrets by workspace, project and environment.
type HubProvider struct {
	deps   Deps
	client *hubClient
	opener auth.Opener
}

// HubOption customizes a HubProvider.
type HubOption func(*HubProvider)

// WithHubOpener replaces the browser opener used during login.
func WithHubOpener(opener auth.Opener) HubOption {
	return func(p *HubProvider) {
		p.opener = opener
	}
}

// NewHubProvider creates the hub provider against deps.Settings.APIURL.
func NewHubProvider(deps Deps, opts ...HubOption) *HubProvider {
	deps = deps.withDefaults()
	apiURL := deps.Settings.APIURL
	if apiURL == "" {
		apiURL = config.DefaultAPIURL
	}

	p := &HubProvider{
		deps:   deps,
		client: newHubClient(apiURL, deps.HTTPClient, deps.Logger),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *HubProvider) Name() string { return hubProviderName }

func (p *HubProvider) Description() string {
	return "envlock hub (workspaces, projects and environments)"
}

// Login runs the browser PKCE flow, or reuses a stored token that the hub
// still accepts.
func (p *HubProvider) Login(ctx context.Context, opts provider.LoginOptions) error {
	s := p.deps.Settings
	authURL := s.AuthURL
	if authURL == "" {
		authURL = config.DefaultAuthURL
	}
	clientID := s.ClientID
	if clientID == "" {
		clientID = config.DefaultClientID
	}

	session := auth.NewSession(auth.Options{
		Provider:     hubProviderName,
		AuthURL:      authURL + "/oauth/authorize",
		TokenURL:     authURL + "/oauth/token",
		ClientID:     clientID,
		Scopes:       []string{"openid", "email", "secrets"},
		CallbackPort: s.CallbackPort,
		Timeout:      s.LoginTimeout,
		Credentials:  p.deps.Credentials,
		Identity:     p.identity,
		Opener:       p.opener,
		Logger:       p.deps.Logger,
		HTTPClient:   p.deps.HTTPClient,
	})

	creds, err := session.Login(ctx, opts.Force)
	if err != nil {
		return err
	}

	p.deps.Logger.Info("Logged in to %s as %s", hubProviderName, displayUser(creds))
	if p.deps.Store != nil {
		if err := p.deps.Store.MarkAuthenticated(hubProviderName, true, config.ProviderSettings{
			"email":  creds.Email,
			"userId": creds.UserID,
		}); err != nil {
			return err
		}
	}
	return nil
}

func (p *HubProvider) identity(ctx context.Context, token string) (auth.Identity, error) {
	user, err := p.client.Me(ctx, token)
	if err != nil {
		return auth.Identity{}, err
	}
	return auth.Identity{UserID: user.ID, Email: user.Email}, nil
}

// Credentials returns the stored token or an authentication error telling the
// user to log in.
func (p *HubProvider) Credentials(ctx context.Context) (provider.Credentials, error) {
	creds, ok, err := credstore.LoadCredentials(p.deps.Credentials, hubProviderName)
	if err != nil {
		return provider.Credentials{}, dserrors.Authentication(hubProviderName, "cannot read the stored credential", err)
	}
	if !ok || creds.AccessToken == "" {
		return provider.Credentials{}, &dserrors.Error{
			Kind:     dserrors.KindAuthentication,
			Provider: hubProviderName,
			Detail:   "not logged in; run 'envlock login hub'",
		}
	}
	return creds, nil
}

func (p *HubProvider) token(ctx context.Context) (string, error) {
	creds, err := p.Credentials(ctx)
	if err != nil {
		return "", err
	}
	return creds.AccessToken, nil
}

// Configure walks workspace, project and environment.
func (p *HubProvider) Configure(ctx context.Context, path string) (provider.Binding, error) {
	if err := confirmOverwrite(ctx, p.deps, hubProviderName, path); err != nil {
		return provider.Binding{}, err
	}

	token, err := p.token(ctx)
	if err != nil {
		return provider.Binding{}, err
	}

	workspaces, err := p.client.Workspaces(ctx, token)
	if err != nil {
		return provider.Binding{}, err
	}
	workspace, err := chooseOne(ctx, p.deps, hubProviderName, "workspace", entityOptions(workspaces))
	if err != nil {
		return provider.Binding{}, err
	}

	projects, err := p.client.Projects(ctx, token, workspace.Value)
	if err != nil {
		return provider.Binding{}, err
	}
	project, err := chooseOne(ctx, p.deps, hubProviderName, "project", entityOptions(projects))
	if err != nil {
		return provider.Binding{}, err
	}

	environments, err := p.client.Environments(ctx, token, project.Value)
	if err != nil {
		return provider.Binding{}, err
	}
	environment, err := chooseOne(ctx, p.deps, hubProviderName, "environment", entityOptions(environments))
	if err != nil {
		return provider.Binding{}, err
	}

	return provider.NewBinding(path, hubProviderName, map[string]string{
		"workspaceId":   workspace.Value,
		"projectId":     project.Value,
		"environmentId": environment.Value,
	}), nil
}

type hubScope struct {
	token         string
	projectID     string
	environmentID string
}

// scope resolves the binding plus an optional override. The override may be
// an environment id or a name/slug within the bound project.
func (p *HubProvider) scope(ctx context.Context, b provider.Binding, override string) (hubScope, error) {
	fields, err := b.Require("projectId", "environmentId")
	if err != nil {
		return hubScope{}, err
	}
	token, err := p.token(ctx)
	if err != nil {
		return hubScope{}, err
	}

	scope := hubScope{token: token, projectID: fields[0], environmentID: fields[1]}
	if override == "" || override == scope.environmentID {
		return scope, nil
	}

	environments, err := p.client.Environments(ctx, token, scope.projectID)
	if err != nil {
		return hubScope{}, err
	}
	names := make([]string, 0, len(environments))
	for _, env := range environments {
		if env.ID == override || strings.EqualFold(env.Name, override) || strings.EqualFold(env.Slug, override) {
			scope.environmentID = env.ID
			return scope, nil
		}
		names = append(names, env.Name)
	}

	return hubScope{}, &dserrors.Error{
		Kind:         dserrors.KindProviderNotConfigured,
		Op:           "run",
		Provider:     hubProviderName,
		Detail:       "environment " + override + " does not exist in the bound project",
		Alternatives: names,
	}
}

func (p *HubProvider) Run(ctx context.Context, b provider.Binding, opts provider.RunOptions) ([]provider.Secret, error) {
	scope, err := p.scope(ctx, b, opts.Env)
	if err != nil {
		return nil, err
	}
	secrets, err := p.client.Secrets(ctx, scope.token, scope.projectID, scope.environmentID)
	if err != nil {
		return nil, err
	}
	p.deps.Logger.Debug("Fetched %d secrets from %s environment %s", len(secrets), hubProviderName, scope.environmentID)
	return secrets, nil
}

func (p *HubProvider) ListSecrets(ctx context.Context, b provider.Binding, mode provider.ListMode) ([]provider.Secret, error) {
	secrets, err := p.Run(ctx, b, provider.RunOptions{})
	if err != nil {
		return nil, err
	}
	return hiddenList(secrets, mode, false), nil
}

func (p *HubProvider) CreateSecret(ctx context.Context, b provider.Binding, name, value string) error {
	if err := provider.ValidateNewSecret(name, value); err != nil {
		return err
	}
	scope, err := p.scope(ctx, b, "")
	if err != nil {
		return err
	}

	if _, found, err := p.find(ctx, scope, name); err != nil {
		return err
	} else if found {
		return dserrors.SecretAlreadyExists(hubProviderName, name)
	}

	return p.client.CreateSecret(ctx, scope.token, scope.projectID, scope.environmentID, name, value)
}

// UpdateSecret writes the personal value for a personal secret and the
// shared value otherwise.
func (p *HubProvider) UpdateSecret(ctx context.Context, b provider.Binding, name, value string) error {
	if err := provider.ValidateNewSecret(name, value); err != nil {
		return err
	}
	scope, err := p.scope(ctx, b, "")
	if err != nil {
		return err
	}

	secret, found, err := p.find(ctx, scope, name)
	if err != nil {
		return err
	}
	if !found {
		return dserrors.SecretNotFound(hubProviderName, name)
	}
	return p.client.UpdateSecret(ctx, scope.token, scope.projectID, scope.environmentID, secret, value)
}

func (p *HubProvider) DeleteSecret(ctx context.Context, b provider.Binding, name string) error {
	if err := provider.ValidateSecretName(name); err != nil {
		return err
	}
	scope, err := p.scope(ctx, b, "")
	if err != nil {
		return err
	}

	secret, found, err := p.find(ctx, scope, name)
	if err != nil {
		return err
	}
	if !found {
		return dserrors.SecretNotFound(hubProviderName, name)
	}
	return p.client.DeleteSecret(ctx, scope.token, scope.projectID, scope.environmentID, secret)
}

func (p *HubProvider) find(ctx context.Context, scope hubScope, name string) (provider.Secret, bool, error) {
	secrets, err := p.client.Secrets(ctx, scope.token, scope.projectID, scope.environmentID)
	if err != nil {
		return provider.Secret{}, false, err
	}
	for _, s := range secrets {
		if s.Name == name {
			return s, true, nil
		}
	}
	return provider.Secret{}, false, nil
}

func entityOptions(entities []hubEntity) []prompt.Option {
	options := make([]prompt.Option, 0, len(entities))
	for _, e := range entities {
		label := e.Name
		if label == "" {
			label = e.ID
		}
		options = append(options, prompt.Option{Label: label, Value: e.ID})
	}
	return options
}

func displayUser(creds provider.Credentials) string {
	if creds.Email != "" {
		return creds.Email
	}
	if creds.UserID != "" {
		return creds.UserID
	}
	return "unknown user"
}

var (
	_ provider.Provider     = (*HubProvider)(nil)
	_ provider.AuthProvider = (*HubProvider)(nil)
)
