package providers

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/aws/smithy-go"

	"github.com/systmms/envlock/internal/config"
	dserrors "github.com/systmms/envlock/internal/errors"
	"github.com/systmms/envlock/pkg/provider"
)

const (
	awsProviderName  = "aws"
	awsDefaultRegion = "us-east-1"
	awsDefaultPrefix = "envlock"
)

// SecretsManagerClientAPI defines the interface for AWS Secrets Manager operations
// This allows for mocking in tests
type SecretsManagerClientAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
	ListSecrets(ctx context.Context, params *secretsmanager.ListSecretsInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.ListSecretsOutput, error)
	CreateSecret(ctx context.Context, params *secretsmanager.CreateSecretInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.CreateSecretOutput, error)
	PutSecretValue(ctx context.Context, params *secretsmanager.PutSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.PutSecretValueOutput, error)
	DeleteSecret(ctx context.Context, params *secretsmanager.DeleteSecretInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.DeleteSecretOutput, error)
	DescribeSecret(ctx context.Context, params *secretsmanager.DescribeSecretInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.DescribeSecretOutput, error)
}

// STSClientAPI is the caller-identity subset of STS used by Login.
type STSClientAPI interface {
	GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error)
}

// AWSSecretsManagerProvider stores secrets as prefix/environment/NAME in AWS
// Secrets Manager using the ambient AWS credential chain.
type AWSSecretsManagerProvider struct {
	deps     Deps
	endpoint string

	mu        sync.Mutex
	smClients map[string]SecretsManagerClientAPI
	stsClient STSClientAPI
	// injected clients bypass per-region construction
	injectedSM SecretsManagerClientAPI
}

// AWSOption is a functional option for configuring the AWS provider.
type AWSOption func(*AWSSecretsManagerProvider)

// WithSecretsManagerClient sets a custom Secrets Manager client (for testing)
func WithSecretsManagerClient(client SecretsManagerClientAPI) AWSOption {
	return func(p *AWSSecretsManagerProvider) {
		p.injectedSM = client
	}
}

// WithSTSClient sets a custom STS client (for testing)
func WithSTSClient(client STSClientAPI) AWSOption {
	return func(p *AWSSecretsManagerProvider) {
		p.stsClient = client
	}
}

// NewAWSSecretsManagerProvider creates the aws provider. Clients are built
// lazily per region on first use.
func NewAWSSecretsManagerProvider(deps Deps, opts ...AWSOption) *AWSSecretsManagerProvider {
	p := &AWSSecretsManagerProvider{
		deps:      deps.withDefaults(),
		endpoint:  deps.Settings.AWSEndpoint,
		smClients: map[string]SecretsManagerClientAPI{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *AWSSecretsManagerProvider) Name() string { return awsProviderName }

func (p *AWSSecretsManagerProvider) Description() string {
	return "AWS Secrets Manager (ambient AWS credentials)"
}

func (p *AWSSecretsManagerProvider) loadConfig(ctx context.Context, region string) (aws.Config, error) {
	var configOpts []func(*awsconfig.LoadOptions) error
	configOpts = append(configOpts, awsconfig.WithRegion(region))

	// Static credentials are only honoured alongside a custom endpoint (LocalStack)
	if p.endpoint != "" {
		if ak, sk := os.Getenv("AWS_ACCESS_KEY_ID"), os.Getenv("AWS_SECRET_ACCESS_KEY"); ak != "" && sk != "" {
			configOpts = append(configOpts, awsconfig.WithCredentialsProvider(
				credentials.NewStaticCredentialsProvider(ak, sk, os.Getenv("AWS_SESSION_TOKEN")),
			))
		}
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, configOpts...)
	if err != nil {
		return aws.Config{}, dserrors.Authentication(awsProviderName, "failed to load AWS config", err)
	}
	return cfg, nil
}

func (p *AWSSecretsManagerProvider) client(ctx context.Context, region string) (SecretsManagerClientAPI, error) {
	if p.injectedSM != nil {
		return p.injectedSM, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if c, ok := p.smClients[region]; ok {
		return c, nil
	}

	cfg, err := p.loadConfig(ctx, region)
	if err != nil {
		return nil, err
	}

	var clientOpts []func(*secretsmanager.Options)
	if p.endpoint != "" {
		endpoint := p.endpoint
		clientOpts = append(clientOpts, func(o *secretsmanager.Options) {
			o.BaseEndpoint = &endpoint
		})
	}
	c := secretsmanager.NewFromConfig(cfg, clientOpts...)
	p.smClients[region] = c
	return c, nil
}

func (p *AWSSecretsManagerProvider) identityClient(ctx context.Context, region string) (STSClientAPI, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stsClient != nil {
		return p.stsClient, nil
	}

	cfg, err := p.loadConfig(ctx, region)
	if err != nil {
		return nil, err
	}
	var clientOpts []func(*sts.Options)
	if p.endpoint != "" {
		endpoint := p.endpoint
		clientOpts = append(clientOpts, func(o *sts.Options) {
			o.BaseEndpoint = &endpoint
		})
	}
	p.stsClient = sts.NewFromConfig(cfg, clientOpts...)
	return p.stsClient, nil
}

// defaultRegion prefers the region recorded at login, then the environment.
func (p *AWSSecretsManagerProvider) defaultRegion() string {
	if p.deps.Store != nil {
		if settings, err := p.deps.Store.ProviderSettings(awsProviderName); err == nil && settings["region"] != "" {
			return settings["region"]
		}
	}
	for _, key := range []string{"AWS_REGION", "AWS_DEFAULT_REGION"} {
		if r := os.Getenv(key); r != "" {
			return r
		}
	}
	return awsDefaultRegion
}

// Login verifies the ambient credentials with STS and records who they
// belong to.
func (p *AWSSecretsManagerProvider) Login(ctx context.Context, _ provider.LoginOptions) error {
	region := p.defaultRegion()
	client, err := p.identityClient(ctx, region)
	if err != nil {
		return err
	}

	out, err := client.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return dserrors.Authentication(awsProviderName,
			"no usable AWS credentials; configure them with 'aws configure' or AWS_PROFILE", err)
	}

	account, arn := aws.ToString(out.Account), aws.ToString(out.Arn)
	p.deps.Logger.Info("Using AWS account %s as %s", account, arn)

	if p.deps.Store != nil {
		return p.deps.Store.MarkAuthenticated(awsProviderName, true, config.ProviderSettings{
			"account": account,
			"arn":     arn,
			"region":  region,
		})
	}
	return nil
}

// Configure asks for region and prefix, then picks an environment among the
// ones already present under the prefix.
func (p *AWSSecretsManagerProvider) Configure(ctx context.Context, path string) (provider.Binding, error) {
	if err := confirmOverwrite(ctx, p.deps, awsProviderName, path); err != nil {
		return provider.Binding{}, err
	}

	region, err := askInput(ctx, p.deps, awsProviderName, "AWS region", p.defaultRegion())
	if err != nil {
		return provider.Binding{}, err
	}
	prefix, err := askInput(ctx, p.deps, awsProviderName, "Secret name prefix", awsDefaultPrefix)
	if err != nil {
		return provider.Binding{}, err
	}
	prefix = strings.Trim(prefix, "/")

	environments, err := p.environments(ctx, region, prefix)
	if err != nil {
		return provider.Binding{}, err
	}

	environment, err := chooseEnvironment(ctx, p.deps, awsProviderName, environments)
	if err != nil {
		return provider.Binding{}, err
	}

	return provider.NewBinding(path, awsProviderName, map[string]string{
		"region":      region,
		"prefix":      prefix,
		"environment": environment,
	}), nil
}

// environments lists the environment segment of every secret under prefix.
func (p *AWSSecretsManagerProvider) environments(ctx context.Context, region, prefix string) ([]string, error) {
	entries, err := p.list(ctx, region, prefix+"/")
	if err != nil {
		return nil, err
	}
	var envs []string
	for _, entry := range entries {
		rest := strings.TrimPrefix(aws.ToString(entry.Name), prefix+"/")
		if env, _, ok := strings.Cut(rest, "/"); ok {
			envs = append(envs, env)
		}
	}
	return envs, nil
}

type awsScope struct {
	region      string
	prefix      string
	environment string
}

func (s awsScope) base() string {
	return s.prefix + "/" + s.environment + "/"
}

func (s awsScope) secretID(name string) string {
	return s.base() + name
}

func awsScopeFor(b provider.Binding, override string) (awsScope, error) {
	fields, err := b.Require("prefix", "environment")
	if err != nil {
		return awsScope{}, err
	}
	region := b.Field("region")
	if region == "" {
		region = awsDefaultRegion
	}
	return awsScope{
		region:      region,
		prefix:      strings.Trim(fields[0], "/"),
		environment: provider.ScopeFor(b, "environment", override),
	}, nil
}

// list pages through ListSecrets with a name filter. The filter is a prefix
// match so callers still check the full name.
func (p *AWSSecretsManagerProvider) list(ctx context.Context, region, namePrefix string) ([]types.SecretListEntry, error) {
	client, err := p.client(ctx, region)
	if err != nil {
		return nil, err
	}

	input := &secretsmanager.ListSecretsInput{
		Filters: []types.Filter{{
			Key:    types.FilterNameStringTypeName,
			Values: []string{namePrefix},
		}},
		MaxResults: aws.Int32(100),
	}

	var entries []types.SecretListEntry
	for {
		out, err := client.ListSecrets(ctx, input)
		if err != nil {
			return nil, p.handleError(err, "list", namePrefix)
		}
		entries = append(entries, out.SecretList...)
		if out.NextToken == nil || aws.ToString(out.NextToken) == "" {
			return entries, nil
		}
		input.NextToken = out.NextToken
	}
}

func (p *AWSSecretsManagerProvider) Run(ctx context.Context, b provider.Binding, opts provider.RunOptions) ([]provider.Secret, error) {
	scope, err := awsScopeFor(b, opts.Env)
	if err != nil {
		return nil, err
	}
	client, err := p.client(ctx, scope.region)
	if err != nil {
		return nil, err
	}

	entries, err := p.list(ctx, scope.region, scope.base())
	if err != nil {
		return nil, err
	}

	secrets := make([]provider.Secret, 0, len(entries))
	for _, entry := range entries {
		fullName := aws.ToString(entry.Name)
		name := strings.TrimPrefix(fullName, scope.base())
		if name == fullName || provider.ValidateSecretName(name) != nil {
			p.deps.Logger.Debug("Skipping %s: not an envlock secret in %s", fullName, scope.base())
			continue
		}

		out, err := client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{SecretId: entry.Name})
		if err != nil {
			return nil, p.handleError(err, "run", name)
		}

		value := aws.ToString(out.SecretString)
		if out.SecretString == nil && out.SecretBinary != nil {
			value = string(out.SecretBinary)
		}

		id := aws.ToString(entry.ARN)
		if id == "" {
			id = fullName
		}
		secrets = append(secrets, provider.Secret{
			ID:            id,
			Name:          name,
			Value:         value,
			EnvironmentID: scope.environment,
		})
	}

	p.deps.Logger.Debug("Fetched %d secrets from %s under %s", len(secrets), awsProviderName, scope.base())
	return secrets, nil
}

func (p *AWSSecretsManagerProvider) ListSecrets(ctx context.Context, b provider.Binding, mode provider.ListMode) ([]provider.Secret, error) {
	secrets, err := p.Run(ctx, b, provider.RunOptions{})
	if err != nil {
		return nil, err
	}
	return hiddenList(secrets, mode, false), nil
}

func (p *AWSSecretsManagerProvider) CreateSecret(ctx context.Context, b provider.Binding, name, value string) error {
	if err := provider.ValidateNewSecret(name, value); err != nil {
		return err
	}
	scope, err := awsScopeFor(b, "")
	if err != nil {
		return err
	}
	client, err := p.client(ctx, scope.region)
	if err != nil {
		return err
	}

	_, err = client.CreateSecret(ctx, &secretsmanager.CreateSecretInput{
		Name:         aws.String(scope.secretID(name)),
		SecretString: aws.String(value),
		Tags: []types.Tag{
			{Key: aws.String("envlock-env"), Value: aws.String(scope.environment)},
			{Key: aws.String("envlock-name"), Value: aws.String(name)},
		},
	})
	if err != nil {
		return p.handleError(err, "create", name)
	}
	return nil
}

// UpdateSecret writes a new version. Secrets Manager has no personal values,
// so the shared value is always replaced.
func (p *AWSSecretsManagerProvider) UpdateSecret(ctx context.Context, b provider.Binding, name, value string) error {
	if err := provider.ValidateNewSecret(name, value); err != nil {
		return err
	}
	scope, err := awsScopeFor(b, "")
	if err != nil {
		return err
	}
	client, err := p.client(ctx, scope.region)
	if err != nil {
		return err
	}

	_, err = client.PutSecretValue(ctx, &secretsmanager.PutSecretValueInput{
		SecretId:     aws.String(scope.secretID(name)),
		SecretString: aws.String(value),
	})
	if err != nil {
		return p.handleError(err, "update", name)
	}
	return nil
}

func (p *AWSSecretsManagerProvider) DeleteSecret(ctx context.Context, b provider.Binding, name string) error {
	if err := provider.ValidateSecretName(name); err != nil {
		return err
	}
	scope, err := awsScopeFor(b, "")
	if err != nil {
		return err
	}
	client, err := p.client(ctx, scope.region)
	if err != nil {
		return err
	}

	// A forced delete of a missing id succeeds, so existence is checked first.
	desc, err := client.DescribeSecret(ctx, &secretsmanager.DescribeSecretInput{
		SecretId: aws.String(scope.secretID(name)),
	})
	if err != nil {
		return p.handleError(err, "delete", name)
	}
	if desc.DeletedDate != nil {
		return dserrors.SecretNotFound(awsProviderName, name)
	}

	_, err = client.DeleteSecret(ctx, &secretsmanager.DeleteSecretInput{
		SecretId:                   aws.String(scope.secretID(name)),
		ForceDeleteWithoutRecovery: aws.Bool(true),
	})
	if err != nil {
		return p.handleError(err, "delete", name)
	}
	return nil
}

// handleError converts AWS errors to provider errors
func (p *AWSSecretsManagerProvider) handleError(err error, op, name string) error {
	var notFound *types.ResourceNotFoundException
	if errors.As(err, &notFound) {
		return dserrors.SecretNotFound(awsProviderName, name)
	}
	var exists *types.ResourceExistsException
	if errors.As(err, &exists) {
		return dserrors.SecretAlreadyExists(awsProviderName, name)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "AccessDeniedException", "UnrecognizedClientException", "ExpiredTokenException",
			"InvalidSignatureException", "InvalidClientTokenId":
			return &dserrors.Error{
				Kind:     dserrors.KindAuthentication,
				Op:       op,
				Provider: awsProviderName,
				Detail:   apiErr.ErrorMessage(),
				Err:      err,
			}
		}
		return dserrors.Backend(awsProviderName, op, 0, fmt.Sprintf("%s: %s", apiErr.ErrorCode(), apiErr.ErrorMessage()), err)
	}

	return dserrors.Backend(awsProviderName, op, 0, "AWS Secrets Manager request failed", err)
}

var _ provider.Provider = (*AWSSecretsManagerProvider)(nil)
