package fakes

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

// FakeSecretsManagerClient is an in-memory Secrets Manager. Every method
// counts toward Calls.
type FakeSecretsManagerClient struct {
	mu sync.Mutex

	// Secrets maps secret names to their data
	Secrets map[string]*SecretData
	// Errors maps secret names to errors to return
	Errors map[string]error
	// PageSize caps each ListSecrets page so pagination is exercised.
	PageSize int
	// ListSecretsFunc allows custom behavior for ListSecrets
	ListSecretsFunc func(ctx context.Context, params *secretsmanager.ListSecretsInput) (*secretsmanager.ListSecretsOutput, error)

	calls atomic.Int64
}

// SecretData holds the data for a mock secret
type SecretData struct {
	SecretString *string
	SecretBinary []byte
	VersionId    *string
	Versions     int
	CreatedDate  *time.Time
	// DeletedDate marks a secret scheduled for deletion.
	DeletedDate *time.Time
	Tags        []types.Tag
}

// NewFakeSecretsManagerClient creates a new mock Secrets Manager client
func NewFakeSecretsManagerClient() *FakeSecretsManagerClient {
	return &FakeSecretsManagerClient{
		Secrets:  make(map[string]*SecretData),
		Errors:   make(map[string]error),
		PageSize: 2,
	}
}

// Calls reports how many API calls the fake has served.
func (f *FakeSecretsManagerClient) Calls() int {
	return int(f.calls.Load())
}

// AddSecretString adds a string secret to the mock client
func (f *FakeSecretsManagerClient) AddSecretString(name, value string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now()
	f.Secrets[name] = &SecretData{
		SecretString: aws.String(value),
		VersionId:    aws.String("v1"),
		Versions:     1,
		CreatedDate:  &now,
	}
}

// AddSecretBinary adds a binary secret to the mock client
func (f *FakeSecretsManagerClient) AddSecretBinary(name string, value []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now()
	f.Secrets[name] = &SecretData{
		SecretBinary: value,
		VersionId:    aws.String("v1"),
		Versions:     1,
		CreatedDate:  &now,
	}
}

// AddError configures the mock to return an error for a specific secret
func (f *FakeSecretsManagerClient) AddError(name string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Errors[name] = err
}

func notFound(name string) error {
	return &types.ResourceNotFoundException{
		Message: aws.String(fmt.Sprintf("Secrets Manager can't find the specified secret: %s", name)),
	}
}

func arn(name string) *string {
	return aws.String(fmt.Sprintf("arn:aws:secretsmanager:us-east-1:123456789012:secret:%s", name))
}

// GetSecretValue mocks the GetSecretValue operation
func (f *FakeSecretsManagerClient) GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	f.calls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()

	secretName := aws.ToString(params.SecretId)
	if err, exists := f.Errors[secretName]; exists {
		return nil, err
	}

	data, exists := f.Secrets[secretName]
	if !exists {
		return nil, notFound(secretName)
	}

	return &secretsmanager.GetSecretValueOutput{
		ARN:           arn(secretName),
		Name:          params.SecretId,
		SecretString:  data.SecretString,
		SecretBinary:  data.SecretBinary,
		VersionId:     data.VersionId,
		VersionStages: []string{"AWSCURRENT"},
		CreatedDate:   data.CreatedDate,
	}, nil
}

// ListSecrets honours the name filter as a prefix match and pages by
// PageSize, like the real service.
func (f *FakeSecretsManagerClient) ListSecrets(ctx context.Context, params *secretsmanager.ListSecretsInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.ListSecretsOutput, error) {
	f.calls.Add(1)
	if f.ListSecretsFunc != nil {
		return f.ListSecretsFunc(ctx, params)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	var prefixes []string
	for _, filter := range params.Filters {
		if filter.Key == types.FilterNameStringTypeName {
			prefixes = append(prefixes, filter.Values...)
		}
	}

	var names []string
	for name := range f.Secrets {
		if len(prefixes) == 0 {
			names = append(names, name)
			continue
		}
		for _, prefix := range prefixes {
			if strings.HasPrefix(name, prefix) {
				names = append(names, name)
				break
			}
		}
	}
	sort.Strings(names)

	start := 0
	if params.NextToken != nil {
		if _, err := fmt.Sscanf(aws.ToString(params.NextToken), "page-%d", &start); err != nil {
			return nil, &types.InvalidNextTokenException{Message: aws.String("bad token")}
		}
	}
	size := f.PageSize
	if size <= 0 {
		size = len(names) + 1
	}
	end := start + size
	if end > len(names) {
		end = len(names)
	}

	out := &secretsmanager.ListSecretsOutput{}
	for _, name := range names[start:end] {
		out.SecretList = append(out.SecretList, types.SecretListEntry{
			ARN:  arn(name),
			Name: aws.String(name),
			Tags: f.Secrets[name].Tags,
		})
	}
	if end < len(names) {
		out.NextToken = aws.String(fmt.Sprintf("page-%d", end))
	}
	return out, nil
}

// CreateSecret mocks the CreateSecret operation
func (f *FakeSecretsManagerClient) CreateSecret(ctx context.Context, params *secretsmanager.CreateSecretInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.CreateSecretOutput, error) {
	f.calls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()

	secretName := aws.ToString(params.Name)
	if err, exists := f.Errors[secretName]; exists {
		return nil, err
	}
	if _, exists := f.Secrets[secretName]; exists {
		return nil, &types.ResourceExistsException{
			Message: aws.String(fmt.Sprintf("The operation failed because the secret %s already exists.", secretName)),
		}
	}

	now := time.Now()
	f.Secrets[secretName] = &SecretData{
		SecretString: params.SecretString,
		SecretBinary: params.SecretBinary,
		VersionId:    aws.String("v1"),
		Versions:     1,
		CreatedDate:  &now,
		Tags:         params.Tags,
	}
	return &secretsmanager.CreateSecretOutput{ARN: arn(secretName), Name: params.Name, VersionId: aws.String("v1")}, nil
}

// PutSecretValue mocks the PutSecretValue operation
func (f *FakeSecretsManagerClient) PutSecretValue(ctx context.Context, params *secretsmanager.PutSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.PutSecretValueOutput, error) {
	f.calls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()

	secretName := aws.ToString(params.SecretId)
	if err, exists := f.Errors[secretName]; exists {
		return nil, err
	}
	data, exists := f.Secrets[secretName]
	if !exists {
		return nil, notFound(secretName)
	}

	data.SecretString = params.SecretString
	data.SecretBinary = params.SecretBinary
	data.Versions++
	data.VersionId = aws.String(fmt.Sprintf("v%d", data.Versions))

	return &secretsmanager.PutSecretValueOutput{ARN: arn(secretName), Name: params.SecretId, VersionId: data.VersionId}, nil
}

// DescribeSecret mocks the DescribeSecret operation
func (f *FakeSecretsManagerClient) DescribeSecret(ctx context.Context, params *secretsmanager.DescribeSecretInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.DescribeSecretOutput, error) {
	f.calls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()

	secretName := aws.ToString(params.SecretId)
	if err, exists := f.Errors[secretName]; exists {
		return nil, err
	}
	secret, exists := f.Secrets[secretName]
	if !exists {
		return nil, notFound(secretName)
	}
	return &secretsmanager.DescribeSecretOutput{
		ARN:         arn(secretName),
		Name:        params.SecretId,
		CreatedDate: secret.CreatedDate,
		DeletedDate: secret.DeletedDate,
	}, nil
}

// DeleteSecret mocks the DeleteSecret operation. Only forced deletion is
// modelled; anything else is rejected so callers cannot leave tombstones.
// Like the service, a forced delete of a missing id succeeds.
func (f *FakeSecretsManagerClient) DeleteSecret(ctx context.Context, params *secretsmanager.DeleteSecretInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.DeleteSecretOutput, error) {
	f.calls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()

	secretName := aws.ToString(params.SecretId)
	if err, exists := f.Errors[secretName]; exists {
		return nil, err
	}
	if !aws.ToBool(params.ForceDeleteWithoutRecovery) {
		return nil, &types.InvalidRequestException{Message: aws.String("fake only supports ForceDeleteWithoutRecovery")}
	}
	delete(f.Secrets, secretName)
	return &secretsmanager.DeleteSecretOutput{ARN: arn(secretName), Name: params.SecretId}, nil
}

// FakeSTSClient answers GetCallerIdentity.
type FakeSTSClient struct {
	Account string
	Arn     string
	Err     error
}

// GetCallerIdentity mocks the GetCallerIdentity operation
func (f *FakeSTSClient) GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	return &sts.GetCallerIdentityOutput{
		Account: aws.String(f.Account),
		Arn:     aws.String(f.Arn),
		UserId:  aws.String("AIDAEXAMPLE"),
	}, nil
}
