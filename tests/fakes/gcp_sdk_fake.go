package fakes

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// FakeGCPSecretManagerClient is an in-memory Secret Manager.
type FakeGCPSecretManagerClient struct {
	mu sync.Mutex

	// Secrets maps full resource names (projects/X/secrets/Y) to their data
	Secrets map[string]*GCPSecretData
	// Errors maps resource names to errors to return
	Errors map[string]error
	// ListErr, when set, fails every ListSecrets call.
	ListErr error
	// AddSecretVersionFunc allows custom behavior for AddSecretVersion
	AddSecretVersionFunc func(ctx context.Context, req *secretmanagerpb.AddSecretVersionRequest) (*secretmanagerpb.SecretVersion, error)

	calls atomic.Int64
}

// GCPSecretData holds a secret and its versions, newest last.
type GCPSecretData struct {
	Name        string
	CreateTime  *timestamppb.Timestamp
	Labels      map[string]string
	Annotations map[string]string
	Versions    [][]byte
}

// NewFakeGCPSecretManagerClient creates a new mock GCP Secret Manager client
func NewFakeGCPSecretManagerClient() *FakeGCPSecretManagerClient {
	return &FakeGCPSecretManagerClient{
		Secrets: make(map[string]*GCPSecretData),
		Errors:  make(map[string]error),
	}
}

// Calls reports how many API calls the fake has served.
func (f *FakeGCPSecretManagerClient) Calls() int {
	return int(f.calls.Load())
}

// AddSecretString adds a secret with one version.
func (f *FakeGCPSecretManagerClient) AddSecretString(projectID, secretID, value string, labels, annotations map[string]string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name := fmt.Sprintf("projects/%s/secrets/%s", projectID, secretID)
	f.Secrets[name] = &GCPSecretData{
		Name:        name,
		CreateTime:  timestamppb.New(time.Now()),
		Labels:      labels,
		Annotations: annotations,
		Versions:    [][]byte{[]byte(value)},
	}
}

// AddError configures the mock to return an error for a resource name
func (f *FakeGCPSecretManagerClient) AddError(resourceName string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Errors[resourceName] = err
}

// AccessSecretVersion supports "latest" and numeric versions.
func (f *FakeGCPSecretManagerClient) AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest) (*secretmanagerpb.AccessSecretVersionResponse, error) {
	f.calls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()

	if err, exists := f.Errors[req.Name]; exists {
		return nil, err
	}

	secretName, version, ok := strings.Cut(req.Name, "/versions/")
	if !ok {
		return nil, status.Errorf(codes.InvalidArgument, "malformed version name %s", req.Name)
	}
	if err, exists := f.Errors[secretName]; exists {
		return nil, err
	}
	data, exists := f.Secrets[secretName]
	if !exists {
		return nil, GCPNotFoundError(secretName)
	}
	if len(data.Versions) == 0 {
		return nil, status.Errorf(codes.NotFound, "Secret %s has no versions", secretName)
	}

	index := len(data.Versions)
	if version != "latest" {
		if _, err := fmt.Sscanf(version, "%d", &index); err != nil || index < 1 || index > len(data.Versions) {
			return nil, GCPNotFoundError(req.Name)
		}
	}

	return &secretmanagerpb.AccessSecretVersionResponse{
		Name:    fmt.Sprintf("%s/versions/%d", secretName, index),
		Payload: &secretmanagerpb.SecretPayload{Data: data.Versions[index-1]},
	}, nil
}

// ListSecrets filters by parent and understands "labels.KEY=VALUE" and
// "labels.KEY:*" filters.
func (f *FakeGCPSecretManagerClient) ListSecrets(ctx context.Context, req *secretmanagerpb.ListSecretsRequest) ([]*secretmanagerpb.Secret, error) {
	f.calls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.ListErr != nil {
		return nil, f.ListErr
	}

	match := func(labels map[string]string) bool { return true }
	if filter := strings.TrimPrefix(req.Filter, "labels."); filter != req.Filter {
		if key, value, ok := strings.Cut(filter, "="); ok {
			match = func(labels map[string]string) bool { return labels[key] == value }
		} else if key, ok := strings.CutSuffix(filter, ":*"); ok {
			match = func(labels map[string]string) bool { _, has := labels[key]; return has }
		}
	}

	var names []string
	prefix := req.Parent + "/secrets/"
	for name, data := range f.Secrets {
		if strings.HasPrefix(name, prefix) && match(data.Labels) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	if req.PageSize > 0 && int(req.PageSize) < len(names) {
		names = names[:req.PageSize]
	}

	out := make([]*secretmanagerpb.Secret, 0, len(names))
	for _, name := range names {
		data := f.Secrets[name]
		out = append(out, &secretmanagerpb.Secret{
			Name:        data.Name,
			CreateTime:  data.CreateTime,
			Labels:      data.Labels,
			Annotations: data.Annotations,
		})
	}
	return out, nil
}

// CreateSecret mocks the CreateSecret operation
func (f *FakeGCPSecretManagerClient) CreateSecret(ctx context.Context, req *secretmanagerpb.CreateSecretRequest) (*secretmanagerpb.Secret, error) {
	f.calls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()

	name := req.Parent + "/secrets/" + req.SecretId
	if err, exists := f.Errors[name]; exists {
		return nil, err
	}
	if _, exists := f.Secrets[name]; exists {
		return nil, status.Errorf(codes.AlreadyExists, "Secret [%s] already exists.", name)
	}
	if req.Secret.GetReplication() == nil {
		return nil, GCPInvalidArgumentError("replication is required")
	}

	data := &GCPSecretData{
		Name:        name,
		CreateTime:  timestamppb.New(time.Now()),
		Labels:      req.Secret.GetLabels(),
		Annotations: req.Secret.GetAnnotations(),
	}
	f.Secrets[name] = data
	return &secretmanagerpb.Secret{Name: name, Labels: data.Labels, Annotations: data.Annotations}, nil
}

// AddSecretVersion mocks the AddSecretVersion operation
func (f *FakeGCPSecretManagerClient) AddSecretVersion(ctx context.Context, req *secretmanagerpb.AddSecretVersionRequest) (*secretmanagerpb.SecretVersion, error) {
	f.calls.Add(1)
	if f.AddSecretVersionFunc != nil {
		return f.AddSecretVersionFunc(ctx, req)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if err, exists := f.Errors[req.Parent]; exists {
		return nil, err
	}
	data, exists := f.Secrets[req.Parent]
	if !exists {
		return nil, status.Errorf(codes.NotFound, "Secret %s not found", req.Parent)
	}

	data.Versions = append(data.Versions, req.Payload.GetData())
	return &secretmanagerpb.SecretVersion{
		Name:       fmt.Sprintf("%s/versions/%d", req.Parent, len(data.Versions)),
		CreateTime: timestamppb.New(time.Now()),
		State:      secretmanagerpb.SecretVersion_ENABLED,
	}, nil
}

// DeleteSecret mocks the DeleteSecret operation
func (f *FakeGCPSecretManagerClient) DeleteSecret(ctx context.Context, req *secretmanagerpb.DeleteSecretRequest) error {
	f.calls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()

	if err, exists := f.Errors[req.Name]; exists {
		return err
	}
	if _, exists := f.Secrets[req.Name]; !exists {
		return GCPNotFoundError(req.Name)
	}
	delete(f.Secrets, req.Name)
	return nil
}

// GCP error helpers

// GCPNotFoundError creates a mock GCP not found error
func GCPNotFoundError(resourceName string) error {
	return status.Errorf(codes.NotFound, "Resource %s not found", resourceName)
}

// GCPPermissionDeniedError creates a mock GCP permission denied error
func GCPPermissionDeniedError(message string) error {
	return status.Error(codes.PermissionDenied, message)
}

// GCPUnauthenticatedError creates a mock GCP unauthenticated error
func GCPUnauthenticatedError(message string) error {
	return status.Error(codes.Unauthenticated, message)
}

// GCPInvalidArgumentError creates a mock GCP invalid argument error
func GCPInvalidArgumentError(message string) error {
	return status.Error(codes.InvalidArgument, message)
}
