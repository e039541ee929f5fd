package providers_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dserrors "github.com/systmms/envlock/internal/errors"
	"github.com/systmms/envlock/internal/providers"
	"github.com/systmms/envlock/pkg/provider"
	"github.com/systmms/envlock/tests/fakes"
	"github.com/systmms/envlock/tests/testutil"
)

func awsBinding() provider.Binding {
	return provider.NewBinding("/work/api", "aws", map[string]string{
		"region":      "eu-west-1",
		"prefix":      "envlock",
		"environment": "development",
	})
}

func newAWSProvider(deps providers.Deps, client *fakes.FakeSecretsManagerClient) *providers.AWSSecretsManagerProvider {
	return providers.NewAWSSecretsManagerProvider(deps, providers.WithSecretsManagerClient(client))
}

func TestAWSSecretsManagerProviderContract(t *testing.T) {
	var client *fakes.FakeSecretsManagerClient
	provider.RunContractTests(t, provider.ContractTest{
		CreateProvider: func(t *testing.T) provider.Provider {
			client = fakes.NewFakeSecretsManagerClient()
			return newAWSProvider(providers.Deps{}, client)
		},
		Binding:      awsBinding(),
		BackendCalls: func() int { return client.Calls() },
		OverrideEnv:  "staging",
	})
}

func TestAWSSecretsManagerRunPaginates(t *testing.T) {
	t.Parallel()

	client := fakes.NewFakeSecretsManagerClient()
	for i := 0; i < 5; i++ {
		client.AddSecretString(fmt.Sprintf("envlock/development/KEY_%d", i), fmt.Sprintf("v%d", i))
	}
	client.AddSecretString("envlock/staging/KEY_0", "other-env")
	client.AddSecretString("envlock/development/not.valid", "skipped")

	p := newAWSProvider(providers.Deps{}, client)
	secrets, err := p.Run(context.Background(), awsBinding(), provider.RunOptions{})
	require.NoError(t, err)
	require.Len(t, secrets, 5)

	byName := map[string]provider.Secret{}
	for _, s := range secrets {
		byName[s.Name] = s
	}
	assert.Equal(t, "v3", byName["KEY_3"].Value)
	assert.Equal(t, "development", byName["KEY_3"].EnvironmentID)
	assert.Contains(t, byName["KEY_3"].ID, "arn:aws:secretsmanager")
}

func TestAWSSecretsManagerBinarySecret(t *testing.T) {
	t.Parallel()

	client := fakes.NewFakeSecretsManagerClient()
	client.AddSecretBinary("envlock/development/CERT", []byte("pem-bytes"))

	p := newAWSProvider(providers.Deps{}, client)
	secrets, err := p.Run(context.Background(), awsBinding(), provider.RunOptions{})
	require.NoError(t, err)
	require.Len(t, secrets, 1)
	assert.Equal(t, "pem-bytes", secrets[0].Value)
}

func TestAWSSecretsManagerCreateTagsSecret(t *testing.T) {
	t.Parallel()

	client := fakes.NewFakeSecretsManagerClient()
	p := newAWSProvider(providers.Deps{}, client)

	require.NoError(t, p.CreateSecret(context.Background(), awsBinding(), "API_KEY", "abc"))

	data, ok := client.Secrets["envlock/development/API_KEY"]
	require.True(t, ok)
	tags := map[string]string{}
	for _, tag := range data.Tags {
		tags[aws.ToString(tag.Key)] = aws.ToString(tag.Value)
	}
	assert.Equal(t, map[string]string{"envlock-env": "development", "envlock-name": "API_KEY"}, tags)
}

func TestAWSSecretsManagerErrorMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want dserrors.Kind
	}{
		{"not found", &types.ResourceNotFoundException{Message: aws.String("gone")}, dserrors.KindSecretNotFound},
		{"access denied", &smithy.GenericAPIError{Code: "AccessDeniedException", Message: "not authorized"}, dserrors.KindAuthentication},
		{"invalid request", &types.InvalidRequestException{Message: aws.String("nope")}, dserrors.KindBackend},
		{"decryption failure", &types.DecryptionFailure{Message: aws.String("kms")}, dserrors.KindBackend},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			client := fakes.NewFakeSecretsManagerClient()
			client.AddSecretString("envlock/development/API_KEY", "abc")
			client.AddError("envlock/development/API_KEY", tt.err)

			p := newAWSProvider(providers.Deps{}, client)
			err := p.UpdateSecret(context.Background(), awsBinding(), "API_KEY", "new")
			require.Error(t, err)
			assert.Equal(t, tt.want, dserrors.KindOf(err))
		})
	}
}

func TestAWSSecretsManagerDeleteMissingSecret(t *testing.T) {
	t.Parallel()

	t.Run("forced delete alone does not notice", func(t *testing.T) {
		t.Parallel()

		client := fakes.NewFakeSecretsManagerClient()
		_, err := client.DeleteSecret(context.Background(), &secretsmanager.DeleteSecretInput{
			SecretId:                   aws.String("envlock/development/NOPE"),
			ForceDeleteWithoutRecovery: aws.Bool(true),
		})
		require.NoError(t, err)
	})

	t.Run("never created", func(t *testing.T) {
		t.Parallel()

		client := fakes.NewFakeSecretsManagerClient()
		client.AddSecretString("envlock/development/API_KEY", "abc")
		p := newAWSProvider(providers.Deps{}, client)

		err := p.DeleteSecret(context.Background(), awsBinding(), "NOPE")
		assert.ErrorIs(t, err, dserrors.ErrSecretNotFound)
		assert.Contains(t, client.Secrets, "envlock/development/API_KEY")
	})

	t.Run("scheduled for deletion", func(t *testing.T) {
		t.Parallel()

		client := fakes.NewFakeSecretsManagerClient()
		client.AddSecretString("envlock/development/OLD", "abc")
		deleted := time.Now()
		client.Secrets["envlock/development/OLD"].DeletedDate = &deleted
		p := newAWSProvider(providers.Deps{}, client)

		err := p.DeleteSecret(context.Background(), awsBinding(), "OLD")
		assert.ErrorIs(t, err, dserrors.ErrSecretNotFound)
	})
}

func TestAWSSecretsManagerLogin(t *testing.T) {
	t.Parallel()

	t.Run("records the caller identity", func(t *testing.T) {
		t.Parallel()

		store := testutil.NewTestConfig(t).Store()
		p := providers.NewAWSSecretsManagerProvider(providers.Deps{Store: store},
			providers.WithSTSClient(&fakes.FakeSTSClient{Account: "123456789012", Arn: "arn:aws:iam::123456789012:user/dev"}))

		require.NoError(t, p.Login(context.Background(), provider.LoginOptions{}))

		settings, err := store.ProviderSettings("aws")
		require.NoError(t, err)
		assert.Equal(t, "123456789012", settings["account"])
		assert.Equal(t, "true", settings["authenticated"])
	})

	t.Run("missing credentials", func(t *testing.T) {
		t.Parallel()

		p := providers.NewAWSSecretsManagerProvider(providers.Deps{},
			providers.WithSTSClient(&fakes.FakeSTSClient{Err: fmt.Errorf("no EC2 IMDS role found")}))

		err := p.Login(context.Background(), provider.LoginOptions{})
		assert.Equal(t, dserrors.KindAuthentication, dserrors.KindOf(err))
	})
}

func TestAWSSecretsManagerConfigure(t *testing.T) {
	t.Parallel()

	t.Run("single environment is auto-selected", func(t *testing.T) {
		t.Parallel()

		client := fakes.NewFakeSecretsManagerClient()
		client.AddSecretString("envlock/production/API_KEY", "x")
		client.AddSecretString("envlock/production/DB_URL", "y")
		prompter := testutil.NewScriptedPrompter("eu-west-1", "")

		p := newAWSProvider(providers.Deps{Prompter: prompter}, client)
		b, err := p.Configure(context.Background(), "/work/api")
		require.NoError(t, err)
		assert.Equal(t, "eu-west-1", b.Field("region"))
		assert.Equal(t, "envlock", b.Field("prefix"))
		assert.Equal(t, "production", b.Field("environment"))
		assert.Zero(t, prompter.Remaining())
	})

	t.Run("several environments prompt", func(t *testing.T) {
		t.Parallel()

		client := fakes.NewFakeSecretsManagerClient()
		client.AddSecretString("envlock/production/API_KEY", "x")
		client.AddSecretString("envlock/staging/API_KEY", "y")
		prompter := testutil.NewScriptedPrompter("", "", "staging")

		p := newAWSProvider(providers.Deps{Prompter: prompter}, client)
		b, err := p.Configure(context.Background(), "/work/api")
		require.NoError(t, err)
		assert.Equal(t, "staging", b.Field("environment"))
		require.Len(t, prompter.Offered, 1)
		assert.Len(t, prompter.Offered[0], 2)
	})

	t.Run("empty prefix asks for a new environment", func(t *testing.T) {
		t.Parallel()

		client := fakes.NewFakeSecretsManagerClient()
		prompter := testutil.NewScriptedPrompter("", "", "")

		p := newAWSProvider(providers.Deps{Prompter: prompter}, client)
		b, err := p.Configure(context.Background(), "/work/api")
		require.NoError(t, err)
		assert.Equal(t, "development", b.Field("environment"))
	})
}

func TestAWSSecretsManagerBindingRequiresPrefix(t *testing.T) {
	t.Parallel()

	client := fakes.NewFakeSecretsManagerClient()
	p := newAWSProvider(providers.Deps{}, client)

	b := provider.NewBinding("/work/api", "aws", map[string]string{"environment": "dev"})
	_, err := p.Run(context.Background(), b, provider.RunOptions{})
	require.Error(t, err)
	assert.Zero(t, client.Calls())
}
