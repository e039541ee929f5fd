package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	dserrors "github.com/systmms/envlock/internal/errors"
	"github.com/systmms/envlock/internal/logging"
	"github.com/systmms/envlock/pkg/provider"
)

const hubMaxPages = 1000

// hubClient talks to the envlock hub REST API.
type hubClient struct {
	rest *resty.Client
}

type hubEntity struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Slug string `json:"slug,omitempty"`
}

type hubUser struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

type hubSecret struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Value         string `json:"value"`
	IsPersonal    bool   `json:"isPersonal"`
	EnvironmentID string `json:"environmentId"`
}

type hubSecretPage struct {
	Secrets  []hubSecret `json:"secrets"`
	NextPage *int        `json:"nextPage"`
}

type hubErrorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// restyLogger sends resty's own diagnostics to the debug stream; failures
// reach the user through the returned errors.
type restyLogger struct {
	log *logging.Logger
}

func (l restyLogger) Errorf(format string, v ...interface{}) { l.log.Debug("hub: "+format, v...) }
func (l restyLogger) Warnf(format string, v ...interface{})  { l.log.Debug("hub: "+format, v...) }
func (l restyLogger) Debugf(format string, v ...interface{}) { l.log.Debug("hub: "+format, v...) }

func newHubClient(baseURL string, httpClient *http.Client, logger *logging.Logger) *hubClient {
	var rest *resty.Client
	if httpClient != nil {
		rest = resty.NewWithClient(httpClient)
	} else {
		rest = resty.New()
	}

	rest.SetLogger(restyLogger{log: logger}).
		SetBaseURL(baseURL).
		SetTimeout(30*time.Second).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", "envlock-cli").
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(3 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			// only idempotent reads are retried
			if r == nil || r.Request == nil || r.Request.Method != http.MethodGet {
				return false
			}
			if err != nil {
				return dserrors.IsRetryable(err)
			}
			return r.StatusCode() == http.StatusTooManyRequests || r.StatusCode() >= 500
		})

	return &hubClient{rest: rest}
}

func (c *hubClient) request(ctx context.Context, token string) *resty.Request {
	return c.rest.R().SetContext(ctx).SetAuthToken(token)
}

// Me returns the owner of token.
func (c *hubClient) Me(ctx context.Context, token string) (hubUser, error) {
	var user hubUser
	resp, err := c.request(ctx, token).SetResult(&user).Get("/v1/me")
	if err := hubError("identity", resp, err); err != nil {
		return hubUser{}, err
	}
	if user.ID == "" && user.Email == "" {
		return hubUser{}, dserrors.Authentication(hubProviderName, "identity endpoint returned no user", nil)
	}
	return user, nil
}

func (c *hubClient) Workspaces(ctx context.Context, token string) ([]hubEntity, error) {
	var out struct {
		Workspaces []hubEntity `json:"workspaces"`
	}
	resp, err := c.request(ctx, token).SetResult(&out).Get("/v1/workspaces")
	if err := hubError("list workspaces", resp, err); err != nil {
		return nil, err
	}
	return out.Workspaces, nil
}

func (c *hubClient) Projects(ctx context.Context, token, workspaceID string) ([]hubEntity, error) {
	var out struct {
		Projects []hubEntity `json:"projects"`
	}
	resp, err := c.request(ctx, token).SetResult(&out).
		SetPathParam("workspace", workspaceID).
		Get("/v1/workspaces/{workspace}/projects")
	if err := hubError("list projects", resp, err); err != nil {
		return nil, err
	}
	return out.Projects, nil
}

func (c *hubClient) Environments(ctx context.Context, token, projectID string) ([]hubEntity, error) {
	var out struct {
		Environments []hubEntity `json:"environments"`
	}
	resp, err := c.request(ctx, token).SetResult(&out).
		SetPathParam("project", projectID).
		Get("/v1/projects/{project}/environments")
	if err := hubError("list environments", resp, err); err != nil {
		return nil, err
	}
	return out.Environments, nil
}

// Secrets follows nextPage until the server stops returning one.
func (c *hubClient) Secrets(ctx context.Context, token, projectID, environmentID string) ([]provider.Secret, error) {
	var all []provider.Secret
	page := 1

	for i := 0; i < hubMaxPages; i++ {
		var out hubSecretPage
		resp, err := c.request(ctx, token).SetResult(&out).
			SetPathParams(map[string]string{"project": projectID, "environment": environmentID}).
			SetQueryParam("page", fmt.Sprint(page)).
			Get("/v1/projects/{project}/environments/{environment}/secrets")
		if err := hubError("list secrets", resp, err); err != nil {
			return nil, err
		}

		for _, s := range out.Secrets {
			envID := s.EnvironmentID
			if envID == "" {
				envID = environmentID
			}
			all = append(all, provider.Secret{
				ID:            s.ID,
				Name:          s.Name,
				Value:         s.Value,
				IsPersonal:    s.IsPersonal,
				EnvironmentID: envID,
			})
		}

		if out.NextPage == nil || *out.NextPage <= page {
			return all, nil
		}
		page = *out.NextPage
	}

	return nil, dserrors.Backend(hubProviderName, "list secrets", 0,
		fmt.Sprintf("more than %d pages of secrets", hubMaxPages), nil)
}

func (c *hubClient) CreateSecret(ctx context.Context, token, projectID, environmentID, name, value string) error {
	resp, err := c.request(ctx, token).
		SetPathParams(map[string]string{"project": projectID, "environment": environmentID}).
		SetBody(map[string]string{"name": name, "value": value}).
		Post("/v1/projects/{project}/environments/{environment}/secrets")
	if resp != nil && resp.StatusCode() == http.StatusConflict {
		return dserrors.SecretAlreadyExists(hubProviderName, name)
	}
	return hubError("create", resp, err)
}

func (c *hubClient) UpdateSecret(ctx context.Context, token, projectID, environmentID string, secret provider.Secret, value string) error {
	scope := "shared"
	if secret.IsPersonal {
		scope = "personal"
	}
	resp, err := c.request(ctx, token).
		SetPathParams(map[string]string{"project": projectID, "environment": environmentID, "secret": secret.ID}).
		SetBody(map[string]string{"value": value, "scope": scope}).
		Patch("/v1/projects/{project}/environments/{environment}/secrets/{secret}")
	if resp != nil && resp.StatusCode() == http.StatusNotFound {
		return dserrors.SecretNotFound(hubProviderName, secret.Name)
	}
	return hubError("update", resp, err)
}

func (c *hubClient) DeleteSecret(ctx context.Context, token, projectID, environmentID string, secret provider.Secret) error {
	resp, err := c.request(ctx, token).
		SetPathParams(map[string]string{"project": projectID, "environment": environmentID, "secret": secret.ID}).
		Delete("/v1/projects/{project}/environments/{environment}/secrets/{secret}")
	if resp != nil && resp.StatusCode() == http.StatusNotFound {
		return dserrors.SecretNotFound(hubProviderName, secret.Name)
	}
	return hubError("delete", resp, err)
}

// hubError maps a transport failure or non-2xx response to a typed error
// carrying the server's status and message.
func hubError(op string, resp *resty.Response, err error) error {
	if err != nil {
		if resp == nil || resp.StatusCode() == 0 {
			return dserrors.Backend(hubProviderName, op, 0, "request failed", err)
		}
		if !resp.IsError() {
			return dserrors.Backend(hubProviderName, op, resp.StatusCode(), "invalid response", err)
		}
	}
	if resp == nil {
		return dserrors.Backend(hubProviderName, op, 0, "no response", nil)
	}
	if !resp.IsError() {
		return nil
	}

	status := resp.StatusCode()
	detail := http.StatusText(status)
	var body hubErrorBody
	if json.Unmarshal(resp.Body(), &body) == nil && body.Error.Message != "" {
		detail = body.Error.Message
		if body.Error.Code != "" {
			detail = fmt.Sprintf("%s (%s)", body.Error.Message, body.Error.Code)
		}
	}

	if status == http.StatusUnauthorized {
		return &dserrors.Error{
			Kind:     dserrors.KindAuthentication,
			Op:       op,
			Provider: hubProviderName,
			Status:   status,
			Detail:   detail + "; run 'envlock login hub'",
		}
	}
	return dserrors.Backend(hubProviderName, op, status, detail, nil)
}
