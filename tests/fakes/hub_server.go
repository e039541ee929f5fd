package fakes

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/systmms/envlock/internal/auth"
)

// HubCode is the authorization code the fake token endpoint accepts.
const HubCode = "hub-auth-code"

// FakeHub serves the hub REST API and its OAuth token endpoint from an
// httptest server. API calls are counted; token exchanges are not.
type FakeHub struct {
	*httptest.Server

	mu sync.Mutex

	Token  string
	UserID string
	Email  string

	Workspaces   []FakeHubEntity
	Projects     map[string][]FakeHubEntity
	Environments map[string][]FakeHubEntity
	// Secrets maps environment IDs to their secrets, in creation order.
	Secrets map[string][]*FakeHubSecret

	// PageSize caps each secrets page.
	PageSize int
	// FailStatus, when non-zero, fails every API call with that status.
	FailStatus int
	// TruncateSecrets makes secret listings answer 200 with a cut-off body.
	TruncateSecrets bool

	// Updates records the scope sent with each PATCH.
	Updates []string

	calls  atomic.Int64
	nextID int
}

type FakeHubEntity struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Slug string `json:"slug,omitempty"`
}

type FakeHubSecret struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Value      string `json:"value"`
	IsPersonal bool   `json:"isPersonal"`
}

// NewFakeHub starts a hub with one workspace, one project and the
// development and staging environments.
func NewFakeHub(t *testing.T) *FakeHub {
	t.Helper()

	h := &FakeHub{
		Token:      "hub-token",
		UserID:     "user-1",
		Email:      "dev@example.com",
		Workspaces: []FakeHubEntity{{ID: "ws-1", Name: "Acme"}},
		Projects:   map[string][]FakeHubEntity{"ws-1": {{ID: "proj-1", Name: "api"}}},
		Environments: map[string][]FakeHubEntity{"proj-1": {
			{ID: "env-dev", Name: "Development", Slug: "development"},
			{ID: "env-stg", Name: "Staging", Slug: "staging"},
		}},
		Secrets:  map[string][]*FakeHubSecret{},
		PageSize: 2,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /oauth/token", h.token)
	mux.HandleFunc("GET /v1/me", h.api(h.me))
	mux.HandleFunc("GET /v1/workspaces", h.api(h.workspaces))
	mux.HandleFunc("GET /v1/workspaces/{workspace}/projects", h.api(h.projects))
	mux.HandleFunc("GET /v1/projects/{project}/environments", h.api(h.environments))
	mux.HandleFunc("GET /v1/projects/{project}/environments/{environment}/secrets", h.api(h.listSecrets))
	mux.HandleFunc("POST /v1/projects/{project}/environments/{environment}/secrets", h.api(h.createSecret))
	mux.HandleFunc("PATCH /v1/projects/{project}/environments/{environment}/secrets/{secret}", h.api(h.updateSecret))
	mux.HandleFunc("DELETE /v1/projects/{project}/environments/{environment}/secrets/{secret}", h.api(h.deleteSecret))

	h.Server = httptest.NewServer(mux)
	t.Cleanup(h.Close)
	return h
}

// Calls reports how many API requests the hub has served.
func (h *FakeHub) Calls() int {
	return int(h.calls.Load())
}

// AddSecret seeds a secret into environmentID.
func (h *FakeHub) AddSecret(environmentID, name, value string, personal bool) *FakeHubSecret {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.addLocked(environmentID, name, value, personal)
}

func (h *FakeHub) addLocked(environmentID, name, value string, personal bool) *FakeHubSecret {
	h.nextID++
	s := &FakeHubSecret{ID: fmt.Sprintf("sec-%d", h.nextID), Name: name, Value: value, IsPersonal: personal}
	h.Secrets[environmentID] = append(h.Secrets[environmentID], s)
	return s
}

// Browser plays the user in the login flow: it follows the authorization
// URL straight to the callback with HubCode.
func (h *FakeHub) Browser() auth.Opener {
	return auth.OpenerFunc(func(ctx context.Context, raw string) error {
		u, err := url.Parse(raw)
		if err != nil {
			return err
		}
		q := u.Query()
		callback := q.Get("redirect_uri") + "?" + url.Values{"code": {HubCode}, "state": {q.Get("state")}}.Encode()
		go func() {
			req, err := http.NewRequestWithContext(context.WithoutCancel(ctx), http.MethodGet, callback, nil)
			if err != nil {
				return
			}
			if resp, err := http.DefaultClient.Do(req); err == nil {
				resp.Body.Close()
			}
		}()
		return nil
	})
}

func (h *FakeHub) token(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil || r.PostForm.Get("code") != HubCode || r.PostForm.Get("code_verifier") == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"access_token": h.Token,
		"token_type":   "bearer",
		"expires_in":   3600,
	})
}

func (h *FakeHub) api(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.calls.Add(1)
		if h.FailStatus != 0 {
			hubFail(w, h.FailStatus, "unavailable", "injected failure")
			return
		}
		if r.Header.Get("Authorization") != "Bearer "+h.Token {
			hubFail(w, http.StatusUnauthorized, "unauthorized", "token is invalid or expired")
			return
		}
		h.mu.Lock()
		defer h.mu.Unlock()
		next(w, r)
	}
}

func (h *FakeHub) me(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"id": h.UserID, "email": h.Email})
}

func (h *FakeHub) workspaces(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"workspaces": h.Workspaces})
}

func (h *FakeHub) projects(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"projects": h.Projects[r.PathValue("workspace")]})
}

func (h *FakeHub) environments(w http.ResponseWriter, r *http.Request) {
	envs, ok := h.Environments[r.PathValue("project")]
	if !ok {
		hubFail(w, http.StatusNotFound, "not_found", "project not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"environments": envs})
}

// environment reports whether the path names a known project/environment.
func (h *FakeHub) environment(w http.ResponseWriter, r *http.Request) (string, bool) {
	envID := r.PathValue("environment")
	for _, env := range h.Environments[r.PathValue("project")] {
		if env.ID == envID {
			return envID, true
		}
	}
	hubFail(w, http.StatusNotFound, "not_found", "environment not found")
	return "", false
}

func (h *FakeHub) listSecrets(w http.ResponseWriter, r *http.Request) {
	envID, ok := h.environment(w, r)
	if !ok {
		return
	}
	if h.TruncateSecrets {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"secrets": [ {"id": "sec-1", "name": "API_`))
		return
	}

	page, err := strconv.Atoi(r.URL.Query().Get("page"))
	if err != nil || page < 1 {
		page = 1
	}
	size := h.PageSize
	if size <= 0 {
		size = len(h.Secrets[envID]) + 1
	}

	all := h.Secrets[envID]
	start := min((page-1)*size, len(all))
	end := min(start+size, len(all))

	body := map[string]any{"secrets": all[start:end], "nextPage": nil}
	if end < len(all) {
		body["nextPage"] = page + 1
	}
	writeJSON(w, http.StatusOK, body)
}

func (h *FakeHub) createSecret(w http.ResponseWriter, r *http.Request) {
	envID, ok := h.environment(w, r)
	if !ok {
		return
	}
	var in struct {
		Name  string `json:"name"`
		Value string `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.Name == "" {
		hubFail(w, http.StatusBadRequest, "bad_request", "name and value are required")
		return
	}
	for _, s := range h.Secrets[envID] {
		if s.Name == in.Name {
			hubFail(w, http.StatusConflict, "conflict", "secret already exists")
			return
		}
	}
	writeJSON(w, http.StatusCreated, h.addLocked(envID, in.Name, in.Value, false))
}

func (h *FakeHub) updateSecret(w http.ResponseWriter, r *http.Request) {
	envID, ok := h.environment(w, r)
	if !ok {
		return
	}
	var in struct {
		Value string `json:"value"`
		Scope string `json:"scope"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		hubFail(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	for _, s := range h.Secrets[envID] {
		if s.ID == r.PathValue("secret") {
			s.Value = in.Value
			h.Updates = append(h.Updates, in.Scope)
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	hubFail(w, http.StatusNotFound, "not_found", "secret not found")
}

func (h *FakeHub) deleteSecret(w http.ResponseWriter, r *http.Request) {
	envID, ok := h.environment(w, r)
	if !ok {
		return
	}
	secrets := h.Secrets[envID]
	for i, s := range secrets {
		if s.ID == r.PathValue("secret") {
			h.Secrets[envID] = append(secrets[:i], secrets[i+1:]...)
			w.WriteHeader(http.StatusNoContent)
			return
		}
	}
	hubFail(w, http.StatusNotFound, "not_found", "secret not found")
}

func hubFail(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{"error": map[string]string{"code": code, "message": message}})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
