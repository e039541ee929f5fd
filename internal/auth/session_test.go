package auth

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systmms/envlock/internal/credstore"
	dserrors "github.com/systmms/envlock/internal/errors"
	"github.com/systmms/envlock/pkg/provider"
	"github.com/systmms/envlock/tests/testutil"
)

type tokenServer struct {
	*httptest.Server
	challenge atomic.Value
	calls     atomic.Int32
	fail      bool
}

func newTokenServer(t *testing.T, fail bool) *tokenServer {
	t.Helper()

	ts := &tokenServer{fail: fail}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ts.calls.Add(1)
		require.NoError(t, r.ParseForm())

		if ts.fail {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_, _ = io.WriteString(w, `{"error":"invalid_grant"}`)
			return
		}

		verifier := r.PostForm.Get("code_verifier")
		sum := sha256.Sum256([]byte(verifier))
		if got := base64.RawURLEncoding.EncodeToString(sum[:]); got != ts.challenge.Load() {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = io.WriteString(w, `{"error":"invalid_grant","error_description":"pkce mismatch"}`)
			return
		}
		if r.PostForm.Get("code") != "good-code" || r.PostForm.Get("grant_type") != "authorization_code" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = io.WriteString(w, `{"error":"invalid_grant"}`)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"access_token":"fresh-token","token_type":"bearer","expires_in":3600}`)
	}))
	t.Cleanup(ts.Close)
	return ts
}

type callbackResult struct {
	status int
	body   string
}

// browser plays the user: it reads the authorization URL and hits the
// callback with whatever query the test wants.
type browser struct {
	t       *testing.T
	ts      *tokenServer
	query   func(state string) url.Values
	repeat  int
	results chan callbackResult
}

func newBrowser(t *testing.T, ts *tokenServer, repeat int, query func(state string) url.Values) *browser {
	return &browser{t: t, ts: ts, query: query, repeat: repeat, results: make(chan callbackResult, repeat)}
}

func (b *browser) Open(_ context.Context, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	q := u.Query()
	redirect := q.Get("redirect_uri")
	state := q.Get("state")

	assert.True(b.t, strings.HasPrefix(redirect, "http://127.0.0.1:"), "redirect %s must match the loopback listener", redirect)
	assert.Equal(b.t, "S256", q.Get("code_challenge_method"))
	assert.NotEmpty(b.t, q.Get("code_challenge"))
	assert.Equal(b.t, "envlock-cli", q.Get("client_id"))
	b.ts.challenge.Store(q.Get("code_challenge"))

	go func() {
		for i := 0; i < b.repeat; i++ {
			resp, err := http.Get(redirect + "?" + b.query(state).Encode())
			if err != nil {
				b.results <- callbackResult{status: -1, body: err.Error()}
				continue
			}
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			b.results <- callbackResult{status: resp.StatusCode, body: string(body)}
		}
	}()
	return nil
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return port
}

func identityOK(_ context.Context, token string) (Identity, error) {
	if token == "fresh-token" || token == "stored-token" {
		return Identity{UserID: "u-42", Email: "dev@example.com"}, nil
	}
	return Identity{}, dserrors.Authentication("hub", "token is invalid or expired", nil)
}

func newTestSession(t *testing.T, ts *tokenServer, store credstore.Store, opener Opener, timeout time.Duration) *Session {
	t.Helper()
	return NewSession(Options{
		Provider:      "hub",
		AuthURL:       "https://auth.example.test/authorize",
		TokenURL:      ts.URL + "/token",
		ClientID:      "envlock-cli",
		Scopes:        []string{"secrets"},
		CallbackPort:  freePort(t),
		Timeout:       timeout,
		ShutdownGrace: 10 * time.Millisecond,
		Credentials:   store,
		Identity:      identityOK,
		Opener:        opener,
	})
}

func TestLoginSuccessStoresCredential(t *testing.T) {
	t.Parallel()

	ts := newTokenServer(t, false)
	store := credstore.NewMemory()
	b := newBrowser(t, ts, 1, func(state string) url.Values {
		return url.Values{"code": {"good-code"}, "state": {state}}
	})

	session := newTestSession(t, ts, store, b, 10*time.Second)
	creds, err := session.Login(context.Background(), false)
	require.NoError(t, err)

	assert.Equal(t, Authenticated, session.State())
	assert.Equal(t, provider.Credentials{AccessToken: "fresh-token", UserID: "u-42", Email: "dev@example.com"}, creds)

	stored, ok, err := credstore.LoadCredentials(store, "hub")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, creds, stored)

	page := <-b.results
	assert.Equal(t, http.StatusOK, page.status)
	assert.Contains(t, page.body, "dev@example.com")
}

func TestLoginRejectsCallbacks(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		query      func(state string) url.Values
		wantStatus int
		wantText   string
	}{
		{
			name: "state mismatch with code",
			query: func(string) url.Values {
				return url.Values{"code": {"good-code"}, "state": {"forged"}}
			},
			wantStatus: http.StatusBadRequest,
			wantText:   "state mismatch",
		},
		{
			name: "state mismatch without code",
			query: func(string) url.Values {
				return url.Values{"state": {"forged"}}
			},
			wantStatus: http.StatusBadRequest,
			wantText:   "state mismatch",
		},
		{
			name: "provider error",
			query: func(state string) url.Values {
				return url.Values{"error": {"access_denied"}, "error_description": {"user said <no>"}, "state": {state}}
			},
			wantStatus: http.StatusBadRequest,
			wantText:   "user said &lt;no&gt;",
		},
		{
			name: "missing code",
			query: func(state string) url.Values {
				return url.Values{"state": {state}}
			},
			wantStatus: http.StatusBadRequest,
			wantText:   "no authorization code",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ts := newTokenServer(t, false)
			store := credstore.NewMemory()
			b := newBrowser(t, ts, 1, tt.query)

			session := newTestSession(t, ts, store, b, 10*time.Second)
			_, err := session.Login(context.Background(), false)

			require.Error(t, err)
			assert.True(t, errors.Is(err, dserrors.ErrAuthentication), "got %v", err)
			assert.Equal(t, Failed, session.State())
			assert.Zero(t, ts.calls.Load(), "no exchange may happen")

			has, _ := store.Has("hub")
			assert.False(t, has)

			page := <-b.results
			assert.Equal(t, tt.wantStatus, page.status)
			assert.Contains(t, page.body, tt.wantText)
		})
	}
}

func TestLoginExchangeFailureRendersErrorPage(t *testing.T) {
	t.Parallel()

	ts := newTokenServer(t, true)
	store := credstore.NewMemory()
	b := newBrowser(t, ts, 1, func(state string) url.Values {
		return url.Values{"code": {"good-code"}, "state": {state}}
	})

	session := newTestSession(t, ts, store, b, 10*time.Second)
	_, err := session.Login(context.Background(), false)

	require.Error(t, err)
	assert.True(t, errors.Is(err, dserrors.ErrAuthentication))
	assert.Equal(t, Failed, session.State())

	page := <-b.results
	assert.Equal(t, http.StatusInternalServerError, page.status)
	assert.Contains(t, page.body, "token exchange failed")
}

func TestLoginTimeoutReleasesPortAndStoresNothing(t *testing.T) {
	t.Parallel()

	ts := newTokenServer(t, false)
	store := credstore.NewMemory()
	silent := OpenerFunc(func(context.Context, string) error { return nil })

	session := newTestSession(t, ts, store, silent, 100*time.Millisecond)
	port := session.opts.CallbackPort

	_, err := session.Login(context.Background(), false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, dserrors.ErrAuthFlowAborted))
	assert.False(t, dserrors.Fatal(err))
	assert.Equal(t, TimedOut, session.State())

	has, _ := store.Has("hub")
	assert.False(t, has)

	l, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	require.NoError(t, err, "port must be free after timeout")
	require.NoError(t, l.Close())
}

func TestLoginCancellation(t *testing.T) {
	t.Parallel()

	ts := newTokenServer(t, false)
	store := credstore.NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	opener := OpenerFunc(func(context.Context, string) error {
		go func() {
			time.Sleep(20 * time.Millisecond)
			cancel()
		}()
		return nil
	})

	session := newTestSession(t, ts, store, opener, 10*time.Second)
	_, err := session.Login(ctx, false)

	require.Error(t, err)
	assert.True(t, errors.Is(err, dserrors.ErrAuthFlowAborted))
	assert.Equal(t, Cancelled, session.State())

	has, _ := store.Has("hub")
	assert.False(t, has)
}

func TestLoginAlreadyCancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	opened := false
	session := newTestSession(t, newTokenServer(t, false), credstore.NewMemory(),
		OpenerFunc(func(context.Context, string) error { opened = true; return nil }), time.Second)

	_, err := session.Login(ctx, false)
	assert.True(t, errors.Is(err, dserrors.ErrAuthFlowAborted))
	assert.Equal(t, Cancelled, session.State())
	assert.False(t, opened)
}

func TestSecondCallbackIsIgnored(t *testing.T) {
	t.Parallel()

	ts := newTokenServer(t, false)
	store := credstore.NewMemory()
	b := newBrowser(t, ts, 2, func(state string) url.Values {
		return url.Values{"code": {"good-code"}, "state": {state}}
	})

	session := newTestSession(t, ts, store, b, 10*time.Second)
	session.opts.ShutdownGrace = 300 * time.Millisecond

	_, err := session.Login(context.Background(), false)
	require.NoError(t, err)

	first := <-b.results
	assert.Equal(t, http.StatusOK, first.status)

	second := <-b.results
	assert.NotEqual(t, http.StatusOK, second.status, "retry must not be processed")
	assert.Equal(t, int32(1), ts.calls.Load(), "code is exchanged at most once")
	assert.Equal(t, Authenticated, session.State())
}

func TestLoginReusesValidCredential(t *testing.T) {
	t.Parallel()

	ts := newTokenServer(t, false)
	store := credstore.NewMemory()
	require.NoError(t, credstore.SaveCredentials(store, "hub", provider.Credentials{AccessToken: "stored-token"}))

	opener := OpenerFunc(func(context.Context, string) error {
		t.Error("browser must not open for a valid stored credential")
		return nil
	})

	session := newTestSession(t, ts, store, opener, time.Second)
	creds, err := session.Login(context.Background(), false)
	require.NoError(t, err)

	assert.Equal(t, Authenticated, session.State())
	assert.Equal(t, "stored-token", creds.AccessToken)
	assert.Equal(t, "dev@example.com", creds.Email)
}

func TestLoginForceDiscardsStoredCredential(t *testing.T) {
	t.Parallel()

	ts := newTokenServer(t, false)
	store := credstore.NewMemory()
	require.NoError(t, credstore.SaveCredentials(store, "hub", provider.Credentials{AccessToken: "stored-token"}))

	session := newTestSession(t, ts, store, OpenerFunc(func(context.Context, string) error { return nil }), 50*time.Millisecond)
	_, err := session.Login(context.Background(), true)

	assert.True(t, errors.Is(err, dserrors.ErrAuthFlowAborted))
	has, _ := store.Has("hub")
	assert.False(t, has, "force must remove the old credential")
}

func TestLoginInvalidStoredCredentialIsDeleted(t *testing.T) {
	t.Parallel()

	ts := newTokenServer(t, false)
	store := credstore.NewMemory()
	require.NoError(t, credstore.SaveCredentials(store, "hub", provider.Credentials{AccessToken: "revoked"}))

	opened := make(chan struct{}, 1)
	session := newTestSession(t, ts, store, OpenerFunc(func(context.Context, string) error {
		opened <- struct{}{}
		return nil
	}), 50*time.Millisecond)

	_, err := session.Login(context.Background(), false)
	assert.Error(t, err)
	assert.Len(t, opened, 1, "flow proceeds to the browser")

	has, _ := store.Has("hub")
	assert.False(t, has)
}

func TestLoginKeepsCredentialWhenIdentityIsUnavailable(t *testing.T) {
	t.Parallel()

	ts := newTokenServer(t, false)
	store := credstore.NewMemory()
	require.NoError(t, credstore.SaveCredentials(store, "hub", provider.Credentials{AccessToken: "stored-token"}))

	session := newTestSession(t, ts, store, OpenerFunc(func(context.Context, string) error { return nil }), 50*time.Millisecond)
	session.opts.Identity = func(context.Context, string) (Identity, error) {
		return Identity{}, dserrors.Backend("hub", "identity", http.StatusServiceUnavailable, "service unavailable", nil)
	}

	_, err := session.Login(context.Background(), false)
	assert.True(t, errors.Is(err, dserrors.ErrAuthFlowAborted))
	assert.Equal(t, TimedOut, session.State())

	creds, ok, err := credstore.LoadCredentials(store, "hub")
	require.NoError(t, err)
	require.True(t, ok, "an outage must not discard the stored credential")
	assert.Equal(t, "stored-token", creds.AccessToken)
}

func TestLoginCancelledDuringIdentityCheck(t *testing.T) {
	t.Parallel()

	ts := newTokenServer(t, false)
	store := credstore.NewMemory()
	require.NoError(t, credstore.SaveCredentials(store, "hub", provider.Credentials{AccessToken: "stored-token"}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	opened := false
	session := newTestSession(t, ts, store, OpenerFunc(func(context.Context, string) error { opened = true; return nil }), time.Second)
	session.opts.Identity = func(context.Context, string) (Identity, error) {
		cancel()
		return Identity{}, dserrors.Backend("hub", "identity", http.StatusServiceUnavailable, "service unavailable", nil)
	}

	_, err := session.Login(ctx, false)
	assert.True(t, errors.Is(err, dserrors.ErrAuthFlowAborted))
	assert.Equal(t, Cancelled, session.State())
	assert.False(t, opened)

	has, err := store.Has("hub")
	require.NoError(t, err)
	assert.True(t, has, "cancellation must not discard the stored credential")
}

func TestLoginPortInUse(t *testing.T) {
	t.Parallel()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()

	session := newTestSession(t, newTokenServer(t, false), credstore.NewMemory(),
		OpenerFunc(func(context.Context, string) error { return nil }), time.Second)
	session.opts.CallbackPort = l.Addr().(*net.TCPAddr).Port

	_, err = session.Login(context.Background(), false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already in use")
	assert.Equal(t, Failed, session.State())
}

func TestBrowserOpenFailureIsNotFatal(t *testing.T) {
	t.Parallel()

	executor := testutil.NewMockCommandExecutor()
	executor.StartErr = fmt.Errorf("xdg-open: not found")
	opener := &BrowserOpener{Executor: executor, GOOS: "linux"}

	session := newTestSession(t, newTokenServer(t, false), credstore.NewMemory(), opener, 50*time.Millisecond)
	_, err := session.Login(context.Background(), false)

	assert.True(t, errors.Is(err, dserrors.ErrAuthFlowAborted), "failure to open a browser only warns")
	require.Equal(t, 1, executor.CallCount())
	call := executor.Calls()[0]
	assert.Equal(t, "xdg-open", call.Command)
	assert.True(t, call.Background)
	assert.Contains(t, call.Line(), "code_challenge_method=S256")
}

func TestSessionIsSingleUse(t *testing.T) {
	t.Parallel()

	ts := newTokenServer(t, false)
	store := credstore.NewMemory()
	require.NoError(t, credstore.SaveCredentials(store, "hub", provider.Credentials{AccessToken: "stored-token"}))

	session := newTestSession(t, ts, store, OpenerFunc(func(context.Context, string) error { return nil }), time.Second)
	_, err := session.Login(context.Background(), false)
	require.NoError(t, err)

	_, err = session.Login(context.Background(), false)
	assert.Error(t, err)
}

func TestBrowserCommand(t *testing.T) {
	t.Parallel()

	name, args := browserCommand("darwin", "https://x")
	assert.Equal(t, "open", name)
	assert.Equal(t, []string{"https://x"}, args)

	name, _ = browserCommand("linux", "https://x")
	assert.Equal(t, "xdg-open", name)

	name, args = browserCommand("windows", "https://x")
	assert.Equal(t, "rundll32", name)
	assert.Equal(t, "https://x", args[len(args)-1])
}
