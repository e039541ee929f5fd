// Package auth drives the OAuth2 authorization-code flow with PKCE for
// providers that log in through a browser. A Session binds a local callback
// listener, opens the authorization URL, waits for exactly one outcome and
// stores the resulting credential.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"html"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/oauth2"

	"github.com/systmms/envlock/internal/credstore"
	dserrors "github.com/systmms/envlock/internal/errors"
	"github.com/systmms/envlock/internal/logging"
	"github.com/systmms/envlock/pkg/provider"
)

// State is a position in the login state machine.
type State int32

const (
	Idle State = iota
	AwaitingUserAuthorization
	ExchangingCode
	Authenticated
	Failed
	Cancelled
	TimedOut
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case AwaitingUserAuthorization:
		return "awaiting user authorization"
	case ExchangingCode:
		return "exchanging code"
	case Authenticated:
		return "authenticated"
	case Failed:
		return "failed"
	case Cancelled:
		return "cancelled"
	case TimedOut:
		return "timed out"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s >= Authenticated
}

const (
	CallbackPath = "/callback"

	DefaultTimeout       = 5 * time.Minute
	DefaultShutdownGrace = 250 * time.Millisecond
)

// Identity is what the backend reports about the owner of a token.
type Identity struct {
	UserID string
	Email  string
}

// IdentityFunc verifies accessToken against the backend's identity endpoint.
// A token the backend rejects is reported with an authentication error; any
// other error leaves the token's validity unknown.
type IdentityFunc func(ctx context.Context, accessToken string) (Identity, error)

// Options configures a Session.
type Options struct {
	// Provider names the credential in the store and in errors.
	Provider string

	AuthURL  string
	TokenURL string
	ClientID string
	Scopes   []string

	// CallbackPort is the fixed local port for the redirect listener. Zero
	// picks a free port.
	CallbackPort int
	Timeout      time.Duration
	// ShutdownGrace lets the browser response flush before the listener
	// closes.
	ShutdownGrace time.Duration

	Credentials credstore.Store
	Identity    IdentityFunc
	Opener      Opener
	Logger      *logging.Logger
	// HTTPClient is used for the token exchange.
	HTTPClient *http.Client
}

type result struct {
	state State
	creds provider.Credentials
	err   error
}

// Session is one login attempt. It is single-use.
type Session struct {
	opts Options

	state   atomic.Int32
	started atomic.Bool
	claimed atomic.Bool

	// exchange state, cleared once the flow resolves
	mu       sync.Mutex
	verifier string
	csrf     string
	oauth    *oauth2.Config
	flowCtx  context.Context

	settleOnce sync.Once
	done       chan struct{}
	result     result

	server       *http.Server
	listener     net.Listener
	shutdownOnce sync.Once
	authURL      string
}

// NewSession validates opts and returns an idle session.
func NewSession(opts Options) *Session {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.ShutdownGrace <= 0 {
		opts.ShutdownGrace = DefaultShutdownGrace
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	if opts.Opener == nil {
		opts.Opener = NewBrowserOpener(nil)
	}
	return &Session{opts: opts, done: make(chan struct{})}
}

// State returns the current state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// AuthURL is the authorization URL once the listener is up.
func (s *Session) AuthURL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authURL
}

// Login runs the flow to a terminal state. With force unset, a stored
// credential that still passes the identity check is returned as is.
// Cancelling ctx before authentication completes ends in Cancelled.
func (s *Session) Login(ctx context.Context, force bool) (provider.Credentials, error) {
	if !s.started.CompareAndSwap(false, true) {
		return provider.Credentials{}, fmt.Errorf("login session for %s has already been used", s.opts.Provider)
	}

	if err := ctx.Err(); err != nil {
		r, _ := s.settle(result{state: Cancelled, err: dserrors.AuthFlowAborted(s.opts.Provider, "login cancelled")})
		return r.creds, r.err
	}

	if creds, ok := s.reuse(ctx, force); ok {
		r, _ := s.settle(result{state: Authenticated, creds: creds})
		return r.creds, r.err
	}
	if err := ctx.Err(); err != nil {
		r, _ := s.settle(result{state: Cancelled, err: dserrors.AuthFlowAborted(s.opts.Provider, "login cancelled")})
		return r.creds, r.err
	}

	if err := s.listen(); err != nil {
		r, _ := s.settle(result{state: Failed, err: err})
		return r.creds, r.err
	}

	flowCtx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	s.mu.Lock()
	s.flowCtx = flowCtx
	s.mu.Unlock()

	s.state.Store(int32(AwaitingUserAuthorization))
	go func() {
		if err := s.server.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.opts.Logger.Debug("callback server stopped: %v", err)
		}
	}()

	authURL := s.AuthURL()
	s.opts.Logger.Info("Opening your browser to log in to %s", s.opts.Provider)
	s.opts.Logger.Info("If it does not open, visit:\n\n  %s\n", authURL)
	if err := s.opts.Opener.Open(flowCtx, authURL); err != nil {
		s.opts.Logger.Warn("Could not open a browser: %v", err)
	}

	select {
	case <-s.done:
	case <-flowCtx.Done():
		if ctx.Err() != nil {
			s.settle(result{state: Cancelled, err: dserrors.AuthFlowAborted(s.opts.Provider, "login cancelled")})
		} else {
			s.settle(result{state: TimedOut, err: dserrors.AuthFlowAborted(s.opts.Provider,
				fmt.Sprintf("no response from the browser within %s", s.opts.Timeout))})
		}
	}

	cancel()
	s.teardown()

	return s.result.creds, s.result.err
}

// reuse returns the stored credential when it is still valid. The stored
// credential is removed only when force is set or the backend rejects it.
func (s *Session) reuse(ctx context.Context, force bool) (provider.Credentials, bool) {
	if s.opts.Credentials == nil {
		return provider.Credentials{}, false
	}

	creds, ok, err := credstore.LoadCredentials(s.opts.Credentials, s.opts.Provider)
	if err != nil {
		s.opts.Logger.Warn("Could not read the stored credential for %s: %v", s.opts.Provider, err)
	}

	if ok && !force && s.opts.Identity != nil {
		identity, err := s.opts.Identity(ctx, creds.AccessToken)
		if err == nil {
			creds.UserID = identity.UserID
			creds.Email = identity.Email
			s.opts.Logger.Debug("Stored credential for %s is still valid", s.opts.Provider)
			return creds, true
		}
		if ctx.Err() != nil {
			return provider.Credentials{}, false
		}
		if !errors.Is(err, dserrors.ErrAuthentication) {
			s.opts.Logger.Warn("Could not verify the stored credential for %s: %v", s.opts.Provider, err)
			return provider.Credentials{}, false
		}
		s.opts.Logger.Debug("Stored credential for %s rejected: %v", s.opts.Provider, err)
	}

	if ok || force {
		if err := s.opts.Credentials.Delete(s.opts.Provider); err != nil {
			s.opts.Logger.Warn("Could not remove the stale credential for %s: %v", s.opts.Provider, err)
		}
	}
	return provider.Credentials{}, false
}

// listen binds the callback port and prepares the PKCE parameters.
func (s *Session) listen() error {
	listener, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", s.opts.CallbackPort))
	if err != nil {
		if errors.Is(err, syscall.EADDRINUSE) {
			return dserrors.Authentication(s.opts.Provider,
				fmt.Sprintf("callback port %d is already in use; another login may be in progress", s.opts.CallbackPort), err)
		}
		return dserrors.Authentication(s.opts.Provider, "cannot start the local callback listener", err)
	}

	port := listener.Addr().(*net.TCPAddr).Port
	csrf, err := randomToken()
	if err != nil {
		_ = listener.Close()
		return fmt.Errorf("generating state: %w", err)
	}

	cfg := &oauth2.Config{
		ClientID:    s.opts.ClientID,
		Endpoint:    oauth2.Endpoint{AuthURL: s.opts.AuthURL, TokenURL: s.opts.TokenURL, AuthStyle: oauth2.AuthStyleInParams},
		RedirectURL: fmt.Sprintf("http://127.0.0.1:%d%s", port, CallbackPath),
		Scopes:      s.opts.Scopes,
	}
	verifier := oauth2.GenerateVerifier()

	mux := http.NewServeMux()
	mux.HandleFunc(CallbackPath, s.handleCallback)

	s.mu.Lock()
	s.verifier = verifier
	s.csrf = csrf
	s.oauth = cfg
	s.authURL = cfg.AuthCodeURL(csrf, oauth2.S256ChallengeOption(verifier))
	s.mu.Unlock()

	s.listener = listener
	s.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return nil
}

func (s *Session) handleCallback(w http.ResponseWriter, r *http.Request) {
	// the first callback decides the outcome; retries are answered but ignored
	if s.State() != AwaitingUserAuthorization || !s.claimed.CompareAndSwap(false, true) {
		renderPage(w, http.StatusBadRequest, "Login already handled", "This login request has already been processed. You can close this tab.")
		return
	}

	s.mu.Lock()
	csrf, verifier, cfg, flowCtx := s.csrf, s.verifier, s.oauth, s.flowCtx
	s.mu.Unlock()

	q := r.URL.Query()
	if oauthErr := q.Get("error"); oauthErr != "" {
		if desc := q.Get("error_description"); desc != "" {
			oauthErr += ": " + desc
		}
		s.reject(w, http.StatusBadRequest, dserrors.Authentication(s.opts.Provider, "authorization denied: "+oauthErr, nil))
		return
	}
	if q.Get("state") != csrf {
		s.reject(w, http.StatusBadRequest, dserrors.Authentication(s.opts.Provider, "state mismatch in callback (possible CSRF)", nil))
		return
	}
	code := q.Get("code")
	if code == "" {
		s.reject(w, http.StatusBadRequest, dserrors.Authentication(s.opts.Provider, "no authorization code in callback", nil))
		return
	}

	if !s.state.CompareAndSwap(int32(AwaitingUserAuthorization), int32(ExchangingCode)) || flowCtx.Err() != nil {
		renderPage(w, http.StatusBadRequest, "Login no longer in progress", "The login was cancelled or timed out. Return to the terminal and try again.")
		return
	}

	s.opts.Logger.Debug("Exchanging authorization code %s", logging.Secret(code))
	exchangeCtx := flowCtx
	if s.opts.HTTPClient != nil {
		exchangeCtx = context.WithValue(flowCtx, oauth2.HTTPClient, s.opts.HTTPClient)
	}
	token, err := cfg.Exchange(exchangeCtx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		s.reject(w, http.StatusInternalServerError, dserrors.Authentication(s.opts.Provider, "token exchange failed", err))
		return
	}

	creds := provider.Credentials{AccessToken: token.AccessToken}
	if s.opts.Identity != nil {
		if err := flowCtx.Err(); err != nil {
			s.reject(w, http.StatusInternalServerError, dserrors.AuthFlowAborted(s.opts.Provider, "login cancelled"))
			return
		}
		identity, err := s.opts.Identity(flowCtx, token.AccessToken)
		if err != nil {
			s.reject(w, http.StatusInternalServerError, dserrors.Authentication(s.opts.Provider, "new token failed the identity check", err))
			return
		}
		creds.UserID = identity.UserID
		creds.Email = identity.Email
	}

	final, won := s.settle(result{state: Authenticated, creds: creds})
	switch {
	case !won:
		renderPage(w, http.StatusBadRequest, "Login no longer in progress", "The login was cancelled or timed out. Return to the terminal and try again.")
	case final.state != Authenticated:
		renderPage(w, http.StatusInternalServerError, "Login failed", final.err.Error())
	default:
		who := creds.Email
		if who == "" {
			who = creds.UserID
		}
		msg := "You are logged in. You can close this tab and return to the terminal."
		if who != "" {
			msg = fmt.Sprintf("Logged in as %s. You can close this tab and return to the terminal.", who)
		}
		renderPage(w, http.StatusOK, "Login successful", msg)
	}
}

func (s *Session) reject(w http.ResponseWriter, status int, err error) {
	if _, won := s.settle(result{state: Failed, err: err}); !won {
		renderPage(w, http.StatusBadRequest, "Login no longer in progress", "The login was cancelled or timed out. Return to the terminal and try again.")
		return
	}
	renderPage(w, status, "Login failed", err.Error())
}

// settle records the outcome. Only the first call wins; the credential is
// written as part of winning, so a late success after a timeout stores
// nothing.
func (s *Session) settle(r result) (result, bool) {
	won := false
	s.settleOnce.Do(func() {
		won = true
		if r.state == Authenticated && s.opts.Credentials != nil {
			if err := credstore.SaveCredentials(s.opts.Credentials, s.opts.Provider, r.creds); err != nil {
				r = result{state: Failed, err: dserrors.Authentication(s.opts.Provider, "cannot store the credential", err)}
			}
		}
		s.result = r
		s.state.Store(int32(r.state))

		s.mu.Lock()
		s.verifier = ""
		s.csrf = ""
		s.mu.Unlock()

		close(s.done)
	})
	<-s.done
	return s.result, won
}

// teardown stops the listener. Safe to call more than once.
func (s *Session) teardown() {
	s.shutdownOnce.Do(func() {
		if s.server == nil {
			return
		}
		if s.claimed.Load() {
			time.Sleep(s.opts.ShutdownGrace)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(ctx); err != nil {
			_ = s.server.Close()
		}
	})
}

func randomToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func renderPage(w http.ResponseWriter, status int, title, message string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_, _ = fmt.Fprintf(w, "<!DOCTYPE html><html><head><title>envlock: %[1]s</title></head><body><h1>%[1]s</h1><p>%[2]s</p></body></html>",
		html.EscapeString(title), html.EscapeString(message))
}
