package authflow

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/halcyonic/drivectl/internal/browser"
	"github.com/halcyonic/drivectl/internal/store"
)

// Endpoint defines the default OAuth2 endpoints (Google's, the Drive
// provider this tool ships configured for).
var Endpoint = oauth2.Endpoint{
	AuthURL:  "https://accounts.google.com/o/oauth2/auth",
	TokenURL: "https://oauth2.googleapis.com/token",
}

// DefaultScopes is the access requested during consent.
var DefaultScopes = []string{"https://www.googleapis.com/auth/drive"}

// DefaultManualRedirectURI is the fixed redirect_uri used by the manual
// variant, where no listener is bound. The browser's navigation to it
// fails; the user copies the resulting URL from the address bar and
// pastes it back.
const DefaultManualRedirectURI = "http://127.0.0.1:8085/callback"

// DefaultTimeout bounds the wait for the provider's redirect.
const DefaultTimeout = 5 * time.Minute

// Phase is the explicit state of an in-progress authorization session.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseAwaitingRedirect
	PhaseExchanging
	PhaseComplete
)

// String returns the phase name for logs.
func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseAwaitingRedirect:
		return "awaiting_redirect"
	case PhaseExchanging:
		return "exchanging"
	case PhaseComplete:
		return "complete"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Result is the outcome of a successful authorization: a refresh token,
// and typically a short-lived access token the caller may cache.
type Result struct {
	RefreshToken string
	AccessToken  string
	Expiry       time.Time
}

// Option configures a Flow.
type Option func(*Flow)

// WithTimeout sets the bounded wait for the provider's redirect.
func WithTimeout(d time.Duration) Option {
	return func(f *Flow) { f.timeout = d }
}

// WithEndpoint overrides the provider's OAuth2 endpoints.
func WithEndpoint(endpoint oauth2.Endpoint) Option {
	return func(f *Flow) { f.endpoint = endpoint }
}

// WithScopes overrides the requested scopes.
func WithScopes(scopes ...string) Option {
	return func(f *Flow) { f.scopes = scopes }
}

// WithManualRedirectURI overrides the fixed redirect_uri of the manual variant.
func WithManualRedirectURI(uri string) Option {
	return func(f *Flow) { f.manualRedirectURI = uri }
}

// WithHTTPClient sets the HTTP client used for the token exchange.
func WithHTTPClient(client *http.Client) Option {
	return func(f *Flow) { f.httpClient = client }
}

// WithBrowserOpener replaces how the consent URL is opened.
func WithBrowserOpener(open func(url string) error) Option {
	return func(f *Flow) { f.openBrowser = open }
}

// WithRedirectReader replaces how the manual variant reads the pasted
// redirect URL.
func WithRedirectReader(read func(ctx context.Context) (string, error)) Option {
	return func(f *Flow) { f.readRedirect = read }
}

// WithOutput sets where user instructions are printed.
func WithOutput(w io.Writer) Option {
	return func(f *Flow) { f.out = w }
}

// Flow runs one authorization session. A Flow is single-use state:
// create one per `accounts add` invocation.
type Flow struct {
	creds             store.ClientCredentials
	endpoint          oauth2.Endpoint
	scopes            []string
	timeout           time.Duration
	manualRedirectURI string
	httpClient        *http.Client
	openBrowser       func(url string) error
	readRedirect      func(ctx context.Context) (string, error)
	out               io.Writer
	logger            *slog.Logger

	mu    sync.Mutex
	phase Phase
}

// New creates a Flow for the given client identity.
func New(creds store.ClientCredentials, opts ...Option) *Flow {
	f := &Flow{
		creds:             creds,
		endpoint:          Endpoint,
		scopes:            DefaultScopes,
		timeout:           DefaultTimeout,
		manualRedirectURI: DefaultManualRedirectURI,
		openBrowser:       browser.OpenURL,
		readRedirect:      readLine,
		out:               os.Stderr,
		phase:             PhaseIdle,
	}
	for _, opt := range opts {
		opt(f)
	}
	f.logger = slog.Default().With("session", uuid.NewString())
	return f
}

// Phase returns the session's current phase.
func (f *Flow) Phase() Phase {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.phase
}

func (f *Flow) setPhase(p Phase) {
	f.mu.Lock()
	f.phase = p
	f.mu.Unlock()
	f.logger.Debug("authorization phase transition", "phase", p.String())
}

// Authorize runs the browser-interactive variant: bind a loopback
// listener, direct the user's browser at the consent endpoint, intercept
// the redirect, and exchange the code. The listener is closed on every
// exit path.
func (f *Flow) Authorize(ctx context.Context) (*Result, error) {
	if err := f.creds.Validate(); err != nil {
		return nil, err
	}

	state, err := newStateToken()
	if err != nil {
		return nil, err
	}

	listener, err := newRedirectListener(f.logger)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := listener.Close(); err != nil {
			f.logger.Warn("failed to close redirect listener", "error", err)
		}
	}()

	f.setPhase(PhaseAwaitingRedirect)

	conf := f.oauthConfig(listener.RedirectURI())
	authURL := conf.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.SetAuthURLParam("prompt", "consent"))
	f.present(authURL)

	cb, err := listener.Wait(ctx, f.timeout)
	if err != nil {
		return nil, err
	}
	if err := checkCallback(cb, state); err != nil {
		return nil, err
	}

	return f.exchange(ctx, conf, cb.code)
}

// AuthorizeManual runs the copy-paste variant: the user completes consent
// in any browser and pastes the full resulting redirect URL back. No
// listener is bound. The pasted URL goes through the same state-mismatch
// and user-denial checks as the intercepted redirect.
func (f *Flow) AuthorizeManual(ctx context.Context) (*Result, error) {
	if err := f.creds.Validate(); err != nil {
		return nil, err
	}

	state, err := newStateToken()
	if err != nil {
		return nil, err
	}

	f.setPhase(PhaseAwaitingRedirect)

	conf := f.oauthConfig(f.manualRedirectURI)
	authURL := conf.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.SetAuthURLParam("prompt", "consent"))

	fmt.Fprintf(f.out, "Open the following URL in a browser and approve access:\n\n%s\n\n", authURL)
	fmt.Fprintf(f.out, "The browser will end up on an unreachable %s page.\nCopy that full URL from the address bar and paste it here.\n\nRedirect URL: ", f.manualRedirectURI)

	raw, err := f.readRedirect(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading redirect URL: %w", err)
	}

	cb, err := parseRedirectURL(raw)
	if err != nil {
		return nil, err
	}
	if err := checkCallback(cb, state); err != nil {
		return nil, err
	}

	return f.exchange(ctx, conf, cb.code)
}

// present opens the consent URL in the default browser, falling back to
// printing it. A side effect, not a protocol step: failures never abort
// the session.
func (f *Flow) present(authURL string) {
	fmt.Fprintf(f.out, "Opening the authorization page in your browser.\nIf it does not open, navigate to:\n\n%s\n\n", authURL)
	if err := f.openBrowser(authURL); err != nil {
		f.logger.Warn("failed to open browser, URL printed instead", "error", err)
	}
}

// exchange trades the authorization code for tokens. Network or provider
// errors are terminal and not retried.
func (f *Flow) exchange(ctx context.Context, conf *oauth2.Config, code string) (*Result, error) {
	f.setPhase(PhaseExchanging)

	if f.httpClient != nil {
		// oauth2 reads a custom HTTP client from the context
		ctx = context.WithValue(ctx, oauth2.HTTPClient, f.httpClient)
	}

	token, err := conf.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenExchangeFailed, err)
	}
	if token.RefreshToken == "" {
		return nil, fmt.Errorf("%w: provider returned no refresh token", ErrTokenExchangeFailed)
	}

	f.setPhase(PhaseComplete)
	return &Result{
		RefreshToken: token.RefreshToken,
		AccessToken:  token.AccessToken,
		Expiry:       token.Expiry,
	}, nil
}

func (f *Flow) oauthConfig(redirectURI string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     f.creds.ClientID,
		ClientSecret: f.creds.ClientSecret,
		RedirectURL:  redirectURI,
		Scopes:       f.scopes,
		Endpoint:     f.endpoint,
	}
}

// checkCallback applies the redirect checks in protocol order: provider
// error, then state, then code presence.
func checkCallback(cb callback, wantState string) error {
	if cb.errCode != "" {
		return fmt.Errorf("%w: provider returned %q", ErrUserDenied, cb.errCode)
	}
	if cb.state != wantState {
		return ErrStateMismatch
	}
	if cb.code == "" {
		return fmt.Errorf("%w: redirect carried no code", ErrUserDenied)
	}
	return nil
}

// parseRedirectURL extracts the callback parameters from a pasted
// redirect URL.
func parseRedirectURL(raw string) (callback, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return callback{}, fmt.Errorf("invalid redirect URL: %w", err)
	}
	query := u.Query()
	return callback{
		code:    query.Get("code"),
		state:   query.Get("state"),
		errCode: query.Get("error"),
	}, nil
}

// newStateToken generates the cryptographically random state value echoed
// through the redirect to detect forged or replayed responses.
func newStateToken() (string, error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate state token: %w", err)
	}
	return base64.URLEncoding.WithPadding(base64.NoPadding).EncodeToString(bytes), nil
}

// readLine is the default manual-variant input: one line from stdin.
func readLine(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
