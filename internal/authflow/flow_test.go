package authflow

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/halcyonic/drivectl/internal/store"
)

const testAuthURL = "https://provider.example/auth"

var testCredentials = store.ClientCredentials{ClientID: "abc", ClientSecret: "xyz"}

// tokenEndpoint is a stub provider token endpoint that counts exchanges.
type tokenEndpoint struct {
	srv          *httptest.Server
	calls        atomic.Int32
	refreshToken string
}

func newTokenEndpoint(t *testing.T) *tokenEndpoint {
	t.Helper()
	te := &tokenEndpoint{refreshToken: "refresh-123"}
	te.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		te.calls.Add(1)

		response := map[string]any{
			"access_token": "at-123",
			"token_type":   "Bearer",
			"expires_in":   3600,
		}
		if te.refreshToken != "" {
			response["refresh_token"] = te.refreshToken
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(response)
	}))
	t.Cleanup(te.srv.Close)
	return te
}

func (te *tokenEndpoint) endpoint() oauth2.Endpoint {
	return oauth2.Endpoint{AuthURL: testAuthURL, TokenURL: te.srv.URL}
}

// authURLFromOutput digs the printed consent URL out of the user
// instructions, the same way a user would copy it.
func authURLFromOutput(t *testing.T, out *bytes.Buffer) *url.URL {
	t.Helper()
	for _, line := range strings.Split(out.String(), "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, testAuthURL+"?") {
			u, err := url.Parse(line)
			if err != nil {
				t.Fatalf("parsing consent URL: %v", err)
			}
			return u
		}
	}
	t.Fatalf("no consent URL in flow output:\n%s", out.String())
	return nil
}

// manualReader builds a redirect reader that echoes the session's real
// state (read from the printed consent URL) unless a forged one is given.
func manualReader(t *testing.T, out *bytes.Buffer, params url.Values, forgedState string) func(context.Context) (string, error) {
	t.Helper()
	return func(context.Context) (string, error) {
		redirect := url.Values{}
		for key, values := range params {
			redirect[key] = values
		}
		if forgedState != "" {
			redirect.Set("state", forgedState)
		} else if redirect.Get("state") == "" {
			redirect.Set("state", authURLFromOutput(t, out).Query().Get("state"))
		}
		return DefaultManualRedirectURI + "?" + redirect.Encode(), nil
	}
}

func TestManualFlow(t *testing.T) {
	te := newTokenEndpoint(t)
	var out bytes.Buffer

	f := New(testCredentials,
		WithEndpoint(te.endpoint()),
		WithOutput(&out),
		WithRedirectReader(manualReader(t, &out, url.Values{"code": {"CODE123"}}, "")),
	)

	result, err := f.AuthorizeManual(context.Background())
	if err != nil {
		t.Fatalf("AuthorizeManual: %v", err)
	}
	if result.RefreshToken != "refresh-123" {
		t.Errorf("refresh token = %q, want %q", result.RefreshToken, "refresh-123")
	}
	if result.AccessToken != "at-123" {
		t.Errorf("access token = %q, want %q", result.AccessToken, "at-123")
	}
	if calls := te.calls.Load(); calls != 1 {
		t.Errorf("token endpoint calls = %d, want 1", calls)
	}
	if f.Phase() != PhaseComplete {
		t.Errorf("phase = %s, want complete", f.Phase())
	}
}

func TestManualFlowForgedState(t *testing.T) {
	te := newTokenEndpoint(t)
	var out bytes.Buffer

	f := New(testCredentials,
		WithEndpoint(te.endpoint()),
		WithOutput(&out),
		WithRedirectReader(manualReader(t, &out, url.Values{"code": {"CODE123"}}, "forged-state")),
	)

	_, err := f.AuthorizeManual(context.Background())
	if !errors.Is(err, ErrStateMismatch) {
		t.Fatalf("AuthorizeManual = %v, want ErrStateMismatch", err)
	}
	// A forged state must never reach the token endpoint
	if calls := te.calls.Load(); calls != 0 {
		t.Errorf("token endpoint calls = %d, want 0", calls)
	}
}

func TestManualFlowUserDenied(t *testing.T) {
	te := newTokenEndpoint(t)
	var out bytes.Buffer

	f := New(testCredentials,
		WithEndpoint(te.endpoint()),
		WithOutput(&out),
		WithRedirectReader(manualReader(t, &out, url.Values{"error": {"access_denied"}}, "")),
	)

	_, err := f.AuthorizeManual(context.Background())
	if !errors.Is(err, ErrUserDenied) {
		t.Fatalf("AuthorizeManual = %v, want ErrUserDenied", err)
	}
	if calls := te.calls.Load(); calls != 0 {
		t.Errorf("token endpoint calls = %d, want 0", calls)
	}
}

func TestManualFlowNoRefreshToken(t *testing.T) {
	te := newTokenEndpoint(t)
	te.refreshToken = ""
	var out bytes.Buffer

	f := New(testCredentials,
		WithEndpoint(te.endpoint()),
		WithOutput(&out),
		WithRedirectReader(manualReader(t, &out, url.Values{"code": {"CODE123"}}, "")),
	)

	_, err := f.AuthorizeManual(context.Background())
	if !errors.Is(err, ErrTokenExchangeFailed) {
		t.Fatalf("AuthorizeManual = %v, want ErrTokenExchangeFailed", err)
	}
}

// driveRedirect simulates the provider's browser redirect against the
// flow's loopback listener.
func driveRedirect(t *testing.T, opened <-chan string, forgedState string) {
	t.Helper()
	go func() {
		consentURL, err := url.Parse(<-opened)
		if err != nil {
			t.Errorf("parsing consent URL: %v", err)
			return
		}
		query := consentURL.Query()

		state := query.Get("state")
		if forgedState != "" {
			state = forgedState
		}
		redirect := query.Get("redirect_uri") + "?" + url.Values{
			"code":  {"CODE123"},
			"state": {state},
		}.Encode()

		resp, err := http.Get(redirect)
		if err != nil {
			t.Errorf("redirect request: %v", err)
			return
		}
		_ = resp.Body.Close()
	}()
}

func TestBrowserFlow(t *testing.T) {
	te := newTokenEndpoint(t)
	opened := make(chan string, 1)

	f := New(testCredentials,
		WithEndpoint(te.endpoint()),
		WithOutput(io.Discard),
		WithTimeout(5*time.Second),
		WithBrowserOpener(func(u string) error {
			opened <- u
			return nil
		}),
	)
	driveRedirect(t, opened, "")

	result, err := f.Authorize(context.Background())
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if result.RefreshToken != "refresh-123" {
		t.Errorf("refresh token = %q, want %q", result.RefreshToken, "refresh-123")
	}
	if calls := te.calls.Load(); calls != 1 {
		t.Errorf("token endpoint calls = %d, want 1", calls)
	}
}

func TestBrowserFlowForgedState(t *testing.T) {
	te := newTokenEndpoint(t)
	opened := make(chan string, 1)

	f := New(testCredentials,
		WithEndpoint(te.endpoint()),
		WithOutput(io.Discard),
		WithTimeout(5*time.Second),
		WithBrowserOpener(func(u string) error {
			opened <- u
			return nil
		}),
	)
	driveRedirect(t, opened, "forged-state")

	_, err := f.Authorize(context.Background())
	if !errors.Is(err, ErrStateMismatch) {
		t.Fatalf("Authorize = %v, want ErrStateMismatch", err)
	}
	if calls := te.calls.Load(); calls != 0 {
		t.Errorf("token endpoint calls = %d, want 0", calls)
	}
}

func TestBrowserFlowTimeout(t *testing.T) {
	te := newTokenEndpoint(t)

	f := New(testCredentials,
		WithEndpoint(te.endpoint()),
		WithOutput(io.Discard),
		WithTimeout(100*time.Millisecond),
		WithBrowserOpener(func(string) error { return nil }),
	)

	_, err := f.Authorize(context.Background())
	if !errors.Is(err, ErrAuthorizationTimeout) {
		t.Fatalf("Authorize = %v, want ErrAuthorizationTimeout", err)
	}
}

func TestBrowserFlowCancellation(t *testing.T) {
	te := newTokenEndpoint(t)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	f := New(testCredentials,
		WithEndpoint(te.endpoint()),
		WithOutput(io.Discard),
		WithTimeout(5*time.Second),
		WithBrowserOpener(func(string) error { return nil }),
	)

	_, err := f.Authorize(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Authorize = %v, want context.Canceled", err)
	}
}

// TestManualAuthorizationStoresAccount walks the full add-account path:
// configured credentials, manual consent with a pasted redirect URL, and
// a stored record with a usable refresh token. A second add for the same
// identity fails without touching the token endpoint again.
func TestManualAuthorizationStoresAccount(t *testing.T) {
	ctx := context.Background()
	te := newTokenEndpoint(t)

	fileStore, err := store.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	if err := fileStore.Set(ctx, testCredentials); err != nil {
		t.Fatalf("Set: %v", err)
	}
	creds, err := fileStore.GetCredentials(ctx)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}

	var out bytes.Buffer
	f := New(creds,
		WithEndpoint(te.endpoint()),
		WithOutput(&out),
		WithRedirectReader(manualReader(t, &out, url.Values{"code": {"CODE123"}}, "")),
	)

	result, err := f.AuthorizeManual(ctx)
	if err != nil {
		t.Fatalf("AuthorizeManual: %v", err)
	}

	acct := store.Account{
		Identity:          "alice@example.com",
		RefreshToken:      result.RefreshToken,
		AccessToken:       result.AccessToken,
		AccessTokenExpiry: result.Expiry,
	}
	if err := fileStore.Add(ctx, acct); err != nil {
		t.Fatalf("Add: %v", err)
	}

	got, err := fileStore.Get(ctx, "alice@example.com")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.RefreshToken == "" {
		t.Error("stored account has no refresh token")
	}

	callsBefore := te.calls.Load()
	if err := fileStore.Add(ctx, acct); !errors.Is(err, store.ErrDuplicateAccount) {
		t.Errorf("second Add = %v, want ErrDuplicateAccount", err)
	}
	if calls := te.calls.Load(); calls != callsBefore {
		t.Errorf("duplicate add reached the token endpoint (%d calls, was %d)", calls, callsBefore)
	}
}

func TestStateTokensAreUnique(t *testing.T) {
	seen := make(map[string]bool)
	for range 64 {
		state, err := newStateToken()
		if err != nil {
			t.Fatalf("newStateToken: %v", err)
		}
		if len(state) < 40 {
			t.Fatalf("state token %q too short", state)
		}
		if seen[state] {
			t.Fatalf("state token %q repeated", state)
		}
		seen[state] = true
	}
}
