package tokensource

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/halcyonic/drivectl/internal/store"
)

// ErrReauthorizationRequired indicates the stored refresh token was
// rejected by the provider. Not auto-recovered: the account must be
// re-added through the authorization flow.
var ErrReauthorizationRequired = errors.New("reauthorization required")

// DefaultExpiryMargin is the safety margin applied to cached access
// tokens: tokens expiring within it are treated as already expired.
const DefaultExpiryMargin = 60 * time.Second

// AccessorOption configures an Accessor.
type AccessorOption func(*Accessor)

// WithEndpoint overrides the provider's token endpoint.
func WithEndpoint(endpoint oauth2.Endpoint) AccessorOption {
	return func(a *Accessor) { a.endpoint = endpoint }
}

// WithHTTPClient sets the HTTP client used for refresh-token grants.
func WithHTTPClient(client *http.Client) AccessorOption {
	return func(a *Accessor) { a.httpClient = client }
}

// WithExpiryMargin overrides the cached-token safety margin.
func WithExpiryMargin(margin time.Duration) AccessorOption {
	return func(a *Accessor) { a.margin = margin }
}

// Accessor resolves stored accounts to valid access tokens.
type Accessor struct {
	accounts   store.AccountStore
	creds      store.ClientCredentials
	endpoint   oauth2.Endpoint
	httpClient *http.Client
	margin     time.Duration
}

// NewAccessor creates an Accessor over the given account store and shared
// client identity.
func NewAccessor(accounts store.AccountStore, creds store.ClientCredentials, opts ...AccessorOption) (*Accessor, error) {
	if accounts == nil {
		return nil, fmt.Errorf("missing account store")
	}
	if err := creds.Validate(); err != nil {
		return nil, err
	}

	a := &Accessor{
		accounts: accounts,
		creds:    creds,
		endpoint: oauth2.Endpoint{TokenURL: "https://oauth2.googleapis.com/token"},
		margin:   DefaultExpiryMargin,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Resolve returns a currently valid access token for identity. The cached
// token is returned unchanged if it survives the expiry margin; otherwise
// one refresh-token grant runs and the new token and expiry are written
// back to the store before returning.
func (a *Accessor) Resolve(ctx context.Context, identity string) (string, error) {
	token, err := a.resolveToken(ctx, identity)
	if err != nil {
		return "", err
	}
	return token.AccessToken, nil
}

func (a *Accessor) resolveToken(ctx context.Context, identity string) (*oauth2.Token, error) {
	acct, err := a.accounts.Get(ctx, identity)
	if err != nil {
		return nil, err
	}

	if acct.AccessToken != "" && time.Until(acct.AccessTokenExpiry) > a.margin {
		return &oauth2.Token{
			AccessToken: acct.AccessToken,
			TokenType:   "Bearer",
			Expiry:      acct.AccessTokenExpiry,
		}, nil
	}

	fresh, err := a.refresh(ctx, acct)
	if err != nil {
		return nil, err
	}

	// Write back before returning so a crash after this point never loses
	// the rotation, then return the token from the persisted record.
	updated, err := a.accounts.Update(ctx, identity, func(rec *store.Account) {
		rec.AccessToken = fresh.AccessToken
		rec.AccessTokenExpiry = fresh.Expiry
		// Providers may rotate the refresh token on a refresh grant
		if fresh.RefreshToken != "" {
			rec.RefreshToken = fresh.RefreshToken
		}
	})
	if err != nil {
		return nil, fmt.Errorf("persisting refreshed token for %s: %w", identity, err)
	}

	return &oauth2.Token{
		AccessToken: updated.AccessToken,
		TokenType:   "Bearer",
		Expiry:      updated.AccessTokenExpiry,
	}, nil
}

// refresh performs one refresh-token grant against the provider's token
// endpoint. Never retried here.
func (a *Accessor) refresh(ctx context.Context, acct store.Account) (*oauth2.Token, error) {
	conf := &oauth2.Config{
		ClientID:     a.creds.ClientID,
		ClientSecret: a.creds.ClientSecret,
		Endpoint:     a.endpoint,
	}

	if a.httpClient != nil {
		// oauth2 reads a custom HTTP client from the context
		ctx = context.WithValue(ctx, oauth2.HTTPClient, a.httpClient)
	}

	token, err := conf.TokenSource(ctx, &oauth2.Token{RefreshToken: acct.RefreshToken}).Token()
	if err != nil {
		if isInvalidGrant(err) {
			// The stored refresh token stays untouched; deleting the
			// account is the user's call.
			return nil, fmt.Errorf("%w: account %s: %v", ErrReauthorizationRequired, acct.Identity, err)
		}
		return nil, fmt.Errorf("refreshing access token for %s: %w", acct.Identity, err)
	}
	if token.AccessToken == "" {
		return nil, fmt.Errorf("refreshing access token for %s: provider returned no access token", acct.Identity)
	}
	return token, nil
}

// isInvalidGrant reports whether a refresh failure means the refresh token
// itself is revoked or invalid, as opposed to a transport failure that a
// later invocation may not hit.
func isInvalidGrant(err error) bool {
	var retrieveErr *oauth2.RetrieveError
	if !errors.As(err, &retrieveErr) {
		return false
	}
	if retrieveErr.ErrorCode == "invalid_grant" {
		return true
	}
	// Some providers return a non-JSON body the oauth2 package cannot
	// pick an error code from
	return retrieveErr.ErrorCode == "" && strings.Contains(string(retrieveErr.Body), "invalid_grant")
}

// Source returns an oauth2.TokenSource bound to one identity, for
// attaching tokens to outgoing API calls via oauth2.Transport.
func (a *Accessor) Source(identity string) oauth2.TokenSource {
	return &accountSource{accessor: a, identity: identity}
}

// accountSource adapts Resolve to the oauth2.TokenSource interface.
type accountSource struct {
	accessor *Accessor
	identity string
}

// Compile-time check that accountSource implements oauth2.TokenSource.
var _ oauth2.TokenSource = (*accountSource)(nil)

// Token returns a valid token for the bound identity.
// oauth2.TokenSource.Token() has no context parameter (legacy interface
// limitation), so a background context is used.
func (s *accountSource) Token() (*oauth2.Token, error) {
	return s.accessor.resolveToken(context.Background(), s.identity)
}
