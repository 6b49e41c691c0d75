package store

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// ClientCredentials is the OAuth client identity shared by all accounts.
// It is set once by the operator and overwritten wholesale, never merged.
type ClientCredentials struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
}

// Validate reports whether both halves of the pair are present.
func (c ClientCredentials) Validate() error {
	if strings.TrimSpace(c.ClientID) == "" {
		return fmt.Errorf("client id cannot be empty")
	}
	if strings.TrimSpace(c.ClientSecret) == "" {
		return fmt.Errorf("client secret cannot be empty")
	}
	return nil
}

// Account is one authorized identity and its token material.
// RefreshToken is never empty once a record exists; AccessToken and
// AccessTokenExpiry are cache fields mutated on every refresh.
type Account struct {
	Identity          string    `json:"identity"`
	RefreshToken      string    `json:"refresh_token"`
	AccessToken       string    `json:"access_token,omitempty"`
	AccessTokenExpiry time.Time `json:"access_token_expiry,omitzero"`
}

// Validate reports whether the record is complete enough to persist.
// A record without a usable refresh token is never stored.
func (a Account) Validate() error {
	if strings.TrimSpace(a.Identity) == "" {
		return fmt.Errorf("account identity cannot be empty")
	}
	if a.RefreshToken == "" {
		return fmt.Errorf("account %s has no refresh token", a.Identity)
	}
	return nil
}

// CredentialRegistry reads and writes the single client credential pair.
type CredentialRegistry interface {
	// Set persists the pair, replacing any prior value. Overwriting is an
	// idempotent administrative operation, not an error.
	Set(ctx context.Context, creds ClientCredentials) error

	// GetCredentials returns the stored pair. Returns ErrNotConfigured if no
	// pair has been set; callers must treat absence as a precondition failure
	// for any authorization attempt.
	GetCredentials(ctx context.Context) (ClientCredentials, error)
}

// AccountStore is the durable mapping from identity to token material.
type AccountStore interface {
	// Add persists a new record. Returns ErrDuplicateAccount if the
	// identity is already present; an existing refresh token is never
	// silently overwritten.
	Add(ctx context.Context, acct Account) error

	// Remove deletes the record for identity and reports whether one
	// existed. Removing an absent identity is not an error.
	Remove(ctx context.Context, identity string) (bool, error)

	// List returns all records in insertion order.
	List(ctx context.Context) ([]Account, error)

	// Get returns the record for identity, or ErrAccountNotFound.
	Get(ctx context.Context, identity string) (Account, error)

	// Update applies mutate to the record for identity under the store
	// lock and persists the result atomically. Returns the updated record,
	// or ErrAccountNotFound if no record exists.
	Update(ctx context.Context, identity string, mutate func(*Account)) (Account, error)
}
