package store

import (
	"context"
	"fmt"
	"os"
)

// EnvRegistry provides read-only access to client credentials stored in
// environment variables. Suitable for CI and containers where secrets are
// injected externally; Set is rejected.
type EnvRegistry struct {
	idKey     string
	secretKey string
}

// Compile-time check to ensure EnvRegistry implements CredentialRegistry
var _ CredentialRegistry = (*EnvRegistry)(nil)

// NewEnvRegistry creates an EnvRegistry reading from the given environment
// variables. Returns error if either name is empty.
func NewEnvRegistry(idKey, secretKey string) (*EnvRegistry, error) {
	if idKey == "" || secretKey == "" {
		return nil, fmt.Errorf("environment keys cannot be empty")
	}

	return &EnvRegistry{
		idKey:     idKey,
		secretKey: secretKey,
	}, nil
}

// Set is not supported for environment variables (they are read-only).
func (e *EnvRegistry) Set(ctx context.Context, creds ClientCredentials) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return fmt.Errorf("environment credential storage is read-only")
}

// GetCredentials returns the credentials from the environment. Returns
// ErrNotConfigured if either variable is unset or empty.
func (e *EnvRegistry) GetCredentials(ctx context.Context) (ClientCredentials, error) {
	if err := ctx.Err(); err != nil {
		return ClientCredentials{}, err
	}

	creds := ClientCredentials{
		ClientID:     os.Getenv(e.idKey),
		ClientSecret: os.Getenv(e.secretKey),
	}
	if creds.Validate() != nil {
		return ClientCredentials{}, fmt.Errorf("%w: %s/%s not set", ErrNotConfigured, e.idKey, e.secretKey)
	}
	return creds, nil
}
