package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

// KeyringRegistry stores the client credential pair in OS-native secure
// storage. Uses macOS Keychain, Windows Credential Manager, or Linux
// Secret Service.
type KeyringRegistry struct {
	service string
	user    string
}

// Compile-time check to ensure KeyringRegistry implements CredentialRegistry
var _ CredentialRegistry = (*KeyringRegistry)(nil)

// NewKeyringRegistry creates a KeyringRegistry using the given service and
// user identifiers.
func NewKeyringRegistry(service, user string) (*KeyringRegistry, error) {
	if service == "" {
		return nil, fmt.Errorf("service cannot be empty")
	}
	if user == "" {
		return nil, fmt.Errorf("user cannot be empty")
	}

	return &KeyringRegistry{
		service: service,
		user:    user,
	}, nil
}

// Set persists the pair to the system keyring as a JSON blob, overwriting
// any existing value.
func (k *KeyringRegistry) Set(ctx context.Context, creds ClientCredentials) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := creds.Validate(); err != nil {
		return err
	}

	data, err := json.Marshal(creds)
	if err != nil {
		return err
	}
	return keyring.Set(k.service, k.user, string(data))
}

// GetCredentials returns the pair from the system keyring, or
// ErrNotConfigured if no entry exists.
func (k *KeyringRegistry) GetCredentials(ctx context.Context) (ClientCredentials, error) {
	if err := ctx.Err(); err != nil {
		return ClientCredentials{}, err
	}

	data, err := keyring.Get(k.service, k.user)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return ClientCredentials{}, ErrNotConfigured
		}
		return ClientCredentials{}, err
	}

	var creds ClientCredentials
	if err := json.Unmarshal([]byte(data), &creds); err != nil {
		return ClientCredentials{}, fmt.Errorf("%w: keyring entry %s/%s: %v", ErrCorruptStore, k.service, k.user, err)
	}
	if creds.Validate() != nil {
		return ClientCredentials{}, fmt.Errorf("%w: keyring entry %s/%s: incomplete client credentials", ErrCorruptStore, k.service, k.user)
	}
	return creds, nil
}
