// Package app holds the application configuration: defaults, validation,
// and constructors for the storage backends the config selects.
package app

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/user"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/oauth2"

	"github.com/halcyonic/drivectl/internal/authflow"
	"github.com/halcyonic/drivectl/internal/drive"
	"github.com/halcyonic/drivectl/internal/store"
)

// LogFormat represents the logging output format.
type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

// CredentialStorageType represents where the OAuth client identity lives.
type CredentialStorageType string

const (
	CredentialStorageTypeFile    CredentialStorageType = "file"
	CredentialStorageTypeEnv     CredentialStorageType = "env"
	CredentialStorageTypeKeyring CredentialStorageType = "keyring"
)

// Default configuration values
const (
	DefaultConfigLogFormat         = LogFormatText
	DefaultConfigCredentialStorage = CredentialStorageTypeFile
	DefaultKeyringService          = "drivectl-oauth-client"

	envClientIDKey     = "DRIVECTL_CLIENT_ID"
	envClientSecretKey = "DRIVECTL_CLIENT_SECRET"
)

// StorageConfig holds durable-store configuration.
type StorageConfig struct {
	// Dir is where the account list (and file-backed credentials) live.
	Dir string `json:"dir"`

	// Credentials selects the client-credential backend. Env is read-only:
	// `accounts credentials` requires file or keyring.
	Credentials CredentialStorageType `json:"credentials" validate:"required,oneof=file env keyring"`

	// KeyringUser identifies the keyring entry (keyring backend only).
	KeyringUser string `json:"keyring_user,omitempty"`
}

// OAuthConfig holds provider endpoint configuration for the consent flow
// and token grants.
type OAuthConfig struct {
	AuthURL           string        `json:"auth_url" validate:"required,url"`
	TokenURL          string        `json:"token_url" validate:"required,url"`
	Scopes            []string      `json:"scopes" validate:"required,min=1"`
	FlowTimeout       time.Duration `json:"flow_timeout"`
	ManualRedirectURI string        `json:"manual_redirect_uri" validate:"required,url"`
}

// Endpoint returns the provider endpoints in oauth2 form.
func (o OAuthConfig) Endpoint() oauth2.Endpoint {
	return oauth2.Endpoint{AuthURL: o.AuthURL, TokenURL: o.TokenURL}
}

// RemoteConfig holds storage API endpoint configuration.
type RemoteConfig struct {
	BaseURL       string `json:"base_url" validate:"required,url"`
	UploadBaseURL string `json:"upload_base_url" validate:"required,url"`
}

// Config holds the application's configuration.
type Config struct {
	// LogLevel for logging output (defaults to Info if unset).
	LogLevel  slog.Level    `json:"log_level"`
	LogFormat LogFormat     `json:"log_format" validate:"oneof=text json"`
	Account   string        `json:"account"` // default identity for remote operations
	Storage   StorageConfig `json:"storage"`
	OAuth     OAuthConfig   `json:"oauth"`
	Remote    RemoteConfig  `json:"remote"`
}

// Default creates a new Config with default values applied.
func Default() (*Config, error) {
	cfg := &Config{}
	if err := cfg.ApplyDefaults(); err != nil {
		return nil, fmt.Errorf("failed to apply defaults: %w", err)
	}
	return cfg, nil
}

// ApplyDefaults fills unset config fields with sensible defaults.
func (c *Config) ApplyDefaults() error {
	if c.LogFormat == "" {
		c.LogFormat = DefaultConfigLogFormat
	}
	if c.Storage.Credentials == "" {
		c.Storage.Credentials = DefaultConfigCredentialStorage
	}
	if c.Storage.Dir == "" {
		configDir, err := os.UserConfigDir()
		if err != nil {
			return fmt.Errorf("storage.dir required (auto-detect failed: %w)", err)
		}
		c.Storage.Dir = filepath.Join(configDir, "drivectl")
	}
	if c.Storage.Credentials == CredentialStorageTypeKeyring && c.Storage.KeyringUser == "" {
		currentUser, err := user.Current()
		if err != nil {
			return fmt.Errorf("storage.keyring_user required (auto-detect failed: %w)", err)
		}
		c.Storage.KeyringUser = currentUser.Username
	}

	if c.OAuth.AuthURL == "" {
		c.OAuth.AuthURL = authflow.Endpoint.AuthURL
	}
	if c.OAuth.TokenURL == "" {
		c.OAuth.TokenURL = authflow.Endpoint.TokenURL
	}
	if len(c.OAuth.Scopes) == 0 {
		c.OAuth.Scopes = authflow.DefaultScopes
	}
	if c.OAuth.FlowTimeout == 0 {
		c.OAuth.FlowTimeout = authflow.DefaultTimeout
	}
	if c.OAuth.ManualRedirectURI == "" {
		c.OAuth.ManualRedirectURI = authflow.DefaultManualRedirectURI
	}

	if c.Remote.BaseURL == "" {
		c.Remote.BaseURL = drive.DefaultBaseURL
	}
	if c.Remote.UploadBaseURL == "" {
		c.Remote.UploadBaseURL = drive.DefaultUploadBaseURL
	}

	return nil
}

// Validate validates the configuration using struct tags and enum values.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}

	if c.Storage.Credentials == CredentialStorageTypeKeyring && c.Storage.KeyringUser == "" {
		return errors.New("keyring_user required for keyring credential storage")
	}
	if c.OAuth.FlowTimeout <= 0 {
		return errors.New("oauth.flow_timeout must be positive")
	}

	return nil
}

// NewFileStore opens the file-backed store under the configured directory.
// Accounts always live here; interactive authorization requires writable
// storage.
func (c *Config) NewFileStore() (*store.FileStore, error) {
	return store.NewFileStore(c.Storage.Dir)
}

// NewCredentialRegistry creates the configured client-credential backend.
// fileStore backs the "file" type so both records share one directory.
func (c *Config) NewCredentialRegistry(fileStore *store.FileStore) (store.CredentialRegistry, error) {
	switch c.Storage.Credentials {
	case CredentialStorageTypeFile:
		return fileStore, nil
	case CredentialStorageTypeEnv:
		return store.NewEnvRegistry(envClientIDKey, envClientSecretKey)
	case CredentialStorageTypeKeyring:
		return store.NewKeyringRegistry(DefaultKeyringService, c.Storage.KeyringUser)
	default:
		return nil, fmt.Errorf("unsupported credential storage type: %s", c.Storage.Credentials)
	}
}
