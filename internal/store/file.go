package store

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

const (
	credentialsFile = "credentials.json"
	accountsFile    = "accounts.json"
)

// FileStore persists the client credentials and the account list as JSON
// files under a single directory. All writes are temp file + rename for
// crash safety, with 0600 permissions. A single store mutex serializes
// read-modify-write cycles, so per-identity updates never race within
// one process.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

// Compile-time checks that FileStore implements both store interfaces.
var (
	_ CredentialRegistry = (*FileStore)(nil)
	_ AccountStore       = (*FileStore)(nil)
)

// NewFileStore creates a FileStore rooted at dir, creating the directory
// with 0700 permissions if it doesn't exist.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("store directory cannot be empty")
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, err
	}

	return &FileStore{dir: dir}, nil
}

// Set persists the client credential pair, replacing any prior value.
func (s *FileStore) Set(ctx context.Context, creds ClientCredentials) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := creds.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return writeJSONAtomic(s.credentialsPath(), creds)
}

// GetCredentials returns the stored client credential pair, or
// ErrNotConfigured if the credentials file is absent.
func (s *FileStore) GetCredentials(ctx context.Context) (ClientCredentials, error) {
	if err := ctx.Err(); err != nil {
		return ClientCredentials{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Check permissions before reading: the file holds the client secret.
	info, err := os.Stat(s.credentialsPath())
	if os.IsNotExist(err) {
		return ClientCredentials{}, ErrNotConfigured
	}
	if err != nil {
		return ClientCredentials{}, err
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		return ClientCredentials{}, fmt.Errorf("insecure permissions on %s: %04o (expected 0600)", s.credentialsPath(), perm)
	}

	var creds ClientCredentials
	if err := readJSON(s.credentialsPath(), &creds); err != nil {
		return ClientCredentials{}, err
	}
	if creds.Validate() != nil {
		return ClientCredentials{}, fmt.Errorf("%w: %s: incomplete client credentials", ErrCorruptStore, s.credentialsPath())
	}
	return creds, nil
}

// Add persists a new account record, rejecting duplicate identities.
func (s *FileStore) Add(ctx context.Context, acct Account) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := acct.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	accounts, err := s.readAccounts()
	if err != nil {
		return err
	}

	for _, existing := range accounts {
		if existing.Identity == acct.Identity {
			return fmt.Errorf("%w: %s", ErrDuplicateAccount, acct.Identity)
		}
	}

	// Append keeps List in insertion order.
	accounts = append(accounts, acct)
	return writeJSONAtomic(s.accountsPath(), accounts)
}

// Remove deletes the record for identity and reports whether one existed.
func (s *FileStore) Remove(ctx context.Context, identity string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	accounts, err := s.readAccounts()
	if err != nil {
		return false, err
	}

	kept := accounts[:0]
	removed := false
	for _, acct := range accounts {
		if acct.Identity == identity {
			removed = true
			continue
		}
		kept = append(kept, acct)
	}

	if !removed {
		return false, nil
	}
	return true, writeJSONAtomic(s.accountsPath(), kept)
}

// List returns all account records in insertion order.
func (s *FileStore) List(ctx context.Context) ([]Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.readAccounts()
}

// Get returns the record for identity, or ErrAccountNotFound.
func (s *FileStore) Get(ctx context.Context, identity string) (Account, error) {
	if err := ctx.Err(); err != nil {
		return Account{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	accounts, err := s.readAccounts()
	if err != nil {
		return Account{}, err
	}

	for _, acct := range accounts {
		if acct.Identity == identity {
			return acct, nil
		}
	}
	return Account{}, fmt.Errorf("%w: %s", ErrAccountNotFound, identity)
}

// Update applies mutate to the record for identity and persists the result.
// The whole read-modify-write cycle runs under the store lock.
func (s *FileStore) Update(ctx context.Context, identity string, mutate func(*Account)) (Account, error) {
	if err := ctx.Err(); err != nil {
		return Account{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	accounts, err := s.readAccounts()
	if err != nil {
		return Account{}, err
	}

	for i := range accounts {
		if accounts[i].Identity != identity {
			continue
		}
		mutate(&accounts[i])
		if err := accounts[i].Validate(); err != nil {
			return Account{}, err
		}
		if err := writeJSONAtomic(s.accountsPath(), accounts); err != nil {
			return Account{}, err
		}
		return accounts[i], nil
	}
	return Account{}, fmt.Errorf("%w: %s", ErrAccountNotFound, identity)
}

func (s *FileStore) credentialsPath() string {
	return filepath.Join(s.dir, credentialsFile)
}

func (s *FileStore) accountsPath() string {
	return filepath.Join(s.dir, accountsFile)
}

// readAccounts loads the account list. A missing file is an empty store;
// a present-but-unparseable file is an error.
func (s *FileStore) readAccounts() ([]Account, error) {
	var accounts []Account
	err := readJSON(s.accountsPath(), &accounts)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return accounts, nil
}

// readJSON decodes the JSON file at path into v. Decode failures wrap
// ErrCorruptStore; absence surfaces as fs.ErrNotExist for the caller to
// interpret.
func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrCorruptStore, path, err)
	}
	return nil
}

// writeJSONAtomic marshals v and saves it using temp file + rename for
// crash safety, then sets 0600 permissions (owner read/write only).
func writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	tempFile, err := os.CreateTemp(dir, "*.tmp")
	if err != nil {
		return err
	}
	tempName := tempFile.Name()
	// Cleanup deferred for all exit paths
	defer func() { _ = os.Remove(tempName) }()
	defer func() { _ = tempFile.Close() }()

	if _, err := tempFile.Write(append(data, '\n')); err != nil {
		return err
	}
	if err := tempFile.Close(); err != nil {
		return err
	}

	if err := os.Chmod(tempName, fs.FileMode(0600)); err != nil {
		return err
	}

	// Atomic rename to final location
	return os.Rename(tempName, path)
}
