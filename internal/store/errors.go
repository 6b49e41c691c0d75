package store

import "errors"

var (
	// ErrNotConfigured indicates no client credentials have been set.
	ErrNotConfigured = errors.New("client credentials not configured")

	// ErrDuplicateAccount indicates an add for an identity that already
	// has a stored record.
	ErrDuplicateAccount = errors.New("account already exists")

	// ErrAccountNotFound indicates a lookup for an identity with no
	// stored record.
	ErrAccountNotFound = errors.New("account not found")

	// ErrCorruptStore indicates a store file that exists but cannot be
	// parsed. Corrupt-but-present data fails loudly rather than being
	// treated as an empty store.
	ErrCorruptStore = errors.New("store file is corrupt")
)
