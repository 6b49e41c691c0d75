// Package store provides durable storage for the OAuth client identity and
// the per-account token records.
//
// Two logical records are kept:
//   - ClientCredentials: the single client id/secret pair shared by every
//     account, owned by a CredentialRegistry
//   - Account: one record per authorized identity, owned by an AccountStore
//
// The file-backed implementation persists both as human-inspectable JSON
// with atomic temp-file+rename writes, so a crash mid-write never leaves a
// partially written store. The client credentials additionally support
// read-only environment and OS-keyring backends:
//   - File: JSON files under a storage directory, secure permissions
//   - Env: read-only environment variable access
//   - Keyring: OS-native credential storage (macOS Keychain, Windows
//     Credential Manager, etc.)
//
// Accounts always live in the file backend: interactive authorization
// requires writable storage, and the account list is meant to be inspectable.
package store
