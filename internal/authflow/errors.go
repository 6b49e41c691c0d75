package authflow

import "errors"

var (
	// ErrStateMismatch indicates the redirect carried a state value other
	// than the one generated for this session (possible CSRF or stale
	// request). No code is exchanged.
	ErrStateMismatch = errors.New("authorization state mismatch")

	// ErrUserDenied indicates the provider redirected back with an error
	// parameter, typically because the user denied consent.
	ErrUserDenied = errors.New("authorization denied")

	// ErrAuthorizationTimeout indicates no redirect arrived within the
	// bounded wait.
	ErrAuthorizationTimeout = errors.New("timed out waiting for authorization redirect")

	// ErrTokenExchangeFailed indicates the code exchange against the
	// provider's token endpoint failed. The whole flow must be restarted
	// by the user.
	ErrTokenExchangeFailed = errors.New("token exchange failed")
)
