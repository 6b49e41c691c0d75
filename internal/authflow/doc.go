// Package authflow implements the interactive OAuth2 authorization-code
// flow that turns a client identity plus one user consent into a refresh
// token.
//
// Two variants of the same protocol are provided:
//   - Authorize: binds an ephemeral loopback listener, opens the provider's
//     consent page in the default browser, and intercepts the redirect
//   - AuthorizeManual: prints the consent URL and parses the redirect URL
//     the user pastes back, for environments where no browser can reach a
//     local port (remote shells, containers)
//
// Both variants apply the same checks to the redirect: a provider error
// parameter fails with ErrUserDenied, a state value other than the one
// generated for the session fails with ErrStateMismatch before any code
// is exchanged. Every failure is terminal for the session; the flow is
// never retried internally.
package authflow
