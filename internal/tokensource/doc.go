// Package tokensource produces currently valid access tokens for stored
// accounts, refreshing through the provider's token endpoint when the
// cached token is absent or about to expire and writing the result back
// to the account store.
//
// A refresh rejected with an invalid_grant-class error surfaces as
// ErrReauthorizationRequired: the stored refresh token is revoked or
// invalid and the account must be re-added through the authorization
// flow. The known-bad refresh token is left in storage untouched; it is
// never deleted automatically.
//
// # Attaching tokens to API calls
//
// Use Source to get a per-identity oauth2.TokenSource for oauth2.Transport:
//
//	client := &http.Client{Transport: &oauth2.Transport{Source: accessor.Source(identity)}}
package tokensource
