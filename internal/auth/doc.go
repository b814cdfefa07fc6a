// Package auth manages the OAuth credential lifecycle of a single user.
//
// A Credential is a plain value owned by one user session. Callers thread it
// explicitly through every call that needs it; there is no process-wide token
// state. The Manager is the only code that produces new credentials: it
// exchanges refresh tokens at the identity provider's token endpoint and
// guarantees that a given refresh token is never exchanged twice concurrently.
//
// A failed exchange does not return an error. Instead the returned Credential
// carries LastError = RefreshAccessTokenError and callers must check
// NeedsReauth before trusting its access token.
package auth
