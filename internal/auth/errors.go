package auth

import "errors"

// NoRefreshTokenError is returned by Refresh when the credential carries no
// refresh token. It is terminal: the user has to authenticate again.
type NoRefreshTokenError struct{}

func (NoRefreshTokenError) Error() string {
	return "no refresh token available: re-authentication required"
}

// ErrNoRefreshToken is the NoRefreshTokenError value returned by Refresh.
var ErrNoRefreshToken error = NoRefreshTokenError{}

// ErrNoCredential is returned by Vault.Load when nothing is stored for a user.
var ErrNoCredential = errors.New("no credential stored for user")
