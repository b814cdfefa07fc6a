package auth

import (
	"time"

	"golang.org/x/oauth2"
)

// RefreshAccessTokenError is the LastError sentinel set on a Credential whose
// refresh exchange failed. The access token it carries must not be trusted.
const RefreshAccessTokenError = "RefreshAccessTokenError"

// defaultAccessTokenExpiry is assumed when the token endpoint omits expires_in.
// Google access tokens typically expire in 1 hour.
const defaultAccessTokenExpiry = time.Hour

// Credential is the access/refresh token pair and its expiry bookkeeping for
// one authenticated user.
type Credential struct {
	// Subject identifies the user (usually the account email). Optional.
	Subject string `json:"subject,omitempty"`

	AccessToken          string    `json:"-"`
	RefreshToken         string    `json:"-"`
	AccessTokenExpiresAt time.Time `json:"accessTokenExpiresAt"`

	// LastError is RefreshAccessTokenError after a failed refresh.
	LastError string `json:"lastError,omitempty"`
}

// Expired reports whether the access token is missing or expires within skew of now.
// A zero expiry is treated as non-expiring.
func (c Credential) Expired(now time.Time, skew time.Duration) bool {
	if c.AccessToken == "" {
		return true
	}
	if c.AccessTokenExpiresAt.IsZero() {
		return false
	}
	return !now.Add(skew).Before(c.AccessTokenExpiresAt)
}

// NeedsReauth reports whether the last refresh failed.
func (c Credential) NeedsReauth() bool {
	return c.LastError != ""
}

// Token converts the credential into an oauth2 bearer token.
func (c Credential) Token() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  c.AccessToken,
		RefreshToken: c.RefreshToken,
		TokenType:    "Bearer",
		Expiry:       c.AccessTokenExpiresAt,
	}
}

// FromToken builds a Credential for subject from an oauth2 token.
func FromToken(subject string, token *oauth2.Token) Credential {
	if token == nil {
		return Credential{Subject: subject}
	}
	return Credential{
		Subject:              subject,
		AccessToken:          token.AccessToken,
		RefreshToken:         token.RefreshToken,
		AccessTokenExpiresAt: token.Expiry,
	}
}
