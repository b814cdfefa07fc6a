package auth

import (
	"net/http"
	"strings"
	"time"
)

// Headers used by an upstream SSO proxy to forward the user's Google tokens.
const (
	AccessTokenHeader  = "X-Google-Access-Token"
	RefreshTokenHeader = "X-Google-Refresh-Token"
	TokenExpiryHeader  = "X-Google-Token-Expiry"

	// SubjectHeader carries the authenticated user's email.
	SubjectHeader = "X-Forwarded-Email"
)

// CredentialFromHeaders builds a Credential from forwarded token headers.
// The expiry header is RFC3339; when absent or invalid, one hour from now is
// assumed. ok is false when no access token was forwarded.
func CredentialFromHeaders(h http.Header, now time.Time) (cred Credential, ok bool) {
	accessToken := strings.TrimSpace(h.Get(AccessTokenHeader))
	if accessToken == "" {
		return Credential{}, false
	}

	expiry := now.Add(defaultAccessTokenExpiry)
	if raw := h.Get(TokenExpiryHeader); raw != "" {
		if parsed, err := time.Parse(time.RFC3339, raw); err == nil {
			expiry = parsed
		}
	}

	return Credential{
		Subject:              strings.TrimSpace(h.Get(SubjectHeader)),
		AccessToken:          accessToken,
		RefreshToken:         strings.TrimSpace(h.Get(RefreshTokenHeader)),
		AccessTokenExpiresAt: expiry,
	}, true
}
