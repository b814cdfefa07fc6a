package common

import (
	"context"
	"net/http"
	"strings"

	"github.com/teemow/inboxpilot/internal/auth"
)

type headersKey struct{}

// WithRequestHeaders stores the HTTP request headers of an MCP call in ctx.
// It is installed as the streamable HTTP context function so tool handlers
// can read tokens forwarded by the SSO proxy.
func WithRequestHeaders(ctx context.Context, r *http.Request) context.Context {
	return context.WithValue(ctx, headersKey{}, r.Header.Clone())
}

// RequestHeaders returns the headers stored by WithRequestHeaders. Calls
// arriving over stdio have none.
func RequestHeaders(ctx context.Context) http.Header {
	if h, ok := ctx.Value(headersKey{}).(http.Header); ok {
		return h
	}
	return http.Header{}
}

// SubjectFromArgs resolves the user a tool call acts for.
//
// Priority order:
//  1. Forwarded user email header (set by the SSO proxy)
//  2. Explicit "account" argument in request
//  3. fallback
func SubjectFromArgs(ctx context.Context, args map[string]any, fallback string) string {
	if email := strings.TrimSpace(RequestHeaders(ctx).Get(auth.SubjectHeader)); email != "" {
		return email
	}
	if account, ok := args["account"].(string); ok && strings.TrimSpace(account) != "" {
		return strings.TrimSpace(account)
	}
	return fallback
}
