package common

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/teemow/inboxpilot/internal/auth"
)

func TestSubjectFromArgs(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/mcp", nil)
	r.Header.Set(auth.SubjectHeader, "proxy-user@example.com")
	withHeader := WithRequestHeaders(context.Background(), r)

	tests := []struct {
		name     string
		ctx      context.Context
		args     map[string]any
		fallback string
		expected string
	}{
		{
			name:     "no account returns fallback",
			ctx:      context.Background(),
			args:     map[string]any{},
			fallback: "default",
			expected: "default",
		},
		{
			name:     "explicit account",
			ctx:      context.Background(),
			args:     map[string]any{"account": " work@example.com "},
			expected: "work@example.com",
		},
		{
			name:     "empty account returns fallback",
			ctx:      context.Background(),
			args:     map[string]any{"account": ""},
			fallback: "default",
			expected: "default",
		},
		{
			name:     "non-string account returns fallback",
			ctx:      context.Background(),
			args:     map[string]any{"account": 123},
			expected: "",
		},
		{
			name:     "nil args",
			ctx:      context.Background(),
			args:     nil,
			fallback: "default",
			expected: "default",
		},
		{
			name:     "forwarded header takes precedence over explicit account",
			ctx:      withHeader,
			args:     map[string]any{"account": "explicit@example.com"},
			expected: "proxy-user@example.com",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, SubjectFromArgs(tt.ctx, tt.args, tt.fallback))
		})
	}
}

func TestRequestHeaders(t *testing.T) {
	assert.Empty(t, RequestHeaders(context.Background()))

	r := httptest.NewRequest(http.MethodPost, "/mcp", nil)
	r.Header.Set(auth.AccessTokenHeader, "token")
	ctx := WithRequestHeaders(context.Background(), r)
	r.Header.Set(auth.AccessTokenHeader, "mutated")

	assert.Equal(t, "token", RequestHeaders(ctx).Get(auth.AccessTokenHeader))
}
