package logging

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAttributeHelpers(t *testing.T) {
	tests := []struct {
		name    string
		attr    slog.Attr
		wantKey string
		wantVal string
	}{
		{"operation", Operation("auth.refresh"), KeyOperation, "auth.refresh"},
		{"action", Action("send_email"), KeyAction, "send_email"},
		{"service", Service("gmail"), KeyService, "gmail"},
		{"conversation", Conversation("c-1"), KeyConversation, "c-1"},
		{"tool", Tool("assistant_execute"), KeyTool, "assistant_execute"},
		{"status", Status(StatusSuccess), KeyStatus, "success"},
		{"attempt", Attempt(2), KeyAttempt, "2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantKey, tt.attr.Key)
			assert.Equal(t, tt.wantVal, tt.attr.Value.String())
		})
	}
}

func TestWithHelpersAddAttributes(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(slog.NewTextHandler(&buf, nil))

	logger := WithConversation(WithAction(WithService(WithOperation(base, "dispatch"), "drive"), "drive_get"), "c-9")
	logger.Info("hello")

	out := buf.String()
	assert.Contains(t, out, "operation=dispatch")
	assert.Contains(t, out, "service=drive")
	assert.Contains(t, out, "action=drive_get")
	assert.Contains(t, out, "conversation_id=c-9")
}

func TestErr(t *testing.T) {
	attr := Err(errors.New("test error"))
	assert.Equal(t, KeyError, attr.Key)
	assert.Equal(t, "test error", attr.Value.String())

	// Empty Group has empty key and is dropped by handlers.
	assert.Equal(t, "", Err(nil).Key)
}

func TestAnonymizeEmail(t *testing.T) {
	got := AnonymizeEmail("jane@example.com")
	assert.Len(t, got, 21)
	assert.True(t, strings.HasPrefix(got, "user:"))
	assert.Equal(t, got, AnonymizeEmail("jane@example.com"))
	assert.NotEqual(t, got, AnonymizeEmail("other@example.com"))
	assert.Equal(t, "", AnonymizeEmail(""))

	assert.Equal(t, KeyUserHash, UserHash("jane@example.com").Key)
}

func TestSanitizeToken(t *testing.T) {
	assert.Equal(t, "<empty>", SanitizeToken(""))
	assert.Equal(t, "[token:6 chars]", SanitizeToken("abc123"))
	assert.Equal(t, "[token:24 chars]", SanitizeToken("a_very_long_token_string"))
}

func TestTruncateBody(t *testing.T) {
	assert.Equal(t, `{"error":"invalid_grant"}`, TruncateBody([]byte(" {\"error\":\"invalid_grant\"}\n")))

	long := bytes.Repeat([]byte("x"), maxBodyLen+10)
	got := TruncateBody(long)
	assert.True(t, strings.HasSuffix(got, "...(truncated)"))
	assert.Len(t, got, maxBodyLen+len("...(truncated)"))
}

func TestExtractDomain(t *testing.T) {
	tests := []struct {
		email    string
		expected string
	}{
		{"jane@example.com", "example.com"},
		{"invalid", ""},
		{"", ""},
		{"user@", ""},
	}

	for _, tt := range tests {
		t.Run(tt.email, func(t *testing.T) {
			assert.Equal(t, tt.expected, ExtractDomain(tt.email))
		})
	}

	assert.Equal(t, "example.com", Domain("jane@example.com").Value.String())
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, "json", "warn")
	require.NotNil(t, logger)

	logger.Info("dropped")
	logger.Warn("kept", Action("drive_search"))

	out := buf.String()
	assert.NotContains(t, out, "dropped")
	assert.Contains(t, out, `"msg":"kept"`)
	assert.Contains(t, out, `"action":"drive_search"`)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel(""))
	assert.Equal(t, slog.LevelInfo, ParseLevel("nonsense"))
}
