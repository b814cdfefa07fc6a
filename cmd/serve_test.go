package cmd

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teemow/inboxpilot/internal/config"
	"github.com/teemow/inboxpilot/internal/conversation"
	"github.com/teemow/inboxpilot/internal/server"
)

func TestParseCommaSeparatedList(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{
			name:     "empty string",
			input:    "",
			expected: nil,
		},
		{
			name:     "single value",
			input:    "drive:abc",
			expected: []string{"drive:abc"},
		},
		{
			name:     "values with leading/trailing spaces",
			input:    "  drive:abc  ,  drive:def  ",
			expected: []string{"drive:abc", "drive:def"},
		},
		{
			name:     "multiple consecutive commas",
			input:    "drive:abc,,drive:def,",
			expected: []string{"drive:abc", "drive:def"},
		},
		{
			name:     "only commas and spaces",
			input:    ",  , , ",
			expected: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, parseCommaSeparatedList(tt.input))
		})
	}
}

func TestParseKeyValues(t *testing.T) {
	fields, err := parseKeyValues([]string{"summary=Team sync", " start =tomorrow at 3pm", "query=a=b"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"summary": "Team sync",
		"start":   "tomorrow at 3pm",
		"query":   "a=b",
	}, fields)

	fields, err = parseKeyValues(nil)
	require.NoError(t, err)
	assert.Nil(t, fields)

	_, err = parseKeyValues([]string{"no-separator"})
	assert.Error(t, err)
	_, err = parseKeyValues([]string{"=value"})
	assert.Error(t, err)
}

func TestApplyServeFlags(t *testing.T) {
	cmd := newServeCmd()
	require.NoError(t, cmd.Flags().Parse([]string{"--transport", "stdio", "--store", "sqlite", "--metrics-enabled=false"}))

	var flags serveFlags
	flags.transport = "stdio"
	flags.storeBackend = "sqlite"
	flags.metricsEnabled = false
	flags.httpAddr = ":1234"

	cfg := config.Default()
	applyServeFlags(cmd, &cfg, flags)

	assert.Equal(t, config.TransportStdio, cfg.Server.Transport)
	assert.Equal(t, config.StoreSQLite, cfg.Store.Backend)
	assert.False(t, cfg.Server.MetricsEnabled)
	// Not set on the command line, so the config value stays.
	assert.Equal(t, ":8080", cfg.Server.HTTPAddr)
}

func newTestApp(t *testing.T) *app {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	a, err := newApp(context.Background(), config.Default(), logger, appOptions{})
	require.NoError(t, err)
	t.Cleanup(func() { a.close(context.Background()) })
	return a
}

func TestRegisterAllTools(t *testing.T) {
	a := newTestApp(t)
	sc, err := a.serverContext(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = sc.Shutdown() })

	names := func(readOnly bool) []string {
		srv := mcpserver.NewMCPServer("test", "0", mcpserver.WithToolCapabilities(true))
		require.NoError(t, registerAllTools(srv, sc, readOnly))
		var out []string
		for name := range srv.ListTools() {
			out = append(out, name)
		}
		return out
	}

	all := names(false)
	assert.Contains(t, all, "assistant_execute")
	assert.Contains(t, all, "gmail_send_email")
	assert.Contains(t, all, "drive_delete_file")

	readOnly := names(true)
	assert.Contains(t, readOnly, "conversation_history")
	assert.Contains(t, readOnly, "drive_search_files")
	assert.NotContains(t, readOnly, "assistant_execute")
	assert.NotContains(t, readOnly, "gmail_send_email")
}

func TestGenerateToolsMarkdown(t *testing.T) {
	tools, err := registeredTools(context.Background())
	require.NoError(t, err)

	markdown := generateToolsMarkdown(tools)
	assert.Contains(t, markdown, "## Assistant Tools")
	assert.Contains(t, markdown, "## Gmail Tools")
	assert.Contains(t, markdown, "### calendar_create_event")
	assert.Contains(t, markdown, "- `summary` (required): Event title")
}

func TestGetCategoryFromToolName(t *testing.T) {
	assert.Equal(t, "Assistant Tools", getCategoryFromToolName("conversation_history"))
	assert.Equal(t, "Google Drive Tools", getCategoryFromToolName("drive_get_file"))
	assert.Equal(t, "Other", getCategoryFromToolName("unknown"))
	assert.Equal(t, "string", getPropertyType(map[string]any{"type": "string"}))
	assert.Equal(t, "any", getPropertyType(map[string]any{}))
}

func TestNewHTTPHandler(t *testing.T) {
	a := newTestApp(t)
	sc, err := a.serverContext(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = sc.Shutdown() })

	mcpSrv := mcpserver.NewMCPServer("test", "0", mcpserver.WithToolCapabilities(true))
	require.NoError(t, registerAllTools(mcpSrv, sc, true))

	ts := httptest.NewServer(newHTTPHandler(mcpSrv, sc, server.NewHealthChecker(sc, "test")))
	t.Cleanup(ts.Close)

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/v1/conversations/c-1/messages")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// The MCP endpoint only accepts JSON bodies.
	resp, err = http.Post(ts.URL+"/mcp", "text/plain", strings.NewReader("hello"))
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRunAsk_NeedsInput(t *testing.T) {
	a := newTestApp(t)

	var out bytes.Buffer
	err := runAsk(context.Background(), a.assistant, &out, "send an email", askFlags{
		conversationID: "c-1",
		action:         "SEND_EMAIL",
		fields:         []string{"subject=Hello"},
	})
	require.NoError(t, err)
	assert.Contains(t, out.String(), "still need")
	assert.Contains(t, out.String(), "body")

	history, err := a.store.LoadHistory(context.Background(), "c-1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.True(t, history[0].IsUser)
	assert.Equal(t, "send an email", history[0].Content)
}

func TestRunAsk_RequiresMessageOrAction(t *testing.T) {
	a := newTestApp(t)
	err := runAsk(context.Background(), a.assistant, io.Discard, "  ", askFlags{conversationID: "c-1"})
	assert.Error(t, err)

	err = runAsk(context.Background(), a.assistant, io.Discard, "x", askFlags{conversationID: "c-1", fields: []string{"bad"}})
	assert.Error(t, err)
}

func TestCredentialFromFlags(t *testing.T) {
	now := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

	t.Run("flags", func(t *testing.T) {
		t.Setenv("GOOGLE_ACCESS_TOKEN", "")
		t.Setenv("GOOGLE_REFRESH_TOKEN", "")
		cred, err := credentialFromFlags(askFlags{
			subject:      " user@example.com ",
			accessToken:  "access",
			refreshToken: "refresh",
			tokenExpiry:  "2024-01-01T12:00:00Z",
		}, now)
		require.NoError(t, err)
		assert.Equal(t, "user@example.com", cred.Subject)
		assert.Equal(t, "access", cred.AccessToken)
		assert.Equal(t, "refresh", cred.RefreshToken)
		assert.Equal(t, now.Add(2*time.Hour), cred.AccessTokenExpiresAt)
	})

	t.Run("environment and default expiry", func(t *testing.T) {
		t.Setenv("GOOGLE_ACCESS_TOKEN", "env-access")
		t.Setenv("GOOGLE_REFRESH_TOKEN", "env-refresh")
		cred, err := credentialFromFlags(askFlags{}, now)
		require.NoError(t, err)
		assert.Equal(t, "env-access", cred.AccessToken)
		assert.Equal(t, "env-refresh", cred.RefreshToken)
		assert.Equal(t, now.Add(time.Hour), cred.AccessTokenExpiresAt)
	})

	t.Run("refresh token only", func(t *testing.T) {
		t.Setenv("GOOGLE_ACCESS_TOKEN", "")
		t.Setenv("GOOGLE_REFRESH_TOKEN", "")
		cred, err := credentialFromFlags(askFlags{refreshToken: "refresh"}, now)
		require.NoError(t, err)
		assert.Empty(t, cred.AccessToken)
		assert.True(t, cred.AccessTokenExpiresAt.IsZero())
	})

	t.Run("invalid expiry", func(t *testing.T) {
		t.Setenv("GOOGLE_ACCESS_TOKEN", "")
		_, err := credentialFromFlags(askFlags{accessToken: "a", tokenExpiry: "soon"}, now)
		assert.Error(t, err)
	})
}

func TestPrintHistory(t *testing.T) {
	base := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	messages := []conversation.Message{
		{ID: "1", Content: "send it", IsUser: true, CreatedAt: base},
		{ID: "2", Content: "Email sent.", Action: "send_email", CreatedAt: base.Add(time.Second)},
	}

	var out bytes.Buffer
	require.NoError(t, printHistory(&out, messages, 0, false))
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "user: send it")
	assert.Contains(t, lines[1], "assistant: Email sent. (send_email)")

	out.Reset()
	require.NoError(t, printHistory(&out, messages, 1, true))
	assert.Contains(t, out.String(), `"id": "2"`)
	assert.NotContains(t, out.String(), `"id": "1"`)

	out.Reset()
	require.NoError(t, printHistory(&out, nil, 0, true))
	assert.Equal(t, "[]\n", out.String())

	out.Reset()
	require.NoError(t, printHistory(&out, nil, 0, false))
	assert.Equal(t, "No messages.\n", out.String())
}
