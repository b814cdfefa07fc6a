package resources

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teemow/inboxpilot/internal/actions"
	"github.com/teemow/inboxpilot/internal/assistant"
	"github.com/teemow/inboxpilot/internal/auth"
	"github.com/teemow/inboxpilot/internal/conversation"
	"github.com/teemow/inboxpilot/internal/datetime"
	"github.com/teemow/inboxpilot/internal/dispatch"
	"github.com/teemow/inboxpilot/internal/server"
)

type noopDispatcher struct{}

func (noopDispatcher) Dispatch(_ context.Context, _ *actions.Request, cred auth.Credential) (dispatch.Result, auth.Credential) {
	return dispatch.Result{Success: true}, cred
}

func TestConversationIDFromURI(t *testing.T) {
	tests := []struct {
		uri     string
		want    string
		wantErr bool
	}{
		{uri: "conversation://c1/messages", want: "c1"},
		{uri: "conversation://team%20chat/messages", want: "team chat"},
		{uri: "conversation:///messages", wantErr: true},
		{uri: "conversation://c1", wantErr: true},
		{uri: "conversation://a/b/messages", wantErr: true},
		{uri: "user://profile", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.uri, func(t *testing.T) {
			got, err := conversationIDFromURI(tt.uri)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestHandleConversationHistory(t *testing.T) {
	store := conversation.NewSyncStore(conversation.NewMemoryStore(), conversation.Options{})
	t.Cleanup(func() { _ = store.Close() })
	svc, err := assistant.NewService(assistant.Config{
		Store:      store,
		Resolver:   actions.NewResolver(datetime.New(datetime.WithLocation(time.UTC))),
		Dispatcher: noopDispatcher{},
	})
	require.NoError(t, err)
	sc, err := server.NewServerContext(context.Background(), server.Options{Assistant: svc, Store: store})
	require.NoError(t, err)
	t.Cleanup(func() { _ = sc.Shutdown() })

	first, err := store.Append(context.Background(), conversation.Draft{ConversationID: "c1", Content: "hello", IsUser: true})
	require.NoError(t, err)

	req := mcp.ReadResourceRequest{}
	req.Params.URI = "conversation://c1/messages"
	contents, err := handleConversationHistory(context.Background(), req, sc)
	require.NoError(t, err)
	require.Len(t, contents, 1)

	text, ok := contents[0].(*mcp.TextResourceContents)
	require.True(t, ok)
	assert.Equal(t, "application/json", text.MIMEType)

	var out struct {
		ConversationID string                 `json:"conversationId"`
		Messages       []conversation.Message `json:"messages"`
	}
	require.NoError(t, json.Unmarshal([]byte(text.Text), &out))
	assert.Equal(t, "c1", out.ConversationID)
	require.Len(t, out.Messages, 1)
	assert.Equal(t, first.ID, out.Messages[0].ID)

	req.Params.URI = "conversation://c1"
	_, err = handleConversationHistory(context.Background(), req, sc)
	assert.Error(t, err)
}
