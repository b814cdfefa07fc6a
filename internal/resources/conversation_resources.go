package resources

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/teemow/inboxpilot/internal/conversation"
	"github.com/teemow/inboxpilot/internal/server"
)

const (
	conversationScheme = "conversation://"
	messagesSuffix     = "/messages"
)

// RegisterConversationResources registers the conversation history resource template.
func RegisterConversationResources(s *mcpserver.MCPServer, sc *server.ServerContext) error {
	template := mcp.NewResourceTemplate(
		conversationScheme+"{conversationId}"+messagesSuffix,
		"Conversation History",
		mcp.WithTemplateDescription("Messages of a conversation in commit order"),
		mcp.WithTemplateMIMEType("application/json"),
	)

	s.AddResourceTemplate(template, func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		return handleConversationHistory(ctx, request, sc)
	})
	return nil
}

// conversationIDFromURI extracts the id from conversation://{id}/messages.
func conversationIDFromURI(uri string) (string, error) {
	rest, ok := strings.CutPrefix(uri, conversationScheme)
	if !ok {
		return "", fmt.Errorf("unsupported resource URI: %s", uri)
	}
	rest, ok = strings.CutSuffix(rest, messagesSuffix)
	if !ok || rest == "" || strings.Contains(rest, "/") {
		return "", fmt.Errorf("unsupported resource URI: %s", uri)
	}
	id, err := url.PathUnescape(rest)
	if err != nil {
		return "", fmt.Errorf("invalid conversation id in %s: %w", uri, err)
	}
	return id, nil
}

func handleConversationHistory(ctx context.Context, request mcp.ReadResourceRequest, sc *server.ServerContext) ([]mcp.ResourceContents, error) {
	conversationID, err := conversationIDFromURI(request.Params.URI)
	if err != nil {
		return nil, err
	}

	history, err := sc.Store().LoadHistory(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation %s: %w", conversationID, err)
	}
	if history == nil {
		history = []conversation.Message{}
	}

	jsonData, err := json.MarshalIndent(map[string]any{
		"conversationId": conversationID,
		"messages":       history,
	}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal conversation: %w", err)
	}

	return []mcp.ResourceContents{
		&mcp.TextResourceContents{
			URI:      request.Params.URI,
			MIMEType: "application/json",
			Text:     string(jsonData),
		},
	}, nil
}
