package assistant_tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/teemow/inboxpilot/internal/actions"
	"github.com/teemow/inboxpilot/internal/assistant"
	"github.com/teemow/inboxpilot/internal/conversation"
	"github.com/teemow/inboxpilot/internal/server"
	"github.com/teemow/inboxpilot/internal/tools/common"
)

// RegisterAssistantTools registers the conversation tools with the MCP server.
// assistant_execute can send mail and modify files, so it is left out in
// read-only mode.
func RegisterAssistantTools(s *mcpserver.MCPServer, sc *server.ServerContext, readOnly bool) error {
	if !readOnly {
		executeTool := mcp.NewTool("assistant_execute",
			mcp.WithDescription("Send a message to the assistant. With only a message the assistant works out the action; with an action and fields it runs that action directly. The user message and the assistant reply are both recorded in the conversation."),
			mcp.WithString("conversationId",
				mcp.Required(),
				mcp.Description("Conversation the turn belongs to"),
			),
			mcp.WithString("message",
				mcp.Description("The user's message as it should appear in the conversation"),
			),
			mcp.WithString("action",
				mcp.Description("Action to run without classification"),
				mcp.Enum(actionNames()...),
			),
			mcp.WithObject("fields",
				mcp.Description("Raw action fields, e.g. {\"to\": \"ana@example.com\", \"subject\": \"Hi\", \"body\": \"...\"} for send_email or {\"summary\": \"Review\", \"start\": \"tomorrow at 3pm\"} for create_event"),
			),
			mcp.WithArray("attachmentRefs",
				mcp.Description("Attachment references to store with the user message"),
				mcp.WithStringItems(),
			),
			mcp.WithString("account",
				mcp.Description("Email of the user whose stored Google credential to use when no tokens are forwarded"),
			),
			mcp.WithDestructiveHintAnnotation(true),
		)
		s.AddTool(executeTool, common.InstrumentedToolHandler("assistant_execute", sc, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return handleExecute(ctx, request, sc)
		}))
	}

	historyTool := mcp.NewTool("conversation_history",
		mcp.WithDescription("List the messages of a conversation in commit order"),
		mcp.WithString("conversationId",
			mcp.Required(),
			mcp.Description("Conversation to read"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Return only the most recent messages (default: all)"),
			mcp.Min(0),
		),
		mcp.WithReadOnlyHintAnnotation(true),
	)
	s.AddTool(historyTool, common.InstrumentedToolHandler("conversation_history", sc, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return handleHistory(ctx, request, sc)
	}))

	return nil
}

func actionNames() []string {
	all := actions.Actions()
	names := make([]string, len(all))
	for i, a := range all {
		names[i] = string(a)
	}
	return names
}

func handleExecute(ctx context.Context, request mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	conversationID, err := request.RequireString("conversationId")
	if err != nil || strings.TrimSpace(conversationID) == "" {
		return mcp.NewToolResultError("conversationId is required"), nil
	}

	args := request.GetArguments()
	message := request.GetString("message", "")
	action := actions.Action(strings.ToLower(strings.TrimSpace(request.GetString("action", ""))))
	if strings.TrimSpace(message) == "" && action == "" {
		return mcp.NewToolResultError("message or action is required"), nil
	}

	var fields map[string]any
	switch raw := args["fields"].(type) {
	case nil:
	case map[string]any:
		fields = raw
	case string:
		// Some clients send objects as JSON text.
		if err := json.Unmarshal([]byte(raw), &fields); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("fields must be an object: %v", err)), nil
		}
	default:
		return mcp.NewToolResultError("fields must be an object"), nil
	}

	return common.RunTurn(ctx, sc, request, assistant.Request{
		ConversationID: conversationID,
		Text:           message,
		Action:         action,
		Fields:         fields,
		AttachmentRefs: request.GetStringSlice("attachmentRefs", nil),
	})
}

func handleHistory(ctx context.Context, request mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	conversationID, err := request.RequireString("conversationId")
	if err != nil || strings.TrimSpace(conversationID) == "" {
		return mcp.NewToolResultError("conversationId is required"), nil
	}

	history, err := sc.Store().LoadHistory(ctx, conversationID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to load conversation: %v", err)), nil
	}
	if limit := request.GetInt("limit", 0); limit > 0 && len(history) > limit {
		history = history[len(history)-limit:]
	}
	if history == nil {
		history = []conversation.Message{}
	}

	result, _ := json.MarshalIndent(map[string]any{
		"conversationId": conversationID,
		"count":          len(history),
		"messages":       history,
	}, "", "  ")
	return mcp.NewToolResultText(string(result)), nil
}
