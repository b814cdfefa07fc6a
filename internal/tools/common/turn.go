package common

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/teemow/inboxpilot/internal/assistant"
	"github.com/teemow/inboxpilot/internal/server"
)

// TurnResult is the tool output of one assistant turn.
type TurnResult struct {
	ConversationID string   `json:"conversationId"`
	Reply          string   `json:"reply"`
	Status         any      `json:"status,omitempty"`
	MessageID      string   `json:"messageId"`
	Success        *bool    `json:"success,omitempty"`
	Kind           string   `json:"kind,omitempty"`
	Data           any      `json:"data,omitempty"`
	Warnings       []string `json:"warnings,omitempty"`
}

// ErrTurnFailed marks a turn whose action ran and failed.
var ErrTurnFailed = errors.New("action failed")

// ExecuteTurn resolves the caller's credential and runs req through the
// assistant. A dispatched action that failed is returned with ErrTurnFailed.
func ExecuteTurn(ctx context.Context, sc *server.ServerContext, request mcp.CallToolRequest, req assistant.Request) (TurnResult, error) {
	subject := SubjectFromArgs(ctx, request.GetArguments(), "")
	cred, err := sc.Credential(ctx, RequestHeaders(ctx), subject)
	if err != nil {
		return TurnResult{}, err
	}
	req.Credential = cred

	reply, err := sc.Assistant().Handle(ctx, req)
	if err != nil {
		return TurnResult{}, err
	}

	out := TurnResult{
		ConversationID: req.ConversationID,
		Reply:          reply.Assistant.Content,
		Status:         reply.Assistant.Metadata[assistant.MetaStatus],
		MessageID:      reply.Assistant.ID,
	}
	if res := reply.Result; res != nil {
		out.Success = &res.Success
		out.Kind = string(res.Kind)
		out.Warnings = res.Warnings
		if len(res.Data) > 0 {
			out.Data = res.Data
		}
		if !res.Success {
			return out, fmt.Errorf("%w: %s", ErrTurnFailed, reply.Assistant.Content)
		}
	}
	return out, nil
}

// RunTurn runs ExecuteTurn and renders the outcome as a tool result.
// Failures the user can act on are returned as tool errors.
func RunTurn(ctx context.Context, sc *server.ServerContext, request mcp.CallToolRequest, req assistant.Request) (*mcp.CallToolResult, error) {
	out, err := ExecuteTurn(ctx, sc, request, req)
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return nil, err
	case errors.Is(err, ErrTurnFailed):
		text, _ := json.MarshalIndent(out, "", "  ")
		return mcp.NewToolResultError(string(text)), nil
	case err != nil:
		return mcp.NewToolResultError(fmt.Sprintf("Failed to process request: %v", err)), nil
	}

	text, _ := json.MarshalIndent(out, "", "  ")
	return mcp.NewToolResultText(string(text)), nil
}
