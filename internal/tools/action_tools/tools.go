package action_tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/teemow/inboxpilot/internal/actions"
	"github.com/teemow/inboxpilot/internal/assistant"
	"github.com/teemow/inboxpilot/internal/server"
	"github.com/teemow/inboxpilot/internal/tools/batch"
	"github.com/teemow/inboxpilot/internal/tools/common"
)

// reservedArgs are tool arguments that are not action fields.
var reservedArgs = map[string]struct{}{
	"conversationId": {},
	"account":        {},
	"message":        {},
	"fileIds":        {},
}

// actionTool describes one action exposed as a tool.
type actionTool struct {
	name     string
	action   actions.Action
	readOnly bool
	// batchField names the field filled from the fileIds argument.
	batchField string
	options    []mcp.ToolOption
}

func commonOptions() []mcp.ToolOption {
	return []mcp.ToolOption{
		mcp.WithString("conversationId",
			mcp.Required(),
			mcp.Description("Conversation the action is recorded in"),
		),
		mcp.WithString("message",
			mcp.Description("User message to record (default: the action name)"),
		),
		mcp.WithString("account",
			mcp.Description("Email of the user whose stored Google credential to use when no tokens are forwarded"),
		),
	}
}

func definitions() []actionTool {
	return []actionTool{
		{
			name:   "gmail_send_email",
			action: actions.SendEmail,
			options: []mcp.ToolOption{
				mcp.WithDescription("Send an email through Gmail"),
				mcp.WithString("to", mcp.Required(), mcp.Description("Recipient addresses, comma separated")),
				mcp.WithString("cc", mcp.Description("CC addresses, comma separated")),
				mcp.WithString("bcc", mcp.Description("BCC addresses, comma separated")),
				mcp.WithString("subject", mcp.Required(), mcp.Description("Subject line")),
				mcp.WithString("body", mcp.Required(), mcp.Description("Message body")),
				mcp.WithBoolean("html", mcp.Description("Send the body as HTML")),
				mcp.WithDestructiveHintAnnotation(true),
			},
		},
		{
			name:   "calendar_create_event",
			action: actions.CreateEvent,
			options: []mcp.ToolOption{
				mcp.WithDescription("Create a Google Calendar event. start and end accept RFC3339 or phrases such as 'tomorrow at 3pm' or 'mañana a las 15:30'."),
				mcp.WithString("summary", mcp.Required(), mcp.Description("Event title")),
				mcp.WithString("start", mcp.Required(), mcp.Description("Start time")),
				mcp.WithString("end", mcp.Description("End time, read relative to the start (default: one hour after start)")),
				mcp.WithNumber("duration", mcp.Description("Duration in minutes when end is not given"), mcp.Min(1)),
				mcp.WithString("description", mcp.Description("Event description")),
				mcp.WithString("location", mcp.Description("Event location")),
				mcp.WithString("timeZone", mcp.Description("IANA time zone for the event, e.g. Europe/Madrid")),
				mcp.WithString("attendees", mcp.Description("Attendee emails, comma separated")),
			},
		},
		{
			name:       "drive_get_file",
			action:     actions.DriveGet,
			readOnly:   true,
			batchField: "fileId",
			options: []mcp.ToolOption{
				mcp.WithDescription("Get Google Drive file metadata"),
				mcp.WithString("fileIds", mcp.Required(), mcp.Description("File id, or a JSON array of ids")),
				mcp.WithReadOnlyHintAnnotation(true),
			},
		},
		{
			name:   "drive_create_file",
			action: actions.DriveCreate,
			options: []mcp.ToolOption{
				mcp.WithDescription("Create a file in Google Drive"),
				mcp.WithString("name", mcp.Required(), mcp.Description("File name")),
				mcp.WithString("content", mcp.Required(), mcp.Description("File content")),
				mcp.WithString("mimeType", mcp.Description("MIME type (default: text/plain)")),
				mcp.WithString("parentId", mcp.Description("Parent folder id")),
			},
		},
		{
			name:   "drive_update_file",
			action: actions.DriveUpdate,
			options: []mcp.ToolOption{
				mcp.WithDescription("Rename a Google Drive file and optionally replace its content"),
				mcp.WithString("fileId", mcp.Required(), mcp.Description("File id")),
				mcp.WithString("name", mcp.Required(), mcp.Description("New file name")),
				mcp.WithString("content", mcp.Description("New content")),
			},
		},
		{
			name:       "drive_delete_file",
			action:     actions.DriveDelete,
			batchField: "fileId",
			options: []mcp.ToolOption{
				mcp.WithDescription("Delete Google Drive files"),
				mcp.WithString("fileIds", mcp.Required(), mcp.Description("File id, or a JSON array of ids")),
				mcp.WithDestructiveHintAnnotation(true),
			},
		},
		{
			name:     "drive_search_files",
			action:   actions.DriveSearch,
			readOnly: true,
			options: []mcp.ToolOption{
				mcp.WithDescription("Search Google Drive by file name"),
				mcp.WithString("query", mcp.Required(), mcp.Description("Text contained in the file name")),
				mcp.WithNumber("maxResults", mcp.Description("Maximum number of files (default: 10)"), mcp.Min(1), mcp.Max(100)),
				mcp.WithReadOnlyHintAnnotation(true),
			},
		},
	}
}

// RegisterActionTools registers one tool per action. In read-only mode only
// tools that do not modify anything are registered.
func RegisterActionTools(s *mcpserver.MCPServer, sc *server.ServerContext, readOnly bool) error {
	for _, def := range definitions() {
		if readOnly && !def.readOnly {
			continue
		}
		if !actions.Supported(def.action) {
			return fmt.Errorf("tool %s maps to unsupported action %s", def.name, def.action)
		}

		opts := append(commonOptions(), def.options...)
		tool := mcp.NewTool(def.name, opts...)

		s.AddTool(tool, common.InstrumentedToolHandler(def.name, sc, def.handler(sc)))
	}
	return nil
}

func (def actionTool) handler(sc *server.ServerContext) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		conversationID, err := request.RequireString("conversationId")
		if err != nil || strings.TrimSpace(conversationID) == "" {
			return mcp.NewToolResultError("conversationId is required"), nil
		}

		fields := actionFields(request.GetArguments())
		base := assistant.Request{
			ConversationID: conversationID,
			Text:           request.GetString("message", ""),
			Action:         def.action,
		}

		if def.batchField == "" {
			base.Fields = fields
			return common.RunTurn(ctx, sc, request, base)
		}

		ids, err := batch.ParseStringOrArray(request.GetArguments()["fileIds"], "fileIds")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if len(ids) == 1 {
			base.Fields = withField(fields, def.batchField, ids[0])
			return common.RunTurn(ctx, sc, request, base)
		}

		// Turns of one conversation commit one at a time anyway.
		results := batch.Process(ctx, ids, 1, func(ctx context.Context, id string) (any, error) {
			req := base
			req.Fields = withField(fields, def.batchField, id)
			out, err := common.ExecuteTurn(ctx, sc, request, req)
			if err != nil {
				return nil, err
			}
			return out, nil
		})
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return mcp.NewToolResultText(batch.FormatResults(results)), nil
	}
}

// actionFields copies the tool arguments that are action fields.
func actionFields(args map[string]any) map[string]any {
	fields := make(map[string]any, len(args))
	for k, v := range args {
		if _, reserved := reservedArgs[k]; reserved {
			continue
		}
		fields[k] = v
	}
	return fields
}

func withField(fields map[string]any, key, value string) map[string]any {
	out := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		out[k] = v
	}
	out[key] = value
	return out
}
