package instrumentation

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/teemow/inboxpilot/internal/logging"
)

// DispatchRecord captures one dispatched operation for audit logging.
type DispatchRecord struct {
	Action         string
	ConversationID string

	// UserEmail is PII; only logged in full when IncludePII is set.
	UserEmail string

	Outcome  string
	Attempts int
	Degraded bool
	Duration time.Duration
	Error    string
	TraceID  string
}

// ToolInvocation captures an MCP tool call for audit logging.
type ToolInvocation struct {
	Tool      string
	UserEmail string
	StartTime time.Time
	Duration  time.Duration
	Success   bool
	Error     string
	TraceID   string
}

// NewToolInvocation creates a new ToolInvocation with timing started.
func NewToolInvocation(ctx context.Context, tool string) *ToolInvocation {
	return &ToolInvocation{
		Tool:      tool,
		StartTime: time.Now(),
		TraceID:   GetTraceID(ctx),
	}
}

// Complete marks the invocation as finished.
func (ti *ToolInvocation) Complete(success bool, err error) *ToolInvocation {
	ti.Duration = time.Since(ti.StartTime)
	ti.Success = success
	if err != nil {
		ti.Error = err.Error()
	}
	return ti
}

// Status returns "success" or "error" based on the Success field.
func (ti *ToolInvocation) Status() string {
	if ti.Success {
		return StatusSuccess
	}
	return StatusError
}

// ExtractUserDomain extracts the domain part from an email address,
// returning "unknown" when there is none.
func ExtractUserDomain(email string) string {
	if domain := logging.ExtractDomain(email); domain != "" {
		return domain
	}
	return "unknown"
}

// AuditLogger writes audit lines for dispatches and tool invocations.
type AuditLogger struct {
	logger     *slog.Logger
	includePII bool
	enabled    bool
}

// NewAuditLogger creates an AuditLogger. A nil logger falls back to slog.Default().
func NewAuditLogger(logger *slog.Logger, config AuditLoggingConfig) *AuditLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditLogger{
		logger:     logger,
		includePII: config.IncludePII,
		enabled:    config.Enabled,
	}
}

func (al *AuditLogger) user(email string) slog.Attr {
	if al.includePII {
		return slog.String("user", email)
	}
	return logging.UserHash(email)
}

// LogDispatch writes one audit line for a dispatch.
func (al *AuditLogger) LogDispatch(rec DispatchRecord) {
	if al == nil || !al.enabled {
		return
	}

	args := []any{
		logging.Action(rec.Action),
		slog.String("outcome", rec.Outcome),
		slog.Int("attempts", rec.Attempts),
		slog.Duration(logging.KeyDuration, rec.Duration),
	}
	if rec.ConversationID != "" {
		args = append(args, logging.Conversation(rec.ConversationID))
	}
	if rec.UserEmail != "" {
		args = append(args, al.user(rec.UserEmail))
	}
	if rec.Degraded {
		args = append(args, slog.Bool("degraded", true))
	}
	if rec.TraceID != "" {
		args = append(args, slog.String("trace_id", rec.TraceID))
	}
	if rec.Error != "" {
		args = append(args, slog.String(logging.KeyError, rec.Error))
	}

	if strings.EqualFold(rec.Outcome, StatusSuccess) {
		al.logger.Info("dispatch_executed", args...)
	} else {
		al.logger.Warn("dispatch_failed", args...)
	}
}

// LogToolInvocation writes one audit line for an MCP tool call.
func (al *AuditLogger) LogToolInvocation(ti *ToolInvocation) {
	if al == nil || !al.enabled {
		return
	}

	args := []any{
		logging.Tool(ti.Tool),
		slog.Duration(logging.KeyDuration, ti.Duration),
		slog.Bool("success", ti.Success),
	}
	if ti.UserEmail != "" {
		args = append(args, al.user(ti.UserEmail))
	}
	if ti.TraceID != "" {
		args = append(args, slog.String("trace_id", ti.TraceID))
	}
	if ti.Error != "" {
		args = append(args, slog.String(logging.KeyError, ti.Error))
	}

	if ti.Success {
		al.logger.Info("tool_executed", args...)
	} else {
		al.logger.Warn("tool_failed", args...)
	}
}
