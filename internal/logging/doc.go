// Package logging provides structured logging utilities for inboxpilot.
//
// This package centralizes logging patterns to ensure consistent, structured logging
// throughout the codebase using the standard library's slog package.
//
// # Usage Patterns
//
// Create a logger with standard attributes:
//
//	logger := logging.WithAction(slog.Default(), "send_email")
//	logger.Info("dispatch completed",
//	    logging.Conversation(conversationID),
//	    logging.Status("success"))
//
// Sanitize sensitive data before logging:
//
//	logger.Info("refreshing credential",
//	    logging.UserHash(subject),
//	    slog.String("refresh_token", logging.SanitizeToken(token)))
//
// # Security Considerations
//
//   - User emails are hashed to prevent PII leakage while allowing correlation
//   - Tokens are never logged directly, only their length
//   - Opaque upstream error bodies are truncated before logging
package logging
