// Package assistant_tools exposes the assistant over MCP.
//
// Tools:
//   - assistant_execute: run one user turn (free text or an explicit action)
//   - conversation_history: read the committed messages of a conversation
package assistant_tools
