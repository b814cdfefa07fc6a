// Package resources provides MCP resources. Resources are read-only data
// sources that MCP clients can fetch.
//
// conversation://{conversationId}/messages returns the committed history of
// a conversation as JSON.
package resources
