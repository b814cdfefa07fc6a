// Package cmd implements the command-line interface for inboxpilot.
//
// This package provides the following commands:
//   - serve: Start the HTTP API, conversation stream and MCP tools
//   - ask: Send one request to the assistant and print the reply
//   - history: Print or follow the messages of a conversation
//   - post: Add a message to a conversation, retrying while the store is down
//   - version: Display version information
//   - generate-docs: Generate markdown documentation for all MCP tools
//
// The serve command is the default command when no subcommand is specified.
package cmd
