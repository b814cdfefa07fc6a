// Package common provides shared helpers for the MCP tool packages: request
// header propagation, subject resolution and instrumented handlers.
package common
