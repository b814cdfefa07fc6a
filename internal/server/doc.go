// Package server exposes inboxpilot over HTTP.
//
// # Key Components
//
// ServerContext holds the long-lived dependencies shared by the HTTP API and
// the MCP tools: the assistant service, the conversation store and the
// credential source. It is created once per process and shut down on exit.
//
// API serves the conversation endpoints:
//   - POST /v1/conversations/{id}/messages runs one user request
//   - GET /v1/conversations/{id}/messages returns the committed history
//   - GET /v1/conversations/{id}/stream streams history and live messages over a websocket
//
// Google credentials arrive as headers forwarded by an SSO proxy (see
// auth.CredentialFromHeaders) or are loaded from the credential vault by the
// forwarded user email.
//
// HealthChecker provides Kubernetes liveness and readiness probes, and
// MetricsServer serves Prometheus metrics on a dedicated port.
package server
