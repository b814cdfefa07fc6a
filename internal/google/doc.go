// Package google holds the plumbing shared by the Gmail, Calendar and Drive
// capabilities: HTTP clients that carry a caller-supplied bearer token,
// classification of Google API errors into dispatch failure kinds, and the
// span and metric bookkeeping around each provider call.
//
// Tokens are never stored here. Every client is built for one call from the
// access token the dispatch engine hands to the capability.
package google
