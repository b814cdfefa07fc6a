// Package assistant runs one user request end to end: it records the user's
// message, resolves it into an action request, dispatches it with the user's
// credential and records an assistant message describing the outcome.
//
// Every request that reaches the service produces an assistant message, also
// when the request is invalid or the provider fails. Processing is detached
// from the caller's context: cancelling the caller stops the wait, not the
// work, so an email that was sent is also recorded as sent.
package assistant
