// Package dispatch executes validated operation requests against the
// capability provider registered for their action.
//
// The engine owns the retry policy for every provider: an authorization
// failure triggers one credential refresh and one retry, a transient failure
// one immediate retry, and a provider rejection none. Failures never escape
// Dispatch as errors; they are reported in the Result so the caller can
// always tell the user what happened.
package dispatch
