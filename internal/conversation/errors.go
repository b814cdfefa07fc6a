package conversation

import (
	"errors"
	"fmt"
)

// ErrMissingConversation is returned when a draft or subscription names no conversation.
var ErrMissingConversation = errors.New("conversation id is required")

// ErrClosed is returned by a SyncStore after Close.
var ErrClosed = errors.New("conversation store is closed")

// StoreUnavailableError reports that the backend could not serve an operation.
// Callers may fall back to optimistic display and retry later.
type StoreUnavailableError struct {
	Op  string
	Err error
}

func (e *StoreUnavailableError) Error() string {
	return fmt.Sprintf("conversation store unavailable during %s: %v", e.Op, e.Err)
}

func (e *StoreUnavailableError) Unwrap() error { return e.Err }

// IsUnavailable reports whether err is a StoreUnavailableError.
func IsUnavailable(err error) bool {
	var sue *StoreUnavailableError
	return errors.As(err, &sue)
}
