package dispatch

import (
	"errors"
	"fmt"

	"github.com/teemow/inboxpilot/internal/actions"
)

// Kind classifies a failed dispatch.
type Kind string

const (
	KindAuthorization Kind = "authorization"
	KindRejected      Kind = "provider_rejected"
	KindTransient     Kind = "transient"
	KindUnsupported   Kind = "unsupported_action"
)

// ProviderError is the typed failure a capability returns. Kind must be one
// of KindAuthorization, KindRejected or KindTransient.
type ProviderError struct {
	Kind   Kind
	Detail string
	Err    error
}

func (e *ProviderError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return string(e.Kind)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Rejected returns a provider rejection with detail.
func Rejected(detail string, err error) *ProviderError {
	return &ProviderError{Kind: KindRejected, Detail: detail, Err: err}
}

// Unauthorized returns an authorization failure.
func Unauthorized(detail string, err error) *ProviderError {
	return &ProviderError{Kind: KindAuthorization, Detail: detail, Err: err}
}

// Transient returns a retryable failure.
func Transient(detail string, err error) *ProviderError {
	return &ProviderError{Kind: KindTransient, Detail: detail, Err: err}
}

// classify maps any capability error to a ProviderError.
func classify(err error) *ProviderError {
	var perr *ProviderError
	if errors.As(err, &perr) {
		switch perr.Kind {
		case KindAuthorization, KindRejected, KindTransient:
			return perr
		}
	}
	return &ProviderError{Kind: KindTransient, Err: err}
}

// AuthorizationError means the provider refused the credential even after a
// refresh. The user has to authenticate again.
type AuthorizationError struct {
	Action actions.Action
	Err    error
}

func (e *AuthorizationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: authorization failed, re-authentication required: %v", e.Action, e.Err)
	}
	return fmt.Sprintf("%s: authorization failed, re-authentication required", e.Action)
}

func (e *AuthorizationError) Unwrap() error { return e.Err }

// ProviderRejectedError is a semantic rejection by the provider. Detail is
// the provider's message, unmodified.
type ProviderRejectedError struct {
	Action actions.Action
	Detail string
	Err    error
}

func (e *ProviderRejectedError) Error() string {
	return fmt.Sprintf("%s rejected by provider: %s", e.Action, e.Detail)
}

func (e *ProviderRejectedError) Unwrap() error { return e.Err }

// TransientError is a network or server failure that persisted through the
// single retry.
type TransientError struct {
	Action actions.Action
	Err    error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s failed after retry: %v", e.Action, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }
