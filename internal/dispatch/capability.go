package dispatch

import (
	"context"

	"github.com/teemow/inboxpilot/internal/actions"
)

// Payload is the provider-specific data of a successful call, such as
// {"messageId": ...} or {"eventId": ..., "htmlLink": ...}.
type Payload map[string]any

// Capability performs one action against an external provider with a bearer
// token. Failures should be returned as *ProviderError; anything else is
// treated as transient.
type Capability interface {
	Action() actions.Action
	Invoke(ctx context.Context, accessToken string, req *actions.Request) (Payload, error)
}

// FollowUp is implemented by capabilities that do best-effort bookkeeping
// after a successful call. A failing follow-up degrades the result but never
// fails it.
type FollowUp interface {
	FollowUp(ctx context.Context, accessToken string, req *actions.Request, payload Payload) error
}

// CapabilityFunc adapts a function to the Capability interface.
type CapabilityFunc struct {
	Name actions.Action
	Fn   func(ctx context.Context, accessToken string, req *actions.Request) (Payload, error)
}

func (c CapabilityFunc) Action() actions.Action { return c.Name }

func (c CapabilityFunc) Invoke(ctx context.Context, accessToken string, req *actions.Request) (Payload, error) {
	return c.Fn(ctx, accessToken, req)
}
