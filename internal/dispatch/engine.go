package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/teemow/inboxpilot/internal/actions"
	"github.com/teemow/inboxpilot/internal/auth"
	"github.com/teemow/inboxpilot/internal/instrumentation"
	"github.com/teemow/inboxpilot/internal/logging"
)

// Refresher renews credentials. *auth.Manager implements it.
type Refresher interface {
	EnsureFresh(ctx context.Context, cred auth.Credential) (auth.Credential, error)
	Refresh(ctx context.Context, cred auth.Credential) (auth.Credential, error)
}

// Result is the normalized outcome of a dispatch.
type Result struct {
	Success  bool     `json:"success"`
	Error    string   `json:"error,omitempty"`
	Kind     Kind     `json:"kind,omitempty"`
	Data     Payload  `json:"data,omitempty"`
	Degraded bool     `json:"degraded,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
	Attempts int      `json:"attempts"`

	// Err is the typed failure behind Error.
	Err error `json:"-"`
}

// Config configures an Engine.
type Config struct {
	Refresher Refresher
	Logger    *slog.Logger
	Metrics   *instrumentation.Metrics
	Audit     *instrumentation.AuditLogger
	Now       func() time.Time
}

// Engine routes requests to capabilities.
type Engine struct {
	mu           sync.RWMutex
	capabilities map[actions.Action]Capability

	refresher Refresher
	logger    *slog.Logger
	metrics   *instrumentation.Metrics
	audit     *instrumentation.AuditLogger
	now       func() time.Time
}

// NewEngine creates an engine with the given capabilities registered.
func NewEngine(cfg Config, capabilities ...Capability) (*Engine, error) {
	if cfg.Refresher == nil {
		return nil, errors.New("dispatch: refresher is required")
	}
	e := &Engine{
		capabilities: make(map[actions.Action]Capability),
		refresher:    cfg.Refresher,
		logger:       cfg.Logger,
		metrics:      cfg.Metrics,
		audit:        cfg.Audit,
		now:          cfg.Now,
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.now == nil {
		e.now = time.Now
	}
	for _, c := range capabilities {
		if err := e.Register(c); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// Register adds a capability. Each action can be registered once.
func (e *Engine) Register(c Capability) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.capabilities[c.Action()]; exists {
		return fmt.Errorf("dispatch: capability for %s already registered", c.Action())
	}
	e.capabilities[c.Action()] = c
	return nil
}

// Actions lists the actions with a registered capability.
func (e *Engine) Actions() []actions.Action {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]actions.Action, 0, len(e.capabilities))
	for _, a := range actions.Actions() {
		if _, ok := e.capabilities[a]; ok {
			out = append(out, a)
		}
	}
	return out
}

func (e *Engine) lookup(a actions.Action) (Capability, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	c, ok := e.capabilities[a]
	return c, ok
}

type conversationKey struct{}

// WithConversationID tags ctx so dispatch audit records name the conversation.
func WithConversationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, conversationKey{}, id)
}

func conversationID(ctx context.Context) string {
	id, _ := ctx.Value(conversationKey{}).(string)
	return id
}

// Dispatch executes req with cred and returns the result together with the
// credential the caller should keep using, which differs from cred when it
// was refreshed along the way.
func (e *Engine) Dispatch(ctx context.Context, req *actions.Request, cred auth.Credential) (Result, auth.Credential) {
	start := e.now()
	action := string(req.Action)

	ctx, span := instrumentation.StartDispatchSpan(ctx, action)
	defer span.End()

	logger := logging.WithAction(e.logger, action)
	res, cred := e.dispatch(ctx, logger, req, cred)
	duration := e.now().Sub(start)

	outcome := instrumentation.StatusSuccess
	if !res.Success {
		outcome = string(res.Kind)
		instrumentation.SetSpanError(span, res.Err)
		logger.Warn("dispatch failed",
			slog.String("kind", string(res.Kind)),
			logging.Attempt(res.Attempts),
			logging.Err(res.Err))
	} else {
		instrumentation.SetSpanSuccess(span)
		logger.Info("dispatch succeeded",
			logging.Attempt(res.Attempts),
			slog.Bool("degraded", res.Degraded))
	}

	e.metrics.RecordDispatchForUser(ctx, action, outcome, cred.Subject, duration)
	e.audit.LogDispatch(instrumentation.DispatchRecord{
		Action:         action,
		ConversationID: conversationID(ctx),
		UserEmail:      cred.Subject,
		Outcome:        outcome,
		Attempts:       res.Attempts,
		Degraded:       res.Degraded,
		Duration:       duration,
		Error:          res.Error,
		TraceID:        instrumentation.GetTraceID(ctx),
	})
	return res, cred
}

func (e *Engine) dispatch(ctx context.Context, logger *slog.Logger, req *actions.Request, cred auth.Credential) (Result, auth.Credential) {
	capability, ok := e.lookup(req.Action)
	if !ok {
		return failure(KindUnsupported, &actions.UnsupportedActionError{Action: string(req.Action)}, 0), cred
	}

	// At most one refresh per dispatch, whether it happens up front or in
	// response to an authorization failure.
	refreshed := false
	if cred.NeedsReauth() {
		refreshed = true
		next, err := e.refresher.Refresh(ctx, cred)
		if err != nil || next.NeedsReauth() {
			return e.authFailure(req.Action, next, err, 0)
		}
		cred = next
	} else {
		next, err := e.refresher.EnsureFresh(ctx, cred)
		switch {
		case errors.Is(err, auth.ErrNoRefreshToken):
			// Nothing to refresh with; let the provider judge the token.
		case err != nil:
			return failure(KindTransient, &TransientError{Action: req.Action, Err: err}, 0), cred
		case next.NeedsReauth():
			return e.authFailure(req.Action, next, nil, 0)
		default:
			refreshed = next.AccessToken != cred.AccessToken
			cred = next
		}
	}

	retried := false
	for attempt := 1; ; attempt++ {
		payload, err := capability.Invoke(ctx, cred.AccessToken, req)
		if err == nil {
			return e.success(ctx, logger, capability, req, cred, payload, attempt), cred
		}

		perr := classify(err)
		logger.Debug("provider call failed",
			logging.Attempt(attempt),
			slog.String("kind", string(perr.Kind)),
			logging.Err(err))

		switch perr.Kind {
		case KindRejected:
			return failure(KindRejected, &ProviderRejectedError{Action: req.Action, Detail: perr.Detail, Err: perr.Err}, attempt), cred

		case KindAuthorization:
			if refreshed {
				return e.authFailure(req.Action, cred, perr, attempt)
			}
			refreshed = true
			next, rerr := e.refresher.Refresh(ctx, cred)
			if rerr != nil && ctx.Err() != nil {
				return failure(KindTransient, &TransientError{Action: req.Action, Err: rerr}, attempt), cred
			}
			if rerr != nil || next.NeedsReauth() {
				if rerr == nil {
					rerr = perr
				}
				return e.authFailure(req.Action, next, rerr, attempt)
			}
			cred = next

		default:
			if retried || ctx.Err() != nil {
				return failure(KindTransient, &TransientError{Action: req.Action, Err: perr}, attempt), cred
			}
			retried = true
		}
	}
}

func (e *Engine) success(ctx context.Context, logger *slog.Logger, capability Capability, req *actions.Request, cred auth.Credential, payload Payload, attempts int) Result {
	res := Result{Success: true, Data: payload, Attempts: attempts}
	follow, ok := capability.(FollowUp)
	if !ok {
		return res
	}
	// The primary call has happened; the caller going away must not stop
	// the bookkeeping for it.
	if err := follow.FollowUp(context.WithoutCancel(ctx), cred.AccessToken, req, payload); err != nil {
		res.Degraded = true
		res.Warnings = append(res.Warnings, fmt.Sprintf("follow-up failed: %v", err))
		logger.Warn("follow-up failed, primary call succeeded", logging.Err(err))
	}
	return res
}

func (e *Engine) authFailure(action actions.Action, cred auth.Credential, err error, attempts int) (Result, auth.Credential) {
	return failure(KindAuthorization, &AuthorizationError{Action: action, Err: err}, attempts), cred
}

func failure(kind Kind, err error, attempts int) Result {
	return Result{Kind: kind, Error: err.Error(), Err: err, Attempts: attempts}
}
