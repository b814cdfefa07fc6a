package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/teemow/inboxpilot/internal/actions"
	"github.com/teemow/inboxpilot/internal/auth"
	"github.com/teemow/inboxpilot/internal/conversation"
	"github.com/teemow/inboxpilot/internal/dispatch"
	"github.com/teemow/inboxpilot/internal/intent"
	"github.com/teemow/inboxpilot/internal/logging"
)

// Metadata keys and statuses written on assistant messages.
const (
	MetaStatus   = "status"
	MetaKind     = "kind"
	MetaRequest  = "request"
	MetaResult   = "result"
	MetaFields   = "fields"
	MetaWarnings = "warnings"

	StatusSucceeded  = "succeeded"
	StatusFailed     = "failed"
	StatusNeedsInput = "needs_input"
	StatusReply      = "reply"
)

// Dispatcher executes resolved requests. *dispatch.Engine implements it.
type Dispatcher interface {
	Dispatch(ctx context.Context, req *actions.Request, cred auth.Credential) (dispatch.Result, auth.Credential)
}

// CredentialSaver persists refreshed credentials. *auth.Vault implements it.
type CredentialSaver interface {
	Save(ctx context.Context, cred auth.Credential) error
}

// Request is one user turn.
type Request struct {
	ConversationID string
	// Text is the user's message as shown in the conversation.
	Text string
	// Action and Fields skip classification when Action is set.
	Action         actions.Action
	Fields         map[string]any
	AttachmentRefs []string
	Credential     auth.Credential
}

// Reply is the outcome of one user turn.
type Reply struct {
	User      conversation.Message `json:"user"`
	Assistant conversation.Message `json:"assistant"`
	// Result is nil when nothing was dispatched.
	Result *dispatch.Result `json:"result,omitempty"`
	// Credential is the credential to use for the next request.
	Credential auth.Credential `json:"-"`
}

// Config configures a Service.
type Config struct {
	Store      conversation.Store
	Resolver   *actions.Resolver
	Dispatcher Dispatcher
	// Classifier is required only for requests without an Action.
	Classifier intent.Classifier
	// Credentials is optional; refreshed credentials are saved through it.
	Credentials CredentialSaver
	Logger      *slog.Logger
	// Timeout bounds the detached processing of one request.
	Timeout time.Duration
}

// DefaultTimeout bounds one request when Config.Timeout is zero.
const DefaultTimeout = 2 * time.Minute

// Service handles user requests.
type Service struct {
	store       conversation.Store
	resolver    *actions.Resolver
	dispatcher  Dispatcher
	classifier  intent.Classifier
	credentials CredentialSaver
	logger      *slog.Logger
	timeout     time.Duration
}

// NewService validates cfg and creates a Service.
func NewService(cfg Config) (*Service, error) {
	if cfg.Store == nil {
		return nil, errors.New("conversation store is required")
	}
	if cfg.Resolver == nil {
		return nil, errors.New("action resolver is required")
	}
	if cfg.Dispatcher == nil {
		return nil, errors.New("dispatcher is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Service{
		store:       cfg.Store,
		resolver:    cfg.Resolver,
		dispatcher:  cfg.Dispatcher,
		classifier:  cfg.Classifier,
		credentials: cfg.Credentials,
		logger:      logging.WithOperation(logger, "assistant"),
		timeout:     timeout,
	}, nil
}

type outcome struct {
	reply Reply
	err   error
}

// Handle processes req. If ctx ends first Handle returns ctx.Err() while the
// request keeps running to completion in the background.
func (s *Service) Handle(ctx context.Context, req Request) (Reply, error) {
	if req.ConversationID == "" {
		return Reply{}, conversation.ErrMissingConversation
	}
	if strings.TrimSpace(req.Text) == "" && req.Action == "" {
		return Reply{}, errors.New("request text or action is required")
	}

	work, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	done := make(chan outcome, 1)
	go func() {
		defer cancel()
		reply, err := s.process(work, req)
		done <- outcome{reply: reply, err: err}
	}()

	select {
	case o := <-done:
		return o.reply, o.err
	case <-ctx.Done():
		s.logger.Info("Caller stopped waiting, request continues",
			logging.Conversation(req.ConversationID))
		return Reply{}, ctx.Err()
	}
}

func (s *Service) process(ctx context.Context, req Request) (Reply, error) {
	logger := logging.WithConversation(s.logger, req.ConversationID)
	reply := Reply{Credential: req.Credential}

	text := req.Text
	if strings.TrimSpace(text) == "" {
		text = string(req.Action)
	}
	user, err := s.store.Append(ctx, conversation.Draft{
		ConversationID: req.ConversationID,
		Content:        text,
		IsUser:         true,
		AttachmentRefs: req.AttachmentRefs,
	})
	if err != nil {
		return reply, fmt.Errorf("failed to record user message: %w", err)
	}
	reply.User = user

	draft, result, cred := s.decide(ctx, logger, req)
	reply.Result = result
	reply.Credential = cred
	draft.ConversationID = req.ConversationID

	msg, err := s.store.Append(ctx, draft)
	if err != nil {
		// The action may already have happened; the caller still gets its result.
		logger.Error("Failed to record assistant message", logging.Err(err))
		return reply, fmt.Errorf("failed to record assistant message: %w", err)
	}
	reply.Assistant = msg
	return reply, nil
}

// decide turns the request into the assistant's draft reply, dispatching when
// the request resolves.
func (s *Service) decide(ctx context.Context, logger *slog.Logger, req Request) (conversation.Draft, *dispatch.Result, auth.Credential) {
	action, fields := req.Action, req.Fields
	if action == "" {
		if s.classifier == nil {
			return clarify("", "Tell me which action to run: "+supportedList()+"."), nil, req.Credential
		}
		in, err := s.classifier.Classify(ctx, req.Text)
		if err != nil {
			logger.Warn("Classification failed", logging.Err(err))
			return clarify("", "Sorry, I could not understand that request. Could you rephrase it?"), nil, req.Credential
		}
		if !in.Actionable() {
			text := in.Reply
			if text == "" {
				text = "I can help with: " + supportedList() + "."
			}
			return conversation.Draft{Content: text, Metadata: map[string]any{MetaStatus: StatusReply}}, nil, req.Credential
		}
		action, fields = in.Action, in.Entities
	}
	logger = logging.WithAction(logger, string(action))

	resolved, err := s.resolver.Resolve(action, fields)
	if err != nil {
		return s.rejectInput(logger, action, err), nil, req.Credential
	}

	result, cred := s.dispatcher.Dispatch(dispatch.WithConversationID(ctx, req.ConversationID), resolved, req.Credential)
	s.persistCredential(ctx, logger, req.Credential, cred)

	return outcomeDraft(resolved, result), &result, cred
}

func (s *Service) rejectInput(logger *slog.Logger, action actions.Action, err error) conversation.Draft {
	var verr *actions.ValidationError
	var uerr *actions.UnsupportedActionError
	switch {
	case errors.As(err, &verr):
		logger.Info("Request needs more input", slog.Any("fields", verr.Fields))
		d := clarify(action, fmt.Sprintf("To %s I still need: %s.", label(action), strings.Join(verr.Fields, ", ")))
		d.Metadata[MetaFields] = verr.Fields
		d.Metadata[MetaKind] = "validation"
		return d
	case errors.As(err, &uerr):
		d := clarify("", fmt.Sprintf("I can't %q yet. I can: %s.", string(uerr.Action), supportedList()))
		d.Metadata[MetaKind] = string(dispatch.KindUnsupported)
		return d
	default:
		logger.Warn("Resolution failed", logging.Err(err))
		return clarify(action, "Sorry, I could not prepare that request: "+err.Error())
	}
}

func (s *Service) persistCredential(ctx context.Context, logger *slog.Logger, before, after auth.Credential) {
	if s.credentials == nil || after.Subject == "" {
		return
	}
	if after.AccessToken == before.AccessToken && after.LastError == before.LastError {
		return
	}
	if err := s.credentials.Save(ctx, after); err != nil {
		logger.Warn("Failed to persist refreshed credential", logging.UserHash(after.Subject), logging.Err(err))
	}
}

func clarify(action actions.Action, text string) conversation.Draft {
	return conversation.Draft{
		Content:  text,
		Action:   string(action),
		Metadata: map[string]any{MetaStatus: StatusNeedsInput},
	}
}

func outcomeDraft(req *actions.Request, result dispatch.Result) conversation.Draft {
	meta := map[string]any{MetaRequest: req.Describe()}
	if result.Success {
		meta[MetaStatus] = StatusSucceeded
		if len(result.Data) > 0 {
			meta[MetaResult] = map[string]any(result.Data)
		}
		if len(result.Warnings) > 0 {
			meta[MetaWarnings] = result.Warnings
		}
	} else {
		meta[MetaStatus] = StatusFailed
		meta[MetaKind] = string(result.Kind)
	}
	return conversation.Draft{
		Content:  summarize(req, result),
		Action:   string(req.Action),
		Metadata: meta,
	}
}
