package gmail

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	gmail "google.golang.org/api/gmail/v1"

	"github.com/teemow/inboxpilot/internal/actions"
	"github.com/teemow/inboxpilot/internal/dispatch"
	"github.com/teemow/inboxpilot/internal/google"
	"github.com/teemow/inboxpilot/internal/instrumentation"
	"github.com/teemow/inboxpilot/internal/logging"
)

// SentLabel is added to every message sent through the capability.
const SentLabel = "SENT"

// SendCapability sends email as the credential's user.
type SendCapability struct {
	client  google.ClientConfig
	metrics *instrumentation.Metrics
	logger  *slog.Logger
}

// NewSendCapability creates the send_email capability.
func NewSendCapability(client google.ClientConfig, metrics *instrumentation.Metrics, logger *slog.Logger) *SendCapability {
	if logger == nil {
		logger = slog.Default()
	}
	return &SendCapability{
		client:  client,
		metrics: metrics,
		logger:  logging.WithService(logger, instrumentation.ServiceGmail),
	}
}

func (c *SendCapability) Action() actions.Action {
	return actions.SendEmail
}

func (c *SendCapability) service(ctx context.Context, accessToken string) (*gmail.Service, error) {
	svc, err := gmail.NewService(ctx, c.client.Options(accessToken)...)
	if err != nil {
		return nil, dispatch.Transient("create gmail service", err)
	}
	return svc, nil
}

// Invoke sends the message and returns {"messageId", "threadId"}.
func (c *SendCapability) Invoke(ctx context.Context, accessToken string, req *actions.Request) (dispatch.Payload, error) {
	f, ok := req.Fields.(actions.EmailFields)
	if !ok {
		return nil, dispatch.Rejected(fmt.Sprintf("unexpected fields %T for send_email", req.Fields), nil)
	}
	svc, err := c.service(ctx, accessToken)
	if err != nil {
		return nil, err
	}

	msg := &gmail.Message{Raw: encodeRaw(buildMessage(f))}
	sent, err := google.Call(ctx, c.metrics, instrumentation.ServiceGmail, instrumentation.OperationSend,
		func(ctx context.Context) (*gmail.Message, error) {
			return svc.Users.Messages.Send("me", msg).Context(ctx).Do()
		})
	if err != nil {
		return nil, err
	}

	c.logger.Info("email sent", slog.String("message_id", sent.Id), slog.Int("recipients", len(f.To)+len(f.Cc)+len(f.Bcc)))
	return dispatch.Payload{"messageId": sent.Id, "threadId": sent.ThreadId}, nil
}

// FollowUp labels the sent message as SENT.
func (c *SendCapability) FollowUp(ctx context.Context, accessToken string, _ *actions.Request, payload dispatch.Payload) error {
	id, _ := payload["messageId"].(string)
	if id == "" {
		return errors.New("no message id to label")
	}
	svc, err := c.service(ctx, accessToken)
	if err != nil {
		return err
	}

	_, err = google.Call(ctx, c.metrics, instrumentation.ServiceGmail, instrumentation.OperationLabel,
		func(ctx context.Context) (*gmail.Message, error) {
			return svc.Users.Messages.Modify("me", id, &gmail.ModifyMessageRequest{
				AddLabelIds: []string{SentLabel},
			}).Context(ctx).Do()
		})
	if err != nil {
		return fmt.Errorf("label message %s: %w", id, err)
	}
	return nil
}
