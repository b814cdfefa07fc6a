package calendar

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	calendar "google.golang.org/api/calendar/v3"

	"github.com/teemow/inboxpilot/internal/actions"
	"github.com/teemow/inboxpilot/internal/dispatch"
	"github.com/teemow/inboxpilot/internal/google"
	"github.com/teemow/inboxpilot/internal/instrumentation"
	"github.com/teemow/inboxpilot/internal/logging"
)

// PrimaryCalendar is the calendar events are created in by default.
const PrimaryCalendar = "primary"

// CreateEventCapability creates events in the user's calendar.
type CreateEventCapability struct {
	client     google.ClientConfig
	calendarID string
	metrics    *instrumentation.Metrics
	logger     *slog.Logger
}

// NewCreateEventCapability creates the create_event capability. An empty
// calendarID means the primary calendar.
func NewCreateEventCapability(client google.ClientConfig, calendarID string, metrics *instrumentation.Metrics, logger *slog.Logger) *CreateEventCapability {
	if calendarID == "" {
		calendarID = PrimaryCalendar
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CreateEventCapability{
		client:     client,
		calendarID: calendarID,
		metrics:    metrics,
		logger:     logging.WithService(logger, instrumentation.ServiceCalendar),
	}
}

func (c *CreateEventCapability) Action() actions.Action {
	return actions.CreateEvent
}

// Invoke inserts the event and returns {"eventId", "htmlLink", "start", "end"}.
func (c *CreateEventCapability) Invoke(ctx context.Context, accessToken string, req *actions.Request) (dispatch.Payload, error) {
	f, ok := req.Fields.(actions.EventFields)
	if !ok {
		return nil, dispatch.Rejected(fmt.Sprintf("unexpected fields %T for create_event", req.Fields), nil)
	}

	svc, err := calendar.NewService(ctx, c.client.Options(accessToken)...)
	if err != nil {
		return nil, dispatch.Transient("create calendar service", err)
	}

	created, err := google.Call(ctx, c.metrics, instrumentation.ServiceCalendar, instrumentation.OperationCreate,
		func(ctx context.Context) (*calendar.Event, error) {
			return svc.Events.Insert(c.calendarID, toEvent(f)).Context(ctx).Do()
		})
	if err != nil {
		return nil, err
	}

	c.logger.Info("event created", slog.String("event_id", created.Id))
	return dispatch.Payload{
		"eventId":  created.Id,
		"htmlLink": created.HtmlLink,
		"summary":  f.Summary,
		"start":    f.Start.Format(time.RFC3339),
		"end":      f.End.Format(time.RFC3339),
	}, nil
}

// toEvent converts resolved fields into an API event. Times carry their UTC
// offset, so TimeZone is only sent when the caller named one.
func toEvent(f actions.EventFields) *calendar.Event {
	event := &calendar.Event{
		Summary:     f.Summary,
		Description: f.Description,
		Location:    f.Location,
		Start: &calendar.EventDateTime{
			DateTime: f.Start.Format(time.RFC3339),
			TimeZone: f.TimeZone,
		},
		End: &calendar.EventDateTime{
			DateTime: f.End.Format(time.RFC3339),
			TimeZone: f.TimeZone,
		},
	}
	for _, email := range f.Attendees {
		event.Attendees = append(event.Attendees, &calendar.EventAttendee{Email: email})
	}
	return event
}
