package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teemow/inboxpilot/internal/actions"
	"github.com/teemow/inboxpilot/internal/auth"
	"github.com/teemow/inboxpilot/internal/calendar"
	"github.com/teemow/inboxpilot/internal/conversation"
	"github.com/teemow/inboxpilot/internal/datetime"
	"github.com/teemow/inboxpilot/internal/dispatch"
	"github.com/teemow/inboxpilot/internal/google"
	"github.com/teemow/inboxpilot/internal/intent"
)

var testNow = time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

type fakeDispatcher struct {
	mu    sync.Mutex
	calls []*actions.Request
	fn    func(ctx context.Context, req *actions.Request, cred auth.Credential) (dispatch.Result, auth.Credential)
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, req *actions.Request, cred auth.Credential) (dispatch.Result, auth.Credential) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	fn := f.fn
	f.mu.Unlock()
	if fn == nil {
		return dispatch.Result{Success: true, Attempts: 1}, cred
	}
	return fn(ctx, req, cred)
}

func (f *fakeDispatcher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type passthroughRefresher struct{}

func (passthroughRefresher) EnsureFresh(_ context.Context, cred auth.Credential) (auth.Credential, error) {
	return cred, nil
}

func (passthroughRefresher) Refresh(_ context.Context, cred auth.Credential) (auth.Credential, error) {
	return cred, nil
}

type recordingSaver struct {
	mu    sync.Mutex
	saved []auth.Credential
}

func (r *recordingSaver) Save(_ context.Context, cred auth.Credential) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saved = append(r.saved, cred)
	return nil
}

func newResolver() *actions.Resolver {
	return actions.NewResolver(datetime.New(
		datetime.WithLocation(time.UTC),
		datetime.WithClock(func() time.Time { return testNow }),
	))
}

func newService(t *testing.T, store conversation.Store, d Dispatcher, c intent.Classifier) *Service {
	t.Helper()
	svc, err := NewService(Config{Store: store, Resolver: newResolver(), Dispatcher: d, Classifier: c})
	require.NoError(t, err)
	return svc
}

func credential() auth.Credential {
	return auth.Credential{Subject: "user@example.com", AccessToken: "access-1", RefreshToken: "refresh-1", AccessTokenExpiresAt: testNow.Add(time.Hour)}
}

func TestHandle_CreateEventEndToEnd(t *testing.T) {
	var inserted map[string]any
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, "Bearer access-1", r.Header.Get("Authorization"))
		_ = json.NewDecoder(r.Body).Decode(&inserted)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":       "evt-42",
			"htmlLink": "https://calendar.google.com/event?eid=evt-42",
		})
	}))
	defer srv.Close()

	engine, err := dispatch.NewEngine(dispatch.Config{Refresher: passthroughRefresher{}},
		calendar.NewCreateEventCapability(google.ClientConfig{Endpoint: srv.URL + "/"}, "", nil, nil))
	require.NoError(t, err)

	store := conversation.NewSyncStore(conversation.NewMemoryStore(), conversation.Options{})
	svc := newService(t, store, engine, nil)

	reply, err := svc.Handle(context.Background(), Request{
		ConversationID: "c1",
		Text:           "Crea la revisión del proyecto mañana a las 15:30",
		Action:         actions.CreateEvent,
		Fields:         map[string]any{"summary": "Revisión del proyecto", "start": "mañana a las 15:30"},
		Credential:     credential(),
	})
	require.NoError(t, err)
	require.NotNil(t, reply.Result)
	require.True(t, reply.Result.Success, reply.Result.Error)
	assert.Equal(t, "evt-42", reply.Result.Data["eventId"])
	assert.Equal(t, "https://calendar.google.com/event?eid=evt-42", reply.Result.Data["htmlLink"])

	mu.Lock()
	start := inserted["start"].(map[string]any)["dateTime"]
	end := inserted["end"].(map[string]any)["dateTime"]
	mu.Unlock()
	assert.Equal(t, "2024-01-02T15:30:00Z", start)
	assert.Equal(t, "2024-01-02T16:30:00Z", end)

	assert.True(t, reply.User.IsUser)
	assert.False(t, reply.Assistant.IsUser)
	assert.Equal(t, string(actions.CreateEvent), reply.Assistant.Action)
	assert.Equal(t, StatusSucceeded, reply.Assistant.Metadata[MetaStatus])
	result := reply.Assistant.Metadata[MetaResult].(map[string]any)
	assert.Equal(t, "evt-42", result["eventId"])
	assert.Contains(t, reply.Assistant.Content, "Revisión del proyecto")

	history, err := store.LoadHistory(context.Background(), "c1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, reply.User.ID, history[0].ID)
	assert.Equal(t, reply.Assistant.ID, history[1].ID)
}

func TestHandle_ValidationFailureSkipsDispatch(t *testing.T) {
	store := conversation.NewSyncStore(conversation.NewMemoryStore(), conversation.Options{})
	d := &fakeDispatcher{}
	svc := newService(t, store, d, nil)

	reply, err := svc.Handle(context.Background(), Request{
		ConversationID: "c1",
		Text:           "search my drive",
		Action:         actions.DriveSearch,
		Fields:         map[string]any{"query": ""},
	})
	require.NoError(t, err)
	assert.Nil(t, reply.Result)
	assert.Zero(t, d.count())

	assert.Equal(t, StatusNeedsInput, reply.Assistant.Metadata[MetaStatus])
	assert.Equal(t, []string{"query"}, reply.Assistant.Metadata[MetaFields])
	assert.Contains(t, reply.Assistant.Content, "query")
}

func TestHandle_UnsupportedAction(t *testing.T) {
	store := conversation.NewSyncStore(conversation.NewMemoryStore(), conversation.Options{})
	d := &fakeDispatcher{}
	svc := newService(t, store, d, nil)

	reply, err := svc.Handle(context.Background(), Request{ConversationID: "c1", Text: "order pizza", Action: "order_pizza"})
	require.NoError(t, err)
	assert.Zero(t, d.count())
	assert.Equal(t, string(dispatch.KindUnsupported), reply.Assistant.Metadata[MetaKind])
	assert.Contains(t, reply.Assistant.Content, "order_pizza")
}

func TestHandle_ClassifiedRequest(t *testing.T) {
	store := conversation.NewSyncStore(conversation.NewMemoryStore(), conversation.Options{})
	d := &fakeDispatcher{fn: func(_ context.Context, _ *actions.Request, cred auth.Credential) (dispatch.Result, auth.Credential) {
		return dispatch.Result{Success: true, Attempts: 1, Data: dispatch.Payload{"messageId": "msg-1"}}, cred
	}}
	classifier := intent.ClassifierFunc(func(_ context.Context, text string) (intent.Intent, error) {
		return intent.Intent{Action: actions.SendEmail, Entities: map[string]any{
			"to": "ana@example.com", "subject": "Hola", "body": text,
		}}, nil
	})
	svc := newService(t, store, d, classifier)

	reply, err := svc.Handle(context.Background(), Request{ConversationID: "c1", Text: "mail Ana hola"})
	require.NoError(t, err)
	require.Equal(t, 1, d.count())
	assert.Equal(t, `Email "Hola" sent to ana@example.com.`, reply.Assistant.Content)
	assert.Equal(t, "msg-1", reply.Assistant.Metadata[MetaResult].(map[string]any)["messageId"])
}

func TestHandle_ClassifierWithoutAction(t *testing.T) {
	store := conversation.NewSyncStore(conversation.NewMemoryStore(), conversation.Options{})
	d := &fakeDispatcher{}
	classifier := intent.ClassifierFunc(func(context.Context, string) (intent.Intent, error) {
		return intent.Intent{Reply: "Hello!"}, nil
	})
	svc := newService(t, store, d, classifier)

	reply, err := svc.Handle(context.Background(), Request{ConversationID: "c1", Text: "hi"})
	require.NoError(t, err)
	assert.Zero(t, d.count())
	assert.Equal(t, "Hello!", reply.Assistant.Content)
	assert.Equal(t, StatusReply, reply.Assistant.Metadata[MetaStatus])
}

func TestHandle_ClassifierError(t *testing.T) {
	store := conversation.NewSyncStore(conversation.NewMemoryStore(), conversation.Options{})
	classifier := intent.ClassifierFunc(func(context.Context, string) (intent.Intent, error) {
		return intent.Intent{}, errors.New("model down")
	})
	svc := newService(t, store, &fakeDispatcher{}, classifier)

	reply, err := svc.Handle(context.Background(), Request{ConversationID: "c1", Text: "do something"})
	require.NoError(t, err)
	assert.Equal(t, StatusNeedsInput, reply.Assistant.Metadata[MetaStatus])
}

func TestHandle_DispatchFailureIsRecorded(t *testing.T) {
	tests := []struct {
		kind dispatch.Kind
		want string
	}{
		{dispatch.KindAuthorization, "sign in again"},
		{dispatch.KindRejected, "rejected"},
		{dispatch.KindTransient, "try again later"},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			store := conversation.NewSyncStore(conversation.NewMemoryStore(), conversation.Options{})
			d := &fakeDispatcher{fn: func(_ context.Context, _ *actions.Request, cred auth.Credential) (dispatch.Result, auth.Credential) {
				return dispatch.Result{Kind: tt.kind, Error: "boom", Attempts: 2}, cred
			}}
			svc := newService(t, store, d, nil)

			reply, err := svc.Handle(context.Background(), Request{
				ConversationID: "c1",
				Text:           "get file",
				Action:         actions.DriveGet,
				Fields:         map[string]any{"fileId": "f1"},
			})
			require.NoError(t, err)
			require.NotNil(t, reply.Result)
			assert.False(t, reply.Result.Success)
			assert.Equal(t, StatusFailed, reply.Assistant.Metadata[MetaStatus])
			assert.Equal(t, string(tt.kind), reply.Assistant.Metadata[MetaKind])
			assert.Contains(t, reply.Assistant.Content, tt.want)
		})
	}
}

func TestHandle_DegradedSuccessMentionsWarning(t *testing.T) {
	store := conversation.NewSyncStore(conversation.NewMemoryStore(), conversation.Options{})
	d := &fakeDispatcher{fn: func(_ context.Context, _ *actions.Request, cred auth.Credential) (dispatch.Result, auth.Credential) {
		return dispatch.Result{Success: true, Degraded: true, Warnings: []string{"could not label message as SENT"}, Data: dispatch.Payload{"messageId": "m1"}}, cred
	}}
	svc := newService(t, store, d, nil)

	reply, err := svc.Handle(context.Background(), Request{
		ConversationID: "c1",
		Text:           "send",
		Action:         actions.SendEmail,
		Fields:         map[string]any{"to": []any{"ana@example.com"}, "subject": "s", "body": "b"},
	})
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, reply.Assistant.Metadata[MetaStatus])
	assert.Contains(t, reply.Assistant.Content, "could not label message as SENT")
	assert.Equal(t, []string{"could not label message as SENT"}, reply.Assistant.Metadata[MetaWarnings])
}

func TestHandle_PersistsRefreshedCredential(t *testing.T) {
	store := conversation.NewSyncStore(conversation.NewMemoryStore(), conversation.Options{})
	d := &fakeDispatcher{fn: func(_ context.Context, _ *actions.Request, cred auth.Credential) (dispatch.Result, auth.Credential) {
		cred.AccessToken = "access-2"
		return dispatch.Result{Success: true}, cred
	}}
	saver := &recordingSaver{}
	svc, err := NewService(Config{Store: store, Resolver: newResolver(), Dispatcher: d, Credentials: saver})
	require.NoError(t, err)

	reply, err := svc.Handle(context.Background(), Request{
		ConversationID: "c1",
		Text:           "delete",
		Action:         actions.DriveDelete,
		Fields:         map[string]any{"fileId": "f1"},
		Credential:     credential(),
	})
	require.NoError(t, err)
	assert.Equal(t, "access-2", reply.Credential.AccessToken)
	require.Len(t, saver.saved, 1)
	assert.Equal(t, "access-2", saver.saved[0].AccessToken)
}

func TestHandle_CallerCancellationDoesNotAbortWork(t *testing.T) {
	store := conversation.NewSyncStore(conversation.NewMemoryStore(), conversation.Options{})
	release := make(chan struct{})
	d := &fakeDispatcher{fn: func(ctx context.Context, _ *actions.Request, cred auth.Credential) (dispatch.Result, auth.Credential) {
		<-release
		if ctx.Err() != nil {
			return dispatch.Result{Kind: dispatch.KindTransient, Error: "cancelled"}, cred
		}
		return dispatch.Result{Success: true, Data: dispatch.Payload{"messageId": "m1"}}, cred
	}}
	svc := newService(t, store, d, nil)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := svc.Handle(ctx, Request{
			ConversationID: "c1",
			Text:           "send",
			Action:         actions.SendEmail,
			Fields:         map[string]any{"to": "ana@example.com", "subject": "s", "body": "b"},
		})
		errCh <- err
	}()

	require.Eventually(t, func() bool { return d.count() == 1 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-errCh, context.Canceled)

	close(release)
	require.Eventually(t, func() bool {
		history, err := store.LoadHistory(context.Background(), "c1")
		return err == nil && len(history) == 2
	}, 2*time.Second, 5*time.Millisecond)

	history, err := store.LoadHistory(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, history[1].Metadata[MetaStatus])
}

type downStore struct{ conversation.Store }

func (downStore) Append(context.Context, conversation.Draft) (conversation.Message, error) {
	return conversation.Message{}, &conversation.StoreUnavailableError{Op: "append", Err: errors.New("down")}
}

func TestHandle_StoreUnavailable(t *testing.T) {
	d := &fakeDispatcher{}
	svc := newService(t, downStore{}, d, nil)

	_, err := svc.Handle(context.Background(), Request{ConversationID: "c1", Text: "x", Action: actions.DriveGet, Fields: map[string]any{"fileId": "f"}})
	require.Error(t, err)
	assert.True(t, conversation.IsUnavailable(err))
	assert.Zero(t, d.count())
}

func TestHandle_RequestValidation(t *testing.T) {
	svc := newService(t, conversation.NewSyncStore(conversation.NewMemoryStore(), conversation.Options{}), &fakeDispatcher{}, nil)

	_, err := svc.Handle(context.Background(), Request{Text: "x"})
	assert.ErrorIs(t, err, conversation.ErrMissingConversation)

	_, err = svc.Handle(context.Background(), Request{ConversationID: "c1", Text: "  "})
	assert.Error(t, err)
}

func TestNewService_RequiresDependencies(t *testing.T) {
	_, err := NewService(Config{})
	assert.Error(t, err)
}
