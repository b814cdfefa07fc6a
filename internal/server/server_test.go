package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/teemow/inboxpilot/internal/actions"
	"github.com/teemow/inboxpilot/internal/assistant"
	"github.com/teemow/inboxpilot/internal/auth"
	"github.com/teemow/inboxpilot/internal/conversation"
	"github.com/teemow/inboxpilot/internal/datetime"
	"github.com/teemow/inboxpilot/internal/dispatch"
)

var testNow = time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

type fakeDispatcher struct {
	mu    sync.Mutex
	creds []auth.Credential
}

func (f *fakeDispatcher) Dispatch(_ context.Context, _ *actions.Request, cred auth.Credential) (dispatch.Result, auth.Credential) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creds = append(f.creds, cred)
	return dispatch.Result{Success: true, Attempts: 1}, cred
}

func (f *fakeDispatcher) calls() []auth.Credential {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]auth.Credential(nil), f.creds...)
}

type fakeLoader struct {
	creds map[string]auth.Credential
}

func (f fakeLoader) Load(_ context.Context, subject string) (auth.Credential, error) {
	cred, ok := f.creds[subject]
	if !ok {
		return auth.Credential{}, errors.New("not found")
	}
	return cred, nil
}

type testEnv struct {
	sc         *ServerContext
	store      *conversation.SyncStore
	dispatcher *fakeDispatcher
	server     *httptest.Server
}

func newTestEnv(t *testing.T, loader CredentialLoader) *testEnv {
	t.Helper()

	store := conversation.NewSyncStore(conversation.NewMemoryStore(), conversation.Options{})
	t.Cleanup(func() { _ = store.Close() })

	resolver := actions.NewResolver(datetime.New(
		datetime.WithLocation(time.UTC),
		datetime.WithClock(func() time.Time { return testNow }),
	))
	d := &fakeDispatcher{}
	svc, err := assistant.NewService(assistant.Config{Store: store, Resolver: resolver, Dispatcher: d})
	require.NoError(t, err)

	sc, err := NewServerContext(context.Background(), Options{
		Assistant:   svc,
		Store:       store,
		Credentials: loader,
		Now:         func() time.Time { return testNow },
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = sc.Shutdown() })

	api := NewAPI(sc)
	srv := httptest.NewServer(api.Handler(NewHealthChecker(sc, "test")))
	t.Cleanup(srv.Close)

	return &testEnv{sc: sc, store: store, dispatcher: d, server: srv}
}

func tokenHeaders() http.Header {
	h := http.Header{}
	h.Set(auth.AccessTokenHeader, "access-1")
	h.Set(auth.RefreshTokenHeader, "refresh-1")
	h.Set(auth.SubjectHeader, "user@example.com")
	return h
}
