package cmd

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teemow/inboxpilot/internal/conversation"
)

// unavailableStore fails the first failures appends as if the backend were down.
type unavailableStore struct {
	conversation.Store
	failures int32
	attempts atomic.Int32
}

func (s *unavailableStore) Append(ctx context.Context, draft conversation.Draft) (conversation.Message, error) {
	if s.attempts.Add(1) <= s.failures {
		return conversation.Message{}, &conversation.StoreUnavailableError{Op: "append", Err: errors.New("connection refused")}
	}
	return s.Store.Append(ctx, draft)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRunPost(t *testing.T) {
	tests := []struct {
		name        string
		failures    int32
		timeout     time.Duration
		wantPending bool
		wantErr     string
	}{
		{name: "store available", timeout: time.Second},
		{name: "pending until the store recovers", failures: 2, timeout: 2 * time.Second, wantPending: true},
		{name: "store never recovers", failures: 1 << 20, timeout: 100 * time.Millisecond, wantPending: true, wantErr: "was not recorded"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inner := conversation.NewSyncStore(conversation.NewMemoryStore(), conversation.Options{})
			t.Cleanup(func() { _ = inner.Close() })
			store := &unavailableStore{Store: inner, failures: tt.failures}

			var out bytes.Buffer
			err := runPost(context.Background(), store, discardLogger(), &out, "c-1",
				conversation.Draft{Content: "running late", IsUser: true},
				postFlags{retry: 10 * time.Millisecond, timeout: tt.timeout})

			assert.Equal(t, tt.wantPending, strings.Contains(out.String(), "pending: "+conversation.TempIDPrefix))
			history, loadErr := inner.LoadHistory(context.Background(), "c-1")
			require.NoError(t, loadErr)

			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				assert.Empty(t, history)
				return
			}
			require.NoError(t, err)
			require.Len(t, history, 1)
			assert.Contains(t, out.String(), "user: running late")
			if tt.wantPending {
				assert.Contains(t, out.String(), "recorded: "+history[0].ID)
			}
		})
	}
}

func TestRunPost_EmptyMessage(t *testing.T) {
	store := conversation.NewSyncStore(conversation.NewMemoryStore(), conversation.Options{})
	t.Cleanup(func() { _ = store.Close() })

	err := runPost(context.Background(), store, discardLogger(), io.Discard, "c-1", conversation.Draft{Content: "  "}, postFlags{})
	assert.Error(t, err)
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestFollowHistory(t *testing.T) {
	store := conversation.NewSyncStore(conversation.NewMemoryStore(), conversation.Options{})
	t.Cleanup(func() { _ = store.Close() })

	_, err := store.Append(context.Background(), conversation.Draft{ConversationID: "c-1", Content: "first", IsUser: true})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	out := &lockedBuffer{}
	done := make(chan error, 1)
	go func() {
		done <- followHistory(ctx, store, discardLogger(), out, "c-1", 0, false)
	}()

	require.Eventually(t, func() bool { return strings.Contains(out.String(), "user: first") }, 2*time.Second, 5*time.Millisecond)

	_, err = store.Append(context.Background(), conversation.Draft{ConversationID: "c-1", Content: "second"})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return strings.Contains(out.String(), "assistant: second") }, 2*time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, 1, strings.Count(out.String(), "user: first"))
}
