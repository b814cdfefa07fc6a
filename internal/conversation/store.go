package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/teemow/inboxpilot/internal/instrumentation"
	"github.com/teemow/inboxpilot/internal/logging"
)

// Store is the conversation contract consumed by the assistant and the server.
type Store interface {
	// Append commits a draft and returns the canonical record.
	Append(ctx context.Context, draft Draft) (Message, error)
	// LoadHistory returns every committed message of a conversation in commit order.
	LoadHistory(ctx context.Context, conversationID string) ([]Message, error)
	// Subscribe streams messages committed after the call returns.
	Subscribe(ctx context.Context, conversationID string) (*Subscription, error)
}

// Backend persists messages. Implementations need not be ordered-safe for
// concurrent inserts into one conversation: SyncStore serializes them.
type Backend interface {
	// Name identifies the backend in metrics and logs.
	Name() string
	// Insert persists msg. It must fail rather than overwrite an existing id.
	Insert(ctx context.Context, msg Message) error
	// History returns the messages of a conversation ordered by CreatedAt.
	History(ctx context.Context, conversationID string) ([]Message, error)
	// Latest returns the CreatedAt of the newest message, or the zero time.
	Latest(ctx context.Context, conversationID string) (time.Time, error)
	Close() error
}

// timestampResolution is the finest precision every backend round-trips.
const timestampResolution = time.Microsecond

// Options configures a SyncStore.
type Options struct {
	Logger  *slog.Logger
	Metrics *instrumentation.Metrics
	Now     func() time.Time
}

// SyncStore serializes appends per conversation and publishes them to a Hub.
type SyncStore struct {
	backend Backend
	hub     *Hub
	logger  *slog.Logger
	metrics *instrumentation.Metrics
	now     func() time.Time

	mu     sync.Mutex
	convs  map[string]*convState
	closed bool
}

type convState struct {
	mu     sync.Mutex
	last   time.Time
	loaded bool
}

// NewSyncStore wraps backend.
func NewSyncStore(backend Backend, opts Options) *SyncStore {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &SyncStore{
		backend: backend,
		hub:     NewHub(opts.Metrics),
		logger:  logging.WithOperation(logger, "conversation").With(slog.String("backend", backend.Name())),
		metrics: opts.Metrics,
		now:     now,
		convs:   make(map[string]*convState),
	}
}

// Hub returns the store's subscriber hub.
func (s *SyncStore) Hub() *Hub {
	return s.hub
}

// Backend returns the wrapped persistence backend.
func (s *SyncStore) Backend() Backend {
	return s.backend
}

func (s *SyncStore) state(conversationID string) (*convState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	st, ok := s.convs[conversationID]
	if !ok {
		st = &convState{}
		s.convs[conversationID] = st
	}
	return st, nil
}

// Append implements Store.
func (s *SyncStore) Append(ctx context.Context, draft Draft) (Message, error) {
	if draft.ConversationID == "" {
		return Message{}, ErrMissingConversation
	}
	st, err := s.state(draft.ConversationID)
	if err != nil {
		return Message{}, err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if !st.loaded {
		last, err := s.backend.Latest(ctx, draft.ConversationID)
		if err != nil {
			s.recordAppend(ctx, instrumentation.StatusError)
			return Message{}, &StoreUnavailableError{Op: "append", Err: err}
		}
		st.last = last
		st.loaded = true
	}

	createdAt := s.now().UTC().Truncate(timestampResolution)
	if !createdAt.After(st.last) {
		createdAt = st.last.Add(timestampResolution)
	}
	msg := draft.message(newID(), createdAt)

	if err := s.backend.Insert(ctx, msg); err != nil {
		s.recordAppend(ctx, instrumentation.StatusError)
		s.logger.Warn("Append failed",
			logging.Conversation(draft.ConversationID),
			logging.Err(err))
		return Message{}, &StoreUnavailableError{Op: "append", Err: err}
	}
	st.last = createdAt

	// Publishing under the commit lock keeps fan-out in commit order.
	s.hub.Publish(msg)
	s.recordAppend(ctx, instrumentation.StatusSuccess)

	s.logger.Debug("Message appended",
		logging.Conversation(msg.ConversationID),
		slog.String("message_id", msg.ID),
		slog.Bool("is_user", msg.IsUser))

	return msg, nil
}

// LoadHistory implements Store.
func (s *SyncStore) LoadHistory(ctx context.Context, conversationID string) ([]Message, error) {
	if conversationID == "" {
		return nil, ErrMissingConversation
	}
	msgs, err := s.backend.History(ctx, conversationID)
	if err != nil {
		return nil, &StoreUnavailableError{Op: "load history", Err: err}
	}
	return msgs, nil
}

// Subscribe implements Store. Registration holds the conversation's commit
// lock, so each message is either in a history loaded afterwards or delivered
// live.
func (s *SyncStore) Subscribe(ctx context.Context, conversationID string) (*Subscription, error) {
	if conversationID == "" {
		return nil, ErrMissingConversation
	}
	st, err := s.state(conversationID)
	if err != nil {
		return nil, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return s.hub.Subscribe(ctx, conversationID), nil
}

// Close ends all subscriptions and closes the backend.
func (s *SyncStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.hub.CloseAll()
	if err := s.backend.Close(); err != nil {
		return fmt.Errorf("failed to close %s backend: %w", s.backend.Name(), err)
	}
	return nil
}

func (s *SyncStore) recordAppend(ctx context.Context, status string) {
	s.metrics.RecordConversationAppend(ctx, s.backend.Name(), status)
}

// errDuplicateID is returned by backends when an id already exists.
var errDuplicateID = errors.New("message id already exists")
