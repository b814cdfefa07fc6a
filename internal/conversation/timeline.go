package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/teemow/inboxpilot/internal/logging"
)

// Timeline is a client-side view of one conversation: committed history, live
// appends and optimistic messages that could not be committed yet. A message
// is displayed at most once.
type Timeline struct {
	store          Store
	conversationID string
	logger         *slog.Logger
	now            func() time.Time

	mu         sync.Mutex
	entries    []Message
	seen       map[string]struct{}
	pending    []pendingDraft
	reconciled map[string]string

	sub     *Subscription
	updates chan struct{}
	done    chan struct{}
}

type pendingDraft struct {
	tempID string
	draft  Draft
}

// OpenTimeline subscribes to the conversation and then loads its history.
// Subscribing first guarantees that nothing committed in between is missed;
// messages seen in both are shown once.
func OpenTimeline(ctx context.Context, store Store, conversationID string, logger *slog.Logger) (*Timeline, error) {
	if logger == nil {
		logger = slog.Default()
	}
	sub, err := store.Subscribe(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}

	t := &Timeline{
		store:          store,
		conversationID: conversationID,
		logger:         logging.WithConversation(logger, conversationID),
		now:            time.Now,
		seen:           make(map[string]struct{}),
		reconciled:     make(map[string]string),
		sub:            sub,
		updates:        make(chan struct{}, 1),
		done:           make(chan struct{}),
	}

	history, err := store.LoadHistory(ctx, conversationID)
	if err != nil {
		sub.Close()
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	t.mu.Lock()
	for _, msg := range history {
		t.addLocked(msg)
	}
	t.mu.Unlock()

	go t.consume()
	return t, nil
}

func (t *Timeline) consume() {
	defer close(t.done)
	for msg := range t.sub.Messages() {
		t.mu.Lock()
		added := t.addLocked(msg)
		t.mu.Unlock()
		if added {
			t.notify()
		}
	}
}

func (t *Timeline) addLocked(msg Message) bool {
	if _, ok := t.seen[msg.ID]; ok {
		return false
	}
	t.seen[msg.ID] = struct{}{}
	t.entries = slices.Insert(t.entries, t.positionLocked(msg), msg)
	return true
}

// positionLocked returns where a committed msg belongs. CreatedAt is strictly
// increasing per conversation, so a message that committed before one already
// shown is placed ahead of it. Optimistic entries keep their place.
func (t *Timeline) positionLocked(msg Message) int {
	i := len(t.entries)
	for i > 0 {
		prev := t.entries[i-1]
		if prev.Temporary() || !prev.CreatedAt.After(msg.CreatedAt) {
			break
		}
		i--
	}
	return i
}

func (t *Timeline) notify() {
	select {
	case t.updates <- struct{}{}:
	default:
	}
}

// Send appends draft. When the store is unavailable the draft is shown as an
// optimistic message with a temporary id and queued for Reconcile; no error is
// returned in that case. Other errors are returned unchanged.
func (t *Timeline) Send(ctx context.Context, draft Draft) (Message, error) {
	draft.ConversationID = t.conversationID

	msg, err := t.store.Append(ctx, draft)
	if err == nil {
		t.mu.Lock()
		added := t.addLocked(msg)
		t.mu.Unlock()
		if added {
			t.notify()
		}
		return msg, nil
	}
	if !IsUnavailable(err) {
		return Message{}, err
	}

	temp := draft.message(NewTempID(), t.now().UTC())
	t.mu.Lock()
	t.entries = append(t.entries, temp)
	t.pending = append(t.pending, pendingDraft{tempID: temp.ID, draft: draft})
	t.mu.Unlock()
	t.notify()

	t.logger.Warn("Store unavailable, showing optimistic message",
		slog.String("temp_id", temp.ID),
		logging.Err(err))
	return temp, nil
}

// Reconcile retries pending optimistic messages in order and replaces each
// with its committed record. It stops at the first failure and returns the
// number reconciled.
func (t *Timeline) Reconcile(ctx context.Context) (int, error) {
	// The lock is held across Append so a live echo of the committed message
	// is only processed after the temporary entry has been replaced.
	t.mu.Lock()
	defer t.mu.Unlock()

	done := 0
	for len(t.pending) > 0 {
		p := t.pending[0]
		msg, err := t.store.Append(ctx, p.draft)
		if err != nil {
			return done, err
		}
		t.pending = t.pending[1:]
		t.reconciled[p.tempID] = msg.ID
		t.replaceLocked(p.tempID, msg)
		done++
	}
	if done > 0 {
		t.notify()
	}
	return done, nil
}

func (t *Timeline) replaceLocked(tempID string, msg Message) {
	idx := -1
	for i, e := range t.entries {
		if e.ID == tempID {
			idx = i
			break
		}
	}
	if _, dup := t.seen[msg.ID]; dup {
		if idx >= 0 {
			t.entries = append(t.entries[:idx], t.entries[idx+1:]...)
		}
		return
	}
	t.seen[msg.ID] = struct{}{}
	if idx >= 0 {
		t.entries[idx] = msg
		return
	}
	t.entries = append(t.entries, msg)
}

// Messages returns a snapshot of the displayed messages.
func (t *Timeline) Messages() []Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Message, len(t.entries))
	copy(out, t.entries)
	return out
}

// Pending returns the number of optimistic messages awaiting Reconcile.
func (t *Timeline) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// ResolveID maps a temporary id to the id it was committed under.
func (t *Timeline) ResolveID(id string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	final, ok := t.reconciled[id]
	return final, ok
}

// Updates signals (coalesced) whenever the displayed messages change.
func (t *Timeline) Updates() <-chan struct{} {
	return t.updates
}

// Close stops following the conversation.
func (t *Timeline) Close() {
	t.sub.Close()
	<-t.done
}
