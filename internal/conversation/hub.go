package conversation

import (
	"context"
	"sync"

	"github.com/teemow/inboxpilot/internal/instrumentation"
)

// Hub fans committed messages out to the live subscribers of each conversation.
// Every subscriber has its own unbounded queue so a slow reader never blocks
// the committer and never loses a message.
type Hub struct {
	mu      sync.RWMutex
	subs    map[string]map[*Subscription]struct{}
	metrics *instrumentation.Metrics
}

// NewHub creates an empty hub. metrics may be nil.
func NewHub(metrics *instrumentation.Metrics) *Hub {
	return &Hub{
		subs:    make(map[string]map[*Subscription]struct{}),
		metrics: metrics,
	}
}

// Subscribe registers a new subscriber for conversationID. The subscription
// ends when ctx is done or Close is called.
func (h *Hub) Subscribe(ctx context.Context, conversationID string) *Subscription {
	sub := &Subscription{
		conversationID: conversationID,
		out:            make(chan Message),
		signal:         make(chan struct{}, 1),
		done:           make(chan struct{}),
		hub:            h,
	}

	h.mu.Lock()
	set, ok := h.subs[conversationID]
	if !ok {
		set = make(map[*Subscription]struct{})
		h.subs[conversationID] = set
	}
	set[sub] = struct{}{}
	h.mu.Unlock()

	h.metrics.AddConversationSubscribers(context.Background(), 1)

	go sub.run()
	go func() {
		select {
		case <-ctx.Done():
			sub.Close()
		case <-sub.done:
		}
	}()

	return sub
}

// Publish queues msg for every current subscriber of its conversation.
func (h *Hub) Publish(msg Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs[msg.ConversationID] {
		sub.push(msg)
	}
}

// Subscribers returns the number of live subscribers of conversationID.
func (h *Hub) Subscribers(conversationID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[conversationID])
}

// CloseAll ends every subscription.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	var all []*Subscription
	for _, set := range h.subs {
		for sub := range set {
			all = append(all, sub)
		}
	}
	h.mu.RUnlock()

	for _, sub := range all {
		sub.Close()
	}
}

func (h *Hub) remove(sub *Subscription) {
	h.mu.Lock()
	if set, ok := h.subs[sub.conversationID]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(h.subs, sub.conversationID)
		}
	}
	h.mu.Unlock()

	h.metrics.AddConversationSubscribers(context.Background(), -1)
}

// Subscription is a live stream of one conversation's new messages.
type Subscription struct {
	conversationID string
	hub            *Hub

	mu     sync.Mutex
	queue  []Message
	closed bool

	out       chan Message
	signal    chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// ConversationID returns the subscribed conversation.
func (s *Subscription) ConversationID() string {
	return s.conversationID
}

// Messages returns the stream. It is closed when the subscription ends.
func (s *Subscription) Messages() <-chan Message {
	return s.out
}

// Done is closed when the subscription ends.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Close ends the subscription. Queued but undelivered messages are discarded.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.queue = nil
		s.mu.Unlock()
		close(s.done)
		s.hub.remove(s)
	})
}

func (s *Subscription) push(msg Message) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, msg)
	s.mu.Unlock()

	select {
	case s.signal <- struct{}{}:
	default:
	}
}

func (s *Subscription) run() {
	defer close(s.out)
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.mu.Unlock()
			select {
			case <-s.signal:
				continue
			case <-s.done:
				return
			}
		}
		msg := s.queue[0]
		s.queue[0] = Message{}
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case s.out <- msg:
		case <-s.done:
			return
		}
	}
}
