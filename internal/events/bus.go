// Package events fans per-session telemetry out to subscribers.
//
// Delivery is best-effort and non-blocking: each subscription has a bounded
// buffer with a drop-oldest overflow policy, so a slow or disconnected
// subscriber never stalls command execution.
package events

import (
	"sync"

	"github.com/google/uuid"

	"github.com/browsergate/browsergate/pkg/models"
)

// DefaultBuffer is the per-subscription buffer depth.
const DefaultBuffer = 64

// Filter selects event kinds: command telemetry, console messages, or both.
type Filter struct {
	Commands bool
	Console  bool
}

// FilterAll matches every event kind.
var FilterAll = Filter{Commands: true, Console: true}

// Match reports whether the filter selects the given kind.
func (f Filter) Match(kind models.EventKind) bool {
	if kind == models.EventConsole {
		return f.Console
	}
	return f.Commands
}

// Subscription is one live subscriber to a session's events.
type Subscription struct {
	ID        string
	SessionID string
	filter    Filter

	mu     sync.Mutex
	ch     chan models.Event
	closed bool
}

// Events returns the subscription's delivery channel. The channel is closed
// on Unsubscribe and on session close.
func (s *Subscription) Events() <-chan models.Event {
	return s.ch
}

// deliver pushes ev, dropping the oldest buffered event on overflow.
func (s *Subscription) deliver(ev models.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- ev:
	default:
		select {
		case <-s.ch:
		default:
		}
		select {
		case s.ch <- ev:
		default:
		}
	}
}

func (s *Subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// Bus routes events to matching live subscriptions.
type Bus struct {
	buffer int

	mu        sync.RWMutex
	subs      map[string]*Subscription
	bySession map[string]map[string]*Subscription
}

// NewBus creates an event bus with the given per-subscription buffer depth
// (DefaultBuffer when zero).
func NewBus(buffer int) *Bus {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Bus{
		buffer:    buffer,
		subs:      make(map[string]*Subscription),
		bySession: make(map[string]map[string]*Subscription),
	}
}

// Subscribe registers a subscriber for one session's events. A session may
// have zero, one, or several subscribers.
func (b *Bus) Subscribe(sessionID string, filter Filter) *Subscription {
	sub := &Subscription{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		filter:    filter,
		ch:        make(chan models.Event, b.buffer),
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[sub.ID] = sub
	sessionSubs, ok := b.bySession[sessionID]
	if !ok {
		sessionSubs = make(map[string]*Subscription)
		b.bySession[sessionID] = sessionSubs
	}
	sessionSubs[sub.ID] = sub
	return sub
}

// Publish delivers ev to all matching live subscriptions for its session.
// Never blocks.
func (b *Bus) Publish(ev models.Event) {
	b.mu.RLock()
	var matched []*Subscription
	for _, sub := range b.bySession[ev.SessionID] {
		if sub.filter.Match(ev.Kind) {
			matched = append(matched, sub)
		}
	}
	b.mu.RUnlock()

	for _, sub := range matched {
		sub.deliver(ev)
	}
}

// Unsubscribe removes a subscription. Idempotent.
func (b *Bus) Unsubscribe(handle string) {
	b.mu.Lock()
	sub, ok := b.subs[handle]
	if ok {
		delete(b.subs, handle)
		if sessionSubs := b.bySession[sub.SessionID]; sessionSubs != nil {
			delete(sessionSubs, handle)
			if len(sessionSubs) == 0 {
				delete(b.bySession, sub.SessionID)
			}
		}
	}
	b.mu.Unlock()

	if ok {
		sub.close()
	}
}

// CloseSession drops every subscription for a session, closing their
// channels.
func (b *Bus) CloseSession(sessionID string) {
	b.mu.Lock()
	sessionSubs := b.bySession[sessionID]
	delete(b.bySession, sessionID)
	var closing []*Subscription
	for id, sub := range sessionSubs {
		delete(b.subs, id)
		closing = append(closing, sub)
	}
	b.mu.Unlock()

	for _, sub := range closing {
		sub.close()
	}
}
