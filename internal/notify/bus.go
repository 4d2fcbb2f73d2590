package notify

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// Bus is an in-process typed publish/subscribe fan-out. Topics are
// (sessionID, eventType) pairs; an empty sessionID subscribes across all
// sessions, and EventAll across all types. Callbacks run synchronously on
// the publisher's goroutine, so they must not block.
type Bus struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[string]map[uint64]func(Event)
}

// Subscription is the handle returned to subscribers; Cancel removes the
// callback deterministically.
type Subscription struct {
	bus   *Bus
	topic string
	id    uint64
}

func (s *Subscription) Cancel() {
	if s == nil || s.bus == nil {
		return
	}
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	if set, ok := s.bus.subs[s.topic]; ok {
		delete(set, s.id)
		if len(set) == 0 {
			delete(s.bus.subs, s.topic)
		}
	}
}

func NewBus() *Bus {
	return &Bus{subs: make(map[string]map[uint64]func(Event))}
}

func topicKey(sessionID, eventType string) string {
	return sessionID + ":" + eventType
}

// Subscribe registers cb for events of eventType on sessionID. Pass an empty
// sessionID to listen across sessions, or EventAll to listen to every type.
func (b *Bus) Subscribe(sessionID, eventType string, cb func(Event)) *Subscription {
	if !IsValidEventType(eventType) {
		log.Warn().Str("eventType", eventType).Msg("Subscription for unknown event type")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	key := topicKey(sessionID, eventType)
	if b.subs[key] == nil {
		b.subs[key] = make(map[uint64]func(Event))
	}
	b.subs[key][b.nextID] = cb
	return &Subscription{bus: b, topic: key, id: b.nextID}
}

// DropSession removes every subscription scoped to one session id; called
// when a session is retired from the registry.
func (b *Bus) DropSession(sessionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, t := range supportedEventTypes {
		delete(b.subs, topicKey(sessionID, t))
	}
}

// Publish invokes matching callbacks synchronously.
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	var cbs []func(Event)
	for _, key := range []string{
		topicKey(event.SessionID, event.Type),
		topicKey(event.SessionID, EventAll),
		topicKey("", event.Type),
		topicKey("", EventAll),
	} {
		for _, cb := range b.subs[key] {
			cbs = append(cbs, cb)
		}
	}
	b.mu.RUnlock()

	for _, cb := range cbs {
		cb(event)
	}
}
