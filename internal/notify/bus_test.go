package notify

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBusTopicMatching(t *testing.T) {
	bus := NewBus()

	var scoped, typed, all []Event
	bus.Subscribe("sess-1", EventNewMessage, func(e Event) { scoped = append(scoped, e) })
	bus.Subscribe("", EventNewMessage, func(e Event) { typed = append(typed, e) })
	bus.Subscribe("", EventAll, func(e Event) { all = append(all, e) })

	bus.Publish(Event{Type: EventNewMessage, SessionID: "sess-1"})
	bus.Publish(Event{Type: EventNewMessage, SessionID: "sess-2"})
	bus.Publish(Event{Type: EventConnected, SessionID: "sess-1"})

	assert.Len(t, scoped, 1)
	assert.Len(t, typed, 2)
	assert.Len(t, all, 3)
}

func TestBusCancel(t *testing.T) {
	bus := NewBus()

	var got []Event
	sub := bus.Subscribe("sess-1", EventNewMessage, func(e Event) { got = append(got, e) })

	bus.Publish(Event{Type: EventNewMessage, SessionID: "sess-1"})
	sub.Cancel()
	bus.Publish(Event{Type: EventNewMessage, SessionID: "sess-1"})

	assert.Len(t, got, 1)

	// Cancel is idempotent and nil-safe.
	sub.Cancel()
	var nilSub *Subscription
	nilSub.Cancel()
}

func TestBusDropSession(t *testing.T) {
	bus := NewBus()

	var scoped, global []Event
	bus.Subscribe("sess-1", EventAll, func(e Event) { scoped = append(scoped, e) })
	bus.Subscribe("", EventAll, func(e Event) { global = append(global, e) })

	bus.DropSession("sess-1")
	bus.Publish(Event{Type: EventNewMessage, SessionID: "sess-1"})

	assert.Empty(t, scoped)
	assert.Len(t, global, 1)
}

func TestIsValidEventType(t *testing.T) {
	assert.True(t, IsValidEventType(EventNewMessage))
	assert.True(t, IsValidEventType(EventAll))
	assert.False(t, IsValidEventType("Bogus"))
}
