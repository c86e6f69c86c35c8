package events_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/browsergate/browsergate/internal/events"
	"github.com/browsergate/browsergate/pkg/models"
)

func publish(bus *events.Bus, sessionID string, kind models.EventKind, data any) {
	bus.Publish(models.Event{Kind: kind, SessionID: sessionID, TS: time.Now(), Data: data})
}

func recv(t *testing.T, sub *events.Subscription) models.Event {
	t.Helper()
	select {
	case ev, ok := <-sub.Events():
		require.True(t, ok, "subscription channel closed")
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return models.Event{}
	}
}

func TestPublishReachesSessionSubscribers(t *testing.T) {
	bus := events.NewBus(0)
	sub := bus.Subscribe("s1", events.FilterAll)
	other := bus.Subscribe("s2", events.FilterAll)
	defer bus.Unsubscribe(sub.ID)
	defer bus.Unsubscribe(other.ID)

	publish(bus, "s1", models.EventCommandStarted, nil)

	ev := recv(t, sub)
	assert.Equal(t, models.EventCommandStarted, ev.Kind)
	assert.Equal(t, "s1", ev.SessionID)

	select {
	case ev := <-other.Events():
		t.Fatalf("event %s leaked across sessions", ev.Kind)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestFilterSelectsKinds(t *testing.T) {
	bus := events.NewBus(0)
	consoleOnly := bus.Subscribe("s1", events.Filter{Console: true})
	defer bus.Unsubscribe(consoleOnly.ID)

	publish(bus, "s1", models.EventCommandFinished, nil)
	publish(bus, "s1", models.EventConsole, "hi")

	ev := recv(t, consoleOnly)
	assert.Equal(t, models.EventConsole, ev.Kind)
}

func TestSlowSubscriberDropsOldest(t *testing.T) {
	bus := events.NewBus(2)
	sub := bus.Subscribe("s1", events.FilterAll)
	defer bus.Unsubscribe(sub.ID)

	for i := 0; i < 5; i++ {
		publish(bus, "s1", models.EventCommandStarted, i)
	}

	// The buffer holds the newest two events; the rest were dropped.
	first := recv(t, sub)
	second := recv(t, sub)
	assert.Equal(t, 3, first.Data)
	assert.Equal(t, 4, second.Data)
}

func TestPublishNeverBlocks(t *testing.T) {
	bus := events.NewBus(1)
	sub := bus.Subscribe("s1", events.FilterAll)
	defer bus.Unsubscribe(sub.ID)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			publish(bus, "s1", models.EventConsole, i)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
}

func TestUnsubscribeIdempotent(t *testing.T) {
	bus := events.NewBus(0)
	sub := bus.Subscribe("s1", events.FilterAll)

	bus.Unsubscribe(sub.ID)
	bus.Unsubscribe(sub.ID)

	_, ok := <-sub.Events()
	assert.False(t, ok)

	// Publishing after unsubscribe is a no-op, not a panic.
	publish(bus, "s1", models.EventConsole, nil)
}

func TestCloseSessionDropsAllSubscriptions(t *testing.T) {
	bus := events.NewBus(0)
	a := bus.Subscribe("s1", events.FilterAll)
	b := bus.Subscribe("s1", events.FilterAll)
	keep := bus.Subscribe("s2", events.FilterAll)
	defer bus.Unsubscribe(keep.ID)

	bus.CloseSession("s1")

	_, ok := <-a.Events()
	assert.False(t, ok)
	_, ok = <-b.Events()
	assert.False(t, ok)

	publish(bus, "s2", models.EventConsole, nil)
	ev := recv(t, keep)
	assert.Equal(t, "s2", ev.SessionID)
}
