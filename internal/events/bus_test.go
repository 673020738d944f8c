package events

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.True(t, ok, "channel closed")
		return ev
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout waiting for event")
	}
	return Event{}
}

func TestNewBus(t *testing.T) {
	bus := NewBus()
	require.NotNil(t, bus)
	assert.Equal(t, 0, bus.SubscriberCount())
}

func TestBusSubscribeUnsubscribe(t *testing.T) {
	bus := NewBus()

	ch1 := bus.Subscribe()
	ch2 := bus.Subscribe()
	assert.Equal(t, 2, bus.SubscriberCount())

	bus.Unsubscribe(ch1)
	assert.Equal(t, 1, bus.SubscriberCount())

	_, ok := <-ch1
	assert.False(t, ok, "unsubscribed channel should be closed")

	bus.Unsubscribe(ch2)
	assert.Equal(t, 0, bus.SubscriberCount())
}

func TestBusPublishMultipleSubscribers(t *testing.T) {
	bus := NewBus()
	ch1 := bus.Subscribe()
	ch2 := bus.Subscribe()

	bus.Publish(NewPhaseEvent("1", "loading"))

	for _, ch := range []<-chan Event{ch1, ch2} {
		ev := receive(t, ch)
		assert.Equal(t, EventPhase, ev.Type)
		assert.Equal(t, "1", ev.NodeID)
		assert.Equal(t, "loading", ev.Data.Phase)
	}
}

func TestBusPublishNonBlocking(t *testing.T) {
	bus := NewBus()
	bus.bufferSize = 1

	ch := bus.Subscribe()

	done := make(chan struct{})
	go func() {
		bus.Publish(NewPhaseEvent("1", "a"))
		bus.Publish(NewPhaseEvent("1", "b"))
		bus.Publish(NewPhaseEvent("1", "c"))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
	assert.Equal(t, "a", receive(t, ch).Data.Phase)
}

func TestBusReplaysLastPhase(t *testing.T) {
	bus := NewBus()

	_, ok := bus.LastPhase()
	assert.False(t, ok)

	bus.Publish(NewPhaseEvent("1", "quorum"))
	bus.Publish(NewQuorumReachedEvent("1", 2, time.Millisecond))
	bus.Publish(NewPhaseEvent("1", "loading"))

	last, ok := bus.LastPhase()
	require.True(t, ok)
	assert.Equal(t, "loading", last.Data.Phase)

	ch := bus.Subscribe()
	ev := receive(t, ch)
	assert.Equal(t, EventPhase, ev.Type)
	assert.Equal(t, "loading", ev.Data.Phase, "late subscribers start from the current phase")

	bus.Publish(NewPhaseEvent("1", "verifying"))
	assert.Equal(t, "verifying", receive(t, ch).Data.Phase)

	bus.Close()
	bus.Publish(NewPhaseEvent("1", "ready"))
	last, _ = bus.LastPhase()
	assert.Equal(t, "verifying", last.Data.Phase, "publish after close is ignored")
}

func TestBusPublishNil(t *testing.T) {
	var bus *Bus
	assert.NotPanics(t, func() { bus.Publish(NewPhaseEvent("1", "ready")) })
	_, ok := bus.LastPhase()
	assert.False(t, ok)
}

func TestBusClose(t *testing.T) {
	bus := NewBus()
	ch := bus.Subscribe()

	bus.Close()
	assert.Equal(t, 0, bus.SubscriberCount())

	_, ok := <-ch
	assert.False(t, ok)

	late := bus.Subscribe()
	_, ok = <-late
	assert.False(t, ok, "subscribe after close should return a closed channel")
}

func TestEventCreation(t *testing.T) {
	t.Run("QuorumReached", func(t *testing.T) {
		ev := NewQuorumReachedEvent("1", 2, 150*time.Millisecond)
		assert.Equal(t, EventQuorumReached, ev.Type)
		assert.Equal(t, 2, ev.Data.Servers)
		assert.Equal(t, "150ms", ev.Data.Elapsed)
	})

	t.Run("JobFinished", func(t *testing.T) {
		ok := NewJobFinishedEvent("1", 7, 10000, nil)
		assert.Equal(t, 7, ok.Data.JobID)
		assert.Empty(t, ok.Data.Error)

		failed := NewJobFinishedEvent("1", 8, 12, errors.New("streamer closed"))
		assert.Equal(t, "streamer closed", failed.Data.Error)
	})

	t.Run("Verify", func(t *testing.T) {
		attempt := NewVerifyAttemptEvent("1", 3, true, "no conflicts")
		assert.Equal(t, EventVerifyAttempt, attempt.Type)
		assert.True(t, attempt.Data.Converged)

		done := NewVerifyFinishedEvent("1", 3, true, 20*time.Second)
		assert.Equal(t, EventVerifyFinished, done.Type)
		assert.Equal(t, "20s", done.Data.Elapsed)
	})
}
