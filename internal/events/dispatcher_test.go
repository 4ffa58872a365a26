package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureSink struct {
	mu       sync.Mutex
	events   []Event
	failNext int
}

func (s *captureSink) Publish(_ context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNext > 0 {
		s.failNext--
		return errors.New("sink down")
	}
	s.events = append(s.events, event)
	return nil
}

func (s *captureSink) snapshot() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event{}, s.events...)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatal("condition not met in time")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestAsync_DeliversInOrder(t *testing.T) {
	sink := &captureSink{}
	pub := NewAsync(sink, WithFlushInterval(10*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- pub.Run(ctx) }()

	for _, eventID := range []string{"a", "b", "c", "d"} {
		require.NoError(t, pub.Publish(context.Background(), Event{ID: eventID, Kind: KindRateProposed}))
	}

	waitFor(t, func() bool { return len(sink.snapshot()) == 4 })
	got := sink.snapshot()
	assert.Equal(t, "a", got[0].ID)
	assert.Equal(t, "d", got[3].ID)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestAsync_DrainsOnShutdown(t *testing.T) {
	sink := &captureSink{}
	pub := NewAsync(sink)

	for _, eventID := range []string{"a", "b", "c"} {
		require.NoError(t, pub.Publish(context.Background(), Event{ID: eventID}))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, pub.Run(ctx), context.Canceled)

	assert.Len(t, sink.snapshot(), 3, "pending events flush before Run returns")
}

func TestAsync_SinkFailuresDoNotStopDelivery(t *testing.T) {
	sink := &captureSink{failNext: 2}
	pub := NewAsync(sink, WithFlushInterval(10*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = pub.Run(ctx) }()

	for _, eventID := range []string{"a", "b", "c", "d"} {
		require.NoError(t, pub.Publish(context.Background(), Event{ID: eventID}))
	}

	// Two publishes fail and are lost; delivery continues for the rest.
	waitFor(t, func() bool { return len(sink.snapshot()) == 2 })

	require.NoError(t, pub.Publish(context.Background(), Event{ID: "e"}))
	waitFor(t, func() bool { return len(sink.snapshot()) == 3 })
	assert.Equal(t, "e", sink.snapshot()[2].ID)
}

func TestAsync_PublishNeverBlocks(t *testing.T) {
	sink := &captureSink{}
	pub := NewAsync(sink, WithBufferCapacity(2))

	// No Run loop: the buffer fills and rolls over without blocking.
	for _, eventID := range []string{"a", "b", "c", "d"} {
		require.NoError(t, pub.Publish(context.Background(), Event{ID: eventID}))
	}
	assert.Equal(t, int64(2), pub.Dropped())
}
