package events

import (
	"context"
	"log/slog"
	"time"
)

const (
	defaultFlushInterval = 500 * time.Millisecond
	defaultBatchSize     = 128
	shutdownDrainTimeout = 5 * time.Second
)

// Async buffers events in-process and forwards them to a sink from a
// background goroutine. Publish never blocks: when the buffer is full the
// oldest events are dropped and counted.
type Async struct {
	buffer *RingBuffer
	notify chan struct{}
	sink   Publisher
	logger *slog.Logger

	flushInterval time.Duration
	batchSize     int
}

// AsyncOption configures the Async publisher.
type AsyncOption func(*Async)

// WithLogger sets a logger for delivery failures.
func WithLogger(logger *slog.Logger) AsyncOption {
	return func(a *Async) {
		a.logger = logger
	}
}

// WithBufferCapacity bounds how many events may be pending delivery.
func WithBufferCapacity(capacity int) AsyncOption {
	return func(a *Async) {
		a.buffer = NewRingBuffer(capacity)
	}
}

// WithFlushInterval sets how often the buffer is drained absent new events.
func WithFlushInterval(interval time.Duration) AsyncOption {
	return func(a *Async) {
		if interval > 0 {
			a.flushInterval = interval
		}
	}
}

// NewAsync creates an async publisher draining into sink. Run must be started
// for events to flow.
func NewAsync(sink Publisher, opts ...AsyncOption) *Async {
	a := &Async{
		buffer:        NewRingBuffer(0),
		notify:        make(chan struct{}, 1),
		sink:          sink,
		flushInterval: defaultFlushInterval,
		batchSize:     defaultBatchSize,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Publish enqueues the event and wakes the drain loop. It never blocks.
func (a *Async) Publish(_ context.Context, event Event) error {
	a.buffer.Enqueue(event)
	select {
	case a.notify <- struct{}{}:
	default:
	}
	return nil
}

// Dropped reports how many events were discarded because the buffer was full.
func (a *Async) Dropped() int64 {
	return a.buffer.Dropped()
}

// Run drains the buffer until ctx is cancelled, then makes a final bounded
// attempt to flush what is left.
func (a *Async) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			drainCtx, cancel := context.WithTimeout(context.Background(), shutdownDrainTimeout)
			a.flush(drainCtx)
			cancel()
			return ctx.Err()
		case <-a.notify:
			a.flush(ctx)
		case <-ticker.C:
			a.flush(ctx)
		}
	}
}

func (a *Async) flush(ctx context.Context) {
	for {
		batch := a.buffer.DequeueBatch(a.batchSize)
		if len(batch) == 0 {
			return
		}
		for _, event := range batch {
			if err := a.sink.Publish(ctx, event); err != nil {
				if a.logger != nil {
					a.logger.WarnContext(ctx, "event delivery failed",
						"kind", string(event.Kind),
						"negotiation_id", event.NegotiationID,
						"error", err,
					)
				}
			}
		}
	}
}
