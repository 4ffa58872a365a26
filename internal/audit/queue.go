package audit

import (
	"context"

	id "ratedesk/pkg/domain"
)

const defaultQueueSize = 1024

// Queue is a write-behind Store: Append hands the event to the background
// worker through a bounded channel and returns immediately, while reads go
// straight to the backing store. A full channel falls through to a
// synchronous append so the trail never drops an entry.
type Queue struct {
	backing Store
	inbox   chan Event
}

func NewQueue(backing Store, size int) *Queue {
	if size <= 0 {
		size = defaultQueueSize
	}
	return &Queue{backing: backing, inbox: make(chan Event, size)}
}

func (q *Queue) Append(ctx context.Context, event Event) error {
	select {
	case q.inbox <- event:
		return nil
	default:
		return q.backing.Append(ctx, event)
	}
}

func (q *Queue) ListByNegotiation(ctx context.Context, negotiationID id.NegotiationID) ([]Event, error) {
	return q.backing.ListByNegotiation(ctx, negotiationID)
}

// Inbox is the worker's feed.
func (q *Queue) Inbox() <-chan Event { return q.inbox }
