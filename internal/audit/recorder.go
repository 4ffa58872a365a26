package audit

import (
	"context"

	id "ratedesk/pkg/domain"
	"ratedesk/pkg/requestcontext"
)

// Recorder captures structured audit events. It is append-only and uses the
// storage layer for persistence so tests can swap sinks easily.
type Recorder struct {
	store Store
}

func NewRecorder(store Store) *Recorder {
	return &Recorder{store: store}
}

// Record stamps the event with an entry id, a timestamp and the request id
// from context, then appends it.
func (r *Recorder) Record(ctx context.Context, event Event) error {
	if event.EntryID == "" {
		event.EntryID = id.NewEntryID()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = requestcontext.Now(ctx)
	}
	if event.RequestID == "" {
		event.RequestID = requestcontext.RequestID(ctx)
	}
	return r.store.Append(ctx, event)
}

func (r *Recorder) List(ctx context.Context, negotiationID id.NegotiationID) ([]Event, error) {
	return r.store.ListByNegotiation(ctx, negotiationID)
}
