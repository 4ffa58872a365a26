package audit

import (
	"context"
	"testing"
	"time"

	id "ratedesk/pkg/domain"
	"ratedesk/pkg/requestcontext"
)

func TestRecorderStampsEvents(t *testing.T) {
	store := NewInMemoryStore()
	recorder := NewRecorder(store)

	frozen := time.Date(2025, time.November, 3, 9, 0, 0, 0, time.UTC)
	ctx := requestcontext.WithTime(context.Background(), frozen)
	ctx = requestcontext.WithRequestID(ctx, "req-42")

	negotiationID := id.NewNegotiationID()
	actor := id.Actor{UserID: id.NewUserID(), Side: id.SideClient}

	if err := recorder.Record(ctx, Event{NegotiationID: negotiationID, Actor: actor, Action: "rate_approved", RateID: "RT-1"}); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := recorder.Record(ctx, Event{NegotiationID: negotiationID, Actor: actor, Action: "rate_rejected", RateID: "RT-2"}); err != nil {
		t.Fatalf("Record: %v", err)
	}

	events, err := recorder.List(ctx, negotiationID)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	first := events[0]
	if first.EntryID == "" {
		t.Fatal("entry id was not assigned")
	}
	if !first.Timestamp.Equal(frozen) {
		t.Fatalf("timestamp not taken from context: %v", first.Timestamp)
	}
	if first.RequestID != "req-42" {
		t.Fatalf("request id not taken from context: %q", first.RequestID)
	}
	if events[1].EntryID <= first.EntryID {
		t.Fatalf("entry ids must be monotonic: %s then %s", first.EntryID, events[1].EntryID)
	}
}

func TestRecorderKeepsCallerStamps(t *testing.T) {
	store := NewInMemoryStore()
	recorder := NewRecorder(store)

	stamped := Event{
		EntryID:       "01JD0000000000000000000009",
		Timestamp:     time.Date(2025, time.October, 1, 0, 0, 0, 0, time.UTC),
		NegotiationID: id.NewNegotiationID(),
		Actor:         id.Actor{UserID: id.NewUserID(), Side: id.SideFirm},
		Action:        "expired",
		RequestID:     "sweeper",
	}
	if err := recorder.Record(context.Background(), stamped); err != nil {
		t.Fatalf("Record: %v", err)
	}

	events, err := recorder.List(context.Background(), stamped.NegotiationID)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if events[0].EntryID != stamped.EntryID || !events[0].Timestamp.Equal(stamped.Timestamp) || events[0].RequestID != "sweeper" {
		t.Fatalf("caller stamps were overwritten: %+v", events[0])
	}
}

func TestWorkerDrainsInbox(t *testing.T) {
	store := NewInMemoryStore()
	inbox := make(chan Event, 4)
	worker := NewWorker(store, inbox)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- worker.Run(ctx) }()

	negotiationID := id.NewNegotiationID()
	for i := 0; i < 3; i++ {
		inbox <- Event{EntryID: id.NewEntryID(), NegotiationID: negotiationID, Action: "rate_countered"}
	}

	deadline := time.After(2 * time.Second)
	for {
		events, err := store.ListByNegotiation(ctx, negotiationID)
		if err != nil {
			t.Fatalf("ListByNegotiation: %v", err)
		}
		if len(events) == 3 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("worker persisted %d of 3 events", len(events))
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	if err := <-done; err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
