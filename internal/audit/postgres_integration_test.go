//go:build integration

package audit_test

import (
	"context"
	"testing"
	"time"

	"ratedesk/internal/audit"
	id "ratedesk/pkg/domain"
	txcontext "ratedesk/pkg/platform/tx"
	"ratedesk/pkg/testutil/containers"
)

func setupAuditStore(t *testing.T) (*containers.PostgresContainer, *audit.PostgresStore) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	pg := containers.GetManager().GetPostgres(t)
	if err := pg.TruncateTables(context.Background(), "negotiation_audit_events"); err != nil {
		t.Fatalf("truncate audit events: %v", err)
	}
	return pg, audit.NewPostgresStore(pg.DB)
}

func auditEvent(negotiationID id.NegotiationID, action string) audit.Event {
	return audit.Event{
		EntryID:       id.NewEntryID(),
		Timestamp:     time.Date(2025, time.June, 2, 10, 0, 0, 0, time.UTC),
		NegotiationID: negotiationID,
		Actor:         id.Actor{UserID: id.NewUserID(), Side: id.SideClient, Role: "billing_manager"},
		Action:        action,
		RequestID:     "req-audit-integration",
	}
}

func TestPostgresStoreRoundTrip(t *testing.T) {
	_, store := setupAuditStore(t)
	ctx := context.Background()
	negotiationID := id.NewNegotiationID()

	first := auditEvent(negotiationID, "requested")
	second := auditEvent(negotiationID, "proposals_submitted")
	second.RateID = "RT-1"
	second.FromStatus = "REQUESTED"
	second.ToStatus = "SUBMITTED"
	second.Detail = "2 rates"

	for _, e := range []audit.Event{first, second} {
		if err := store.Append(ctx, e); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	// Foreign trail, must not bleed in.
	if err := store.Append(ctx, auditEvent(id.NewNegotiationID(), "requested")); err != nil {
		t.Fatalf("append foreign event: %v", err)
	}

	events, err := store.ListByNegotiation(ctx, negotiationID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Action != "requested" || events[1].Action != "proposals_submitted" {
		t.Fatalf("events out of append order: %q, %q", events[0].Action, events[1].Action)
	}
	got := events[1]
	if got.RateID != "RT-1" || got.FromStatus != "REQUESTED" || got.ToStatus != "SUBMITTED" {
		t.Fatalf("event fields lost in round trip: %+v", got)
	}
	if got.Actor != second.Actor {
		t.Fatalf("actor mismatch: got %+v, want %+v", got.Actor, second.Actor)
	}
	if !got.Timestamp.Equal(second.Timestamp) {
		t.Fatalf("timestamp mismatch: got %v, want %v", got.Timestamp, second.Timestamp)
	}
}

func TestPostgresStoreDuplicateEntryIsIgnored(t *testing.T) {
	_, store := setupAuditStore(t)
	ctx := context.Background()
	negotiationID := id.NewNegotiationID()

	event := auditEvent(negotiationID, "requested")
	for i := 0; i < 2; i++ {
		if err := store.Append(ctx, event); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	events, err := store.ListByNegotiation(ctx, negotiationID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected retried append to dedupe, got %d events", len(events))
	}
}

// TestPostgresStoreJoinsCallerTransaction verifies an append inside a rolled
// back transaction leaves no trace, and inside a committed one it lands.
func TestPostgresStoreJoinsCallerTransaction(t *testing.T) {
	pg, store := setupAuditStore(t)
	ctx := context.Background()
	negotiationID := id.NewNegotiationID()

	tx, err := pg.DB.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := store.Append(txcontext.WithTx(ctx, tx), auditEvent(negotiationID, "requested")); err != nil {
		t.Fatalf("append in tx: %v", err)
	}
	if err := tx.Rollback(); err != nil {
		t.Fatalf("rollback: %v", err)
	}

	events, err := store.ListByNegotiation(ctx, negotiationID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("rolled back append must not persist, got %d events", len(events))
	}

	tx, err = pg.DB.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := store.Append(txcontext.WithTx(ctx, tx), auditEvent(negotiationID, "requested")); err != nil {
		t.Fatalf("append in tx: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	events, err = store.ListByNegotiation(ctx, negotiationID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("committed append must persist, got %d events", len(events))
	}
}
