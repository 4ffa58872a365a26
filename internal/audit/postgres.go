package audit

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	id "ratedesk/pkg/domain"
	txcontext "ratedesk/pkg/platform/tx"
)

// PostgresStore implements Store on database/sql. Append participates in a
// caller transaction when one is carried in context, so the audit row commits
// or rolls back with the mutation it describes.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *PostgresStore) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *PostgresStore) Append(ctx context.Context, event Event) error {
	query := `
		INSERT INTO negotiation_audit_events (
			entry_id, occurred_at, negotiation_id, rate_id,
			actor_id, actor_side, actor_role,
			action, from_status, to_status, detail, request_id
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (entry_id) DO NOTHING
	`

	_, err := s.execer(ctx).ExecContext(ctx, query,
		event.EntryID,
		event.Timestamp,
		uuid.UUID(event.NegotiationID),
		nullableString(event.RateID),
		uuid.UUID(event.Actor.UserID),
		string(event.Actor.Side),
		event.Actor.Role,
		event.Action,
		nullableString(event.FromStatus),
		nullableString(event.ToStatus),
		event.Detail,
		event.RequestID,
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

// ListByNegotiation returns the trail in append order. Entry ids are ULIDs,
// so ordering by entry_id is chronological.
func (s *PostgresStore) ListByNegotiation(ctx context.Context, negotiationID id.NegotiationID) ([]Event, error) {
	query := `
		SELECT entry_id, occurred_at, negotiation_id, rate_id,
			   actor_id, actor_side, actor_role,
			   action, from_status, to_status, detail, request_id
		FROM negotiation_audit_events
		WHERE negotiation_id = $1
		ORDER BY entry_id
	`

	rows, err := s.db.QueryContext(ctx, query, uuid.UUID(negotiationID))
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]Event, error) {
	var events []Event

	for rows.Next() {
		var (
			event         Event
			negotiationID uuid.UUID
			rateID        sql.NullString
			actorID       uuid.UUID
			actorSide     string
			fromStatus    sql.NullString
			toStatus      sql.NullString
		)

		err := rows.Scan(
			&event.EntryID,
			&event.Timestamp,
			&negotiationID,
			&rateID,
			&actorID,
			&actorSide,
			&event.Actor.Role,
			&event.Action,
			&fromStatus,
			&toStatus,
			&event.Detail,
			&event.RequestID,
		)
		if err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}

		event.NegotiationID = id.NegotiationID(negotiationID)
		event.Actor.UserID = id.UserID(actorID)
		event.Actor.Side = id.Side(actorSide)
		event.RateID = rateID.String
		event.FromStatus = fromStatus.String
		event.ToStatus = toStatus.String

		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}

	return events, nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
