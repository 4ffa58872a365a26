package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"ratedesk/internal/negotiation/models"
	id "ratedesk/pkg/domain"
	"ratedesk/pkg/platform/locks"
	"ratedesk/pkg/platform/sentinel"
)

// Postgres keeps the aggregate as a JSONB document beside the columns the
// store queries on. Execute serializes writers with an optional distributed
// lock (multi-instance deployments) and a FOR UPDATE row lock, applying the
// callback inside one transaction so a failed operation rolls back whole.
type Postgres struct {
	pool  *pgxpool.Pool
	locks locks.Manager
}

type PostgresOption func(*Postgres)

// WithLockManager serializes Execute across instances before the row lock is
// taken, turning lock contention into a bounded wait instead of a pile-up of
// open transactions.
func WithLockManager(m locks.Manager) PostgresOption {
	return func(p *Postgres) {
		p.locks = m
	}
}

func NewPostgres(pool *pgxpool.Pool, opts ...PostgresOption) *Postgres {
	p := &Postgres{pool: pool}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (s *Postgres) Create(ctx context.Context, n *models.Negotiation) error {
	doc, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal negotiation: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO negotiations (id, client_id, firm_id, status, real_time, submission_deadline, aggregate, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING
	`, uuid.UUID(n.ID), uuid.UUID(n.ClientID), uuid.UUID(n.FirmID),
		string(n.Status), n.RealTime, n.SubmissionDeadline, doc, n.CreatedAt, n.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert negotiation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return sentinel.ErrConflict
	}
	return nil
}

func (s *Postgres) FindByID(ctx context.Context, negotiationID id.NegotiationID) (*models.Negotiation, error) {
	var doc []byte
	err := s.pool.QueryRow(ctx,
		`SELECT aggregate FROM negotiations WHERE id = $1`,
		uuid.UUID(negotiationID),
	).Scan(&doc)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("get negotiation: %w", err)
	}
	return unmarshalNegotiation(doc)
}

func (s *Postgres) Execute(ctx context.Context, negotiationID id.NegotiationID, fn func(*models.Negotiation) error) (*models.Negotiation, error) {
	if s.locks != nil {
		release, err := s.locks.Acquire(ctx, negotiationID.String())
		if err != nil {
			return nil, err
		}
		defer release()
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin negotiation tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var doc []byte
	err = tx.QueryRow(ctx,
		`SELECT aggregate FROM negotiations WHERE id = $1 FOR UPDATE`,
		uuid.UUID(negotiationID),
	).Scan(&doc)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("lock negotiation: %w", err)
	}

	n, err := unmarshalNegotiation(doc)
	if err != nil {
		return nil, err
	}
	if err := fn(n); err != nil {
		return nil, err
	}

	updated, err := json.Marshal(n)
	if err != nil {
		return nil, fmt.Errorf("marshal negotiation: %w", err)
	}
	_, err = tx.Exec(ctx, `
		UPDATE negotiations
		SET status = $2, real_time = $3, submission_deadline = $4, aggregate = $5, updated_at = $6
		WHERE id = $1
	`, uuid.UUID(negotiationID), string(n.Status), n.RealTime, n.SubmissionDeadline, updated, n.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("update negotiation: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit negotiation tx: %w", err)
	}
	return n, nil
}

func (s *Postgres) ListExpirable(ctx context.Context, asOf time.Time, limit int) ([]id.NegotiationID, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id FROM negotiations
		WHERE status NOT IN ('REJECTED', 'COMPLETED', 'EXPORTED', 'EXPIRED')
		  AND submission_deadline < $1
		ORDER BY submission_deadline
		LIMIT $2
	`, asOf, limit)
	if err != nil {
		return nil, fmt.Errorf("list expirable negotiations: %w", err)
	}
	defer rows.Close()

	var ids []id.NegotiationID
	for rows.Next() {
		var raw uuid.UUID
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan negotiation id: %w", err)
		}
		ids = append(ids, id.NegotiationID(raw))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate negotiation ids: %w", err)
	}
	return ids, nil
}

func unmarshalNegotiation(doc []byte) (*models.Negotiation, error) {
	var n models.Negotiation
	if err := json.Unmarshal(doc, &n); err != nil {
		return nil, fmt.Errorf("unmarshal negotiation: %w", err)
	}
	return &n, nil
}
