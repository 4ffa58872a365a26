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

	"ratedesk/internal/approval/models"
	id "ratedesk/pkg/domain"
	"ratedesk/pkg/platform/sentinel"
)

// WorkflowPostgres stores each workflow as a JSONB document beside the
// columns the timeout sweep queries on. A unique index on negotiation_id
// enforces one workflow per negotiation.
type WorkflowPostgres struct {
	pool *pgxpool.Pool
}

func NewWorkflowPostgres(pool *pgxpool.Pool) *WorkflowPostgres {
	return &WorkflowPostgres{pool: pool}
}

func (s *WorkflowPostgres) Create(ctx context.Context, w *models.Workflow) error {
	doc, err := json.Marshal(w)
	if err != nil {
		return fmt.Errorf("marshal workflow: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO approval_workflows (id, negotiation_id, client_id, status, next_deadline, aggregate, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT DO NOTHING
	`, uuid.UUID(w.ID), uuid.UUID(w.NegotiationID), uuid.UUID(w.ClientID),
		string(w.Status), w.NextDeadline(), doc, w.CreatedAt, w.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert workflow: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return sentinel.ErrConflict
	}
	return nil
}

func (s *WorkflowPostgres) FindByID(ctx context.Context, workflowID id.WorkflowID) (*models.Workflow, error) {
	return s.findBy(ctx, `SELECT aggregate FROM approval_workflows WHERE id = $1`, uuid.UUID(workflowID))
}

func (s *WorkflowPostgres) FindByNegotiation(ctx context.Context, negotiationID id.NegotiationID) (*models.Workflow, error) {
	return s.findBy(ctx, `SELECT aggregate FROM approval_workflows WHERE negotiation_id = $1`, uuid.UUID(negotiationID))
}

func (s *WorkflowPostgres) findBy(ctx context.Context, query string, arg any) (*models.Workflow, error) {
	var doc []byte
	err := s.pool.QueryRow(ctx, query, arg).Scan(&doc)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("get workflow: %w", err)
	}
	return unmarshalWorkflow(doc)
}

// Execute applies fn under a FOR UPDATE row lock in one transaction, so a
// failed step decision rolls back whole.
func (s *WorkflowPostgres) Execute(ctx context.Context, workflowID id.WorkflowID, fn func(*models.Workflow) error) (*models.Workflow, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin workflow tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var doc []byte
	err = tx.QueryRow(ctx,
		`SELECT aggregate FROM approval_workflows WHERE id = $1 FOR UPDATE`,
		uuid.UUID(workflowID),
	).Scan(&doc)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("lock workflow: %w", err)
	}

	w, err := unmarshalWorkflow(doc)
	if err != nil {
		return nil, err
	}
	if err := fn(w); err != nil {
		return nil, err
	}

	updated, err := json.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("marshal workflow: %w", err)
	}
	_, err = tx.Exec(ctx, `
		UPDATE approval_workflows
		SET status = $2, next_deadline = $3, aggregate = $4, updated_at = $5
		WHERE id = $1
	`, uuid.UUID(workflowID), string(w.Status), w.NextDeadline(), updated, w.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("update workflow: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit workflow tx: %w", err)
	}
	return w, nil
}

func (s *WorkflowPostgres) ListOverdue(ctx context.Context, asOf time.Time, limit int) ([]id.WorkflowID, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id FROM approval_workflows
		WHERE status = 'IN_PROGRESS'
		  AND next_deadline IS NOT NULL
		  AND next_deadline < $1
		ORDER BY next_deadline
		LIMIT $2
	`, asOf, limit)
	if err != nil {
		return nil, fmt.Errorf("list overdue workflows: %w", err)
	}
	defer rows.Close()

	var ids []id.WorkflowID
	for rows.Next() {
		var raw uuid.UUID
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan workflow id: %w", err)
		}
		ids = append(ids, id.WorkflowID(raw))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate workflow ids: %w", err)
	}
	return ids, nil
}

func unmarshalWorkflow(doc []byte) (*models.Workflow, error) {
	var w models.Workflow
	if err := json.Unmarshal(doc, &w); err != nil {
		return nil, fmt.Errorf("unmarshal workflow: %w", err)
	}
	return &w, nil
}

// TemplatePostgres stores one template per client as JSONB.
type TemplatePostgres struct {
	pool *pgxpool.Pool
}

func NewTemplatePostgres(pool *pgxpool.Pool) *TemplatePostgres {
	return &TemplatePostgres{pool: pool}
}

func (s *TemplatePostgres) Put(ctx context.Context, tpl *models.WorkflowTemplate) error {
	doc, err := json.Marshal(tpl)
	if err != nil {
		return fmt.Errorf("marshal template: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO approval_templates (client_id, name, definition, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (client_id) DO UPDATE SET name = $2, definition = $3, updated_at = now()
	`, uuid.UUID(tpl.ClientID), tpl.Name, doc)
	if err != nil {
		return fmt.Errorf("upsert template: %w", err)
	}
	return nil
}

func (s *TemplatePostgres) FindByClient(ctx context.Context, clientID id.ClientID) (*models.WorkflowTemplate, error) {
	var doc []byte
	err := s.pool.QueryRow(ctx,
		`SELECT definition FROM approval_templates WHERE client_id = $1`,
		uuid.UUID(clientID),
	).Scan(&doc)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("get template: %w", err)
	}
	var tpl models.WorkflowTemplate
	if err := json.Unmarshal(doc, &tpl); err != nil {
		return nil, fmt.Errorf("unmarshal template: %w", err)
	}
	return &tpl, nil
}
