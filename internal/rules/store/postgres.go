package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"ratedesk/internal/rules"
	"ratedesk/pkg/domain"
	"ratedesk/pkg/platform/sentinel"
)

// Postgres persists one rule row per client.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres constructs a PostgreSQL-backed rule store.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (s *Postgres) GetByClient(ctx context.Context, clientID domain.ClientID) (*rules.RateRule, error) {
	query := `
		SELECT id, client_id, freeze_days, notice_days, max_increase_pct,
		       window_start_month, window_start_day, window_end_month, window_end_day,
		       created_at, updated_at
		FROM rate_rules
		WHERE client_id = $1
	`
	row := s.pool.QueryRow(ctx, query, uuid.UUID(clientID))
	rule, err := scanRule(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("get rate rule: %w", err)
	}
	return rule, nil
}

func (s *Postgres) Upsert(ctx context.Context, rule *rules.RateRule) (*rules.RateRule, error) {
	var (
		startMonth, startDay *int
		endMonth, endDay     *int
	)
	if w := rule.Window; w != nil {
		sm, sd, em, ed := int(w.StartMonth), w.StartDay, int(w.EndMonth), w.EndDay
		startMonth, startDay, endMonth, endDay = &sm, &sd, &em, &ed
	}

	query := `
		INSERT INTO rate_rules (id, client_id, freeze_days, notice_days, max_increase_pct,
		                        window_start_month, window_start_day, window_end_month, window_end_day,
		                        created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (client_id) DO UPDATE SET
			freeze_days = EXCLUDED.freeze_days,
			notice_days = EXCLUDED.notice_days,
			max_increase_pct = EXCLUDED.max_increase_pct,
			window_start_month = EXCLUDED.window_start_month,
			window_start_day = EXCLUDED.window_start_day,
			window_end_month = EXCLUDED.window_end_month,
			window_end_day = EXCLUDED.window_end_day,
			updated_at = EXCLUDED.updated_at
		RETURNING id, client_id, freeze_days, notice_days, max_increase_pct,
		          window_start_month, window_start_day, window_end_month, window_end_day,
		          created_at, updated_at
	`
	row := s.pool.QueryRow(ctx, query,
		uuid.UUID(rule.ID), uuid.UUID(rule.ClientID),
		rule.FreezePeriodDays, rule.NoticeRequiredDays, rule.MaxIncreasePercent.String(),
		startMonth, startDay, endMonth, endDay,
		rule.CreatedAt, rule.UpdatedAt,
	)
	stored, err := scanRule(row)
	if err != nil {
		return nil, fmt.Errorf("upsert rate rule: %w", err)
	}
	return stored, nil
}

func scanRule(row pgx.Row) (*rules.RateRule, error) {
	var (
		id, clientID           uuid.UUID
		freezeDays, noticeDays int
		maxPct                 string
		startMonth, startDay   *int
		endMonth, endDay       *int
		createdAt, updatedAt   time.Time
	)
	err := row.Scan(&id, &clientID, &freezeDays, &noticeDays, &maxPct,
		&startMonth, &startDay, &endMonth, &endDay, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	pct, err := decimal.NewFromString(maxPct)
	if err != nil {
		return nil, fmt.Errorf("parse max_increase_pct: %w", err)
	}

	rule := &rules.RateRule{
		ID:                 domain.RuleID(id),
		ClientID:           domain.ClientID(clientID),
		FreezePeriodDays:   freezeDays,
		NoticeRequiredDays: noticeDays,
		MaxIncreasePercent: pct,
		CreatedAt:          createdAt,
		UpdatedAt:          updatedAt,
	}
	if startMonth != nil && startDay != nil && endMonth != nil && endDay != nil {
		rule.Window = &rules.SubmissionWindow{
			StartMonth: time.Month(*startMonth),
			StartDay:   *startDay,
			EndMonth:   time.Month(*endMonth),
			EndDay:     *endDay,
		}
	}
	return rule, nil
}
