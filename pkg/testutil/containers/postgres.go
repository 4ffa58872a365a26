//go:build integration

package containers

import (
	"context"
	"database/sql"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// schema is the test bootstrap for every table the stores touch. The stores
// own their queries, not their DDL, so this is the one place the layout is
// written down.
const schema = `
CREATE TABLE IF NOT EXISTS negotiations (
	id                  UUID PRIMARY KEY,
	client_id           UUID NOT NULL,
	firm_id             UUID NOT NULL,
	status              TEXT NOT NULL,
	real_time           BOOLEAN NOT NULL,
	submission_deadline TIMESTAMPTZ NOT NULL,
	aggregate           JSONB NOT NULL,
	created_at          TIMESTAMPTZ NOT NULL,
	updated_at          TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS negotiations_deadline_idx
	ON negotiations (submission_deadline)
	WHERE status NOT IN ('REJECTED', 'COMPLETED', 'EXPORTED', 'EXPIRED');

CREATE TABLE IF NOT EXISTS approval_workflows (
	id             UUID PRIMARY KEY,
	negotiation_id UUID NOT NULL UNIQUE,
	client_id      UUID NOT NULL,
	status         TEXT NOT NULL,
	next_deadline  TIMESTAMPTZ,
	aggregate      JSONB NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL,
	updated_at     TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS approval_workflows_deadline_idx
	ON approval_workflows (next_deadline)
	WHERE status = 'IN_PROGRESS';

CREATE TABLE IF NOT EXISTS approval_templates (
	client_id  UUID PRIMARY KEY,
	name       TEXT NOT NULL,
	definition JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS rate_rules (
	id                 UUID PRIMARY KEY,
	client_id          UUID NOT NULL UNIQUE,
	freeze_days        INTEGER NOT NULL,
	notice_days        INTEGER NOT NULL,
	max_increase_pct   TEXT NOT NULL,
	window_start_month INTEGER,
	window_start_day   INTEGER,
	window_end_month   INTEGER,
	window_end_day     INTEGER,
	created_at         TIMESTAMPTZ NOT NULL,
	updated_at         TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS negotiation_audit_events (
	entry_id       TEXT PRIMARY KEY,
	occurred_at    TIMESTAMPTZ NOT NULL,
	negotiation_id UUID NOT NULL,
	rate_id        TEXT,
	actor_id       UUID NOT NULL,
	actor_side     TEXT NOT NULL,
	actor_role     TEXT NOT NULL,
	action         TEXT NOT NULL,
	from_status    TEXT,
	to_status      TEXT,
	detail         TEXT NOT NULL DEFAULT '',
	request_id     TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS negotiation_audit_events_trail_idx
	ON negotiation_audit_events (negotiation_id, entry_id);
`

// PostgresContainer wraps a testcontainers Postgres instance with both
// connection flavors the stores use: a pgx pool and a database/sql handle.
type PostgresContainer struct {
	Container testcontainers.Container
	DSN       string
	Pool      *pgxpool.Pool
	DB        *sql.DB
}

// NewPostgresContainer starts Postgres, waits for readiness, and applies the
// schema. Callers normally go through Manager.GetPostgres instead.
func NewPostgresContainer(t *testing.T) *PostgresContainer {
	t.Helper()

	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("ratedesk_test"),
		tcpostgres.WithUsername("ratedesk"),
		tcpostgres.WithPassword("ratedesk"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("failed to get postgres connection string: %v", err)
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("failed to open pgx pool: %v", err)
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		pool.Close()
		_ = container.Terminate(ctx)
		t.Fatalf("failed to open database/sql handle: %v", err)
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		_ = db.Close()
		pool.Close()
		_ = container.Terminate(ctx)
		t.Fatalf("failed to apply schema: %v", err)
	}

	// No t.Cleanup: the container is shared across suites via the Manager
	// and reaped by Ryuk.

	return &PostgresContainer{
		Container: container,
		DSN:       dsn,
		Pool:      pool,
		DB:        db,
	}
}

// TruncateTables empties the given tables. Use between tests for isolation.
func (p *PostgresContainer) TruncateTables(ctx context.Context, tables ...string) error {
	if len(tables) == 0 {
		return nil
	}
	_, err := p.Pool.Exec(ctx, "TRUNCATE TABLE "+strings.Join(tables, ", ")+" CASCADE")
	return err
}
