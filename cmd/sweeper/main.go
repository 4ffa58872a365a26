// Binary sweeper runs the time-based transitions the API server never
// triggers on its own: expiring negotiations whose submission deadline has
// passed, and timing out overdue sign-off steps. Both operations are
// idempotent, so overlapping sweeps and restarts are safe.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq"
	"golang.org/x/sync/errgroup"

	approvalservice "ratedesk/internal/approval/service"
	approvalstore "ratedesk/internal/approval/store"
	"ratedesk/internal/audit"
	negotiationservice "ratedesk/internal/negotiation/service"
	negotiationstore "ratedesk/internal/negotiation/store"
	"ratedesk/internal/platform/config"
	"ratedesk/internal/platform/logger"
	platformredis "ratedesk/internal/platform/redis"
	"ratedesk/internal/rules"
	rulestore "ratedesk/internal/rules/store"
	"ratedesk/pkg/platform/locks"
)

func main() {
	cfg := config.FromEnv()
	log := logger.New()
	slog.SetDefault(log)

	if err := run(context.Background(), cfg, log); err != nil {
		log.Error("sweeper exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Server, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The sweeper is stateless; without the shared database there is
	// nothing to sweep.
	if cfg.DatabaseURL == "" {
		return errors.New("RATEDESK_DATABASE_URL is required")
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open audit database: %w", err)
	}
	defer db.Close()

	var manager locks.Manager = locks.NewKeyed(locks.WithWait(cfg.Locks.Wait))
	if cfg.Redis.URL != "" {
		client, err := platformredis.New(cfg.Redis)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer client.Close()
		manager = locks.NewRedis(client.Client,
			locks.WithRedisWait(cfg.Locks.Wait),
			locks.WithTTL(cfg.Locks.TTL),
		)
	}

	// Sweep volume is low; audit appends go straight to the store.
	recorder := audit.NewRecorder(audit.NewPostgresStore(db))

	rulesService := rules.NewService(rulestore.NewPostgres(pool), rules.WithLogger(log))
	engine := approvalservice.New(
		approvalstore.NewWorkflowPostgres(pool),
		approvalstore.NewTemplatePostgres(pool),
		approvalservice.WithLogger(log),
		approvalservice.WithAuditRecorder(recorder),
	)
	negotiations := negotiationservice.New(
		negotiationstore.NewPostgres(pool, negotiationstore.WithLockManager(manager)),
		rulesService,
		negotiationservice.WithLogger(log),
		negotiationservice.WithApprovalStarter(engine),
		negotiationservice.WithAuditRecorder(recorder),
	)
	engine.SetOwner(negotiations)

	log.Info("sweeper started", "interval", cfg.Sweep.Interval, "limit", cfg.Sweep.Limit)
	ticker := time.NewTicker(cfg.Sweep.Interval)
	defer ticker.Stop()

	for {
		sweep(ctx, cfg.Sweep.Limit, log, negotiations, engine)
		select {
		case <-ctx.Done():
			log.Info("sweeper stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// sweep runs one pass of both scans concurrently. Failures are logged, not
// fatal: the next tick retries from wherever this one stopped.
func sweep(ctx context.Context, limit int, log *slog.Logger, negotiations *negotiationservice.Service, engine *approvalservice.Engine) {
	asOf := time.Now().UTC()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		expired, err := negotiations.ExpireDue(ctx, asOf, limit)
		if err != nil {
			return fmt.Errorf("expire negotiations: %w", err)
		}
		if expired > 0 {
			log.Info("expired negotiations", "count", expired)
		}
		return nil
	})
	g.Go(func() error {
		timedOut, err := engine.CheckTimeouts(ctx, asOf, limit)
		if err != nil {
			return fmt.Errorf("time out sign-off steps: %w", err)
		}
		if timedOut > 0 {
			log.Info("timed out sign-off steps", "count", timedOut)
		}
		return nil
	})
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("sweep failed", "error", err)
	}
}
