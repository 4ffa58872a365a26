// Binary server runs the rate negotiation HTTP API: negotiation lifecycle,
// rate decisions and counters, batch mode, sign-off workflows, rate-rule
// administration, the audit trail, and advisory recommendation reads.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"ratedesk/internal/advisory"
	approvalservice "ratedesk/internal/approval/service"
	approvalstore "ratedesk/internal/approval/store"
	"ratedesk/internal/audit"
	"ratedesk/internal/events"
	jwttoken "ratedesk/internal/jwt_token"
	negotiationhandler "ratedesk/internal/negotiation/handler"
	negotiationmetrics "ratedesk/internal/negotiation/metrics"
	negotiationservice "ratedesk/internal/negotiation/service"
	negotiationstore "ratedesk/internal/negotiation/store"
	"ratedesk/internal/platform/config"
	"ratedesk/internal/platform/httpserver"
	"ratedesk/internal/platform/logger"
	"ratedesk/internal/platform/metrics"
	"ratedesk/internal/platform/middleware"
	platformredis "ratedesk/internal/platform/redis"
	"ratedesk/internal/rules"
	ruleshandler "ratedesk/internal/rules/handler"
	rulestore "ratedesk/internal/rules/store"
	"ratedesk/pkg/platform/locks"
)

func main() {
	cfg := config.FromEnv()
	log := logger.New()
	slog.SetDefault(log)

	if err := run(context.Background(), cfg, log); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Server, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	var (
		negotiationStore negotiationservice.Store
		workflowStore    approvalservice.WorkflowStore
		templateStore    approvalservice.TemplateStore
		ruleStore        rules.Store
		auditBacking     audit.Store
	)
	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer pool.Close()

		manager, closeLocks, err := lockManager(cfg, log)
		if err != nil {
			return err
		}
		if closeLocks != nil {
			defer closeLocks()
		}

		// The audit store rides database/sql so its appends can join a
		// caller transaction; everything else speaks pgx directly.
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("open audit database: %w", err)
		}
		defer db.Close()

		negotiationStore = negotiationstore.NewPostgres(pool, negotiationstore.WithLockManager(manager))
		workflowStore = approvalstore.NewWorkflowPostgres(pool)
		templateStore = approvalstore.NewTemplatePostgres(pool)
		ruleStore = rulestore.NewPostgres(pool)
		auditBacking = audit.NewPostgresStore(db)
		log.Info("storage configured", "backend", "postgres")
	} else {
		negotiationStore = negotiationstore.NewInMemory()
		workflowStore = approvalstore.NewWorkflowInMemory()
		templateStore = approvalstore.NewTemplateInMemory()
		ruleStore = rulestore.NewInMemory()
		auditBacking = audit.NewInMemoryStore()
		log.Warn("storage configured", "backend", "memory",
			"hint", "set RATEDESK_DATABASE_URL for persistence")
	}

	// Audit writes go through a write-behind queue; the worker owns the
	// actual appends and drains on shutdown.
	auditQueue := audit.NewQueue(auditBacking, 0)
	recorder := audit.NewRecorder(auditQueue)
	auditWorker := audit.NewWorker(auditBacking, auditQueue.Inbox(), audit.WithWorkerLogger(log))
	g.Go(func() error { return auditWorker.Run(ctx) })

	var publisher events.Publisher = events.Nop{}
	if len(cfg.Kafka.Brokers) > 0 {
		kafka, err := events.NewKafka(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		if err != nil {
			return fmt.Errorf("connect kafka: %w", err)
		}
		defer kafka.Close()

		async := events.NewAsync(kafka, events.WithLogger(log))
		g.Go(func() error { return async.Run(ctx) })
		publisher = async
		log.Info("event publishing configured", "topic", cfg.Kafka.Topic)
	}

	rulesService := rules.NewService(ruleStore, rules.WithLogger(log))

	engine := approvalservice.New(workflowStore, templateStore,
		approvalservice.WithLogger(log),
		approvalservice.WithAuditRecorder(recorder),
		approvalservice.WithEventPublisher(publisher),
	)

	negotiations := negotiationservice.New(negotiationStore, rulesService,
		negotiationservice.WithLogger(log),
		negotiationservice.WithApprovalStarter(engine),
		negotiationservice.WithAuditRecorder(recorder),
		negotiationservice.WithEventPublisher(publisher),
		negotiationservice.WithMetrics(negotiationmetrics.New()),
	)
	engine.SetOwner(negotiations)

	var advisor advisory.Recommender
	if cfg.Advisory.BaseURL != "" {
		client, err := advisory.NewClient(advisory.Config{
			BaseURL: cfg.Advisory.BaseURL,
			Timeout: cfg.Advisory.Timeout,
		}, advisory.WithClientLogger(log))
		if err != nil {
			return fmt.Errorf("configure advisory client: %w", err)
		}
		advisor = client
		log.Info("advisory lookups configured", "base_url", cfg.Advisory.BaseURL)
	}

	jwtService := jwttoken.NewJWTService(cfg.JWTSigningKey, "ratedesk", "ratedesk-api")
	httpMetrics := metrics.New()

	router := chi.NewRouter()
	router.Use(middleware.Recovery(log))
	router.Use(middleware.RequestID)
	router.Use(middleware.RequestTime)
	router.Use(middleware.ClientMetadata)
	router.Use(middleware.Logger(log))
	router.Use(middleware.LatencyMiddleware(httpMetrics))
	router.Use(middleware.Timeout(cfg.RequestTimeout))
	if cfg.Throttle.RPS > 0 {
		router.Use(middleware.Throttle(rate.Limit(cfg.Throttle.RPS), cfg.Throttle.Burst))
	}

	router.Get("/healthz", handleHealth)
	router.Method(http.MethodGet, "/metrics", promhttp.Handler())

	router.Group(func(r chi.Router) {
		r.Use(middleware.ContentTypeJSON)
		r.Use(middleware.RequireAuth(jwttoken.NewJWTServiceAdapter(jwtService), log))
		negotiationhandler.New(negotiations, engine, advisor, recorder, log).Register(r)
		ruleshandler.New(rulesService, log).Register(r)
	})

	srv := httpserver.New(cfg.Addr, router)
	g.Go(func() error {
		log.Info("listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// lockManager picks the cross-instance Redis manager when Redis is
// configured, otherwise in-process keyed locks.
func lockManager(cfg config.Server, log *slog.Logger) (locks.Manager, func(), error) {
	if cfg.Redis.URL == "" {
		log.Warn("negotiation locks are in-process",
			"hint", "set RATEDESK_REDIS_URL to coordinate multiple instances")
		return locks.NewKeyed(locks.WithWait(cfg.Locks.Wait)), nil, nil
	}

	client, err := platformredis.New(cfg.Redis)
	if err != nil {
		return nil, nil, fmt.Errorf("connect redis: %w", err)
	}
	manager := locks.NewRedis(client.Client,
		locks.WithRedisWait(cfg.Locks.Wait),
		locks.WithTTL(cfg.Locks.TTL),
	)
	log.Info("negotiation locks configured", "backend", "redis")
	return manager, func() { _ = client.Close() }, nil
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}
