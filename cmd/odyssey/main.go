package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sony/gobreaker"

	"github.com/odyssey-erp/odyssey-deals/internal/app"
	"github.com/odyssey-erp/odyssey-deals/internal/deals"
	"github.com/odyssey-erp/odyssey-deals/internal/observability"
	"github.com/odyssey-erp/odyssey-deals/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-deals/internal/platform/db"
	"github.com/odyssey-erp/odyssey-deals/internal/shared"
	"github.com/odyssey-erp/odyssey-deals/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	dbpool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{MaxConns: cfg.PGMaxConns, ApplicationName: "odyssey-deals"})
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cache.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	if err != nil {
		// Deal snapshots are optional; the store serves reads directly without Redis.
		logger.Warn("redis unavailable, deal cache disabled", slog.Any("error", err))
		redisClient = nil
	} else {
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
	}

	pgStore := deals.NewPGStore(dbpool)
	auditLogger := shared.NewAuditLogger(dbpool)
	idempotencyStore := shared.NewIdempotencyStore(dbpool)
	for name, ensure := range map[string]func(context.Context) error{
		"deals":       pgStore.EnsureSchema,
		"audit":       auditLogger.EnsureSchema,
		"idempotency": idempotencyStore.EnsureSchema,
	} {
		if err := ensure(ctx); err != nil {
			logger.Error("ensure schema", slog.String("schema", name), slog.Any("error", err))
			os.Exit(1)
		}
	}

	var store deals.Store = pgStore
	if redisClient != nil {
		store = deals.NewCachedStore(store, redisClient, cfg.DealCacheTTL, logger)
	}
	breakerStore := deals.NewBreakerStore(store, deals.BreakerConfig{
		MaxRequests:         cfg.BreakerMaxRequests,
		Interval:            cfg.BreakerInterval,
		Timeout:             cfg.BreakerTimeout,
		ConsecutiveFailures: cfg.BreakerConsecutiveFailures,
	}, logger)

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword}
	jobClient, err := jobs.NewClient(redisOpts)
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()

	dealService := deals.NewService(breakerStore, logger)
	dealService.SetAuditRecorder(auditLogger)
	dealService.SetNotifier(jobs.NewDealNotifier(jobClient))
	dealService.SetMetrics(metrics.Deals())

	dealHandler := deals.NewHandler(logger, dealService)
	dealHandler.SetIdempotencyGuard(idempotencyStore)
	dealHandler.SetAuditReader(auditLogger)

	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	verifier := shared.NewActorVerifier(cfg.JWTSecret, cfg.JWTIssuer)

	router := app.NewRouter(app.RouterParams{
		Logger:       logger,
		Config:       cfg,
		DealsHandler: dealHandler,
		JobHandler:   jobHandler,
		Metrics:      metrics,
		RequireActor: verifier.RequireActor,
		Readiness: map[string]app.HealthChecker{
			"postgres": func(r *http.Request) error { return dbpool.Ping(r.Context()) },
			"deal_store": func(*http.Request) error {
				if breakerStore.State() == gobreaker.StateOpen {
					return errors.New("deal store circuit open")
				}
				return nil
			},
		},
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
