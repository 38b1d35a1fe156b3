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
	"golang.org/x/sync/errgroup"

	"github.com/fieldline-dms/fieldline/internal/app"
	"github.com/fieldline-dms/fieldline/internal/audit"
	"github.com/fieldline-dms/fieldline/internal/cash"
	"github.com/fieldline-dms/fieldline/internal/counts"
	"github.com/fieldline-dms/fieldline/internal/movements"
	"github.com/fieldline-dms/fieldline/internal/observability"
	"github.com/fieldline-dms/fieldline/internal/platform/cache"
	"github.com/fieldline-dms/fieldline/internal/platform/db"
	"github.com/fieldline-dms/fieldline/internal/purchasing"
	"github.com/fieldline-dms/fieldline/internal/refnum"
	"github.com/fieldline-dms/fieldline/internal/shared"
	"github.com/fieldline-dms/fieldline/jobs"
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

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	auditLogger := shared.NewAuditLogger(pool)
	idempotencyStore := shared.NewIdempotencyStore(pool)
	refGenerator := refnum.NewRepository(pool)
	statsCache := cache.NewStore(redisClient, cfg.StatsCacheTTL)
	metrics := observability.NewMetrics()

	purchasingRepo := purchasing.NewRepository(pool)
	purchasingService := purchasing.NewService(purchasingRepo, refGenerator, auditLogger, idempotencyStore, statsCache)
	purchasingHandler := purchasing.NewHandler(logger, purchasingService, metrics)

	movementsRepo := movements.NewRepository(pool)
	movementsService := movements.NewService(movementsRepo, refGenerator, auditLogger)
	movementsHandler := movements.NewHandler(logger, movementsService, metrics)

	countsRepo := counts.NewRepository(pool)
	countsService := counts.NewService(countsRepo, refGenerator, auditLogger)
	countsHandler := counts.NewHandler(logger, countsService, metrics)

	cashRepo := cash.NewRepository(pool)
	cashService := cash.NewService(cashRepo, refGenerator, auditLogger)
	cashHandler := cash.NewHandler(logger, cashService, metrics)

	auditService := audit.NewService(audit.NewRepository(pool))
	auditHandler := audit.NewHandler(logger, auditService)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobsHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:            logger,
		Config:            cfg,
		PurchasingHandler: purchasingHandler,
		MovementsHandler:  movementsHandler,
		CountsHandler:     countsHandler,
		CashHandler:       cashHandler,
		AuditHandler:      auditHandler,
		JobsHandler:       jobsHandler,
		Metrics:           metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("http server", slog.Any("error", err))
		os.Exit(1)
	}
}
