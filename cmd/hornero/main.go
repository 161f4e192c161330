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

	"github.com/hornero-erp/hornero-erp/internal/alerts"
	"github.com/hornero-erp/hornero-erp/internal/app"
	"github.com/hornero-erp/hornero-erp/internal/catalog"
	"github.com/hornero-erp/hornero-erp/internal/lots"
	"github.com/hornero-erp/hornero-erp/internal/platform/cache"
	"github.com/hornero-erp/hornero-erp/internal/platform/db"
	"github.com/hornero-erp/hornero-erp/internal/procurement"
	"github.com/hornero-erp/hornero-erp/internal/sales"
	"github.com/hornero-erp/hornero-erp/internal/shared"
	"github.com/hornero-erp/hornero-erp/internal/spoilage"
	"github.com/hornero-erp/hornero-erp/jobs"
)

func main() {
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
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	var summaryStore *cache.SummaryStore
	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable, alert summary cache disabled", slog.Any("error", err))
	} else {
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
		summaryStore = cache.NewSummaryStore(redisClient, cfg.AlertSummaryTTL)
	}

	auditLogger := shared.NewAuditLogger(pool)
	idempotencyStore := shared.NewIdempotencyStore(pool)

	catalogRepo := catalog.NewRepository(pool)
	lotsRepo := lots.NewRepository(pool)
	spoilageRepo := spoilage.NewRepository(pool)
	alertsRepo := alerts.NewRepository(pool)
	procurementRepo := procurement.NewRepository(pool)
	salesRepo := sales.NewRepository(pool)

	spoilageService := spoilage.NewService(spoilageRepo, auditLogger, logger)
	catalogService := catalog.NewService(catalogRepo, auditLogger, logger)
	lotsService := lots.NewService(lotsRepo, spoilageService, logger)
	alertsService := alerts.NewService(alertsRepo, summaryStore, logger)
	procurementService := procurement.NewService(procurementRepo, spoilageService, auditLogger, logger)
	salesService := sales.NewService(salesRepo, lotsService, idempotencyStore, auditLogger, logger)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		CatalogHandler:     catalog.NewHandler(logger, catalogService),
		LotsHandler:        lots.NewHandler(logger, lotsService),
		SpoilageHandler:    spoilage.NewHandler(logger, spoilageService),
		AlertsHandler:      alerts.NewHandler(logger, alertsService),
		ProcurementHandler: procurement.NewHandler(logger, procurementService),
		SalesHandler:       sales.NewHandler(logger, salesService),
		JobHandler:         jobs.NewHandler(inspector, logger),
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
		logger.Error("server exit", slog.Any("error", err))
		os.Exit(1)
	}
}
