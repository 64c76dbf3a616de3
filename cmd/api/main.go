package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/contrib/otelfiber"
	"github.com/gofiber/fiber/v2"
	_ "github.com/joho/godotenv/autoload"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"docgate/internal/config"
	"docgate/internal/database"
	"docgate/internal/database/migration"
	handlers "docgate/internal/http/handler"
	"docgate/internal/http/middleware"
	"docgate/internal/lifecycle"
	"docgate/internal/logging"
	"docgate/internal/otel"
	"docgate/internal/repository/postgres"
	"docgate/internal/rescan"
	"docgate/internal/service"
	"docgate/internal/storage"
	"docgate/internal/validation"
	"docgate/internal/validation/filetype"
	"docgate/internal/validation/scanner"
)

const shutdownTimeout = 10 * time.Second

// @title Document Gate API
// @version 1.0
// @BasePath /
func main() {
	// Load configuration from environment variables (.env auto-loaded if present)
	cfg := config.Load()
	logger := logging.Default(logging.Location(cfg.Timezone))

	if err := run(cfg, logger); err != nil {
		logger.Error("startup_failed", "error", err.Error())
		os.Exit(1)
	}
}

func run(cfg *config.AppConfig, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := otel.Init(ctx, logger)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			logger.Warn("tracing_shutdown_failed", "error", err.Error())
		}
	}()

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := migration.EnsureMigrated(ctx, db, logger, cfg.Database.Host); err != nil {
		return err
	}

	objStore, err := storage.NewMinIO(ctx, cfg.MinIO)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	validationMetrics, err := validation.NewMetrics(reg)
	if err != nil {
		return err
	}
	httpMetrics, err := middleware.NewPrometheusMiddleware(reg)
	if err != nil {
		return err
	}

	sc, err := scanner.New(cfg.Scanner, logger)
	if err != nil {
		return err
	}
	validator := validation.New(filetype.Default(), sc, logger, validationMetrics)

	docRepo := postgres.NewDocumentPostgres(db)
	opts := []service.Option{
		service.WithLogger(logger),
		service.WithGuard(lifecycle.DefaultGuard()),
	}

	if cfg.Rescan.Enabled {
		rdb, err := rescan.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		defer rdb.Close()

		queue := rescan.NewQueue(rdb, cfg.Rescan.Queue)
		opts = append(opts, service.WithRescanQueue(queue))
		startRescanWorker(ctx, rdb, queue, rescan.NewWorker(queue, docRepo, objStore, sc, logger, cfg.Rescan.Interval), logger)
	}

	docSvc := service.NewDocumentService(objStore, docRepo, validator, opts...)

	app := fiber.New(fiber.Config{
		ErrorHandler: handlers.ErrorHandler(),
		BodyLimit:    cfg.Upload.MaxBytes,
	})

	app.Use(otelfiber.Middleware(otelfiber.WithNext(func(c *fiber.Ctx) bool {
		return c.Path() == "/metrics"
	})))
	// RequestID middleware adds/propagates X-Request-ID and stores it in context
	app.Use(middleware.RequestID())
	app.Use(middleware.Logger(logger))
	app.Use(httpMetrics.Handler())

	handlers.RegisterRoutes(app, db, docSvc, handlers.Options{
		AllowSkipScan: cfg.Upload.AllowSkipScan,
		Metrics:       promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
	})

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server_started", "addr", ":"+cfg.Port, "env", cfg.Env, "scanner", cfg.Scanner.Provider)
		errCh <- app.Listen(":" + cfg.Port)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("server_stopping")
	return app.ShutdownWithTimeout(shutdownTimeout)
}

func startRescanWorker(ctx context.Context, rdb *redis.Client, queue *rescan.Queue, w *rescan.Worker, logger *slog.Logger) {
	if n, err := queue.Len(ctx); err == nil {
		logger.Info("rescan_queue_ready", "redis_addr", rdb.Options().Addr, "pending", n)
	}
	go func() {
		if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("rescan_worker_failed", "error", err.Error())
		}
	}()
}
