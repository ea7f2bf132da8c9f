package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/nextconvert/shorts/internal/modules/compose"
	"github.com/nextconvert/shorts/internal/modules/jobs"
	"github.com/nextconvert/shorts/internal/modules/media"
	"github.com/nextconvert/shorts/internal/shared/config"
	"github.com/nextconvert/shorts/internal/shared/database"
	"github.com/nextconvert/shorts/internal/shared/logging"
	"github.com/nextconvert/shorts/internal/shared/metrics"
	"github.com/nextconvert/shorts/internal/shared/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.NewLogger(cfg.LogLevel, cfg.Environment)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting shorts worker",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("environment", cfg.Environment),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	db, err := database.NewPostgres(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	redisClient, err := database.NewRedis(cfg.RedisURL)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()

	storageService, err := storage.NewService(cfg.Storage)
	if err != nil {
		logger.Fatal("Failed to initialize storage", zap.Error(err))
	}

	repo := jobs.NewPostgresRepository(db)
	if err := repo.EnsureSchema(ctx); err != nil {
		logger.Fatal("Failed to prepare jobs table", zap.Error(err))
	}

	// The worker never enqueues compositions itself; retries go through asynq.
	redisOpt, err := jobs.RedisConnOpt(cfg.RedisURL)
	if err != nil {
		logger.Fatal("Invalid Redis URL", zap.Error(err))
	}
	queue := jobs.NewQueueClient(redisOpt, logger)
	defer queue.Close()

	composer := compose.NewComposer(
		media.NewProber(cfg.FFprobePath, cfg.ProbeTimeout, logger),
		media.NewProcessorWithConfig(media.ProcessorConfig{
			FFmpegPath:        cfg.FFmpegPath,
			MaxThreads:        cfg.FFmpegMaxThreads,
			UseHardwareAccel:  cfg.FFmpegHardwareAccel,
			PreferFastPresets: cfg.FFmpegFastPresets,
			Timeout:           cfg.RenderTimeout,
			MaxConcurrent:     cfg.WorkerConcurrency,
		}, m, logger),
		m,
		logger,
	)

	jobHandler := jobs.NewHandler(jobs.HandlerConfig{
		Module:   jobs.NewModule(repo, queue, redisClient, m, logger),
		Storage:  storageService,
		Composer: composer,
		Logger:   logger,
	})

	srv := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: cfg.WorkerConcurrency,
			Queues: map[string]int{
				"critical": 6,
				"default":  3,
				"low":      1,
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				logger.Error("Task failed",
					zap.String("type", task.Type()),
					zap.Error(err),
				)
			}),
		},
	)

	mux := asynq.NewServeMux()
	jobHandler.Register(mux)

	scheduler, err := jobs.NewCleanupScheduler(redisOpt, logger)
	if err != nil {
		logger.Fatal("Failed to register cleanup schedule", zap.Error(err))
	}

	if err := srv.Start(mux); err != nil {
		logger.Fatal("Worker failed to start", zap.Error(err))
	}
	logger.Info("Worker started", zap.Int("concurrency", cfg.WorkerConcurrency))

	if err := scheduler.Start(); err != nil {
		logger.Fatal("Cleanup scheduler failed to start", zap.Error(err))
	}

	metricsServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("Worker metrics listening", zap.Int("port", cfg.Port))
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Metrics server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down worker...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	metricsServer.Shutdown(shutdownCtx)
	scheduler.Shutdown()
	srv.Shutdown()

	logger.Info("Worker stopped")
}
