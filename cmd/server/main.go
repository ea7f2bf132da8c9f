package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nextconvert/shorts/internal/api"
	"github.com/nextconvert/shorts/internal/api/handlers"
	"github.com/nextconvert/shorts/internal/api/websocket"
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

	logger.Info("Starting shorts API server",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("environment", cfg.Environment),
		zap.Bool("jobs_enabled", cfg.JobsEnabled),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	storageService, err := storage.NewService(cfg.Storage)
	if err != nil {
		logger.Fatal("Failed to initialize storage", zap.Error(err))
	}

	composer := compose.NewComposer(
		media.NewProber(cfg.FFprobePath, cfg.ProbeTimeout, logger),
		media.NewProcessorWithConfig(processorConfig(cfg), m, logger),
		m,
		logger,
	)

	serverCfg := api.ServerConfig{
		Config:       cfg,
		Logger:       logger,
		Metrics:      m,
		Gatherer:     reg,
		Storage:      storageService,
		Composer:     composer,
		HealthChecks: map[string]handlers.HealthChecker{},
	}

	if cfg.JobsEnabled {
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

		repo := jobs.NewPostgresRepository(db)
		if err := repo.EnsureSchema(ctx); err != nil {
			logger.Fatal("Failed to prepare jobs table", zap.Error(err))
		}

		redisOpt, err := jobs.RedisConnOpt(cfg.RedisURL)
		if err != nil {
			logger.Fatal("Invalid Redis URL", zap.Error(err))
		}
		queue := jobs.NewQueueClient(redisOpt, logger)
		defer queue.Close()

		hub := websocket.NewHub(cfg.AllowedOrigins, m, logger)
		go hub.Run(ctx)

		// Workers publish job events; every API instance relays them to its
		// own websocket clients.
		sub := redisClient.Subscribe(ctx, jobs.ProgressChannel)
		defer sub.Close()
		go jobs.Relay(ctx, sub.Channel(), hub.Dispatch, logger)

		serverCfg.Redis = redisClient
		serverCfg.Jobs = jobs.NewModule(repo, queue, redisClient, m, logger)
		serverCfg.WSHub = hub
		serverCfg.HealthChecks["postgres"] = db
		serverCfg.HealthChecks["redis"] = redisClient
	}

	httpServer := &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Port),
		Handler:     api.NewServer(serverCfg).Router(),
		ReadTimeout: 5 * time.Minute,
		// Synchronous compositions hold the response open for the whole render.
		WriteTimeout: cfg.RenderTimeout + time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("API server listening", zap.Int("port", cfg.Port))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server stopped")
}

func processorConfig(cfg *config.Config) media.ProcessorConfig {
	return media.ProcessorConfig{
		FFmpegPath:        cfg.FFmpegPath,
		MaxThreads:        cfg.FFmpegMaxThreads,
		UseHardwareAccel:  cfg.FFmpegHardwareAccel,
		PreferFastPresets: cfg.FFmpegFastPresets,
		Timeout:           cfg.RenderTimeout,
		MaxConcurrent:     cfg.MaxConcurrentRenders,
	}
}
