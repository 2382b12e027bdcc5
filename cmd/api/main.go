package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"babylog/internal/api"
	"babylog/internal/auth"
	"babylog/internal/config"
	"babylog/internal/event"
	"babylog/internal/fingerprint"
	"babylog/internal/health"
	"babylog/internal/mediainfo"
	"babylog/internal/observability"
	"babylog/internal/queue"
	"babylog/internal/reconcile"
	"babylog/internal/transcoder"
	"babylog/internal/upload"
)

const (
	ShutdownTimeout       = 30 * time.Second
	TracerShutdownTimeout = 5 * time.Second
)

func main() {
	// Initialize logger
	log := observability.NewLogger()
	slog.SetDefault(log)

	// Load .env file if present
	if err := godotenv.Load(); err != nil {
		log.Info("No .env file found, using system environment variables")
	}

	// Load configuration
	cfg, err := config.LoadAPI()
	if err != nil {
		log.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Initialize tracer
	shutdownTracer, err := observability.InitTracer(context.Background(), "babylog-api", cfg.OTLPEndpoint)
	if err != nil {
		log.Error("Failed to initialize tracer", "error", err)
		os.Exit(1)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), TracerShutdownTimeout)
		defer cancel()
		if err := shutdownTracer(ctx); err != nil {
			log.Error("Failed to shutdown tracer", "error", err)
		}
	}()

	// Media tooling shared by uploads, ingestion and reconciliation
	ffmpeg := transcoder.New(log)
	capture := mediainfo.NewExtractor(ffmpeg, log)
	videoHasher := fingerprint.NewVideoHasher(ffmpeg, log)

	// Upload coordinator
	chunkStore := upload.NewChunkStore(cfg.Storage.DataDir)
	registry := upload.NewRegistry(chunkStore, log)
	coordinator := upload.NewCoordinator(registry, chunkStore, capture, cfg.Upload.TaskRetention, log)

	// Event store, transcode queue and media ingestion
	eventStore := event.NewStore(cfg.Storage.DataDir, log)
	taskQueue := queue.New(cfg.Storage.DataDir, eventStore.Dir(), log)
	ingestor := event.NewIngestor(eventStore, videoHasher, capture, taskQueue, cfg.Storage.HLSDir, log)
	matcher := reconcile.NewMatcher(eventStore, cfg.Reconcile.MaxDistance, log)

	// Initialize JWT service
	jwtSecret, err := cfg.GetJWTSecret()
	if err != nil {
		log.Error("Failed to get JWT secret", "error", err)
		os.Exit(1)
	}
	jwtService, err := auth.NewJWTService(jwtSecret)
	if err != nil {
		log.Error("Failed to create JWT service", "error", err)
		os.Exit(1)
	}

	// Initialize rate limiter
	rateLimiter := auth.NewRateLimiter(auth.DefaultRateLimiterConfig())

	// Initialize health checker
	healthConfig := health.DefaultConfig("babylog-api", log)
	healthConfig.DataDir = cfg.Storage.DataDir
	healthChecker := health.NewChecker(healthConfig)

	handlers := api.NewHandlers(&api.HandlersConfig{
		Config:      cfg,
		Logger:      log,
		Coordinator: coordinator,
		EventStore:  eventStore,
		Ingestor:    ingestor,
		Matcher:     matcher,
		JWTService:  jwtService,
	})

	// Create and start server
	server, err := api.NewServer(&api.ServerConfig{
		Config:        cfg,
		Logger:        log,
		Handlers:      handlers,
		JWTService:    jwtService,
		RateLimiter:   rateLimiter,
		HealthChecker: healthChecker,
		HLSDir:        cfg.Storage.HLSDir,
		MediaDir:      eventStore.Dir(),
	})
	if err != nil {
		log.Error("Failed to create server", "error", err)
		os.Exit(1)
	}

	// Start server in goroutine
	go func() {
		if err := server.Start(); err != nil {
			log.Error("Server error", "error", err)
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error("Server forced to shutdown", "error", err)
	}

	log.Info("Server shutdown complete")
}
