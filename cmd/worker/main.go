package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"babylog/internal/config"
	"babylog/internal/event"
	"babylog/internal/health"
	"babylog/internal/observability"
	"babylog/internal/queue"
	"babylog/internal/transcoder"
	"babylog/internal/worker"
)

const (
	ShutdownTimeout       = 5 * time.Second
	TracerShutdownTimeout = 5 * time.Second
)

func main() {
	log := observability.NewLogger()
	slog.SetDefault(log)

	if err := godotenv.Load(); err != nil {
		log.Info("No .env file found, using system environment variables")
	}

	cfg, err := config.LoadWorker()
	if err != nil {
		log.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Initialize tracing
	shutdownTracer, err := observability.InitTracer(context.Background(), "babylog-worker", cfg.OTLPEndpoint)
	if err != nil {
		log.Error("Failed to initialize tracer", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), TracerShutdownTimeout)
		defer cancel()
		if err := shutdownTracer(shutdownCtx); err != nil {
			log.Error("Failed to shutdown tracer", "error", err)
		}
	}()

	eventStore := event.NewStore(cfg.Storage.DataDir, log)
	taskQueue := queue.New(cfg.Storage.DataDir, eventStore.Dir(), log)
	ffmpeg := transcoder.New(log)

	w := worker.New(taskQueue, ffmpeg, eventStore.Dir(), cfg.Storage.HLSDir,
		cfg.Worker.Interval, cfg.Worker.MaxAttempts, log)

	// Health checker for the metrics server; deep checks verify the data
	// directory and the ffmpeg binary the worker depends on.
	healthConfig := health.DefaultConfig("babylog-worker", log)
	healthConfig.DataDir = cfg.Storage.DataDir
	healthConfig.RequireFFmpeg = true
	healthChecker := health.NewChecker(healthConfig)

	metricsServer := startMetricsServer(cfg.Worker.MetricsPort, healthChecker, log)

	// Graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-quit
		log.Info("Shutting down worker...")
		cancel()
	}()

	if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("Worker stopped", "error", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer shutdownCancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		log.Error("Failed to shutdown metrics server", "error", err)
	}

	log.Info("Worker shutdown complete")
}

func startMetricsServer(port int, checker *health.Checker, log *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", checker.Handler())
	mux.HandleFunc("/health/deep", checker.DeepHandler())

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("Starting metrics server", "port", port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Metrics server error", "error", err)
		}
	}()

	return srv
}
