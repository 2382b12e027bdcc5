// Package api provides the HTTP server for the diary backend.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"babylog/internal/auth"
	"babylog/internal/config"
	"babylog/internal/health"
)

// Server configuration constants
const (
	ReadTimeout       = 30 * time.Second
	ReadHeaderTimeout = 10 * time.Second
	WriteTimeout      = 300 * time.Second
	IdleTimeout       = 120 * time.Second
	MaxHeaderBytes    = 1 << 20 // 1 MB
)

// Server is the HTTP server for the API.
type Server struct {
	httpServer    *http.Server
	cfg           *config.Config
	log           *slog.Logger
	rateLimiter   *auth.RateLimiter
	healthChecker *health.Checker
}

// ServerConfig holds dependencies for the server.
type ServerConfig struct {
	Config        *config.Config
	Logger        *slog.Logger
	Handlers      *Handlers
	JWTService    *auth.JWTService
	RateLimiter   *auth.RateLimiter
	HealthChecker *health.Checker
	// HLSDir, when set, is served read-only under /hls/ for playback.
	HLSDir string
	// MediaDir, when set, is served read-only under /media/.
	MediaDir string
}

// NewServer creates the API server and wires up routing.
func NewServer(cfg *ServerConfig) (*Server, error) {
	handlers := cfg.Handlers

	mux := http.NewServeMux()

	// Public endpoints
	mux.HandleFunc("GET /health", cfg.HealthChecker.Handler())
	mux.HandleFunc("GET /health/deep", cfg.HealthChecker.DeepHandler())
	mux.HandleFunc("POST /login", handlers.LoginHandler)

	// Protected endpoints
	protect := cfg.JWTService.Middleware(cfg.RateLimiter)

	mux.HandleFunc("POST /upload/init", protect(handlers.InitUploadHandler))
	mux.HandleFunc("POST /upload/chunk", protect(handlers.UploadChunkHandler))
	mux.HandleFunc("POST /upload/complete", protect(handlers.CompleteUploadHandler))
	mux.HandleFunc("GET /upload/status/{taskId}", protect(handlers.UploadStatusHandler))

	mux.HandleFunc("GET /events", protect(handlers.ListEventsHandler))
	mux.HandleFunc("POST /events", protect(handlers.CreateEventHandler))
	mux.HandleFunc("GET /events/{id}", protect(handlers.GetEventHandler))
	mux.HandleFunc("PUT /events/{id}", protect(handlers.UpdateEventHandler))
	mux.HandleFunc("DELETE /events/{id}", protect(handlers.DeleteEventHandler))
	mux.HandleFunc("DELETE /events/{id}/media/{file}", protect(handlers.DeleteMediaHandler))

	mux.HandleFunc("GET /timeline", protect(handlers.TimelineHandler))
	mux.HandleFunc("POST /reconcile", protect(handlers.ReconcileHandler))

	// Static media for playback
	if cfg.HLSDir != "" {
		mux.Handle("GET /hls/", http.StripPrefix("/hls/", http.FileServer(http.Dir(cfg.HLSDir))))
	}
	if cfg.MediaDir != "" {
		mux.Handle("GET /media/", http.StripPrefix("/media/", http.FileServer(http.Dir(cfg.MediaDir))))
	}

	// Metrics endpoint (internal only)
	mux.Handle("/metrics", internalOnlyMiddleware(promhttp.Handler()))

	handler := MetricsMiddleware(CORSMiddleware(cfg.Config.CORS.AllowedOrigins)(mux))

	httpServer := &http.Server{
		Addr:              ":" + cfg.Config.API.Port,
		Handler:           handler,
		ReadTimeout:       ReadTimeout,
		ReadHeaderTimeout: ReadHeaderTimeout,
		WriteTimeout:      WriteTimeout,
		IdleTimeout:       IdleTimeout,
		MaxHeaderBytes:    MaxHeaderBytes,
	}

	return &Server{
		httpServer:    httpServer,
		cfg:           cfg.Config,
		log:           cfg.Logger,
		rateLimiter:   cfg.RateLimiter,
		healthChecker: cfg.HealthChecker,
	}, nil
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.log.Info("Starting API server", "port", s.cfg.API.Port)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("Shutting down API server...")

	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}
	return s.httpServer.Shutdown(ctx)
}

// Private networks for internal-only middleware
var privateNetworks = []net.IPNet{
	{IP: net.ParseIP("10.0.0.0"), Mask: net.CIDRMask(8, 32)},
	{IP: net.ParseIP("172.16.0.0"), Mask: net.CIDRMask(12, 32)},
	{IP: net.ParseIP("192.168.0.0"), Mask: net.CIDRMask(16, 32)},
	{IP: net.ParseIP("127.0.0.0"), Mask: net.CIDRMask(8, 32)},
}

// internalOnlyMiddleware restricts access to internal networks.
func internalOnlyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Deny if X-Forwarded-For is present (came through a proxy)
		if r.Header.Get("X-Forwarded-For") != "" {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}

		if isInternalRequest(r.RemoteAddr) {
			next.ServeHTTP(w, r)
			return
		}
		http.Error(w, "Forbidden", http.StatusForbidden)
	})
}

// isInternalRequest checks if the request is from an internal network.
func isInternalRequest(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return false
	}

	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}

	for _, network := range privateNetworks {
		if network.Contains(ip) {
			return true
		}
	}
	return ip.IsLoopback()
}
