package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/sanonone/kektorgraph/pkg/config"
	"github.com/sanonone/kektorgraph/pkg/storage"
)

// Server exposes one storage instance over HTTP.
type Server struct {
	store storage.Storage

	httpServer *http.Server
	authToken  string
	limiter    *rate.Limiter // nil when unlimited
}

// NewServer wires the HTTP routes for s. The storage must already be open;
// the server never closes it.
func NewServer(s storage.Storage, cfg config.ServerConfig) *Server {
	srv := &Server{
		store:     s,
		authToken: cfg.AuthToken,
	}
	if cfg.RateLimit > 0 {
		srv.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), max(cfg.RateBurst, 1))
	}

	mux := http.NewServeMux()
	srv.registerHTTPHandlers(mux)

	// Chain middlewares: Recovery -> Logging -> RateLimit -> Auth -> Mux
	var handler http.Handler = mux

	// 1. Auth (inner)
	handler = srv.authMiddleware(handler)

	// 2. Rate limit, before any storage work
	handler = srv.rateLimitMiddleware(handler)

	// 3. Logging and metrics
	handler = srv.LoggingMiddleware(handler)

	// 4. Recovery (outer)
	handler = srv.RecoveryMiddleware(handler)

	rootMux := http.NewServeMux()
	rootMux.HandleFunc("GET /healthz", srv.handleHealthz)
	rootMux.Handle("GET /metrics", promhttp.Handler())
	rootMux.Handle("/", handler)

	srv.httpServer = &http.Server{
		Addr:         cfg.Addr,
		Handler:      rootMux,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return srv
}

// Handler returns the root handler, for embedding or tests.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Run serves until Shutdown is called.
func (s *Server) Run() error {
	slog.Info("HTTP server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP server startup failed: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests and waits up to five seconds for the
// in-flight ones.
func (s *Server) Shutdown() {
	slog.Info("shutting down HTTP server")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		slog.Error("HTTP server shutdown", "error", err)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if _, err := s.store.NodeCount(); err != nil {
		s.writeHTTPError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	s.writeHTTPResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}
