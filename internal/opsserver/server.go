// Package opsserver exposes Prometheus metrics and a storage health check.
package opsserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/j-veylop/tokenwatch/internal/db"
	"github.com/j-veylop/tokenwatch/internal/logger"
	"github.com/j-veylop/tokenwatch/internal/version"
)

const (
	readTimeout     = 5 * time.Second
	writeTimeout    = 10 * time.Second
	shutdownTimeout = 5 * time.Second
)

// StatsSource reports the active storage backend.
type StatsSource interface {
	Stats() db.Stats
}

// Health is the /healthz response body.
type Health struct {
	Status  string   `json:"status"`
	Version string   `json:"version"`
	Storage db.Stats `json:"storage"`
}

// Server serves the ops endpoints.
type Server struct {
	addr    string
	stats   StatsSource
	handler http.Handler
}

// New creates a server listening on addr.
func New(addr string, stats StatsSource) *Server {
	s := &Server{addr: addr, stats: stats}

	r := chi.NewRouter()
	r.Use(chiMiddleware.Recoverer)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Get("/healthz", s.healthz)
	s.handler = r

	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	h := Health{
		Status:  "ok",
		Version: version.GetVersion(),
		Storage: s.stats.Stats(),
	}
	code := http.StatusOK
	switch {
	case h.Storage.Backend == "":
		h.Status = "unavailable"
		code = http.StatusServiceUnavailable
	case h.Storage.PrimaryError != "":
		// Running on the fallback is still serving.
		h.Status = "degraded"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(h)
}

// Run listens until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:      s.handler,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("ops server listening", "addr", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("ops server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down ops server: %w", err)
	}
	logger.Info("ops server stopped")
	return nil
}
