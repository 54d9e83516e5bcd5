// Package httpserver serves the worker's metrics and liveness endpoints.
package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Handler builds the router: /metrics for the registry and /healthz for
// liveness
func Handler(serviceName string, gatherer prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{
			"status":  "ok",
			"service": serviceName,
		})
	})
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	return r
}

// Server wraps the HTTP server lifecycle
type Server struct {
	srv    *http.Server
	logger *zap.Logger
}

// NewServer creates a server on port and registers lifecycle hooks. A port
// of 0 or less disables it.
func NewServer(lc fx.Lifecycle, logger *zap.Logger, port int, handler http.Handler) *Server {
	s := &Server{
		srv: &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: logger,
	}
	if port <= 0 {
		logger.Info("http server disabled")
		return s
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ln, err := net.Listen("tcp", s.srv.Addr)
			if err != nil {
				return fmt.Errorf("[HTTP] failed to listen on %s: %w", s.srv.Addr, err)
			}
			logger.Info("http server listening", zap.String("addr", s.srv.Addr))
			go func() {
				if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("http server stopped unexpectedly", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("shutting down http server")
			return s.srv.Shutdown(ctx)
		},
	})

	return s
}
