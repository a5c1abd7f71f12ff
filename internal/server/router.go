package server

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/telhawk-systems/telhawk-beacon/common/middleware"
	"github.com/telhawk-systems/telhawk-beacon/internal/config"
	"github.com/telhawk-systems/telhawk-beacon/internal/handlers"
)

// NewRouter constructs a ServeMux with the agent's host routes registered.
func NewRouter(h *handlers.Handler) http.Handler {
	mux := http.NewServeMux()

	// Producers
	mux.HandleFunc("/v1/events", h.Events)
	mux.HandleFunc("/v1/signals/memory", h.Memory)
	mux.HandleFunc("/v1/signals/connectivity", h.Connectivity)

	// Session control
	mux.HandleFunc("/v1/configure", h.Configure)
	mux.HandleFunc("/v1/session", h.Session)
	mux.HandleFunc("/v1/session/start", h.Start)
	mux.HandleFunc("/v1/session/stop", h.Stop)
	mux.HandleFunc("/v1/session/pause", h.Pause)
	mux.HandleFunc("/v1/session/resume", h.Resume)
	mux.HandleFunc("/v1/session/user", h.User)

	// Health endpoints
	mux.HandleFunc("/healthz", h.Health)
	mux.HandleFunc("/readyz", h.Ready)

	// Prometheus metrics
	mux.Handle("/metrics", promhttp.Handler())

	return middleware.RequestID(mux)
}

// NewHTTPServer wraps handler in an http.Server configured from cfg.
func NewHTTPServer(cfg config.ServerConfig, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
}
