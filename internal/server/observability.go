// Observability HTTP server for metrics, health checks and profiling
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nainya/folio/internal/logger"
)

// ReadyFunc reports whether the backends behind the server can serve requests
type ReadyFunc func(ctx context.Context) error

// ObservabilityServer provides HTTP endpoints for metrics and profiling
type ObservabilityServer struct {
	server *http.Server
	ready  ReadyFunc
	log    *logger.Logger
}

// NewObservabilityServer creates a new HTTP server for observability.
// A nil ready func always reports ready.
func NewObservabilityServer(addr string, gatherer prometheus.Gatherer, ready ReadyFunc, log *logger.Logger) *ObservabilityServer {
	if log == nil {
		log = logger.Nop()
	}
	o := &ObservabilityServer{ready: ready, log: log}

	mux := http.NewServeMux()

	// Prometheus metrics endpoint
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "service": "folio"})
	})
	mux.HandleFunc("/ready", o.handleReady)

	// pprof endpoints for profiling
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	mux.Handle("/debug/pprof/heap", pprof.Handler("heap"))
	mux.Handle("/debug/pprof/goroutine", pprof.Handler("goroutine"))
	mux.Handle("/debug/pprof/allocs", pprof.Handler("allocs"))

	o.server = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return o
}

func (o *ObservabilityServer) handleReady(w http.ResponseWriter, r *http.Request) {
	if o.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := o.ready(ctx); err != nil {
			o.log.Warn().Err(err).Msg("Readiness check failed")
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func writeJSON(w http.ResponseWriter, code int, body map[string]string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

// Handler returns the routing handler, for embedding or tests
func (o *ObservabilityServer) Handler() http.Handler {
	return o.server.Handler
}

// Start starts the observability HTTP server and blocks until it stops
func (o *ObservabilityServer) Start() error {
	ln, err := net.Listen("tcp", o.server.Addr)
	if err != nil {
		return fmt.Errorf("observability server failed: %w", err)
	}
	return o.Serve(ln)
}

// Serve accepts connections on ln until Shutdown
func (o *ObservabilityServer) Serve(ln net.Listener) error {
	addr := ln.Addr().String()
	o.log.Info().
		Str("metrics", fmt.Sprintf("http://%s/metrics", addr)).
		Str("health", fmt.Sprintf("http://%s/health", addr)).
		Str("pprof", fmt.Sprintf("http://%s/debug/pprof/", addr)).
		Msg("Observability endpoints available")

	if err := o.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("observability server failed: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the observability server
func (o *ObservabilityServer) Shutdown(ctx context.Context) error {
	o.log.Info().Msg("Shutting down observability server")
	return o.server.Shutdown(ctx)
}
