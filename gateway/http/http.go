// Package http serves the diagnostics endpoints: /healthz with
// per-component statuses and /metrics in the Prometheus exposition
// format. It listens on its own address, separate from the client
// transport.
package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/hypothesis/h-sub005/errors"
	"github.com/hypothesis/h-sub005/health"
	"github.com/hypothesis/h-sub005/metric"
)

// Config configures the diagnostics server.
type Config struct {
	Addr       string
	SystemName string
	Monitor    *health.Monitor
	Metrics    *metric.MetricsRegistry
	Logger     *slog.Logger
}

// Server is the diagnostics HTTP server.
type Server struct {
	addr       string
	systemName string
	monitor    *health.Monitor
	metrics    *metric.MetricsRegistry
	logger     *slog.Logger
}

// NewServer creates a diagnostics server.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Addr == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig,
			"http", "NewServer", "validate listen address")
	}
	if cfg.Monitor == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig,
			"http", "NewServer", "validate health monitor")
	}
	systemName := cfg.SystemName
	if systemName == "" {
		systemName = "streamd"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		addr:       cfg.Addr,
		systemName: systemName,
		monitor:    cfg.Monitor,
		metrics:    cfg.Metrics,
		logger:     logger.With("component", "diagnostics"),
	}, nil
}

// Handler returns the diagnostics mux, exposed for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics.Handler())
	}
	return mux
}

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	s.logger.Info("diagnostics server listening", "addr", s.addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			_ = srv.Close()
		}
		<-errCh
		return ctx.Err()
	case err := <-errCh:
		return errors.WrapFatal(err, "http", "Run", "serve diagnostics")
	}
}

// handleHealthz renders the aggregated component statuses. Unhealthy
// systems answer 503 so load balancers can eject the instance.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	status := s.monitor.AggregateHealth(s.systemName)

	code := http.StatusOK
	if !status.Healthy {
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(status); err != nil {
		s.logger.Debug("healthz encode failed", "error", err)
	}
}
