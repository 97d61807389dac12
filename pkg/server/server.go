// Package server exposes the claim scoring pipeline over HTTP.
//
// It serves the prediction API, the operational endpoints (health, metadata,
// metrics), and a small browser form for manual scoring.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/approvia/claimscore/pkg/artifact"
	"github.com/approvia/claimscore/pkg/config"
	"github.com/approvia/claimscore/pkg/predict"
)

// Server wires the predictor and artifact store into an HTTP server.
type Server struct {
	cfg       *config.Config
	store     *artifact.Store
	predictor *predict.Predictor
	metrics   *Metrics
	logger    *slog.Logger
	access    *StructuredLogger

	mu         sync.RWMutex
	httpServer *http.Server
	listener   net.Listener
	stopOnce   sync.Once
}

// New creates a server around a loaded artifact store and its predictor.
func New(cfg *config.Config, store *artifact.Store, predictor *predict.Predictor, metrics *Metrics, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = NewMetrics()
	}
	return &Server{
		cfg:       cfg,
		store:     store,
		predictor: predictor,
		metrics:   metrics,
		logger:    logger,
		access:    NewStructuredLogger(logger),
	}
}

// Metrics returns the server's metrics instance.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// Handler builds the full HTTP handler stack.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.setupRoutes(mux)

	var handler http.Handler = mux
	handler = s.metrics.InstrumentHandler(handler)
	handler = AccessLogMiddleware(s.access)(handler)
	handler = RequestIDMiddleware(handler)
	return otelhttp.NewHandler(handler, "claimscore")
}

// setupRoutes configures HTTP routes for the scoring server
func (s *Server) setupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /metadata", s.handleMetadata)
	mux.HandleFunc("POST /predict", s.handlePredict)
	mux.HandleFunc("GET /web", s.handleWeb)
	mux.HandleFunc("GET /{$}", s.handleRoot)

	if s.cfg.Metrics != nil && s.cfg.Metrics.Enabled {
		mux.Handle("GET "+s.cfg.Metrics.Path, s.metrics.Handler())
	}
}

// Start runs the HTTP server until the context is cancelled or the listener
// fails. The listen address is resolved before Start returns control to the
// serving goroutine, so ":0" works for tests.
func (s *Server) Start(ctx context.Context) error {
	handler := s.Handler()

	listener, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.ListenAddr, err)
	}

	s.mu.Lock()
	s.listener = listener
	s.httpServer = &http.Server{
		Handler:      handler,
		ReadTimeout:  s.cfg.ReadTimeout(),
		WriteTimeout: s.cfg.WriteTimeout(),
		IdleTimeout:  s.cfg.IdleTimeout(),
	}
	srv := s.httpServer
	s.mu.Unlock()

	s.logger.Info("HTTP server listening",
		"addr", listener.Addr().String(),
		"artifacts_dir", s.store.Dir(),
		"pipeline_format", s.store.Pipeline().Format(),
	)

	errCh := make(chan error, 1)
	go func() {
		if serveErr := srv.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			errCh <- serveErr
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("HTTP server error: %w", err)
	case <-ctx.Done():
		return s.Stop(context.Background())
	}
}

// Addr returns the bound listener address, or an empty string before Start.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop gracefully shuts down the HTTP server, draining in-flight requests
// until the supplied context expires.
func (s *Server) Stop(ctx context.Context) error {
	var err error
	s.stopOnce.Do(func() {
		s.logger.Info("Stopping HTTP server")

		s.mu.RLock()
		srv := s.httpServer
		s.mu.RUnlock()

		if srv != nil {
			if stopErr := srv.Shutdown(ctx); stopErr != nil {
				s.logger.Error("Failed to shut down HTTP server", "error", stopErr)
				err = stopErr
			}
		}
	})
	return err
}
