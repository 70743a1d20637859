// Package server exposes queryx sessions over HTTP: upload workbooks,
// review the mapping, submit rules and download results.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/leapstack-labs/queryx/internal/engine"
	"github.com/leapstack-labs/queryx/internal/llm"
	"github.com/leapstack-labs/queryx/internal/session"
	"github.com/leapstack-labs/queryx/internal/synth"
)

const (
	defaultMaxUpload = 32 << 20
	shutdownTimeout  = 5 * time.Second
)

// Recorder persists what rule actions did beyond the session.
type Recorder interface {
	RecordOutcomes(ctx context.Context, c session.Context, outcomes []synth.Outcome) error
}

// Config holds configuration for the server.
type Config struct {
	Addr string

	// UploadDir receives uploaded workbooks, one subdirectory per session.
	UploadDir string
	// MaxUploadBytes caps a single upload request.
	MaxUploadBytes int64

	Sessions *session.HTTPStore

	// Engine is the template for the per-request engine.
	Engine engine.Config
	Model  llm.Completer
	Synth  synth.Config

	// History records executed actions (optional).
	History Recorder

	// Gatherer backs /metrics. Nil disables the endpoint.
	Gatherer prometheus.Gatherer

	// Logger is the structured logger (optional, uses discard if nil).
	Logger *slog.Logger
}

// Server is the HTTP server.
type Server struct {
	cfg      Config
	logger   *slog.Logger
	validate *validator.Validate
	now      func() time.Time
}

// New creates a server.
func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = defaultMaxUpload
	}
	return &Server{
		cfg:      cfg,
		logger:   cfg.Logger,
		validate: newValidator(),
		now:      time.Now,
	}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewMux()
	r.Use(
		middleware.RequestID,
		middleware.Logger,
		middleware.Recoverer,
		middleware.Compress(5),
	)

	r.Get("/healthz", s.health)
	if s.cfg.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Post("/upload", s.upload)
	r.Get("/mapping", s.getMapping)
	r.Post("/mapping", s.saveMapping)
	r.Post("/rules", s.rules)
	r.Get("/prompts", s.prompts)
	r.Post("/prompts/clear", s.clearPrompts)
	r.Post("/download", s.download)

	return r
}

// Serve listens on cfg.Addr and blocks until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	s.logger.Info("starting server", "addr", s.cfg.Addr)

	eg, egctx := errgroup.WithContext(ctx)

	srv := &http.Server{
		Addr:    s.cfg.Addr,
		Handler: s.Handler(),
		BaseContext: func(_ net.Listener) context.Context {
			return egctx
		},
		ReadHeaderTimeout: 10 * time.Second,
	}

	eg.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown
	eg.Go(func() error {
		<-egctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		s.logger.Debug("shutting down server...")
		return srv.Shutdown(shutdownCtx)
	})

	return eg.Wait()
}
