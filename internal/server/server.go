// Package server exposes the engine over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/rcliao/memops/internal/engine"
	"github.com/rcliao/memops/internal/memerr"
)

// MaxRequestBytes bounds an execute request body.
const MaxRequestBytes = 4 << 20

// Config holds the HTTP listener settings.
type Config struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	// SweepInterval runs the expiry sweep periodically; 0 disables it.
	SweepInterval time.Duration
}

// Server routes requests to an engine.
type Server struct {
	engine   *engine.Engine
	gatherer prometheus.Gatherer
	logger   *zap.Logger
	router   chi.Router
}

// New builds the router. gatherer may be nil to omit /metrics.
func New(e *engine.Engine, gatherer prometheus.Gatherer, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		engine:   e,
		gatherer: gatherer,
		logger:   logger.With(zap.String("component", "server")),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Route("/v1", func(r chi.Router) {
		r.Post("/execute", s.handleExecute)
		r.Post("/sweep", s.handleSweep)
	})
	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	s.router = r
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleExecute(w http.ResponseWriter, req *http.Request) {
	body, err := io.ReadAll(io.LimitReader(req.Body, MaxRequestBytes+1))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if len(body) > MaxRequestBytes {
		http.Error(w, "request too large", http.StatusRequestEntityTooLarge)
		return
	}

	env := s.engine.ExecuteJSON(req.Context(), body)
	writeJSON(w, StatusFor(env), env)
}

func (s *Server) handleSweep(w http.ResponseWriter, req *http.Request) {
	now := time.Now().UTC()
	if at := req.URL.Query().Get("at"); at != "" {
		t, err := time.Parse(time.RFC3339, at)
		if err != nil {
			http.Error(w, "at must be RFC3339", http.StatusBadRequest)
			return
		}
		now = t.UTC()
	}
	res, err := s.engine.Sweep(req.Context(), now)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": memerr.From(err)})
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// StatusFor maps an envelope to an HTTP status code.
func StatusFor(env *engine.Envelope) int {
	if env.Success {
		return http.StatusOK
	}
	switch env.Error.Kind {
	case memerr.KindValidation, memerr.KindSafety:
		return http.StatusBadRequest
	case memerr.KindNotFound:
		return http.StatusNotFound
	case memerr.KindConflict:
		return http.StatusConflict
	case memerr.KindProvider:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, cfg Config) error {
	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	if cfg.SweepInterval > 0 {
		go s.sweepLoop(ctx, cfg.SweepInterval)
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", zap.String("addr", cfg.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func (s *Server) sweepLoop(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case t := <-ticker.C:
			if _, err := s.engine.Sweep(ctx, t.UTC()); err != nil {
				s.logger.Error("expiry sweep failed", zap.Error(err))
			}
		case <-ctx.Done():
			return
		}
	}
}
