package httpserver

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/flashbots/go-utils/httplogger"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/atomic"
)

type HTTPServerConfig struct {
	ListenAddr  string
	EnablePprof bool
	Log         *slog.Logger

	DrainDuration            time.Duration
	GracefulShutdownDuration time.Duration
	ReadTimeout              time.Duration
	WriteTimeout             time.Duration
}

// Server serves the store API and the health endpoints.
type Server struct {
	cfg      *HTTPServerConfig
	log      *slog.Logger
	draining atomic.Bool

	srv     *http.Server
	handler *Handler
}

func New(cfg *HTTPServerConfig, handler *Handler) (*Server, error) {
	if handler == nil {
		return nil, errors.New("nil handler")
	}
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}

	s := &Server{cfg: cfg, log: log, handler: handler}
	s.srv = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      s.getRouter(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s, nil
}

func (s *Server) getRouter() http.Handler {
	mux := chi.NewRouter()
	mux.Use(middleware.RequestID, middleware.Recoverer, s.httpLogger)

	mux.Route("/api/v1/stores/{store}", func(r chi.Router) {
		r.Get("/", s.handler.HandleInspect)
		r.Put("/documents", s.handler.HandlePutDocument)
		r.Post("/documents/decrypt", s.handler.HandleDecrypt)
	})

	mux.Get("/livez", s.handleLivez)
	mux.Get("/readyz", s.handleReadyz)
	mux.Get("/drain", s.handleDrain)
	mux.Get("/undrain", s.handleUndrain)

	if s.cfg.EnablePprof {
		s.log.Info("pprof API enabled")
		mux.Mount("/debug", middleware.Profiler())
	}
	return mux
}

func (s *Server) httpLogger(next http.Handler) http.Handler {
	return httplogger.LoggingMiddlewareSlog(s.log, next)
}

func writeStatus(w http.ResponseWriter, code int, status string) {
	writeJSON(w, code, map[string]string{"status": status})
}

func (s *Server) handleLivez(w http.ResponseWriter, r *http.Request) {
	writeStatus(w, http.StatusOK, "alive")
}

// handleReadyz fails while draining or while storage is unreachable.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	switch {
	case s.draining.Load():
		writeStatus(w, http.StatusServiceUnavailable, "draining")
	case !s.handler.service.Available(r.Context()):
		writeStatus(w, http.StatusServiceUnavailable, "storage unavailable")
	default:
		writeStatus(w, http.StatusOK, "ready")
	}
}

// handleDrain marks the server not ready and holds the request for
// DrainDuration so that load balancers stop routing before it returns.
func (s *Server) handleDrain(w http.ResponseWriter, r *http.Request) {
	if s.draining.Swap(true) {
		writeStatus(w, http.StatusOK, "already draining")
		return
	}
	s.log.Info("Server draining", slog.Duration("drain_duration", s.cfg.DrainDuration))

	select {
	case <-time.After(s.cfg.DrainDuration):
	case <-r.Context().Done():
	}
	writeStatus(w, http.StatusOK, "draining")
}

func (s *Server) handleUndrain(w http.ResponseWriter, r *http.Request) {
	if !s.draining.Swap(false) {
		writeStatus(w, http.StatusOK, "already ready")
		return
	}
	s.log.Info("Server ready")
	writeStatus(w, http.StatusOK, "ready")
}

func (s *Server) RunInBackground() {
	go func() {
		s.log.Info("Starting HTTP server", "listenAddress", s.cfg.ListenAddr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("HTTP server failed", "err", err)
		}
	}()
}

// Shutdown stops accepting requests and waits for in-flight ones up to
// GracefulShutdownDuration.
func (s *Server) Shutdown() {
	s.draining.Store(true)

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.GracefulShutdownDuration)
	defer cancel()
	if err := s.srv.Shutdown(ctx); err != nil {
		s.log.Error("Graceful HTTP server shutdown failed", "err", err)
		return
	}
	s.log.Info("HTTP server gracefully stopped")
}
