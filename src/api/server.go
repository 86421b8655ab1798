// Package api exposes mission uploads over HTTP for the ground-station UI.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/nhirsama/Goster-Mission/src/inter"
	"github.com/nhirsama/Goster-Mission/src/logging"
	"github.com/nhirsama/Goster-Mission/src/mission_manager"
)

// maxBodyBytes bounds request bodies; flight plans are a few hundred rows
const maxBodyBytes = 4 << 20

const shutdownTimeout = 10 * time.Second

type Server struct {
	manager *mission_manager.Manager
	log     inter.Logger
}

// NewApiServer creates the HTTP front end of m
func NewApiServer(m *mission_manager.Manager, log inter.Logger) *Server {
	if log == nil {
		log = logging.Nop()
	}
	return &Server{manager: m, log: log}
}

// Handler returns the routed handler with request logging
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.registerRoutes(mux)
	return s.logRequests(mux)
}

func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /upload", s.uploadHandler)
	mux.HandleFunc("POST /compile", s.compileHandler)
	mux.HandleFunc("GET /uploads", s.historyHandler)
	mux.HandleFunc("GET /uploads/{id}", s.uploadRecordHandler)
	mux.HandleFunc("GET /healthz", s.healthHandler)
}

// ListenAndServe serves on addr until ctx is done, then drains in-flight
// requests
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("starting HTTP API", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	s.log.Info("HTTP API stopped")
	return nil
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.log.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start))
	})
}
