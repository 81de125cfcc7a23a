// Package server exposes the activity log entry handler over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/julianstephens/ptlog/internal/activity"
	"github.com/julianstephens/ptlog/internal/constants"
	"github.com/julianstephens/ptlog/internal/logger"
)

// IdentityFunc extracts the authenticated caller from a request. An empty
// result means the caller could not be identified.
type IdentityFunc func(r *http.Request) string

// HeaderIdentity trusts the caller header set by the authenticating gateway.
func HeaderIdentity(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(constants.CallerHeader))
}

type Server struct {
	svc          *activity.Service
	identify     IdentityFunc
	metrics      *Metrics
	exposeErrors bool
	mux          *http.ServeMux
}

type Option func(*Server)

func WithIdentity(fn IdentityFunc) Option {
	return func(s *Server) { s.identify = fn }
}

// WithExposeErrors includes internal error detail in 500 responses. Only for
// local development.
func WithExposeErrors(expose bool) Option {
	return func(s *Server) { s.exposeErrors = expose }
}

func WithMetrics(m *Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

func New(svc *activity.Service, opts ...Option) *Server {
	s := &Server{
		svc:      svc,
		identify: HeaderIdentity,
		mux:      http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = NewMetrics()
	}

	s.mux.HandleFunc("POST "+constants.ActivityLogsPath, s.handleCreate)
	s.mux.HandleFunc("PUT "+constants.ActivityLogsPath+"/{id}", s.handleEdit)
	s.mux.HandleFunc("DELETE "+constants.ActivityLogsPath+"/{id}", s.handleDelete)
	s.mux.HandleFunc("GET "+constants.ActivityLogsPath+"/{id}", s.handleGet)
	s.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		jsonOK(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	s.mux.Handle("GET /metrics", s.metrics.Handler())
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

// ListenAndServe serves on addr until ctx is cancelled, then drains
// in-flight requests. A request already committing is allowed to finish.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("API server listening", "addr", addr)
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

	shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.DefaultRequestTimeout)
	defer cancel()
	logger.Info("API server shutting down")
	return srv.Shutdown(shutdownCtx)
}
