// Package metrics exposes the monitor's Prometheus metrics.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// MetricsServer serves /metrics on its own listener so it can stay private.
type MetricsServer struct {
	name string
	srv  *http.Server
}

func New(name, listenAddr string) (*MetricsServer, error) {
	if name == "" {
		return nil, errors.New("metrics server needs a name")
	}

	s := &MetricsServer{name: name}

	mux := chi.NewRouter()
	mux.Get("/metrics", s.handleMetrics)

	s.srv = &http.Server{
		Addr:              listenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s, nil
}

func (s *MetricsServer) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	WritePrometheus(w, true)
}

func (s *MetricsServer) ListenAndServe() error {
	return s.srv.ListenAndServe()
}

func (s *MetricsServer) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// Handler returns the /metrics handler for tests and embedding.
func (s *MetricsServer) Handler() http.Handler {
	return s.srv.Handler
}

