// Package admin exposes the runtime's read-only introspection surface:
// health, the prometheus scrape endpoint, and queue/DLQ/breaker status.
package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Ap3pp3rs94/signalbot/internal/breaker"
	"github.com/Ap3pp3rs94/signalbot/internal/dlq"
	"github.com/Ap3pp3rs94/signalbot/internal/metrics"
	"github.com/Ap3pp3rs94/signalbot/internal/queue"
)

// Server is the admin HTTP surface.
type Server struct {
	httpServer *http.Server
}

// NewServer builds the admin router and binds it to addr.
func NewServer(addr string, reg *metrics.Registry, q *queue.Queue, dq *dlq.DLQ, br *breaker.Breaker, resources []string) *Server {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	}).Methods(http.MethodGet)

	r.Handle("/metrics", promhttp.HandlerFor(reg.Gatherer(), promhttp.HandlerOpts{})).Methods(http.MethodGet)

	r.HandleFunc("/dlq", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"backlog": dq.Backlog()})
	}).Methods(http.MethodGet)

	r.HandleFunc("/queue", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"depth": q.Depth()})
	}).Methods(http.MethodGet)

	r.HandleFunc("/breakers", func(w http.ResponseWriter, _ *http.Request) {
		states := make(map[string]string, len(resources))
		for _, res := range resources {
			states[res] = string(br.State(res))
		}
		writeJSON(w, http.StatusOK, states)
	}).Methods(http.MethodGet)

	return &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           r,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      10 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
	}
}

// ListenAndServe runs the admin server until it errors or is shut down.
func (s *Server) ListenAndServe() error {
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops accepting new connections and drains in-flight ones.
func (s *Server) Shutdown() error {
	return s.httpServer.Shutdown(context.Background())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
