// Package http serves the admin API: context inspection and reset, pause
// and resume, and store health. Everything is JSON over a stdlib mux,
// protected by a bearer token and a per-IP rate limit.
package http

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/flowagencyai/wabot/internal/conversation"
	"github.com/flowagencyai/wabot/internal/pause"
	"github.com/flowagencyai/wabot/internal/store"
)

// Server is the admin API server.
type Server struct {
	contexts *conversation.Manager
	gate     *pause.Gate
	kv       store.KV
	token    string
	limiter  *ipRateLimiter

	httpSrv *http.Server
}

type Config struct {
	Addr           string
	AdminToken     string
	RateLimitRPM   int
	RateLimitBurst int
}

func NewServer(cfg Config, contexts *conversation.Manager, gate *pause.Gate, kv store.KV) *Server {
	s := &Server{
		contexts: contexts,
		gate:     gate,
		kv:       kv,
		token:    cfg.AdminToken,
		limiter:  newIPRateLimiter(cfg.RateLimitRPM, cfg.RateLimitBurst),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/health", s.handleHealth)
	mux.HandleFunc("GET /v1/contexts", s.handleListContexts)
	mux.HandleFunc("GET /v1/contexts/{userId}", s.handleGetContext)
	mux.HandleFunc("DELETE /v1/contexts/{userId}", s.handleClearContext)
	mux.HandleFunc("POST /v1/pause", s.handlePause)
	mux.HandleFunc("POST /v1/resume", s.handleResume)
	mux.HandleFunc("GET /v1/paused/{userId}", s.handlePaused)

	s.httpSrv = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.middleware(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// ListenAndServe blocks until the server stops.
func (s *Server) ListenAndServe() error {
	slog.Info("admin.listening", "addr", s.httpSrv.Addr)
	err := s.httpSrv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

// Handler exposes the full middleware-wrapped handler for tests.
func (s *Server) Handler() http.Handler {
	return s.httpSrv.Handler
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("admin.write_failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeStoreError maps store failures onto HTTP statuses: invalid input is
// the client's fault, anything else means the cache is unreachable.
func writeStoreError(w http.ResponseWriter, err error) {
	if isInvalidArgument(err) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeError(w, http.StatusServiceUnavailable, fmt.Sprintf("store unavailable: %s", err))
}
