package main

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"kai-model/internal/config"
	"kai-model/internal/metrics"
	"kai-model/internal/store"
	"kai-model/internal/wsevent"
)

// server holds the handlers of the daemon.
type server struct {
	db     *store.DB
	hub    *wsevent.Hub
	cfg    *config.Config
	logger *zap.Logger
}

// healthResponse is the body of /healthz.
type healthResponse struct {
	Status  string         `json:"status"`
	Version string         `json:"version"`
	Clients int            `json:"clients"`
	Queue   map[string]int `json:"queue,omitempty"`
	Error   string         `json:"error,omitempty"`
}

func newRouter(s *server) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.health)
	mux.Handle("GET /metrics", metrics.Handler())
	mux.Handle("GET /v1/events", s.hub)
	mux.HandleFunc("PUT /v1/workspaces/{workspace}/change-sets/{changeSet}/components/{component}/parent", s.handleSetParent)
	mux.HandleFunc("DELETE /v1/workspaces/{workspace}/change-sets/{changeSet}/components/{component}/parent", s.handleOrphan)
	return loggingMiddleware(s.logger, mux)
}

func (s *server) health(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Version: s.cfg.Version, Clients: s.hub.ClientCount()}
	status := http.StatusOK

	stats, err := s.db.QueueStats(r.Context())
	if err != nil {
		resp.Status = "degraded"
		resp.Error = err.Error()
		status = http.StatusServiceUnavailable
	} else {
		resp.Queue = stats
	}

	writeJSON(w, status, resp)
}

// loggingMiddleware logs all requests.
func loggingMiddleware(logger *zap.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lw := &loggingResponseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(lw, r)
		logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", lw.status),
			zap.Duration("elapsed", time.Since(start)))
	})
}

type loggingResponseWriter struct {
	http.ResponseWriter
	status int
}

func (lw *loggingResponseWriter) WriteHeader(status int) {
	lw.status = status
	lw.ResponseWriter.WriteHeader(status)
}

// Hijack passes the websocket upgrade through to the underlying writer.
func (lw *loggingResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := lw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return h.Hijack()
}

func (lw *loggingResponseWriter) Unwrap() http.ResponseWriter {
	return lw.ResponseWriter
}
