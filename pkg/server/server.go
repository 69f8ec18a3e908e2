// Package server exposes the support handler over HTTP.
//
// Endpoints:
//   - POST /api/chat          answer a query
//   - GET  /api/chat/stream   answer a query as server-sent events
//   - GET  /api/stats         running statistics and backend health
//   - POST /api/reset-stats   zero the statistics
//   - GET  /api/health        healthy if any backend is reachable
//   - GET  /api/intents       supported intents with example queries
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/zen-systems/supportgate/pkg/config"
	"github.com/zen-systems/supportgate/pkg/invoker"
	"github.com/zen-systems/supportgate/pkg/orchestrator"
	"github.com/zen-systems/supportgate/pkg/router"
	"github.com/zen-systems/supportgate/pkg/stats"
)

const maxRequestBodySize = 1 << 20

// Handler answers queries.
type Handler interface {
	Handle(ctx context.Context, text string) *orchestrator.Result
	Stream(ctx context.Context, text string) <-chan orchestrator.StreamEvent
}

// StatsSource exposes the running statistics.
type StatsSource interface {
	Snapshot() stats.RunningStats
	Reset()
}

// HealthChecker probes backends.
type HealthChecker interface {
	Health(ctx context.Context) []invoker.BackendHealth
}

// Server is the HTTP surface.
type Server struct {
	handler Handler
	stats   StatsSource
	health  HealthChecker
	routes  []router.RouteInfo
	cfg     config.ServerConfig
	logf    func(format string, args ...any)
	mux     *http.ServeMux
	srv     *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithLogger overrides the server logger.
func WithLogger(logf func(format string, args ...any)) Option {
	return func(s *Server) {
		if logf != nil {
			s.logf = logf
		}
	}
}

// WithRoutes sets the intents listed by /api/intents.
func WithRoutes(routes []router.RouteInfo) Option {
	return func(s *Server) {
		s.routes = routes
	}
}

// New creates a server.
func New(h Handler, st StatsSource, hc HealthChecker, cfg config.ServerConfig, opts ...Option) *Server {
	s := &Server{
		handler: h,
		stats:   st,
		health:  hc,
		cfg:     cfg,
		logf:    log.Printf,
		mux:     http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("POST /api/chat", s.handleChat)
	s.mux.HandleFunc("GET /api/chat/stream", s.handleChatStream)
	s.mux.HandleFunc("GET /api/stats", s.handleStats)
	s.mux.HandleFunc("POST /api/reset-stats", s.handleResetStats)
	s.mux.HandleFunc("GET /api/health", s.handleHealth)
	s.mux.HandleFunc("GET /api/intents", s.handleIntents)
}

// Handler returns the mux wrapped in recovery, logging and rate limiting.
func (s *Server) Handler() http.Handler {
	middlewares := []Middleware{
		RecoveryMiddleware(s.logf),
		LoggingMiddleware(s.logf),
	}
	if s.cfg.RateLimit > 0 {
		middlewares = append(middlewares, RateLimitMiddleware(NewRateLimiter(s.cfg.RateLimit, s.cfg.Burst), s.logf))
	}
	return Chain(middlewares...)(s.mux)
}

// ListenAndServe serves until Shutdown is called.
func (s *Server) ListenAndServe() error {
	s.srv = &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	s.logf("[server] listening on %s", s.cfg.Addr)
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	s.logf("[server] shutting down")
	return s.srv.Shutdown(ctx)
}

type chatRequest struct {
	Message string `json:"message"`
}

type chatResponse struct {
	Response      string  `json:"response"`
	Intent        string  `json:"intent"`
	Confidence    float64 `json:"confidence"`
	ModelUsed     string  `json:"model_used"`
	ResponseTime  float64 `json:"response_time"`
	RoutingReason string  `json:"routing_reason"`
	QueryID       string  `json:"query_id"`
	TokenCount    int     `json:"token_count"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	res := s.handler.Handle(r.Context(), req.Message)
	if res.Err != nil {
		s.writeFailure(w, res.Err)
		return
	}
	writeJSON(w, http.StatusOK, chatResponse{
		Response:      res.Response.Text,
		Intent:        string(res.Intent.Label),
		Confidence:    res.Intent.Confidence,
		ModelUsed:     res.ModelUsed(),
		ResponseTime:  res.ResponseTime(),
		RoutingReason: string(res.Decision.Reason),
		QueryID:       res.Query.ID,
		TokenCount:    res.Response.TokenCount,
	})
}

// writeFailure maps the error taxonomy onto HTTP. A canceled request gets no
// body because the client is gone.
func (s *Server) writeFailure(w http.ResponseWriter, e *orchestrator.Error) {
	switch e.Kind {
	case orchestrator.KindBadRequest:
		writeError(w, http.StatusBadRequest, e.Message)
	case orchestrator.KindCanceled:
	default:
		writeError(w, http.StatusServiceUnavailable, e.Message)
	}
}

type streamDone struct {
	Done          bool    `json:"done"`
	Intent        string  `json:"intent"`
	Confidence    float64 `json:"confidence"`
	ModelUsed     string  `json:"model_used"`
	ResponseTime  float64 `json:"response_time"`
	RoutingReason string  `json:"routing_reason"`
	QueryID       string  `json:"query_id"`
}

func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	events := s.handler.Stream(r.Context(), r.URL.Query().Get("message"))

	first, open := <-events
	if !open {
		return
	}
	if first.Err != nil && first.Err.Kind == orchestrator.KindBadRequest {
		writeError(w, http.StatusBadRequest, first.Err.Message)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	ev := first
	for {
		switch {
		case ev.Err != nil:
			if ev.Err.Kind != orchestrator.KindCanceled {
				writeEvent(w, flusher, map[string]string{"error": ev.Err.Message})
			}
		case ev.Done:
			res := ev.Meta
			writeEvent(w, flusher, streamDone{
				Done:          true,
				Intent:        string(res.Intent.Label),
				Confidence:    res.Intent.Confidence,
				ModelUsed:     res.ModelUsed(),
				ResponseTime:  res.ResponseTime(),
				RoutingReason: string(res.Decision.Reason),
				QueryID:       res.Query.ID,
			})
		default:
			writeEvent(w, flusher, map[string]string{"chunk": ev.Chunk})
		}

		if ev, open = <-events; !open {
			return
		}
	}
}

func writeEvent(w http.ResponseWriter, flusher http.Flusher, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
	flusher.Flush()
}

type statsResponse struct {
	Stats    stats.RunningStats               `json:"stats"`
	Backends map[string]invoker.BackendHealth `json:"backends"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	resp := statsResponse{
		Stats:    s.stats.Snapshot(),
		Backends: make(map[string]invoker.BackendHealth),
	}
	if s.health != nil {
		for _, h := range s.health.Health(r.Context()) {
			resp.Backends[h.ID] = h
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleResetStats(w http.ResponseWriter, r *http.Request) {
	s.stats.Reset()
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Statistics reset",
	})
}

type healthResponse struct {
	Status    string                  `json:"status"`
	Backends  []invoker.BackendHealth `json:"backends"`
	Timestamp time.Time               `json:"timestamp"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	var backends []invoker.BackendHealth
	if s.health != nil {
		backends = s.health.Health(r.Context())
	}
	status := "degraded"
	if invoker.AnyHealthy(backends) {
		status = "healthy"
	}
	writeJSON(w, http.StatusOK, healthResponse{
		Status:    status,
		Backends:  backends,
		Timestamp: time.Now().UTC(),
	})
}

type intentInfo struct {
	Intent        string   `json:"intent"`
	Description   string   `json:"description"`
	Examples      []string `json:"examples"`
	ResponseStyle string   `json:"response_style,omitempty"`
	Priority      string   `json:"priority,omitempty"`
}

func (s *Server) handleIntents(w http.ResponseWriter, r *http.Request) {
	intents := make([]intentInfo, 0, len(s.routes))
	for _, route := range s.routes {
		intents = append(intents, intentInfo{
			Intent:        string(route.Label),
			Description:   route.Description,
			Examples:      route.Examples,
			ResponseStyle: strings.ReplaceAll(route.ResponseStyle, "_", " "),
			Priority:      route.Priority,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"intents": intents})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
