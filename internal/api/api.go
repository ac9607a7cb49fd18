package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stagelink/chatbot/internal/agent"
	"github.com/stagelink/chatbot/internal/flow"
	"github.com/stagelink/chatbot/internal/models"
	"github.com/stagelink/chatbot/internal/store"
)

// maxRequestBody bounds inbound turn payloads; the opaque state plus one
// message fits comfortably.
const maxRequestBody = 64 << 10

// Server routes chat turns to the flows and serves the operational
// endpoints.
type Server struct {
	menu     flow.Flow
	open     flow.Flow
	engine   *agent.Engine
	usage    store.UsageStore
	registry *prometheus.Registry
	webhooks map[string]http.HandlerFunc
	mux      *http.ServeMux
}

// Option configures the Server.
type Option func(*Server)

// WithUsageStore enables the usage audit endpoints.
func WithUsageStore(s store.UsageStore) Option {
	return func(srv *Server) { srv.usage = s }
}

// WithMetricsRegistry serves /metrics from the given registry.
func WithMetricsRegistry(r *prometheus.Registry) Option {
	return func(srv *Server) { srv.registry = r }
}

// WithWebhook mounts an inbound webhook handler, such as the Twilio message
// callback, at the given path.
func WithWebhook(path string, handler http.HandlerFunc) Option {
	return func(srv *Server) {
		if srv.webhooks == nil {
			srv.webhooks = make(map[string]http.HandlerFunc)
		}
		srv.webhooks[path] = handler
	}
}

// NewServer wires the HTTP surface. engine may be nil when the open flow is
// disabled; report downloads then 404.
func NewServer(menu, open flow.Flow, engine *agent.Engine, opts ...Option) *Server {
	s := &Server{menu: menu, open: open, engine: engine, mux: http.NewServeMux()}
	for _, opt := range opts {
		opt(s)
	}

	s.mux.HandleFunc("/chat/menu", s.handleTurn(s.menu))
	s.mux.HandleFunc("/chat/open", s.handleTurn(s.open))
	s.mux.HandleFunc("/chat/report/", s.handleReport)
	s.mux.HandleFunc("/usage/recent", s.handleUsageRecent)
	s.mux.HandleFunc("/usage/totals", s.handleUsageTotals)
	s.mux.HandleFunc("/health", s.handleHealth)
	if s.registry != nil {
		s.mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	}
	for path, handler := range s.webhooks {
		s.mux.HandleFunc(path, handler)
	}
	return s
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Run serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server.Run: listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// handleTurn adapts one flow to HTTP: decode TurnRequest, process, encode
// TurnResponse. Flow-level failures still return 200 with Success false;
// only malformed requests are HTTP errors.
func (s *Server) handleTurn(f flow.Flow) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeJSONError(w, http.StatusMethodNotAllowed, "use POST")
			return
		}
		var req models.TurnRequest
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
		if err := dec.Decode(&req); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		resp := f.ProcessTurn(r.Context(), req)
		writeJSONResponse(w, http.StatusOK, resp)
	}
}

// handleReport serves the raw entries behind a generated report token.
func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "use GET")
		return
	}
	token := strings.TrimPrefix(r.URL.Path, "/chat/report/")
	if token == "" || s.engine == nil {
		writeJSONError(w, http.StatusNotFound, "report not found")
		return
	}
	entries, ok := s.engine.Executor().Report(token)
	if !ok {
		writeJSONError(w, http.StatusNotFound, "report not found or expired")
		return
	}
	writeJSONResponse(w, http.StatusOK, entries)
}

func (s *Server) handleUsageRecent(w http.ResponseWriter, r *http.Request) {
	if s.usage == nil {
		writeJSONError(w, http.StatusNotFound, "usage store not configured")
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}
	recs, err := s.usage.RecentUsage(r.Context(), limit)
	if err != nil {
		slog.Error("Server.handleUsageRecent: query failed", "error", err)
		writeJSONError(w, http.StatusInternalServerError, "failed to query usage")
		return
	}
	if recs == nil {
		recs = []models.UsageRecord{}
	}
	writeJSONResponse(w, http.StatusOK, recs)
}

func (s *Server) handleUsageTotals(w http.ResponseWriter, r *http.Request) {
	if s.usage == nil {
		writeJSONError(w, http.StatusNotFound, "usage store not configured")
		return
	}
	since := time.Now().Add(-24 * time.Hour)
	if v := r.URL.Query().Get("since"); v != "" {
		parsed, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "since must be RFC 3339")
			return
		}
		since = parsed
	}
	totals, err := s.usage.UsageTotals(r.Context(), since)
	if err != nil {
		slog.Error("Server.handleUsageTotals: query failed", "error", err)
		writeJSONError(w, http.StatusInternalServerError, "failed to aggregate usage")
		return
	}
	writeJSONResponse(w, http.StatusOK, totals)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSONResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}
