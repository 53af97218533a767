// Package api serves the operational HTTP API: health, version,
// scheduler status, the tool catalog, usage totals, and a WebSocket
// stream of bus events.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/nugget/vercade/internal/buildinfo"
	"github.com/nugget/vercade/internal/events"
	"github.com/nugget/vercade/internal/scheduler"
	"github.com/nugget/vercade/internal/tools"
	"github.com/nugget/vercade/internal/usage"
)

// writeJSON encodes v as JSON to w, logging any errors at debug level.
// Errors here typically mean the client disconnected mid-response.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

// StatusSource reports what the scheduler is doing.
type StatusSource interface {
	Snapshot() scheduler.Status
}

// ToolLister lists the tool catalog.
type ToolLister interface {
	List() []*tools.Tool
}

// UsageReporter summarizes the usage ledger.
type UsageReporter interface {
	Summary(ctx context.Context, start, end time.Time) (*usage.Summary, error)
	SummaryByModel(ctx context.Context, start, end time.Time) (map[string]*usage.Summary, error)
	SummaryByTrigger(ctx context.Context, start, end time.Time) (map[string]*usage.Summary, error)
	Outcomes(ctx context.Context, start, end time.Time) (map[string]int, error)
}

// Config configures a Server. Any source may be nil; its endpoint then
// answers 503.
type Config struct {
	Address   string
	Port      int
	Scheduler StatusSource
	Tools     ToolLister
	Usage     UsageReporter
	Events    *events.Bus
	Logger    *slog.Logger
}

// Server is the HTTP API server.
type Server struct {
	cfg    Config
	logger *slog.Logger
	server *http.Server
}

// NewServer creates an API server. It does not listen until Start.
func NewServer(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Server{cfg: cfg, logger: cfg.Logger.With("component", "api")}
}

// Handler returns the routed handler with request logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /v1/version", s.handleVersion)
	mux.HandleFunc("GET /v1/status", s.handleStatus)
	mux.HandleFunc("GET /v1/tools", s.handleTools)
	mux.HandleFunc("GET /v1/usage", s.handleUsage)
	mux.HandleFunc("GET /v1/events", s.handleEvents)
	return s.withLogging(mux)
}

// Start serves until Shutdown. It returns nil after a clean shutdown.
func (s *Server) Start(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Address, strconv.Itoa(s.cfg.Port))
	s.server = &http.Server{
		Addr:        addr,
		Handler:     s.Handler(),
		ReadTimeout: 30 * time.Second,
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	s.logger.Info("starting API server", "address", addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

func (s *Server) errorResponse(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{"message": message, "code": code},
	}); err != nil {
		s.logger.Debug("failed to write error response", "error", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]string{"status": "healthy"}, s.logger)
}

func (s *Server) handleVersion(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, buildinfo.Info(), s.logger)
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	if s.cfg.Scheduler == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "scheduler not configured")
		return
	}
	report := statusReport{Status: s.cfg.Scheduler.Snapshot()}
	if s.cfg.Events != nil {
		report.EventSubscribers = s.cfg.Events.Subscribers()
	}
	writeJSON(w, report, s.logger)
}

// statusReport is the body of GET /v1/status.
type statusReport struct {
	scheduler.Status
	EventSubscribers int `json:"event_subscribers"`
}

type toolInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Source      string `json:"source"`
}

func (s *Server) handleTools(w http.ResponseWriter, _ *http.Request) {
	if s.cfg.Tools == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "tools not configured")
		return
	}
	list := s.cfg.Tools.List()
	out := make([]toolInfo, 0, len(list))
	for _, t := range list {
		out = append(out, toolInfo{Name: t.Name, Description: t.Description, Source: t.Source})
	}
	writeJSON(w, map[string]any{"tools": out, "count": len(out)}, s.logger)
}

// usageReport is the body of GET /v1/usage.
type usageReport struct {
	Hours     int                       `json:"hours"`
	Total     *usage.Summary            `json:"total"`
	ByModel   map[string]*usage.Summary `json:"by_model"`
	ByTrigger map[string]*usage.Summary `json:"by_trigger"`
	Outcomes  map[string]int            `json:"outcomes"`
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Usage == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "usage ledger not configured")
		return
	}
	hours := parseIntParam(r, "hours", 24)
	if hours <= 0 {
		s.errorResponse(w, http.StatusBadRequest, "hours must be positive")
		return
	}
	end := time.Now()
	start := end.Add(-time.Duration(hours) * time.Hour)

	report := usageReport{Hours: hours}
	var err error
	if report.Total, err = s.cfg.Usage.Summary(r.Context(), start, end); err == nil {
		if report.ByModel, err = s.cfg.Usage.SummaryByModel(r.Context(), start, end); err == nil {
			if report.ByTrigger, err = s.cfg.Usage.SummaryByTrigger(r.Context(), start, end); err == nil {
				report.Outcomes, err = s.cfg.Usage.Outcomes(r.Context(), start, end)
			}
		}
	}
	if err != nil {
		s.logger.Warn("usage query failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "usage query failed")
		return
	}
	writeJSON(w, report, s.logger)
}

func parseIntParam(r *http.Request, name string, defaultVal int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return n
}
