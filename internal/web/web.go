package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"elvcal/internal/clock"
	"elvcal/internal/config"
	"elvcal/internal/elvanto"
	appLog "elvcal/internal/log"
	"elvcal/internal/metrics"
	"elvcal/internal/model"
	"elvcal/internal/refresh"
)

// Refresher is the part of *refresh.Refresher the HTTP layer uses.
type Refresher interface {
	Run(ctx context.Context, apiKey string) refresh.Result
	Snapshot(ctx context.Context) (model.Snapshot, error)
}

// ConnectionTester is implemented by *elvanto.Client.
type ConnectionTester interface {
	TestConnection(ctx context.Context, apiKey string, win model.Window) (elvanto.ConnectionReport, error)
}

// Server provides the read API over the persisted snapshot plus the
// operator actions (manual refresh, connection test).
type Server struct {
	cfg       *config.Config
	refresher Refresher
	tester    ConnectionTester
	clock     clock.Clock
	next      func() time.Time
	router    chi.Router

	// Serialized calendar feed, rebuilt when the snapshot changes.
	feedMu    sync.RWMutex
	feedCache *feedCache
}

type feedCache struct {
	refreshedAt time.Time
	body        string
}

// Option configures a Server.
type Option func(*Server)

// WithNextRefresh reports the next scheduled run in /api/status.
func WithNextRefresh(fn func() time.Time) Option {
	return func(s *Server) { s.next = fn }
}

// NewServer constructs a new Server.
func NewServer(cfg *config.Config, r Refresher, t ConnectionTester, c clock.Clock, opts ...Option) *Server {
	s := &Server{
		cfg:       cfg,
		refresher: r,
		tester:    t,
		clock:     c,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.registerRoutes()
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) registerRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		r.Use(s.basicAuthMiddleware)
	}

	r.Get("/health", s.handleHealth)
	r.Get("/metrics", metrics.Handler().ServeHTTP)
	r.Get("/calendar.ics", s.handleFeed)

	r.Route("/api", func(r chi.Router) {
		r.Get("/events", s.handleEvents)
		r.Get("/cards", s.handleCards)
		r.Get("/status", s.handleStatus)
		r.Get("/diagnostics", s.handleDiagnostics)
		r.Post("/refresh", s.handleRefresh)
		r.Post("/test", s.handleTest)
	})

	s.router = r
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// basicAuthMiddleware guards every route except /health.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="elvcal", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := ""
		if rc := chi.RouteContext(r.Context()); rc != nil {
			route = rc.RoutePattern()
		}
		appLog.Debug("http request",
			"method", r.Method,
			"route", route,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
		)
	})
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
