// Package http serves the diagnostics API of the reminder daemon: probes,
// delivery stats (plain and streamed), obligation control and injection of
// power signals.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	appreminder "github.com/alem-hub/study-planner/internal/application/reminder"
	"github.com/alem-hub/study-planner/internal/domain/delivery"
	"github.com/alem-hub/study-planner/internal/domain/power"
	"github.com/alem-hub/study-planner/internal/domain/reminder"
	"github.com/alem-hub/study-planner/internal/interface/http/handlers"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

type Config struct {
	Host string
	Port int

	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	MaxHeaderBytes  int
	MaxBodyBytes    int64

	// RateLimitPerMinute is per client IP. Zero turns limiting off.
	RateLimitPerMinute int

	// APIKeys guard the control endpoints. Empty leaves them open.
	APIKeyHeader string
	APIKeys      []string

	// StreamKeepAlive is the period of SSE comment frames.
	StreamKeepAlive time.Duration

	Version string
}

// DefaultConfig binds to loopback: the API is meant for the local operator.
func DefaultConfig() Config {
	return Config{
		Host:               "127.0.0.1",
		Port:               8080,
		ReadTimeout:        15 * time.Second,
		WriteTimeout:       15 * time.Second,
		IdleTimeout:        time.Minute,
		ShutdownTimeout:    10 * time.Second,
		MaxHeaderBytes:     1 << 20,
		MaxBodyBytes:       64 << 10,
		RateLimitPerMinute: 120,
		APIKeyHeader:       "X-API-Key",
		StreamKeepAlive:    15 * time.Second,
		Version:            "dev",
	}
}

func (c Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// ══════════════════════════════════════════════════════════════════════════════
// DEPENDENCIES
// ══════════════════════════════════════════════════════════════════════════════

// StatsReader is the delivery ledger as seen by the API.
type StatsReader interface {
	ReadStats(ctx context.Context) (delivery.Stats, error)
	Subscribe(buffer int) (<-chan delivery.Stats, func())
}

// ReminderControl is the planner of the daily obligation.
type ReminderControl interface {
	State(ctx context.Context) reminder.Obligation
	Schedule(ctx context.Context) error
	Reschedule(ctx context.Context, spec string) error
	Cancel(ctx context.Context) error
	RequestImmediateCatchUp(ctx context.Context) (appreminder.CatchUpResult, error)
}

type SignalPublisher interface {
	Publish(ctx context.Context, t power.Transition) error
}

type PowerReader interface {
	State(ctx context.Context) (power.State, error)
}

// Dependencies left nil answer 501 on their routes.
type Dependencies struct {
	Stats    StatsReader
	Reminder ReminderControl
	Signals  SignalPublisher
	Power    PowerReader

	HealthChecker handlers.HealthChecker
	Logger        *slog.Logger
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVER
// ══════════════════════════════════════════════════════════════════════════════

type Server struct {
	config  Config
	deps    Dependencies
	logger  *slog.Logger
	handler http.Handler
	auth    *handlers.APIKeyAuth
	limiter *clientLimiter

	mu        sync.Mutex
	startedAt time.Time
}

func NewServer(config Config, deps Dependencies) *Server {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	s := &Server{config: config, deps: deps, logger: log.With("component", "http")}
	if len(config.APIKeys) > 0 {
		s.auth = handlers.NewAPIKeyAuth(config.APIKeyHeader, config.APIKeys)
	}
	if config.RateLimitPerMinute > 0 {
		s.limiter = newClientLimiter(config.RateLimitPerMinute)
	}

	mws := []handlers.Middleware{s.recoverPanics, handlers.SecurityHeadersMiddleware}
	if s.limiter != nil {
		mws = append(mws, s.limitRate)
	}
	mws = append(mws, s.tagRequest, s.logRequest)
	s.handler = handlers.Wrap(s.routes(), mws...)
	return s
}

// Handler is the routed handler with every middleware applied.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ready", s.handleReady)
	mux.HandleFunc("GET /live", s.handleLive)

	mux.HandleFunc("GET /api/v1/delivery/stats", s.handleGetStats)
	mux.HandleFunc("GET /api/v1/delivery/stats/stream", s.handleStreamStats)
	mux.HandleFunc("GET /api/v1/reminder", s.handleGetReminder)
	mux.HandleFunc("GET /api/v1/power", s.handleGetPower)

	mux.Handle("POST /api/v1/reminder/schedule", s.control(s.handleSchedule))
	mux.Handle("DELETE /api/v1/reminder", s.control(s.handleCancel))
	mux.Handle("POST /api/v1/reminder/catch-up", s.control(s.handleCatchUp))
	mux.Handle("POST /api/v1/power/signals", s.control(s.handlePowerSignal))
	return mux
}

// control guards a mutating endpoint with the API key, if any, and a body limit.
func (s *Server) control(h http.HandlerFunc) http.Handler {
	mws := []handlers.Middleware{}
	if s.auth != nil {
		mws = append(mws, s.auth.Middleware)
	}
	mws = append(mws, handlers.BodyLimit(s.config.MaxBodyBytes))
	return handlers.Wrap(h, mws...)
}

// Serve listens until ctx is cancelled, then drains connections within
// ShutdownTimeout.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Address())
	if err != nil {
		return fmt.Errorf("http listen: %w", err)
	}
	return s.serve(ctx, ln)
}

func (s *Server) serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: s.config.ReadTimeout,
		ReadTimeout:       s.config.ReadTimeout,
		WriteTimeout:      s.config.WriteTimeout,
		IdleTimeout:       s.config.IdleTimeout,
		MaxHeaderBytes:    s.config.MaxHeaderBytes,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	s.mu.Lock()
	s.startedAt = time.Now()
	s.mu.Unlock()
	s.logger.Info("http api listening", "address", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.config.ShutdownTimeout)
	defer cancel()
	s.logger.Info("http api shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

func (s *Server) Uptime() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.startedAt.IsZero() {
		return 0
	}
	return time.Since(s.startedAt)
}

// ══════════════════════════════════════════════════════════════════════════════
// MIDDLEWARE
// ══════════════════════════════════════════════════════════════════════════════

type ctxKey struct{}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

func (s *Server) tagRequest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, id)))
	})
}

func (s *Server) logRequest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		// Probes are noisy.
		level := slog.LevelDebug
		if strings.HasPrefix(r.URL.Path, "/api/") {
			level = slog.LevelInfo
		}
		s.logger.Log(r.Context(), level, "http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
			"ip", clientIP(r),
			"request_id", requestID(r.Context()),
		)
	})
}

func (s *Server) recoverPanics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if p := recover(); p != nil {
				if p == http.ErrAbortHandler {
					panic(p)
				}
				s.logger.Error("handler panic", "panic", p, "path", r.URL.Path, "stack", string(debug.Stack()))
				writeJSONError(w, http.StatusInternalServerError, "internal_server_error", "An unexpected error occurred")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) limitRate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.allow(clientIP(r)) {
			w.Header().Set("Retry-After", "60")
			writeJSONError(w, http.StatusTooManyRequests, "rate_limit_exceeded", "Too many requests, please try again later")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Unwrap exposes Flush and deadlines to http.ResponseController.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// clientLimiter hands out one token bucket per client IP.
type clientLimiter struct {
	mu      sync.Mutex
	buckets map[string]*rate.Limiter
	every   rate.Limit
	burst   int
}

const maxTrackedClients = 1024

func newClientLimiter(perMinute int) *clientLimiter {
	return &clientLimiter{
		buckets: make(map[string]*rate.Limiter),
		every:   rate.Every(time.Minute / time.Duration(perMinute)),
		burst:   perMinute,
	}
}

func (l *clientLimiter) allow(ip string) bool {
	l.mu.Lock()
	b, ok := l.buckets[ip]
	if !ok {
		if len(l.buckets) >= maxTrackedClients {
			clear(l.buckets)
		}
		b = rate.NewLimiter(l.every, l.burst)
		l.buckets[ip] = b
	}
	l.mu.Unlock()
	return b.Allow()
}

// ══════════════════════════════════════════════════════════════════════════════
// RESPONSES
// ══════════════════════════════════════════════════════════════════════════════

// JSONResponse is the envelope of every handler reply.
type JSONResponse struct {
	Success bool          `json:"success"`
	Data    any           `json:"data,omitempty"`
	Error   *APIError     `json:"error,omitempty"`
	Meta    *ResponseMeta `json:"meta,omitempty"`
}

type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ResponseMeta struct {
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version,omitempty"`
}

func writeEnvelope(w http.ResponseWriter, status int, body JSONResponse) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	writeEnvelope(w, status, JSONResponse{
		Success: status >= 200 && status < 300,
		Data:    data,
		Meta:    &ResponseMeta{Timestamp: time.Now().UTC(), Version: "v1"},
	})
}

func writeJSONError(w http.ResponseWriter, status int, code, message string) {
	writeEnvelope(w, status, JSONResponse{
		Error: &APIError{Code: code, Message: message},
		Meta:  &ResponseMeta{Timestamp: time.Now().UTC()},
	})
}
