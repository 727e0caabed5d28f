// Package api implements the assistant's HTTP surface: the chat and
// voice endpoints, the task CRUD routes, the browser pages, health and
// version probes, Prometheus metrics, and the live events websocket.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/taskmate-ai/taskmate/internal/agent"
	"github.com/taskmate-ai/taskmate/internal/buildinfo"
	"github.com/taskmate-ai/taskmate/internal/events"
	"github.com/taskmate-ai/taskmate/internal/health"
	"github.com/taskmate-ai/taskmate/internal/metrics"
	"github.com/taskmate-ai/taskmate/internal/tasks"
	"github.com/taskmate-ai/taskmate/internal/web"
)

// DefaultMaxUploadBytes bounds a voice upload.
const DefaultMaxUploadBytes = 25 << 20

// DefaultWriteTimeout is used until SetWriteTimeout is called.
const DefaultWriteTimeout = 180 * time.Second

// writeJSON encodes v as JSON to w, logging any errors at debug level.
// Errors here typically mean the client disconnected mid-response.
func writeJSON(w http.ResponseWriter, code int, v any, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

// Chatter answers a chat request. *agent.Loop satisfies it.
type Chatter interface {
	Run(ctx context.Context, req *agent.Request) (*agent.Response, error)
}

// HealthReporter exposes dependency state. *health.Monitor satisfies it.
type HealthReporter interface {
	Status() []health.Status
	Healthy() bool
}

// Server is the HTTP API server.
type Server struct {
	address   string
	port      int
	chat      Chatter
	voice     VoiceService
	tasks     *tasks.Handler
	web       *web.WebServer
	metrics   *metrics.Metrics
	events    *events.Bus
	health    HealthReporter
	logger    *slog.Logger
	maxUpload int64
	writeWait time.Duration
	newUserID func() string
	server    *http.Server
}

// NewServer creates an API server answering chat through chat.
func NewServer(address string, port int, chat Chatter, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		address:   address,
		port:      port,
		chat:      chat,
		logger:    logger.With("component", "api"),
		maxUpload: DefaultMaxUploadBytes,
		writeWait: DefaultWriteTimeout,
		newUserID: func() string { return "guest_" + uuid.NewString() },
	}
}

// SetVoice enables the /voice endpoints.
func (s *Server) SetVoice(v VoiceService) { s.voice = v }

// SetTasks mounts the task CRUD routes.
func (s *Server) SetTasks(h *tasks.Handler) { s.tasks = h }

// SetWeb mounts the browser pages under /ui/.
func (s *Server) SetWeb(ws *web.WebServer) { s.web = ws }

// SetMetrics records HTTP and chat metrics and serves /metrics.
func (s *Server) SetMetrics(m *metrics.Metrics) { s.metrics = m }

// SetEventBus enables the /v1/events websocket.
func (s *Server) SetEventBus(bus *events.Bus) { s.events = bus }

// SetHealth adds dependency state to /health.
func (s *Server) SetHealth(h HealthReporter) { s.health = h }

// SetMaxUploadBytes bounds voice uploads. Non-positive values keep the
// default.
func (s *Server) SetMaxUploadBytes(n int64) {
	if n > 0 {
		s.maxUpload = n
	}
}

// SetWriteTimeout bounds how long a response may take, which must cover
// the slowest chat run. Non-positive values keep the default.
func (s *Server) SetWriteTimeout(d time.Duration) {
	if d > 0 {
		s.writeWait = d
	}
}

// Handler returns the full route table wrapped in access logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /chat", s.handleChat)

	mux.HandleFunc("POST /voice/transcribe", s.handleTranscribe)
	mux.HandleFunc("POST /voice/speak", s.handleSpeak)
	mux.HandleFunc("POST /voice/chat", s.handleVoiceChat)

	if s.tasks != nil {
		s.tasks.Register(mux)
	}
	if s.web != nil {
		s.web.RegisterRoutes(mux)
	}

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /version", s.handleVersion)
	mux.Handle("GET /metrics", s.metrics.Handler())
	mux.HandleFunc("GET /v1/events", s.handleEvents)
	mux.HandleFunc("GET /{$}", s.handleRoot)

	return s.withLogging(mux)
}

// Start serves until the listener fails or Shutdown is called. It
// returns nil after a clean shutdown.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.address, s.port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      s.writeWait,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	addr := s.address
	if addr == "" {
		addr = "0.0.0.0"
	}
	s.logger.Info("starting API server", "address", addr, "port", s.port)
	if err := s.server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
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

// statusRecorder captures the response status for the access log. It
// passes Hijack through so websocket upgrades work behind it.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)

		status := rec.status
		if status == 0 {
			status = http.StatusOK
		}
		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		elapsed := time.Since(start)
		s.metrics.ObserveHTTP(r.Method, route, status, elapsed)

		level := slog.LevelInfo
		if route == "GET /health" || route == "GET /metrics" {
			level = slog.LevelDebug
		}
		s.logger.Log(r.Context(), level, "request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"duration", elapsed.Round(time.Millisecond),
		)
	})
}

func (s *Server) errorResponse(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, map[string]string{"error": message}, s.logger)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"name":    "Taskmate",
		"version": buildinfo.Version,
		"status":  "ok",
	}, s.logger)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, buildinfo.RuntimeInfo(), s.logger)
}

// handleHealth always answers 200 while the process serves. A down
// dependency turns the status to "degraded".
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"status": "healthy"}
	if s.health != nil {
		resp["dependencies"] = s.health.Status()
		if !s.health.Healthy() {
			resp["status"] = "degraded"
		}
	}
	writeJSON(w, http.StatusOK, resp, s.logger)
}
