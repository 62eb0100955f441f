// Package server is the HTTP and websocket gateway for browser shells. Each
// websocket connection gets its own conversation controller, with speech
// bridged to the browser.
package server

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/normanking/saathi/internal/bridge"
	"github.com/normanking/saathi/internal/bus"
	"github.com/normanking/saathi/internal/config"
	"github.com/normanking/saathi/internal/intent"
	"github.com/normanking/saathi/internal/logging"
	"github.com/normanking/saathi/internal/metrics"
	"github.com/normanking/saathi/internal/stt"
	"github.com/normanking/saathi/internal/tts"
	"github.com/normanking/saathi/internal/voice"
)

//go:embed web/*
var webFiles embed.FS

// Server represents the HTTP server
type Server struct {
	mu           sync.RWMutex
	cfg          *config.Config
	responder    *intent.Responder
	quickActions []string
	sessions     *Manager
	upgrader     websocket.Upgrader
	handler      http.Handler
	httpServer   *http.Server
	version      string
	startTime    time.Time
	logger       zerolog.Logger
	logs         *logging.Logger
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string                   `json:"status"`
	Version   string                   `json:"version"`
	Uptime    string                   `json:"uptime"`
	Sessions  int                      `json:"sessions"`
	Services  map[string]ServiceHealth `json:"services"`
	Timestamp string                   `json:"timestamp"`
}

// ServiceHealth represents a service health status
type ServiceHealth struct {
	Healthy bool   `json:"healthy"`
	Message string `json:"message,omitempty"`
}

// TopicsResponse lists the intent table
type TopicsResponse struct {
	Topics   []intent.Topic `json:"topics"`
	Fallback string         `json:"fallback"`
}

// QuickActionsResponse lists the preset prompts
type QuickActionsResponse struct {
	QuickActions []string `json:"quick_actions"`
}

// New creates a new HTTP server
func New(cfg *config.Config, responder *intent.Responder, version string, logger zerolog.Logger) *Server {
	if responder == nil {
		responder = intent.DefaultResponder()
	}

	s := &Server{
		cfg:          cfg,
		responder:    responder,
		quickActions: intent.QuickActions(),
		sessions:     NewManager(),
		version:      version,
		startTime:    time.Now(),
		logger:       logger.With().Str("component", "server").Logger(),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.healthHandler)
	mux.HandleFunc("/api/quick-actions", s.quickActionsHandler)
	mux.HandleFunc("/api/topics", s.topicsHandler)
	mux.HandleFunc("/api/logs", s.logsHandler)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ws", s.wsHandler)
	mux.HandleFunc("/", s.webUIHandler)
	s.handler = mux

	s.httpServer = &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// AttachLogs exposes the application log to browser shells: recent entries
// at /api/logs, and shell "log" frames written through it.
func (s *Server) AttachLogs(l *logging.Logger) {
	s.mu.Lock()
	s.logs = l
	s.mu.Unlock()

	l.SetOnLog(func(e logging.LogEntry) {
		metrics.LogEntries.WithLabelValues(e.Level).Inc()
	})
}

func (s *Server) logSource() *logging.Logger {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.logs
}

// Handler returns the root handler
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Sessions returns the connected session registry
func (s *Server) Sessions() *Manager {
	return s.sessions
}

// UpdateConfig swaps the configuration used for new sessions
func (s *Server) UpdateConfig(cfg *config.Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
}

func (s *Server) config() *config.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.httpServer.Addr).Msg("HTTP server starting")
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully shuts down the HTTP server and closes open sessions
func (s *Server) Shutdown(ctx context.Context) error {
	s.sessions.CloseAll()
	return s.httpServer.Shutdown(ctx)
}

// checkOrigin accepts same-host origins, configured origins, and clients that
// send no Origin header at all.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.config().Server.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	u, err := url.Parse(origin)
	return err == nil && strings.EqualFold(u.Host, r.Host)
}

// healthHandler handles health check requests
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	services := map[string]ServiceHealth{
		"http":   {Healthy: true, Message: "HTTP server running"},
		"intent": {Healthy: true, Message: fmt.Sprintf("%d topics", len(s.responder.Topics()))},
	}

	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "healthy",
		Version:   s.version,
		Uptime:    time.Since(s.startTime).Round(time.Second).String(),
		Sessions:  s.sessions.Count(),
		Services:  services,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) quickActionsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, QuickActionsResponse{QuickActions: s.quickActions})
}

func (s *Server) topicsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, TopicsResponse{
		Topics:   s.responder.Topics(),
		Fallback: s.responder.Fallback(),
	})
}

// logsHandler returns recent log entries, oldest first. ?limit=N caps the
// count (default 100).
func (s *Server) logsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	resp := LogsResponse{Entries: []logging.LogEntry{}}
	if l := s.logSource(); l != nil {
		resp.Entries = l.GetHistory(limit)
	}
	writeJSON(w, http.StatusOK, resp)
}

// webUIHandler serves the embedded browser shell
func (s *Server) webUIHandler(w http.ResponseWriter, r *http.Request) {
	if strings.HasPrefix(r.URL.Path, "/api") {
		http.NotFound(w, r)
		return
	}
	sub, err := fs.Sub(webFiles, "web")
	if err != nil {
		http.Error(w, "Static files not available", http.StatusNotFound)
		return
	}
	path := strings.TrimPrefix(r.URL.Path, "/")
	if path == "" {
		path = "index.html"
	}
	if _, err := fs.Stat(sub, path); err != nil {
		http.NotFound(w, r)
		return
	}
	http.FileServer(http.FS(sub)).ServeHTTP(w, r)
}

// wsHandler runs one browser session. The first frame must be a hello
// announcing the browser's speech capabilities; they are fixed for the life
// of the session.
func (s *Server) wsHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("WebSocket upgrade failed")
		return
	}

	cfg := s.config()
	hello, err := readHello(conn, cfg.Server.HelloTimeout)
	if err != nil {
		s.logger.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("Rejected connection")
		msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "hello required")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		_ = conn.Close()
		return
	}

	sess := newSession(conn, s.quickActions, s.logger)
	sess.logs = s.logSource()
	sess.browser.SetHello(hello)

	eventBus := bus.NewEventBus()
	out := tts.NewEngine(sess.browser.Speech(), voice.SpeechConfigFrom(cfg), sess.logger)
	in := stt.NewEngine(sess.browser.Recognition(), voice.Language(cfg), sess.logger)
	sess.ctrl = voice.NewController(voice.ConfigFrom(cfg), s.responder, out, in, eventBus, sess.logger)
	eventBus.Subscribe(bus.EventTypeSnapshot, func(ev bus.Event) {
		if snap, ok := ev.Data["snapshot"].(voice.Snapshot); ok {
			sess.sendSnapshot(snap)
		}
	})
	eventBus.SubscribeMultiple([]bus.EventType{
		bus.EventTypeMessageAppended,
		bus.EventTypeListeningStarted,
		bus.EventTypeListeningStopped,
		bus.EventTypeSpeakingStarted,
		bus.EventTypeSpeakingStopped,
		bus.EventTypeNotice,
		bus.EventTypeReset,
	}, func(ev bus.Event) {
		sess.logger.Debug().Str("event", string(ev.Type)).Fields(ev.Data).Msg("Conversation event")
	})

	s.sessions.Add(sess)
	defer s.sessions.Remove(sess.ID)
	sess.logger.Info().Str("remote", r.RemoteAddr).Str("userAgent", hello.UserAgent).Msg("Session opened")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go sess.writeLoop()
	sess.send(FrameWelcome, WelcomePayload{
		Session:      sess.ID,
		Version:      s.version,
		QuickActions: s.quickActions,
	})
	sess.sendSnapshot(sess.ctrl.Snapshot())
	sess.ctrl.Start(ctx)

	sess.readLoop()

	sess.ctrl.Stop()
	eventBus.Clear()
	sess.Close()
	sess.logger.Info().Dur("duration", time.Since(sess.CreatedAt)).Msg("Session closed")
}

func readHello(conn *websocket.Conn, timeout time.Duration) (bridge.Hello, error) {
	var hello bridge.Hello
	if timeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(timeout))
	}
	var f bridge.Frame
	if err := conn.ReadJSON(&f); err != nil {
		return hello, fmt.Errorf("read hello: %w", err)
	}
	if f.Type != bridge.FrameHello {
		return hello, fmt.Errorf("expected hello, got %q", f.Type)
	}
	if err := f.Decode(&hello); err != nil {
		return hello, err
	}
	_ = conn.SetReadDeadline(time.Time{})
	return hello, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
