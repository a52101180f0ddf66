// Package server accepts caller WebSocket connections and runs one pipeline
// and orchestrator per call.
package server

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voiceline-ai/voiceline/pkg/asr"
	"github.com/voiceline-ai/voiceline/pkg/config"
	"github.com/voiceline-ai/voiceline/pkg/intent"
	"github.com/voiceline-ai/voiceline/pkg/knowledge"
	"github.com/voiceline-ai/voiceline/pkg/metrics"
	"github.com/voiceline-ai/voiceline/pkg/store"
	"github.com/voiceline-ai/voiceline/pkg/tts"
)

// Config holds the server's listening and admission settings.
type Config struct {
	// Addr is the address to listen on (e.g., ":8080").
	Addr string

	// Path is the call WebSocket endpoint path.
	Path string

	// MetricsPath serves the Prometheus scrape endpoint. Empty disables it.
	MetricsPath string

	// AuthToken is the bearer token for authentication.
	// If empty, authentication is disabled.
	AuthToken string

	// MaxSessionsPerIP limits calls per IP address. 0 means no limit.
	MaxSessionsPerIP int

	// SessionTimeout is the maximum call duration. 0 means no timeout.
	SessionTimeout time.Duration

	// SampleRate of caller audio in Hz.
	SampleRate int

	ReadBufferSize  int
	WriteBufferSize int
}

// DefaultConfig returns the default server configuration.
func DefaultConfig() *Config {
	return &Config{
		Addr:             ":8080",
		Path:             "/v1/calls",
		MetricsPath:      "/metrics",
		MaxSessionsPerIP: 10,
		SessionTimeout:   30 * time.Minute,
		SampleRate:       16000,
		ReadBufferSize:   4096,
		WriteBufferSize:  4096,
	}
}

// Deps are the provider constructors and shared services a call wires in.
// Constructors run per call because each tenant configures its own models.
type Deps struct {
	Store     store.Store
	Retriever knowledge.Retriever

	NewASRProvider func(cfg config.ASRConfig) (asr.Provider, error)
	NewTTSProvider func(cfg config.TTSConfig) (tts.StreamingProvider, error)
	NewExtractor   func(cfg config.LLMConfig) (intent.Extractor, error)
}

func (d Deps) validate() error {
	if d.Store == nil {
		return fmt.Errorf("server requires a store")
	}
	if d.NewASRProvider == nil || d.NewTTSProvider == nil || d.NewExtractor == nil {
		return fmt.Errorf("server requires ASR, TTS and extractor constructors")
	}
	return nil
}

// Server is the call-facing WebSocket server.
type Server struct {
	config *Config
	deps   Deps

	calls   map[string]*call
	callsMu sync.RWMutex

	ipSessions   map[string]int
	ipSessionsMu sync.Mutex

	httpServer *http.Server
	mux        *http.ServeMux
	upgrader   websocket.Upgrader

	ctx    context.Context
	cancel context.CancelFunc
}

// NewServer creates the server. Deps must be complete.
func NewServer(cfg *Config, deps Deps) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := deps.validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		config: cfg,
		deps:   deps,
		calls:  make(map[string]*call),
		mux:    http.NewServeMux(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  cfg.ReadBufferSize,
			WriteBufferSize: cfg.WriteBufferSize,
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins; customize for production
			},
		},
		ipSessions: make(map[string]int),
		ctx:        ctx,
		cancel:     cancel,
	}, nil
}

// RegisterHandler registers an HTTP handler on the server's mux.
// Must be called before Start().
func (s *Server) RegisterHandler(pattern string, handler http.HandlerFunc) {
	s.mux.HandleFunc(pattern, handler)
}

// Start starts the listener and returns once it is accepting.
func (s *Server) Start(ctx context.Context) error {
	s.mux.HandleFunc(s.config.Path, s.handleWebSocket)
	if s.config.MetricsPath != "" {
		s.mux.Handle(s.config.MetricsPath, metrics.Handler())
	}

	s.httpServer = &http.Server{
		Addr:    s.config.Addr,
		Handler: s.mux,
	}

	log.Printf("[Server] starting on %s%s", s.config.Addr, s.config.Path)

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-time.After(100 * time.Millisecond):
		return nil
	}
}

// Stop drains calls and shuts the listener down.
func (s *Server) Stop(ctx context.Context) error {
	s.cancel()

	s.callsMu.Lock()
	calls := make([]*call, 0, len(s.calls))
	for _, c := range s.calls {
		calls = append(calls, c)
	}
	s.calls = make(map[string]*call)
	s.callsMu.Unlock()

	for _, c := range calls {
		c.close()
	}

	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

// ActiveCalls returns the number of calls in progress.
func (s *Server) ActiveCalls() int {
	s.callsMu.RLock()
	defer s.callsMu.RUnlock()
	return len(s.calls)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.config.AuthToken != "" {
		authHeader := r.Header.Get("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		if strings.TrimPrefix(authHeader, "Bearer ") != s.config.AuthToken {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
	}

	tenantID := r.URL.Query().Get("tenant")
	if tenantID == "" {
		http.Error(w, "Missing tenant", http.StatusBadRequest)
		return
	}

	clientIP := getClientIP(r)
	if s.config.MaxSessionsPerIP > 0 {
		s.ipSessionsMu.Lock()
		count := s.ipSessions[clientIP]
		s.ipSessionsMu.Unlock()
		if count >= s.config.MaxSessionsPerIP {
			http.Error(w, "Too many sessions from this IP", http.StatusTooManyRequests)
			return
		}
	}

	wsConn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[Server] WebSocket upgrade failed: %v", err)
		return
	}

	c, err := s.startCall(s.ctx, wsConn, tenantID, clientIP)
	if err != nil {
		log.Printf("[Server] Call setup for tenant %s failed: %v", tenantID, err)
		wsConn.WriteMessage(websocket.TextMessage, []byte(`{"type":"error","component":"server","message":"call setup failed"}`))
		wsConn.Close()
		return
	}

	s.registerCall(c, clientIP)
	log.Printf("[Server] Call %s started for tenant %s", c.id, tenantID)
}

func (s *Server) registerCall(c *call, clientIP string) {
	s.callsMu.Lock()
	s.calls[c.id] = c
	s.callsMu.Unlock()

	s.ipSessionsMu.Lock()
	s.ipSessions[clientIP]++
	s.ipSessionsMu.Unlock()
}

func (s *Server) unregisterCall(c *call) {
	s.callsMu.Lock()
	delete(s.calls, c.id)
	s.callsMu.Unlock()

	s.ipSessionsMu.Lock()
	if s.ipSessions[c.clientIP] > 0 {
		s.ipSessions[c.clientIP]--
	}
	if s.ipSessions[c.clientIP] == 0 {
		delete(s.ipSessions, c.clientIP)
	}
	s.ipSessionsMu.Unlock()
}

func getClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			return strings.TrimSpace(fwd[:i])
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
