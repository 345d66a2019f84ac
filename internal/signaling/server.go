package signaling

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wilsonzlin/aero/proxy/patient-monitor-relay/internal/auth"
	"github.com/wilsonzlin/aero/proxy/patient-monitor-relay/internal/config"
	"github.com/wilsonzlin/aero/proxy/patient-monitor-relay/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/patient-monitor-relay/internal/ratelimit"
	"github.com/wilsonzlin/aero/proxy/patient-monitor-relay/internal/registry"
)

// OriginChecker decides whether a browser Origin may open a socket.
// *cors.Cors satisfies it.
type OriginChecker interface {
	OriginAllowed(r *http.Request) bool
}

type Config struct {
	Router *Router

	AuthMode config.AuthMode
	Verifier auth.Verifier
	Origins  OriginChecker

	IdleTimeout          time.Duration
	PingInterval         time.Duration
	MaxMessageBytes      int64
	MaxMessagesPerSecond int
	SendQueueFrames      int

	Clock   ratelimit.Clock
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Server upgrades participant connections and runs each one against the
// shared Router.
//
// Endpoints:
//   - GET /ws : WebSocket signaling
//   - GET /   : the same socket, for clients that connect to the bare host
type Server struct {
	cfg      Config
	upgrader websocket.Upgrader
	log      *slog.Logger

	mu      sync.Mutex
	clients map[*wsClient]struct{}
	closed  bool
}

func NewServer(cfg Config) *Server {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = config.DefaultSignalingWSIdleTimeout
	}
	if cfg.PingInterval <= 0 || cfg.PingInterval >= cfg.IdleTimeout {
		cfg.PingInterval = cfg.IdleTimeout / 2
	}
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = config.DefaultMaxSignalingMessageBytes
	}
	if cfg.MaxMessagesPerSecond <= 0 {
		cfg.MaxMessagesPerSecond = config.DefaultMaxSignalingMessagesPerSecond
	}
	if cfg.SendQueueFrames <= 0 {
		cfg.SendQueueFrames = config.DefaultSignalingSendQueueFrames
	}
	if cfg.Clock == nil {
		cfg.Clock = ratelimit.RealClock{}
	}
	if cfg.AuthMode == "" {
		cfg.AuthMode = config.AuthModeNone
	}
	if cfg.Verifier == nil {
		cfg.Verifier = auth.AllowAll{}
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	s := &Server{
		cfg:     cfg,
		log:     log,
		clients: make(map[*wsClient]struct{}),
	}
	s.upgrader = websocket.Upgrader{CheckOrigin: s.checkOrigin}
	return s
}

func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	mux.HandleFunc("GET /{$}", s.handleRoot)
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if r.Header.Get("Origin") == "" || s.cfg.Origins == nil {
		return true
	}
	return s.cfg.Origins.OriginAllowed(r)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if websocket.IsWebSocketUpgrade(r) {
		s.handleWebSocket(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{
		"service":   "patient-monitor-relay",
		"websocket": "/ws",
	})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	claims, err := auth.AuthenticateClaims(s.cfg.AuthMode, s.cfg.Verifier, r)
	if err != nil {
		s.cfg.Metrics.Inc(metrics.AuthFailures)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "unauthorized"})
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("websocket upgrade failed", "err", err)
		return
	}
	conn.SetReadLimit(s.cfg.MaxMessageBytes)

	rate := int64(s.cfg.MaxMessagesPerSecond)
	c := &wsClient{
		conn:         conn,
		router:       s.cfg.Router,
		log:          s.log,
		metrics:      s.cfg.Metrics,
		limiter:      ratelimit.NewTokenBucket(s.cfg.Clock, rate, rate),
		idleTimeout:  s.cfg.IdleTimeout,
		pingInterval: s.cfg.PingInterval,
		queue:        make(chan []byte, s.cfg.SendQueueFrames),
		done:         make(chan struct{}),
		boundRole:    registry.Role(claims.Role),
		boundID:      claims.Subject,
	}
	if !s.track(c) {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"), time.Now().Add(wsWriteWait))
		_ = conn.Close()
		return
	}
	defer s.untrack(c)

	s.cfg.Metrics.Inc(metrics.WSConnectionsOpened)
	defer s.cfg.Metrics.Inc(metrics.WSConnectionsClosed)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		c.writePump()
	}()

	err = c.readLoop()
	s.cfg.Router.Disconnect(c)

	switch {
	case errors.Is(err, errIdleTimeout):
		c.closeWith(websocket.CloseNormalClosure, "idle timeout")
	case errors.Is(err, errRateLimited):
		c.closeWith(websocket.ClosePolicyViolation, "rate limit exceeded")
	case errors.Is(err, websocket.ErrReadLimit):
		c.closeWith(websocket.CloseMessageTooBig, "message too large")
	default:
		c.closeWith(websocket.CloseNormalClosure, "")
	}
	<-writerDone
}

func (s *Server) track(c *wsClient) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.clients[c] = struct{}{}
	return true
}

func (s *Server) untrack(c *wsClient) {
	s.mu.Lock()
	delete(s.clients, c)
	s.mu.Unlock()
}

// ConnectionCount reports the number of open sockets.
func (s *Server) ConnectionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// Close stops accepting sockets and asks every open one to close.
func (s *Server) Close() {
	s.mu.Lock()
	s.closed = true
	clients := make([]*wsClient, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	for _, c := range clients {
		c.closeWith(websocket.CloseGoingAway, "shutting down")
	}
}
