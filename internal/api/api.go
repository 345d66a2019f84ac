// Package api serves the REST surface of the relay: patient and alert
// queries, alert acknowledgement and room-keyed alert intake, plus the media
// helper endpoints (LiveKit tokens, alert audio, ICE servers).
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"

	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/patient-monitor-relay/internal/auth"
	"github.com/wilsonzlin/aero/proxy/patient-monitor-relay/internal/config"
	"github.com/wilsonzlin/aero/proxy/patient-monitor-relay/internal/httpserver"
	"github.com/wilsonzlin/aero/proxy/patient-monitor-relay/internal/livekit"
	"github.com/wilsonzlin/aero/proxy/patient-monitor-relay/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/patient-monitor-relay/internal/ratelimit"
	"github.com/wilsonzlin/aero/proxy/patient-monitor-relay/internal/signaling"
	"github.com/wilsonzlin/aero/proxy/patient-monitor-relay/internal/speech"
	"github.com/wilsonzlin/aero/proxy/patient-monitor-relay/internal/turnrest"
)

const (
	DefaultAlertLimit = 50
	maxBodyBytes      = 1 << 20
)

type Config struct {
	Router  *signaling.Router
	LiveKit *livekit.Issuer
	Speech  *speech.Client

	Overshoot config.OvershootConfig

	ICEServers   []webrtc.ICEServer
	ICEConfigErr error
	// TURNREST, when set, injects ephemeral credentials into every TURN entry
	// served by /api/ice-servers.
	TURNREST *turnrest.Generator

	AuthMode config.AuthMode
	Verifier auth.Verifier

	// RequestsPerSecondPerClient limits /alert and /api/alert-audio per
	// remote address. <= 0 disables the limit.
	RequestsPerSecondPerClient int
	Clock                      ratelimit.Clock

	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

type Handler struct {
	router    *signaling.Router
	liveKit   *livekit.Issuer
	speech    *speech.Client
	overshoot config.OvershootConfig

	iceServers   []webrtc.ICEServer
	iceConfigErr error
	turnREST     *turnrest.Generator

	authMode config.AuthMode
	verifier auth.Verifier
	limiter  *ratelimit.Keyed

	metrics *metrics.Metrics
	log     *slog.Logger
}

func New(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	verifier := cfg.Verifier
	if verifier == nil {
		verifier = auth.AllowAll{}
	}
	authMode := cfg.AuthMode
	if authMode == "" {
		authMode = config.AuthModeNone
	}
	return &Handler{
		router:       cfg.Router,
		liveKit:      cfg.LiveKit,
		speech:       cfg.Speech,
		overshoot:    cfg.Overshoot,
		iceServers:   cfg.ICEServers,
		iceConfigErr: cfg.ICEConfigErr,
		turnREST:     cfg.TURNREST,
		authMode:     authMode,
		verifier:     verifier,
		limiter: ratelimit.NewKeyed(cfg.Clock, ratelimit.KeyedConfig{
			PerSecond: cfg.RequestsPerSecondPerClient,
			Burst:     cfg.RequestsPerSecondPerClient * 2,
		}),
		metrics: cfg.Metrics,
		log:     logger,
	}
}

// Register adds every route to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.handleHealth)

	mux.Handle("GET /api/patients", h.authenticated(h.handlePatients))
	mux.Handle("GET /api/alerts", h.authenticated(h.handleAlerts))
	mux.Handle("GET /api/alerts/export", h.authenticated(h.handleAlertsExport))
	mux.Handle("POST /api/alerts/{alertId}/acknowledge", h.authenticated(h.handleAcknowledge))
	mux.Handle("POST /alert", h.authenticated(h.limited(h.handleRoomAlert)))

	mux.Handle("POST /api/livekit-token", h.authenticated(h.handleLiveKitToken))
	mux.Handle("POST /api/alert-audio", h.authenticated(h.limited(h.handleAlertAudio)))
	mux.Handle("GET /api/overshoot-config", h.authenticated(h.handleOvershootConfig))
	mux.Handle("GET /api/ice-servers", h.authenticated(h.handleICEServers))
}

func (h *Handler) authenticated(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := auth.Authenticate(h.authMode, h.verifier, r); err != nil {
			h.metrics.Inc(metrics.AuthFailures)
			h.log.Warn("rest request rejected", "path", r.URL.Path, "remote_addr", r.RemoteAddr, "err", err)
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r)
	})
}

func (h *Handler) limited(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !h.limiter.Allow(clientKey(r)) {
			h.metrics.Inc(metrics.HTTPRateLimited)
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next(w, r)
	}
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	httpserver.WriteJSON(w, status, errorBody{Error: msg})
}

// decodeBody decodes an optional JSON body into dst. An empty body leaves dst
// untouched.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}
