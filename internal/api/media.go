package api

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/patient-monitor-relay/internal/httpserver"
	"github.com/wilsonzlin/aero/proxy/patient-monitor-relay/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/patient-monitor-relay/internal/speech"
	"github.com/wilsonzlin/aero/proxy/patient-monitor-relay/internal/turnrest"
)

type liveKitTokenRequest struct {
	RoomName        string `json:"roomName"`
	ParticipantName string `json:"participantName"`
}

func (h *Handler) handleLiveKitToken(w http.ResponseWriter, r *http.Request) {
	var req liveKitTokenRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.RoomName) == "" || strings.TrimSpace(req.ParticipantName) == "" {
		writeError(w, http.StatusBadRequest, "roomName and participantName are required")
		return
	}
	if !h.liveKit.Configured() {
		h.log.Error("livekit token requested but livekit is not configured")
		httpserver.WriteJSON(w, http.StatusInternalServerError, errorBody{
			Error:   "LiveKit not configured",
			Message: "Please set LIVEKIT_URL, LIVEKIT_API_KEY, and LIVEKIT_API_SECRET",
		})
		return
	}

	token, err := h.liveKit.Issue(req.RoomName, req.ParticipantName)
	if err != nil {
		h.log.Error("issue livekit token", "room", req.RoomName, "participant", req.ParticipantName, "err", err)
		httpserver.WriteJSON(w, http.StatusInternalServerError, errorBody{
			Error:   "Failed to generate token",
			Message: err.Error(),
		})
		return
	}
	h.metrics.Inc(metrics.MediaTokensIssued)
	h.log.Info("livekit token issued", "room", req.RoomName, "participant", req.ParticipantName)
	httpserver.WriteJSON(w, http.StatusOK, map[string]string{
		"token": token,
		"url":   h.liveKit.URL(),
	})
}

type alertAudioRequest struct {
	Text                     any             `json:"text"`
	VoiceID                  any             `json:"voiceId"`
	ModelID                  any             `json:"modelId"`
	OutputFormat             any             `json:"outputFormat"`
	OptimizeStreamingLatency json.RawMessage `json:"optimizeStreamingLatency"`
}

type alertAudioResponse struct {
	AudioBase64 string `json:"audioBase64"`
	ContentType string `json:"contentType"`
	VoiceID     string `json:"voiceId"`
	ModelID     string `json:"modelId"`
}

type upstreamErrorBody struct {
	Error   string `json:"error"`
	Status  int    `json:"status"`
	Details any    `json:"details"`
}

func (h *Handler) handleAlertAudio(w http.ResponseWriter, r *http.Request) {
	if !h.speech.Configured() {
		writeError(w, http.StatusInternalServerError, "ElevenLabs API key not configured")
		return
	}

	var req alertAudioRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	text := strings.TrimSpace(stringField(req.Text))
	if text == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}

	h.metrics.Inc(metrics.SpeechRequests)
	res, err := h.speech.Synthesize(r.Context(), speech.Request{
		Text:         text,
		VoiceID:      stringField(req.VoiceID),
		ModelID:      stringField(req.ModelID),
		OutputFormat: stringField(req.OutputFormat),
		LatencyHint:  parseLatency(req.OptimizeStreamingLatency),
	})
	if err != nil {
		h.metrics.Inc(metrics.SpeechFailures)
		var upstream *speech.UpstreamError
		switch {
		case errors.As(err, &upstream):
			httpserver.WriteJSON(w, http.StatusBadGateway, upstreamErrorBody{
				Error:   "Failed to synthesize audio alert",
				Status:  upstream.Status,
				Details: upstream.Details,
			})
		case errors.Is(err, speech.ErrEmptyText):
			writeError(w, http.StatusBadRequest, "text is required")
		default:
			writeError(w, http.StatusInternalServerError, "ElevenLabs request failed")
		}
		return
	}

	httpserver.WriteJSON(w, http.StatusOK, alertAudioResponse{
		AudioBase64: base64.StdEncoding.EncodeToString(res.Audio),
		ContentType: res.ContentType,
		VoiceID:     res.VoiceID,
		ModelID:     res.ModelID,
	})
}

// stringField returns v trimmed when it is a JSON string and "" otherwise.
func stringField(v any) string {
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(s)
}

// parseLatency accepts a JSON number or numeric string. Anything else yields
// nil so the configured default applies.
func parseLatency(raw json.RawMessage) *float64 {
	if len(raw) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil
	}
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return nil
		}
		f = parsed
	default:
		return nil
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}

func (h *Handler) handleOvershootConfig(w http.ResponseWriter, r *http.Request) {
	if strings.TrimSpace(h.overshoot.APIKey) == "" {
		writeError(w, http.StatusInternalServerError, "Overshoot API key not configured")
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, map[string]string{
		"apiKey": h.overshoot.APIKey,
		"apiUrl": h.overshoot.APIURL,
	})
}

type iceServersResponse struct {
	ICEServers []webrtc.ICEServer `json:"iceServers"`
}

func (h *Handler) handleICEServers(w http.ResponseWriter, r *http.Request) {
	if h.iceConfigErr != nil {
		h.log.Error("ice servers requested with invalid configuration", "err", h.iceConfigErr)
		writeError(w, http.StatusServiceUnavailable, "ICE server configuration is invalid")
		return
	}

	servers := h.iceServers
	if h.turnREST != nil {
		creds, err := h.turnREST.GenerateRandom()
		if err != nil {
			h.log.Error("generate turn credentials", "err", err)
			writeError(w, http.StatusInternalServerError, "failed to generate TURN credentials")
			return
		}
		servers = turnrest.Apply(servers, creds)
	}
	if servers == nil {
		servers = []webrtc.ICEServer{}
	}

	w.Header().Set("Cache-Control", "no-store")
	httpserver.WriteJSON(w, http.StatusOK, iceServersResponse{ICEServers: servers})
}
