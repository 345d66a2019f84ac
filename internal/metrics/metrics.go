// Package metrics is a small in-process counter registry exported in
// Prometheus text format.
package metrics

import "sync"

// Event names.
const (
	WSConnectionsOpened = "ws_connections_opened"
	WSConnectionsClosed = "ws_connections_closed"
	WSFramesReceived    = "ws_frames_received"
	WSFramesMalformed   = "ws_frames_malformed"
	WSFramesRateLimited = "ws_frames_rate_limited"
	WSFramesDropped     = "ws_frames_dropped_queue_full"
	WSUnknownType       = "ws_frames_unknown_type"

	PatientsRegistered   = "patients_registered"
	NursesRegistered     = "nurses_registered"
	RegistrationRejected = "registration_rejected"

	AlertsRaised       = "alerts_raised"
	AlertsAcknowledged = "alerts_acknowledged"
	RoomAlertsNoMatch  = "room_alerts_unmatched"

	StreamsRequested  = "streams_requested"
	OffersRelayed     = "webrtc_offers_relayed"
	AnswersRelayed    = "webrtc_answers_relayed"
	CandidatesRelayed = "webrtc_ice_candidates_relayed"
	RelayDropped      = "webrtc_relay_dropped"
	Unauthorized      = "signaling_unauthorized"

	AlertSinkPublished = "alert_sink_published"
	AlertSinkFailed    = "alert_sink_failed"
	AlertSinkDropped   = "alert_sink_dropped"

	SensorMessages        = "sensor_messages"
	SensorMessagesInvalid = "sensor_messages_invalid"

	SpeechRequests    = "speech_requests"
	SpeechFailures    = "speech_failures"
	MediaTokensIssued = "media_tokens_issued"

	HTTPRateLimited = "http_rate_limited"
	AuthFailures    = "auth_failures"
)

// Metrics is a concurrency-safe counter registry. A nil *Metrics discards
// everything, which keeps call sites free of nil checks.
type Metrics struct {
	mu sync.Mutex
	m  map[string]uint64
}

func New() *Metrics {
	return &Metrics{
		m: make(map[string]uint64),
	}
}

func (m *Metrics) Inc(name string) {
	m.Add(name, 1)
}

func (m *Metrics) Add(name string, delta uint64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.m[name] += delta
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

func (m *Metrics) Snapshot() map[string]uint64 {
	out := make(map[string]uint64)
	if m == nil {
		return out
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range m.m {
		out[k] = v
	}
	return out
}
