// Package sensors turns room-keyed alert messages from the bedside sensor
// network into ledger alerts.
package sensors

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/wilsonzlin/aero/proxy/patient-monitor-relay/internal/ledger"
	"github.com/wilsonzlin/aero/proxy/patient-monitor-relay/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/patient-monitor-relay/internal/signaling"
)

var ErrInvalidMessage = errors.New("invalid sensor message")

// Ingestor raises an alert for whichever patient occupies a room.
type Ingestor interface {
	IngestRoomAlert(signaling.RoomAlert) (ledger.Alert, error)
}

// Message is the JSON payload a sensor gateway publishes. Room may be omitted
// when the topic carries it (".../rooms/{room}/alerts").
type Message struct {
	Room        signaling.FlexString `json:"room"`
	Event       string               `json:"event"`
	Severity    string               `json:"severity"`
	Description string               `json:"description"`
	Sensor      string               `json:"sensor"`
	Confidence  *float64             `json:"confidence"`
}

type Handler struct {
	ingest  Ingestor
	metrics *metrics.Metrics
	log     *slog.Logger
}

func NewHandler(ingest Ingestor, m *metrics.Metrics, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{ingest: ingest, metrics: m, log: logger}
}

// HandleMessage decodes one sensor message and raises it against the room's
// patient. Messages for empty rooms are counted by the router and returned as
// errors wrapping signaling.ErrRoomNotFound.
func (h *Handler) HandleMessage(topic string, payload []byte) error {
	h.metrics.Inc(metrics.SensorMessages)

	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		h.metrics.Inc(metrics.SensorMessagesInvalid)
		return fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}

	room := strings.TrimSpace(string(msg.Room))
	if room == "" {
		room = RoomFromTopic(topic)
	}
	if room == "" {
		h.metrics.Inc(metrics.SensorMessagesInvalid)
		return fmt.Errorf("%w: no room in payload or topic %q", ErrInvalidMessage, topic)
	}

	desc := strings.TrimSpace(msg.Description)
	if desc == "" && msg.Sensor != "" && msg.Event != "" {
		desc = fmt.Sprintf("%s reported by %s in room %s", msg.Event, msg.Sensor, room)
	}

	a, err := h.ingest.IngestRoomAlert(signaling.RoomAlert{
		Room:        room,
		Event:       msg.Event,
		Severity:    msg.Severity,
		Source:      ledger.SourceSensorNetwork,
		Description: desc,
		Confidence:  msg.Confidence,
	})
	if err != nil {
		return err
	}
	h.log.Debug("sensor alert ingested", "topic", topic, "room", room, "alert_id", a.ID)
	return nil
}

// RoomFromTopic returns the segment following "rooms" in topic, or "".
func RoomFromTopic(topic string) string {
	parts := strings.Split(topic, "/")
	for i := 0; i+1 < len(parts); i++ {
		if parts[i] == "rooms" {
			return strings.TrimSpace(parts[i+1])
		}
	}
	return ""
}
