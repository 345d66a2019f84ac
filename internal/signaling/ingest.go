package signaling

import (
	"errors"
	"fmt"
	"strings"

	"github.com/wilsonzlin/aero/proxy/patient-monitor-relay/internal/ledger"
	"github.com/wilsonzlin/aero/proxy/patient-monitor-relay/internal/metrics"
)

var ErrRoomNotFound = errors.New("no patient registered for room")

// RoomAlert is an alert addressed by room rather than patient, as sent by
// voice agents and sensor gateways.
type RoomAlert struct {
	Room        string
	Event       string
	Transcript  string
	Severity    string
	Source      string
	Description string
	Confidence  *float64
}

// IngestRoomAlert resolves ra.Room to the earliest-connected patient in that
// room and raises the alert through the same path as WebSocket alert frames.
// When no patient matches it returns ErrRoomNotFound and leaves the ledger
// untouched.
func (r *Router) IngestRoomAlert(ra RoomAlert) (ledger.Alert, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.reg.PatientByRoom(ra.Room)
	if !ok {
		r.metrics.Inc(metrics.RoomAlertsNoMatch)
		r.log.Warn("room alert has no matching patient", "room", ra.Room, "event", ra.Event)
		return ledger.Alert{}, fmt.Errorf("%w: %q", ErrRoomNotFound, ra.Room)
	}

	a := ledger.Alert{
		PatientID:   p.ID,
		PatientName: p.Name,
		RoomNumber:  p.Room,
		Condition:   strings.TrimSpace(ra.Event),
		Urgency:     strings.TrimSpace(ra.Severity),
		Source:      strings.TrimSpace(ra.Source),
		Description: strings.TrimSpace(ra.Description),
	}
	if a.Condition == "" {
		a.Condition = "UNKNOWN_EVENT"
	}
	if a.Urgency == "" {
		a.Urgency = "critical"
	}
	if a.Source == "" {
		a.Source = ledger.SourceVoice
	}
	if ra.Confidence != nil {
		a.Confidence = *ra.Confidence
	}
	if t := strings.TrimSpace(ra.Transcript); t != "" {
		a.Transcript = &t
	}
	if a.Description == "" {
		a.Description = describeRoomAlert(a, p.Room)
	}
	return r.raiseLocked(a), nil
}

func describeRoomAlert(a ledger.Alert, room string) string {
	desc := fmt.Sprintf("%s reported in room %s", a.Condition, room)
	if a.Transcript != nil {
		desc += fmt.Sprintf(": %q", *a.Transcript)
	}
	return desc
}
