// Package ledger holds the bounded, in-memory history of alerts raised for
// patients.
package ledger

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultCapacity is the number of alerts retained before the oldest is
// evicted.
const DefaultCapacity = 200

var ErrNotFound = errors.New("alert not found")

// Alert origins.
const (
	SourceVision        = "vision"
	SourceVoice         = "voice"
	SourceManual        = "manual"
	SourceSensorNetwork = "sensor-network"
)

// Alert is one ledger record. Patient name and room are captured when the
// alert is raised and are not kept in sync with the registry afterwards.
type Alert struct {
	ID             string     `json:"id"`
	PatientID      string     `json:"patientId"`
	PatientName    string     `json:"patientName"`
	RoomNumber     string     `json:"roomNumber"`
	Condition      string     `json:"condition"`
	Confidence     float64    `json:"confidence"`
	Description    string     `json:"description"`
	Urgency        string     `json:"urgency"`
	Source         string     `json:"source"`
	Transcript     *string    `json:"transcript"`
	Timestamp      time.Time  `json:"timestamp"`
	Acknowledged   bool       `json:"acknowledged"`
	AcknowledgedBy string     `json:"acknowledgedBy,omitempty"`
	AcknowledgedAt *time.Time `json:"acknowledgedAt,omitempty"`
}

// Ledger is an append-only FIFO of alerts capped at a fixed capacity.
type Ledger struct {
	capacity int
	now      func() time.Time
	newID    func(time.Time) string

	mu     sync.Mutex
	alerts []Alert
}

func New(capacity int) *Ledger {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Ledger{
		capacity: capacity,
		now:      time.Now,
		newID:    newAlertID,
		alerts:   make([]Alert, 0, capacity),
	}
}

// SetClock replaces the time source used for alert and acknowledgement stamps.
func (l *Ledger) SetClock(now func() time.Time) {
	l.mu.Lock()
	l.now = now
	l.mu.Unlock()
}

func (l *Ledger) Capacity() int { return l.capacity }

// Append stores a, assigning a fresh ID and timestamp and clearing any
// acknowledgement state, then evicts from the head until the ledger fits its
// capacity. It returns the stored record.
func (l *Ledger) Append(a Alert) Alert {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	a.ID = l.newID(now)
	a.Timestamp = now
	a.Acknowledged = false
	a.AcknowledgedBy = ""
	a.AcknowledgedAt = nil

	l.alerts = append(l.alerts, a)
	if over := len(l.alerts) - l.capacity; over > 0 {
		n := copy(l.alerts, l.alerts[over:])
		clear(l.alerts[n:])
		l.alerts = l.alerts[:n]
	}
	return a
}

// Recent returns up to n of the newest alerts in insertion order (oldest
// first). n <= 0 returns everything retained.
func (l *Ledger) Recent(n int) []Alert {
	l.mu.Lock()
	defer l.mu.Unlock()

	start := 0
	if n > 0 && n < len(l.alerts) {
		start = len(l.alerts) - n
	}
	out := make([]Alert, len(l.alerts)-start)
	copy(out, l.alerts[start:])
	return out
}

// Acknowledge marks alert id as acknowledged by actor. Repeated calls are
// accepted and overwrite the actor and timestamp each time.
func (l *Ledger) Acknowledge(id, actor string) (Alert, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i := range l.alerts {
		if l.alerts[i].ID != id {
			continue
		}
		at := l.now()
		l.alerts[i].Acknowledged = true
		l.alerts[i].AcknowledgedBy = actor
		l.alerts[i].AcknowledgedAt = &at
		return l.alerts[i], nil
	}
	return Alert{}, fmt.Errorf("%w: %s", ErrNotFound, id)
}

func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.alerts)
}

func newAlertID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:9]
	return fmt.Sprintf("alert_%d_%s", now.UnixMilli(), suffix)
}
