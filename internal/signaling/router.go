package signaling

import (
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/wilsonzlin/aero/proxy/patient-monitor-relay/internal/alertsink"
	"github.com/wilsonzlin/aero/proxy/patient-monitor-relay/internal/config"
	"github.com/wilsonzlin/aero/proxy/patient-monitor-relay/internal/ledger"
	"github.com/wilsonzlin/aero/proxy/patient-monitor-relay/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/patient-monitor-relay/internal/registry"
)

// AlertNotifier receives alert lifecycle events after they are committed to
// the ledger. Implementations must not block.
type AlertNotifier interface {
	Notify(kind alertsink.EventKind, a ledger.Alert)
}

type RouterConfig struct {
	Registry *registry.Registry
	Ledger   *ledger.Ledger

	// OfferRole is the role allowed to send webrtc_offer; the other role
	// answers.
	OfferRole config.OfferRole

	// InitRecentAlerts bounds the alert slice sent in a nurse's init frame.
	InitRecentAlerts int

	Notifier AlertNotifier
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
}

// Router applies inbound frames to the registry and ledger. Every transition
// runs under one mutex so a register and its broadcast, or an append and its
// broadcast, are never interleaved with another transition. Channels must not
// block in Send.
type Router struct {
	reg        *registry.Registry
	led        *ledger.Ledger
	offerRole  registry.Role
	answerRole registry.Role
	initRecent int
	notifier   AlertNotifier
	metrics    *metrics.Metrics
	log        *slog.Logger

	mu sync.Mutex
}

func NewRouter(cfg RouterConfig) *Router {
	reg := cfg.Registry
	if reg == nil {
		reg = registry.New()
	}
	led := cfg.Ledger
	if led == nil {
		led = ledger.New(ledger.DefaultCapacity)
	}
	initRecent := cfg.InitRecentAlerts
	if initRecent <= 0 {
		initRecent = config.DefaultInitRecentAlerts
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	offer, answer := registry.RoleNurse, registry.RolePatient
	if cfg.OfferRole == config.OfferRolePatient {
		offer, answer = registry.RolePatient, registry.RoleNurse
	}

	return &Router{
		reg:        reg,
		led:        led,
		offerRole:  offer,
		answerRole: answer,
		initRecent: initRecent,
		notifier:   cfg.Notifier,
		metrics:    cfg.Metrics,
		log:        log,
	}
}

func (r *Router) Registry() *registry.Registry { return r.reg }
func (r *Router) Ledger() *ledger.Ledger       { return r.led }

// Dispatch parses one frame received on ch and applies it. Malformed frames
// and frames missing required fields are dropped; the channel stays open.
func (r *Router) Dispatch(ch registry.Channel, frame []byte) {
	r.metrics.Inc(metrics.WSFramesReceived)

	msg, typ, err := parseInbound(frame)
	if err != nil {
		r.metrics.Inc(metrics.WSFramesMalformed)
		r.log.Debug("dropping signaling frame", "type", string(typ), "err", err)
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	switch m := msg.(type) {
	case registerPatientMsg:
		r.handleRegisterPatient(ch, m)
	case registerNurseMsg:
		r.handleRegisterNurse(ch, m)
	case alertMsg:
		r.handleAlert(ch, m)
	case heartbeatMsg:
		r.reg.Heartbeat(m.PatientID, ch, m.Status)
	case requestStreamMsg:
		r.handleRequestStream(ch, m)
	case offerMsg:
		r.handleOffer(ch, m)
	case answerMsg:
		r.handleAnswer(ch, m)
	case iceCandidateMsg:
		r.handleICECandidate(m, frame)
	case acknowledgeAlertMsg:
		r.handleAcknowledge(ch, m)
	case unknownMsg:
		r.metrics.Inc(metrics.WSUnknownType)
		r.log.Warn("unknown signaling message type", "type", string(m.Type))
	}
}

// Disconnect removes whatever identity ch owns. A departing patient is
// announced to every nurse; departing nurses are not announced.
func (r *Router) Disconnect(ch registry.Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ident, ok := r.reg.RemoveByChannel(ch)
	if !ok {
		return
	}
	switch ident.Role {
	case registry.RolePatient:
		r.log.Info("patient disconnected", "patient_id", ident.ID)
		r.broadcastLocked(patientDisconnectedFrame{Type: MessageTypePatientDisconnected, PatientID: ident.ID})
	case registry.RoleNurse:
		r.log.Info("nurse disconnected", "nurse_id", ident.ID)
	}
}

// isPatientOnline reports the channel currently registered for patient id.
func (r *Router) isPatientOnline(id string) (registry.Channel, bool) {
	if id == "" {
		return nil, false
	}
	return r.reg.LookupPatient(id)
}

func (r *Router) isNurseOnline(id string) (registry.Channel, bool) {
	if id == "" {
		return nil, false
	}
	return r.reg.LookupNurse(id)
}

// isAuthorizedFor reports whether ch is registered under role, returning the
// identity it holds.
func (r *Router) isAuthorizedFor(ch registry.Channel, role registry.Role) (registry.Identity, bool) {
	ident, ok := r.reg.IdentityOf(ch)
	if !ok || ident.Role != role {
		return registry.Identity{}, false
	}
	return ident, true
}

// tokenBound is implemented by channels whose credential restricts the role
// or participant id they may register as.
type tokenBound interface {
	boundIdentity() (role registry.Role, id string)
}

// mayRegisterAs reports whether ch's credential permits registering as id
// under role. Channels without a bound identity may register as anyone.
func (r *Router) mayRegisterAs(ch registry.Channel, role registry.Role, id string) bool {
	b, ok := ch.(tokenBound)
	if !ok {
		return true
	}
	boundRole, boundID := b.boundIdentity()
	if boundRole != "" && boundRole != role {
		return false
	}
	return boundID == "" || boundID == id
}

func (r *Router) handleRegisterPatient(ch registry.Channel, m registerPatientMsg) {
	if !r.mayRegisterAs(ch, registry.RolePatient, m.PatientID) {
		r.metrics.Inc(metrics.Unauthorized)
		r.log.Warn("registration outside token identity", "role", string(registry.RolePatient), "patient_id", m.PatientID)
		return
	}
	p, d := r.reg.RegisterPatient(m.PatientID, registry.PatientInfo{
		Name:   m.PatientName,
		Room:   m.RoomNumber,
		Status: m.Status,
	}, ch)
	r.metrics.Inc(metrics.PatientsRegistered)
	r.log.Info("patient registered", "patient_id", p.ID, "room", p.Room, "superseded", d.Superseded != nil)
	r.announceReleasedLocked(d.Released)
	r.broadcastLocked(patientConnectedFrame{Type: MessageTypePatientConnected, Patient: p})
}

func (r *Router) handleRegisterNurse(ch registry.Channel, m registerNurseMsg) {
	if m.NurseID == "" {
		r.metrics.Inc(metrics.RegistrationRejected)
		r.sendLocked(ch, errorFrame{Type: MessageTypeError, Message: "nurseId is required"})
		return
	}
	if !r.mayRegisterAs(ch, registry.RoleNurse, m.NurseID) {
		r.metrics.Inc(metrics.Unauthorized)
		r.log.Warn("registration outside token identity", "role", string(registry.RoleNurse), "nurse_id", m.NurseID)
		return
	}
	d := r.reg.RegisterNurse(m.NurseID, ch)
	r.metrics.Inc(metrics.NursesRegistered)
	r.log.Info("nurse registered", "nurse_id", m.NurseID, "superseded", d.Superseded != nil)
	r.announceReleasedLocked(d.Released)

	r.sendLocked(ch, initFrame{
		Type:         MessageTypeInit,
		Patients:     r.reg.Patients(),
		RecentAlerts: r.led.Recent(r.initRecent),
	})
}

// announceReleasedLocked reports patient identities a channel gave up by
// re-registering, exactly as if that patient had disconnected.
func (r *Router) announceReleasedLocked(released []registry.Identity) {
	for _, ident := range released {
		if ident.Role != registry.RolePatient {
			continue
		}
		r.log.Info("patient disconnected", "patient_id", ident.ID, "reason", "re-registered")
		r.broadcastLocked(patientDisconnectedFrame{Type: MessageTypePatientDisconnected, PatientID: ident.ID})
	}
}

func (r *Router) handleAlert(ch registry.Channel, m alertMsg) {
	a := ledger.Alert{
		PatientID:   m.PatientID,
		PatientName: m.PatientName,
		RoomNumber:  m.RoomNumber,
		Condition:   m.Condition,
		Description: m.Description,
		Urgency:     m.Urgency,
		Source:      m.Source,
	}
	if a.PatientID == "" {
		if ident, ok := r.isAuthorizedFor(ch, registry.RolePatient); ok {
			a.PatientID = ident.ID
		}
	}
	if m.Confidence != nil {
		a.Confidence = *m.Confidence
	}
	if a.Source == "" {
		a.Source = ledger.SourceVision
		if m.voice {
			a.Source = ledger.SourceVoice
		}
	}
	if t := strings.TrimSpace(m.Transcript); t != "" {
		a.Transcript = &m.Transcript
	}
	if p, ok := r.reg.Patient(a.PatientID); ok {
		if a.PatientName == "" {
			a.PatientName = p.Name
		}
		if a.RoomNumber == "" {
			a.RoomNumber = p.Room
		}
	}
	r.raiseLocked(a)
}

func (r *Router) handleAcknowledge(ch registry.Channel, m acknowledgeAlertMsg) {
	ident, ok := r.isAuthorizedFor(ch, registry.RoleNurse)
	if !ok {
		r.metrics.Inc(metrics.Unauthorized)
		return
	}
	actor := m.NurseID
	if actor == "" {
		actor = ident.ID
	}
	if _, err := r.acknowledgeLocked(m.AlertID, actor); err != nil {
		r.sendLocked(ch, errorFrame{Type: MessageTypeError, Message: "Alert not found"})
	}
}

// RaiseAlert appends a to the ledger and broadcasts it to every nurse. It is
// the same path taken by alert frames received over WebSocket.
func (r *Router) RaiseAlert(a ledger.Alert) ledger.Alert {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.raiseLocked(a)
}

func (r *Router) raiseLocked(a ledger.Alert) ledger.Alert {
	stored := r.led.Append(a)
	r.metrics.Inc(metrics.AlertsRaised)
	r.log.Info("alert raised",
		"alert_id", stored.ID,
		"patient_id", stored.PatientID,
		"condition", stored.Condition,
		"urgency", stored.Urgency,
		"source", stored.Source,
	)
	r.broadcastLocked(newAlertFrame{Type: MessageTypeNewAlert, Alert: stored})
	if r.notifier != nil {
		r.notifier.Notify(alertsink.EventCreated, stored)
	}
	return stored
}

// AcknowledgeAlert marks alert id acknowledged by actor and broadcasts
// alert_acknowledged. An unknown id returns an error wrapping
// ledger.ErrNotFound and broadcasts nothing.
func (r *Router) AcknowledgeAlert(id, actor string) (ledger.Alert, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.acknowledgeLocked(id, actor)
}

func (r *Router) acknowledgeLocked(id, actor string) (ledger.Alert, error) {
	if strings.TrimSpace(actor) == "" {
		actor = "unknown"
	}
	a, err := r.led.Acknowledge(id, actor)
	if err != nil {
		if !errors.Is(err, ledger.ErrNotFound) {
			r.log.Error("acknowledge alert", "alert_id", id, "err", err)
		}
		return ledger.Alert{}, err
	}
	r.metrics.Inc(metrics.AlertsAcknowledged)
	r.log.Info("alert acknowledged", "alert_id", a.ID, "acknowledged_by", a.AcknowledgedBy)
	r.broadcastLocked(alertAcknowledgedFrame{
		Type:           MessageTypeAlertAcknowledged,
		AlertID:        a.ID,
		AcknowledgedBy: a.AcknowledgedBy,
	})
	if r.notifier != nil {
		r.notifier.Notify(alertsink.EventAcknowledged, a)
	}
	return a, nil
}

func (r *Router) broadcastLocked(v any) {
	frame, ok := r.encode(v)
	if !ok {
		return
	}
	for _, ch := range r.reg.NurseChannels() {
		r.deliver(ch, frame)
	}
}

func (r *Router) sendLocked(ch registry.Channel, v any) {
	frame, ok := r.encode(v)
	if !ok {
		return
	}
	r.deliver(ch, frame)
}

func (r *Router) deliver(ch registry.Channel, frame []byte) {
	if err := ch.Send(frame); err != nil {
		r.metrics.Inc(metrics.WSFramesDropped)
		r.log.Debug("signaling send failed", "err", err)
	}
}

func (r *Router) encode(v any) ([]byte, bool) {
	frame, err := json.Marshal(v)
	if err != nil {
		r.log.Error("encode signaling frame", "err", err)
		return nil, false
	}
	return frame, true
}
