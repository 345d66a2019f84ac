// Package registry maps participant identifiers to their live signaling
// channels.
//
// Patients and nurses live in separate namespaces. Registration is
// last-register-wins: a second registration under the same ID replaces the
// first entry without closing the superseded channel. The registry never
// sends on a channel and never closes one; announcing arrivals and departures
// is the caller's job.
package registry

import (
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

type Role string

const (
	RolePatient Role = "patient"
	RoleNurse   Role = "nurse"
)

func (r Role) Valid() bool {
	return r == RolePatient || r == RoleNurse
}

// Channel is the outbound half of a participant connection. Implementations
// are compared by identity, so they must be pointers to non-zero-size types;
// pointers to distinct zero-size values may compare equal.
type Channel interface {
	Send(frame []byte) error
}

// Identity names the registry entry owned by a channel.
type Identity struct {
	Role Role
	ID   string
}

// PatientInfo is the optional, unvalidated metadata a patient supplies when
// registering.
type PatientInfo struct {
	Name   string
	Room   string
	Status string
}

// Patient is a point-in-time snapshot of a registered patient.
type Patient struct {
	ID            string    `json:"patientId"`
	Name          string    `json:"patientName"`
	Room          string    `json:"roomNumber"`
	Status        string    `json:"status,omitempty"`
	ConnectedAt   time.Time `json:"connectedAt"`
	LastHeartbeat time.Time `json:"lastHeartbeat"`
}

// Displaced reports what a registration took over from other channels and
// what the registering channel gave up.
type Displaced struct {
	// Superseded is the channel previously registered under the same
	// identity, or nil.
	Superseded Channel
	// Released lists identities the registering channel held before and no
	// longer holds.
	Released []Identity
}

type patientEntry struct {
	ch      Channel
	patient Patient
}

type nurseEntry struct {
	ch          Channel
	connectedAt time.Time
}

type Registry struct {
	now func() time.Time

	mu       sync.Mutex
	patients map[string]*patientEntry
	nurses   map[string]*nurseEntry
}

func New() *Registry {
	return &Registry{
		now:      time.Now,
		patients: make(map[string]*patientEntry),
		nurses:   make(map[string]*nurseEntry),
	}
}

// SetClock replaces the time source used for connect and heartbeat stamps.
func (r *Registry) SetClock(now func() time.Time) {
	r.mu.Lock()
	r.now = now
	r.mu.Unlock()
}

// RegisterPatient inserts or replaces the patient entry for id and returns the
// stored snapshot. A channel re-registering under a new identity releases its
// old one; announcing that departure is the caller's job.
func (r *Registry) RegisterPatient(id string, info PatientInfo, ch Channel) (Patient, Displaced) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d := Displaced{Released: r.releaseChannelLocked(ch, Identity{Role: RolePatient, ID: id})}
	if prev, ok := r.patients[id]; ok && prev.ch != ch {
		d.Superseded = prev.ch
	}

	now := r.now()
	p := Patient{
		ID:            id,
		Name:          info.Name,
		Room:          info.Room,
		Status:        info.Status,
		ConnectedAt:   now,
		LastHeartbeat: now,
	}
	r.patients[id] = &patientEntry{ch: ch, patient: p}
	return p, d
}

// RegisterNurse inserts or replaces the nurse entry for id.
func (r *Registry) RegisterNurse(id string, ch Channel) Displaced {
	r.mu.Lock()
	defer r.mu.Unlock()

	d := Displaced{Released: r.releaseChannelLocked(ch, Identity{Role: RoleNurse, ID: id})}
	if prev, ok := r.nurses[id]; ok && prev.ch != ch {
		d.Superseded = prev.ch
	}
	r.nurses[id] = &nurseEntry{ch: ch, connectedAt: r.now()}
	return d
}

// releaseChannelLocked drops any entry ch owns under a different identity so
// a channel is only ever associated with one identity, and returns what it
// dropped.
func (r *Registry) releaseChannelLocked(ch Channel, keep Identity) []Identity {
	var released []Identity
	for id, e := range r.patients {
		if e.ch == ch && (keep.Role != RolePatient || keep.ID != id) {
			delete(r.patients, id)
			released = append(released, Identity{Role: RolePatient, ID: id})
		}
	}
	for id, e := range r.nurses {
		if e.ch == ch && (keep.Role != RoleNurse || keep.ID != id) {
			delete(r.nurses, id)
			released = append(released, Identity{Role: RoleNurse, ID: id})
		}
	}
	return released
}

func (r *Registry) LookupPatient(id string) (Channel, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.patients[id]
	if !ok {
		return nil, false
	}
	return e.ch, true
}

func (r *Registry) LookupNurse(id string) (Channel, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.nurses[id]
	if !ok {
		return nil, false
	}
	return e.ch, true
}

// Patient returns the snapshot for id.
func (r *Registry) Patient(id string) (Patient, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.patients[id]
	if !ok {
		return Patient{}, false
	}
	return e.patient, true
}

// IdentityOf reports which entry, if any, is currently owned by ch.
func (r *Registry) IdentityOf(ch Channel) (Identity, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.identityOfLocked(ch)
}

func (r *Registry) identityOfLocked(ch Channel) (Identity, bool) {
	for id, e := range r.patients {
		if e.ch == ch {
			return Identity{Role: RolePatient, ID: id}, true
		}
	}
	for id, e := range r.nurses {
		if e.ch == ch {
			return Identity{Role: RoleNurse, ID: id}, true
		}
	}
	return Identity{}, false
}

// Patients returns every registered patient ordered by connect time (ties
// broken by ID).
func (r *Registry) Patients() []Patient {
	r.mu.Lock()
	out := make([]Patient, 0, len(r.patients))
	for _, e := range r.patients {
		out = append(out, e.patient)
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].ConnectedAt.Equal(out[j].ConnectedAt) {
			return out[i].ConnectedAt.Before(out[j].ConnectedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// NurseChannels returns the channels of all registered nurses.
func (r *Registry) NurseChannels() []Channel {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Channel, 0, len(r.nurses))
	for _, e := range r.nurses {
		out = append(out, e.ch)
	}
	return out
}

// Heartbeat refreshes the last-heartbeat stamp of patient id, but only when ch
// is the channel currently registered for it. A non-empty status replaces the
// stored status tag.
func (r *Registry) Heartbeat(id string, ch Channel, status string) (Patient, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.patients[id]
	if !ok || e.ch != ch {
		return Patient{}, false
	}
	e.patient.LastHeartbeat = r.now()
	if status != "" {
		e.patient.Status = status
	}
	return e.patient, true
}

// PatientByRoom returns the earliest-connected patient whose room matches.
func (r *Registry) PatientByRoom(room string) (Patient, bool) {
	for _, p := range r.Patients() {
		if RoomMatches(p.Room, room) {
			return p, true
		}
	}
	return Patient{}, false
}

// RemoveByChannel deletes the entry owned by ch. A channel that was superseded
// by a later registration owns nothing and removes nothing.
func (r *Registry) RemoveByChannel(ch Channel) (Identity, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ident, ok := r.identityOfLocked(ch)
	if !ok {
		return Identity{}, false
	}
	switch ident.Role {
	case RolePatient:
		delete(r.patients, ident.ID)
	case RoleNurse:
		delete(r.nurses, ident.ID)
	}
	return ident, true
}

// Counts returns the number of registered patients and nurses.
func (r *Registry) Counts() (patients, nurses int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.patients), len(r.nurses)
}

// RoomMatches compares room identifiers either literally or, when both parse
// as integers, numerically ("012" matches "12").
func RoomMatches(stored, query string) bool {
	stored = strings.TrimSpace(stored)
	query = strings.TrimSpace(query)
	if stored == "" || query == "" {
		return false
	}
	if stored == query {
		return true
	}
	a, errA := strconv.ParseInt(stored, 10, 64)
	b, errB := strconv.ParseInt(query, 10, 64)
	return errA == nil && errB == nil && a == b
}
