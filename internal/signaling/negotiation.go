package signaling

import (
	"github.com/wilsonzlin/aero/proxy/patient-monitor-relay/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/patient-monitor-relay/internal/registry"
)

const patientNotConnected = "Patient not connected"

// handleRequestStream asks a patient to start publishing for the requesting
// nurse. Only nurses may request; an absent patient is reported to the nurse.
func (r *Router) handleRequestStream(ch registry.Channel, m requestStreamMsg) {
	nurse, ok := r.isAuthorizedFor(ch, registry.RoleNurse)
	if !ok {
		r.metrics.Inc(metrics.Unauthorized)
		return
	}
	patientCh, ok := r.isPatientOnline(m.PatientID)
	if !ok {
		r.sendLocked(ch, errorFrame{Type: MessageTypeError, Message: patientNotConnected})
		return
	}
	r.metrics.Inc(metrics.StreamsRequested)
	r.log.Info("stream requested", "nurse_id", nurse.ID, "patient_id", m.PatientID)
	r.sendLocked(patientCh, startStreamFrame{Type: MessageTypeStartStream, NurseID: nurse.ID, PatientID: m.PatientID})
}

// handleOffer forwards an offer from the offering role to its counterpart,
// stamped with the sender's registered identity. When nurses offer, a missing
// patient is reported with webrtc_error; when patients offer, a missing nurse
// drops the offer.
func (r *Router) handleOffer(ch registry.Channel, m offerMsg) {
	sender, ok := r.isAuthorizedFor(ch, r.offerRole)
	if !ok {
		r.metrics.Inc(metrics.Unauthorized)
		return
	}

	switch r.offerRole {
	case registry.RoleNurse:
		patientCh, ok := r.isPatientOnline(m.PatientID)
		if !ok {
			r.metrics.Inc(metrics.RelayDropped)
			r.sendLocked(ch, webrtcErrorFrame{
				Type:      MessageTypeWebRTCError,
				PatientID: m.PatientID,
				NurseID:   sender.ID,
				Message:   patientNotConnected,
			})
			return
		}
		r.metrics.Inc(metrics.OffersRelayed)
		r.log.Debug("relaying offer", "nurse_id", sender.ID, "patient_id", m.PatientID)
		r.sendLocked(patientCh, offerFrame{
			Type:      MessageTypeWebRTCOffer,
			Offer:     m.Offer,
			PatientID: m.PatientID,
			NurseID:   sender.ID,
		})

	case registry.RolePatient:
		nurseCh, ok := r.isNurseOnline(m.NurseID)
		if !ok {
			r.metrics.Inc(metrics.RelayDropped)
			return
		}
		frame := offerFrame{
			Type:      MessageTypeWebRTCOffer,
			Offer:     m.Offer,
			PatientID: sender.ID,
			NurseID:   m.NurseID,
		}
		if p, ok := r.reg.Patient(sender.ID); ok {
			frame.PatientName = p.Name
			frame.RoomNumber = p.Room
		}
		r.metrics.Inc(metrics.OffersRelayed)
		r.log.Debug("relaying offer", "patient_id", sender.ID, "nurse_id", m.NurseID)
		r.sendLocked(nurseCh, frame)
	}
}

// handleAnswer forwards an answer from the answering role back to the offerer.
// A missing counterpart drops the answer silently.
func (r *Router) handleAnswer(ch registry.Channel, m answerMsg) {
	sender, ok := r.isAuthorizedFor(ch, r.answerRole)
	if !ok {
		r.metrics.Inc(metrics.Unauthorized)
		return
	}

	frame := answerFrame{Type: MessageTypeWebRTCAnswer, Answer: m.Answer}
	var target registry.Channel
	switch r.answerRole {
	case registry.RolePatient:
		frame.PatientID, frame.NurseID = sender.ID, m.NurseID
		target, ok = r.isNurseOnline(m.NurseID)
	case registry.RoleNurse:
		frame.PatientID, frame.NurseID = m.PatientID, sender.ID
		target, ok = r.isPatientOnline(m.PatientID)
	}
	if !ok {
		r.metrics.Inc(metrics.RelayDropped)
		return
	}
	r.metrics.Inc(metrics.AnswersRelayed)
	r.sendLocked(target, frame)
}

// handleICECandidate forwards the original frame bytes, untouched, to the
// channel named by target.
func (r *Router) handleICECandidate(m iceCandidateMsg, frame []byte) {
	var target registry.Channel
	var ok bool
	switch m.Target {
	case registry.RolePatient:
		target, ok = r.isPatientOnline(m.PatientID)
	case registry.RoleNurse:
		target, ok = r.isNurseOnline(m.NurseID)
	}
	if !ok {
		r.metrics.Inc(metrics.RelayDropped)
		return
	}
	r.metrics.Inc(metrics.CandidatesRelayed)
	r.deliver(target, frame)
}
