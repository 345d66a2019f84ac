package signaling

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/wilsonzlin/aero/proxy/patient-monitor-relay/internal/ledger"
	"github.com/wilsonzlin/aero/proxy/patient-monitor-relay/internal/registry"
)

type MessageType string

const (
	MessageTypeRegisterPatient    MessageType = "register_patient"
	MessageTypeRegisterNurse      MessageType = "register_nurse"
	MessageTypeAlert              MessageType = "alert"
	MessageTypeVoiceAlert         MessageType = "voice_alert"
	MessageTypeHeartbeat          MessageType = "heartbeat"
	MessageTypeRequestStream      MessageType = "request_stream"
	MessageTypeWebRTCOffer        MessageType = "webrtc_offer"
	MessageTypeWebRTCAnswer       MessageType = "webrtc_answer"
	MessageTypeWebRTCICECandidate MessageType = "webrtc_ice_candidate"
	MessageTypeAcknowledgeAlert   MessageType = "acknowledge_alert"

	MessageTypeInit                MessageType = "init"
	MessageTypePatientConnected    MessageType = "patient_connected"
	MessageTypePatientDisconnected MessageType = "patient_disconnected"
	MessageTypeNewAlert            MessageType = "new_alert"
	MessageTypeAlertAcknowledged   MessageType = "alert_acknowledged"
	MessageTypeStartStream         MessageType = "start_stream"
	MessageTypeWebRTCError         MessageType = "webrtc_error"
	MessageTypeError               MessageType = "error"
)

var (
	errMalformed    = errors.New("malformed frame")
	errMissingField = errors.New("missing required field")
)

// Inbound variants. Each carries only the fields its handler reads.
type (
	registerPatientMsg struct {
		PatientID   string `json:"patientId"`
		PatientName string `json:"patientName"`
		RoomNumber  string `json:"roomNumber"`
		Status      string `json:"status"`
	}

	registerNurseMsg struct {
		NurseID string `json:"nurseId"`
	}

	alertMsg struct {
		voice bool

		PatientID   string   `json:"patientId"`
		PatientName string   `json:"patientName"`
		RoomNumber  string   `json:"roomNumber"`
		Condition   string   `json:"condition"`
		Confidence  *float64 `json:"confidence"`
		Description string   `json:"description"`
		Urgency     string   `json:"urgency"`
		Source      string   `json:"source"`
		Transcript  string   `json:"transcript"`
	}

	heartbeatMsg struct {
		PatientID string `json:"patientId"`
		Status    string `json:"status"`
	}

	requestStreamMsg struct {
		PatientID string `json:"patientId"`
	}

	offerMsg struct {
		PatientID string          `json:"patientId"`
		NurseID   string          `json:"nurseId"`
		Offer     json.RawMessage `json:"offer"`
	}

	answerMsg struct {
		PatientID string          `json:"patientId"`
		NurseID   string          `json:"nurseId"`
		Answer    json.RawMessage `json:"answer"`
	}

	iceCandidateMsg struct {
		Target    registry.Role   `json:"target"`
		PatientID string          `json:"patientId"`
		NurseID   string          `json:"nurseId"`
		Candidate json.RawMessage `json:"candidate"`
	}

	acknowledgeAlertMsg struct {
		AlertID string `json:"alertId"`
		NurseID string `json:"nurseId"`
	}

	unknownMsg struct {
		Type MessageType
	}
)

// FlexString accepts a JSON string or number, keeping a number's literal
// text. Clients send patient ids and rooms either way. null decodes to "".
type FlexString string

func (s *FlexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*s = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*s = FlexString(v)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return errors.New("must be a string or number")
	}
	*s = FlexString(n.String())
	return nil
}

// parseInbound decodes a frame into its typed variant. A frame that is not a
// JSON object with a string "type" yields errMalformed; a known type lacking
// the fields its transition needs yields errMissingField. register_nurse is
// returned even without a nurseId so the router can answer with an error.
func parseInbound(data []byte) (any, MessageType, error) {
	var envelope struct {
		Type *string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil || envelope.Type == nil {
		return nil, "", errMalformed
	}
	typ := MessageType(*envelope.Type)

	decode := func(v any) error {
		if err := json.Unmarshal(data, v); err != nil {
			return fmt.Errorf("%w: %s: %v", errMalformed, typ, err)
		}
		return nil
	}

	switch typ {
	case MessageTypeRegisterPatient:
		var raw struct {
			PatientID   FlexString `json:"patientId"`
			PatientName string    `json:"patientName"`
			RoomNumber  FlexString `json:"roomNumber"`
			Status      string    `json:"status"`
		}
		if err := decode(&raw); err != nil {
			return nil, typ, err
		}
		m := registerPatientMsg{
			PatientID:   strings.TrimSpace(string(raw.PatientID)),
			PatientName: raw.PatientName,
			RoomNumber:  string(raw.RoomNumber),
			Status:      raw.Status,
		}
		if m.PatientID == "" {
			return nil, typ, fmt.Errorf("%w: patientId", errMissingField)
		}
		return m, typ, nil

	case MessageTypeRegisterNurse:
		var raw struct {
			NurseID FlexString `json:"nurseId"`
		}
		if err := decode(&raw); err != nil {
			return nil, typ, err
		}
		return registerNurseMsg{NurseID: strings.TrimSpace(string(raw.NurseID))}, typ, nil

	case MessageTypeAlert, MessageTypeVoiceAlert:
		var raw struct {
			alertMsg
			PatientID  FlexString `json:"patientId"`
			RoomNumber FlexString `json:"roomNumber"`
		}
		if err := decode(&raw); err != nil {
			return nil, typ, err
		}
		m := raw.alertMsg
		m.PatientID = string(raw.PatientID)
		m.RoomNumber = string(raw.RoomNumber)
		m.voice = typ == MessageTypeVoiceAlert
		return m, typ, nil

	case MessageTypeHeartbeat:
		var raw struct {
			PatientID FlexString `json:"patientId"`
			Status    string    `json:"status"`
		}
		if err := decode(&raw); err != nil {
			return nil, typ, err
		}
		m := heartbeatMsg{PatientID: string(raw.PatientID), Status: raw.Status}
		if m.PatientID == "" {
			return nil, typ, fmt.Errorf("%w: patientId", errMissingField)
		}
		return m, typ, nil

	case MessageTypeRequestStream:
		var raw struct {
			PatientID FlexString `json:"patientId"`
		}
		if err := decode(&raw); err != nil {
			return nil, typ, err
		}
		m := requestStreamMsg{PatientID: string(raw.PatientID)}
		if m.PatientID == "" {
			return nil, typ, fmt.Errorf("%w: patientId", errMissingField)
		}
		return m, typ, nil

	case MessageTypeWebRTCOffer:
		var raw struct {
			PatientID FlexString       `json:"patientId"`
			NurseID   FlexString       `json:"nurseId"`
			Offer     json.RawMessage `json:"offer"`
		}
		if err := decode(&raw); err != nil {
			return nil, typ, err
		}
		m := offerMsg{PatientID: string(raw.PatientID), NurseID: string(raw.NurseID), Offer: raw.Offer}
		if isAbsent(m.Offer) {
			return nil, typ, fmt.Errorf("%w: offer", errMissingField)
		}
		return m, typ, nil

	case MessageTypeWebRTCAnswer:
		var raw struct {
			PatientID FlexString       `json:"patientId"`
			NurseID   FlexString       `json:"nurseId"`
			Answer    json.RawMessage `json:"answer"`
		}
		if err := decode(&raw); err != nil {
			return nil, typ, err
		}
		m := answerMsg{PatientID: string(raw.PatientID), NurseID: string(raw.NurseID), Answer: raw.Answer}
		if isAbsent(m.Answer) {
			return nil, typ, fmt.Errorf("%w: answer", errMissingField)
		}
		return m, typ, nil

	case MessageTypeWebRTCICECandidate:
		var raw struct {
			Target    registry.Role   `json:"target"`
			PatientID FlexString       `json:"patientId"`
			NurseID   FlexString       `json:"nurseId"`
			Candidate json.RawMessage `json:"candidate"`
		}
		if err := decode(&raw); err != nil {
			return nil, typ, err
		}
		m := iceCandidateMsg{Target: raw.Target, PatientID: string(raw.PatientID), NurseID: string(raw.NurseID), Candidate: raw.Candidate}
		switch {
		case !m.Target.Valid():
			return nil, typ, fmt.Errorf("%w: target", errMissingField)
		case m.PatientID == "" || m.NurseID == "":
			return nil, typ, fmt.Errorf("%w: patientId/nurseId", errMissingField)
		case isAbsent(m.Candidate):
			return nil, typ, fmt.Errorf("%w: candidate", errMissingField)
		}
		return m, typ, nil

	case MessageTypeAcknowledgeAlert:
		var raw struct {
			AlertID string    `json:"alertId"`
			NurseID FlexString `json:"nurseId"`
		}
		if err := decode(&raw); err != nil {
			return nil, typ, err
		}
		m := acknowledgeAlertMsg{AlertID: strings.TrimSpace(raw.AlertID), NurseID: string(raw.NurseID)}
		if m.AlertID == "" {
			return nil, typ, fmt.Errorf("%w: alertId", errMissingField)
		}
		return m, typ, nil
	}

	return unknownMsg{Type: typ}, typ, nil
}

func isAbsent(raw json.RawMessage) bool {
	s := strings.TrimSpace(string(raw))
	return s == "" || s == "null"
}

// Outbound frames.

type initFrame struct {
	Type         MessageType        `json:"type"`
	Patients     []registry.Patient `json:"patients"`
	RecentAlerts []ledger.Alert     `json:"recentAlerts"`
}

type patientConnectedFrame struct {
	Type MessageType `json:"type"`
	registry.Patient
}

type patientDisconnectedFrame struct {
	Type      MessageType `json:"type"`
	PatientID string      `json:"patientId"`
}

type newAlertFrame struct {
	Type  MessageType  `json:"type"`
	Alert ledger.Alert `json:"alert"`
}

type alertAcknowledgedFrame struct {
	Type           MessageType `json:"type"`
	AlertID        string      `json:"alertId"`
	AcknowledgedBy string      `json:"acknowledgedBy"`
}

type startStreamFrame struct {
	Type      MessageType `json:"type"`
	NurseID   string      `json:"nurseId"`
	PatientID string      `json:"patientId"`
}

type offerFrame struct {
	Type        MessageType     `json:"type"`
	Offer       json.RawMessage `json:"offer"`
	PatientID   string          `json:"patientId"`
	NurseID     string          `json:"nurseId"`
	PatientName string          `json:"patientName,omitempty"`
	RoomNumber  string          `json:"roomNumber,omitempty"`
}

type answerFrame struct {
	Type      MessageType     `json:"type"`
	Answer    json.RawMessage `json:"answer"`
	PatientID string          `json:"patientId"`
	NurseID   string          `json:"nurseId"`
}

type webrtcErrorFrame struct {
	Type      MessageType `json:"type"`
	PatientID string      `json:"patientId"`
	NurseID   string      `json:"nurseId,omitempty"`
	Message   string      `json:"message"`
}

type errorFrame struct {
	Type    MessageType `json:"type"`
	Message string      `json:"message"`
}
