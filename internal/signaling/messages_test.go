package signaling

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestParseInbound_Variants(t *testing.T) {
	cases := []struct {
		raw  string
		typ  MessageType
		want any
	}{
		{
			raw:  `{"type":"register_patient","patientId":"P1","patientName":"Jane","roomNumber":12}`,
			typ:  MessageTypeRegisterPatient,
			want: registerPatientMsg{PatientID: "P1", PatientName: "Jane", RoomNumber: "12"},
		},
		{
			raw:  `{"type":"register_nurse","nurseId":"N1"}`,
			typ:  MessageTypeRegisterNurse,
			want: registerNurseMsg{NurseID: "N1"},
		},
		{
			raw:  `{"type":"register_nurse"}`,
			typ:  MessageTypeRegisterNurse,
			want: registerNurseMsg{},
		},
		{
			raw:  `{"type":"heartbeat","patientId":"P1","status":"sleeping"}`,
			typ:  MessageTypeHeartbeat,
			want: heartbeatMsg{PatientID: "P1", Status: "sleeping"},
		},
		{
			raw:  `{"type":"request_stream","patientId":7}`,
			typ:  MessageTypeRequestStream,
			want: requestStreamMsg{PatientID: "7"},
		},
		{
			raw:  `{"type":"acknowledge_alert","alertId":"alert_1_x","nurseId":"N1"}`,
			typ:  MessageTypeAcknowledgeAlert,
			want: acknowledgeAlertMsg{AlertID: "alert_1_x", NurseID: "N1"},
		},
		{
			raw:  `{"type":"who_knows"}`,
			typ:  "who_knows",
			want: unknownMsg{Type: "who_knows"},
		},
	}
	for _, tc := range cases {
		got, typ, err := parseInbound([]byte(tc.raw))
		if err != nil {
			t.Fatalf("parseInbound(%s): %v", tc.raw, err)
		}
		if typ != tc.typ {
			t.Fatalf("parseInbound(%s) type=%q, want %q", tc.raw, typ, tc.typ)
		}
		if got != tc.want {
			t.Fatalf("parseInbound(%s)=%#v, want %#v", tc.raw, got, tc.want)
		}
	}
}

func TestParseInbound_Alert(t *testing.T) {
	got, _, err := parseInbound([]byte(`{"type":"voice_alert","patientId":"P1","roomNumber":"12","condition":"HELP","confidence":0.75,"transcript":"help me"}`))
	if err != nil {
		t.Fatalf("parseInbound: %v", err)
	}
	m, ok := got.(alertMsg)
	if !ok {
		t.Fatalf("got %T, want alertMsg", got)
	}
	if !m.voice || m.PatientID != "P1" || m.RoomNumber != "12" || m.Condition != "HELP" || m.Transcript != "help me" {
		t.Fatalf("alertMsg=%+v", m)
	}
	if m.Confidence == nil || *m.Confidence != 0.75 {
		t.Fatalf("Confidence=%v, want 0.75", m.Confidence)
	}
}

func TestParseInbound_OfferKeepsPayloadVerbatim(t *testing.T) {
	got, _, err := parseInbound([]byte(`{"type":"webrtc_offer","patientId":"P1","offer":{"type":"offer","sdp":"v=0\r\n"}}`))
	if err != nil {
		t.Fatalf("parseInbound: %v", err)
	}
	m := got.(offerMsg)
	if string(m.Offer) != `{"type":"offer","sdp":"v=0\r\n"}` {
		t.Fatalf("Offer=%s", m.Offer)
	}
}

func TestParseInbound_Rejects(t *testing.T) {
	cases := []struct {
		raw  string
		want error
	}{
		{`not json`, errMalformed},
		{`[]`, errMalformed},
		{`{"patientId":"P1"}`, errMalformed},
		{`{"type":42}`, errMalformed},
		{`{"type":"register_patient"}`, errMissingField},
		{`{"type":"register_patient","patientId":"  "}`, errMissingField},
		{`{"type":"heartbeat"}`, errMissingField},
		{`{"type":"request_stream"}`, errMissingField},
		{`{"type":"webrtc_offer","patientId":"P1"}`, errMissingField},
		{`{"type":"webrtc_answer","nurseId":"N1","answer":null}`, errMissingField},
		{`{"type":"webrtc_ice_candidate","target":"doctor","patientId":"P1","nurseId":"N1","candidate":{}}`, errMissingField},
		{`{"type":"webrtc_ice_candidate","target":"patient","patientId":"P1","candidate":{}}`, errMissingField},
		{`{"type":"webrtc_ice_candidate","target":"patient","patientId":"P1","nurseId":"N1"}`, errMissingField},
		{`{"type":"acknowledge_alert","nurseId":"N1"}`, errMissingField},
		{`{"type":"alert","confidence":"high"}`, errMalformed},
	}
	for _, tc := range cases {
		_, _, err := parseInbound([]byte(tc.raw))
		if !errors.Is(err, tc.want) {
			t.Fatalf("parseInbound(%s) err=%v, want %v", tc.raw, err, tc.want)
		}
	}
}

func TestFlexString(t *testing.T) {
	cases := map[string]string{
		`"12"`:  "12",
		`12`:    "12",
		`null`:  "",
		`"B-4"`: "B-4",
		`12.5`:  "12.5",
		`"007"`: "007",
	}
	for in, want := range cases {
		var s FlexString
		if err := json.Unmarshal([]byte(in), &s); err != nil {
			t.Fatalf("Unmarshal(%s): %v", in, err)
		}
		if string(s) != want {
			t.Fatalf("Unmarshal(%s)=%q, want %q", in, s, want)
		}
	}
	for _, in := range []string{`true`, `{}`, `[1]`} {
		var s FlexString
		if err := json.Unmarshal([]byte(in), &s); err == nil {
			t.Fatalf("Unmarshal(%s) succeeded, want error", in)
		}
	}
}
