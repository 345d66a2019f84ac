package signaling

import (
	"errors"
	"reflect"
	"testing"
)

func FuzzParseInbound(f *testing.F) {
	f.Add([]byte(`{"type":"register_patient","patientId":"P1","patientName":"Jane","roomNumber":"12"}`))
	f.Add([]byte(`{"type":"register_nurse","nurseId":"N1"}`))
	f.Add([]byte(`{"type":"alert","patientId":"P1","condition":"FALL","confidence":0.9}`))
	f.Add([]byte(`{"type":"webrtc_offer","patientId":"P1","offer":{"type":"offer","sdp":"v=0"}}`))
	f.Add([]byte(`{"type":"webrtc_ice_candidate","target":"nurse","patientId":"P1","nurseId":"N1","candidate":{"candidate":"candidate:1 1 udp 1 127.0.0.1 9 typ host"}}`))

	// Known-bad cases.
	f.Add([]byte(`{"type":"bogus"}`))
	f.Add([]byte(`{"type":null}`))
	f.Add([]byte(`[]`))
	f.Add([]byte{})

	f.Fuzz(func(t *testing.T, data []byte) {
		msg1, typ1, err1 := parseInbound(data)
		msg2, typ2, err2 := parseInbound(data)
		if (err1 == nil) != (err2 == nil) {
			t.Fatalf("non-deterministic parse result: err1=%v err2=%v", err1, err2)
		}
		if typ1 != typ2 {
			t.Fatalf("non-deterministic type: %q vs %q", typ1, typ2)
		}
		if err1 != nil {
			if !errors.Is(err1, errMalformed) && !errors.Is(err1, errMissingField) {
				t.Fatalf("unexpected error class: %v", err1)
			}
			if msg1 != nil {
				t.Fatalf("error with non-nil message: %#v", msg1)
			}
			return
		}
		if !reflect.DeepEqual(msg1, msg2) {
			t.Fatalf("non-deterministic parse output: msg1=%#v msg2=%#v", msg1, msg2)
		}
	})
}
