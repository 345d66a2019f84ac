// Command ward-sim drives one nurse and one patient through a full session
// against a running relay: registration, stream request, offer/answer with
// real WebRTC descriptions, an alert and its acknowledgement. It exits non-zero
// on the first step that does not complete.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pion/webrtc/v4"
	"golang.org/x/net/websocket"
)

type scenario struct {
	RelayURL  string
	Origin    string
	APIKey    string
	NurseID   string
	PatientID string
	Room      string
	Step      time.Duration
}

func main() {
	sc := scenario{
		RelayURL:  envOrDefault("RELAY_URL", "ws://127.0.0.1:3000/ws"),
		Origin:    envOrDefault("ORIGIN", "http://localhost"),
		APIKey:    os.Getenv("API_KEY"),
		NurseID:   envOrDefault("NURSE_ID", "sim-nurse"),
		PatientID: envOrDefault("PATIENT_ID", "sim-patient"),
		Room:      envOrDefault("ROOM", "101"),
		Step:      10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, sc, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "ward-sim: %v\n", err)
		os.Exit(1)
	}
}

type frame map[string]any

func (f frame) str(key string) string {
	s, _ := f[key].(string)
	return s
}

type participant struct {
	name string
	ws   *websocket.Conn
	step time.Duration
}

func dial(sc scenario, name string) (*participant, error) {
	target := sc.RelayURL
	if sc.APIKey != "" {
		u, err := url.Parse(target)
		if err != nil {
			return nil, err
		}
		q := u.Query()
		q.Set("apiKey", sc.APIKey)
		u.RawQuery = q.Encode()
		target = u.String()
	}
	ws, err := websocket.Dial(target, "", sc.Origin)
	if err != nil {
		return nil, fmt.Errorf("%s: dial %s: %w", name, sc.RelayURL, err)
	}
	return &participant{name: name, ws: ws, step: sc.Step}, nil
}

func (p *participant) send(v any) error {
	if err := websocket.JSON.Send(p.ws, v); err != nil {
		return fmt.Errorf("%s: send: %w", p.name, err)
	}
	return nil
}

// await reads frames until one of type typ arrives, discarding the rest.
func (p *participant) await(ctx context.Context, typ string) (frame, error) {
	deadline := time.Now().Add(p.step)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = p.ws.SetReadDeadline(deadline)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var raw string
		if err := websocket.Message.Receive(p.ws, &raw); err != nil {
			return nil, fmt.Errorf("%s: waiting for %s: %w", p.name, typ, err)
		}
		var f frame
		if err := json.Unmarshal([]byte(raw), &f); err != nil {
			continue
		}
		if f.str("type") == typ {
			return f, nil
		}
		if f.str("type") == "error" || f.str("type") == "webrtc_error" {
			return nil, fmt.Errorf("%s: waiting for %s: relay reported %q", p.name, typ, f.str("message"))
		}
	}
}

func run(ctx context.Context, sc scenario, out io.Writer) error {
	step := func(format string, args ...any) {
		fmt.Fprintf(out, "OK "+format+"\n", args...)
	}

	nurse, err := dial(sc, "nurse")
	if err != nil {
		return err
	}
	defer nurse.ws.Close()
	if err := nurse.send(frame{"type": "register_nurse", "nurseId": sc.NurseID}); err != nil {
		return err
	}
	if _, err := nurse.await(ctx, "init"); err != nil {
		return err
	}
	step("nurse %s registered", sc.NurseID)

	patient, err := dial(sc, "patient")
	if err != nil {
		return err
	}
	defer patient.ws.Close()
	if err := patient.send(frame{
		"type":        "register_patient",
		"patientId":   sc.PatientID,
		"patientName": "Simulated Patient",
		"roomNumber":  sc.Room,
	}); err != nil {
		return err
	}
	if f, err := nurse.await(ctx, "patient_connected"); err != nil {
		return err
	} else if f.str("patientId") != sc.PatientID {
		return fmt.Errorf("nurse: patient_connected for %q, want %q", f.str("patientId"), sc.PatientID)
	}
	step("patient %s registered in room %s", sc.PatientID, sc.Room)

	if err := nurse.send(frame{"type": "request_stream", "patientId": sc.PatientID}); err != nil {
		return err
	}
	if _, err := patient.await(ctx, "start_stream"); err != nil {
		return err
	}
	step("stream requested")

	if err := negotiate(ctx, sc, nurse, patient); err != nil {
		return err
	}
	step("session description exchanged")

	if err := patient.send(frame{
		"type":        "alert",
		"patientId":   sc.PatientID,
		"condition":   "SIMULATED_FALL",
		"confidence":  0.9,
		"urgency":     "high",
		"description": "ward-sim alert",
	}); err != nil {
		return err
	}
	created, err := nurse.await(ctx, "new_alert")
	if err != nil {
		return err
	}
	alert, _ := created["alert"].(map[string]any)
	alertID, _ := alert["id"].(string)
	if alertID == "" {
		return errors.New("nurse: new_alert without an alert id")
	}
	step("alert %s raised", alertID)

	if err := nurse.send(frame{"type": "acknowledge_alert", "alertId": alertID, "nurseId": sc.NurseID}); err != nil {
		return err
	}
	acked, err := nurse.await(ctx, "alert_acknowledged")
	if err != nil {
		return err
	}
	if acked.str("alertId") != alertID || acked.str("acknowledgedBy") != sc.NurseID {
		return fmt.Errorf("nurse: alert_acknowledged=%v", acked)
	}
	step("alert %s acknowledged", alertID)

	fmt.Fprintln(out, "WARD OK")
	return nil
}

// negotiate has the nurse offer a data channel session to the patient and
// applies the patient's answer. Candidates are gathered up front so no
// trickle ICE is needed.
func negotiate(ctx context.Context, sc scenario, nurse, patient *participant) error {
	nursePC, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return fmt.Errorf("nurse: new peer connection: %w", err)
	}
	defer nursePC.Close()
	if _, err := nursePC.CreateDataChannel("vitals", nil); err != nil {
		return fmt.Errorf("nurse: create data channel: %w", err)
	}
	offer, err := nursePC.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("nurse: create offer: %w", err)
	}
	localOffer, err := applyLocal(nursePC, offer)
	if err != nil {
		return fmt.Errorf("nurse: offer: %w", err)
	}
	if err := nurse.send(frame{"type": "webrtc_offer", "patientId": sc.PatientID, "offer": localOffer}); err != nil {
		return err
	}

	got, err := patient.await(ctx, "webrtc_offer")
	if err != nil {
		return err
	}
	if got.str("nurseId") != sc.NurseID {
		return fmt.Errorf("patient: offer from %q, want %q", got.str("nurseId"), sc.NurseID)
	}
	remoteOffer, err := decodeDescription(got["offer"])
	if err != nil {
		return fmt.Errorf("patient: %w", err)
	}

	patientPC, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return fmt.Errorf("patient: new peer connection: %w", err)
	}
	defer patientPC.Close()
	if err := patientPC.SetRemoteDescription(remoteOffer); err != nil {
		return fmt.Errorf("patient: set remote offer: %w", err)
	}
	answer, err := patientPC.CreateAnswer(nil)
	if err != nil {
		return fmt.Errorf("patient: create answer: %w", err)
	}
	localAnswer, err := applyLocal(patientPC, answer)
	if err != nil {
		return fmt.Errorf("patient: answer: %w", err)
	}
	if err := patient.send(frame{"type": "webrtc_answer", "nurseId": sc.NurseID, "answer": localAnswer}); err != nil {
		return err
	}

	got, err = nurse.await(ctx, "webrtc_answer")
	if err != nil {
		return err
	}
	remoteAnswer, err := decodeDescription(got["answer"])
	if err != nil {
		return fmt.Errorf("nurse: %w", err)
	}
	if err := nursePC.SetRemoteDescription(remoteAnswer); err != nil {
		return fmt.Errorf("nurse: set remote answer: %w", err)
	}
	return nil
}

// applyLocal sets desc as pc's local description and waits for ICE gathering
// so the returned description carries every candidate.
func applyLocal(pc *webrtc.PeerConnection, desc webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(desc); err != nil {
		return nil, err
	}
	<-gatherComplete
	local := pc.LocalDescription()
	if local == nil {
		return nil, errors.New("no local description after gathering")
	}
	return local, nil
}

func decodeDescription(v any) (webrtc.SessionDescription, error) {
	var desc webrtc.SessionDescription
	raw, err := json.Marshal(v)
	if err != nil {
		return desc, err
	}
	if err := json.Unmarshal(raw, &desc); err != nil {
		return desc, fmt.Errorf("decode session description: %w", err)
	}
	if desc.SDP == "" {
		return desc, errors.New("session description has no sdp")
	}
	return desc, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
