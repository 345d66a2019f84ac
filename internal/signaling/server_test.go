package signaling

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/cors"

	"github.com/wilsonzlin/aero/proxy/patient-monitor-relay/internal/auth"
	"github.com/wilsonzlin/aero/proxy/patient-monitor-relay/internal/config"
)

func startTestServer(t *testing.T, mutate func(*Config)) (*httptest.Server, *Server, *Router) {
	t.Helper()
	router, _, m := newTestRouter(config.OfferRoleNurse)
	cfg := Config{
		Router:  router,
		Metrics: m,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	srv := NewServer(cfg)

	mux := http.NewServeMux()
	srv.RegisterRoutes(mux)
	ts := httptest.NewServer(mux)
	t.Cleanup(func() {
		srv.Close()
		ts.Close()
	})
	return ts, srv, router
}

func wsURL(ts *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + path
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	c, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func writeFrame(t *testing.T, c *websocket.Conn, raw string) {
	t.Helper()
	if err := c.WriteMessage(websocket.TextMessage, []byte(raw)); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func readFrame(t *testing.T, c *websocket.Conn) map[string]any {
	t.Helper()
	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := c.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("decode %q: %v", data, err)
	}
	return m
}

func TestWebSocket_EndToEnd(t *testing.T) {
	ts, _, router := startTestServer(t, nil)

	nurse := dial(t, wsURL(ts, "/ws"))
	writeFrame(t, nurse, `{"type":"register_nurse","nurseId":"N1"}`)
	if f := readFrame(t, nurse); f["type"] != "init" {
		t.Fatalf("first frame=%v, want init", f)
	}

	// The bare root path serves the same socket.
	patient := dial(t, wsURL(ts, "/"))
	writeFrame(t, patient, `{"type":"register_patient","patientId":"P1","patientName":"Jane","roomNumber":"12"}`)
	pc := readFrame(t, nurse)
	if pc["type"] != "patient_connected" || pc["patientName"] != "Jane" || pc["roomNumber"] != "12" {
		t.Fatalf("patient_connected=%v", pc)
	}

	writeFrame(t, patient, `{"type":"alert","patientId":"P1","condition":"FALL","confidence":0.9,"description":"Detected fall","urgency":"critical"}`)
	na := readFrame(t, nurse)
	if na["type"] != "new_alert" {
		t.Fatalf("frame=%v, want new_alert", na)
	}
	if router.Ledger().Len() != 1 {
		t.Fatalf("ledger len=%d, want 1", router.Ledger().Len())
	}

	writeFrame(t, nurse, `{"type":"webrtc_offer","patientId":"P1","offer":{"type":"offer","sdp":"v=0"}}`)
	of := readFrame(t, patient)
	if of["type"] != "webrtc_offer" || of["nurseId"] != "N1" {
		t.Fatalf("offer=%v", of)
	}

	_ = patient.Close()
	pd := readFrame(t, nurse)
	if pd["type"] != "patient_disconnected" || pd["patientId"] != "P1" {
		t.Fatalf("frame=%v, want patient_disconnected", pd)
	}
}

func TestWebSocket_MalformedFrameKeepsConnectionOpen(t *testing.T) {
	ts, _, _ := startTestServer(t, nil)
	c := dial(t, wsURL(ts, "/ws"))

	writeFrame(t, c, `this is not json`)
	if err := c.WriteMessage(websocket.BinaryMessage, []byte{0x01, 0x02}); err != nil {
		t.Fatalf("write binary: %v", err)
	}
	writeFrame(t, c, `{"type":"register_nurse","nurseId":"N1"}`)
	if f := readFrame(t, c); f["type"] != "init" {
		t.Fatalf("frame=%v, want init after malformed input", f)
	}
}

func TestWebSocket_RequiresCredentials(t *testing.T) {
	ts, _, _ := startTestServer(t, func(cfg *Config) {
		cfg.AuthMode = config.AuthModeAPIKey
		cfg.Verifier = auth.APIKeyVerifier{Expected: "secret"}
	})

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(ts, "/ws"), nil)
	if err == nil {
		t.Fatalf("dial without credentials succeeded")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("resp=%v, want 401", resp)
	}

	_, resp, err = websocket.DefaultDialer.Dial(wsURL(ts, "/ws?apiKey=wrong"), nil)
	if err == nil || resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("dial with wrong key: err=%v resp=%v, want 401", err, resp)
	}

	c := dial(t, wsURL(ts, "/ws?apiKey=secret"))
	writeFrame(t, c, `{"type":"register_nurse","nurseId":"N1"}`)
	if f := readFrame(t, c); f["type"] != "init" {
		t.Fatalf("frame=%v, want init", f)
	}
}

func TestNewServer_ZeroValueAuthModeAcceptsSockets(t *testing.T) {
	router, _, _ := newTestRouter(config.OfferRoleNurse)
	srv := NewServer(Config{Router: router})
	if srv.cfg.AuthMode != config.AuthModeNone {
		t.Fatalf("AuthMode=%q, want %q", srv.cfg.AuthMode, config.AuthModeNone)
	}

	mux := http.NewServeMux()
	srv.RegisterRoutes(mux)
	ts := httptest.NewServer(mux)
	t.Cleanup(func() {
		srv.Close()
		ts.Close()
	})

	c := dial(t, wsURL(ts, "/ws"))
	writeFrame(t, c, `{"type":"register_nurse","nurseId":"N1"}`)
	if f := readFrame(t, c); f["type"] != "init" {
		t.Fatalf("frame=%v, want init", f)
	}
}

func signedToken(t *testing.T, secret, sub, role string) string {
	t.Helper()
	now := time.Now()
	token, err := auth.SignHS256([]byte(secret), map[string]any{
		"sub":  sub,
		"role": role,
		"iat":  now.Unix(),
		"exp":  now.Add(time.Hour).Unix(),
	})
	if err != nil {
		t.Fatalf("SignHS256: %v", err)
	}
	return token
}

func TestWebSocket_TokenBindsRegistration(t *testing.T) {
	ts, _, router := startTestServer(t, func(cfg *Config) {
		cfg.AuthMode = config.AuthModeJWT
		cfg.Verifier = auth.NewJWTVerifier("s3cret")
	})

	nurse := dial(t, wsURL(ts, "/ws?token="+signedToken(t, "s3cret", "N1", "nurse")))
	writeFrame(t, nurse, `{"type":"register_nurse","nurseId":"N1"}`)
	if f := readFrame(t, nurse); f["type"] != "init" {
		t.Fatalf("frame=%v, want init", f)
	}

	patient := dial(t, wsURL(ts, "/ws?token="+signedToken(t, "s3cret", "P1", "patient")))
	writeFrame(t, patient, `{"type":"register_nurse","nurseId":"P1"}`)
	writeFrame(t, patient, `{"type":"register_patient","patientId":"P2"}`)
	writeFrame(t, patient, `{"type":"register_patient","patientId":"P1","patientName":"Jane"}`)

	// Frames from one socket are applied in order, so the first announcement
	// shows the earlier registrations were refused.
	pc := readFrame(t, nurse)
	if pc["type"] != "patient_connected" || pc["patientId"] != "P1" {
		t.Fatalf("frame=%v, want patient_connected P1", pc)
	}
	if _, ok := router.Registry().LookupNurse("P1"); ok {
		t.Fatalf("patient token registered as nurse")
	}
	if _, ok := router.Registry().LookupPatient("P2"); ok {
		t.Fatalf("token for P1 registered P2")
	}
}

func TestWebSocket_OriginCheck(t *testing.T) {
	ts, _, _ := startTestServer(t, func(cfg *Config) {
		cfg.Origins = cors.New(cors.Options{AllowedOrigins: []string{"https://ward.example"}})
	})

	h := http.Header{}
	h.Set("Origin", "https://evil.example")
	_, resp, err := websocket.DefaultDialer.Dial(wsURL(ts, "/ws"), h)
	if err == nil {
		t.Fatalf("dial from disallowed origin succeeded")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("resp=%v, want 403", resp)
	}

	h.Set("Origin", "https://ward.example")
	c, _, err := websocket.DefaultDialer.Dial(wsURL(ts, "/ws"), h)
	if err != nil {
		t.Fatalf("dial from allowed origin: %v", err)
	}
	_ = c.Close()
}

func TestWebSocket_RateLimitClosesConnection(t *testing.T) {
	ts, _, _ := startTestServer(t, func(cfg *Config) {
		cfg.MaxMessagesPerSecond = 2
	})
	c := dial(t, wsURL(ts, "/ws"))

	for i := 0; i < 5; i++ {
		writeFrame(t, c, `{"type":"heartbeat","patientId":"P1"}`)
	}

	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
	var sawError bool
	for {
		_, data, err := c.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
				t.Fatalf("err=%v, want policy violation close", err)
			}
			break
		}
		if strings.Contains(string(data), "rate limit exceeded") {
			sawError = true
		}
	}
	if !sawError {
		t.Fatalf("expected an error frame before close")
	}
}

func TestWebSocket_MessageTooLarge(t *testing.T) {
	ts, _, _ := startTestServer(t, func(cfg *Config) {
		cfg.MaxMessageBytes = 64
	})
	c := dial(t, wsURL(ts, "/ws"))
	writeFrame(t, c, `{"type":"register_nurse","nurseId":"`+strings.Repeat("x", 128)+`"}`)

	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := c.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseMessageTooBig) {
		t.Fatalf("err=%v, want message too big close", err)
	}
}

func TestWebSocket_IdleTimeoutClosesWithoutPong(t *testing.T) {
	ts, _, _ := startTestServer(t, func(cfg *Config) {
		cfg.IdleTimeout = 500 * time.Millisecond
		cfg.PingInterval = 50 * time.Millisecond
	})
	c := dial(t, wsURL(ts, "/ws"))

	pingSeen := make(chan struct{}, 1)
	c.SetPingHandler(func(string) error {
		select {
		case pingSeen <- struct{}{}:
		default:
		}
		// Do not answer with a pong.
		return nil
	})

	errCh := make(chan error, 1)
	go func() {
		_, _, err := c.ReadMessage()
		errCh <- err
	}()

	select {
	case <-pingSeen:
	case err := <-errCh:
		t.Fatalf("connection closed before receiving ping: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout waiting for server ping")
	}

	select {
	case err := <-errCh:
		if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
			t.Fatalf("expected close normal closure, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout waiting for server to close idle websocket")
	}
}

func TestWebSocket_PongKeepsConnectionOpen(t *testing.T) {
	idleTimeout := 500 * time.Millisecond
	pingInterval := 50 * time.Millisecond
	ts, _, _ := startTestServer(t, func(cfg *Config) {
		cfg.IdleTimeout = idleTimeout
		cfg.PingInterval = pingInterval
	})
	c := dial(t, wsURL(ts, "/ws"))

	// The default ping handler answers with a pong while ReadMessage runs.
	errCh := make(chan error, 1)
	go func() {
		_, _, err := c.ReadMessage()
		errCh <- err
	}()

	time.Sleep(idleTimeout + 4*pingInterval)
	select {
	case err := <-errCh:
		t.Fatalf("unexpected close before idle timeout elapsed: %v", err)
	default:
	}

	_ = c.Close()
	select {
	case <-errCh:
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout waiting for read goroutine to exit")
	}
}

func TestServer_CloseDisconnectsClients(t *testing.T) {
	ts, srv, _ := startTestServer(t, nil)
	c := dial(t, wsURL(ts, "/ws"))
	writeFrame(t, c, `{"type":"register_nurse","nurseId":"N1"}`)
	readFrame(t, c)

	deadline := time.Now().Add(2 * time.Second)
	for srv.ConnectionCount() != 1 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	srv.Close()

	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := c.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Fatalf("err=%v, want going away close", err)
	}
}

func TestServer_RootWithoutUpgrade(t *testing.T) {
	ts, _, _ := startTestServer(t, nil)
	resp, err := http.Get(ts.URL + "/")
	if err != nil {
		t.Fatalf("GET /: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d, want 200", resp.StatusCode)
	}
	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["websocket"] != "/ws" {
		t.Fatalf("body=%v", body)
	}
}
