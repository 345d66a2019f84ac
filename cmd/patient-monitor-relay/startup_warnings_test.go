package main

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/wilsonzlin/aero/proxy/patient-monitor-relay/internal/config"
)

type recordedLog struct {
	level slog.Level
	msg   string
	attrs map[string]any
}

type recordingHandler struct {
	mu      *sync.Mutex
	records *[]recordedLog
	attrs   []slog.Attr
	groups  []string
}

func newRecordingLogger() (*slog.Logger, func() []recordedLog) {
	mu := &sync.Mutex{}
	records := &[]recordedLog{}
	h := &recordingHandler{mu: mu, records: records}
	logger := slog.New(h)
	return logger, func() []recordedLog {
		mu.Lock()
		defer mu.Unlock()
		out := make([]recordedLog, len(*records))
		copy(out, *records)
		return out
	}
}

func (h *recordingHandler) Enabled(context.Context, slog.Level) bool {
	return true
}

func (h *recordingHandler) Handle(_ context.Context, r slog.Record) error {
	rec := recordedLog{
		level: r.Level,
		msg:   r.Message,
		attrs: map[string]any{},
	}
	for _, a := range h.attrs {
		rec.attrs[h.key(a.Key)] = a.Value.Any()
	}
	r.Attrs(func(a slog.Attr) bool {
		rec.attrs[h.key(a.Key)] = a.Value.Any()
		return true
	})

	h.mu.Lock()
	*h.records = append(*h.records, rec)
	h.mu.Unlock()
	return nil
}

func (h *recordingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	nh := h.clone()
	nh.attrs = append(nh.attrs, attrs...)
	return nh
}

func (h *recordingHandler) WithGroup(name string) slog.Handler {
	nh := h.clone()
	nh.groups = append(nh.groups, name)
	return nh
}

func (h *recordingHandler) clone() *recordingHandler {
	cp := &recordingHandler{
		mu:      h.mu,
		records: h.records,
	}
	if len(h.attrs) > 0 {
		cp.attrs = append([]slog.Attr(nil), h.attrs...)
	}
	if len(h.groups) > 0 {
		cp.groups = append([]string(nil), h.groups...)
	}
	return cp
}

func (h *recordingHandler) key(k string) string {
	if len(h.groups) == 0 {
		return k
	}
	return strings.Join(h.groups, ".") + "." + k
}

func warningCodes(records []recordedLog) map[string]recordedLog {
	out := map[string]recordedLog{}
	for _, r := range records {
		if r.level != slog.LevelWarn {
			continue
		}
		if code, ok := r.attrs["warning_code"].(string); ok {
			out[code] = r
		}
	}
	return out
}

func TestStartupSecurityWarnings_AuthModeNone(t *testing.T) {
	logger, records := newRecordingLogger()

	logStartupSecurityWarnings(logger, config.Config{
		Mode:     config.ModeDev,
		AuthMode: config.AuthModeNone,
	})

	r, ok := warningCodes(records())["auth_mode_none"]
	if !ok {
		t.Fatalf("expected warning_code=auth_mode_none, got %#v", records())
	}
	if r.attrs["auth_mode"] != config.AuthModeNone {
		t.Fatalf("auth_mode attr = %#v, want %q", r.attrs["auth_mode"], config.AuthModeNone)
	}
}

func TestStartupSecurityWarnings_AllowedOriginsWildcard(t *testing.T) {
	logger, records := newRecordingLogger()

	logStartupSecurityWarnings(logger, config.Config{
		Mode:           config.ModeDev,
		AuthMode:       config.AuthModeAPIKey,
		APIKey:         "secret",
		AllowedOrigins: []string{"*"},
	})

	if _, ok := warningCodes(records())["allowed_origins_wildcard"]; !ok {
		t.Fatalf("expected warning_code=allowed_origins_wildcard, got %#v", records())
	}
}

func TestStartupSecurityWarnings_ProdDefaults(t *testing.T) {
	logger, records := newRecordingLogger()

	logStartupSecurityWarnings(logger, config.Config{
		Mode:      config.ModeProd,
		AuthMode:  config.AuthModeNone,
		Overshoot: config.OvershootConfig{APIKey: "ov"},
		MQTT:      config.MQTTConfig{Broker: "tcp://broker.local:1883", Password: "pw"},
	})

	codes := warningCodes(records())
	for _, want := range []string{
		"auth_mode_none",
		"allowed_origins_unset_in_prod",
		"overshoot_key_unauthenticated",
		"http_rate_limit_disabled_in_prod",
		"mqtt_credentials_plaintext",
	} {
		if _, ok := codes[want]; !ok {
			t.Fatalf("missing warning_code=%s, got %#v", want, records())
		}
	}
	if got := codes["mqtt_credentials_plaintext"].attrs["mqtt_broker_host"]; got != "broker.local:1883" {
		t.Fatalf("mqtt_broker_host=%#v", got)
	}
}

func TestStartupSecurityWarnings_HardenedConfigIsQuiet(t *testing.T) {
	logger, records := newRecordingLogger()

	logStartupSecurityWarnings(logger, config.Config{
		Mode:                           config.ModeProd,
		AuthMode:                       config.AuthModeJWT,
		JWTSecret:                      "s",
		AllowedOrigins:                 []string{"https://ward.example.com"},
		HTTPRequestsPerSecondPerClient: 20,
		MaxSignalingMessageBytes:       64 * 1024,
		MQTT:                           config.MQTTConfig{Broker: "ssl://broker.local:8883", Password: "pw"},
	})

	if codes := warningCodes(records()); len(codes) != 0 {
		t.Fatalf("unexpected warnings: %#v", codes)
	}
}
