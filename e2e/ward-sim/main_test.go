package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/wilsonzlin/aero/proxy/patient-monitor-relay/internal/ledger"
	"github.com/wilsonzlin/aero/proxy/patient-monitor-relay/internal/registry"
	"github.com/wilsonzlin/aero/proxy/patient-monitor-relay/internal/signaling"
)

func startRelay(t *testing.T) (*signaling.Router, string) {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	router := signaling.NewRouter(signaling.RouterConfig{
		Registry: registry.New(),
		Ledger:   ledger.New(0),
		Logger:   log,
	})
	srv := signaling.NewServer(signaling.Config{Router: router, Logger: log})
	mux := http.NewServeMux()
	srv.RegisterRoutes(mux)
	ts := httptest.NewServer(mux)
	t.Cleanup(func() {
		srv.Close()
		ts.Close()
	})
	return router, "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
}

func TestRun_FullWardSession(t *testing.T) {
	router, wsURL := startRelay(t)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var out bytes.Buffer
	err := run(ctx, scenario{
		RelayURL:  wsURL,
		Origin:    "http://localhost",
		NurseID:   "N1",
		PatientID: "P1",
		Room:      "12",
		Step:      10 * time.Second,
	}, &out)
	if err != nil {
		t.Fatalf("run: %v\noutput:\n%s", err, out.String())
	}
	if !strings.Contains(out.String(), "WARD OK") {
		t.Fatalf("output=%q, want WARD OK", out.String())
	}

	alerts := router.Ledger().Recent(0)
	if len(alerts) != 1 || !alerts[0].Acknowledged || alerts[0].AcknowledgedBy != "N1" {
		t.Fatalf("ledger=%+v, want one alert acknowledged by N1", alerts)
	}
}

func TestRun_FailsWithoutRelay(t *testing.T) {
	err := run(context.Background(), scenario{
		RelayURL: "ws://127.0.0.1:1/ws",
		Origin:   "http://localhost",
		NurseID:  "N1",
		Step:     time.Second,
	}, io.Discard)
	if err == nil {
		t.Fatalf("run against a closed port succeeded")
	}
}
