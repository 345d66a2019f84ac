package main

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/wilsonzlin/aero/proxy/patient-monitor-relay/internal/ledger"
	"github.com/wilsonzlin/aero/proxy/patient-monitor-relay/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/patient-monitor-relay/internal/registry"
)

// nopChannel must not be zero-size: the registry tells channels apart by
// pointer.
type nopChannel struct{ sent int }

func (c *nopChannel) Send([]byte) error {
	c.sent++
	return nil
}

type fixedConns int

func (c fixedConns) ConnectionCount() int { return int(c) }

func TestMetricsEndpoint_ExposesRelayGauges(t *testing.T) {
	reg := registry.New()
	reg.RegisterPatient("P1", registry.PatientInfo{}, &nopChannel{})
	reg.RegisterPatient("P2", registry.PatientInfo{}, &nopChannel{})
	reg.RegisterNurse("N1", &nopChannel{})
	led := ledger.New(0)
	led.Append(ledger.Alert{PatientID: "P1"})

	m := metrics.New()
	m.Inc(metrics.AlertsRaised)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	metrics.PrometheusHandler(m, relayGauges(reg, led, fixedConns(3))...).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d, want %d", rr.Code, http.StatusOK)
	}
	body := rr.Body.String()
	for _, want := range []string{
		`patient_monitor_relay_events_total{event="alerts_raised"} 1`,
		"# TYPE patient_monitor_relay_patients gauge\npatient_monitor_relay_patients 2",
		"patient_monitor_relay_nurses 1",
		"patient_monitor_relay_alerts_retained 1",
		"patient_monitor_relay_ws_connections 3",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("missing %q in:\n%s", want, body)
		}
	}
}
