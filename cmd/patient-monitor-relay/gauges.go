package main

import (
	"github.com/wilsonzlin/aero/proxy/patient-monitor-relay/internal/ledger"
	"github.com/wilsonzlin/aero/proxy/patient-monitor-relay/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/patient-monitor-relay/internal/registry"
)

type connectionCounter interface {
	ConnectionCount() int
}

func relayGauges(reg *registry.Registry, led *ledger.Ledger, conns connectionCounter) []metrics.GaugeFunc {
	return []metrics.GaugeFunc{
		func() (string, string, int64) {
			patients, _ := reg.Counts()
			return "patient_monitor_relay_patients", "Registered patients.", int64(patients)
		},
		func() (string, string, int64) {
			_, nurses := reg.Counts()
			return "patient_monitor_relay_nurses", "Registered nurses.", int64(nurses)
		},
		func() (string, string, int64) {
			return "patient_monitor_relay_alerts_retained", "Alerts held in the in-memory ledger.", int64(led.Len())
		},
		func() (string, string, int64) {
			return "patient_monitor_relay_ws_connections", "Open signaling WebSocket connections.", int64(conns.ConnectionCount())
		},
	}
}
