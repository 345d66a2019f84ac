package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
)

var labelEscaper = strings.NewReplacer("\\", "\\\\", "\"", "\\\"", "\n", "\\n")

// GaugeFunc reports a point-in-time gauge as (metric name, help text, value).
type GaugeFunc func() (name, help string, value int64)

// PrometheusHandler serves every counter as one `event`-labelled series, plus
// any gauges reported by the supplied callbacks.
func PrometheusHandler(m *Metrics, gauges ...GaugeFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m == nil {
			http.Error(w, "metrics not configured", http.StatusInternalServerError)
			return
		}

		snap := m.Snapshot()
		keys := make([]string, 0, len(snap))
		for k := range snap {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		_, _ = fmt.Fprintln(w, "# HELP patient_monitor_relay_events_total Internal event counters.")
		_, _ = fmt.Fprintln(w, "# TYPE patient_monitor_relay_events_total counter")
		for _, k := range keys {
			_, _ = fmt.Fprintf(w, "patient_monitor_relay_events_total{event=\"%s\"} %d\n", labelEscaper.Replace(k), snap[k])
		}
		for _, g := range gauges {
			name, help, value := g()
			_, _ = fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s gauge\n%s %d\n", name, help, name, name, value)
		}
	})
}
