package api

import (
	"net/http"

	"github.com/wilsonzlin/aero/proxy/patient-monitor-relay/internal/httpserver"
)

type healthResponse struct {
	Status   string `json:"status"`
	Patients int    `json:"patients"`
	Nurses   int    `json:"nurses"`
	Alerts   int    `json:"alerts"`
	LiveKit  struct {
		Configured bool `json:"configured"`
	} `json:"livekit"`
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	var resp healthResponse
	resp.Status = "ok"
	resp.Patients, resp.Nurses = h.router.Registry().Counts()
	resp.Alerts = h.router.Ledger().Len()
	resp.LiveKit.Configured = h.liveKit.Configured()
	httpserver.WriteJSON(w, http.StatusOK, resp)
}
