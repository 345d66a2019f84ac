package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/wilsonzlin/aero/proxy/patient-monitor-relay/internal/httpserver"
	"github.com/wilsonzlin/aero/proxy/patient-monitor-relay/internal/ledger"
	"github.com/wilsonzlin/aero/proxy/patient-monitor-relay/internal/registry"
	"github.com/wilsonzlin/aero/proxy/patient-monitor-relay/internal/signaling"
)

type patientSummary struct {
	registry.Patient
	Connected bool `json:"connected"`
}

func (h *Handler) handlePatients(w http.ResponseWriter, r *http.Request) {
	patients := h.router.Registry().Patients()
	out := make([]patientSummary, 0, len(patients))
	for _, p := range patients {
		out = append(out, patientSummary{Patient: p, Connected: true})
	}
	httpserver.WriteJSON(w, http.StatusOK, map[string]any{"patients": out})
}

func (h *Handler) handleAlerts(w http.ResponseWriter, r *http.Request) {
	limit := DefaultAlertLimit
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	httpserver.WriteJSON(w, http.StatusOK, map[string]any{"alerts": h.router.Ledger().Recent(limit)})
}

type acknowledgeRequest struct {
	NurseID string `json:"nurseId"`
}

func (h *Handler) handleAcknowledge(w http.ResponseWriter, r *http.Request) {
	var req acknowledgeRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if _, err := h.router.AcknowledgeAlert(r.PathValue("alertId"), req.NurseID); err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Alert not found")
			return
		}
		h.log.Error("acknowledge alert", "alert_id", r.PathValue("alertId"), "err", err)
		writeError(w, http.StatusInternalServerError, "failed to acknowledge alert")
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, map[string]any{"success": true})
}

// RoomAlertRequest is the body accepted by POST /alert.
type RoomAlertRequest struct {
	Room        signaling.FlexString `json:"room"`
	Event       string               `json:"event"`
	Transcript  string               `json:"transcript"`
	Severity    string               `json:"severity"`
	Source      string               `json:"source"`
	Description string               `json:"description"`
	Confidence  *float64             `json:"confidence"`
}

func (req RoomAlertRequest) toRoomAlert() signaling.RoomAlert {
	return signaling.RoomAlert{
		Room:        strings.TrimSpace(string(req.Room)),
		Event:       req.Event,
		Transcript:  req.Transcript,
		Severity:    req.Severity,
		Source:      req.Source,
		Description: req.Description,
		Confidence:  req.Confidence,
	}
}

func (h *Handler) handleRoomAlert(w http.ResponseWriter, r *http.Request) {
	var req RoomAlertRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ra := req.toRoomAlert()
	if ra.Room == "" {
		writeError(w, http.StatusBadRequest, "room is required")
		return
	}

	alert, err := h.router.IngestRoomAlert(ra)
	if err != nil {
		if errors.Is(err, signaling.ErrRoomNotFound) {
			httpserver.WriteJSON(w, http.StatusNotFound, errorBody{
				Error:   "No patient registered for room",
				Message: "room " + ra.Room,
			})
			return
		}
		h.log.Error("ingest room alert", "room", ra.Room, "err", err)
		writeError(w, http.StatusInternalServerError, "failed to raise alert")
		return
	}
	httpserver.WriteJSON(w, http.StatusCreated, map[string]any{"alert": alert})
}
