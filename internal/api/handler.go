// Package api is the stand's HTTP surface: status, command submission, the
// run log and its reports, live telemetry over WebSocket, and metrics.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/holla2040/hotfire/internal/ecu"
	"github.com/holla2040/hotfire/internal/estop"
	"github.com/holla2040/hotfire/internal/report"
	"github.com/holla2040/hotfire/internal/stand"
	"github.com/holla2040/hotfire/internal/store"
	"github.com/holla2040/hotfire/internal/transport"
)

// Station is the running stand as the API sees it.
type Station interface {
	Status() stand.Status
	Submit(c ecu.Command) error
}

// HealthReporter reports the Redis connection state.
type HealthReporter interface {
	Health() transport.Health
}

type statusResponse struct {
	stand.Status
	Redis   *transport.Health `json:"redis,omitempty"`
	Estop   *estop.State      `json:"estop,omitempty"`
	Clients int               `json:"ws_clients"`
	Dropped uint64            `json:"ws_dropped"`
}

type estopRequest struct {
	Reason    string `json:"reason"`
	Initiator string `json:"initiator"`
}

// Handler holds all dependencies for HTTP request handling. Store, Redis,
// Estop and Metrics may be nil; their routes then answer 503 or are absent.
type Handler struct {
	Station Station
	Store   *store.Store
	Hub     *Hub
	Redis   HealthReporter
	Estop   *estop.Coordinator
	Metrics http.Handler
}

// Router builds the route table.
func (h *Handler) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/api/status", h.getStatus).Methods(http.MethodGet)
	r.HandleFunc("/api/commands", h.listCommands).Methods(http.MethodGet)
	r.HandleFunc("/api/commands", h.postCommand).Methods(http.MethodPost)
	if h.Estop != nil {
		r.HandleFunc("/api/estop", h.getEstop).Methods(http.MethodGet)
		r.HandleFunc("/api/estop", h.triggerEstop).Methods(http.MethodPost)
		r.HandleFunc("/api/estop", h.acknowledgeEstop).Methods(http.MethodDelete)
	}
	r.HandleFunc("/api/runs", h.listRuns).Methods(http.MethodGet)
	r.HandleFunc("/api/runs/{id}", h.getRun).Methods(http.MethodGet)
	r.HandleFunc("/api/runs/{id}", h.deleteRun).Methods(http.MethodDelete)
	r.HandleFunc("/api/runs/{id}/events", h.listEvents).Methods(http.MethodGet)
	r.HandleFunc("/api/runs/{id}/alerts", h.listAlerts).Methods(http.MethodGet)
	r.HandleFunc("/api/runs/{id}/telemetry.csv", h.exportCSV).Methods(http.MethodGet)
	r.HandleFunc("/api/runs/{id}/report.pdf", h.exportPDF).Methods(http.MethodGet)
	if h.Hub != nil {
		r.HandleFunc("/ws", h.Hub.HandleWebSocket)
	}
	if h.Metrics != nil {
		r.Handle("/metrics", h.Metrics).Methods(http.MethodGet)
	}
	return r
}

func (h *Handler) getStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{Status: h.Station.Status()}
	if h.Redis != nil {
		health := h.Redis.Health()
		resp.Redis = &health
	}
	if h.Estop != nil {
		st := h.Estop.State()
		resp.Estop = &st
	}
	if h.Hub != nil {
		resp.Clients = h.Hub.ClientCount()
		resp.Dropped = h.Hub.Dropped()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) listCommands(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, ecu.CommandKinds())
}

func (h *Handler) postCommand(w http.ResponseWriter, r *http.Request) {
	var c ecu.Command
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid command: %v", err))
		return
	}
	if h.Estop != nil && h.Estop.Active() {
		writeError(w, http.StatusConflict, "emergency stop active")
		return
	}
	if err := h.Station.Submit(c); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	if h.Hub != nil {
		h.Hub.BroadcastEvent(EventCommand, c)
	}
	writeJSON(w, http.StatusAccepted, c)
}

func (h *Handler) getEstop(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Estop.State())
}

func (h *Handler) triggerEstop(w http.ResponseWriter, r *http.Request) {
	var req estopRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	if req.Initiator == "" {
		req.Initiator = "api"
	}
	writeJSON(w, http.StatusOK, h.Estop.Trigger(req.Reason, req.Initiator))
}

func (h *Handler) acknowledgeEstop(w http.ResponseWriter, r *http.Request) {
	if !h.Estop.Acknowledge() {
		writeError(w, http.StatusConflict, "no emergency stop to acknowledge")
		return
	}
	writeJSON(w, http.StatusOK, h.Estop.State())
}

// runStore writes 503 and returns nil when no store is configured.
func (h *Handler) runStore(w http.ResponseWriter) *store.Store {
	if h.Store == nil {
		writeError(w, http.StatusServiceUnavailable, "run log disabled")
	}
	return h.Store
}

func (h *Handler) listRuns(w http.ResponseWriter, r *http.Request) {
	st := h.runStore(w)
	if st == nil {
		return
	}
	runs, err := st.ListRuns()
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to list runs: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func (h *Handler) getRun(w http.ResponseWriter, r *http.Request) {
	st := h.runStore(w)
	if st == nil {
		return
	}
	run, err := st.GetRun(mux.Vars(r)["id"])
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (h *Handler) deleteRun(w http.ResponseWriter, r *http.Request) {
	st := h.runStore(w)
	if st == nil {
		return
	}
	id := mux.Vars(r)["id"]
	if h.Station.Status().RunID == id {
		writeError(w, http.StatusConflict, "run is in progress")
		return
	}
	if err := st.DeleteRun(id); err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listEvents(w http.ResponseWriter, r *http.Request) {
	st := h.runStore(w)
	if st == nil {
		return
	}
	id := mux.Vars(r)["id"]
	if _, err := st.GetRun(id); err != nil {
		writeStoreError(w, err)
		return
	}
	events, err := st.QueryEvents(id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (h *Handler) listAlerts(w http.ResponseWriter, r *http.Request) {
	st := h.runStore(w)
	if st == nil {
		return
	}
	id := mux.Vars(r)["id"]
	if _, err := st.GetRun(id); err != nil {
		writeStoreError(w, err)
		return
	}
	alerts, err := st.QueryAlerts(id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, alerts)
}

func (h *Handler) exportCSV(w http.ResponseWriter, r *http.Request) {
	st := h.runStore(w)
	if st == nil {
		return
	}
	id := mux.Vars(r)["id"]
	if _, err := st.GetRun(id); err != nil {
		writeStoreError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s.csv", id))
	if err := report.ExportCSV(w, st, id); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (h *Handler) exportPDF(w http.ResponseWriter, r *http.Request) {
	st := h.runStore(w)
	if st == nil {
		return
	}
	id := mux.Vars(r)["id"]
	if _, err := st.GetRun(id); err != nil {
		writeStoreError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s.pdf", id))
	if err := report.GeneratePDF(w, st, id); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
