package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/holla2040/hotfire/internal/ecu"
	"github.com/holla2040/hotfire/internal/estop"
	"github.com/holla2040/hotfire/internal/metrics"
	"github.com/holla2040/hotfire/internal/stand"
	"github.com/holla2040/hotfire/internal/store"
	"github.com/holla2040/hotfire/internal/transport"
)

type fakeStation struct {
	status    stand.Status
	submitted []ecu.Command
	err       error
}

func (f *fakeStation) Status() stand.Status { return f.status }

func (f *fakeStation) Submit(c ecu.Command) error {
	if f.err != nil {
		return f.err
	}
	f.submitted = append(f.submitted, c)
	return nil
}

type fakeHealth struct{ h transport.Health }

func (f fakeHealth) Health() transport.Health { return f.h }

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestHandler(t *testing.T) (*Handler, *fakeStation) {
	t.Helper()
	st := &fakeStation{status: stand.Status{Stand: "igniter-hotfire", Station: "stand-01", Idle: true}}
	return &Handler{Station: st, Store: newTestStore(t), Hub: NewHub()}, st
}

func do(t *testing.T, h http.Handler, method, path string, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, rec.Body.String())
	}
}

func TestGetStatus(t *testing.T) {
	h, _ := newTestHandler(t)
	h.Redis = fakeHealth{transport.Health{Connected: true, Outages: 2}}

	rec := do(t, h.Router(), http.MethodGet, "/api/status", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var got map[string]any
	decode(t, rec, &got)
	if got["stand"] != "igniter-hotfire" || got["idle"] != true {
		t.Errorf("status body = %v", got)
	}
	redis, _ := got["redis"].(map[string]any)
	if redis["connected"] != true || redis["outages"] != float64(2) {
		t.Errorf("redis = %v", got["redis"])
	}
}

func TestPostCommand(t *testing.T) {
	h, st := newTestHandler(t)

	rec := do(t, h.Router(), http.MethodPost, "/api/commands", `{"kind":"set_fuel_tank","enable":true}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202 (body %s)", rec.Code, rec.Body)
	}
	if len(st.submitted) != 1 || st.submitted[0] != (ecu.Command{Kind: ecu.CmdSetFuelTank, Enable: true}) {
		t.Errorf("submitted = %v", st.submitted)
	}
}

func TestPostCommandErrors(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		submitErr error
		want      int
	}{
		{"bad json", `{"kind":`, nil, http.StatusBadRequest},
		{"unknown kind", `{"kind":"self_destruct"}`, nil, http.StatusBadRequest},
		{"rejected", `{"kind":"fire_engine","index":2}`, errors.New("no controller with index 2"), http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, st := newTestHandler(t)
			st.err = tt.submitErr
			rec := do(t, h.Router(), http.MethodPost, "/api/commands", tt.body)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d (body %s)", rec.Code, tt.want, rec.Body)
			}
			var body map[string]string
			decode(t, rec, &body)
			if body["error"] == "" {
				t.Error("error body missing")
			}
		})
	}
}

func TestListCommands(t *testing.T) {
	h, _ := newTestHandler(t)
	rec := do(t, h.Router(), http.MethodGet, "/api/commands", "")
	var kinds []string
	decode(t, rec, &kinds)
	if len(kinds) != len(ecu.CommandKinds()) || kinds[0] != "set_fuel_tank" {
		t.Errorf("kinds = %v", kinds)
	}
}

func seedRun(t *testing.T, s *store.Store) string {
	t.Helper()
	run, err := s.CreateRun("igniter-hotfire", "stand-01")
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	if err := s.RecordTelemetry(run.ID, ecu.Telemetry{Time: 0.02}, ecu.Telemetry{Time: 0.04, IgniterState: ecu.IgniterStartup}); err != nil {
		t.Fatalf("RecordTelemetry: %v", err)
	}
	if err := s.RecordEvent(run.ID, ecu.Transition{Time: 0.04, Subsystem: "igniter", From: "Idle", To: "Startup"}); err != nil {
		t.Fatalf("RecordEvent: %v", err)
	}
	if err := s.RecordAlerts(run.ID, ecu.AlertReport{Time: 0.04}); err != nil {
		t.Fatalf("RecordAlerts: %v", err)
	}
	return run.ID
}

func TestRunRoutes(t *testing.T) {
	h, _ := newTestHandler(t)
	id := seedRun(t, h.Store)
	router := h.Router()

	rec := do(t, router, http.MethodGet, "/api/runs", "")
	var runs []store.Run
	decode(t, rec, &runs)
	if len(runs) != 1 || runs[0].ID != id {
		t.Fatalf("runs = %+v", runs)
	}

	rec = do(t, router, http.MethodGet, "/api/runs/"+id, "")
	var run store.Run
	decode(t, rec, &run)
	if run.Stand != "igniter-hotfire" {
		t.Errorf("run = %+v", run)
	}

	rec = do(t, router, http.MethodGet, "/api/runs/"+id+"/events", "")
	var events []store.Event
	decode(t, rec, &events)
	if len(events) != 1 || events[0].To != "Startup" {
		t.Errorf("events = %+v", events)
	}

	rec = do(t, router, http.MethodGet, "/api/runs/"+id+"/alerts", "")
	var alerts []store.AlertRecord
	decode(t, rec, &alerts)
	if len(alerts) != 1 {
		t.Errorf("alerts = %+v", alerts)
	}

	rec = do(t, router, http.MethodGet, "/api/runs/"+id+"/telemetry.csv", "")
	if rec.Code != http.StatusOK || rec.Header().Get("Content-Type") != "text/csv" {
		t.Errorf("csv status = %d, type %q", rec.Code, rec.Header().Get("Content-Type"))
	}
	if lines := strings.Count(rec.Body.String(), "\n"); lines != 3 {
		t.Errorf("csv has %d lines, want 3", lines)
	}

	rec = do(t, router, http.MethodGet, "/api/runs/"+id+"/report.pdf", "")
	if rec.Code != http.StatusOK || !bytes.HasPrefix(rec.Body.Bytes(), []byte("%PDF-")) {
		t.Errorf("pdf status = %d, starts %q", rec.Code, rec.Body.Bytes()[:min(8, rec.Body.Len())])
	}
}

func TestRunNotFound(t *testing.T) {
	h, _ := newTestHandler(t)
	router := h.Router()
	for _, path := range []string{"/api/runs/nope", "/api/runs/nope/events", "/api/runs/nope/alerts", "/api/runs/nope/telemetry.csv", "/api/runs/nope/report.pdf"} {
		if rec := do(t, router, http.MethodGet, path, ""); rec.Code != http.StatusNotFound {
			t.Errorf("GET %s = %d, want 404", path, rec.Code)
		}
	}
	if rec := do(t, router, http.MethodDelete, "/api/runs/nope", ""); rec.Code != http.StatusNotFound {
		t.Errorf("DELETE = %d, want 404", rec.Code)
	}
}

func TestDeleteRun(t *testing.T) {
	h, st := newTestHandler(t)
	id := seedRun(t, h.Store)
	router := h.Router()

	st.status.RunID = id
	if rec := do(t, router, http.MethodDelete, "/api/runs/"+id, ""); rec.Code != http.StatusConflict {
		t.Errorf("deleting the live run = %d, want 409", rec.Code)
	}
	st.status.RunID = ""
	if rec := do(t, router, http.MethodDelete, "/api/runs/"+id, ""); rec.Code != http.StatusNoContent {
		t.Errorf("DELETE = %d, want 204", rec.Code)
	}
	if rec := do(t, router, http.MethodGet, "/api/runs/"+id, ""); rec.Code != http.StatusNotFound {
		t.Errorf("GET after delete = %d, want 404", rec.Code)
	}
}

func TestRunsWithoutStore(t *testing.T) {
	h, _ := newTestHandler(t)
	h.Store = nil
	if rec := do(t, h.Router(), http.MethodGet, "/api/runs", ""); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	h, _ := newTestHandler(t)
	h.Estop = estop.New(func(estop.State) {})
	h.Metrics = promhttp.HandlerFor(prometheus.NewRegistry(), promhttp.HandlerOpts{})
	router := h.Router()
	tests := []struct {
		method, path string
	}{
		{http.MethodPut, "/api/status"},
		{http.MethodDelete, "/api/commands"},
		{http.MethodPatch, "/api/estop"},
		{http.MethodPost, "/api/runs"},
		{http.MethodPut, "/api/runs/abc"},
		{http.MethodPost, "/api/runs/abc/events"},
		{http.MethodDelete, "/api/runs/abc/report.pdf"},
		{http.MethodPost, "/metrics"},
	}
	for _, tt := range tests {
		if rec := do(t, router, tt.method, tt.path, ""); rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("%s %s = %d, want %d", tt.method, tt.path, rec.Code, http.StatusMethodNotAllowed)
		}
	}
	if rec := do(t, router, http.MethodGet, "/api/nope", ""); rec.Code != http.StatusNotFound {
		t.Errorf("GET /api/nope = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestMetricsRoute(t *testing.T) {
	h, _ := newTestHandler(t)
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	m.SendTelemetry(ecu.Telemetry{Time: 4.5})
	h.Metrics = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})

	rec := do(t, h.Router(), http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "hotfire_sim_time_seconds 4.5") {
		t.Errorf("metrics output missing sim time:\n%s", rec.Body)
	}
}

func TestEstopRoutes(t *testing.T) {
	h, st := newTestHandler(t)
	var tripped []estop.State
	h.Estop = estop.New(func(s estop.State) { tripped = append(tripped, s) })
	router := h.Router()

	rec := do(t, router, http.MethodPost, "/api/estop", `{"reason":"fire in bay","initiator":"rso"}`)
	var s estop.State
	decode(t, rec, &s)
	if rec.Code != http.StatusOK || !s.Active || s.Reason != "fire in bay" {
		t.Fatalf("POST /api/estop = %d %+v", rec.Code, s)
	}
	if len(tripped) != 1 || tripped[0].Initiator != "rso" {
		t.Errorf("trip callback got %+v", tripped)
	}

	rec = do(t, router, http.MethodPost, "/api/commands", `{"kind":"fire_igniter"}`)
	if rec.Code != http.StatusConflict || len(st.submitted) != 0 {
		t.Errorf("command during e-stop = %d, submitted %v", rec.Code, st.submitted)
	}

	rec = do(t, router, http.MethodGet, "/api/status", "")
	var status map[string]any
	decode(t, rec, &status)
	if e, _ := status["estop"].(map[string]any); e["active"] != true {
		t.Errorf("status estop = %v", status["estop"])
	}

	if rec := do(t, router, http.MethodDelete, "/api/estop", ""); rec.Code != http.StatusOK {
		t.Errorf("DELETE /api/estop = %d", rec.Code)
	}
	if rec := do(t, router, http.MethodDelete, "/api/estop", ""); rec.Code != http.StatusConflict {
		t.Errorf("second DELETE = %d, want 409", rec.Code)
	}

	rec = do(t, router, http.MethodPost, "/api/estop", "")
	decode(t, rec, &s)
	if s.Initiator != "api" || s.Reason != "unspecified" || s.Trips != 2 {
		t.Errorf("bodyless trip = %+v", s)
	}
}

func TestEstopRoutesAbsentWithoutCoordinator(t *testing.T) {
	h, _ := newTestHandler(t)
	if rec := do(t, h.Router(), http.MethodGet, "/api/estop", ""); rec.Code != http.StatusNotFound {
		t.Errorf("GET /api/estop = %d, want 404", rec.Code)
	}
}
