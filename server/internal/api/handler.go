package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/forgewatch/forgewatch/pkg/types"
	"github.com/forgewatch/forgewatch/server/internal/engine"
	"github.com/forgewatch/forgewatch/server/internal/normalize"
	"github.com/forgewatch/forgewatch/server/internal/persist"
)

// maxBodyBytes caps ingest and PATCH request bodies.
const maxBodyBytes = 1 << 20

// Backend is the engine surface served by the API. *engine.Engine implements it.
type Backend interface {
	Ingest(types.Batch) engine.Result
	Snapshot(id string) (types.MachineSnapshot, bool)
	Snapshots() []types.MachineSnapshot
	History(id string) []types.HistoryPoint
	IdleState(id string) types.IdleState
	ActiveAlerts() []types.Alert
	AlertHistory() []types.Alert
	LogbookEvents() []types.LogbookEvent
	Workpieces() []types.Workpiece
	Thresholds() types.Thresholds
	UpdateThresholds(types.ThresholdsPatch) types.Thresholds
	AcknowledgeAlert(id string) bool
	ResolveAlert(id string) bool
	DismissAlert(id string) bool
	ClearAllAlerts() int
}

// ReadingStore serves persisted readings. *persist.Redis implements it.
type ReadingStore interface {
	Readings(ctx context.Context, machineID string, limit int) ([]persist.Record, error)
	Latest(ctx context.Context, machineID string) (*persist.Record, error)
}

// Options wires a Handler.
type Options struct {
	Backend Backend

	// Readings is optional; without it /api/v1/readings answers 503.
	Readings ReadingStore

	// Auth wraps mutating routes. Nil leaves them open.
	Auth func(http.Handler) http.Handler

	// Middleware wraps every matched route, typically metrics.
	Middleware []mux.MiddlewareFunc

	// AllowedOrigins for CORS. Empty allows any origin.
	AllowedOrigins []string

	// Now is the clock used for ingest stamping. Defaults to time.Now.
	Now func() time.Time
}

// Handler serves /api/v1/*.
type Handler struct {
	backend  Backend
	readings ReadingStore
	now      func() time.Time
}

// New creates the API router.
func New(opts Options) http.Handler {
	h := &Handler{backend: opts.Backend, readings: opts.Readings, now: opts.Now}
	if h.now == nil {
		h.now = time.Now
	}
	guard := opts.Auth
	if guard == nil {
		guard = func(next http.Handler) http.Handler { return next }
	}

	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		jsonErr(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	for _, mw := range opts.Middleware {
		r.Use(mw)
	}

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/health", h.health).Methods(http.MethodGet)

	v1.HandleFunc("/machines", h.listMachines).Methods(http.MethodGet)
	v1.HandleFunc("/machines/{id}", h.getMachine).Methods(http.MethodGet)
	v1.HandleFunc("/machines/{id}/history", h.machineHistory).Methods(http.MethodGet)
	v1.Handle("/machines/{id}/data", guard(http.HandlerFunc(h.pushOne))).Methods(http.MethodPost)
	v1.Handle("/data/push", guard(http.HandlerFunc(h.pushBatch))).Methods(http.MethodPost)

	v1.HandleFunc("/alerts", h.activeAlerts).Methods(http.MethodGet)
	v1.HandleFunc("/alerts/history", h.alertHistory).Methods(http.MethodGet)
	v1.Handle("/alerts/clear", guard(http.HandlerFunc(h.clearAlerts))).Methods(http.MethodPost)
	v1.Handle("/alerts/{id}/{action:acknowledge|resolve|dismiss}", guard(http.HandlerFunc(h.alertAction))).Methods(http.MethodPost)

	v1.HandleFunc("/logbook", h.logbook).Methods(http.MethodGet)
	v1.HandleFunc("/workpieces", h.workpieces).Methods(http.MethodGet)

	v1.HandleFunc("/thresholds", h.getThresholds).Methods(http.MethodGet)
	v1.Handle("/thresholds", guard(http.HandlerFunc(h.patchThresholds))).Methods(http.MethodPatch)

	v1.HandleFunc("/readings/{id}", h.readingsLog).Methods(http.MethodGet)
	v1.HandleFunc("/readings/{id}/latest", h.latestReading).Methods(http.MethodGet)

	cors := []handlers.CORSOption{
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Content-Type", "X-Api-Key"}),
	}
	if len(opts.AllowedOrigins) > 0 {
		cors = append(cors, handlers.AllowedOrigins(opts.AllowedOrigins))
	}
	return handlers.CORS(cors...)(r)
}

// --- route handlers ---------------------------------------------------------

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	snaps := h.backend.Snapshots()
	resp := HealthResponse{
		Status:        "ok",
		MachineCount:  len(snaps),
		ActiveAlerts:  len(h.backend.ActiveAlerts()),
		ReadingsStore: h.readings != nil,
		Time:          h.now().UTC().Format(time.RFC3339),
	}
	for _, s := range snaps {
		switch {
		case s.Raw.Status == types.StatusAlarm:
			resp.AlarmCount++
		case s.Idle || s.Raw.Status == types.StatusIdle:
			resp.IdleCount++
		case s.Raw.Status == types.StatusRunning:
			resp.RunningCount++
		}
	}
	jsonResp(w, http.StatusOK, resp)
}

func (h *Handler) listMachines(w http.ResponseWriter, _ *http.Request) {
	th := h.backend.Thresholds()
	snaps := h.backend.Snapshots()
	out := make([]MachineResponse, 0, len(snaps))
	for _, s := range snaps {
		out = append(out, h.toMachineResponse(s, th))
	}
	jsonResp(w, http.StatusOK, out)
}

func (h *Handler) getMachine(w http.ResponseWriter, r *http.Request) {
	s, ok := h.backend.Snapshot(mux.Vars(r)["id"])
	if !ok {
		jsonErr(w, http.StatusNotFound, "machine not found")
		return
	}
	jsonResp(w, http.StatusOK, h.toMachineResponse(s, h.backend.Thresholds()))
}

func (h *Handler) machineHistory(w http.ResponseWriter, r *http.Request) {
	jsonResp(w, http.StatusOK, h.backend.History(mux.Vars(r)["id"]))
}

func (h *Handler) pushOne(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	reading, err := normalize.Decode(body, h.now())
	if err != nil {
		invalid(w, err)
		return
	}
	h.ingest(w, types.Batch{id: reading})
}

func (h *Handler) pushBatch(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	batch, err := normalize.DecodeBatch(body, h.now())
	if err != nil {
		invalid(w, err)
		return
	}
	if len(batch) == 0 {
		jsonErr(w, http.StatusBadRequest, "no readings in payload")
		return
	}
	h.ingest(w, batch)
}

func (h *Handler) ingest(w http.ResponseWriter, batch types.Batch) {
	res := h.backend.Ingest(batch)
	if len(res.Rejected) > 0 {
		var all normalize.Errors
		for _, errs := range res.Rejected {
			all = append(all, errs...)
		}
		invalid(w, all)
		return
	}
	jsonResp(w, http.StatusOK, IngestResponse{
		Applied:    res.Applied,
		Duplicates: res.Duplicates,
		Alerts:     len(res.Alerts),
	})
}

func (h *Handler) activeAlerts(w http.ResponseWriter, _ *http.Request) {
	jsonResp(w, http.StatusOK, h.backend.ActiveAlerts())
}

func (h *Handler) alertHistory(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryLimit(w, r)
	if !ok {
		return
	}
	jsonResp(w, http.StatusOK, head(h.backend.AlertHistory(), limit))
}

func (h *Handler) alertAction(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id := vars["id"]

	switch vars["action"] {
	case "acknowledge":
		if !h.backend.AcknowledgeAlert(id) {
			jsonErr(w, http.StatusNotFound, "alert not active")
			return
		}
		jsonResp(w, http.StatusOK, AlertActionResponse{ID: id})
	case "resolve":
		if !h.backend.ResolveAlert(id) {
			jsonErr(w, http.StatusNotFound, "alert not active")
			return
		}
		jsonResp(w, http.StatusOK, AlertActionResponse{ID: id})
	case "dismiss":
		removed := h.backend.DismissAlert(id)
		jsonResp(w, http.StatusOK, AlertActionResponse{ID: id, Removed: removed})
	}
}

func (h *Handler) clearAlerts(w http.ResponseWriter, _ *http.Request) {
	jsonResp(w, http.StatusOK, AlertActionResponse{Cleared: h.backend.ClearAllAlerts()})
}

func (h *Handler) logbook(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryLimit(w, r)
	if !ok {
		return
	}
	jsonResp(w, http.StatusOK, head(h.backend.LogbookEvents(), limit))
}

func (h *Handler) workpieces(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryLimit(w, r)
	if !ok {
		return
	}
	jsonResp(w, http.StatusOK, head(h.backend.Workpieces(), limit))
}

func (h *Handler) getThresholds(w http.ResponseWriter, _ *http.Request) {
	jsonResp(w, http.StatusOK, h.backend.Thresholds())
}

func (h *Handler) patchThresholds(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	var p types.ThresholdsPatch
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		jsonErr(w, http.StatusBadRequest, "body must be a thresholds object")
		return
	}

	var errs normalize.Errors
	check := func(field string, v *float64) {
		if v != nil && (math.IsNaN(*v) || math.IsInf(*v, 0) || *v < 0) {
			errs = append(errs, normalize.FieldError{Field: field, Message: "must be a non-negative number"})
		}
	}
	check("spindleSpeed", p.SpindleSpeed)
	check("spindleLoad", p.SpindleLoad)
	check("temperature", p.Temperature)
	check("oee", p.OEE)
	if len(errs) > 0 {
		invalid(w, errs)
		return
	}

	jsonResp(w, http.StatusOK, h.backend.UpdateThresholds(p))
}

func (h *Handler) readingsLog(w http.ResponseWriter, r *http.Request) {
	if h.readings == nil {
		jsonErr(w, http.StatusServiceUnavailable, "readings store not configured")
		return
	}
	limit, ok := queryLimit(w, r)
	if !ok {
		return
	}
	recs, err := h.readings.Readings(r.Context(), mux.Vars(r)["id"], persist.ClampLimit(limit))
	if err != nil {
		slog.Error("api: readings query failed", "machine", mux.Vars(r)["id"], "err", err)
		jsonErr(w, http.StatusBadGateway, "readings store unavailable")
		return
	}
	jsonResp(w, http.StatusOK, recs)
}

// latestReading serves the last persisted reading, which outlives the
// in-memory snapshot of an evicted machine.
func (h *Handler) latestReading(w http.ResponseWriter, r *http.Request) {
	if h.readings == nil {
		jsonErr(w, http.StatusServiceUnavailable, "readings store not configured")
		return
	}
	id := mux.Vars(r)["id"]
	rec, err := h.readings.Latest(r.Context(), id)
	if err != nil {
		slog.Error("api: latest reading query failed", "machine", id, "err", err)
		jsonErr(w, http.StatusBadGateway, "readings store unavailable")
		return
	}
	if rec == nil {
		jsonErr(w, http.StatusNotFound, "no readings for machine "+id)
		return
	}
	jsonResp(w, http.StatusOK, rec)
}

// --- helpers ----------------------------------------------------------------

func (h *Handler) toMachineResponse(s types.MachineSnapshot, th types.Thresholds) MachineResponse {
	return MachineResponse{
		MachineSnapshot: s,
		IdleState:       h.backend.IdleState(s.ID),
		Diagnostics:     computeDiagnostics(s, th),
		LastSeen:        s.Raw.Timestamp.UTC().Format(time.RFC3339),
	}
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			jsonErr(w, http.StatusRequestEntityTooLarge, "payload too large")
		} else {
			jsonErr(w, http.StatusBadRequest, "could not read body")
		}
		return nil, false
	}
	return body, true
}

// queryLimit parses ?limit=N. Absent means 0 (no limit).
func queryLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return 0, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		jsonErr(w, http.StatusBadRequest, "limit must be a positive integer")
		return 0, false
	}
	return n, true
}

// head returns the first n elements of s, or all of s when n is 0.
func head[T any](s []T, n int) []T {
	if n > 0 && n < len(s) {
		return s[:n]
	}
	return s
}

func invalid(w http.ResponseWriter, err error) {
	var errs normalize.Errors
	if errors.As(err, &errs) {
		slog.Warn("api: invalid payload", "err", errs.Error())
		jsonResp(w, http.StatusBadRequest, errorResponse{Error: "invalid payload", Details: errs.Strings()})
		return
	}
	jsonErr(w, http.StatusBadRequest, err.Error())
}

func jsonResp(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, errorResponse{Error: msg})
}
