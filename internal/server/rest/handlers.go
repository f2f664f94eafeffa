package rest

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tripwire/agent/internal/server/storage"
)

// Server holds the dependencies needed by the REST handlers.
type Server struct {
	store Store
}

// NewServer creates a new Server with the provided storage layer.
func NewServer(store Store) *Server {
	return &Server{store: store}
}

// handleHealthz responds to GET /healthz.
//
// This endpoint does not require authentication and returns HTTP 200 with a
// simple JSON body so load balancers and orchestrators can verify liveness.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// handleGetSystems responds to GET /api/v1/systems.
//
// Returns HTTP 200 with a JSON array of all registered System objects,
// ordered alphabetically by hostname.
func (s *Server) handleGetSystems(w http.ResponseWriter, r *http.Request) {
	systems, err := s.store.ListSystems(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list systems")
		return
	}

	if systems == nil {
		systems = []storage.System{}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(systems)
}

// handleGetSystem responds to GET /api/v1/systems/{system_id}.
//
// Returns HTTP 404 when no system is registered under the given id, or
// HTTP 200 with the System object on success.
func (s *Server) handleGetSystem(w http.ResponseWriter, r *http.Request) {
	systemID := chi.URLParam(r, "system_id")

	sys, err := s.store.GetSystem(r.Context(), systemID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to fetch system")
		return
	}
	if sys == nil {
		writeError(w, http.StatusNotFound, "system not found")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(sys)
}

// handleGetSystemMetrics responds to GET /api/v1/systems/{system_id}/metrics.
//
// Supported query parameters:
//
//	from    – RFC3339 start of the timestamp window (required)
//	to      – RFC3339 end of the timestamp window (required)
//	limit   – maximum number of results (default 100, max 1000)
//	offset  – pagination offset (default 0)
//
// Returns HTTP 400 when required parameters are missing or malformed.
// Returns HTTP 200 with a JSON array of MetricRow objects on success.
func (s *Server) handleGetSystemMetrics(w http.ResponseWriter, r *http.Request) {
	systemID := chi.URLParam(r, "system_id")
	q := r.URL.Query()

	fromStr := q.Get("from")
	toStr := q.Get("to")
	if fromStr == "" || toStr == "" {
		writeError(w, http.StatusBadRequest, "query parameters 'from' and 'to' are required (RFC3339)")
		return
	}

	from, err := time.Parse(time.RFC3339, fromStr)
	if err != nil {
		writeError(w, http.StatusBadRequest, "'from' must be a valid RFC3339 timestamp")
		return
	}
	to, err := time.Parse(time.RFC3339, toStr)
	if err != nil {
		writeError(w, http.StatusBadRequest, "'to' must be a valid RFC3339 timestamp")
		return
	}
	if !to.After(from) {
		writeError(w, http.StatusBadRequest, "'to' must be after 'from'")
		return
	}

	mq := storage.MetricQuery{
		SystemID: systemID,
		From:     from,
		To:       to,
	}

	if limitStr := q.Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit <= 0 {
			writeError(w, http.StatusBadRequest, "'limit' must be a positive integer")
			return
		}
		if limit > 1000 {
			limit = 1000
		}
		mq.Limit = limit
	}

	if offsetStr := q.Get("offset"); offsetStr != "" {
		offset, err := strconv.Atoi(offsetStr)
		if err != nil || offset < 0 {
			writeError(w, http.StatusBadRequest, "'offset' must be a non-negative integer")
			return
		}
		mq.Offset = offset
	}

	rows, err := s.store.QueryMetrics(r.Context(), mq)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to query metrics")
		return
	}

	if rows == nil {
		rows = []storage.MetricRow{}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(rows)
}

// handleGetSystemServices responds to GET /api/v1/systems/{system_id}/services.
//
// Returns HTTP 200 with a JSON array of the system's current UnitServiceRow
// states.
func (s *Server) handleGetSystemServices(w http.ResponseWriter, r *http.Request) {
	systemID := chi.URLParam(r, "system_id")

	rows, err := s.store.ListUnitServices(r.Context(), systemID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list unit services")
		return
	}

	if rows == nil {
		rows = []storage.UnitServiceRow{}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(rows)
}

// handleGetSystemRules responds to GET /api/v1/systems/{system_id}/rules.
//
// Returns HTTP 200 with a JSON array of the enabled alert rules mapped to
// the system, each paired with its resolved notifier URIs.
func (s *Server) handleGetSystemRules(w http.ResponseWriter, r *http.Request) {
	systemID := chi.URLParam(r, "system_id")

	rules, err := s.store.RulesForSystem(r.Context(), systemID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list rules")
		return
	}

	if rules == nil {
		rules = []storage.AlertRuleWithNotifiers{}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(rules)
}
