package analytics

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/nest-haus/konfigurator-tracking/internal/tracking"
)

// defaultWindow is how far back analytics queries look when no explicit
// time range is supplied
const defaultWindow = 30 * 24 * time.Hour

// HTTPHandler exposes the read-only analytics surface
type HTTPHandler struct {
	analyzer *Analyzer
}

// NewHTTPHandler creates the analytics HTTP handler
func NewHTTPHandler(analyzer *Analyzer) *HTTPHandler {
	return &HTTPHandler{analyzer: analyzer}
}

// RegisterRoutes registers analytics routes on the router
func (h *HTTPHandler) RegisterRoutes(router *mux.Router) {
	api := router.PathPrefix("/api/analytics").Subrouter()

	api.HandleFunc("/dropoff", h.Dropoff).Methods("GET")
	api.HandleFunc("/exit-points", h.ExitPoints).Methods("GET")
	api.HandleFunc("/abandonment-time", h.AbandonmentTime).Methods("GET")
	api.HandleFunc("/journey/{id}", h.Journey).Methods("GET")
	api.HandleFunc("/funnel", h.Funnel).Methods("POST")
	api.HandleFunc("/overview", h.Overview).Methods("GET")
}

// Dropoff reports per-category step reach for a time window
// @Summary Drop-off by step
// @Tags analytics
// @Produce json
// @Param from query string false "window start (RFC3339)"
// @Param to query string false "window end (RFC3339)"
// @Success 200 {object} map[string]interface{}
// @Router /api/analytics/dropoff [get]
func (h *HTTPHandler) Dropoff(w http.ResponseWriter, r *http.Request) {
	from, to := parseWindow(r)

	ids, err := h.analyzer.SessionIDs(r.Context(), from, to)
	if err != nil {
		log.Printf("[ERROR] Failed to resolve session window: %v", err)
		respondError(w, http.StatusInternalServerError, "Failed to compute drop-off")
		return
	}

	reach, err := h.analyzer.DropoffByStep(r.Context(), ids)
	if err != nil {
		log.Printf("[ERROR] Failed to compute drop-off: %v", err)
		respondError(w, http.StatusInternalServerError, "Failed to compute drop-off")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": len(ids),
		"reach":    reach,
	})
}

// ExitPoints reports the most common last-selected categories
// @Summary Common exit points
// @Tags analytics
// @Produce json
// @Param from query string false "window start (RFC3339)"
// @Param to query string false "window end (RFC3339)"
// @Success 200 {object} map[string]interface{}
// @Router /api/analytics/exit-points [get]
func (h *HTTPHandler) ExitPoints(w http.ResponseWriter, r *http.Request) {
	from, to := parseWindow(r)

	ids, err := h.analyzer.SessionIDs(r.Context(), from, to)
	if err != nil {
		log.Printf("[ERROR] Failed to resolve session window: %v", err)
		respondError(w, http.StatusInternalServerError, "Failed to compute exit points")
		return
	}

	points, err := h.analyzer.ExitPoints(r.Context(), ids)
	if err != nil {
		log.Printf("[ERROR] Failed to compute exit points: %v", err)
		respondError(w, http.StatusInternalServerError, "Failed to compute exit points")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"sessions":    len(ids),
		"exit_points": points,
	})
}

// AbandonmentTime reports the average time before abandonment
// @Summary Average time before abandonment
// @Tags analytics
// @Produce json
// @Param from query string false "window start (RFC3339)"
// @Param to query string false "window end (RFC3339)"
// @Success 200 {object} AbandonmentStats
// @Router /api/analytics/abandonment-time [get]
func (h *HTTPHandler) AbandonmentTime(w http.ResponseWriter, r *http.Request) {
	from, to := parseWindow(r)

	ids, err := h.analyzer.SessionIDs(r.Context(), from, to)
	if err != nil {
		log.Printf("[ERROR] Failed to resolve session window: %v", err)
		respondError(w, http.StatusInternalServerError, "Failed to compute abandonment time")
		return
	}

	stats, err := h.analyzer.TimeBeforeAbandonment(r.Context(), ids)
	if err != nil {
		log.Printf("[ERROR] Failed to compute abandonment time: %v", err)
		respondError(w, http.StatusInternalServerError, "Failed to compute abandonment time")
		return
	}

	respondJSON(w, http.StatusOK, stats)
}

// Journey replays a single session
// @Summary Reconstruct a session journey
// @Tags analytics
// @Produce json
// @Param id path string true "session id"
// @Success 200 {object} Journey
// @Failure 404 {object} map[string]interface{}
// @Router /api/analytics/journey/{id} [get]
func (h *HTTPHandler) Journey(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["id"]

	journey, err := h.analyzer.ReconstructJourney(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, tracking.ErrSessionNotFound) {
			respondError(w, http.StatusNotFound, "Session not found")
			return
		}
		log.Printf("[ERROR] Failed to reconstruct journey %s: %v", sessionID, err)
		respondError(w, http.StatusInternalServerError, "Failed to reconstruct journey")
		return
	}

	respondJSON(w, http.StatusOK, journey)
}

// FunnelRequest selects the sessions and stages for a funnel computation.
// SessionIDs takes precedence over the time window when both are given.
type FunnelRequest struct {
	SessionIDs []string          `json:"sessionIds,omitempty"`
	From       *time.Time        `json:"from,omitempty"`
	To         *time.Time        `json:"to,omitempty"`
	Stages     []StageDefinition `json:"stages"`
}

// Funnel computes a conversion funnel
// @Summary Conversion funnel
// @Tags analytics
// @Accept json
// @Produce json
// @Param request body FunnelRequest true "funnel definition"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} map[string]interface{}
// @Router /api/analytics/funnel [post]
func (h *HTTPHandler) Funnel(w http.ResponseWriter, r *http.Request) {
	var req FunnelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if len(req.Stages) == 0 {
		respondError(w, http.StatusBadRequest, "At least one stage is required")
		return
	}

	ids := req.SessionIDs
	if len(ids) == 0 {
		from, to := windowOrDefault(req.From, req.To)
		resolved, err := h.analyzer.SessionIDs(r.Context(), from, to)
		if err != nil {
			log.Printf("[ERROR] Failed to resolve session window: %v", err)
			respondError(w, http.StatusInternalServerError, "Failed to compute funnel")
			return
		}
		ids = resolved
	}

	stages, err := h.analyzer.ConversionFunnel(r.Context(), ids, req.Stages)
	if err != nil {
		log.Printf("[ERROR] Failed to compute funnel: %v", err)
		respondError(w, http.StatusInternalServerError, "Failed to compute funnel")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": len(ids),
		"stages":   stages,
	})
}

// Overview reports aggregate session counts
// @Summary Session overview
// @Tags analytics
// @Produce json
// @Param from query string false "window start (RFC3339)"
// @Param to query string false "window end (RFC3339)"
// @Success 200 {object} Overview
// @Router /api/analytics/overview [get]
func (h *HTTPHandler) Overview(w http.ResponseWriter, r *http.Request) {
	from, to := parseWindow(r)

	overview, err := h.analyzer.Overview(r.Context(), from, to)
	if err != nil {
		log.Printf("[ERROR] Failed to compute overview: %v", err)
		respondError(w, http.StatusInternalServerError, "Failed to compute overview")
		return
	}

	respondJSON(w, http.StatusOK, overview)
}

// ===== Utilities =====

func parseWindow(r *http.Request) (time.Time, time.Time) {
	var from, to *time.Time
	if v := r.URL.Query().Get("from"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			from = &t
		}
	}
	if v := r.URL.Query().Get("to"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			to = &t
		}
	}
	return windowOrDefault(from, to)
}

func windowOrDefault(from, to *time.Time) (time.Time, time.Time) {
	end := time.Now()
	if to != nil {
		end = *to
	}
	start := end.Add(-defaultWindow)
	if from != nil {
		start = *from
	}
	return start, end
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("[ERROR] Failed to encode JSON response: %v", err)
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]interface{}{
		"error":  message,
		"status": status,
	})
}
