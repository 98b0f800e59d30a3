package tracking

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
)

// HTTPHandler exposes the tracking surface over HTTP (Presentation Layer)
type HTTPHandler struct {
	manager   *Manager
	ingestor  *Ingestor
	finalizer *Finalizer
	complete  CompletenessFn
}

// NewHTTPHandler creates the tracking HTTP handler. complete is the
// externally owned completeness predicate handed to the finalizer.
func NewHTTPHandler(manager *Manager, ingestor *Ingestor, finalizer *Finalizer, complete CompletenessFn) *HTTPHandler {
	return &HTTPHandler{
		manager:   manager,
		ingestor:  ingestor,
		finalizer: finalizer,
		complete:  complete,
	}
}

// RegisterRoutes registers tracking routes on the router
func (h *HTTPHandler) RegisterRoutes(router *mux.Router) {
	api := router.PathPrefix("/api/tracking").Subrouter()

	api.HandleFunc("/sessions", h.CreateSession).Methods("POST")
	api.HandleFunc("/sessions", h.ListSessions).Methods("GET")
	api.HandleFunc("/sessions/{id}", h.GetSession).Methods("GET")
	api.HandleFunc("/sessions/{id}", h.DeleteSession).Methods("DELETE")
	api.HandleFunc("/selection", h.TrackSelection).Methods("POST")
	api.HandleFunc("/interaction", h.TrackInteraction).Methods("POST")
	api.HandleFunc("/finalize", h.FinalizeSession).Methods("POST")
	api.HandleFunc("/inquiries", h.CreateInquiry).Methods("POST")
}

// CreateSession creates or touches a session
// @Summary Create or touch a configurator session
// @Description Mints a session id when none is supplied and upserts the session row.
// @Tags tracking
// @Accept json
// @Produce json
// @Param request body CreateSessionRequest false "session parameters"
// @Success 201 {object} map[string]interface{}
// @Router /api/tracking/sessions [post]
func (h *HTTPHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		// An empty body is fine; the id is minted server-side
		req = CreateSessionRequest{}
	}

	client := ClientInfo{
		IPAddress: clientIP(r),
		UserAgent: r.UserAgent(),
		Referrer:  req.Referrer,
	}
	if client.Referrer == "" {
		client.Referrer = r.Referer()
	}

	sessionID, err := h.manager.CreateOrTouch(r.Context(), req.SessionID, client)
	if err != nil {
		log.Printf("[ERROR] Failed to create session: %v", err)
		respondError(w, http.StatusInternalServerError, "Failed to create session")
		return
	}

	respondJSON(w, http.StatusCreated, map[string]interface{}{
		"sessionId": sessionID,
		"timestamp": time.Now().UnixMilli(),
	})
}

// GetSession returns a session, cache-first
// @Summary Get a session
// @Tags tracking
// @Produce json
// @Param id path string true "session id"
// @Success 200 {object} Session
// @Failure 404 {object} map[string]interface{}
// @Router /api/tracking/sessions/{id} [get]
func (h *HTTPHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["id"]

	session, err := h.manager.Get(r.Context(), sessionID)
	if err != nil {
		respondError(w, http.StatusNotFound, "Session not found")
		return
	}

	respondJSON(w, http.StatusOK, session)
}

// ListSessions returns sessions, newest first
// @Summary List sessions
// @Tags tracking
// @Produce json
// @Param limit query int false "page size" default(50)
// @Param offset query int false "page offset" default(0)
// @Success 200 {object} map[string]interface{}
// @Router /api/tracking/sessions [get]
func (h *HTTPHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	limit := getQueryInt(r, "limit", 50)
	offset := getQueryInt(r, "offset", 0)

	sessions, err := h.manager.List(r.Context(), limit, offset)
	if err != nil {
		log.Printf("[ERROR] Failed to list sessions: %v", err)
		respondError(w, http.StatusInternalServerError, "Failed to list sessions")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": sessions,
		"limit":    limit,
		"offset":   offset,
		"count":    len(sessions),
	})
}

// DeleteSession removes a session and all its events
// @Summary Delete a session
// @Tags tracking
// @Produce json
// @Param id path string true "session id"
// @Success 200 {object} map[string]interface{}
// @Failure 404 {object} map[string]interface{}
// @Router /api/tracking/sessions/{id} [delete]
func (h *HTTPHandler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["id"]

	if err := h.manager.Delete(r.Context(), sessionID); err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			respondError(w, http.StatusNotFound, "Session not found")
			return
		}
		log.Printf("[ERROR] Failed to delete session %s: %v", sessionID, err)
		respondError(w, http.StatusInternalServerError, "Failed to delete session")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"message":    "Session deleted successfully",
		"session_id": sessionID,
	})
}

// TrackSelection records a configuration choice
// @Summary Track a selection
// @Description Fail-safe: returns success on any durable-layer acceptance. Only structurally invalid input is rejected.
// @Tags tracking
// @Accept json
// @Produce json
// @Param request body TrackSelectionRequest true "selection"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} map[string]interface{}
// @Router /api/tracking/selection [post]
func (h *HTTPHandler) TrackSelection(w http.ResponseWriter, r *http.Request) {
	var req TrackSelectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	result, err := h.ingestor.RecordSelection(r.Context(), &req)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success":   true,
		"sessionId": result.SessionID,
		"timestamp": time.Now().UnixMilli(),
	})
}

// TrackInteraction records a low-level UI interaction
// @Summary Track an interaction
// @Tags tracking
// @Accept json
// @Produce json
// @Param request body TrackInteractionRequest true "interaction"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} map[string]interface{}
// @Router /api/tracking/interaction [post]
func (h *HTTPHandler) TrackInteraction(w http.ResponseWriter, r *http.Request) {
	var req TrackInteractionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	result, err := h.ingestor.RecordInteraction(r.Context(), &req)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success":   true,
		"sessionId": result.SessionID,
		"timestamp": time.Now().UnixMilli(),
	})
}

// FinalizeSession closes a session
// @Summary Finalize a session
// @Description Decides COMPLETED vs ABANDONED from the configuration snapshot and evicts the cache entry.
// @Tags tracking
// @Accept json
// @Produce json
// @Param request body FinalizeRequest true "final configuration"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} map[string]interface{}
// @Router /api/tracking/finalize [post]
func (h *HTTPHandler) FinalizeSession(w http.ResponseWriter, r *http.Request) {
	var req FinalizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	status, err := h.finalizer.Finalize(r.Context(), req.SessionID, req.Configuration, h.complete)
	if err != nil {
		if IsValidation(err) {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		log.Printf("[ERROR] Failed to finalize session %s: %v", req.SessionID, err)
		respondError(w, http.StatusInternalServerError, "Failed to finalize session")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success":   true,
		"sessionId": req.SessionID,
		"status":    status,
	})
}

// CreateInquiry records a checkout conversion
// @Summary Create an inquiry
// @Tags tracking
// @Accept json
// @Produce json
// @Param request body Inquiry true "inquiry"
// @Success 201 {object} Inquiry
// @Failure 400 {object} map[string]interface{}
// @Router /api/tracking/inquiries [post]
func (h *HTTPHandler) CreateInquiry(w http.ResponseWriter, r *http.Request) {
	var inquiry Inquiry
	if err := json.NewDecoder(r.Body).Decode(&inquiry); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.manager.SaveInquiry(r.Context(), &inquiry); err != nil {
		if IsValidation(err) {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		log.Printf("[ERROR] Failed to create inquiry: %v", err)
		respondError(w, http.StatusInternalServerError, "Failed to create inquiry")
		return
	}

	respondJSON(w, http.StatusCreated, inquiry)
}

// ===== Utilities =====

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("[ERROR] Failed to encode JSON response: %v", err)
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]interface{}{
		"success": false,
		"error":   message,
		"status":  status,
	})
}

func getQueryInt(r *http.Request, key string, defaultValue int) int {
	valueStr := r.URL.Query().Get(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		return forwarded
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}
	return r.RemoteAddr
}
