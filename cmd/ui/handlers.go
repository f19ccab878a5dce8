package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"pancake-blofin-arb/internal/database"
)

// APIHandler holds dependencies for the API endpoints.
type APIHandler struct {
	log   *zap.Logger
	store *database.CycleStore
	now   func() time.Time
}

// NewAPIHandler creates a new APIHandler.
func NewAPIHandler(log *zap.Logger, store *database.CycleStore) *APIHandler {
	return &APIHandler{log: log, store: store, now: time.Now}
}

// CyclesHandler returns recorded cycles, newest first. ?limit= caps the count.
func (h *APIHandler) CyclesHandler(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 500 {
			http.Error(w, "limit must be between 1 and 500", http.StatusBadRequest)
			return
		}
		limit = n
	}

	cycles, err := h.store.Recent(r.Context(), limit)
	if err != nil {
		h.log.Error("Failed to get cycles from database", zap.Error(err))
		http.Error(w, "Failed to get cycles", http.StatusInternalServerError)
		return
	}

	writeJSON(w, h.log, cycles)
}

// CycleHandler returns one cycle by id.
func (h *APIHandler) CycleHandler(w http.ResponseWriter, r *http.Request) {
	cycle, err := h.store.Get(r.Context(), r.PathValue("id"))
	if errors.Is(err, gorm.ErrRecordNotFound) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		h.log.Error("Failed to get cycle from database", zap.Error(err))
		http.Error(w, "Failed to get cycle", http.StatusInternalServerError)
		return
	}
	writeJSON(w, h.log, cycle)
}

// StatisticsResponse is the structure for the /api/statistics endpoint.
type StatisticsResponse struct {
	Since24h database.Statistics `json:"since_24h"`
	AllTime  database.Statistics `json:"all_time"`
}

// StatisticsHandler returns cycle statistics for the last day and all time.
func (h *APIHandler) StatisticsHandler(w http.ResponseWriter, r *http.Request) {
	since24h, err := h.store.Statistics(r.Context(), h.now().Add(-24*time.Hour))
	if err != nil {
		h.log.Error("Failed to calculate statistics", zap.Error(err))
		http.Error(w, "Failed to calculate statistics", http.StatusInternalServerError)
		return
	}
	allTime, err := h.store.Statistics(r.Context(), time.Time{})
	if err != nil {
		h.log.Error("Failed to calculate statistics", zap.Error(err))
		http.Error(w, "Failed to calculate statistics", http.StatusInternalServerError)
		return
	}

	writeJSON(w, h.log, StatisticsResponse{Since24h: since24h, AllTime: allTime})
}

func writeJSON(w http.ResponseWriter, log *zap.Logger, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error("Failed to write response", zap.Error(err))
	}
}
