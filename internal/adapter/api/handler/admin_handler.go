package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/user/lumen-indexer/internal/domain"
)

// HealthReporter exposes the indexer's run state.
type HealthReporter interface {
	Health() domain.Health
}

// AdminHandler handles HTTP requests for indexer operations.
type AdminHandler struct {
	health HealthReporter
	store  domain.EventStore
	logger *slog.Logger
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(health HealthReporter, store domain.EventStore, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{health: health, store: store, logger: logger}
}

// HealthCheck reports the supervisor's state and last applied position.
// GET /health
func (h *AdminHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	health := h.health.Health()
	code := http.StatusOK
	if health.Status == domain.HealthStopped {
		code = http.StatusServiceUnavailable
	}
	h.respondWithJSON(w, code, health)
}

// GetDeadLetters lists recent dead-lettered events for review.
// GET /admin/dead-letters?count={count}
func (h *AdminHandler) GetDeadLetters(w http.ResponseWriter, r *http.Request) {
	count := 100
	if countStr := r.URL.Query().Get("count"); countStr != "" {
		var err error
		count, err = strconv.Atoi(countStr)
		if err != nil || count <= 0 {
			http.Error(w, "invalid count parameter", http.StatusBadRequest)
			return
		}
	}

	letters, err := h.store.DeadLetters(r.Context(), count)
	if err != nil {
		h.logger.Error("failed to list dead letters", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if letters == nil {
		letters = []domain.DeadLetter{}
	}
	h.respondWithJSON(w, http.StatusOK, letters)
}

func (h *AdminHandler) respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		h.logger.Error("failed to marshal JSON response", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("Internal Server Error"))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}
