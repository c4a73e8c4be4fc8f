package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/ezifydevelopers/trainingportal-chat/internal/hub"
	"github.com/ezifydevelopers/trainingportal-chat/internal/store"
)

// Handler contains shared dependencies for all HTTP handlers. The redis
// store is optional; without it unread counts skip the cache.
type Handler struct {
	data   store.DataStore
	redis  *store.RedisStore
	hub    *hub.Hub
	logger zerolog.Logger
}

// NewHandler creates a new Handler with the given dependencies.
func NewHandler(data store.DataStore, redis *store.RedisStore, h *hub.Hub, logger zerolog.Logger) *Handler {
	return &Handler{data: data, redis: redis, hub: h, logger: logger}
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Error sends a JSON error response with the given status code.
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, map[string]string{"error": message})
}

// storeError maps store sentinel errors onto HTTP responses.
func (h *Handler) storeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		h.Error(w, http.StatusNotFound, "not found")
	case errors.Is(err, store.ErrForbidden):
		h.Error(w, http.StatusForbidden, "operation not permitted")
	default:
		h.logger.Error().Err(err).Msg("store error")
		h.Error(w, http.StatusInternalServerError, "database error")
	}
}
