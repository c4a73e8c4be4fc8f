package handlers

import (
	"net/http"
)

// HealthResponse reports component health.
type HealthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
	Redis    string `json:"redis,omitempty"`
}

// Health reports liveness of the server and its collaborators.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok", Database: "ok"}
	status := http.StatusOK

	if err := h.data.Ping(r.Context()); err != nil {
		resp.Status = "degraded"
		resp.Database = "unreachable"
		status = http.StatusServiceUnavailable
	}

	if h.redis != nil {
		resp.Redis = "ok"
		if err := h.redis.Ping(r.Context()); err != nil {
			resp.Status = "degraded"
			resp.Redis = "unreachable"
			status = http.StatusServiceUnavailable
		}
	}

	h.JSON(w, status, resp)
}
