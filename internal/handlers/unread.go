package handlers

import (
	"net/http"

	"github.com/ezifydevelopers/trainingportal-chat/internal/api/middleware"
)

// UnreadCountResponse is the response for the unread-count poll.
type UnreadCountResponse struct {
	Count int `json:"count"`
}

// UnreadCount returns the caller's total unread messages. Clients poll this
// every few seconds, so results are cached in Redis for one poll cycle.
func (h *Handler) UnreadCount(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUserFromContext(r.Context())

	if h.redis != nil {
		if count, ok := h.redis.CachedUnread(r.Context(), user.ID); ok {
			h.JSON(w, http.StatusOK, UnreadCountResponse{Count: count})
			return
		}
	}

	count, err := h.data.UnreadCount(r.Context(), user.ID)
	if err != nil {
		h.storeError(w, err)
		return
	}

	if h.redis != nil {
		h.redis.SetCachedUnread(r.Context(), user.ID, count)
	}

	h.JSON(w, http.StatusOK, UnreadCountResponse{Count: count})
}
