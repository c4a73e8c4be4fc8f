package handlers

import (
	"net/http"

	"github.com/ezifydevelopers/trainingportal-chat/internal/api/middleware"
	"github.com/ezifydevelopers/trainingportal-chat/internal/models"
)

// UserListEntry is a directory entry with live presence attached.
type UserListEntry struct {
	models.User
	Online bool `json:"online"`
}

// UserListResponse is the response for the chat-target directory.
type UserListResponse struct {
	Users []UserListEntry `json:"users"`
}

// ListUsers returns the directory of eligible chat targets with their
// current online state. Presence here is advisory and may lag.
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUserFromContext(r.Context())

	users, err := h.data.ListUsers(r.Context(), user.ID)
	if err != nil {
		h.storeError(w, err)
		return
	}

	entries := make([]UserListEntry, len(users))
	for i, u := range users {
		entries[i] = UserListEntry{User: u, Online: h.hub.IsOnline(u.ID)}
	}

	h.JSON(w, http.StatusOK, UserListResponse{Users: entries})
}
