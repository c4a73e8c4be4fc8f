package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ezifydevelopers/trainingportal-chat/internal/api/middleware"
	"github.com/ezifydevelopers/trainingportal-chat/internal/metrics"
	"github.com/ezifydevelopers/trainingportal-chat/internal/models"
	"github.com/ezifydevelopers/trainingportal-chat/internal/store"
	"github.com/ezifydevelopers/trainingportal-chat/internal/wire"
)

// RoomListResponse is the response for the room list endpoint.
type RoomListResponse struct {
	Rooms []models.ChatRoom `json:"rooms"`
}

// RoomMessagesResponse is the authoritative history for one room.
type RoomMessagesResponse struct {
	RoomID   int64                `json:"room_id"`
	Messages []models.ChatMessage `json:"messages"`
}

// MarkReadResponse reports the caller's remaining unread total after a room
// was marked read.
type MarkReadResponse struct {
	UnreadCount int `json:"unread_count"`
}

// ListRooms returns the caller's active rooms ordered by recency.
func (h *Handler) ListRooms(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUserFromContext(r.Context())

	rooms, err := h.data.ListRoomsForUser(r.Context(), user.ID)
	if err != nil {
		h.storeError(w, err)
		return
	}
	if rooms == nil {
		rooms = []models.ChatRoom{}
	}

	h.JSON(w, http.StatusOK, RoomListResponse{Rooms: rooms})
}

// GetRoomMessages returns a room's full ordered history. This is the
// authoritative baseline the client merges pushes and polls into.
func (h *Handler) GetRoomMessages(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUserFromContext(r.Context())

	roomID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		h.Error(w, http.StatusBadRequest, "invalid room ID")
		return
	}

	active, err := h.data.IsActiveParticipant(r.Context(), roomID, user.ID)
	if err != nil {
		h.storeError(w, err)
		return
	}
	if !active {
		h.Error(w, http.StatusForbidden, "not a participant of this room")
		return
	}

	msgs, err := h.data.ListMessages(r.Context(), roomID)
	if err != nil {
		h.storeError(w, err)
		return
	}
	if msgs == nil {
		msgs = []models.ChatMessage{}
	}

	h.JSON(w, http.StatusOK, RoomMessagesResponse{RoomID: roomID, Messages: msgs})
}

// GetDirectRoom finds or lazily creates the direct room with another user.
// The lookup-before-create keeps the room unique per user pair.
func (h *Handler) GetDirectRoom(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUserFromContext(r.Context())

	targetID, err := strconv.ParseInt(chi.URLParam(r, "userId"), 10, 64)
	if err != nil {
		h.Error(w, http.StatusBadRequest, "invalid user ID")
		return
	}
	if targetID == user.ID {
		h.Error(w, http.StatusBadRequest, "cannot open a direct room with yourself")
		return
	}

	if _, err := h.data.GetUser(r.Context(), targetID); err != nil {
		h.storeError(w, err)
		return
	}

	room, err := h.data.GetDirectRoom(r.Context(), user.ID, targetID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			h.storeError(w, err)
			return
		}
		room, err = h.data.CreateDirectRoom(r.Context(), user.ID, targetID)
		if err != nil {
			h.storeError(w, err)
			return
		}
		metrics.RoomsCreated.Inc()
	}

	h.JSON(w, http.StatusOK, room)
}

// MarkRoomRead resets the room's contribution to the caller's unread
// counter and returns the remaining total.
func (h *Handler) MarkRoomRead(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUserFromContext(r.Context())

	roomID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		h.Error(w, http.StatusBadRequest, "invalid room ID")
		return
	}

	active, err := h.data.IsActiveParticipant(r.Context(), roomID, user.ID)
	if err != nil {
		h.storeError(w, err)
		return
	}
	if !active {
		h.Error(w, http.StatusForbidden, "not a participant of this room")
		return
	}

	if err := h.data.MarkRoomRead(r.Context(), roomID, user.ID); err != nil {
		h.storeError(w, err)
		return
	}
	if h.redis != nil {
		h.redis.InvalidateUnread(r.Context(), user.ID)
	}

	count, err := h.data.UnreadCount(r.Context(), user.ID)
	if err != nil {
		h.storeError(w, err)
		return
	}
	h.JSON(w, http.StatusOK, MarkReadResponse{UnreadCount: count})
}

// DeleteRoom removes a room and everything in it, then notifies the former
// participants so open sessions force-close.
func (h *Handler) DeleteRoom(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUserFromContext(r.Context())

	roomID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		h.Error(w, http.StatusBadRequest, "invalid room ID")
		return
	}

	room, err := h.data.GetRoom(r.Context(), roomID)
	if err != nil {
		h.storeError(w, err)
		return
	}

	active, err := h.data.IsActiveParticipant(r.Context(), roomID, user.ID)
	if err != nil {
		h.storeError(w, err)
		return
	}
	if !active {
		h.Error(w, http.StatusForbidden, "not a participant of this room")
		return
	}

	if err := h.data.DeleteRoom(r.Context(), roomID); err != nil {
		h.storeError(w, err)
		return
	}
	metrics.RoomsDeleted.Inc()

	ids := room.ActiveUserIDs()
	if h.redis != nil {
		h.redis.InvalidateUnread(r.Context(), ids...)
	}
	h.hub.SendToUsers(ids, wire.RoomDeleted(roomID))

	h.JSON(w, http.StatusOK, map[string]bool{"deleted": true})
}
