package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ezifydevelopers/trainingportal-chat/internal/api/middleware"
	"github.com/ezifydevelopers/trainingportal-chat/internal/metrics"
	"github.com/ezifydevelopers/trainingportal-chat/internal/wire"
)

const maxMessageLength = 4096

// SendMessageRequest is the request body for sending a message.
type SendMessageRequest struct {
	RoomID    int64  `json:"roomId"`
	Content   string `json:"content"`
	ReplyToID *int64 `json:"replyToId,omitempty"`
}

// DeleteMultipleRequest is the request body for bulk deletion.
type DeleteMultipleRequest struct {
	MessageIDs []int64 `json:"messageIds"`
}

// SendMessage validates, persists and broadcasts a new message. The durable
// write happens here; the push to participants is best-effort on top.
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUserFromContext(r.Context())

	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if strings.TrimSpace(req.Content) == "" {
		h.Error(w, http.StatusBadRequest, "content is required")
		return
	}
	if len(req.Content) > maxMessageLength {
		h.Error(w, http.StatusUnprocessableEntity, "content too long")
		return
	}

	room, err := h.data.GetRoom(r.Context(), req.RoomID)
	if err != nil {
		h.storeError(w, err)
		return
	}

	active, err := h.data.IsActiveParticipant(r.Context(), req.RoomID, user.ID)
	if err != nil {
		h.storeError(w, err)
		return
	}
	if !active {
		h.Error(w, http.StatusForbidden, "not a participant of this room")
		return
	}

	msg, err := h.data.CreateMessage(r.Context(), req.RoomID, user.ID, req.Content, req.ReplyToID)
	if err != nil {
		h.storeError(w, err)
		return
	}
	metrics.MessagesSent.Inc()

	ids := room.ActiveUserIDs()
	if h.redis != nil {
		h.redis.InvalidateUnread(r.Context(), ids...)
	}
	// The sender gets the broadcast too; the client discards its own echo.
	h.hub.SendToUsers(ids, wire.NewMessage(*msg))

	h.JSON(w, http.StatusCreated, msg)
}

// DeleteMessage removes a single message owned by the caller.
func (h *Handler) DeleteMessage(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUserFromContext(r.Context())

	msgID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		h.Error(w, http.StatusBadRequest, "invalid message ID")
		return
	}

	h.deleteMessages(w, r, user.ID, []int64{msgID})
}

// DeleteMultiple removes a batch of the caller's messages. All-or-nothing:
// a single denied id rejects the whole batch.
func (h *Handler) DeleteMultiple(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUserFromContext(r.Context())

	var req DeleteMultipleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(req.MessageIDs) == 0 {
		h.Error(w, http.StatusBadRequest, "messageIds is required")
		return
	}

	h.deleteMessages(w, r, user.ID, req.MessageIDs)
}

func (h *Handler) deleteMessages(w http.ResponseWriter, r *http.Request, userID int64, ids []int64) {
	// Resolve the room before deletion so the broadcast can name it.
	first, err := h.data.GetMessage(r.Context(), ids[0])
	if err != nil {
		h.storeError(w, err)
		return
	}
	roomID := first.RoomID

	if err := h.data.DeleteMessages(r.Context(), userID, ids); err != nil {
		h.storeError(w, err)
		return
	}
	metrics.MessagesDeleted.Add(float64(len(ids)))

	room, err := h.data.GetRoom(r.Context(), roomID)
	if err == nil {
		participants := room.ActiveUserIDs()
		if h.redis != nil {
			h.redis.InvalidateUnread(r.Context(), participants...)
		}
		h.hub.SendToUsers(participants, wire.MessagesDeleted(roomID, ids))
	}

	h.JSON(w, http.StatusOK, map[string]interface{}{"deleted": ids})
}
