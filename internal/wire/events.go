// Package wire defines the JSON-framed events carried over the push channel.
// Both the broadcaster hub and the client connection manager speak this
// vocabulary; everything durable still travels over REST.
package wire

import (
	"encoding/json"
	"fmt"

	"github.com/ezifydevelopers/trainingportal-chat/internal/models"
)

// EventType identifies a push-channel frame.
type EventType string

const (
	// Client -> server.
	EventJoinRoom  EventType = "JOIN_CHAT_ROOM"
	EventLeaveRoom EventType = "LEAVE_CHAT_ROOM"
	EventTyping    EventType = "TYPING"

	// Server -> client. EventTyping is relayed in both directions.
	EventNewMessage      EventType = "NEW_MESSAGE"
	EventPresence        EventType = "PRESENCE"
	EventMessagesDeleted EventType = "MESSAGES_DELETED"
	EventRoomDeleted     EventType = "ROOM_DELETED"
)

// Event is a single push-channel frame. Exactly one payload field is set,
// according to Type; RoomID accompanies the room-scoped frames.
type Event struct {
	Type     EventType           `json:"type"`
	RoomID   int64               `json:"room_id,omitempty"`
	Message  *models.ChatMessage `json:"message,omitempty"`
	Typing   *TypingPayload      `json:"typing,omitempty"`
	Presence *PresencePayload    `json:"presence,omitempty"`
	Deleted  *DeletedPayload     `json:"deleted,omitempty"`
}

// TypingPayload carries an ephemeral typing indicator. Loss is acceptable;
// receivers expire stale entries on their own.
type TypingPayload struct {
	RoomID   int64 `json:"room_id"`
	UserID   int64 `json:"user_id"`
	IsTyping bool  `json:"is_typing"`
}

// PresencePayload announces a user's online state.
type PresencePayload struct {
	UserID int64 `json:"user_id"`
	Online bool  `json:"online"`
}

// DeletedPayload announces hard removal of messages from a room.
type DeletedPayload struct {
	RoomID     int64   `json:"room_id"`
	MessageIDs []int64 `json:"message_ids"`
}

// Encode marshals the event for transmission.
func Encode(ev Event) ([]byte, error) {
	return json.Marshal(ev)
}

// Decode unmarshals a frame and rejects frames without a type.
func Decode(data []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Event{}, err
	}
	if ev.Type == "" {
		return Event{}, fmt.Errorf("wire: frame missing type")
	}
	return ev, nil
}

// NewMessage builds a NEW_MESSAGE frame.
func NewMessage(msg models.ChatMessage) Event {
	m := msg
	return Event{Type: EventNewMessage, RoomID: msg.RoomID, Message: &m}
}

// Typing builds a TYPING frame.
func Typing(roomID, userID int64, isTyping bool) Event {
	return Event{
		Type:   EventTyping,
		RoomID: roomID,
		Typing: &TypingPayload{RoomID: roomID, UserID: userID, IsTyping: isTyping},
	}
}

// Presence builds a PRESENCE frame.
func Presence(userID int64, online bool) Event {
	return Event{Type: EventPresence, Presence: &PresencePayload{UserID: userID, Online: online}}
}

// MessagesDeleted builds a MESSAGES_DELETED frame.
func MessagesDeleted(roomID int64, ids []int64) Event {
	return Event{
		Type:    EventMessagesDeleted,
		RoomID:  roomID,
		Deleted: &DeletedPayload{RoomID: roomID, MessageIDs: ids},
	}
}

// RoomDeleted builds a ROOM_DELETED frame.
func RoomDeleted(roomID int64) Event {
	return Event{Type: EventRoomDeleted, RoomID: roomID}
}

// JoinRoom builds a JOIN_CHAT_ROOM frame.
func JoinRoom(roomID int64) Event {
	return Event{Type: EventJoinRoom, RoomID: roomID}
}

// LeaveRoom builds a LEAVE_CHAT_ROOM frame.
func LeaveRoom(roomID int64) Event {
	return Event{Type: EventLeaveRoom, RoomID: roomID}
}
