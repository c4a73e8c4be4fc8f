package models

import "time"

// ChatMessage is a durable message in a room. IDs are store-assigned and
// monotonically increasing, which makes them a valid tie-break key when two
// messages share a timestamp. Content is immutable once created; the only
// permitted mutation is hard deletion.
type ChatMessage struct {
	ID        int64     `json:"id"`
	RoomID    int64     `json:"room_id"`
	SenderID  int64     `json:"sender_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	IsRead    bool      `json:"is_read"`
	ReplyToID *int64    `json:"reply_to_id,omitempty"`
}

// Before reports whether m sorts before other in the canonical
// (CreatedAt, ID) room order. The ID tie-break keeps the order total even
// when the store assigns identical timestamps.
func (m ChatMessage) Before(other ChatMessage) bool {
	if !m.CreatedAt.Equal(other.CreatedAt) {
		return m.CreatedAt.Before(other.CreatedAt)
	}
	return m.ID < other.ID
}
