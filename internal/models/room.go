package models

import "time"

// RoomType enumerates chat room kinds. DIRECT is the only type currently
// exercised.
type RoomType string

const (
	RoomTypeDirect RoomType = "DIRECT"
)

// ChatRoom represents a conversation between participants. Direct rooms are
// unique per user pair and are created lazily on the first message attempt.
type ChatRoom struct {
	ID             int64         `json:"id"`
	Type           RoomType      `json:"type"`
	Participants   []Participant `json:"participants,omitempty"`
	LastActivityAt time.Time     `json:"last_activity_at"`
	LastMessage    *ChatMessage  `json:"last_message,omitempty"`
}

// ActiveUserIDs returns the user ids of the room's active participants.
func (r *ChatRoom) ActiveUserIDs() []int64 {
	ids := make([]int64, 0, len(r.Participants))
	for _, p := range r.Participants {
		if p.IsActive {
			ids = append(ids, p.UserID)
		}
	}
	return ids
}

// OtherParticipant returns the other user in a direct room, or nil when the
// room has no second active participant.
func (r *ChatRoom) OtherParticipant(userID int64) *User {
	for _, p := range r.Participants {
		if p.IsActive && p.UserID != userID {
			return p.User
		}
	}
	return nil
}

// Participant ties a user to a room. Inactive participants are retained for
// history but hidden from active-room queries.
type Participant struct {
	RoomID   int64 `json:"room_id"`
	UserID   int64 `json:"user_id"`
	IsActive bool  `json:"is_active"`
	User     *User `json:"user,omitempty"`
}
