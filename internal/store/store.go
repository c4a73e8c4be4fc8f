package store

import (
	"context"
	"errors"

	"github.com/ezifydevelopers/trainingportal-chat/internal/models"
)

// Sentinel errors shared by all DataStore implementations. Handlers map
// these onto HTTP statuses.
var (
	ErrNotFound  = errors.New("store: not found")
	ErrForbidden = errors.New("store: operation not permitted")
)

// DataStore defines the interface for durable chat state: users, rooms,
// participants and messages. Both PostgresStore and SQLiteStore implement
// this interface. The store serializes writes per room, so a room's message
// sequence is append-only and totally ordered by (created_at, id).
type DataStore interface {
	// Connection management
	Close()
	Ping(ctx context.Context) error

	// User operations
	CreateUser(ctx context.Context, name string, role models.Role, companyID *int64) (*models.User, error)
	GetUser(ctx context.Context, id int64) (*models.User, error)
	ListUsers(ctx context.Context, excludeID int64) ([]models.User, error)

	// Room operations
	GetRoom(ctx context.Context, id int64) (*models.ChatRoom, error)
	GetDirectRoom(ctx context.Context, userA, userB int64) (*models.ChatRoom, error)
	CreateDirectRoom(ctx context.Context, userA, userB int64) (*models.ChatRoom, error)
	ListRoomsForUser(ctx context.Context, userID int64) ([]models.ChatRoom, error)
	RoomParticipants(ctx context.Context, roomID int64) ([]models.Participant, error)
	IsActiveParticipant(ctx context.Context, roomID, userID int64) (bool, error)
	DeleteRoom(ctx context.Context, roomID int64) error

	// Message operations
	CreateMessage(ctx context.Context, roomID, senderID int64, content string, replyToID *int64) (*models.ChatMessage, error)
	ListMessages(ctx context.Context, roomID int64) ([]models.ChatMessage, error)
	GetMessage(ctx context.Context, id int64) (*models.ChatMessage, error)
	// DeleteMessages removes messages owned by senderID. All-or-nothing: if
	// any id is missing it returns ErrNotFound, if any belongs to another
	// sender it returns ErrForbidden, and in both cases nothing is deleted.
	DeleteMessages(ctx context.Context, senderID int64, ids []int64) error
	MarkRoomRead(ctx context.Context, roomID, userID int64) error
	UnreadCount(ctx context.Context, userID int64) (int, error)
}
