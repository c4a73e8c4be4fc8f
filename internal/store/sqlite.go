package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/ezifydevelopers/trainingportal-chat/internal/models"
)

// SQLiteStore handles SQLite database operations. It is the development
// default when no DATABASE_URL is configured.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
// If dbPath is empty, defaults to "./data/chat.db".
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		dbPath = "./data/chat.db"
	}

	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, err
	}

	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// initSchema creates tables if they don't exist.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		role TEXT NOT NULL DEFAULT 'TRAINEE',
		company_id INTEGER
	);

	CREATE TABLE IF NOT EXISTS chat_rooms (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		type TEXT NOT NULL DEFAULT 'DIRECT',
		last_activity_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS chat_participants (
		room_id INTEGER NOT NULL REFERENCES chat_rooms(id) ON DELETE CASCADE,
		user_id INTEGER NOT NULL REFERENCES users(id),
		is_active INTEGER NOT NULL DEFAULT 1,
		PRIMARY KEY (room_id, user_id)
	);

	CREATE TABLE IF NOT EXISTS chat_messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		room_id INTEGER NOT NULL REFERENCES chat_rooms(id) ON DELETE CASCADE,
		sender_id INTEGER NOT NULL REFERENCES users(id),
		content TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		is_read INTEGER NOT NULL DEFAULT 0,
		reply_to_id INTEGER
	);

	CREATE INDEX IF NOT EXISTS idx_messages_room ON chat_messages(room_id, created_at, id);
	CREATE INDEX IF NOT EXISTS idx_participants_user ON chat_participants(user_id);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() {
	s.db.Close()
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// CreateUser creates a new user record.
func (s *SQLiteStore) CreateUser(ctx context.Context, name string, role models.Role, companyID *int64) (*models.User, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO users (name, role, company_id) VALUES (?, ?, ?)
	`, name, role, companyID)
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return s.GetUser(ctx, id)
}

// GetUser retrieves a user by ID.
func (s *SQLiteStore) GetUser(ctx context.Context, id int64) (*models.User, error) {
	user := &models.User{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, role, company_id FROM users WHERE id = ?
	`, id).Scan(&user.ID, &user.Name, &user.Role, &user.CompanyID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return user, nil
}

// ListUsers returns the directory of chat targets, excluding the caller.
func (s *SQLiteStore) ListUsers(ctx context.Context, excludeID int64) ([]models.User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, role, company_id FROM users
		WHERE id <> ?
		ORDER BY name, id
	`, excludeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		var u models.User
		if err := rows.Scan(&u.ID, &u.Name, &u.Role, &u.CompanyID); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// GetRoom retrieves a room with its participants.
func (s *SQLiteStore) GetRoom(ctx context.Context, id int64) (*models.ChatRoom, error) {
	room := &models.ChatRoom{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, type, last_activity_at FROM chat_rooms WHERE id = ?
	`, id).Scan(&room.ID, &room.Type, &room.LastActivityAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	participants, err := s.RoomParticipants(ctx, id)
	if err != nil {
		return nil, err
	}
	room.Participants = participants
	return room, nil
}

// GetDirectRoom looks up the unique direct room between two users.
func (s *SQLiteStore) GetDirectRoom(ctx context.Context, userA, userB int64) (*models.ChatRoom, error) {
	var roomID int64
	err := s.db.QueryRowContext(ctx, `
		SELECT a.room_id
		FROM chat_participants a
		JOIN chat_participants b ON a.room_id = b.room_id
		JOIN chat_rooms r ON r.id = a.room_id
		WHERE r.type = 'DIRECT' AND a.user_id = ? AND b.user_id = ?
	`, userA, userB).Scan(&roomID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return s.GetRoom(ctx, roomID)
}

// CreateDirectRoom creates the direct room between two users.
func (s *SQLiteStore) CreateDirectRoom(ctx context.Context, userA, userB int64) (*models.ChatRoom, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO chat_rooms (type, last_activity_at) VALUES ('DIRECT', ?)
	`, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	roomID, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO chat_participants (room_id, user_id) VALUES (?, ?), (?, ?)
	`, roomID, userA, roomID, userB)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return s.GetRoom(ctx, roomID)
}

// ListRoomsForUser returns the caller's active rooms ordered by recency,
// with the latest message embedded.
func (s *SQLiteStore) ListRoomsForUser(ctx context.Context, userID int64) ([]models.ChatRoom, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.type, r.last_activity_at
		FROM chat_rooms r
		JOIN chat_participants p ON p.room_id = r.id
		WHERE p.user_id = ? AND p.is_active
		ORDER BY r.last_activity_at DESC, r.id DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rooms []models.ChatRoom
	for rows.Next() {
		var r models.ChatRoom
		if err := rows.Scan(&r.ID, &r.Type, &r.LastActivityAt); err != nil {
			return nil, err
		}
		rooms = append(rooms, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range rooms {
		participants, err := s.RoomParticipants(ctx, rooms[i].ID)
		if err != nil {
			return nil, err
		}
		rooms[i].Participants = participants

		last, err := s.latestMessage(ctx, rooms[i].ID)
		if err != nil {
			return nil, err
		}
		rooms[i].LastMessage = last
	}
	return rooms, nil
}

func (s *SQLiteStore) latestMessage(ctx context.Context, roomID int64) (*models.ChatMessage, error) {
	msg := &models.ChatMessage{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, room_id, sender_id, content, created_at, is_read, reply_to_id
		FROM chat_messages WHERE room_id = ?
		ORDER BY created_at DESC, id DESC LIMIT 1
	`, roomID).Scan(&msg.ID, &msg.RoomID, &msg.SenderID, &msg.Content, &msg.CreatedAt, &msg.IsRead, &msg.ReplyToID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return msg, nil
}

// RoomParticipants returns all participants of a room with user records.
func (s *SQLiteStore) RoomParticipants(ctx context.Context, roomID int64) ([]models.Participant, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.room_id, p.user_id, p.is_active, u.id, u.name, u.role, u.company_id
		FROM chat_participants p
		JOIN users u ON u.id = p.user_id
		WHERE p.room_id = ?
		ORDER BY p.user_id
	`, roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var participants []models.Participant
	for rows.Next() {
		var p models.Participant
		var u models.User
		if err := rows.Scan(&p.RoomID, &p.UserID, &p.IsActive, &u.ID, &u.Name, &u.Role, &u.CompanyID); err != nil {
			return nil, err
		}
		p.User = &u
		participants = append(participants, p)
	}
	return participants, rows.Err()
}

// IsActiveParticipant reports whether the user is an active participant of
// the room.
func (s *SQLiteStore) IsActiveParticipant(ctx context.Context, roomID, userID int64) (bool, error) {
	var active bool
	err := s.db.QueryRowContext(ctx, `
		SELECT is_active FROM chat_participants WHERE room_id = ? AND user_id = ?
	`, roomID, userID).Scan(&active)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return active, nil
}

// DeleteRoom removes a room; messages and participant records cascade.
func (s *SQLiteStore) DeleteRoom(ctx context.Context, roomID int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM chat_rooms WHERE id = ?`, roomID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateMessage appends a message to a room and bumps the room's activity
// timestamp in the same transaction.
func (s *SQLiteStore) CreateMessage(ctx context.Context, roomID, senderID int64, content string, replyToID *int64) (*models.ChatMessage, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx, `
		INSERT INTO chat_messages (room_id, sender_id, content, created_at, reply_to_id)
		VALUES (?, ?, ?, ?, ?)
	`, roomID, senderID, content, now, replyToID)
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE chat_rooms SET last_activity_at = ? WHERE id = ?
	`, now, roomID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return &models.ChatMessage{
		ID:        id,
		RoomID:    roomID,
		SenderID:  senderID,
		Content:   content,
		CreatedAt: now,
		ReplyToID: replyToID,
	}, nil
}

// ListMessages returns a room's full history in (created_at, id) order.
func (s *SQLiteStore) ListMessages(ctx context.Context, roomID int64) ([]models.ChatMessage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, room_id, sender_id, content, created_at, is_read, reply_to_id
		FROM chat_messages WHERE room_id = ?
		ORDER BY created_at, id
	`, roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []models.ChatMessage
	for rows.Next() {
		var m models.ChatMessage
		if err := rows.Scan(&m.ID, &m.RoomID, &m.SenderID, &m.Content, &m.CreatedAt, &m.IsRead, &m.ReplyToID); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// GetMessage retrieves a message by ID.
func (s *SQLiteStore) GetMessage(ctx context.Context, id int64) (*models.ChatMessage, error) {
	msg := &models.ChatMessage{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, room_id, sender_id, content, created_at, is_read, reply_to_id
		FROM chat_messages WHERE id = ?
	`, id).Scan(&msg.ID, &msg.RoomID, &msg.SenderID, &msg.Content, &msg.CreatedAt, &msg.IsRead, &msg.ReplyToID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return msg, nil
}

// DeleteMessages removes the caller's own messages. All-or-nothing per the
// DataStore contract.
func (s *SQLiteStore) DeleteMessages(ctx context.Context, senderID int64, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, id := range ids {
		var owner int64
		err := tx.QueryRowContext(ctx, `SELECT sender_id FROM chat_messages WHERE id = ?`, id).Scan(&owner)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return err
		}
		if owner != senderID {
			return ErrForbidden
		}
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	_, err = tx.ExecContext(ctx, `DELETE FROM chat_messages WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return err
	}
	return tx.Commit()
}

// MarkRoomRead marks every message in the room not sent by the user as read.
func (s *SQLiteStore) MarkRoomRead(ctx context.Context, roomID, userID int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE chat_messages SET is_read = 1
		WHERE room_id = ? AND sender_id <> ? AND is_read = 0
	`, roomID, userID)
	return err
}

// UnreadCount returns the number of unread messages addressed to the user
// across their active rooms.
func (s *SQLiteStore) UnreadCount(ctx context.Context, userID int64) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM chat_messages m
		JOIN chat_participants p ON p.room_id = m.room_id
		WHERE p.user_id = ? AND p.is_active AND m.sender_id <> ? AND m.is_read = 0
	`, userID, userID).Scan(&count)
	return count, err
}
