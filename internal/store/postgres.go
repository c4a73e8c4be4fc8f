package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ezifydevelopers/trainingportal-chat/internal/models"
)

// PostgresStore handles PostgreSQL database operations.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL store with a connection pool and
// ensures the chat schema exists.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, err
	}

	s := &PostgresStore{pool: pool}
	if err := s.initSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id BIGSERIAL PRIMARY KEY,
		name TEXT NOT NULL,
		role TEXT NOT NULL DEFAULT 'TRAINEE',
		company_id BIGINT
	);

	CREATE TABLE IF NOT EXISTS chat_rooms (
		id BIGSERIAL PRIMARY KEY,
		type TEXT NOT NULL DEFAULT 'DIRECT',
		last_activity_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);

	CREATE TABLE IF NOT EXISTS chat_participants (
		room_id BIGINT NOT NULL REFERENCES chat_rooms(id) ON DELETE CASCADE,
		user_id BIGINT NOT NULL REFERENCES users(id),
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		PRIMARY KEY (room_id, user_id)
	);

	CREATE TABLE IF NOT EXISTS chat_messages (
		id BIGSERIAL PRIMARY KEY,
		room_id BIGINT NOT NULL REFERENCES chat_rooms(id) ON DELETE CASCADE,
		sender_id BIGINT NOT NULL REFERENCES users(id),
		content TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		is_read BOOLEAN NOT NULL DEFAULT FALSE,
		reply_to_id BIGINT
	);

	CREATE INDEX IF NOT EXISTS idx_messages_room ON chat_messages(room_id, created_at, id);
	CREATE INDEX IF NOT EXISTS idx_messages_unread ON chat_messages(room_id, is_read);
	CREATE INDEX IF NOT EXISTS idx_participants_user ON chat_participants(user_id);
	`
	_, err := s.pool.Exec(ctx, schema)
	return err
}

// Close closes the database connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// CreateUser creates a new user record.
func (s *PostgresStore) CreateUser(ctx context.Context, name string, role models.Role, companyID *int64) (*models.User, error) {
	user := &models.User{}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO users (name, role, company_id)
		VALUES ($1, $2, $3)
		RETURNING id, name, role, company_id
	`, name, role, companyID).Scan(&user.ID, &user.Name, &user.Role, &user.CompanyID)
	if err != nil {
		return nil, err
	}
	return user, nil
}

// GetUser retrieves a user by ID.
func (s *PostgresStore) GetUser(ctx context.Context, id int64) (*models.User, error) {
	user := &models.User{}
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, role, company_id FROM users WHERE id = $1
	`, id).Scan(&user.ID, &user.Name, &user.Role, &user.CompanyID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return user, nil
}

// ListUsers returns the directory of chat targets, excluding the caller.
func (s *PostgresStore) ListUsers(ctx context.Context, excludeID int64) ([]models.User, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, role, company_id FROM users
		WHERE id <> $1
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
func (s *PostgresStore) GetRoom(ctx context.Context, id int64) (*models.ChatRoom, error) {
	room := &models.ChatRoom{}
	err := s.pool.QueryRow(ctx, `
		SELECT id, type, last_activity_at FROM chat_rooms WHERE id = $1
	`, id).Scan(&room.ID, &room.Type, &room.LastActivityAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
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
func (s *PostgresStore) GetDirectRoom(ctx context.Context, userA, userB int64) (*models.ChatRoom, error) {
	var roomID int64
	err := s.pool.QueryRow(ctx, `
		SELECT a.room_id
		FROM chat_participants a
		JOIN chat_participants b ON a.room_id = b.room_id
		JOIN chat_rooms r ON r.id = a.room_id
		WHERE r.type = 'DIRECT' AND a.user_id = $1 AND b.user_id = $2
	`, userA, userB).Scan(&roomID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return s.GetRoom(ctx, roomID)
}

// CreateDirectRoom creates the direct room between two users. Callers look
// up first via GetDirectRoom; a duplicate direct room is never created.
func (s *PostgresStore) CreateDirectRoom(ctx context.Context, userA, userB int64) (*models.ChatRoom, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	var roomID int64
	err = tx.QueryRow(ctx, `
		INSERT INTO chat_rooms (type) VALUES ('DIRECT') RETURNING id
	`).Scan(&roomID)
	if err != nil {
		return nil, err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO chat_participants (room_id, user_id) VALUES ($1, $2), ($1, $3)
	`, roomID, userA, userB)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return s.GetRoom(ctx, roomID)
}

// ListRoomsForUser returns the caller's active rooms ordered by recency,
// with the latest message embedded. Rooms where the caller is inactive are
// excluded.
func (s *PostgresStore) ListRoomsForUser(ctx context.Context, userID int64) ([]models.ChatRoom, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT r.id, r.type, r.last_activity_at
		FROM chat_rooms r
		JOIN chat_participants p ON p.room_id = r.id
		WHERE p.user_id = $1 AND p.is_active
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

func (s *PostgresStore) latestMessage(ctx context.Context, roomID int64) (*models.ChatMessage, error) {
	msg := &models.ChatMessage{}
	err := s.pool.QueryRow(ctx, `
		SELECT id, room_id, sender_id, content, created_at, is_read, reply_to_id
		FROM chat_messages WHERE room_id = $1
		ORDER BY created_at DESC, id DESC LIMIT 1
	`, roomID).Scan(&msg.ID, &msg.RoomID, &msg.SenderID, &msg.Content, &msg.CreatedAt, &msg.IsRead, &msg.ReplyToID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return msg, nil
}

// RoomParticipants returns all participants of a room with user records.
func (s *PostgresStore) RoomParticipants(ctx context.Context, roomID int64) ([]models.Participant, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT p.room_id, p.user_id, p.is_active, u.id, u.name, u.role, u.company_id
		FROM chat_participants p
		JOIN users u ON u.id = p.user_id
		WHERE p.room_id = $1
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
func (s *PostgresStore) IsActiveParticipant(ctx context.Context, roomID, userID int64) (bool, error) {
	var active bool
	err := s.pool.QueryRow(ctx, `
		SELECT is_active FROM chat_participants WHERE room_id = $1 AND user_id = $2
	`, roomID, userID).Scan(&active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return active, nil
}

// DeleteRoom removes a room; messages and participant records cascade.
func (s *PostgresStore) DeleteRoom(ctx context.Context, roomID int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM chat_rooms WHERE id = $1`, roomID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateMessage appends a message to a room and bumps the room's activity
// timestamp in the same transaction.
func (s *PostgresStore) CreateMessage(ctx context.Context, roomID, senderID int64, content string, replyToID *int64) (*models.ChatMessage, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	msg := &models.ChatMessage{}
	err = tx.QueryRow(ctx, `
		INSERT INTO chat_messages (room_id, sender_id, content, reply_to_id)
		VALUES ($1, $2, $3, $4)
		RETURNING id, room_id, sender_id, content, created_at, is_read, reply_to_id
	`, roomID, senderID, content, replyToID).Scan(
		&msg.ID, &msg.RoomID, &msg.SenderID, &msg.Content, &msg.CreatedAt, &msg.IsRead, &msg.ReplyToID,
	)
	if err != nil {
		return nil, err
	}

	_, err = tx.Exec(ctx, `
		UPDATE chat_rooms SET last_activity_at = $2 WHERE id = $1
	`, roomID, msg.CreatedAt)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return msg, nil
}

// ListMessages returns a room's full history in (created_at, id) order.
func (s *PostgresStore) ListMessages(ctx context.Context, roomID int64) ([]models.ChatMessage, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, room_id, sender_id, content, created_at, is_read, reply_to_id
		FROM chat_messages WHERE room_id = $1
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
func (s *PostgresStore) GetMessage(ctx context.Context, id int64) (*models.ChatMessage, error) {
	msg := &models.ChatMessage{}
	err := s.pool.QueryRow(ctx, `
		SELECT id, room_id, sender_id, content, created_at, is_read, reply_to_id
		FROM chat_messages WHERE id = $1
	`, id).Scan(&msg.ID, &msg.RoomID, &msg.SenderID, &msg.Content, &msg.CreatedAt, &msg.IsRead, &msg.ReplyToID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return msg, nil
}

// DeleteMessages removes the caller's own messages. All-or-nothing per the
// DataStore contract.
func (s *PostgresStore) DeleteMessages(ctx context.Context, senderID int64, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, id := range ids {
		var owner int64
		err := tx.QueryRow(ctx, `SELECT sender_id FROM chat_messages WHERE id = $1`, id).Scan(&owner)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNotFound
			}
			return err
		}
		if owner != senderID {
			return ErrForbidden
		}
	}

	_, err = tx.Exec(ctx, `DELETE FROM chat_messages WHERE id = ANY($1)`, ids)
	if err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// MarkRoomRead marks every message in the room not sent by the user as read.
func (s *PostgresStore) MarkRoomRead(ctx context.Context, roomID, userID int64) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE chat_messages SET is_read = TRUE
		WHERE room_id = $1 AND sender_id <> $2 AND NOT is_read
	`, roomID, userID)
	return err
}

// UnreadCount returns the number of unread messages addressed to the user
// across their active rooms.
func (s *PostgresStore) UnreadCount(ctx context.Context, userID int64) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM chat_messages m
		JOIN chat_participants p ON p.room_id = m.room_id
		WHERE p.user_id = $1 AND p.is_active AND m.sender_id <> $1 AND NOT m.is_read
	`, userID).Scan(&count)
	return count, err
}
