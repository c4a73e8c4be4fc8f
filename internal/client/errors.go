package client

import "errors"

// Error taxonomy for the chat client. Transient delivery failures are
// recovered internally and never reach callers; these are the surfaced
// classes.
var (
	// ErrUnauthorized means the bearer credential was rejected. Fatal to
	// the session: credentials are cleared and the caller must re-login.
	ErrUnauthorized = errors.New("chat: unauthorized")

	// ErrForbidden means the store denied the operation (e.g. deleting
	// another user's message). No local mutation is applied.
	ErrForbidden = errors.New("chat: forbidden")

	// ErrNotFound means the referenced room or message no longer exists.
	ErrNotFound = errors.New("chat: not found")

	// ErrEmptyMessage rejects empty or whitespace-only content before any
	// network call.
	ErrEmptyMessage = errors.New("chat: message content is empty")

	// ErrNoOpenRoom means an operation that needs an open conversation was
	// called while no room is open.
	ErrNoOpenRoom = errors.New("chat: no open room")

	// ErrRoomChanged means an in-flight operation was abandoned because
	// the user switched rooms before it completed.
	ErrRoomChanged = errors.New("chat: room changed")
)
