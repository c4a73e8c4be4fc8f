package client

import (
	"context"
	"sync"
	"time"

	"github.com/ezifydevelopers/trainingportal-chat/internal/wire"
)

const (
	// typingTTL is how long a received typing flag survives without a
	// refresh. Senders refresh faster than this, so a live typist never
	// flickers; a vanished one decays on their own.
	typingTTL = 4 * time.Second

	// typingRefreshInterval throttles outbound typing events: emit on the
	// false→true transition, then at most once per interval while true.
	typingRefreshInterval = 2500 * time.Millisecond

	typingSweepInterval = time.Second
)

type typingKey struct {
	roomID int64
	userID int64
}

type sentTyping struct {
	typing bool
	at     time.Time
}

// eventSender is the slice of the connection manager the coordinator
// needs. Typing events are best-effort; loss is acceptable.
type eventSender interface {
	Send(ev wire.Event)
}

// TypingCoordinator tracks short-lived "is typing" state per room: it
// rate-limits the local user's outbound notifications and decays received
// flags on a TTL. Nothing here is ever persisted.
type TypingCoordinator struct {
	sender eventSender
	now    func() time.Time

	mu       sync.Mutex
	entries  map[typingKey]time.Time // expiry per (room, user)
	lastSent map[int64]sentTyping    // per room, local user only
}

// NewTypingCoordinator creates a coordinator sending through the given
// connection.
func NewTypingCoordinator(sender eventSender) *TypingCoordinator {
	return &TypingCoordinator{
		sender:   sender,
		now:      time.Now,
		entries:  make(map[typingKey]time.Time),
		lastSent: make(map[int64]sentTyping),
	}
}

// NotifyTyping reports the local user's typing state for a room. Calls may
// arrive on every keystroke; only transitions and periodic refreshes are
// emitted.
func (c *TypingCoordinator) NotifyTyping(roomID int64, isTyping bool) {
	c.mu.Lock()
	last, ok := c.lastSent[roomID]
	now := c.now()

	if isTyping && ok && last.typing && now.Sub(last.at) < typingRefreshInterval {
		c.mu.Unlock()
		return
	}
	if !isTyping && (!ok || !last.typing) {
		c.mu.Unlock()
		return
	}
	c.lastSent[roomID] = sentTyping{typing: isTyping, at: now}
	c.mu.Unlock()

	// UserID is stamped server-side; 0 here is fine.
	c.sender.Send(wire.Typing(roomID, 0, isTyping))
}

// HandleEvent applies a received typing frame: true sets or refreshes the
// expiry, false clears immediately.
func (c *TypingCoordinator) HandleEvent(p wire.TypingPayload) {
	key := typingKey{roomID: p.RoomID, userID: p.UserID}
	c.mu.Lock()
	defer c.mu.Unlock()
	if p.IsTyping {
		c.entries[key] = c.now().Add(typingTTL)
	} else {
		delete(c.entries, key)
	}
}

// TypingUsers returns who is currently typing in a room, ignoring entries
// whose TTL has lapsed even if the sweeper has not collected them yet.
func (c *TypingCoordinator) TypingUsers(roomID int64) []int64 {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	var ids []int64
	for key, expiry := range c.entries {
		if key.roomID == roomID && expiry.After(now) {
			ids = append(ids, key.userID)
		}
	}
	return ids
}

// CloseRoom clears room-scoped typing state when a conversation closes:
// received flags are dropped and, if the local user was flagged as typing,
// a stop notification goes out.
func (c *TypingCoordinator) CloseRoom(roomID int64) {
	c.mu.Lock()
	for key := range c.entries {
		if key.roomID == roomID {
			delete(c.entries, key)
		}
	}
	last, ok := c.lastSent[roomID]
	delete(c.lastSent, roomID)
	c.mu.Unlock()

	if ok && last.typing {
		c.sender.Send(wire.Typing(roomID, 0, false))
	}
}

// RunSweeper expires stale entries until ctx is cancelled.
func (c *TypingCoordinator) RunSweeper(ctx context.Context) {
	ticker := time.NewTicker(typingSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.sweep()
		}
	}
}

func (c *TypingCoordinator) sweep() {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, expiry := range c.entries {
		if !expiry.After(now) {
			delete(c.entries, key)
		}
	}
}
