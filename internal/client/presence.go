package client

import (
	"sync"

	"github.com/ezifydevelopers/trainingportal-chat/internal/wire"
)

// PresenceTracker classifies users as online or offline from connection
// lifecycle events and PRESENCE frames. Presence is advisory only: it has
// no polling fallback, may go stale, and never gates message delivery.
type PresenceTracker struct {
	selfID int64

	mu     sync.RWMutex
	online map[int64]struct{}
	subs   []func(userID int64, online bool)
}

// NewPresenceTracker creates a tracker for the given local user.
func NewPresenceTracker(selfID int64) *PresenceTracker {
	return &PresenceTracker{
		selfID: selfID,
		online: make(map[int64]struct{}),
	}
}

// Subscribe registers a callback for presence changes.
func (t *PresenceTracker) Subscribe(fn func(userID int64, online bool)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.subs = append(t.subs, fn)
}

// HandleConnState maps the local connection's lifecycle onto the local
// user's presence. Only a final disconnect (deliberate close or an
// exhausted reconnect budget) flips the user offline; transient blips stay
// in StateConnecting and change nothing.
func (t *PresenceTracker) HandleConnState(s ConnState) {
	switch s {
	case StateConnected:
		t.set(t.selfID, true)
	case StateDisconnected:
		t.set(t.selfID, false)
	}
}

// HandleEvent applies a PRESENCE frame from the push channel.
func (t *PresenceTracker) HandleEvent(p wire.PresencePayload) {
	t.set(p.UserID, p.Online)
}

// Online reports whether a user currently holds a live connection, as far
// as this client knows.
func (t *PresenceTracker) Online(userID int64) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.online[userID]
	return ok
}

// OnlineUsers returns a snapshot of known-online user ids.
func (t *PresenceTracker) OnlineUsers() []int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ids := make([]int64, 0, len(t.online))
	for id := range t.online {
		ids = append(ids, id)
	}
	return ids
}

func (t *PresenceTracker) set(userID int64, online bool) {
	t.mu.Lock()
	_, was := t.online[userID]
	if online == was {
		t.mu.Unlock()
		return
	}
	if online {
		t.online[userID] = struct{}{}
	} else {
		delete(t.online, userID)
	}
	subs := make([]func(int64, bool), len(t.subs))
	copy(subs, t.subs)
	t.mu.Unlock()

	for _, fn := range subs {
		fn(userID, online)
	}
}
