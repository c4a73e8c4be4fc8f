package client

import (
	"context"
	"sort"
	"time"

	"github.com/ezifydevelopers/trainingportal-chat/internal/models"
)

// pollInterval is the cadence of the reliability backstop. It is short
// enough to mask missed pushes without requiring any push guarantees.
const pollInterval = 5 * time.Second

// View is the merged, deduplicated, ordered message list for one room.
// It is owned exclusively by the session controller; the reconciler only
// computes merges into it under the session's lock.
type View struct {
	RoomID   int64
	messages []models.ChatMessage
	index    map[int64]struct{}
	// tombstones block deleted ids from resurrecting via a stale poll
	// snapshot taken before the deletion.
	tombstones map[int64]struct{}
}

// NewView creates an empty view for a room.
func NewView(roomID int64) *View {
	return &View{
		RoomID:     roomID,
		index:      make(map[int64]struct{}),
		tombstones: make(map[int64]struct{}),
	}
}

// Messages returns the ordered messages. Callers must treat the slice as
// read-only.
func (v *View) Messages() []models.ChatMessage {
	return v.messages
}

// Contains reports whether the view holds a message id.
func (v *View) Contains(id int64) bool {
	_, ok := v.index[id]
	return ok
}

// Len returns the number of messages in the view.
func (v *View) Len() int {
	return len(v.messages)
}

// maxID returns the largest message id in the view, or 0 when empty.
func (v *View) maxID() int64 {
	var max int64
	for _, m := range v.messages {
		if m.ID > max {
			max = m.ID
		}
	}
	return max
}

// insert places a message at its (CreatedAt, ID) position.
func (v *View) insert(msg models.ChatMessage) {
	i := sort.Search(len(v.messages), func(i int) bool {
		return msg.Before(v.messages[i])
	})
	v.messages = append(v.messages, models.ChatMessage{})
	copy(v.messages[i+1:], v.messages[i:])
	v.messages[i] = msg
	v.index[msg.ID] = struct{}{}
}

// remove drops a message id and records a tombstone.
func (v *View) remove(id int64) bool {
	v.tombstones[id] = struct{}{}
	return v.removeOnly(id)
}

// removeOnly drops a message id without tombstoning it, for removals that
// may be revised by a later snapshot.
func (v *View) removeOnly(id int64) bool {
	if _, ok := v.index[id]; !ok {
		return false
	}
	delete(v.index, id)
	for i := range v.messages {
		if v.messages[i].ID == id {
			v.messages = append(v.messages[:i], v.messages[i+1:]...)
			break
		}
	}
	return true
}

// Reconciler merges both delivery paths (pushed events and polled
// snapshots) into a single view. Both sources yield the same entity
// keyed by store-assigned id, so the merge is commutative and idempotent:
// any interleaving of pushes and polls over the same store state produces
// the same view.
type Reconciler struct {
	viewerID int64
}

// NewReconciler creates a reconciler for the given local viewer.
func NewReconciler(viewerID int64) *Reconciler {
	return &Reconciler{viewerID: viewerID}
}

// ApplyPush merges one pushed message. Returns true when the view changed.
// A message already present is discarded, as is the broadcast echo of the
// viewer's own send (the optimistic local copy already covers it; the
// confirmed copy arrives through the send response).
func (r *Reconciler) ApplyPush(v *View, msg models.ChatMessage) bool {
	if msg.RoomID != v.RoomID {
		return false
	}
	if _, dead := v.tombstones[msg.ID]; dead {
		return false
	}
	if v.Contains(msg.ID) {
		return false
	}
	if msg.SenderID == r.viewerID {
		return false
	}
	v.insert(msg)
	return true
}

// ApplyConfirmed inserts the store's copy of the viewer's own message after
// a successful send. Unlike ApplyPush it accepts self-sent messages.
func (r *Reconciler) ApplyConfirmed(v *View, msg models.ChatMessage) bool {
	if msg.RoomID != v.RoomID || v.Contains(msg.ID) {
		return false
	}
	if _, dead := v.tombstones[msg.ID]; dead {
		return false
	}
	v.insert(msg)
	return true
}

// ApplySnapshot merges a polled superset snapshot. Missing messages are
// added; messages present locally but absent from the snapshot were
// deleted server-side and are removed. Polling twice with no new data
// changes nothing.
func (r *Reconciler) ApplySnapshot(v *View, msgs []models.ChatMessage) bool {
	changed := false
	present := make(map[int64]struct{}, len(msgs))

	for _, msg := range msgs {
		if msg.RoomID != v.RoomID {
			continue
		}
		present[msg.ID] = struct{}{}
		if _, dead := v.tombstones[msg.ID]; dead {
			continue
		}
		if v.Contains(msg.ID) {
			continue
		}
		v.insert(msg)
		changed = true
	}

	// The snapshot is the full history, so local messages absent from it
	// were deleted server-side. Messages that sort after everything in the
	// snapshot are exempt: they may have been pushed after the snapshot
	// was taken. No tombstone is recorded here, so a removal the next
	// snapshot disagrees with heals itself.
	var snapMax *models.ChatMessage
	for i := range msgs {
		if snapMax == nil || snapMax.Before(msgs[i]) {
			snapMax = &msgs[i]
		}
	}
	var stale []int64
	for _, m := range v.messages {
		if _, ok := present[m.ID]; ok {
			continue
		}
		if snapMax != nil && snapMax.Before(m) {
			continue
		}
		stale = append(stale, m.ID)
	}
	for _, id := range stale {
		v.removeOnly(id)
		changed = true
	}

	return changed
}

// ApplyDelete removes ids from the view and tombstones them so no stale
// snapshot can bring them back.
func (r *Reconciler) ApplyDelete(v *View, ids []int64) bool {
	changed := false
	for _, id := range ids {
		if v.remove(id) {
			changed = true
		}
	}
	return changed
}

// Poller drives the pull path: the unread counter on every tick, plus the
// open room's history when one is open. Fetches degrade silently; the next
// tick retries.
type Poller struct {
	interval time.Duration
	tick     func(ctx context.Context)
}

// NewPoller creates a poller invoking tick at the standard cadence.
func NewPoller(tick func(ctx context.Context)) *Poller {
	return &Poller{interval: pollInterval, tick: tick}
}

// Run polls until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}
