package client

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ezifydevelopers/trainingportal-chat/internal/models"
)

var reconcileBase = time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)

func msg(id, roomID, senderID int64, offset time.Duration) models.ChatMessage {
	return models.ChatMessage{
		ID:        id,
		RoomID:    roomID,
		SenderID:  senderID,
		Content:   "m",
		CreatedAt: reconcileBase.Add(offset),
	}
}

func viewIDs(v *View) []int64 {
	ids := make([]int64, 0, v.Len())
	for _, m := range v.Messages() {
		ids = append(ids, m.ID)
	}
	return ids
}

func TestApplyPushDeduplicates(t *testing.T) {
	r := NewReconciler(1)
	v := NewView(7)
	m := msg(101, 7, 2, 0)

	assert.True(t, r.ApplyPush(v, m))
	assert.False(t, r.ApplyPush(v, m))
	assert.Equal(t, []int64{101}, viewIDs(v))
}

func TestPushAndSnapshotConverge(t *testing.T) {
	// The same message arriving over both paths, in either order, yields
	// exactly one copy.
	m := msg(101, 7, 2, 0)

	r := NewReconciler(1)
	pushFirst := NewView(7)
	r.ApplyPush(pushFirst, m)
	r.ApplySnapshot(pushFirst, []models.ChatMessage{m})

	pollFirst := NewView(7)
	r.ApplySnapshot(pollFirst, []models.ChatMessage{m})
	r.ApplyPush(pollFirst, m)

	assert.Equal(t, []int64{101}, viewIDs(pushFirst))
	assert.Equal(t, []int64{101}, viewIDs(pollFirst))
}

func TestApplyPushIgnoresOtherRooms(t *testing.T) {
	r := NewReconciler(1)
	v := NewView(7)

	assert.False(t, r.ApplyPush(v, msg(101, 8, 2, 0)))
	assert.Zero(t, v.Len())
}

func TestApplyPushDiscardsOwnEcho(t *testing.T) {
	// The broadcast of the viewer's own message is covered by the
	// optimistic local copy; only the send response may insert it.
	r := NewReconciler(1)
	v := NewView(7)

	assert.False(t, r.ApplyPush(v, msg(101, 7, 1, 0)))
	assert.Zero(t, v.Len())

	assert.True(t, r.ApplyConfirmed(v, msg(101, 7, 1, 0)))
	assert.Equal(t, []int64{101}, viewIDs(v))
}

func TestOrderingByCreatedAtThenID(t *testing.T) {
	r := NewReconciler(1)
	v := NewView(7)

	// Same timestamp: id breaks the tie. Out-of-order arrival.
	r.ApplyPush(v, msg(103, 7, 2, time.Second))
	r.ApplyPush(v, msg(102, 7, 3, time.Second))
	r.ApplyPush(v, msg(101, 7, 2, 0))

	assert.Equal(t, []int64{101, 102, 103}, viewIDs(v))
}

func TestApplySnapshotRemovesServerDeleted(t *testing.T) {
	r := NewReconciler(1)
	v := NewView(7)
	a := msg(101, 7, 2, 0)
	b := msg(102, 7, 2, time.Second)
	c := msg(103, 7, 2, 2*time.Second)
	r.ApplySnapshot(v, []models.ChatMessage{a, b, c})

	// b vanished server-side; the next snapshot drops it locally.
	assert.True(t, r.ApplySnapshot(v, []models.ChatMessage{a, c}))
	assert.Equal(t, []int64{101, 103}, viewIDs(v))
}

func TestApplySnapshotKeepsMessagesNewerThanSnapshot(t *testing.T) {
	// A message pushed after the poll response was assembled is absent
	// from the snapshot but must not be removed.
	r := NewReconciler(1)
	v := NewView(7)
	a := msg(101, 7, 2, 0)
	r.ApplySnapshot(v, []models.ChatMessage{a})

	pushed := msg(102, 7, 2, time.Second)
	require.True(t, r.ApplyPush(v, pushed))

	assert.False(t, r.ApplySnapshot(v, []models.ChatMessage{a}))
	assert.Equal(t, []int64{101, 102}, viewIDs(v))
}

func TestApplySnapshotIdempotent(t *testing.T) {
	r := NewReconciler(1)
	v := NewView(7)
	snap := []models.ChatMessage{msg(101, 7, 2, 0), msg(102, 7, 3, time.Second)}

	assert.True(t, r.ApplySnapshot(v, snap))
	assert.False(t, r.ApplySnapshot(v, snap))
	assert.Equal(t, []int64{101, 102}, viewIDs(v))
}

func TestApplyDeleteBlocksResurrection(t *testing.T) {
	r := NewReconciler(1)
	v := NewView(7)
	a := msg(101, 7, 2, 0)
	b := msg(102, 7, 2, time.Second)
	r.ApplySnapshot(v, []models.ChatMessage{a, b})

	require.True(t, r.ApplyDelete(v, []int64{102}))
	assert.Equal(t, []int64{101}, viewIDs(v))

	// A stale snapshot taken before the deletion must not bring it back,
	// over either path.
	assert.False(t, r.ApplySnapshot(v, []models.ChatMessage{a, b}))
	assert.False(t, r.ApplyPush(v, b))
	assert.Equal(t, []int64{101}, viewIDs(v))
}

func TestApplyDeleteUnknownID(t *testing.T) {
	r := NewReconciler(1)
	v := NewView(7)
	r.ApplyPush(v, msg(101, 7, 2, 0))

	assert.False(t, r.ApplyDelete(v, []int64{999}))
	assert.Equal(t, []int64{101}, viewIDs(v))
}
