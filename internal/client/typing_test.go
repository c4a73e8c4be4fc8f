package client

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ezifydevelopers/trainingportal-chat/internal/wire"
)

type recordingSender struct {
	mu   sync.Mutex
	sent []wire.Event
}

func (r *recordingSender) Send(ev wire.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, ev)
}

func (r *recordingSender) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

func (r *recordingSender) last() wire.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sent[len(r.sent)-1]
}

// fakeClock drives the coordinator's notion of time in tests.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestTyping() (*TypingCoordinator, *recordingSender, *fakeClock) {
	sender := &recordingSender{}
	clock := newFakeClock()
	c := NewTypingCoordinator(sender)
	c.now = clock.Now
	return c, sender, clock
}

func TestNotifyTypingRateLimited(t *testing.T) {
	c, sender, clock := newTestTyping()

	// Transition emits; repeats within the refresh window are suppressed.
	c.NotifyTyping(7, true)
	c.NotifyTyping(7, true)
	c.NotifyTyping(7, true)
	assert.Equal(t, 1, sender.count())

	// Still typing past the refresh window emits again.
	clock.Advance(typingRefreshInterval)
	c.NotifyTyping(7, true)
	assert.Equal(t, 2, sender.count())

	// Stopping emits immediately; stopping twice does not.
	c.NotifyTyping(7, false)
	c.NotifyTyping(7, false)
	require.Equal(t, 3, sender.count())
	stop := sender.last()
	assert.Equal(t, wire.EventTyping, stop.Type)
	assert.False(t, stop.Typing.IsTyping)
}

func TestNotifyTypingStopWithoutStart(t *testing.T) {
	c, sender, _ := newTestTyping()
	c.NotifyTyping(7, false)
	assert.Zero(t, sender.count())
}

func TestTypingUsersDecayOnTTL(t *testing.T) {
	c, _, clock := newTestTyping()

	c.HandleEvent(wire.TypingPayload{RoomID: 7, UserID: 2, IsTyping: true})
	c.HandleEvent(wire.TypingPayload{RoomID: 7, UserID: 3, IsTyping: true})
	assert.ElementsMatch(t, []int64{2, 3}, c.TypingUsers(7))

	// A refresh keeps one alive across the other's expiry.
	clock.Advance(typingTTL - time.Second)
	c.HandleEvent(wire.TypingPayload{RoomID: 7, UserID: 2, IsTyping: true})
	clock.Advance(2 * time.Second)
	assert.Equal(t, []int64{2}, c.TypingUsers(7))

	// Even without the sweeper running, lapsed entries are invisible.
	clock.Advance(typingTTL)
	assert.Empty(t, c.TypingUsers(7))
}

func TestTypingExplicitStopClearsImmediately(t *testing.T) {
	c, _, _ := newTestTyping()

	c.HandleEvent(wire.TypingPayload{RoomID: 7, UserID: 2, IsTyping: true})
	c.HandleEvent(wire.TypingPayload{RoomID: 7, UserID: 2, IsTyping: false})
	assert.Empty(t, c.TypingUsers(7))
}

func TestTypingScopedPerRoom(t *testing.T) {
	c, _, _ := newTestTyping()

	c.HandleEvent(wire.TypingPayload{RoomID: 7, UserID: 2, IsTyping: true})
	c.HandleEvent(wire.TypingPayload{RoomID: 8, UserID: 2, IsTyping: true})
	assert.Equal(t, []int64{2}, c.TypingUsers(7))
	assert.Equal(t, []int64{2}, c.TypingUsers(8))

	c.HandleEvent(wire.TypingPayload{RoomID: 7, UserID: 2, IsTyping: false})
	assert.Empty(t, c.TypingUsers(7))
	assert.Equal(t, []int64{2}, c.TypingUsers(8))
}

func TestCloseRoomSendsStopAndClears(t *testing.T) {
	c, sender, _ := newTestTyping()

	c.HandleEvent(wire.TypingPayload{RoomID: 7, UserID: 2, IsTyping: true})
	c.NotifyTyping(7, true)
	require.Equal(t, 1, sender.count())

	c.CloseRoom(7)
	assert.Empty(t, c.TypingUsers(7))
	require.Equal(t, 2, sender.count())
	assert.False(t, sender.last().Typing.IsTyping)

	// Closing a room we were not typing in sends nothing.
	c.CloseRoom(8)
	assert.Equal(t, 2, sender.count())
}

func TestSweepCollectsExpired(t *testing.T) {
	c, _, clock := newTestTyping()

	c.HandleEvent(wire.TypingPayload{RoomID: 7, UserID: 2, IsTyping: true})
	clock.Advance(typingTTL + time.Millisecond)
	c.sweep()

	c.mu.Lock()
	remaining := len(c.entries)
	c.mu.Unlock()
	assert.Zero(t, remaining)
}
