package client

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ezifydevelopers/trainingportal-chat/internal/models"
	"github.com/ezifydevelopers/trainingportal-chat/internal/wire"
)

type fakeStore struct {
	mu sync.Mutex

	history map[int64][]models.ChatMessage
	// historyHook, when set, overrides the canned history. Used to stall
	// or fail fetches.
	historyHook func(roomID int64) ([]models.ChatMessage, error)

	sendResult *models.ChatMessage
	sendErr    error
	deleteErr  error

	unread            int
	markReadRemaining int
	markReadCalls     int
	deletedIDs        []int64
	deletedRooms      []int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{history: make(map[int64][]models.ChatMessage)}
}

func (f *fakeStore) Rooms(ctx context.Context) ([]models.ChatRoom, error) {
	return nil, nil
}

func (f *fakeStore) RoomMessages(ctx context.Context, roomID int64) ([]models.ChatMessage, error) {
	f.mu.Lock()
	hook := f.historyHook
	msgs := f.history[roomID]
	f.mu.Unlock()
	if hook != nil {
		return hook(roomID)
	}
	return msgs, nil
}

func (f *fakeStore) SendMessage(ctx context.Context, roomID int64, content string, replyToID *int64) (*models.ChatMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	if f.sendResult != nil {
		return f.sendResult, nil
	}
	return &models.ChatMessage{ID: 500, RoomID: roomID, SenderID: 1, Content: content, CreatedAt: time.Now()}, nil
}

func (f *fakeStore) MarkRoomRead(ctx context.Context, roomID int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markReadCalls++
	return f.markReadRemaining, nil
}

func (f *fakeStore) DeleteMessages(ctx context.Context, ids ...int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deletedIDs = append(f.deletedIDs, ids...)
	return nil
}

func (f *fakeStore) DeleteRoom(ctx context.Context, roomID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deletedRooms = append(f.deletedRooms, roomID)
	return nil
}

func (f *fakeStore) UnreadCount(ctx context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.unread, nil
}

type fakeConn struct {
	mu     sync.Mutex
	sent   []wire.Event
	events chan wire.Event
	closed bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{events: make(chan wire.Event, 16)}
}

func (c *fakeConn) Send(ev wire.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, ev)
}

func (c *fakeConn) Events() <-chan wire.Event { return c.events }

func (c *fakeConn) OnStateChange(fn func(ConnState)) {}

func (c *fakeConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *fakeConn) sentTypes() []wire.EventType {
	c.mu.Lock()
	defer c.mu.Unlock()
	types := make([]wire.EventType, 0, len(c.sent))
	for _, ev := range c.sent {
		types = append(types, ev.Type)
	}
	return types
}

func newTestSession(store *fakeStore, conn *fakeConn) *Session {
	return NewSession(1, store, conn, zerolog.Nop())
}

func waitFor(t *testing.T, cond func() bool, what string) {
	t.Helper()
	require.Eventually(t, cond, time.Second, 2*time.Millisecond, what)
}

func TestOpenLoadsHistoryAndMarksRead(t *testing.T) {
	store := newFakeStore()
	store.history[7] = []models.ChatMessage{msg(101, 7, 2, 0), msg(102, 7, 2, time.Second)}
	conn := newFakeConn()
	s := newTestSession(store, conn)

	s.Open(context.Background(), 7)
	waitFor(t, func() bool { return s.State() == RoomOpen }, "room should open")

	entries := s.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, int64(101), entries[0].Message.ID)
	assert.Equal(t, int64(102), entries[1].Message.ID)

	waitFor(t, func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		return store.markReadCalls > 0
	}, "opening a room should mark it read")
	assert.Contains(t, conn.sentTypes(), wire.EventJoinRoom)
}

func TestOpenSwitchDiscardsStaleHistory(t *testing.T) {
	store := newFakeStore()
	release := make(chan struct{})
	store.historyHook = func(roomID int64) ([]models.ChatMessage, error) {
		if roomID == 7 {
			<-release
			return []models.ChatMessage{msg(101, 7, 2, 0)}, nil
		}
		return []models.ChatMessage{msg(201, 8, 2, 0)}, nil
	}
	conn := newFakeConn()
	s := newTestSession(store, conn)

	s.Open(context.Background(), 7)
	s.Open(context.Background(), 8)
	waitFor(t, func() bool { return s.State() == RoomOpen }, "second room should open")

	// The first room's fetch completes late; its response must be thrown
	// away, not merged into the now-open room.
	close(release)
	time.Sleep(20 * time.Millisecond)

	require.Equal(t, int64(8), s.OpenRoomID())
	entries := s.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, int64(201), entries[0].Message.ID)
}

func TestReopenSameRoomIsNoop(t *testing.T) {
	store := newFakeStore()
	store.history[7] = []models.ChatMessage{msg(101, 7, 2, 0)}
	conn := newFakeConn()
	s := newTestSession(store, conn)

	s.Open(context.Background(), 7)
	waitFor(t, func() bool { return s.State() == RoomOpen }, "room should open")
	s.Open(context.Background(), 7)

	assert.Equal(t, RoomOpen, s.State())
	assert.Len(t, s.Entries(), 1)
}

func TestSendMessageOptimisticEcho(t *testing.T) {
	store := newFakeStore()
	conn := newFakeConn()
	s := newTestSession(store, conn)

	s.Open(context.Background(), 7)
	waitFor(t, func() bool { return s.State() == RoomOpen }, "room should open")

	localID, err := s.SendMessage(context.Background(), "hello", nil)
	require.NoError(t, err)
	require.NotEmpty(t, localID)

	// The confirmed copy replaces the echo once the write lands.
	waitFor(t, func() bool {
		entries := s.Entries()
		return len(entries) == 1 && entries[0].LocalID == "" && entries[0].Message.ID == 500
	}, "echo should be promoted to the confirmed message")

	// The broadcast of our own message adds nothing.
	s.HandleEvent(wire.NewMessage(models.ChatMessage{ID: 500, RoomID: 7, SenderID: 1, Content: "hello", CreatedAt: time.Now()}))
	assert.Len(t, s.Entries(), 1)
}

func TestSendMessageShowsEchoBeforeConfirmation(t *testing.T) {
	store := newFakeStore()
	release := make(chan struct{})
	// Stall the write: the echo must be visible before the store replies.
	slow := &slowStore{fakeStore: store, release: release}
	conn := newFakeConn()
	s := NewSession(1, slow, conn, zerolog.Nop())

	s.Open(context.Background(), 7)
	waitFor(t, func() bool { return s.State() == RoomOpen }, "room should open")

	localID, err := s.SendMessage(context.Background(), "hi", nil)
	require.NoError(t, err)

	entries := s.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, localID, entries[0].LocalID)
	assert.True(t, entries[0].Pending)
	assert.Equal(t, "hi", entries[0].Message.Content)

	close(release)
	waitFor(t, func() bool {
		entries := s.Entries()
		return len(entries) == 1 && entries[0].LocalID == ""
	}, "echo should be promoted after the write completes")
}

// slowStore delays SendMessage until released.
type slowStore struct {
	*fakeStore
	release chan struct{}
}

func (s *slowStore) SendMessage(ctx context.Context, roomID int64, content string, replyToID *int64) (*models.ChatMessage, error) {
	<-s.release
	return s.fakeStore.SendMessage(ctx, roomID, content, replyToID)
}

func TestPollDeliversOwnSendBeforeConfirmation(t *testing.T) {
	store := newFakeStore()
	release := make(chan struct{})
	slow := &slowStore{fakeStore: store, release: release}
	conn := newFakeConn()
	s := NewSession(1, slow, conn, zerolog.Nop())

	s.Open(context.Background(), 7)
	waitFor(t, func() bool { return s.State() == RoomOpen }, "room should open")

	localID, err := s.SendMessage(context.Background(), "hello", nil)
	require.NoError(t, err)

	// The durable write already landed but its response is stalled; a poll
	// snapshot returns the confirmed copy while the echo is still pending.
	store.mu.Lock()
	store.history[7] = []models.ChatMessage{{ID: 500, RoomID: 7, SenderID: 1, Content: "hello", CreatedAt: time.Now()}}
	store.mu.Unlock()
	s.pollTick(context.Background())

	entries := s.Entries()
	require.Len(t, entries, 1, "the echo and its confirmed copy must collapse to one entry")
	assert.Equal(t, int64(500), entries[0].Message.ID)
	assert.Empty(t, entries[0].LocalID)

	// A settled echo cannot be retried into a second send.
	assert.ErrorIs(t, s.RetrySend(context.Background(), localID), ErrNotFound)

	// The late send response confirms a message already in the view.
	close(release)
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, s.Entries(), 1)
}

func TestSendMessageFailureMarksEchoFailed(t *testing.T) {
	store := newFakeStore()
	store.sendErr = fmt.Errorf("store unreachable")
	conn := newFakeConn()
	s := newTestSession(store, conn)

	s.Open(context.Background(), 7)
	waitFor(t, func() bool { return s.State() == RoomOpen }, "room should open")

	localID, err := s.SendMessage(context.Background(), "hello", nil)
	require.NoError(t, err)

	waitFor(t, func() bool {
		entries := s.Entries()
		return len(entries) == 1 && entries[0].Failed
	}, "echo should be marked failed, not dropped")

	// Retry succeeds once the store recovers.
	store.mu.Lock()
	store.sendErr = nil
	store.mu.Unlock()
	require.NoError(t, s.RetrySend(context.Background(), localID))
	waitFor(t, func() bool {
		entries := s.Entries()
		return len(entries) == 1 && entries[0].LocalID == ""
	}, "retried echo should be promoted")
}

func TestSendMessageValidation(t *testing.T) {
	store := newFakeStore()
	conn := newFakeConn()
	s := newTestSession(store, conn)

	_, err := s.SendMessage(context.Background(), "hello", nil)
	assert.ErrorIs(t, err, ErrNoOpenRoom)

	s.Open(context.Background(), 7)
	waitFor(t, func() bool { return s.State() == RoomOpen }, "room should open")

	_, err = s.SendMessage(context.Background(), "   \n", nil)
	assert.ErrorIs(t, err, ErrEmptyMessage)
}

func TestDeleteDenialLeavesViewUntouched(t *testing.T) {
	store := newFakeStore()
	store.history[7] = []models.ChatMessage{msg(101, 7, 1, 0), msg(102, 7, 2, time.Second)}
	store.deleteErr = fmt.Errorf("delete messages: %w", ErrForbidden)
	conn := newFakeConn()
	s := newTestSession(store, conn)

	s.Open(context.Background(), 7)
	waitFor(t, func() bool { return s.State() == RoomOpen }, "room should open")

	err := s.Delete(context.Background(), 101, 102)
	require.Error(t, err)
	assert.Len(t, s.Entries(), 2, "a denied delete must not mutate the view")
}

func TestDeleteSelectedExitsSelectMode(t *testing.T) {
	store := newFakeStore()
	store.history[7] = []models.ChatMessage{msg(101, 7, 1, 0), msg(102, 7, 1, time.Second)}
	conn := newFakeConn()
	s := newTestSession(store, conn)

	s.Open(context.Background(), 7)
	waitFor(t, func() bool { return s.State() == RoomOpen }, "room should open")

	require.True(t, s.ToggleSelectMode())
	s.ToggleSelected(101)
	s.ToggleSelected(102)
	require.ElementsMatch(t, []int64{101, 102}, s.SelectedIDs())

	require.NoError(t, s.DeleteSelected(context.Background()))
	assert.False(t, s.InSelectMode())
	assert.Empty(t, s.Entries())
	store.mu.Lock()
	assert.ElementsMatch(t, []int64{101, 102}, store.deletedIDs)
	store.mu.Unlock()
}

func TestOpenResetsSelection(t *testing.T) {
	store := newFakeStore()
	store.history[7] = []models.ChatMessage{msg(101, 7, 1, 0)}
	conn := newFakeConn()
	s := newTestSession(store, conn)

	s.Open(context.Background(), 7)
	waitFor(t, func() bool { return s.State() == RoomOpen }, "room should open")
	s.ToggleSelectMode()
	s.ToggleSelected(101)

	s.Open(context.Background(), 8)
	assert.False(t, s.InSelectMode())
	assert.Empty(t, s.SelectedIDs())
}

func TestNewMessageUnreadBadge(t *testing.T) {
	store := newFakeStore()
	conn := newFakeConn()
	s := newTestSession(store, conn)

	// No room open: each foreign message bumps the badge.
	s.HandleEvent(wire.NewMessage(msg(101, 7, 2, 0)))
	s.HandleEvent(wire.NewMessage(msg(102, 7, 2, time.Second)))
	assert.Equal(t, 2, s.Unread())

	// Own messages never count.
	s.HandleEvent(wire.NewMessage(msg(103, 7, 1, 2*time.Second)))
	assert.Equal(t, 2, s.Unread())
}

func TestRoomDeletedEventForceCloses(t *testing.T) {
	store := newFakeStore()
	store.history[7] = []models.ChatMessage{msg(101, 7, 2, 0)}
	conn := newFakeConn()
	s := newTestSession(store, conn)

	s.Open(context.Background(), 7)
	waitFor(t, func() bool { return s.State() == RoomOpen }, "room should open")

	s.HandleEvent(wire.RoomDeleted(7))
	assert.Equal(t, RoomClosed, s.State())
	assert.Empty(t, s.Entries())
}

func TestMessagesDeletedEventPrunesView(t *testing.T) {
	store := newFakeStore()
	store.history[7] = []models.ChatMessage{msg(101, 7, 2, 0), msg(102, 7, 2, time.Second)}
	conn := newFakeConn()
	s := newTestSession(store, conn)

	s.Open(context.Background(), 7)
	waitFor(t, func() bool { return s.State() == RoomOpen }, "room should open")

	s.HandleEvent(wire.MessagesDeleted(7, []int64{101}))
	entries := s.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, int64(102), entries[0].Message.ID)
}

func TestUnauthorizedTearsSessionDown(t *testing.T) {
	store := newFakeStore()
	store.history[7] = []models.ChatMessage{msg(101, 7, 2, 0)}
	conn := newFakeConn()
	s := newTestSession(store, conn)

	expired := make(chan struct{}, 1)
	s.OnSessionExpired(func() { expired <- struct{}{} })

	s.Open(context.Background(), 7)
	waitFor(t, func() bool { return s.State() == RoomOpen }, "room should open")

	store.mu.Lock()
	store.deleteErr = ErrUnauthorized
	store.mu.Unlock()
	require.Error(t, s.Delete(context.Background(), 101))

	select {
	case <-expired:
	case <-time.After(time.Second):
		t.Fatal("expected session-expired callback")
	}
	assert.Equal(t, RoomClosed, s.State())
	conn.mu.Lock()
	assert.True(t, conn.closed)
	conn.mu.Unlock()
}

func TestSessionExpiryFiresOnce(t *testing.T) {
	store := newFakeStore()
	store.history[7] = []models.ChatMessage{msg(101, 7, 2, 0)}
	conn := newFakeConn()
	s := newTestSession(store, conn)

	var fired int32
	s.OnSessionExpired(func() { atomic.AddInt32(&fired, 1) })

	s.Open(context.Background(), 7)
	waitFor(t, func() bool { return s.State() == RoomOpen }, "room should open")

	store.mu.Lock()
	store.deleteErr = ErrUnauthorized
	store.mu.Unlock()

	// Every store call is rejected the same way once the credential dies;
	// teardown must run for the first rejection only.
	require.Error(t, s.Delete(context.Background(), 101))
	require.Error(t, s.Delete(context.Background(), 101))
	s.pollTick(context.Background())

	assert.Equal(t, int32(1), atomic.LoadInt32(&fired))
	assert.Equal(t, RoomClosed, s.State())
}

func TestCloseAnnouncesDeparture(t *testing.T) {
	store := newFakeStore()
	conn := newFakeConn()
	s := newTestSession(store, conn)

	s.Open(context.Background(), 7)
	waitFor(t, func() bool { return s.State() == RoomOpen }, "room should open")
	s.Close()

	assert.Equal(t, RoomClosed, s.State())
	types := conn.sentTypes()
	assert.Contains(t, types, wire.EventJoinRoom)
	assert.Contains(t, types, wire.EventLeaveRoom)
}
