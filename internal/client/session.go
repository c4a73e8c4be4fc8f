package client

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/ezifydevelopers/trainingportal-chat/internal/models"
	"github.com/ezifydevelopers/trainingportal-chat/internal/wire"
)

// RoomState is the lifecycle of the currently-open conversation.
type RoomState int

const (
	RoomClosed RoomState = iota
	RoomJoining
	RoomOpen
	RoomClosing
)

// pendingTimeout bounds how long an optimistic echo may stay pending
// before the send is treated as failed.
const pendingTimeout = 15 * time.Second

// PendingMessage is an optimistic local echo: a provisional copy of a
// just-sent message shown before the store confirms it. It is promoted to
// a confirmed message on success or marked failed on rejection or timeout,
// never silently left pending.
type PendingMessage struct {
	LocalID   string // provisional ULID, replaced by the store-assigned id
	RoomID    int64
	Content   string
	CreatedAt time.Time
	ReplyToID *int64
	Failed    bool

	// afterID is the highest confirmed id in the view when the echo was
	// created. A self-sent message with a larger id and the same content
	// is this echo's durable copy arriving over the poll path.
	afterID int64
}

// Entry is one row of the rendered conversation: either a confirmed store
// message or a local echo.
type Entry struct {
	Message models.ChatMessage
	LocalID string // set for echoes
	Pending bool
	Failed  bool
}

// storeAPI is the slice of StoreClient the session uses; tests substitute
// a fake.
type storeAPI interface {
	Rooms(ctx context.Context) ([]models.ChatRoom, error)
	RoomMessages(ctx context.Context, roomID int64) ([]models.ChatMessage, error)
	SendMessage(ctx context.Context, roomID int64, content string, replyToID *int64) (*models.ChatMessage, error)
	MarkRoomRead(ctx context.Context, roomID int64) (int, error)
	DeleteMessages(ctx context.Context, ids ...int64) error
	DeleteRoom(ctx context.Context, roomID int64) error
	UnreadCount(ctx context.Context) (int, error)
}

// Conn is the slice of the connection manager the session depends on.
type Conn interface {
	Send(ev wire.Event)
	Events() <-chan wire.Event
	OnStateChange(fn func(ConnState))
	Close()
}

// Session is the per-user chat session: it owns the open conversation's
// message cache, the unread badge and the selection submode, and it is the
// only component that mutates them. The reconciler, typing coordinator and
// presence tracker hang off it.
type Session struct {
	selfID int64
	store  storeAPI
	conn   Conn
	logger zerolog.Logger

	rec      *Reconciler
	typing   *TypingCoordinator
	presence *PresenceTracker

	mu      sync.Mutex
	state   RoomState
	roomID  int64
	epoch   uint64 // bumped on every open/close; stale async results check it
	view    *View
	pending []*PendingMessage
	unread  int

	selectMode bool
	selected   map[int64]struct{}
	expired    bool

	onChange  []func()
	onExpired []func()
}

// NewSession wires a session over the given store client and connection.
func NewSession(selfID int64, store storeAPI, conn Conn, logger zerolog.Logger) *Session {
	s := &Session{
		selfID:   selfID,
		store:    store,
		conn:     conn,
		logger:   logger.With().Str("component", "session").Logger(),
		rec:      NewReconciler(selfID),
		typing:   NewTypingCoordinator(conn),
		presence: NewPresenceTracker(selfID),
		selected: make(map[int64]struct{}),
	}
	conn.OnStateChange(s.presence.HandleConnState)
	return s
}

// Typing exposes the typing coordinator.
func (s *Session) Typing() *TypingCoordinator { return s.typing }

// Presence exposes the presence tracker.
func (s *Session) Presence() *PresenceTracker { return s.presence }

// OnChange registers a callback fired whenever the rendered state changed.
func (s *Session) OnChange(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = append(s.onChange, fn)
}

// OnSessionExpired registers a callback fired when the store rejects the
// bearer credential. The session is torn down before callbacks run.
func (s *Session) OnSessionExpired(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onExpired = append(s.onExpired, fn)
}

// Run consumes push-channel events and drives the poller until ctx is
// cancelled.
func (s *Session) Run(ctx context.Context) {
	go s.typing.RunSweeper(ctx)

	poller := NewPoller(s.pollTick)
	go poller.Run(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-s.conn.Events():
			s.HandleEvent(ev)
		}
	}
}

// State returns the open-conversation state.
func (s *Session) State() RoomState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// OpenRoomID returns the currently open room, or 0.
func (s *Session) OpenRoomID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == RoomClosed {
		return 0
	}
	return s.roomID
}

// Unread returns the unread badge value. Never negative.
func (s *Session) Unread() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unread
}

// RoomList fetches the caller's rooms from the store.
func (s *Session) RoomList(ctx context.Context) ([]models.ChatRoom, error) {
	rooms, err := s.store.Rooms(ctx)
	if err != nil {
		s.checkFatal(err)
		return nil, err
	}
	return rooms, nil
}

// Entries returns the rendered conversation: confirmed messages in
// (CreatedAt, ID) order followed by local echoes in send order.
func (s *Session) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.view == nil {
		return nil
	}
	entries := make([]Entry, 0, s.view.Len()+len(s.pending))
	for _, m := range s.view.Messages() {
		entries = append(entries, Entry{Message: m})
	}
	for _, p := range s.pending {
		entries = append(entries, Entry{
			Message: models.ChatMessage{
				RoomID:    p.RoomID,
				SenderID:  s.selfID,
				Content:   p.Content,
				CreatedAt: p.CreatedAt,
				ReplyToID: p.ReplyToID,
			},
			LocalID: p.LocalID,
			Pending: !p.Failed,
			Failed:  p.Failed,
		})
	}
	return entries
}

// Open makes roomID the open conversation. Any previously open room is
// closed first; its in-flight history fetch, if any, is invalidated so a
// late response cannot corrupt the new room's view. The history fetch and
// read-marking run asynchronously; changes surface through OnChange.
func (s *Session) Open(ctx context.Context, roomID int64) {
	s.mu.Lock()
	if s.state != RoomClosed && s.roomID == roomID {
		s.mu.Unlock()
		return
	}
	if s.state == RoomJoining || s.state == RoomOpen {
		s.closeLocked()
	}

	s.state = RoomJoining
	s.roomID = roomID
	s.epoch++
	epoch := s.epoch
	s.view = NewView(roomID)
	s.pending = nil
	s.selectMode = false
	s.selected = make(map[int64]struct{})
	s.mu.Unlock()

	s.conn.Send(wire.JoinRoom(roomID))
	s.notifyChange()

	go s.fetchHistory(ctx, roomID, epoch)
}

// fetchHistory loads the authoritative baseline for a freshly opened room.
func (s *Session) fetchHistory(ctx context.Context, roomID int64, epoch uint64) {
	msgs, err := s.store.RoomMessages(ctx, roomID)
	if err != nil {
		s.checkFatal(err)
		// The poll path retries; the room stays in JOINING until a fetch
		// lands.
		s.logger.Warn().Err(err).Int64("room_id", roomID).Msg("history fetch failed")
		return
	}

	s.mu.Lock()
	if s.epoch != epoch || s.roomID != roomID {
		// User switched rooms while the fetch was in flight.
		s.mu.Unlock()
		return
	}
	s.rec.ApplySnapshot(s.view, msgs)
	s.matchPendingLocked()
	s.state = RoomOpen
	s.mu.Unlock()

	s.notifyChange()
	s.markRead(ctx, roomID, epoch)
}

// markRead resets the open room's unread contribution.
func (s *Session) markRead(ctx context.Context, roomID int64, epoch uint64) {
	remaining, err := s.store.MarkRoomRead(ctx, roomID)
	if err != nil {
		s.checkFatal(err)
		s.logger.Warn().Err(err).Int64("room_id", roomID).Msg("mark read failed")
		return
	}

	s.mu.Lock()
	if s.epoch == epoch {
		s.setUnreadLocked(remaining)
	}
	s.mu.Unlock()
	s.notifyChange()
}

// Close closes the open conversation, announcing departure.
func (s *Session) Close() {
	s.mu.Lock()
	if s.state == RoomClosed {
		s.mu.Unlock()
		return
	}
	s.closeLocked()
	s.mu.Unlock()
	s.notifyChange()
}

// closeLocked transitions the open room through CLOSING to CLOSED.
// Callers hold s.mu.
func (s *Session) closeLocked() {
	roomID := s.roomID
	s.state = RoomClosing

	// Departure announcements are ephemeral; drops are fine.
	s.conn.Send(wire.LeaveRoom(roomID))
	s.typing.CloseRoom(roomID)

	s.state = RoomClosed
	s.roomID = 0
	s.epoch++
	s.view = nil
	s.pending = nil
	s.selectMode = false
	s.selected = make(map[int64]struct{})
}

// SendMessage validates content, shows an optimistic echo immediately and
// issues the durable write in the background. Returns the echo's local id.
func (s *Session) SendMessage(ctx context.Context, content string, replyToID *int64) (string, error) {
	if strings.TrimSpace(content) == "" {
		return "", ErrEmptyMessage
	}

	s.mu.Lock()
	if s.state != RoomJoining && s.state != RoomOpen {
		s.mu.Unlock()
		return "", ErrNoOpenRoom
	}
	roomID := s.roomID
	epoch := s.epoch
	p := &PendingMessage{
		LocalID:   ulid.Make().String(),
		RoomID:    roomID,
		Content:   content,
		CreatedAt: time.Now(),
		ReplyToID: replyToID,
		afterID:   s.view.maxID(),
	}
	s.pending = append(s.pending, p)
	s.mu.Unlock()
	s.notifyChange()

	go s.deliver(ctx, p, roomID, epoch)
	return p.LocalID, nil
}

// RetrySend re-issues a failed echo's durable write.
func (s *Session) RetrySend(ctx context.Context, localID string) error {
	s.mu.Lock()
	var p *PendingMessage
	for _, cand := range s.pending {
		if cand.LocalID == localID {
			p = cand
			break
		}
	}
	if p == nil || !p.Failed {
		s.mu.Unlock()
		return ErrNotFound
	}
	p.Failed = false
	roomID := s.roomID
	epoch := s.epoch
	s.mu.Unlock()
	s.notifyChange()

	go s.deliver(ctx, p, roomID, epoch)
	return nil
}

// deliver performs the store write behind an optimistic echo and promotes
// or fails the echo when the result arrives.
func (s *Session) deliver(ctx context.Context, p *PendingMessage, roomID int64, epoch uint64) {
	writeCtx, cancel := context.WithTimeout(ctx, pendingTimeout)
	defer cancel()

	msg, err := s.store.SendMessage(writeCtx, roomID, p.Content, p.ReplyToID)

	s.mu.Lock()
	if s.epoch != epoch {
		// Room switched mid-flight. The write (if it succeeded) is durable
		// and will appear in the room's baseline on reopen; the echo is
		// already gone.
		s.mu.Unlock()
		if err != nil {
			s.checkFatal(err)
		}
		return
	}

	if err != nil {
		p.Failed = true
		s.mu.Unlock()
		s.checkFatal(err)
		s.logger.Warn().Err(err).Str("local_id", p.LocalID).Msg("send failed")
		s.notifyChange()
		return
	}

	// Promote: drop the echo, insert the store's confirmed copy. The
	// broadcast of our own message is discarded by the reconciler, so
	// exactly one copy remains.
	s.removePendingLocked(p.LocalID)
	s.rec.ApplyConfirmed(s.view, *msg)
	s.mu.Unlock()
	s.notifyChange()
}

func (s *Session) removePendingLocked(localID string) {
	for i, cand := range s.pending {
		if cand.LocalID == localID {
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			return
		}
	}
}

// matchPendingLocked resolves echoes whose durable copy arrived over the
// poll path before the send response returned: the confirmed self-sent
// message is already in the view, so the echo is dropped instead of
// rendering (or being retried) next to it. Each confirmed message settles
// at most one echo. Callers hold s.mu.
func (s *Session) matchPendingLocked() bool {
	if s.view == nil || len(s.pending) == 0 {
		return false
	}
	changed := false
	claimed := make(map[int64]struct{})
	for i := 0; i < len(s.pending); {
		p := s.pending[i]
		id, ok := s.confirmedCopyLocked(p, claimed)
		if !ok {
			i++
			continue
		}
		claimed[id] = struct{}{}
		s.pending = append(s.pending[:i], s.pending[i+1:]...)
		changed = true
	}
	return changed
}

// confirmedCopyLocked finds an unclaimed self-sent view message that can
// only be the durable copy of the given echo: same content, assigned an id
// after the echo was created.
func (s *Session) confirmedCopyLocked(p *PendingMessage, claimed map[int64]struct{}) (int64, bool) {
	for _, m := range s.view.Messages() {
		if m.ID <= p.afterID || m.SenderID != s.selfID || m.Content != p.Content {
			continue
		}
		if _, taken := claimed[m.ID]; taken {
			continue
		}
		return m.ID, true
	}
	return 0, false
}

// Delete removes messages. Destructive operations are never applied
// speculatively: the local view changes only after the store accepts, and
// a denial (one foreign id in a batch is enough) leaves every message in
// place.
func (s *Session) Delete(ctx context.Context, ids ...int64) error {
	if len(ids) == 0 {
		return nil
	}

	if err := s.store.DeleteMessages(ctx, ids...); err != nil {
		s.checkFatal(err)
		return err
	}

	s.mu.Lock()
	if s.view != nil {
		s.rec.ApplyDelete(s.view, ids)
	}
	for _, id := range ids {
		delete(s.selected, id)
	}
	s.mu.Unlock()
	s.notifyChange()
	return nil
}

// DeleteRoom removes a whole room. If it is the open conversation it is
// force-closed.
func (s *Session) DeleteRoom(ctx context.Context, roomID int64) error {
	if err := s.store.DeleteRoom(ctx, roomID); err != nil {
		s.checkFatal(err)
		return err
	}

	s.mu.Lock()
	if s.state != RoomClosed && s.roomID == roomID {
		s.closeLocked()
	}
	s.mu.Unlock()
	s.notifyChange()
	return nil
}

// NotifyTyping reports the local user's typing state in the open room.
func (s *Session) NotifyTyping(isTyping bool) {
	s.mu.Lock()
	if s.state != RoomOpen && s.state != RoomJoining {
		s.mu.Unlock()
		return
	}
	roomID := s.roomID
	s.mu.Unlock()

	s.typing.NotifyTyping(roomID, isTyping)
}

// ToggleSelectMode flips the selection submode and reports the new value.
// Entering or leaving always clears the selected set.
func (s *Session) ToggleSelectMode() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selectMode = !s.selectMode
	s.selected = make(map[int64]struct{})
	return s.selectMode
}

// InSelectMode reports whether the selection submode is active.
func (s *Session) InSelectMode() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selectMode
}

// ToggleSelected adds or removes a message from the selection.
func (s *Session) ToggleSelected(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.selectMode {
		return
	}
	if _, ok := s.selected[id]; ok {
		delete(s.selected, id)
	} else {
		s.selected[id] = struct{}{}
	}
}

// SelectedIDs returns the selected message ids.
func (s *Session) SelectedIDs() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]int64, 0, len(s.selected))
	for id := range s.selected {
		ids = append(ids, id)
	}
	return ids
}

// DeleteSelected bulk-deletes the selection and leaves select mode on
// success.
func (s *Session) DeleteSelected(ctx context.Context) error {
	ids := s.SelectedIDs()
	if err := s.Delete(ctx, ids...); err != nil {
		return err
	}
	s.mu.Lock()
	s.selectMode = false
	s.selected = make(map[int64]struct{})
	s.mu.Unlock()
	return nil
}

// HandleEvent applies one push-channel event.
func (s *Session) HandleEvent(ev wire.Event) {
	switch ev.Type {
	case wire.EventNewMessage:
		if ev.Message != nil {
			s.handleNewMessage(*ev.Message)
		}
	case wire.EventTyping:
		if ev.Typing != nil {
			s.typing.HandleEvent(*ev.Typing)
			s.notifyChange()
		}
	case wire.EventPresence:
		if ev.Presence != nil {
			s.presence.HandleEvent(*ev.Presence)
			s.notifyChange()
		}
	case wire.EventMessagesDeleted:
		if ev.Deleted != nil {
			s.handleMessagesDeleted(*ev.Deleted)
		}
	case wire.EventRoomDeleted:
		s.handleRoomDeleted(ev.RoomID)
	}
}

func (s *Session) handleNewMessage(msg models.ChatMessage) {
	s.mu.Lock()
	open := s.state != RoomClosed && s.roomID == msg.RoomID
	changed := false
	if open && s.view != nil {
		changed = s.rec.ApplyPush(s.view, msg)
	}
	if msg.SenderID != s.selfID {
		if open {
			// Viewing the room: the message is read on arrival. Reconcile
			// the badge with the store in the background.
			roomID := s.roomID
			epoch := s.epoch
			go s.markRead(context.Background(), roomID, epoch)
		} else {
			s.setUnreadLocked(s.unread + 1)
			changed = true
		}
	}
	s.mu.Unlock()

	if changed {
		s.notifyChange()
	}
}

func (s *Session) handleMessagesDeleted(p wire.DeletedPayload) {
	s.mu.Lock()
	changed := false
	if s.state != RoomClosed && s.roomID == p.RoomID && s.view != nil {
		changed = s.rec.ApplyDelete(s.view, p.MessageIDs)
		for _, id := range p.MessageIDs {
			delete(s.selected, id)
		}
	}
	s.mu.Unlock()

	if changed {
		s.notifyChange()
	}
}

func (s *Session) handleRoomDeleted(roomID int64) {
	s.mu.Lock()
	if s.state != RoomClosed && s.roomID == roomID {
		s.closeLocked()
	}
	s.mu.Unlock()
	s.notifyChange()
}

// pollTick is the pull path: it refreshes the unread badge every cycle and
// re-snapshots the open room. Errors degrade silently; the next tick
// retries.
func (s *Session) pollTick(ctx context.Context) {
	if count, err := s.store.UnreadCount(ctx); err == nil {
		s.mu.Lock()
		s.setUnreadLocked(count)
		s.mu.Unlock()
		s.notifyChange()
	} else {
		s.checkFatal(err)
	}

	s.mu.Lock()
	open := s.state == RoomOpen || s.state == RoomJoining
	roomID := s.roomID
	epoch := s.epoch
	s.mu.Unlock()
	if !open {
		return
	}

	msgs, err := s.store.RoomMessages(ctx, roomID)
	if err != nil {
		s.checkFatal(err)
		return
	}

	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		return
	}
	changed := s.rec.ApplySnapshot(s.view, msgs)
	if s.matchPendingLocked() {
		changed = true
	}
	if s.state == RoomJoining {
		// The poll delivered the baseline the failed open fetch did not.
		s.state = RoomOpen
		changed = true
		go s.markRead(context.Background(), roomID, epoch)
	}
	s.mu.Unlock()

	if changed {
		s.notifyChange()
	}
}

// setUnreadLocked clamps the badge at zero. Callers hold s.mu.
func (s *Session) setUnreadLocked(n int) {
	if n < 0 {
		n = 0
	}
	s.unread = n
}

// checkFatal tears the session down on an authorization failure: the
// credential is dead, so the connection closes and local state clears.
// Teardown fires once; later rejections (every poll tick would produce
// one) are swallowed.
func (s *Session) checkFatal(err error) {
	if !errors.Is(err, ErrUnauthorized) {
		return
	}

	s.mu.Lock()
	if s.expired {
		s.mu.Unlock()
		return
	}
	s.expired = true
	if s.state != RoomClosed {
		s.state = RoomClosed
		s.roomID = 0
		s.epoch++
		s.view = nil
		s.pending = nil
	}
	fns := make([]func(), len(s.onExpired))
	copy(fns, s.onExpired)
	s.mu.Unlock()

	s.conn.Close()
	for _, fn := range fns {
		fn()
	}
}

func (s *Session) notifyChange() {
	s.mu.Lock()
	fns := make([]func(), len(s.onChange))
	copy(fns, s.onChange)
	s.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}
