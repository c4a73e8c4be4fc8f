// Package hub implements the single logical broadcaster for the push
// channel. It owns one registered connection per user and fans durable
// events (new message, deletions) and ephemeral events (typing, presence)
// out to the right clients.
package hub

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ezifydevelopers/trainingportal-chat/internal/metrics"
	"github.com/ezifydevelopers/trainingportal-chat/internal/wire"
)

// ParticipantChecker answers whether a user belongs to a room. The store
// satisfies it.
type ParticipantChecker interface {
	IsActiveParticipant(ctx context.Context, roomID, userID int64) (bool, error)
}

type registration struct {
	client *Client
	done   chan struct{}
}

type inboundEvent struct {
	userID int64
	event  wire.Event
}

// Hub maintains the set of active push-channel clients.
type Hub struct {
	logger       zerolog.Logger
	participants ParticipantChecker

	mu      sync.RWMutex
	clients map[int64]*Client // userID -> client

	register   chan registration
	unregister chan *Client
	inbound    chan inboundEvent
}

// New creates a hub. Run must be started before clients attach.
func New(logger zerolog.Logger, participants ParticipantChecker) *Hub {
	return &Hub{
		logger:       logger.With().Str("component", "hub").Logger(),
		participants: participants,
		clients:      make(map[int64]*Client),
		register:     make(chan registration),
		unregister:   make(chan *Client),
		inbound:      make(chan inboundEvent, 256),
	}
}

// Run processes registrations and inbound events until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return

		case reg := <-h.register:
			h.attach(reg.client)
			close(reg.done)

		case client := <-h.unregister:
			h.detach(client)

		case in := <-h.inbound:
			h.route(in.userID, in.event)
		}
	}
}

// attach registers a client; a second connection for the same user replaces
// the first so there is exactly one live channel per user.
func (h *Hub) attach(c *Client) {
	h.mu.Lock()
	if prev, ok := h.clients[c.userID]; ok {
		prev.close()
	}
	h.clients[c.userID] = c
	h.mu.Unlock()

	metrics.WSConnections.Inc()
	h.logger.Info().Int64("user_id", c.userID).Msg("client connected")

	h.broadcastPresence(c.userID, true)
}

func (h *Hub) detach(c *Client) {
	h.mu.Lock()
	current, ok := h.clients[c.userID]
	if ok && current == c {
		delete(h.clients, c.userID)
	}
	h.mu.Unlock()
	c.close()

	// A replaced connection detaching must not flip the user offline.
	if !ok || current != c {
		return
	}

	metrics.WSConnections.Dec()
	h.logger.Info().Int64("user_id", c.userID).Msg("client disconnected")

	h.broadcastPresence(c.userID, false)
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, c := range h.clients {
		c.close()
	}
	h.clients = make(map[int64]*Client)
}

// route dispatches a client-originated event.
func (h *Hub) route(userID int64, ev wire.Event) {
	metrics.WSEventsIn.WithLabelValues(string(ev.Type)).Inc()

	switch ev.Type {
	case wire.EventJoinRoom:
		// Membership is checked before the join takes effect; otherwise
		// any authenticated user could subscribe to any room's typing
		// traffic. The lookup leaves the hub loop.
		go h.authorizeJoin(userID, ev.RoomID)
	case wire.EventLeaveRoom:
		h.setJoined(userID, ev.RoomID, false)
	case wire.EventTyping:
		if ev.Typing == nil {
			return
		}
		// Stamp the sender; clients cannot speak for others.
		relay := wire.Typing(ev.Typing.RoomID, userID, ev.Typing.IsTyping)
		h.relayToRoom(ev.Typing.RoomID, userID, relay)
	default:
		h.logger.Debug().Str("type", string(ev.Type)).Msg("ignoring unexpected inbound event")
	}
}

// authorizeJoin honors a join request only for active participants of the
// room.
func (h *Hub) authorizeJoin(userID, roomID int64) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ok, err := h.participants.IsActiveParticipant(ctx, roomID, userID)
	if err != nil {
		h.logger.Warn().Err(err).Int64("user_id", userID).Int64("room_id", roomID).Msg("join check failed")
		return
	}
	if !ok {
		h.logger.Warn().Int64("user_id", userID).Int64("room_id", roomID).Msg("join refused: not a participant")
		return
	}
	h.setJoined(userID, roomID, true)
}

func (h *Hub) setJoined(userID, roomID int64, joined bool) {
	h.mu.RLock()
	c := h.clients[userID]
	h.mu.RUnlock()
	if c != nil {
		c.setJoined(roomID, joined)
	}
}

// relayToRoom sends an event to every connected user who has joined the
// room, excluding the originator.
func (h *Hub) relayToRoom(roomID, fromID int64, ev wire.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for id, c := range h.clients {
		if id == fromID {
			continue
		}
		if c.joined(roomID) {
			c.trySend(ev)
		}
	}
}

// broadcastPresence tells every other connected user about an online-state
// change. Presence is advisory; drops are acceptable.
func (h *Hub) broadcastPresence(userID int64, online bool) {
	ev := wire.Presence(userID, online)
	h.mu.RLock()
	defer h.mu.RUnlock()
	for id, c := range h.clients {
		if id != userID {
			c.trySend(ev)
		}
	}
}

// SendToUser delivers an event to a single user's connection, if live.
// Delivery is best-effort: polling covers missed pushes.
func (h *Hub) SendToUser(userID int64, ev wire.Event) {
	h.mu.RLock()
	c := h.clients[userID]
	h.mu.RUnlock()
	if c != nil {
		c.trySend(ev)
	}
}

// SendToUsers delivers an event to several users.
func (h *Hub) SendToUsers(userIDs []int64, ev wire.Event) {
	for _, id := range userIDs {
		h.SendToUser(id, ev)
	}
}

// IsOnline reports whether a user holds a live connection.
func (h *Hub) IsOnline(userID int64) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.clients[userID]
	return ok
}
