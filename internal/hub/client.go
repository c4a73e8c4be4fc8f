package hub

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ezifydevelopers/trainingportal-chat/internal/metrics"
	"github.com/ezifydevelopers/trainingportal-chat/internal/wire"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxFrameSize   = 8 * 1024
	sendBufferSize = 256
)

// Client is one user's registered push-channel connection.
type Client struct {
	userID int64
	conn   *websocket.Conn
	hub    *Hub
	send   chan wire.Event

	mu     sync.Mutex
	rooms  map[int64]bool // rooms the user has announced presence in
	closed bool
}

// Attach registers a websocket connection with the hub and blocks until the
// connection drops. The caller (the HTTP handler) must not touch conn after
// calling Attach.
func (h *Hub) Attach(userID int64, conn *websocket.Conn) {
	c := &Client{
		userID: userID,
		conn:   conn,
		hub:    h,
		send:   make(chan wire.Event, sendBufferSize),
		rooms:  make(map[int64]bool),
	}

	done := make(chan struct{})
	h.register <- registration{client: c, done: done}
	<-done

	go c.writePump()
	c.readPump()
}

func (c *Client) setJoined(roomID int64, joined bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if joined {
		c.rooms[roomID] = true
	} else {
		delete(c.rooms, roomID)
	}
}

func (c *Client) joined(roomID int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rooms[roomID]
}

// trySend queues an event without blocking; a slow client loses the event
// and recovers through polling. The lock serializes against close so a
// replaced connection's channel is never written after closing.
func (c *Client) trySend(ev wire.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		metrics.WSEventsDropped.Inc()
		return
	}
	select {
	case c.send <- ev:
		metrics.WSEventsOut.WithLabelValues(string(ev.Type)).Inc()
	default:
		metrics.WSEventsDropped.Inc()
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxFrameSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.hub.logger.Warn().Err(err).Int64("user_id", c.userID).Msg("read error")
			}
			return
		}

		ev, err := wire.Decode(data)
		if err != nil {
			c.hub.logger.Debug().Err(err).Int64("user_id", c.userID).Msg("bad frame")
			continue
		}

		select {
		case c.hub.inbound <- inboundEvent{userID: c.userID, event: ev}:
		default:
			// Hub backlogged; inbound events are ephemeral, drop.
			metrics.WSEventsDropped.Inc()
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case ev, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			data, err := wire.Encode(ev)
			if err != nil {
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
