package client

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/ezifydevelopers/trainingportal-chat/internal/wire"
)

// ConnState describes the push channel's lifecycle.
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

const (
	reconnectBaseDelay   = 500 * time.Millisecond
	reconnectMaxDelay    = 30 * time.Second
	maxReconnectAttempts = 10
	queuedEventTTL       = 10 * time.Second
	maxQueuedEvents      = 64
	inboundBufferSize    = 256
)

type queuedEvent struct {
	ev       wire.Event
	deadline time.Time
}

// ConnManager maintains exactly one logical live channel to the
// broadcaster and restores it after network loss with bounded backoff.
// Message sends never travel this path; only ephemeral events do, so a
// dropped event is an acceptable loss and polling covers the gap.
type ConnManager struct {
	url    string
	token  string
	logger zerolog.Logger
	dialer *websocket.Dialer

	mu      sync.Mutex
	conn    *websocket.Conn
	state   ConnState
	queue   []queuedEvent
	running bool
	cancel  context.CancelFunc

	events   chan wire.Event
	outbound chan wire.Event
	stateFns []func(ConnState)
}

// NewConnManager creates a connection manager for the given websocket URL
// (e.g. "ws://host/ws") and bearer token.
func NewConnManager(url, token string, logger zerolog.Logger) *ConnManager {
	return &ConnManager{
		url:      url,
		token:    token,
		logger:   logger.With().Str("component", "conn").Logger(),
		dialer:   &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		events:   make(chan wire.Event, inboundBufferSize),
		outbound: make(chan wire.Event, maxQueuedEvents),
	}
}

// Events exposes inbound push-channel events. The channel is never closed;
// consumers stop via their own context.
func (m *ConnManager) Events() <-chan wire.Event {
	return m.events
}

// OnStateChange registers a callback for connection lifecycle transitions.
// Callbacks must be registered before Connect and are invoked from the
// connection goroutine.
func (m *ConnManager) OnStateChange(fn func(ConnState)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stateFns = append(m.stateFns, fn)
}

// State returns the current connection state.
func (m *ConnManager) State() ConnState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Connect establishes the channel. Idempotent: calling it while the channel
// is live (or a connect cycle is in flight) is a no-op. The supplied
// context bounds the whole connection lifetime; cancelling it behaves like
// Close.
func (m *ConnManager) Connect(ctx context.Context) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.mu.Unlock()

	go m.run(runCtx)
}

// Close tears the channel down deliberately. No auto-reconnect follows.
func (m *ConnManager) Close() {
	m.mu.Lock()
	cancel := m.cancel
	conn := m.conn
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		conn.Close()
	}
}

// Send queues an event for transmission and never blocks: callers may hold
// locks a slow peer must not stall. When disconnected the event waits for
// the next successful connect; events older than the retry window are
// dropped with a warning since everything on this path is ephemeral.
func (m *ConnManager) Send(ev wire.Event) {
	m.mu.Lock()
	connected := m.state == StateConnected
	if !connected {
		if len(m.queue) >= maxQueuedEvents {
			m.mu.Unlock()
			m.logger.Warn().Str("type", string(ev.Type)).Msg("outbound queue full, dropping event")
			return
		}
		m.queue = append(m.queue, queuedEvent{ev: ev, deadline: time.Now().Add(queuedEventTTL)})
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	select {
	case m.outbound <- ev:
	default:
		m.logger.Warn().Str("type", string(ev.Type)).Msg("write pump backlogged, dropping event")
	}
}

// write pushes one frame onto the wire. Only the write pump calls this;
// gorilla permits one writer at a time and the pump is it.
func (m *ConnManager) write(conn *websocket.Conn, ev wire.Event) error {
	data, err := wire.Encode(ev)
	if err != nil {
		return err
	}
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, data)
}

// writePump drains outbound events onto the connection until the connection
// cycle ends. A write error abandons the pump; the read loop notices the
// broken connection and drives the reconnect.
func (m *ConnManager) writePump(conn *websocket.Conn, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case ev := <-m.outbound:
			if err := m.write(conn, ev); err != nil {
				m.logger.Warn().Err(err).Str("type", string(ev.Type)).Msg("send failed")
				return
			}
		}
	}
}

// run is the connect/read/reconnect loop. A successful connection resets
// the attempt budget; exhausting it leaves the client in poll-only mode
// until Connect is called again.
func (m *ConnManager) run(ctx context.Context) {
	defer func() {
		m.mu.Lock()
		m.running = false
		m.conn = nil
		m.mu.Unlock()
		m.setState(StateDisconnected)
	}()

	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}

		m.setState(StateConnecting)
		conn, err := m.dial(ctx)
		if err != nil {
			attempt++
			if attempt >= maxReconnectAttempts {
				m.logger.Error().Err(err).Int("attempts", attempt).Msg("reconnect budget exhausted, degrading to poll-only")
				return
			}
			delay := backoffDelay(attempt)
			m.logger.Warn().Err(err).Dur("retry_in", delay).Msg("connect failed")
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			continue
		}

		attempt = 0
		m.mu.Lock()
		m.conn = conn
		m.mu.Unlock()
		m.setState(StateConnected)
		stopWrite := make(chan struct{})
		go m.writePump(conn, stopWrite)
		m.flushQueue()

		m.readLoop(ctx, conn)
		close(stopWrite)

		m.mu.Lock()
		m.conn = nil
		m.mu.Unlock()

		if ctx.Err() != nil {
			return
		}
		m.setState(StateConnecting)
	}
}

func (m *ConnManager) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, resp, err := m.dialer.DialContext(ctx, m.url+"?token="+m.token, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	return conn, err
}

// flushQueue hands events queued while disconnected to the write pump,
// skipping expired ones.
func (m *ConnManager) flushQueue() {
	m.mu.Lock()
	queued := m.queue
	m.queue = nil
	m.mu.Unlock()

	now := time.Now()
	for _, q := range queued {
		if now.After(q.deadline) {
			m.logger.Warn().Str("type", string(q.ev.Type)).Msg("queued event expired, dropping")
			continue
		}
		select {
		case m.outbound <- q.ev:
		default:
			m.logger.Warn().Str("type", string(q.ev.Type)).Msg("write pump backlogged, dropping event")
		}
	}
}

func (m *ConnManager) readLoop(ctx context.Context, conn *websocket.Conn) {
	defer conn.Close()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				m.logger.Warn().Err(err).Msg("connection lost")
			}
			return
		}

		ev, err := wire.Decode(data)
		if err != nil {
			m.logger.Debug().Err(err).Msg("bad frame")
			continue
		}

		select {
		case m.events <- ev:
		default:
			// Consumer backlogged; polling reconciles whatever is missed.
			m.logger.Warn().Str("type", string(ev.Type)).Msg("inbound buffer full, dropping event")
		}
	}
}

func (m *ConnManager) setState(s ConnState) {
	m.mu.Lock()
	if m.state == s {
		m.mu.Unlock()
		return
	}
	m.state = s
	fns := make([]func(ConnState), len(m.stateFns))
	copy(fns, m.stateFns)
	m.mu.Unlock()

	for _, fn := range fns {
		fn(s)
	}
}

func backoffDelay(attempt int) time.Duration {
	delay := reconnectBaseDelay << uint(attempt-1)
	if delay > reconnectMaxDelay || delay <= 0 {
		return reconnectMaxDelay
	}
	return delay
}
