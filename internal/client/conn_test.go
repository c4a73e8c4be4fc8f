package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ezifydevelopers/trainingportal-chat/internal/models"
	"github.com/ezifydevelopers/trainingportal-chat/internal/wire"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsServer is a minimal broadcaster stand-in: it records tokens and
// inbound frames and can push frames to the connected client.
type wsServer struct {
	t *testing.T

	mu       sync.Mutex
	tokens   []string
	inbound  []wire.Event
	conns    []*websocket.Conn
	accepted int

	srv *httptest.Server
}

func newWSServer(t *testing.T) *wsServer {
	s := &wsServer{t: t}
	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s.mu.Lock()
		s.tokens = append(s.tokens, r.URL.Query().Get("token"))
		s.conns = append(s.conns, conn)
		s.accepted++
		s.mu.Unlock()

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			ev, err := wire.Decode(data)
			if err != nil {
				continue
			}
			s.mu.Lock()
			s.inbound = append(s.inbound, ev)
			s.mu.Unlock()
		}
	}))
	t.Cleanup(s.srv.Close)
	return s
}

func (s *wsServer) url() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http") + "/ws"
}

func (s *wsServer) push(ev wire.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	require.NotEmpty(s.t, s.conns, "no client connected")
	conn := s.conns[len(s.conns)-1]
	data, err := wire.Encode(ev)
	require.NoError(s.t, err)
	require.NoError(s.t, conn.WriteMessage(websocket.TextMessage, data))
}

func (s *wsServer) dropClient() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, conn := range s.conns {
		conn.Close()
	}
}

func (s *wsServer) inboundTypes() []wire.EventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	types := make([]wire.EventType, 0, len(s.inbound))
	for _, ev := range s.inbound {
		types = append(types, ev.Type)
	}
	return types
}

func (s *wsServer) acceptedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accepted
}

func TestConnectDeliversPushedEvents(t *testing.T) {
	srv := newWSServer(t)
	m := NewConnManager(srv.url(), "tok-123", zerolog.Nop())
	t.Cleanup(m.Close)

	m.Connect(context.Background())
	require.Eventually(t, func() bool { return m.State() == StateConnected }, time.Second, 2*time.Millisecond)

	srv.push(wire.NewMessage(models.ChatMessage{ID: 101, RoomID: 7, SenderID: 2, Content: "hi", CreatedAt: time.Now()}))

	select {
	case ev := <-m.Events():
		assert.Equal(t, wire.EventNewMessage, ev.Type)
		require.NotNil(t, ev.Message)
		assert.Equal(t, int64(101), ev.Message.ID)
	case <-time.After(time.Second):
		t.Fatal("expected a pushed event")
	}

	srv.mu.Lock()
	assert.Equal(t, []string{"tok-123"}, srv.tokens)
	srv.mu.Unlock()
}

func TestSendQueuedWhileDisconnected(t *testing.T) {
	srv := newWSServer(t)
	m := NewConnManager(srv.url(), "tok", zerolog.Nop())
	t.Cleanup(m.Close)

	// Queued before any connection exists, delivered after the first
	// successful connect.
	m.Send(wire.JoinRoom(7))
	m.Connect(context.Background())

	require.Eventually(t, func() bool {
		types := srv.inboundTypes()
		return len(types) == 1 && types[0] == wire.EventJoinRoom
	}, time.Second, 2*time.Millisecond)
}

func TestReconnectAfterServerDrop(t *testing.T) {
	srv := newWSServer(t)
	m := NewConnManager(srv.url(), "tok", zerolog.Nop())
	t.Cleanup(m.Close)

	var mu sync.Mutex
	var states []ConnState
	m.OnStateChange(func(s ConnState) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	})

	m.Connect(context.Background())
	require.Eventually(t, func() bool { return m.State() == StateConnected }, time.Second, 2*time.Millisecond)

	srv.dropClient()
	require.Eventually(t, func() bool { return srv.acceptedCount() >= 2 }, 5*time.Second, 5*time.Millisecond,
		"client should redial after losing the connection")
	require.Eventually(t, func() bool { return m.State() == StateConnected }, time.Second, 2*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	// The drop shows up as a reconnect in progress, never as a final
	// disconnect.
	assert.NotContains(t, states, StateDisconnected)
}

func TestCloseIsFinal(t *testing.T) {
	srv := newWSServer(t)
	m := NewConnManager(srv.url(), "tok", zerolog.Nop())

	m.Connect(context.Background())
	require.Eventually(t, func() bool { return m.State() == StateConnected }, time.Second, 2*time.Millisecond)

	m.Close()
	require.Eventually(t, func() bool { return m.State() == StateDisconnected }, time.Second, 2*time.Millisecond)

	// No redial follows a deliberate close.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, srv.acceptedCount())
	assert.Equal(t, StateDisconnected, m.State())
}

func TestSendNeverBlocksOnStalledPeer(t *testing.T) {
	// A peer that accepts the connection but never drains it. Writes pile
	// up in the kernel buffers until the socket stops accepting bytes.
	stall := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		<-stall
	}))
	t.Cleanup(func() {
		close(stall)
		srv.Close()
	})

	m := NewConnManager("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", "tok", zerolog.Nop())
	t.Cleanup(m.Close)
	m.Connect(context.Background())
	require.Eventually(t, func() bool { return m.State() == StateConnected }, time.Second, 2*time.Millisecond)

	// Enough oversized frames to exhaust any socket buffer many times
	// over. Send must shed load instead of stalling its caller, which
	// may be holding the session lock.
	payload := strings.Repeat("x", 64*1024)
	start := time.Now()
	for i := 0; i < 200; i++ {
		m.Send(wire.NewMessage(models.ChatMessage{ID: int64(i), RoomID: 7, SenderID: 1, Content: payload, CreatedAt: time.Now()}))
	}
	assert.Less(t, time.Since(start), 3*time.Second,
		"Send blocked on a peer that stopped reading")
}

func TestBackoffDelay(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 500 * time.Millisecond},
		{2, time.Second},
		{3, 2 * time.Second},
		{6, 16 * time.Second},
		{7, 30 * time.Second},
		{20, 30 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, backoffDelay(tt.attempt), "attempt %d", tt.attempt)
	}
}
