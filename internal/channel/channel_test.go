package channel

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"slotsync/internal/config"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testServer is a minimal websocket peer: it records inbound messages,
// acks get_availability requests, and can push events to the client.
type testServer struct {
	t        *testing.T
	upgrader websocket.Upgrader

	mu       sync.Mutex
	conns    []*websocket.Conn
	active   int
	received []Message
}

func newTestServer(t *testing.T) (*testServer, *httptest.Server) {
	ts := &testServer{t: t}
	server := httptest.NewServer(http.HandlerFunc(ts.handle))
	t.Cleanup(server.Close)
	return ts, server
}

func (s *testServer) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	s.mu.Lock()
	s.conns = append(s.conns, conn)
	s.active++
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.active--
		s.mu.Unlock()
	}()

	for {
		var message Message
		if err := conn.ReadJSON(&message); err != nil {
			return
		}

		s.mu.Lock()
		s.received = append(s.received, message)
		s.mu.Unlock()

		if message.Ref != "" && message.Event == EventGetAvailability {
			ack := Message{AckFor: message.Ref, Payload: json.RawMessage(`{"provider_id":"p1"}`)}
			_ = conn.WriteJSON(ack)
		}
	}
}

func (s *testServer) push(message Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, conn := range s.conns {
		_ = conn.WriteJSON(message)
	}
}

func (s *testServer) dropConnections() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, conn := range s.conns {
		_ = conn.Close()
	}
	s.conns = nil
}

func (s *testServer) activeConns() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func (s *testServer) events() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	events := make([]string, len(s.received))
	for i, message := range s.received {
		events[i] = message.Event
	}
	return events
}

func testConfig(serverURL string) config.ChannelConfig {
	return config.ChannelConfig{
		URL:               "ws" + strings.TrimPrefix(serverURL, "http"),
		ClientID:          "test-device",
		HandshakeTimeout:  2 * time.Second,
		RequestTimeout:    2 * time.Second,
		ReconnectAttempts: 3,
		ReconnectDelay:    50 * time.Millisecond,
		HeartbeatInterval: time.Minute,
		EmitRPS:           100,
		EmitBurst:         100,
	}
}

func newTestClient(t *testing.T, serverURL string) *Client {
	logger := zerolog.New(os.Stdout)
	return NewClient(testConfig(serverURL), &logger)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestEmitReachesServer(t *testing.T) {
	server, httpServer := newTestServer(t)
	client := newTestClient(t, httpServer.URL)

	require.NoError(t, client.Connect(context.Background()))
	defer client.Disconnect()

	require.NoError(t, client.Emit(EventSubscribeAvailability, "p1"))

	waitFor(t, time.Second, func() bool { return len(server.events()) == 1 })
	assert.Equal(t, []string{EventSubscribeAvailability}, server.events())
}

func TestEmitOffline(t *testing.T) {
	_, httpServer := newTestServer(t)
	client := newTestClient(t, httpServer.URL)

	err := client.Emit(EventRequestBooking, nil)
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestInboundDispatchOrder(t *testing.T) {
	server, httpServer := newTestServer(t)
	client := newTestClient(t, httpServer.URL)

	var mu sync.Mutex
	var seen []string
	client.On(EventProviderOnline, func(payload []byte) {
		mu.Lock()
		seen = append(seen, string(payload))
		mu.Unlock()
	})

	require.NoError(t, client.Connect(context.Background()))
	defer client.Disconnect()

	for _, id := range []string{`"p1"`, `"p2"`, `"p3"`} {
		server.push(Message{Event: EventProviderOnline, Payload: json.RawMessage(id)})
	}

	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 3
	})

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{`"p1"`, `"p2"`, `"p3"`}, seen)
}

func TestRequestAck(t *testing.T) {
	_, httpServer := newTestServer(t)
	client := newTestClient(t, httpServer.URL)

	require.NoError(t, client.Connect(context.Background()))
	defer client.Disconnect()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	payload, err := client.Request(ctx, EventGetAvailability, map[string]string{"provider_id": "p1"})
	require.NoError(t, err)

	var decoded map[string]string
	require.NoError(t, json.Unmarshal(payload, &decoded))
	assert.Equal(t, "p1", decoded["provider_id"])
}

func TestRequestTimeout(t *testing.T) {
	_, httpServer := newTestServer(t)
	client := newTestClient(t, httpServer.URL)

	require.NoError(t, client.Connect(context.Background()))
	defer client.Disconnect()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	// The test server never acks request_booking.
	_, err := client.Request(ctx, EventRequestBooking, nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestReconnectAfterDrop(t *testing.T) {
	server, httpServer := newTestServer(t)
	client := newTestClient(t, httpServer.URL)

	var mu sync.Mutex
	var states []string
	client.On(EventConnected, func([]byte) {
		mu.Lock()
		states = append(states, EventConnected)
		mu.Unlock()
	})
	client.On(EventDisconnected, func([]byte) {
		mu.Lock()
		states = append(states, EventDisconnected)
		mu.Unlock()
	})

	require.NoError(t, client.Connect(context.Background()))
	defer client.Disconnect()

	waitFor(t, time.Second, func() bool { return client.Connected() })

	server.dropConnections()

	waitFor(t, 2*time.Second, func() bool { return client.Connected() })

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, states, EventDisconnected)
	assert.GreaterOrEqual(t, len(states), 3) // connected, disconnected, connected
}

func TestConnectDuringReconnectKeepsOneConnection(t *testing.T) {
	server, httpServer := newTestServer(t)
	client := newTestClient(t, httpServer.URL)

	require.NoError(t, client.Connect(context.Background()))
	defer client.Disconnect()
	waitFor(t, time.Second, func() bool { return client.Connected() })

	// Drop the server side and race an explicit Connect against the
	// reconnect loop. Whichever dial loses must not leave its connection
	// behind.
	server.dropConnections()
	waitFor(t, 2*time.Second, func() bool { return !client.Connected() })
	require.NoError(t, client.Connect(context.Background()))

	waitFor(t, 2*time.Second, func() bool { return client.Connected() })

	// Let every remaining reconnect attempt run its course.
	time.Sleep(5 * testConfig(httpServer.URL).ReconnectDelay)

	assert.Equal(t, 1, server.activeConns())
	assert.NoError(t, client.Emit(EventSubscribeAvailability, "p1"))
}

func TestConnectTwiceIsNoop(t *testing.T) {
	_, httpServer := newTestServer(t)
	client := newTestClient(t, httpServer.URL)

	require.NoError(t, client.Connect(context.Background()))
	defer client.Disconnect()

	assert.NoError(t, client.Connect(context.Background()))
}

func TestDisconnectTwice(t *testing.T) {
	_, httpServer := newTestServer(t)
	client := newTestClient(t, httpServer.URL)

	require.NoError(t, client.Connect(context.Background()))
	require.NoError(t, client.Disconnect())
	assert.NoError(t, client.Disconnect())
	assert.False(t, client.Connected())
}
