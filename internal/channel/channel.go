package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"slotsync/internal/config"
	"slotsync/internal/metrics"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Connection lifecycle events, observable like any server event.
const (
	EventConnected    = "connected"
	EventDisconnected = "disconnected"
)

// Server -> client events.
const (
	EventAvailabilityUpdate = "availability_update"
	EventBookingConfirmed   = "booking_confirmed"
	EventBookingRejected    = "booking_rejected"
	EventProviderOnline     = "provider_online"
	EventProviderOffline    = "provider_offline"
)

// Client -> server events.
const (
	EventGetAvailability         = "get_availability"
	EventRequestBooking          = "request_booking"
	EventCancelBookingRequest    = "cancel_booking_request"
	EventSubscribeAvailability   = "subscribe_availability"
	EventUnsubscribeAvailability = "unsubscribe_availability"
)

var (
	ErrNotConnected     = errors.New("channel: not connected")
	ErrAlreadyConnected = errors.New("channel: already connected")
)

// Message is the wire envelope. Ref correlates a request with its ack;
// the server echoes it back in AckFor.
type Message struct {
	Event    string          `json:"event"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	Ref      string          `json:"ref,omitempty"`
	AckFor   string          `json:"ack_for,omitempty"`
	ClientID string          `json:"client_id,omitempty"`
}

// Handler receives the raw payload of one inbound event. Handlers run
// sequentially on the read pump, preserving server emission order.
type Handler func(payload []byte)

// Client maintains at most one logical websocket connection with bounded
// automatic reconnection. It restores transport only; resubmission of
// unacknowledged requests belongs to the synchronizer and the reservation
// machine.
type Client struct {
	cfg     config.ChannelConfig
	logger  *zerolog.Logger
	limiter *rate.Limiter

	mu       sync.Mutex
	conn     *websocket.Conn
	done     chan struct{}
	handlers map[string][]Handler
	pending  map[string]chan []byte

	connected atomic.Bool
	closing   atomic.Bool
	ref       atomic.Int64
}

func NewClient(cfg config.ChannelConfig, logger *zerolog.Logger) *Client {
	return &Client{
		cfg:      cfg,
		logger:   logger,
		limiter:  rate.NewLimiter(rate.Limit(cfg.EmitRPS), cfg.EmitBurst),
		handlers: make(map[string][]Handler),
		pending:  make(map[string]chan []byte),
	}
}

// Connected reports whether the transport is currently up.
func (c *Client) Connected() bool {
	return c.connected.Load()
}

// On registers a handler for an inbound event type.
func (c *Client) On(event string, handler Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[event] = append(c.handlers[event], handler)
}

// Connect dials the server and starts the read pump. A second call while
// connected is a no-op.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return nil
	}
	c.closing.Store(false)

	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}

	c.startLocked(conn)
	return nil
}

// Disconnect tears the connection down deliberately; no reconnect follows.
func (c *Client) Disconnect() error {
	c.closing.Store(true)

	c.mu.Lock()
	conn := c.conn
	done := c.done
	c.conn = nil
	c.done = nil
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	if done != nil {
		close(done)
	}

	_ = conn.WriteMessage(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
	)
	err := conn.Close()

	if c.connected.CompareAndSwap(true, false) {
		c.dispatch(EventDisconnected, nil)
	}
	return err
}

// Emit sends a fire-and-forget event. Results, if any, arrive later as
// their own inbound events.
func (c *Client) Emit(event string, payload interface{}) error {
	if !c.connected.Load() {
		return ErrNotConnected
	}
	if err := c.limiter.Wait(context.Background()); err != nil {
		return fmt.Errorf("emit rate limit: %w", err)
	}
	return c.write(event, payload, "")
}

// Request sends an event carrying a ref and waits for the matching ack
// payload. The ctx bounds the wait; callers pass the configured request
// timeout.
func (c *Client) Request(ctx context.Context, event string, payload interface{}) ([]byte, error) {
	if !c.connected.Load() {
		return nil, ErrNotConnected
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("request rate limit: %w", err)
	}

	ref := fmt.Sprintf("%d", c.ref.Add(1))
	ackCh := make(chan []byte, 1)

	c.mu.Lock()
	c.pending[ref] = ackCh
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, ref)
		c.mu.Unlock()
	}()

	if err := c.write(event, payload, ref); err != nil {
		return nil, err
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case ack := <-ackCh:
		return ack, nil
	}
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: c.cfg.HandshakeTimeout,
	}

	conn, _, err := dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial: %w", err)
	}
	return conn, nil
}

// startLocked installs a fresh connection; c.mu must be held. When a
// connection is already up (Connect won a race against a reconnect
// attempt), the newcomer is closed instead of displacing it.
func (c *Client) startLocked(conn *websocket.Conn) {
	if c.conn != nil {
		_ = conn.Close()
		return
	}
	c.conn = conn
	c.done = make(chan struct{})
	c.connected.Store(true)

	go c.readPump(conn, c.done)
	go c.heartbeat(conn, c.done)

	go c.dispatch(EventConnected, nil)
}

func (c *Client) write(event string, payload interface{}, ref string) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	message := Message{
		Event:    event,
		Payload:  raw,
		Ref:      ref,
		ClientID: c.cfg.ClientID,
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return ErrNotConnected
	}
	if err := c.conn.WriteJSON(message); err != nil {
		return fmt.Errorf("write %s: %w", event, err)
	}
	return nil
}

func (c *Client) readPump(conn *websocket.Conn, done chan struct{}) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-done:
				return
			default:
			}
			c.handleReadError(conn, err)
			return
		}

		var message Message
		if err := json.Unmarshal(raw, &message); err != nil {
			c.logger.Warn().Err(err).Msg("Undecodable channel message dropped")
			continue
		}

		if message.AckFor != "" {
			c.mu.Lock()
			ackCh, ok := c.pending[message.AckFor]
			c.mu.Unlock()
			if ok {
				ackCh <- message.Payload
			}
			continue
		}

		c.dispatch(message.Event, message.Payload)
	}
}

func (c *Client) heartbeat(conn *websocket.Conn, done chan struct{}) {
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			c.mu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			c.mu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (c *Client) handleReadError(conn *websocket.Conn, err error) {
	if c.closing.Load() {
		return
	}

	c.logger.Warn().Err(err).Msg("Channel connection lost")

	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
		if c.done != nil {
			close(c.done)
			c.done = nil
		}
	}
	c.mu.Unlock()
	_ = conn.Close()

	if c.connected.CompareAndSwap(true, false) {
		c.dispatch(EventDisconnected, nil)
	}

	c.reconnect()
}

// reconnect retries with a fixed delay up to the configured attempt bound.
// When attempts are exhausted the client stays down until the next explicit
// Connect.
func (c *Client) reconnect() {
	for attempt := 1; attempt <= c.cfg.ReconnectAttempts; attempt++ {
		if c.closing.Load() {
			return
		}
		time.Sleep(c.cfg.ReconnectDelay)

		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.HandshakeTimeout)
		conn, err := c.dial(ctx)
		cancel()
		if err != nil {
			c.logger.Warn().Err(err).Int("attempt", attempt).Msg("Reconnect attempt failed")
			continue
		}

		c.mu.Lock()
		c.startLocked(conn)
		c.mu.Unlock()

		metrics.IncReconnect()
		c.logger.Info().Int("attempt", attempt).Msg("Channel reconnected")
		return
	}

	c.logger.Error().Int("attempts", c.cfg.ReconnectAttempts).Msg("Reconnect attempts exhausted")
}

func (c *Client) dispatch(event string, payload []byte) {
	c.mu.Lock()
	handlers := append([]Handler(nil), c.handlers[event]...)
	c.mu.Unlock()

	for _, handler := range handlers {
		handler(payload)
	}
}
