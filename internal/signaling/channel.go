package signaling

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	wsWriteWait = 1 * time.Second

	DefaultPingInterval     = 20 * time.Second
	DefaultIdleTimeout      = 60 * time.Second
	DefaultMaxMessageBytes  = 256 * 1024
	defaultSendQueueLength  = 256
	defaultEventQueueLength = 64
)

// ChannelConfig describes how to reach the relay and which room to join. Room,
// Name and the credential together form the room token; they are reused
// verbatim on every reconnect.
type ChannelConfig struct {
	// URL is the relay WebSocket endpoint, e.g. ws://localhost:8080/mesh.
	URL  string
	Room string
	Name string

	// Token (JWT) and APIKey are passed as query parameters when set.
	Token  string
	APIKey string

	// Header is sent with the upgrade request (e.g. Origin).
	Header http.Header
	Dialer *websocket.Dialer

	Backoff              Backoff
	MaxReconnectAttempts int

	PingInterval    time.Duration
	IdleTimeout     time.Duration
	MaxMessageBytes int64
	SendQueueLength int

	Logger *slog.Logger
}

func (c ChannelConfig) withDefaults() ChannelConfig {
	if c.Dialer == nil {
		c.Dialer = websocket.DefaultDialer
	}
	c.Backoff = c.Backoff.withDefaults()
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if c.PingInterval <= 0 {
		c.PingInterval = DefaultPingInterval
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = DefaultIdleTimeout
	}
	if c.MaxMessageBytes <= 0 {
		c.MaxMessageBytes = DefaultMaxMessageBytes
	}
	if c.SendQueueLength <= 0 {
		c.SendQueueLength = defaultSendQueueLength
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Channel is a persistent, reconnecting connection to the relay. Incoming
// frames are delivered in order on Events; Send enqueues outgoing frames for
// the current connection.
type Channel struct {
	cfg ChannelConfig
	log *slog.Logger

	events chan Event

	mu  sync.Mutex
	out chan []byte

	cancel context.CancelFunc
	done   chan struct{}
}

// Dial starts the channel. Connection errors are reported as events, never
// returned: the first attempt is subject to the same reconnect policy as
// later ones.
func Dial(ctx context.Context, cfg ChannelConfig) *Channel {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(ctx)
	c := &Channel{
		cfg:    cfg,
		log:    cfg.Logger.With("component", "signaling", "room", cfg.Room),
		events: make(chan Event, defaultEventQueueLength),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go c.run(ctx)
	return c
}

// Events returns the incoming event sequence. It is closed after Closed has
// been delivered (or the channel context ended).
func (c *Channel) Events() <-chan Event {
	return c.events
}

// Send enqueues msg on the current connection. Frames queued while no
// connection is up are rejected with ErrNotConnected rather than replayed
// after a reconnect.
func (c *Channel) Send(msg Message) error {
	payload, err := msg.Marshal()
	if err != nil {
		return err
	}
	select {
	case <-c.done:
		return ErrChannelClosed
	default:
	}

	c.mu.Lock()
	out := c.out
	c.mu.Unlock()
	if out == nil {
		return ErrNotConnected
	}
	select {
	case out <- payload:
		return nil
	default:
		return ErrSendQueueFull
	}
}

func (c *Channel) SendSignal(to ParticipantID, env Envelope) error {
	return c.Send(SignalMessage(to, env))
}

func (c *Channel) SendChat(body, name string) error {
	if name == "" {
		name = c.cfg.Name
	}
	return c.Send(ChatMessage(body, name))
}

// Close stops the channel and waits for its goroutines to exit.
func (c *Channel) Close() error {
	c.cancel()
	<-c.done
	return nil
}

func (c *Channel) run(ctx context.Context) {
	defer close(c.done)
	defer close(c.events)

	failures := 0
	for {
		conn, err := c.dial(ctx)
		if err == nil {
			failures = 0
			err = c.serve(ctx, conn)
			if ctx.Err() != nil {
				c.emit(ctx, Closed{})
				return
			}
			c.log.Warn("signaling connection lost", "err", err)
			c.emit(ctx, Disconnected{Err: fmt.Errorf("%w: %v", ErrSignalingDisconnected, err)})
		} else if ctx.Err() != nil {
			c.emit(ctx, Closed{})
			return
		} else {
			c.log.Warn("signaling dial failed", "err", err, "attempt", failures+1)
		}

		failures++
		if c.cfg.MaxReconnectAttempts > 0 && failures > c.cfg.MaxReconnectAttempts {
			c.emit(ctx, Closed{Err: fmt.Errorf("%w: gave up after %d attempts", ErrSignalingDisconnected, failures-1)})
			return
		}

		delay := c.cfg.Backoff.Delay(failures)
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			c.emit(ctx, Closed{})
			return
		case <-t.C:
		}
	}
}

// emit blocks until the consumer takes ev or ctx ends. Blocking here is the
// channel's backpressure: no frame is read while an event is pending.
func (c *Channel) emit(ctx context.Context, ev Event) {
	select {
	case c.events <- ev:
	case <-ctx.Done():
		if _, final := ev.(Closed); final {
			select {
			case c.events <- ev:
			default:
			}
		}
	}
}

func (c *Channel) dial(ctx context.Context) (*websocket.Conn, error) {
	target, err := c.dialURL()
	if err != nil {
		return nil, err
	}
	conn, resp, err := c.cfg.Dialer.DialContext(ctx, target, c.cfg.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", redactURL(target), err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", redactURL(target), err)
	}
	return conn, nil
}

func (c *Channel) dialURL() (string, error) {
	u, err := url.Parse(strings.TrimSpace(c.cfg.URL))
	if err != nil {
		return "", fmt.Errorf("invalid relay url: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("invalid relay url %q (expected ws:// or wss://)", c.cfg.URL)
	}
	q := u.Query()
	if c.cfg.Token != "" {
		q.Set("token", c.cfg.Token)
	}
	if c.cfg.APIKey != "" {
		q.Set("apiKey", c.cfg.APIKey)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// serve runs one connection until it drops or ctx ends. The join frame is
// written before the send queue is exposed, so it is always the first frame
// the relay sees on a connection.
func (c *Channel) serve(ctx context.Context, conn *websocket.Conn) error {
	defer conn.Close()

	join, err := JoinMessage(c.cfg.Room, c.cfg.Name).Marshal()
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := conn.WriteMessage(websocket.TextMessage, join); err != nil {
		return fmt.Errorf("send join: %w", err)
	}

	out := make(chan []byte, c.cfg.SendQueueLength)
	c.mu.Lock()
	c.out = out
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.out = nil
		c.mu.Unlock()
	}()

	readErr := make(chan error, 1)
	go func() {
		readErr <- c.readLoop(ctx, conn)
	}()

	ping := time.NewTicker(c.cfg.PingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "leaving"),
				time.Now().Add(wsWriteWait))
			_ = conn.Close()
			<-readErr
			return ctx.Err()
		case err := <-readErr:
			return err
		case payload := <-out:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				_ = conn.Close()
				<-readErr
				return fmt.Errorf("write: %w", err)
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				_ = conn.Close()
				<-readErr
				return fmt.Errorf("ping: %w", err)
			}
		}
	}
}

func (c *Channel) readLoop(ctx context.Context, conn *websocket.Conn) error {
	conn.SetReadLimit(c.cfg.MaxMessageBytes)
	extend := func() {
		_ = conn.SetReadDeadline(time.Now().Add(c.cfg.IdleTimeout))
	}
	extend()
	conn.SetPongHandler(func(string) error {
		extend()
		return nil
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		extend()
		if msgType != websocket.TextMessage {
			c.log.Warn("ignoring non-text signaling frame", "message_type", msgType)
			continue
		}
		msg, err := ParseMessage(data)
		if err != nil {
			c.log.Warn("ignoring malformed signaling frame", "err", err)
			continue
		}
		ev, err := EventFromMessage(msg)
		if err != nil {
			c.log.Warn("ignoring unexpected signaling frame", "err", err)
			continue
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.emit(ctx, ev)
	}
}

func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	u.RawQuery = ""
	return u.String()
}
