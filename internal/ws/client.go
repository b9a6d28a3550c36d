// Package ws implements the bidirectional WebSocket transport to the
// exchange, with application-level ping/pong liveness.
package ws

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// HeaderProvider supplies authentication headers for the handshake.
type HeaderProvider interface {
	SignWebSocket() (map[string]string, error)
}

// Client is a single WebSocket connection to the exchange.
type Client struct {
	cfg    ClientConfig
	auth   HeaderProvider // optional
	logger *slog.Logger

	conn *websocket.Conn

	messages chan Message
	errors   chan error
	done     chan struct{}

	// Write serialization
	writeMu sync.Mutex

	// State
	mu         sync.RWMutex
	connected  bool
	closed     bool
	lastPongAt time.Time
}

// NewClient creates a WebSocket client. The connection is not opened
// until Connect.
func NewClient(cfg ClientConfig, auth HeaderProvider, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BufferSize == 0 {
		cfg.BufferSize = DefaultClientConfig().BufferSize
	}

	return &Client{
		cfg:      cfg,
		auth:     auth,
		logger:   logger,
		messages: make(chan Message, cfg.BufferSize),
		errors:   make(chan error, 1),
		done:     make(chan struct{}),
	}
}

// Connect establishes the WebSocket connection. Server-driven pings are
// disabled; this client manages its own ping cadence.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrAlreadyClosed
	}
	c.mu.Unlock()

	header := http.Header{}
	header.Set("Accept", "application/json")
	if c.auth != nil {
		signed, err := c.auth.SignWebSocket()
		if err != nil {
			return err
		}
		for k, v := range signed {
			header.Set(k, v)
		}
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, c.cfg.URL, header)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.lastPongAt = time.Now()
	c.mu.Unlock()

	conn.SetPongHandler(func(string) error {
		c.mu.Lock()
		c.lastPongAt = time.Now()
		c.mu.Unlock()
		return nil
	})

	// Reply to server pings even though we drive our own.
	conn.SetPingHandler(func(data string) error {
		return conn.WriteControl(
			websocket.PongMessage,
			[]byte(data),
			time.Now().Add(time.Second),
		)
	})

	go c.readLoop()
	go c.pingLoop()

	c.logger.Debug("websocket connected", "url", c.cfg.URL)
	return nil
}

// Close gracefully closes the connection within the close timeout.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.connected = false
	conn := c.conn
	c.mu.Unlock()

	close(c.done)

	if conn != nil {
		deadline := time.Now().Add(c.cfg.CloseTimeout)
		conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			deadline,
		)
		return conn.Close()
	}
	return nil
}

// Send writes a text frame.
func (c *Client) Send(data []byte) error {
	c.mu.RLock()
	if !c.connected {
		c.mu.RUnlock()
		return ErrNotConnected
	}
	conn := c.conn
	c.mu.RUnlock()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}

// Receive returns the next message, waiting up to timeout (0 means
// wait indefinitely).
func (c *Client) Receive(timeout time.Duration) (Message, error) {
	if timeout <= 0 {
		select {
		case msg, ok := <-c.messages:
			if !ok {
				return Message{}, ErrNotConnected
			}
			return msg, nil
		case <-c.done:
			return Message{}, ErrNotConnected
		}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case msg, ok := <-c.messages:
		if !ok {
			return Message{}, ErrNotConnected
		}
		return msg, nil
	case <-c.done:
		return Message{}, ErrNotConnected
	case <-timer.C:
		return Message{}, ErrReceiveTimeout
	}
}

// Messages returns the inbound message channel.
func (c *Client) Messages() <-chan Message {
	return c.messages
}

// Errors returns the connection error channel.
func (c *Client) Errors() <-chan error {
	return c.errors
}

// IsConnected returns the current connection state.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// Ping sends a ping and waits for the pong within the pong timeout.
func (c *Client) Ping(ctx context.Context) error {
	c.mu.RLock()
	if !c.connected {
		c.mu.RUnlock()
		return ErrNotConnected
	}
	conn := c.conn
	c.mu.RUnlock()

	sentAt := time.Now()
	if err := conn.WriteControl(websocket.PingMessage, []byte("healthcheck"), sentAt.Add(c.cfg.WriteTimeout)); err != nil {
		return err
	}

	deadline := time.NewTimer(c.cfg.PongTimeout)
	defer deadline.Stop()
	tick := time.NewTicker(10 * time.Millisecond)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.done:
			return ErrNotConnected
		case <-deadline.C:
			return ErrStaleConnection
		case <-tick.C:
			c.mu.RLock()
			pongAt := c.lastPongAt
			c.mu.RUnlock()
			if !pongAt.Before(sentAt) {
				return nil
			}
		}
	}
}

// readLoop reads frames and publishes decoded messages.
func (c *Client) readLoop() {
	defer func() {
		c.mu.Lock()
		c.connected = false
		c.mu.Unlock()
	}()

	for {
		select {
		case <-c.done:
			return
		default:
		}

		_, data, err := c.conn.ReadMessage()
		receivedAt := time.Now()

		if err != nil {
			// Ignore errors after Close() is called
			select {
			case <-c.done:
				return
			default:
				select {
				case c.errors <- err:
				default:
				}
				return
			}
		}

		msg := Message{
			Data:       strings.ToValidUTF8(string(data), "�"),
			ReceivedAt: receivedAt,
		}

		select {
		case c.messages <- msg:
		case <-c.done:
			return
		default:
			c.logger.Warn("message buffer full, dropping message")
		}
	}
}

// pingLoop sends periodic pings and flags the connection stale when no
// pong arrives within twice the ping interval.
func (c *Client) pingLoop() {
	interval := c.cfg.PingInterval
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.mu.RLock()
			conn := c.conn
			lastPong := c.lastPongAt
			c.mu.RUnlock()

			if conn != nil {
				deadline := time.Now().Add(c.cfg.WriteTimeout)
				if err := conn.WriteControl(websocket.PingMessage, []byte("keepalive"), deadline); err != nil {
					c.logger.Debug("failed to send ping", "error", err)
				}
			}

			if time.Since(lastPong) > 2*interval {
				c.logger.Warn("no pong received, connection stale",
					"last_pong", lastPong,
					"interval", interval,
				)
				select {
				case c.errors <- ErrStaleConnection:
				default:
				}
				return
			}
		}
	}
}
