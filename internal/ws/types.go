package ws

import (
	"encoding/json"
	"errors"
	"time"
)

// Sentinel errors for connection state.
var (
	ErrNotConnected    = errors.New("websocket not connected")
	ErrAlreadyClosed   = errors.New("websocket already closed")
	ErrStaleConnection = errors.New("websocket stale: no pong within timeout")
	ErrReceiveTimeout  = errors.New("websocket receive timed out")
)

// ClientConfig holds WebSocket client settings.
type ClientConfig struct {
	URL          string
	PingInterval time.Duration // application-level ping cadence
	PongTimeout  time.Duration // max wait for a pong reply
	WriteTimeout time.Duration
	CloseTimeout time.Duration
	BufferSize   int
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		PingInterval: 15 * time.Second,
		PongTimeout:  10 * time.Second,
		WriteTimeout: 5 * time.Second,
		CloseTimeout: 5 * time.Second,
		BufferSize:   1000,
	}
}

// Message is a received text frame with its local receive time.
// Data is always valid UTF-8: invalid bytes are replaced on decode.
type Message struct {
	Data       string
	ReceivedAt time.Time
}

// Command is an outbound subscribe/unsubscribe request.
type Command struct {
	ID     int64  `json:"id"`
	Cmd    string `json:"cmd"`
	Params any    `json:"params,omitempty"`
}

// Response is an inbound command acknowledgement.
type Response struct {
	ID   int64           `json:"id"`
	Type string          `json:"type"`
	Msg  json.RawMessage `json:"msg,omitempty"`
}

// SubscribedMsg is the payload of a "subscribed" response.
type SubscribedMsg struct {
	SID     int64  `json:"sid"`
	Channel string `json:"channel"`
}
