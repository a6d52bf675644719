package stream

import (
	"encoding/json"
	"errors"
	"time"
)

// Errors
var (
	ErrNotConnected    = errors.New("not connected")
	ErrStaleConnection = errors.New("connection stale (no ping)")
	ErrAlreadyClosed   = errors.New("already closed")
	ErrStopped         = errors.New("stream stopped")
)

// State is the engine's connection state.
type State int32

const (
	StateClosed State = iota
	StateConnecting
	StateOpen
	StateStopped // Terminal: explicit stop or reconnect budget exhausted
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// TimestampedMessage wraps raw message data with a receive timestamp.
type TimestampedMessage struct {
	Data       []byte
	ReceivedAt time.Time
}

// request is an outbound JSON-RPC 2.0 call.
type request struct {
	Jsonrpc string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

// envelope is any inbound frame: a call response carries ID and
// Result, a notification carries Method and Params.
type envelope struct {
	Jsonrpc string          `json:"jsonrpc"`
	ID      *int64          `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcErr         `json:"error"`
	Method  string          `json:"method"`
	Params  *notifyParams   `json:"params"`
}

type rpcErr struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// notifyParams is the body of an accountNotification.
type notifyParams struct {
	Subscription int64 `json:"subscription"`
	Result       struct {
		Context struct {
			Slot uint64 `json:"slot"`
		} `json:"context"`
		Value struct {
			Data []string `json:"data"` // [payload, encoding]
		} `json:"value"`
	} `json:"result"`
}

// subscribeOpts is the second accountSubscribe parameter.
type subscribeOpts struct {
	Encoding   string `json:"encoding"`
	Commitment string `json:"commitment"`
}

// ClientConfig configures a single WebSocket connection.
type ClientConfig struct {
	URL          string
	PingTimeout  time.Duration // Max time without ping/pong before the connection is stale
	WriteTimeout time.Duration
	BufferSize   int // Message channel buffer size
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		PingTimeout:  60 * time.Second,
		WriteTimeout: 5 * time.Second,
		BufferSize:   4096,
	}
}

// Config configures the stream engine.
type Config struct {
	URL           string
	MaxReconnects int // Terminal stop once this many consecutive attempts fail
	HistorySize   int // Per-market ring capacity
	PingTimeout   time.Duration
	WriteTimeout  time.Duration
	BufferSize    int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxReconnects: 10,
		HistorySize:   256,
		PingTimeout:   60 * time.Second,
		WriteTimeout:  5 * time.Second,
		BufferSize:    4096,
	}
}
