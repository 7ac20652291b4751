package connection

import (
	"errors"
	"time"

	"github.com/rickgao/wstool/internal/model"
)

// Errors
var (
	ErrInvalidConfig       = errors.New("invalid connection config")
	ErrConnectFailed       = errors.New("connect failed")
	ErrNotConnected        = errors.New("not connected")
	ErrWrongConnectionKind = errors.New("wrong connection kind")
	ErrTransport           = errors.New("transport error")
	ErrTimeout             = errors.New("operation timeout")
	ErrRegistryClosed      = errors.New("registry closed")

	// errPeerClosed marks a normal close frame from the remote end.
	errPeerClosed = errors.New("closed by peer")
)

// State is a connection's position in the actor state machine.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnectPending
	StateError
)

var stateNames = [...]string{
	StateDisconnected:     "disconnected",
	StateConnecting:       "connecting",
	StateConnected:        "connected",
	StateReconnectPending: "reconnect_pending",
	StateError:            "error",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// MarshalText renders the state by name in JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ConnectionInfo is a health snapshot of one connection.
//
// Invariants: State == StateConnected implies ConnectedAt is set, and
// ErrorCount > 0 implies LastError is set.
type ConnectionInfo struct {
	ID            string     `json:"config_id"`
	Kind          model.Kind `json:"config_type"`
	State         State      `json:"state"`
	ConnectedAt   time.Time  `json:"connection_time"`
	LastMessageAt time.Time  `json:"last_message_time"` // last inbound frame
	MessageCount  int64      `json:"message_count"`     // sent + received
	ErrorCount    int64      `json:"error_count"`
	LastError     string     `json:"last_error,omitempty"`
}

// IsConnected reports whether the snapshot was taken while the socket was up.
func (i ConnectionInfo) IsConnected() bool {
	return i.State == StateConnected
}

// MessageSink receives every sent and received frame.
//
// Record is called from the connection's loops and must not block.
type MessageSink interface {
	Record(msg model.Message)
}

// SinkFunc adapts a function to MessageSink.
type SinkFunc func(model.Message)

// Record calls f(msg).
func (f SinkFunc) Record(msg model.Message) { f(msg) }

type discardSink struct{}

func (discardSink) Record(model.Message) {}

// Config tunes connection behavior. It is shared by every actor of a
// registry and by the prober.
type Config struct {
	HandshakeTimeout     time.Duration // Bound on the WebSocket handshake
	WriteTimeout         time.Duration // Write deadline for frames and pings
	ReadTimeout          time.Duration // Max silence (no frame, no pong) before the socket is stale; negative disables
	PingInterval         time.Duration // Keepalive ping period; negative disables
	ProbeResponseTimeout time.Duration // How long a probe waits for a reply
	ReconnectBaseWait    time.Duration // First reconnect delay
	ReconnectMaxWait     time.Duration // Reconnect delay cap
	ReconnectAttempts    int           // Handshakes per reconnect sequence before giving up
	SendBufferSize       int           // Outbound queue length per connection
	SendRate             float64       // Max frames/sec per connection; 0 = unlimited
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		HandshakeTimeout:     10 * time.Second,
		WriteTimeout:         5 * time.Second,
		ReadTimeout:          90 * time.Second,
		PingInterval:         30 * time.Second,
		ProbeResponseTimeout: 5 * time.Second,
		ReconnectBaseWait:    1 * time.Second,
		ReconnectMaxWait:     30 * time.Second,
		ReconnectAttempts:    5,
		SendBufferSize:       256,
	}
}

// withDefaults fills zero fields from DefaultConfig. SendRate 0 stays
// unlimited.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = d.HandshakeTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = d.ReadTimeout
	}
	if c.PingInterval == 0 {
		c.PingInterval = d.PingInterval
	}
	if c.ProbeResponseTimeout <= 0 {
		c.ProbeResponseTimeout = d.ProbeResponseTimeout
	}
	if c.ReconnectBaseWait <= 0 {
		c.ReconnectBaseWait = d.ReconnectBaseWait
	}
	if c.ReconnectMaxWait <= 0 {
		c.ReconnectMaxWait = max(d.ReconnectMaxWait, c.ReconnectBaseWait)
	}
	if c.ReconnectAttempts <= 0 {
		c.ReconnectAttempts = d.ReconnectAttempts
	}
	if c.SendBufferSize <= 0 {
		c.SendBufferSize = d.SendBufferSize
	}
	if c.SendRate < 0 {
		c.SendRate = 0
	}
	return c
}
