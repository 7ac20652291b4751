package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"
)

// -----------------------------------------------------------------------------
// Connection definitions
// -----------------------------------------------------------------------------

// Kind is the configured purpose of a connection.
type Kind string

const (
	KindSender     Kind = "sender"     // outbound-message capable
	KindSubscriber Kind = "subscriber" // inbound stream only
)

// Valid reports whether k is a known connection kind.
func (k Kind) Valid() bool {
	return k == KindSender || k == KindSubscriber
}

// ConfigStatus is the persisted run status of a connection definition.
type ConfigStatus string

const (
	StatusActive   ConfigStatus = "active"
	StatusInactive ConfigStatus = "inactive"
	StatusError    ConfigStatus = "error"
)

// ConnectionConfig describes one outbound WebSocket connection.
type ConnectionConfig struct {
	ID              string            `json:"id"`
	Name            string            `json:"name"`
	Description     string            `json:"description,omitempty"`
	URL             string            `json:"ws_url"`
	Kind            Kind              `json:"config_type"`
	Headers         map[string]string `json:"headers,omitempty"`
	AuthToken       string            `json:"auth_token,omitempty"`
	MessageTemplate string            `json:"message_template,omitempty"`
	AutoReconnect   bool              `json:"auto_reconnect"`
	Status          ConfigStatus      `json:"status"`
	CreatedAt       int64             `json:"created_at"` // seconds since epoch
	UpdatedAt       int64             `json:"updated_at"` // seconds since epoch
}

// Validate checks the fields a connection attempt depends on.
func (c ConnectionConfig) Validate() error {
	if c.ID == "" {
		return errors.New("id is required")
	}
	if c.URL == "" {
		return errors.New("ws_url is required")
	}
	u, err := url.Parse(c.URL)
	if err != nil {
		return fmt.Errorf("ws_url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("ws_url scheme must be ws or wss, got %q", u.Scheme)
	}
	if !c.Kind.Valid() {
		return fmt.Errorf("config_type must be %q or %q, got %q", KindSender, KindSubscriber, c.Kind)
	}
	return nil
}

// ParseHeaders decodes a JSON object of header names to values.
// Non-string values are rendered with their JSON text. Empty input yields nil.
func ParseHeaders(raw string) (map[string]string, error) {
	if raw == "" || raw == "null" {
		return nil, nil
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		return nil, fmt.Errorf("parse headers: %w", err)
	}
	return headersFromRaw(obj), nil
}

// HeadersFromJSON is ParseHeaders for an already-decoded request field.
func HeadersFromJSON(raw json.RawMessage) (map[string]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	// Headers may arrive either as an object or as a string holding one.
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return ParseHeaders(s)
	}
	return ParseHeaders(string(raw))
}

func headersFromRaw(obj map[string]json.RawMessage) map[string]string {
	headers := make(map[string]string, len(obj))
	for k, v := range obj {
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			headers[k] = s
			continue
		}
		headers[k] = string(v)
	}
	return headers
}

// EncodeHeaders is the inverse of ParseHeaders. Nil or empty maps encode to "".
func EncodeHeaders(headers map[string]string) string {
	if len(headers) == 0 {
		return ""
	}
	data, _ := json.Marshal(headers)
	return string(data)
}

// -----------------------------------------------------------------------------
// Message history
// -----------------------------------------------------------------------------

// Direction tells whether a frame was written or read.
type Direction string

const (
	DirectionSent     Direction = "sent"
	DirectionReceived Direction = "received"
)

// MessageStatus is the delivery outcome of a recorded frame.
type MessageStatus string

const (
	MessageSuccess MessageStatus = "success"
	MessageFailed  MessageStatus = "failed"
	MessagePending MessageStatus = "pending"
)

// Message is one sent or received frame, as handed to the history sink.
type Message struct {
	ID           uuid.UUID     `json:"id"`
	ConnectionID string        `json:"config_id"`
	Direction    Direction     `json:"message_type"`
	Content      string        `json:"content"`
	Timestamp    time.Time     `json:"timestamp"`
	Status       MessageStatus `json:"status"`
	Error        string        `json:"error_message,omitempty"`
}
