package gosocketcluster

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Keepalive frames travel outside the JSON envelope grammar
const (
	PingFrame = "#1"
	PongFrame = "#2"
)

// Reserved SocketCluster events
const (
	EventHandshake       = "#handshake"
	EventSubscribe       = "#subscribe"
	EventUnsubscribe     = "#unsubscribe"
	EventPublish         = "#publish"
	EventDisconnect      = "#disconnect"
	EventSetAuthToken    = "#setAuthToken"
	EventRemoveAuthToken = "#removeAuthToken"
)

// EnvelopeKind represents the variant of a SocketCluster envelope
type EnvelopeKind int

const (
	EnvelopeInvalid EnvelopeKind = iota
	EnvelopeEvent
	EnvelopeRequest
	EnvelopeResponse
)

// Envelope represents a SocketCluster wire message
type Envelope struct {
	Event string          `json:"event,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error json.RawMessage `json:"error,omitempty"`
	CID   *int64          `json:"cid,omitempty"`
	RID   *int64          `json:"rid,omitempty"`
}

// NewEnvelope builds an outbound envelope. A non-nil cid turns it into a request.
func NewEnvelope(event string, data interface{}, cid *int64) (*Envelope, error) {
	env := &Envelope{
		Event: event,
		CID:   cid,
	}

	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal envelope data: %w", err)
		}
		env.Data = raw
	}

	return env, nil
}

// Kind classifies the envelope by the correlation and event fields it carries
func (e *Envelope) Kind() EnvelopeKind {
	switch {
	case e.RID != nil:
		return EnvelopeResponse
	case e.Event != "" && e.CID != nil:
		return EnvelopeRequest
	case e.Event != "":
		return EnvelopeEvent
	default:
		return EnvelopeInvalid
	}
}

// Encode encodes the envelope to a text frame
func (e *Envelope) Encode() (string, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("failed to marshal envelope: %w", err)
	}
	return string(data), nil
}

// DecodeEnvelope decodes a text frame into an envelope.
// Keepalive frames are not envelopes and must be filtered out before calling this.
func DecodeEnvelope(text string) (*Envelope, error) {
	if len(text) == 0 {
		return nil, fmt.Errorf("%w: empty message", ErrDecode)
	}

	var env Envelope
	if err := json.Unmarshal([]byte(text), &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	return &env, nil
}

// String returns the envelope kind as a string
func (k EnvelopeKind) String() string {
	switch k {
	case EnvelopeEvent:
		return "event"
	case EnvelopeRequest:
		return "request"
	case EnvelopeResponse:
		return "response"
	case EnvelopeInvalid:
		return "invalid"
	default:
		return "unknown(" + strconv.Itoa(int(k)) + ")"
	}
}

// HandshakeResult is the server's reply to #handshake
type HandshakeResult struct {
	ID              string          `json:"id"`
	IsAuthenticated bool            `json:"isAuthenticated"`
	PingTimeout     int             `json:"pingTimeout"`
	AuthError       json.RawMessage `json:"authError,omitempty"`

	// Raw is the reply payload exactly as received
	Raw json.RawMessage `json:"-"`
}

type handshakeRequest struct {
	AuthToken string `json:"authToken,omitempty"`
}

type channelRequest struct {
	Channel string `json:"channel"`
}

type publishRequest struct {
	Channel string      `json:"channel"`
	Data    interface{} `json:"data,omitempty"`
}

type publication struct {
	Channel string `json:"channel"`
}

type authTokenPush struct {
	Token string `json:"token"`
}
