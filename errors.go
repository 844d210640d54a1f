package gosocketcluster

import (
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrConnectionClosed is returned to pending and future callers once the session has terminated.
	ErrConnectionClosed = errors.New("connection closed")

	// ErrHandshakeDone indicates that the handshake was already performed on this socket.
	ErrHandshakeDone = errors.New("handshake already performed")

	// ErrAlreadySubscribed indicates that a channel already has an active subscription.
	ErrAlreadySubscribed = errors.New("channel already subscribed")

	// ErrSubscriptionClosed is returned by a subscription after Close or Unsubscribe.
	ErrSubscriptionClosed = errors.New("subscription closed")

	// ErrNoChannels is returned by Subscribe when called without channel names.
	ErrNoChannels = errors.New("no channels given")
)

// Protocol violation causes carried by ProtocolError.
var (
	ErrDecode         = errors.New("invalid envelope")
	ErrMalformed      = errors.New("malformed message")
	ErrUnknownCall    = errors.New("response for unknown call")
	ErrUnknownChannel = errors.New("publish to unsubscribed channel")
	ErrUnknownEvent   = errors.New("unrecognized event")
)

// TransportError is a send, receive or dial failure. It terminates the session.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ProtocolError describes a single inbound message that violated the protocol.
// It is reported and never fatal.
type ProtocolError struct {
	Message string
	Err     error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol violation: %v", e.Err)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// RemoteError is an error the server attached to a response.
type RemoteError struct {
	Name    string          `json:"name"`
	Message string          `json:"message"`
	Raw     json.RawMessage `json:"-"`
}

func (e *RemoteError) Error() string {
	switch {
	case e.Name != "" && e.Message != "":
		return fmt.Sprintf("remote error: %s: %s", e.Name, e.Message)
	case e.Message != "":
		return "remote error: " + e.Message
	case e.Name != "":
		return "remote error: " + e.Name
	default:
		return "remote error: " + string(e.Raw)
	}
}

func newRemoteError(raw json.RawMessage) *RemoteError {
	rerr := &RemoteError{Raw: raw}
	// servers may send a bare string instead of an error object
	if err := json.Unmarshal(raw, rerr); err != nil {
		var msg string
		if json.Unmarshal(raw, &msg) == nil {
			rerr.Message = msg
		}
	}
	return rerr
}

func closedError(cause error) error {
	if cause == nil {
		return ErrConnectionClosed
	}
	return errors.WithMessage(ErrConnectionClosed, cause.Error())
}
