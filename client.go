package gosocketcluster

import (
	"context"

	"github.com/pkg/errors"
)

// Connect opens a transport to url, starts a socket on it and performs the handshake
// with config.AuthToken. The socket is returned only once the handshake has completed.
//
// ctx bounds dialing and the handshake. The session itself outlives ctx and ends on
// #disconnect, transport failure or Close.
func Connect(ctx context.Context, url string, config *Config) (*Socket, error) {
	config = config.withDefaults()

	conn, err := config.Dialer(ctx, url)
	if err != nil {
		return nil, &TransportError{Op: "dial", Err: err}
	}

	socket := NewSocket(context.WithoutCancel(ctx), conn, config)

	hctx := ctx
	if config.HandshakeTimeout > 0 {
		var cancel context.CancelFunc
		hctx, cancel = context.WithTimeout(ctx, config.HandshakeTimeout)
		defer cancel()
	}

	if _, err := socket.Handshake(hctx, config.AuthToken); err != nil {
		socket.Close()
		return nil, errors.Wrap(err, "handshake failed")
	}

	return socket, nil
}

// WithSocket connects, runs fn with the ready socket and closes the socket on every exit path,
// including a panic in fn.
func WithSocket(ctx context.Context, url string, config *Config, fn func(*Socket) error) error {
	socket, err := Connect(ctx, url, config)
	if err != nil {
		return err
	}
	defer socket.Close()

	return fn(socket)
}
