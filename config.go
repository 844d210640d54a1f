package gosocketcluster

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/ramory-l/gosocketcluster/transport"
)

// Transport is a full-duplex text message channel.
// Receive is only ever called from the socket's receive loop; Send may be called concurrently.
type Transport interface {
	Send(ctx context.Context, text string) error
	Receive(ctx context.Context) (string, error)
	Close() error
}

// DialFunc opens a transport to url
type DialFunc func(ctx context.Context, url string) (Transport, error)

// Config holds SocketCluster client configuration
type Config struct {
	// AuthToken is sent with the handshake when not empty
	AuthToken string

	// HandshakeTimeout bounds the handshake exchange in Connect. Zero means no extra bound.
	HandshakeTimeout time.Duration

	// Dialer opens the transport in Connect. Defaults to the gorilla websocket transport.
	Dialer DialFunc

	Logger         logrus.FieldLogger
	TracerProvider trace.TracerProvider

	// OnProtocolError is called from the receive loop for every protocol violation.
	// It must not block.
	OnProtocolError func(*ProtocolError)
}

// DefaultConfig returns default client configuration
func DefaultConfig() *Config {
	return &Config{
		HandshakeTimeout: 10 * time.Second,
		Dialer:           GorillaDialer(nil),
		Logger:           logrus.StandardLogger(),
	}
}

// GorillaDialer dials with the gorilla/websocket transport
func GorillaDialer(options *transport.Options) DialFunc {
	return func(ctx context.Context, url string) (Transport, error) {
		conn, err := transport.Dial(ctx, url, options)
		if err != nil {
			return nil, err
		}
		return conn, nil
	}
}

// NhooyrDialer dials with the nhooyr.io/websocket transport
func NhooyrDialer(options *transport.Options) DialFunc {
	return func(ctx context.Context, url string) (Transport, error) {
		conn, err := transport.DialNhooyr(ctx, url, options)
		if err != nil {
			return nil, err
		}
		return conn, nil
	}
}

func (c *Config) withDefaults() *Config {
	defaults := DefaultConfig()
	config := *defaults
	if c != nil {
		config = *c
	}

	if config.Dialer == nil {
		config.Dialer = defaults.Dialer
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}
	if config.TracerProvider == nil {
		config.TracerProvider = otel.GetTracerProvider()
	}
	return &config
}
