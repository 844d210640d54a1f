// Package transport provides websocket transports for the SocketCluster client.
//
// Conn is built on gorilla/websocket and NhooyrConn on nhooyr.io/websocket. Both carry
// text frames only; binary frames are skipped. Receive must be called from a single
// goroutine, Send and Close are safe for concurrent use.
package transport

import (
	"crypto/tls"
	"net/http"
	"time"

	"github.com/pkg/errors"
)

// ErrClosed is returned by operations on a closed transport
var ErrClosed = errors.New("transport closed")

// Options holds transport configuration
type Options struct {
	Header           http.Header
	TLSConfig        *tls.Config
	HandshakeTimeout time.Duration

	// ReadTimeout closes the transport when no frame arrives in time. Server pings keep it alive.
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	ReadLimit    int64
}

// DefaultOptions returns default transport options
func DefaultOptions() *Options {
	return &Options{
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     10 * time.Second,
		ReadLimit:        1e6, // 1MB
	}
}
