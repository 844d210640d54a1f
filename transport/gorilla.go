package transport

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

// Conn is a websocket transport over gorilla/websocket
type Conn struct {
	conn      *websocket.Conn
	options   *Options
	writeSem  chan struct{}
	closeOnce sync.Once
	closed    chan struct{}
	closeErr  error
}

// Dial opens a websocket connection to url
func Dial(ctx context.Context, url string, options *Options) (*Conn, error) {
	if options == nil {
		options = DefaultOptions()
	}

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: options.HandshakeTimeout,
		TLSClientConfig:  options.TLSConfig,
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
	}

	ws, resp, err := dialer.DialContext(ctx, url, options.Header)
	if err != nil {
		if resp != nil {
			return nil, errors.Wrapf(err, "dial %s (status: %s)", url, resp.Status)
		}
		return nil, errors.Wrapf(err, "dial %s", url)
	}

	return NewConn(ws, options), nil
}

// NewConn wraps an established gorilla connection
func NewConn(ws *websocket.Conn, options *Options) *Conn {
	if options == nil {
		options = DefaultOptions()
	}
	if options.ReadLimit > 0 {
		ws.SetReadLimit(options.ReadLimit)
	}

	return &Conn{
		conn:     ws,
		options:  options,
		writeSem: make(chan struct{}, 1),
		closed:   make(chan struct{}),
	}
}

// Send writes a text frame. ctx bounds the wait for the writer slot only; once the frame
// is being written, WriteTimeout is the sole deadline.
func (c *Conn) Send(ctx context.Context, text string) error {
	select {
	case c.writeSem <- struct{}{}:
	case <-c.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-c.writeSem }()

	select {
	case <-c.closed:
		return ErrClosed
	default:
	}

	c.conn.SetWriteDeadline(writeDeadline(c.options.WriteTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, []byte(text))
}

// Receive blocks until the next text frame arrives
func (c *Conn) Receive(ctx context.Context) (string, error) {
	for {
		if c.options.ReadTimeout > 0 {
			c.conn.SetReadDeadline(time.Now().Add(c.options.ReadTimeout))
		}

		// unblock the read when ctx ends
		stop := context.AfterFunc(ctx, func() {
			c.conn.SetReadDeadline(time.Now())
		})
		typ, data, err := c.conn.ReadMessage()
		stop()

		if err != nil {
			select {
			case <-c.closed:
				return "", ErrClosed
			default:
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return "", ctxErr
			}
			return "", err
		}

		if typ != websocket.TextMessage {
			continue
		}
		return string(data), nil
	}
}

// Close sends a close frame and closes the connection
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)

		// WriteControl is safe to call concurrently with WriteMessage
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))

		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

func writeDeadline(timeout time.Duration) time.Time {
	if timeout <= 0 {
		return time.Time{}
	}
	return time.Now().Add(timeout)
}
