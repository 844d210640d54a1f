package transport

import (
	"context"
	"net/http"
	"sync"

	"github.com/pkg/errors"
	nws "nhooyr.io/websocket"
)

// NhooyrConn is a websocket transport over nhooyr.io/websocket
type NhooyrConn struct {
	conn      *nws.Conn
	options   *Options
	writeSem  chan struct{}
	closeOnce sync.Once
	closed    chan struct{}
	closeErr  error
}

// DialNhooyr opens a websocket connection to url
func DialNhooyr(ctx context.Context, url string, options *Options) (*NhooyrConn, error) {
	if options == nil {
		options = DefaultOptions()
	}

	dialCtx := ctx
	if options.HandshakeTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, options.HandshakeTimeout)
		defer cancel()
	}

	dialOptions := &nws.DialOptions{
		HTTPHeader: options.Header,
	}
	if options.TLSConfig != nil {
		dialOptions.HTTPClient = &http.Client{
			Transport: &http.Transport{
				Proxy:           http.ProxyFromEnvironment,
				TLSClientConfig: options.TLSConfig,
			},
		}
	}

	ws, resp, err := nws.Dial(dialCtx, url, dialOptions)
	if err != nil {
		if resp != nil {
			return nil, errors.Wrapf(err, "dial %s (status: %s)", url, resp.Status)
		}
		return nil, errors.Wrapf(err, "dial %s", url)
	}

	if options.ReadLimit > 0 {
		ws.SetReadLimit(options.ReadLimit)
	}

	return &NhooyrConn{
		conn:     ws,
		options:  options,
		writeSem: make(chan struct{}, 1),
		closed:   make(chan struct{}),
	}, nil
}

// Send writes a text frame. ctx bounds the wait for the writer slot only: nhooyr closes the
// connection when a write context ends, so the write itself runs under WriteTimeout alone.
func (c *NhooyrConn) Send(ctx context.Context, text string) error {
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

	writeCtx := context.WithoutCancel(ctx)
	if c.options.WriteTimeout > 0 {
		var cancel context.CancelFunc
		writeCtx, cancel = context.WithTimeout(writeCtx, c.options.WriteTimeout)
		defer cancel()
	}

	return c.conn.Write(writeCtx, nws.MessageText, []byte(text))
}

// Receive blocks until the next text frame arrives
func (c *NhooyrConn) Receive(ctx context.Context) (string, error) {
	for {
		readCtx, cancel := ctx, context.CancelFunc(func() {})
		if c.options.ReadTimeout > 0 {
			readCtx, cancel = context.WithTimeout(ctx, c.options.ReadTimeout)
		}
		typ, data, err := c.conn.Read(readCtx)
		cancel()

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

		if typ != nws.MessageText {
			continue
		}
		return string(data), nil
	}
}

// Close performs the closing handshake
func (c *NhooyrConn) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.closeErr = c.conn.Close(nws.StatusNormalClosure, "")
	})
	return c.closeErr
}
