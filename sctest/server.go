// Package sctest provides an in-process SocketCluster server for tests.
//
//	srv := sctest.NewServer(nil)
//	defer srv.Close()
//
//	srv.Handle("echo", func(conn *sctest.Conn, data json.RawMessage) (interface{}, error) {
//	    return data, nil
//	})
//	socket, err := gosocketcluster.Connect(ctx, srv.URL(), nil)
//
// The server answers #handshake, tracks #subscribe and #unsubscribe per connection,
// forwards client #publish events to subscribers, replies to registered request handlers
// and optionally pings every connection with "#1".
package sctest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// RequestHandler answers a client request. A non-nil error is sent back as the response error.
type RequestHandler func(conn *Conn, data json.RawMessage) (interface{}, error)

// Config holds test server configuration
type Config struct {
	PingInterval time.Duration // 0 disables pings
	PingTimeout  time.Duration // reported in the handshake result

	// Authenticate decides whether a handshake token is accepted. nil rejects every token.
	Authenticate func(token string) bool
}

// DefaultConfig returns default test server configuration
func DefaultConfig() *Config {
	return &Config{
		PingTimeout: 20 * time.Second,
	}
}

// Server is an in-process SocketCluster server
type Server struct {
	config     *Config
	upgrader   websocket.Upgrader
	http       *httptest.Server
	adapter    Adapter
	conns      sync.Map
	handlers   map[string]RequestHandler
	handlersMu sync.RWMutex
	onConnect  func(*Conn)
	connectMu  sync.RWMutex
}

// NewServer starts a test server
func NewServer(config *Config) *Server {
	if config == nil {
		config = DefaultConfig()
	}

	s := &Server{
		config: config,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		handlers: make(map[string]RequestHandler),
	}
	s.adapter = NewMemoryAdapter(s)
	s.http = httptest.NewServer(s)

	return s
}

// URL returns the websocket URL of the server
func (s *Server) URL() string {
	return "ws" + strings.TrimPrefix(s.http.URL, "http") + "/socketcluster/"
}

// ServeHTTP upgrades the request and starts a connection
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	conn := newConn(uuid.NewString(), ws, s)
	s.conns.Store(conn.id, conn)

	conn.OnClose(func(reason string) {
		s.adapter.RemoveAll(conn.id)
		s.conns.Delete(conn.id)
	})

	conn.Start()

	s.connectMu.RLock()
	onConnect := s.onConnect
	s.connectMu.RUnlock()

	if onConnect != nil {
		onConnect(conn)
	}
}

// OnConnect sets the connection handler
func (s *Server) OnConnect(fn func(*Conn)) {
	s.connectMu.Lock()
	s.onConnect = fn
	s.connectMu.Unlock()
}

// Handle registers a request handler for event
func (s *Server) Handle(event string, handler RequestHandler) {
	s.handlersMu.Lock()
	s.handlers[event] = handler
	s.handlersMu.Unlock()
}

func (s *Server) handler(event string) (RequestHandler, bool) {
	s.handlersMu.RLock()
	defer s.handlersMu.RUnlock()

	h, ok := s.handlers[event]
	return h, ok
}

// Publish sends data to every subscriber of channel
func (s *Server) Publish(channel string, data interface{}) (int, error) {
	return s.adapter.Publish(channel, data)
}

// Subscribers returns the IDs of connections subscribed to channel
func (s *Server) Subscribers(channel string) []string {
	return s.adapter.Subscribers(channel)
}

// WaitSubscribers blocks until channel has at least n subscribers
func (s *Server) WaitSubscribers(ctx context.Context, channel string, n int) error {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()

	for len(s.adapter.Subscribers(channel)) < n {
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Conn retrieves a connection by ID
func (s *Server) Conn(id string) (*Conn, bool) {
	val, ok := s.conns.Load(id)
	if !ok {
		return nil, false
	}
	return val.(*Conn), true
}

// Conns returns all open connections
func (s *Server) Conns() []*Conn {
	var conns []*Conn
	s.conns.Range(func(_, value interface{}) bool {
		conns = append(conns, value.(*Conn))
		return true
	})
	return conns
}

// WaitConn blocks until at least one connection is open and returns one of them
func (s *Server) WaitConn(ctx context.Context) (*Conn, error) {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()

	for {
		if conns := s.Conns(); len(conns) > 0 {
			return conns[0], nil
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Close closes all connections and stops the server
func (s *Server) Close() {
	s.conns.Range(func(_, value interface{}) bool {
		value.(*Conn).Close("server shutdown")
		return true
	})
	s.http.Close()
	s.adapter.Close()
}
