package sctest

import (
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

var (
	ErrConnClosed = errors.New("connection closed")
	ErrSlowClient = errors.New("slow client")
)

type envelope struct {
	Event string          `json:"event,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
	CID   *int64          `json:"cid,omitempty"`
}

type response struct {
	RID   int64       `json:"rid"`
	Data  interface{} `json:"data,omitempty"`
	Error interface{} `json:"error,omitempty"`
}

// Conn is a server-side client connection
type Conn struct {
	id        string
	ws        *websocket.Conn
	server    *Server
	outgoing  chan string
	pingTimer *time.Timer
	closeOnce sync.Once
	closed    chan struct{}
	mu        sync.RWMutex
	onClose   func(string)
	received  []string
	authToken string
	pongs     atomic.Int64
}

func newConn(id string, ws *websocket.Conn, server *Server) *Conn {
	return &Conn{
		id:       id,
		ws:       ws,
		server:   server,
		outgoing: make(chan string, 256),
		closed:   make(chan struct{}),
	}
}

// ID returns the connection ID
func (c *Conn) ID() string {
	return c.id
}

// Start starts the connection loops
func (c *Conn) Start() {
	go c.writeLoop()
	go c.readLoop()
	c.schedulePing()
}

// Send queues a raw text frame
func (c *Conn) Send(text string) error {
	select {
	case <-c.closed:
		return ErrConnClosed
	default:
	}

	select {
	case c.outgoing <- text:
		return nil
	case <-c.closed:
		return ErrConnClosed
	default:
		return ErrSlowClient
	}
}

// Emit sends an event envelope
func (c *Conn) Emit(event string, data interface{}) error {
	msg := map[string]interface{}{"event": event}
	if data != nil {
		msg["data"] = data
	}
	encoded, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return c.Send(string(encoded))
}

// Reply sends a response correlated to cid
func (c *Conn) Reply(cid int64, data interface{}, replyErr interface{}) error {
	encoded, err := json.Marshal(response{RID: cid, Data: data, Error: replyErr})
	if err != nil {
		return err
	}
	return c.Send(string(encoded))
}

// Ping sends a keepalive ping
func (c *Conn) Ping() error {
	return c.Send("#1")
}

// Pongs returns the number of pongs received
func (c *Conn) Pongs() int64 {
	return c.pongs.Load()
}

// SetAuthToken pushes a new auth token to the client
func (c *Conn) SetAuthToken(token string) error {
	c.mu.Lock()
	c.authToken = token
	c.mu.Unlock()

	return c.Emit("#setAuthToken", map[string]string{"token": token})
}

// RemoveAuthToken tells the client to drop its token
func (c *Conn) RemoveAuthToken() error {
	c.mu.Lock()
	c.authToken = ""
	c.mu.Unlock()

	return c.Emit("#removeAuthToken", nil)
}

// AuthToken returns the token accepted for this connection
func (c *Conn) AuthToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.authToken
}

// Received returns every text frame read from the client, pongs excluded
func (c *Conn) Received() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.received...)
}

// Disconnect sends #disconnect and closes the connection once it is written
func (c *Conn) Disconnect(code int, reason string) error {
	if err := c.Emit("#disconnect", map[string]interface{}{"code": code, "data": reason}); err != nil {
		return err
	}
	go func() {
		time.Sleep(50 * time.Millisecond)
		c.Close("disconnect")
	}()
	return nil
}

// Done is closed when the connection is closed
func (c *Conn) Done() <-chan struct{} {
	return c.closed
}

// Close closes the connection
func (c *Conn) Close(reason string) {
	c.closeOnce.Do(func() {
		close(c.closed)

		c.mu.Lock()
		if c.pingTimer != nil {
			c.pingTimer.Stop()
		}
		c.mu.Unlock()

		c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason),
			time.Now().Add(time.Second))
		c.ws.Close()

		c.mu.RLock()
		onClose := c.onClose
		c.mu.RUnlock()

		if onClose != nil {
			onClose(reason)
		}
	})
}

// OnClose sets the close handler
func (c *Conn) OnClose(fn func(string)) {
	c.mu.Lock()
	c.onClose = fn
	c.mu.Unlock()
}

func (c *Conn) readLoop() {
	defer c.Close("read error")

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}

		c.handleMessage(string(data))
	}
}

func (c *Conn) writeLoop() {
	for {
		select {
		case text := <-c.outgoing:
			if err := c.ws.WriteMessage(websocket.TextMessage, []byte(text)); err != nil {
				c.Close("write error")
				return
			}
		case <-c.closed:
			return
		}
	}
}

func (c *Conn) handleMessage(text string) {
	if text == "#2" {
		c.pongs.Add(1)
		return
	}

	c.mu.Lock()
	c.received = append(c.received, text)
	c.mu.Unlock()

	var env envelope
	if err := json.Unmarshal([]byte(text), &env); err != nil {
		return
	}

	switch env.Event {
	case "#handshake":
		c.handleHandshake(&env)
	case "#subscribe":
		var req struct {
			Channel string `json:"channel"`
		}
		if json.Unmarshal(env.Data, &req) == nil && req.Channel != "" {
			c.server.adapter.Add(c.id, req.Channel)
		}
		c.ack(&env, nil)
	case "#unsubscribe":
		var channel string
		if json.Unmarshal(env.Data, &channel) == nil {
			c.server.adapter.Remove(c.id, channel)
		}
		c.ack(&env, nil)
	case "#publish":
		var req struct {
			Channel string          `json:"channel"`
			Data    json.RawMessage `json:"data"`
		}
		if json.Unmarshal(env.Data, &req) == nil && req.Channel != "" {
			c.server.adapter.Publish(req.Channel, req.Data)
		}
		c.ack(&env, nil)
	default:
		c.handleRequest(&env)
	}
}

func (c *Conn) handleHandshake(env *envelope) {
	var req struct {
		AuthToken string `json:"authToken"`
	}
	json.Unmarshal(env.Data, &req)

	authenticated := false
	if req.AuthToken != "" && c.server.config.Authenticate != nil {
		authenticated = c.server.config.Authenticate(req.AuthToken)
	}
	if authenticated {
		c.mu.Lock()
		c.authToken = req.AuthToken
		c.mu.Unlock()
	}

	if env.CID == nil {
		return
	}
	c.Reply(*env.CID, map[string]interface{}{
		"id":              c.id,
		"pingTimeout":     c.server.config.PingTimeout.Milliseconds(),
		"isAuthenticated": authenticated,
	}, nil)
}

func (c *Conn) handleRequest(env *envelope) {
	handler, ok := c.server.handler(env.Event)
	if !ok {
		if env.CID != nil {
			c.Reply(*env.CID, nil, map[string]string{
				"name":    "UnknownEvent",
				"message": "no handler for " + env.Event,
			})
		}
		return
	}

	data, err := handler(c, env.Data)
	if env.CID == nil {
		return
	}
	if err != nil {
		c.Reply(*env.CID, nil, map[string]string{"name": "HandlerError", "message": err.Error()})
		return
	}
	c.Reply(*env.CID, data, nil)
}

func (c *Conn) ack(env *envelope, data interface{}) {
	if env.CID != nil {
		c.Reply(*env.CID, data, nil)
	}
}

func (c *Conn) schedulePing() {
	interval := c.server.config.PingInterval
	if interval <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.pingTimer = time.AfterFunc(interval, func() {
		if c.Ping() == nil {
			c.schedulePing()
		}
	})
}
