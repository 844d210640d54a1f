package gosocketcluster

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const tracerName = "github.com/ramory-l/gosocketcluster"

// SocketState represents the lifecycle of a socket
type SocketState int32

const (
	StateHandshaking SocketState = iota
	StateOpen
	StateClosed
)

// String returns the socket state as a string
func (s SocketState) String() string {
	switch s {
	case StateHandshaking:
		return "handshaking"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Socket is a SocketCluster connection session
type Socket struct {
	sessionID string
	conn      Transport
	config    *Config
	logger    logrus.FieldLogger
	tracer    trace.Tracer

	calls *callRegistry
	subs  *subscriptionTable
	auth  *authenticator

	idMu      sync.RWMutex
	id        string
	handshake atomic.Bool
	state     atomic.Int32

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	done      chan struct{}
	err       error

	onDisconnect []func(error)
	disconnectMu sync.RWMutex
}

// NewSocket creates a socket over an established transport and starts its receive loop.
// The socket terminates when ctx is cancelled. The handshake must be performed before other requests.
func NewSocket(ctx context.Context, conn Transport, config *Config) *Socket {
	config = config.withDefaults()
	sessionID := uuid.NewString()

	s := &Socket{
		sessionID: sessionID,
		conn:      conn,
		config:    config,
		logger:    config.Logger.WithField("session", sessionID),
		tracer:    config.TracerProvider.Tracer(tracerName),
		calls:     newCallRegistry(),
		subs:      newSubscriptionTable(),
		auth:      newAuthenticator(),
		done:      make(chan struct{}),
	}
	s.ctx, s.cancel = context.WithCancel(ctx)

	go s.readLoop()

	return s
}

// ID returns the server-assigned socket id, empty before the handshake
func (s *Socket) ID() string {
	s.idMu.RLock()
	defer s.idMu.RUnlock()
	return s.id
}

// SessionID returns the local id used to correlate log entries
func (s *Socket) SessionID() string {
	return s.sessionID
}

// State returns the current lifecycle state
func (s *Socket) State() SocketState {
	return SocketState(s.state.Load())
}

// AuthState returns the current authentication state
func (s *Socket) AuthState() AuthState {
	state, _ := s.auth.snapshot()
	return state
}

// CurrentToken returns the most recent auth token, updated by every #setAuthToken push
func (s *Socket) CurrentToken() string {
	_, token := s.auth.snapshot()
	return token
}

// AuthToken blocks until the session is first authenticated and returns that token
func (s *Socket) AuthToken(ctx context.Context) (string, error) {
	return s.auth.wait(ctx, s.done)
}

// Done is closed when the session terminates
func (s *Socket) Done() <-chan struct{} {
	return s.done
}

// Err returns the terminal cause once Done is closed.
// It is nil after a #disconnect or Close.
func (s *Socket) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// OnDisconnect registers a handler called once the session terminates.
// Registering after termination calls the handler right away.
func (s *Socket) OnDisconnect(handler func(error)) {
	s.disconnectMu.Lock()
	defer s.disconnectMu.Unlock()

	select {
	case <-s.done:
		go handler(s.err)
	default:
		s.onDisconnect = append(s.onDisconnect, handler)
	}
}

// Close terminates the session and closes the transport
func (s *Socket) Close() error {
	s.terminate(nil)
	return nil
}

// Emit sends a fire-and-forget event
func (s *Socket) Emit(ctx context.Context, event string, data interface{}) error {
	env, err := NewEnvelope(event, data, nil)
	if err != nil {
		return err
	}
	return s.send(ctx, env)
}

// Publish publishes data to channel through the server
func (s *Socket) Publish(ctx context.Context, channel string, data interface{}) error {
	return s.Emit(ctx, EventPublish, publishRequest{Channel: channel, Data: data})
}

// Request sends an event and waits for the response correlated by call id
func (s *Socket) Request(ctx context.Context, event string, data interface{}) (json.RawMessage, error) {
	cid := s.calls.nextID()

	ctx, span := s.tracer.Start(ctx, "socketcluster.request",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("sc.event", event),
			attribute.Int64("sc.cid", cid),
		),
	)
	defer span.End()

	result, err := s.request(ctx, cid, event, data)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetStatus(codes.Ok, "")
	return result, nil
}

func (s *Socket) request(ctx context.Context, cid int64, event string, data interface{}) (json.RawMessage, error) {
	env, err := NewEnvelope(event, data, &cid)
	if err != nil {
		return nil, err
	}

	// the slot must exist before the request can reach the server
	slot, err := s.calls.register(cid)
	if err != nil {
		return nil, err
	}

	if err := s.send(ctx, env); err != nil {
		s.calls.evict(cid)
		return nil, err
	}

	select {
	case res := <-slot:
		return res.data, res.err
	case <-ctx.Done():
		s.calls.evict(cid)
		return nil, ctx.Err()
	}
}

// Handshake performs the mandatory first exchange of the session.
// An empty token sends an empty handshake. A failed handshake may be retried on the same socket.
func (s *Socket) Handshake(ctx context.Context, token string) (result *HandshakeResult, err error) {
	if !s.handshake.CompareAndSwap(false, true) {
		return nil, ErrHandshakeDone
	}
	defer func() {
		if err != nil {
			s.handshake.Store(false)
		}
	}()

	raw, err := s.Request(ctx, EventHandshake, handshakeRequest{AuthToken: token})
	if err != nil {
		return nil, err
	}

	result = &HandshakeResult{Raw: raw}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, result); err != nil {
			return nil, errors.Wrapf(ErrDecode, "handshake result: %v", err)
		}
	}

	s.idMu.Lock()
	s.id = result.ID
	s.idMu.Unlock()

	s.auth.handshakeDone(result.IsAuthenticated, token)
	s.state.CompareAndSwap(int32(StateHandshaking), int32(StateOpen))

	s.logger.WithFields(logrus.Fields{
		"id":            result.ID,
		"authenticated": result.IsAuthenticated,
	}).Info("handshake complete")

	return result, nil
}

// Subscribe registers channels on a single merged subscription and emits #subscribe for each of them.
// Subscribing to a channel that already has an active subscription fails with ErrAlreadySubscribed.
func (s *Socket) Subscribe(ctx context.Context, channels ...string) (*Subscription, error) {
	if len(channels) == 0 {
		return nil, ErrNoChannels
	}

	sub := newSubscription(s, channels)
	if err := s.subs.register(sub); err != nil {
		return nil, err
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, name := range channels {
		g.Go(func() error {
			return s.Emit(gctx, EventSubscribe, channelRequest{Channel: name})
		})
	}
	if err := g.Wait(); err != nil {
		sub.Close()
		return nil, err
	}

	s.logger.WithField("channels", channels).Debug("subscribed")
	return sub, nil
}

// Subscription returns the active subscription that owns channel
func (s *Socket) Subscription(channel string) (*Subscription, bool) {
	return s.subs.lookup(channel)
}

func (s *Socket) send(ctx context.Context, env *Envelope) error {
	select {
	case <-s.done:
		return closedError(s.err)
	default:
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	text, err := env.Encode()
	if err != nil {
		return err
	}

	return s.write(ctx, text)
}

func (s *Socket) write(ctx context.Context, text string) error {
	if err := s.conn.Send(ctx, text); err != nil {
		select {
		case <-s.done:
			return closedError(s.err)
		default:
		}
		// the caller gave up before the frame was written; the session is unaffected
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return ctxErr
		}
		terr := &TransportError{Op: "send", Err: err}
		s.terminate(terr)
		return terr
	}
	return nil
}

// terminate moves the session to its terminal state exactly once
func (s *Socket) terminate(cause error) {
	s.closeOnce.Do(func() {
		s.err = cause
		s.state.Store(int32(StateClosed))
		close(s.done)
		s.cancel()

		failure := closedError(cause)
		s.calls.closeAll(failure)
		s.subs.closeAll(failure)

		if err := s.conn.Close(); err != nil {
			s.logger.WithError(err).Debug("transport close failed")
		}

		if cause != nil {
			s.logger.WithError(cause).Warn("session terminated")
		} else {
			s.logger.Info("session closed")
		}

		s.disconnectMu.RLock()
		handlers := s.onDisconnect
		s.disconnectMu.RUnlock()

		for _, handler := range handlers {
			go handler(cause)
		}
	})
}
