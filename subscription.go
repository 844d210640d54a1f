package gosocketcluster

import (
	"context"
	"encoding/json"
	"iter"
	"sync"

	"golang.org/x/sync/errgroup"
)

// queue is an unbounded FIFO. push never blocks, so a slow consumer cannot stall the receive loop.
type queue struct {
	mu     sync.Mutex
	items  []json.RawMessage
	ready  chan struct{}
	closed bool
	err    error
}

func newQueue() *queue {
	return &queue{
		ready: make(chan struct{}, 1),
	}
}

func (q *queue) push(v json.RawMessage) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.items = append(q.items, v)
	q.signal()
	return true
}

// signal must be called with mu held
func (q *queue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

func (q *queue) pop(ctx context.Context) (json.RawMessage, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			v := q.items[0]
			q.items[0] = nil
			q.items = q.items[1:]
			if len(q.items) > 0 && !q.closed {
				q.signal()
			}
			q.mu.Unlock()
			return v, nil
		}
		if q.closed {
			err := q.err
			q.mu.Unlock()
			return nil, err
		}
		q.mu.Unlock()

		select {
		case <-q.ready:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// close wakes every waiter. Values already queued are still delivered before err.
func (q *queue) close(err error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	q.err = err
	close(q.ready)
}

// subscriptionTable maps channel names to the subscription that owns them
type subscriptionTable struct {
	mu       sync.Mutex
	channels map[string]*Subscription
	err      error
}

func newSubscriptionTable() *subscriptionTable {
	return &subscriptionTable{
		channels: make(map[string]*Subscription),
	}
}

// register claims every channel of sub or none of them
func (t *subscriptionTable) register(sub *Subscription) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.err != nil {
		return t.err
	}

	seen := make(map[string]bool, len(sub.channels))
	for _, name := range sub.channels {
		if _, ok := t.channels[name]; ok || seen[name] {
			return &SubscribeError{Channel: name, Err: ErrAlreadySubscribed}
		}
		seen[name] = true
	}

	for _, name := range sub.channels {
		t.channels[name] = sub
	}
	return nil
}

func (t *subscriptionTable) publish(name string, data json.RawMessage) error {
	t.mu.Lock()
	sub, ok := t.channels[name]
	t.mu.Unlock()

	if !ok || !sub.queue.push(data) {
		return ErrUnknownChannel
	}
	return nil
}

// remove evicts the channels still owned by sub
func (t *subscriptionTable) remove(sub *Subscription) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, name := range sub.channels {
		if t.channels[name] == sub {
			delete(t.channels, name)
		}
	}
}

func (t *subscriptionTable) closeAll(err error) {
	t.mu.Lock()
	subs := t.channels
	t.channels = make(map[string]*Subscription)
	t.err = err
	t.mu.Unlock()

	for _, sub := range subs {
		sub.queue.close(err)
	}
}

func (t *subscriptionTable) lookup(name string) (*Subscription, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	sub, ok := t.channels[name]
	return sub, ok
}

// Subscription delivers values published on one or more channels through a single merged queue.
type Subscription struct {
	socket    *Socket
	channels  []string
	queue     *queue
	closeOnce sync.Once
}

func newSubscription(socket *Socket, channels []string) *Subscription {
	return &Subscription{
		socket:   socket,
		channels: append([]string(nil), channels...),
		queue:    newQueue(),
	}
}

// Channels returns the channel names this subscription listens on
func (s *Subscription) Channels() []string {
	return append([]string(nil), s.channels...)
}

// Next blocks until a value is published on any of the subscribed channels.
// Cancelling ctx abandons the wait but keeps the subscription registered.
func (s *Subscription) Next(ctx context.Context) (json.RawMessage, error) {
	return s.queue.pop(ctx)
}

// All returns an iterator over published values. The subscription is closed when the loop stops,
// and a terminal error is yielded once before the iterator ends.
func (s *Subscription) All(ctx context.Context) iter.Seq2[json.RawMessage, error] {
	return func(yield func(json.RawMessage, error) bool) {
		defer s.Close()

		for {
			v, err := s.Next(ctx)
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(v, nil) {
				return
			}
		}
	}
}

// Close evicts the subscription's channels without notifying the server
func (s *Subscription) Close() error {
	s.closeOnce.Do(func() {
		s.socket.subs.remove(s)
		s.queue.close(ErrSubscriptionClosed)
	})
	return nil
}

// Unsubscribe closes the subscription and emits #unsubscribe for each of its channels
func (s *Subscription) Unsubscribe(ctx context.Context) error {
	s.Close()

	g, gctx := errgroup.WithContext(ctx)
	for _, name := range s.channels {
		g.Go(func() error {
			return s.socket.Emit(gctx, EventUnsubscribe, name)
		})
	}
	return g.Wait()
}

// SubscribeError reports which channel could not be subscribed
type SubscribeError struct {
	Channel string
	Err     error
}

func (e *SubscribeError) Error() string {
	return "subscribe " + e.Channel + ": " + e.Err.Error()
}

func (e *SubscribeError) Unwrap() error {
	return e.Err
}
