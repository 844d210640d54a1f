package gosocketcluster

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
)

const testTimeout = 2 * time.Second

var errFakeClosed = errors.New("fake transport closed")

// fakeTransport is an in-memory Transport driven by the test
type fakeTransport struct {
	inbound   chan string
	sent      chan string
	closed    chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	sendErr error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		inbound: make(chan string, 64),
		sent:    make(chan string, 64),
		closed:  make(chan struct{}),
	}
}

func (f *fakeTransport) Send(ctx context.Context, text string) error {
	f.mu.Lock()
	err := f.sendErr
	f.mu.Unlock()
	if err != nil {
		return err
	}

	select {
	case <-f.closed:
		return errFakeClosed
	default:
	}

	select {
	case f.sent <- text:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *fakeTransport) Receive(ctx context.Context) (string, error) {
	select {
	case text := <-f.inbound:
		return text, nil
	case <-f.closed:
		return "", io.EOF
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (f *fakeTransport) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeTransport) failSends(err error) {
	f.mu.Lock()
	f.sendErr = err
	f.mu.Unlock()
}

func (f *fakeTransport) isClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

func (f *fakeTransport) push(texts ...string) {
	for _, text := range texts {
		f.inbound <- text
	}
}

func (f *fakeTransport) next(t *testing.T) string {
	t.Helper()
	select {
	case text := <-f.sent:
		return text
	case <-time.After(testTimeout):
		t.Fatal("timed out waiting for an outbound frame")
		return ""
	}
}

func (f *fakeTransport) nextEnvelope(t *testing.T) *Envelope {
	t.Helper()
	env, err := DecodeEnvelope(f.next(t))
	require.NoError(t, err)
	return env
}

func (f *fakeTransport) expectSilence(t *testing.T) {
	t.Helper()
	select {
	case text := <-f.sent:
		t.Fatalf("unexpected outbound frame %q", text)
	case <-time.After(50 * time.Millisecond):
	}
}

type testSocket struct {
	*Socket
	transport      *fakeTransport
	protocolErrors chan *ProtocolError
	logs           *test.Hook
}

func newTestSocket(t *testing.T) *testSocket {
	t.Helper()

	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	ts := &testSocket{
		transport:      newFakeTransport(),
		protocolErrors: make(chan *ProtocolError, 32),
		logs:           hook,
	}
	config := &Config{
		Logger: logger,
		OnProtocolError: func(perr *ProtocolError) {
			ts.protocolErrors <- perr
		},
	}
	ts.Socket = NewSocket(context.Background(), ts.transport, config)
	t.Cleanup(func() { ts.Close() })

	return ts
}

func (ts *testSocket) nextProtocolError(t *testing.T) *ProtocolError {
	t.Helper()
	select {
	case perr := <-ts.protocolErrors:
		return perr
	case <-time.After(testTimeout):
		t.Fatal("timed out waiting for a protocol error")
		return nil
	}
}

// handshake runs the handshake against a canned server reply
func (ts *testSocket) handshake(t *testing.T, token string, reply string) *HandshakeResult {
	t.Helper()

	type outcome struct {
		result *HandshakeResult
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := ts.Handshake(context.Background(), token)
		done <- outcome{result, err}
	}()

	env := ts.transport.nextEnvelope(t)
	require.Equal(t, EventHandshake, env.Event)
	require.NotNil(t, env.CID)
	ts.transport.push(`{"rid":` + itoa(*env.CID) + `,"data":` + reply + `}`)

	select {
	case out := <-done:
		require.NoError(t, out.err)
		return out.result
	case <-time.After(testTimeout):
		t.Fatal("timed out waiting for the handshake")
		return nil
	}
}

func itoa(n int64) string {
	b, _ := json.Marshal(n)
	return string(b)
}

func waitDone(t *testing.T, s *Socket) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(testTimeout):
		t.Fatal("timed out waiting for the session to terminate")
	}
}
