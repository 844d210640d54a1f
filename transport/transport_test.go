package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testTimeout = 2 * time.Second

type transport interface {
	Send(ctx context.Context, text string) error
	Receive(ctx context.Context) (string, error)
	Close() error
}

type dialer func(ctx context.Context, url string, options *Options) (transport, error)

var dialers = map[string]dialer{
	"gorilla": func(ctx context.Context, url string, options *Options) (transport, error) {
		return Dial(ctx, url, options)
	},
	"nhooyr": func(ctx context.Context, url string, options *Options) (transport, error) {
		return DialNhooyr(ctx, url, options)
	},
}

// echoServer answers every text frame with the same text and sends greeting
// as a binary frame first when it is not empty.
func echoServer(t *testing.T, greeting string) string {
	t.Helper()

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()

		if greeting != "" {
			ws.WriteMessage(websocket.BinaryMessage, []byte(greeting))
		}
		for {
			typ, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			if err := ws.WriteMessage(typ, data); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)

	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// silentServer accepts the upgrade and never writes
func silentServer(t *testing.T) string {
	t.Helper()

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)

	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestRoundTrip(t *testing.T) {
	for name, dial := range dialers {
		t.Run(name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
			defer cancel()

			conn, err := dial(ctx, echoServer(t, ""), nil)
			require.NoError(t, err)
			defer conn.Close()

			for _, msg := range []string{"#1", `{"event":"x"}`, "third"} {
				require.NoError(t, conn.Send(ctx, msg))
				got, err := conn.Receive(ctx)
				require.NoError(t, err)
				assert.Equal(t, msg, got)
			}
		})
	}
}

func TestReceiveSkipsBinaryFrames(t *testing.T) {
	for name, dial := range dialers {
		t.Run(name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
			defer cancel()

			conn, err := dial(ctx, echoServer(t, "binary hello"), nil)
			require.NoError(t, err)
			defer conn.Close()

			require.NoError(t, conn.Send(ctx, "text"))
			got, err := conn.Receive(ctx)
			require.NoError(t, err)
			assert.Equal(t, "text", got)
		})
	}
}

func TestReceiveHonorsContext(t *testing.T) {
	for name, dial := range dialers {
		t.Run(name, func(t *testing.T) {
			conn, err := dial(context.Background(), silentServer(t), nil)
			require.NoError(t, err)
			defer conn.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
			defer cancel()

			_, err = conn.Receive(ctx)
			assert.ErrorIs(t, err, context.DeadlineExceeded)
		})
	}
}

func TestReadTimeout(t *testing.T) {
	for name, dial := range dialers {
		t.Run(name, func(t *testing.T) {
			options := DefaultOptions()
			options.ReadTimeout = 20 * time.Millisecond

			conn, err := dial(context.Background(), silentServer(t), options)
			require.NoError(t, err)
			defer conn.Close()

			start := time.Now()
			_, err = conn.Receive(context.Background())
			assert.Error(t, err)
			assert.Less(t, time.Since(start), testTimeout)
		})
	}
}

func TestClosedTransport(t *testing.T) {
	for name, dial := range dialers {
		t.Run(name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
			defer cancel()

			conn, err := dial(ctx, echoServer(t, ""), nil)
			require.NoError(t, err)

			require.NoError(t, conn.Close())
			assert.NotPanics(t, func() { conn.Close() })

			assert.ErrorIs(t, conn.Send(ctx, "late"), ErrClosed)
			_, err = conn.Receive(ctx)
			assert.ErrorIs(t, err, ErrClosed)
		})
	}
}

func TestCloseUnblocksReceive(t *testing.T) {
	for name, dial := range dialers {
		t.Run(name, func(t *testing.T) {
			conn, err := dial(context.Background(), silentServer(t), nil)
			require.NoError(t, err)

			errs := make(chan error, 1)
			go func() {
				_, err := conn.Receive(context.Background())
				errs <- err
			}()

			time.Sleep(10 * time.Millisecond)
			conn.Close()

			select {
			case err := <-errs:
				assert.ErrorIs(t, err, ErrClosed)
			case <-time.After(testTimeout):
				t.Fatal("Receive did not return after Close")
			}
		})
	}
}

func TestDialFailure(t *testing.T) {
	for name, dial := range dialers {
		t.Run(name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
			defer cancel()

			_, err := dial(ctx, "ws://127.0.0.1:1/", nil)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "dial ws://127.0.0.1:1/")
		})
	}
}

func TestDialRejectedUpgrade(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	for name, dial := range dialers {
		t.Run(name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
			defer cancel()

			_, err := dial(ctx, url, nil)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "403")
		})
	}
}

func TestWriteDeadline(t *testing.T) {
	assert.True(t, writeDeadline(0).IsZero())
	assert.WithinDuration(t, time.Now().Add(time.Minute), writeDeadline(time.Minute), time.Second)
}

func writerSlot(conn transport) chan struct{} {
	switch c := conn.(type) {
	case *Conn:
		return c.writeSem
	case *NhooyrConn:
		return c.writeSem
	default:
		return nil
	}
}

func TestSendDeadlineWhileWriterBusyKeepsConnection(t *testing.T) {
	for name, dial := range dialers {
		t.Run(name, func(t *testing.T) {
			conn, err := dial(context.Background(), echoServer(t, ""), nil)
			require.NoError(t, err)
			defer conn.Close()

			slot := writerSlot(conn)
			require.NotNil(t, slot)
			slot <- struct{}{}

			ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
			defer cancel()
			assert.ErrorIs(t, conn.Send(ctx, "late"), context.DeadlineExceeded)

			<-slot

			// a deadline that expires after the write must not break the connection either
			short, cancelShort := context.WithTimeout(context.Background(), 50*time.Millisecond)
			defer cancelShort()
			require.NoError(t, conn.Send(short, "ping"))
			<-short.Done()

			rctx, rcancel := context.WithTimeout(context.Background(), testTimeout)
			defer rcancel()
			require.NoError(t, conn.Send(rctx, "after"))
			for _, want := range []string{"ping", "after"} {
				got, err := conn.Receive(rctx)
				require.NoError(t, err)
				assert.Equal(t, want, got)
			}
		})
	}
}
