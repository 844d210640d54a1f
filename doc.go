// Package gosocketcluster provides a SocketCluster client implementation in Go.
//
// This library speaks the SocketCluster protocol over a single websocket connection:
// it performs the handshake, keeps track of authentication, correlates requests with
// their responses, multiplexes channel subscriptions and answers keepalive pings, while
// one background goroutine per socket drains the connection.
//
// # Features
//
//   - Handshake with optional auth token
//   - Request/response correlation by call id
//   - Channel subscriptions with an unbounded per-subscription queue
//   - Auth token pushes (#setAuthToken, #removeAuthToken)
//   - Keepalive pong replies
//   - gorilla/websocket and nhooyr.io/websocket transports
//   - Every pending caller is released when the session ends
//
// # Quick Start
//
//	socket, err := gosocketcluster.Connect(ctx, "ws://localhost:8000/socketcluster/", nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer socket.Close()
//
//	reply, err := socket.Request(ctx, "echo", map[string]int{"x": 1})
//
// Or let the library close the socket on every exit path:
//
//	err := gosocketcluster.WithSocket(ctx, url, nil, func(socket *gosocketcluster.Socket) error {
//	    return socket.Emit(ctx, "hello", "world")
//	})
//
// # Subscriptions
//
// Subscribe registers one or more channels on a single merged queue:
//
//	sub, err := socket.Subscribe(ctx, "chat", "news")
//	for data, err := range sub.All(ctx) {
//	    if err != nil {
//	        break
//	    }
//	    log.Printf("published: %s", data)
//	}
//
// Subscribing to a channel that already has an active subscription fails with
// ErrAlreadySubscribed. Close evicts a subscription locally, Unsubscribe also tells the server.
//
// # Authentication
//
// The auth token passed in Config is sent with the handshake. AuthToken blocks until the
// session is first authenticated; CurrentToken follows later #setAuthToken pushes.
//
//	config := gosocketcluster.DefaultConfig()
//	config.AuthToken = token
//	socket, err := gosocketcluster.Connect(ctx, url, config)
//
// # Errors
//
// Transport failures end the session and surface as *TransportError; every pending and
// later call then fails with ErrConnectionClosed. Protocol violations in inbound messages are
// logged and passed to Config.OnProtocolError, and never reach unrelated callers.
// Abandoning a request through its context evicts it from the call registry.
//
// # Thread Safety
//
// All Socket and Subscription methods are goroutine-safe. Responses are matched by call id,
// so concurrent requests may complete in any order.
package gosocketcluster
