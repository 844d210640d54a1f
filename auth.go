package gosocketcluster

import (
	"context"
	"strconv"
	"sync"
)

// AuthState is the authentication state of a socket
type AuthState int

const (
	// AuthPending means the handshake has not completed yet
	AuthPending AuthState = iota
	// AuthUnauthenticated means the server has not accepted a token
	AuthUnauthenticated
	// AuthAuthenticated means a token has been accepted or pushed by the server
	AuthAuthenticated
)

// String returns the auth state as a string
func (s AuthState) String() string {
	switch s {
	case AuthPending:
		return "pending"
	case AuthUnauthenticated:
		return "unauthenticated"
	case AuthAuthenticated:
		return "authenticated"
	default:
		return "unknown(" + strconv.Itoa(int(s)) + ")"
	}
}

// authenticator tracks the current token separately from the one-shot resolution.
// The one-shot fires at most once per session; later pushes only update the current token.
type authenticator struct {
	mu       sync.RWMutex
	state    AuthState
	current  string
	first    string
	resolved chan struct{}
	once     sync.Once
}

func newAuthenticator() *authenticator {
	return &authenticator{
		state:    AuthPending,
		resolved: make(chan struct{}),
	}
}

// handshakeDone applies the handshake outcome unless a token push already arrived
func (a *authenticator) handshakeDone(authenticated bool, token string) {
	a.mu.Lock()
	if a.state != AuthPending {
		a.mu.Unlock()
		return
	}
	if !authenticated {
		a.state = AuthUnauthenticated
		a.mu.Unlock()
		return
	}
	a.state = AuthAuthenticated
	a.current = token
	a.mu.Unlock()

	a.resolve(token)
}

// setToken records token as current and reports whether it resolved the one-shot
func (a *authenticator) setToken(token string) bool {
	a.mu.Lock()
	a.state = AuthAuthenticated
	a.current = token
	a.mu.Unlock()

	return a.resolve(token)
}

func (a *authenticator) resolve(token string) bool {
	fired := false
	a.once.Do(func() {
		a.mu.Lock()
		a.first = token
		a.mu.Unlock()
		close(a.resolved)
		fired = true
	})
	return fired
}

func (a *authenticator) removeToken() {
	a.mu.Lock()
	a.state = AuthUnauthenticated
	a.current = ""
	a.mu.Unlock()
}

func (a *authenticator) snapshot() (AuthState, string) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.state, a.current
}

// wait blocks until the one-shot resolves, closed is closed, or ctx is done
func (a *authenticator) wait(ctx context.Context, closed <-chan struct{}) (string, error) {
	select {
	case <-a.resolved:
	default:
		select {
		case <-a.resolved:
		case <-closed:
			return "", ErrConnectionClosed
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.first, nil
}
