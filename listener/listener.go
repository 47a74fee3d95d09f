// Package listener accepts connections for the gate: it assigns every accepted
// connection a ConnectionID, captures the raw ClientHello record, and exposes
// both to HTTP handlers through the request context.
package listener

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"sync/atomic"

	"tlsgate/hellogate"
	"tlsgate/stats"
)

// StatAccepted counts accepted connections.
const StatAccepted = "connections_accepted"

// Listener wraps a net.Listener and hands out *Conn values.
type Listener struct {
	net.Listener
	maxHello int
	stats    *stats.Tracker
	nextID   atomic.Uint64
}

// NewListener wraps inner. A non-positive maxHello uses DefaultMaxHelloBytes;
// tracker may be nil.
func NewListener(inner net.Listener, maxHello int, tracker *stats.Tracker) *Listener {
	return &Listener{Listener: inner, maxHello: maxHello, stats: tracker}
}

// Accept waits for the next connection and tags it with a fresh id. Ids start
// at 1 and are never reused for the lifetime of the Listener.
func (l *Listener) Accept() (net.Conn, error) {
	c, err := l.Listener.Accept()
	if err != nil {
		return nil, err
	}
	l.stats.Increment(StatAccepted)
	id := hellogate.ConnectionID(l.nextID.Add(1))
	return newConn(c, id, l.maxHello), nil
}

type connKey struct{}

// ConnContext is an http.Server ConnContext hook that stores the accepted
// *Conn in the connection's base context.
func ConnContext(ctx context.Context, c net.Conn) context.Context {
	if hc := unwrapConn(c); hc != nil {
		return context.WithValue(ctx, connKey{}, hc)
	}
	return ctx
}

// FromContext returns the *Conn stored by ConnContext.
func FromContext(ctx context.Context) (*Conn, bool) {
	hc, ok := ctx.Value(connKey{}).(*Conn)
	return hc, ok
}

func unwrapConn(c net.Conn) *Conn {
	switch v := c.(type) {
	case *Conn:
		return v
	case *tls.Conn:
		if hc, ok := v.NetConn().(*Conn); ok {
			return hc
		}
	}
	return nil
}

// Perform is the capture-layer delegate handed to Gate.Invoke. It reports
// false when the request's connection has no captured ClientHello.
func Perform(r *http.Request, cb hellogate.Callback[*http.Request]) bool {
	hc, ok := FromContext(r.Context())
	if !ok {
		return false
	}
	hello := hc.ClientHello()
	if hello == nil {
		return false
	}
	cb(r, hello)
	return true
}
