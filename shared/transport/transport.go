// Package transport provides reliable, ordered point-to-point channels between
// named parties. Every implementation buffers inbound messages per peer, so two
// parties may send to each other at the same time without deadlocking.
package transport

import (
	"context"
	"errors"
	"fmt"
)

// ErrClosed is returned by operations on a closed transport
var ErrClosed = errors.New("transport closed")

// Transport is the channel used by negotiation and by the intersection engine.
// Send and Receive block until the message is handed off or received, the
// context is done, or the transport fails.
type Transport interface {
	Send(ctx context.Context, peer string, payload []byte) error
	Receive(ctx context.Context, peer string) ([]byte, error)
	Close() error
}

// TransportError reports a connection-level failure talking to a peer
type TransportError struct {
	Peer string
	Op   string
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s peer %q: %v", e.Op, e.Peer, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func newError(op, peer string, err error) error {
	return &TransportError{Peer: peer, Op: op, Err: err}
}
