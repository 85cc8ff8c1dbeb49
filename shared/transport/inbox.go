package transport

import (
	"context"
	"errors"
	"sync"
)

// ErrPeerDisconnected is returned by Receive when the peer went away and nothing is left to read
var ErrPeerDisconnected = errors.New("peer disconnected")

// mailbox is an unbounded FIFO of payloads received from one peer
type mailbox struct {
	items  [][]byte
	gone   bool
	notify chan struct{}
}

func (b *mailbox) wake() {
	select {
	case b.notify <- struct{}{}:
	default:
	}
}

// inboxes holds one mailbox per sending peer
type inboxes struct {
	mu     sync.Mutex
	boxes  map[string]*mailbox
	closed chan struct{}
	once   sync.Once
}

func newInboxes() *inboxes {
	return &inboxes{
		boxes:  make(map[string]*mailbox),
		closed: make(chan struct{}),
	}
}

// box returns the mailbox for peer; callers hold mu
func (in *inboxes) box(peer string) *mailbox {
	b, ok := in.boxes[peer]
	if !ok {
		b = &mailbox{notify: make(chan struct{}, 1)}
		in.boxes[peer] = b
	}
	return b
}

func (in *inboxes) push(peer string, payload []byte) {
	in.mu.Lock()
	b := in.box(peer)
	b.items = append(b.items, payload)
	in.mu.Unlock()
	b.wake()
}

// connected clears a previous disconnect, e.g. when the peer dials in again
func (in *inboxes) connected(peer string) {
	in.mu.Lock()
	in.box(peer).gone = false
	in.mu.Unlock()
}

// disconnected makes receivers fail once the peer's queued payloads are drained
func (in *inboxes) disconnected(peer string) {
	in.mu.Lock()
	b := in.box(peer)
	b.gone = true
	in.mu.Unlock()
	b.wake()
}

func (in *inboxes) pop(ctx context.Context, peer string) ([]byte, error) {
	for {
		in.mu.Lock()
		b := in.box(peer)
		if len(b.items) > 0 {
			payload := b.items[0]
			b.items[0] = nil
			b.items = b.items[1:]
			in.mu.Unlock()
			return payload, nil
		}
		gone := b.gone
		in.mu.Unlock()

		if gone {
			return nil, ErrPeerDisconnected
		}

		select {
		case <-b.notify:
		case <-in.closed:
			return nil, ErrClosed
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (in *inboxes) close() {
	in.once.Do(func() { close(in.closed) })
}
