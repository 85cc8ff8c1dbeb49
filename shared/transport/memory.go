package transport

import (
	"context"
	"fmt"
	"sync"
)

// MemoryTransport connects parties living in the same process
type MemoryTransport struct {
	name  string
	inbox *inboxes

	mu    sync.RWMutex
	peers map[string]*MemoryTransport
}

// NewMemoryPair creates two connected in-process transports
func NewMemoryPair(nameA, nameB string) (*MemoryTransport, *MemoryTransport) {
	a := &MemoryTransport{name: nameA, inbox: newInboxes(), peers: make(map[string]*MemoryTransport)}
	b := &MemoryTransport{name: nameB, inbox: newInboxes(), peers: make(map[string]*MemoryTransport)}
	a.peers[nameB] = b
	b.peers[nameA] = a
	return a, b
}

// Name returns the local party name
func (m *MemoryTransport) Name() string {
	return m.name
}

// Send copies payload into the peer's inbox
func (m *MemoryTransport) Send(ctx context.Context, peer string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return newError("send", peer, err)
	}

	select {
	case <-m.inbox.closed:
		return newError("send", peer, ErrClosed)
	default:
	}

	m.mu.RLock()
	remote, ok := m.peers[peer]
	m.mu.RUnlock()
	if !ok {
		return newError("send", peer, fmt.Errorf("unknown peer"))
	}

	select {
	case <-remote.inbox.closed:
		return newError("send", peer, ErrClosed)
	default:
	}

	remote.inbox.push(m.name, append([]byte(nil), payload...))
	return nil
}

// Receive returns the next payload sent by peer
func (m *MemoryTransport) Receive(ctx context.Context, peer string) ([]byte, error) {
	payload, err := m.inbox.pop(ctx, peer)
	if err != nil {
		return nil, newError("receive", peer, err)
	}
	return payload, nil
}

// Close wakes pending receivers on both ends
func (m *MemoryTransport) Close() error {
	m.inbox.close()

	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, remote := range m.peers {
		remote.inbox.disconnected(m.name)
	}
	return nil
}
