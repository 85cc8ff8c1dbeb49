package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"slices"
	"sync"
	"time"

	"github.com/gaoyang-zhang/mindspore-federated/shared/middleware"
	"github.com/gaoyang-zhang/mindspore-federated/shared/netio"
)

const (
	DefaultDialRetries  = 10
	DefaultDialInterval = 500 * time.Millisecond
	helloTimeout        = 10 * time.Second
)

// TCPConfig describes one party of a TCP transport
type TCPConfig struct {
	Name          string
	ListenAddress string
	// Peers maps peer names to the addresses they listen on
	Peers        map[string]string
	TLS          *tls.Config
	DialRetries  int
	DialInterval time.Duration
}

type outConn struct {
	mu   sync.Mutex
	conn net.Conn
}

// TCPTransport sends over connections it dials and receives over connections
// peers dial to it. The first frame on every connection carries the sender name.
type TCPTransport struct {
	config   TCPConfig
	inbox    *inboxes
	listener net.Listener

	mu       sync.Mutex
	peers    map[string]string
	outbound map[string]*outConn
	dialed   map[net.Conn]struct{}
	inbound  map[net.Conn]string
	active   map[string]int

	closed    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewTCPTransport starts listening on config.ListenAddress
func NewTCPTransport(config TCPConfig) (*TCPTransport, error) {
	if config.Name == "" {
		return nil, fmt.Errorf("transport name is required")
	}
	if config.DialRetries <= 0 {
		config.DialRetries = DefaultDialRetries
	}
	if config.DialInterval <= 0 {
		config.DialInterval = DefaultDialInterval
	}

	t := &TCPTransport{
		config:   config,
		inbox:    newInboxes(),
		peers:    make(map[string]string),
		outbound: make(map[string]*outConn),
		dialed:   make(map[net.Conn]struct{}),
		inbound:  make(map[net.Conn]string),
		active:   make(map[string]int),
		closed:   make(chan struct{}),
	}
	for name, addr := range config.Peers {
		t.peers[name] = addr
	}

	var (
		listener net.Listener
		err      error
	)
	if config.TLS != nil {
		listener, err = tls.Listen("tcp", config.ListenAddress, config.TLS)
	} else {
		listener, err = net.Listen("tcp", config.ListenAddress)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", config.ListenAddress, err)
	}
	t.listener = listener

	t.wg.Add(1)
	go t.acceptLoop()

	middleware.LogInfo("TCP Transport", "%s listening on %s (tls=%t)", config.Name, listener.Addr(), config.TLS != nil)
	return t, nil
}

// Name returns the local party name
func (t *TCPTransport) Name() string {
	return t.config.Name
}

// Addr returns the address the transport is listening on
func (t *TCPTransport) Addr() net.Addr {
	return t.listener.Addr()
}

// AddPeer registers or replaces the address of a peer
func (t *TCPTransport) AddPeer(name, address string) {
	t.mu.Lock()
	t.peers[name] = address
	t.mu.Unlock()
}

// Send writes payload as a single frame to peer, dialing it on first use
func (t *TCPTransport) Send(ctx context.Context, peer string, payload []byte) error {
	if t.isClosed() {
		return newError("send", peer, ErrClosed)
	}
	if err := ctx.Err(); err != nil {
		return newError("send", peer, err)
	}

	t.mu.Lock()
	address, known := t.peers[peer]
	out, ok := t.outbound[peer]
	if known && !ok {
		out = &outConn{}
		t.outbound[peer] = out
	}
	t.mu.Unlock()
	if !known {
		return newError("send", peer, fmt.Errorf("unknown peer"))
	}

	out.mu.Lock()
	defer out.mu.Unlock()

	if out.conn == nil {
		conn, err := t.dial(ctx, peer, address)
		if err != nil {
			return newError("dial", peer, err)
		}
		if !t.track(conn) {
			return newError("send", peer, ErrClosed)
		}
		out.conn = conn
	}

	conn := out.conn
	interrupted := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		conn.SetWriteDeadline(time.Unix(1, 0))
		close(interrupted)
	})
	err := netio.WriteFrame(conn, payload)
	if !stop() {
		// the deadline must be in place before it is cleared below
		<-interrupted
	}

	if err != nil {
		t.untrack(out.conn)
		out.conn.Close()
		out.conn = nil
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = fmt.Errorf("%w: %v", ctxErr, err)
		}
		if t.isClosed() {
			err = ErrClosed
		}
		return newError("send", peer, err)
	}
	out.conn.SetWriteDeadline(time.Time{})
	return nil
}

// Receive returns the next payload sent by peer
func (t *TCPTransport) Receive(ctx context.Context, peer string) ([]byte, error) {
	payload, err := t.inbox.pop(ctx, peer)
	if err != nil {
		return nil, newError("receive", peer, err)
	}
	return payload, nil
}

// Close stops the listener, drops every connection and wakes pending receivers
func (t *TCPTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.closed)
		err = t.listener.Close()

		t.mu.Lock()
		// closing the sockets unblocks writers holding outConn.mu
		for conn := range t.dialed {
			conn.Close()
		}
		for conn := range t.inbound {
			conn.Close()
		}
		t.mu.Unlock()

		t.inbox.close()
		t.wg.Wait()
		middleware.LogDebug("TCP Transport", "%s closed", t.config.Name)
	})
	return err
}

// track records a dialed connection so Close can drop it
func (t *TCPTransport) track(conn net.Conn) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.isClosed() {
		conn.Close()
		return false
	}
	t.dialed[conn] = struct{}{}
	return true
}

func (t *TCPTransport) untrack(conn net.Conn) {
	t.mu.Lock()
	delete(t.dialed, conn)
	t.mu.Unlock()
}

func (t *TCPTransport) isClosed() bool {
	select {
	case <-t.closed:
		return true
	default:
		return false
	}
}

func (t *TCPTransport) dial(ctx context.Context, peer, address string) (net.Conn, error) {
	var lastErr error
	for attempt := 1; attempt <= t.config.DialRetries; attempt++ {
		conn, err := t.dialOnce(ctx, address)
		if err == nil {
			if err = netio.WriteFrame(conn, []byte(t.config.Name)); err == nil {
				middleware.LogDebug("TCP Transport", "%s connected to %s at %s", t.config.Name, peer, address)
				return conn, nil
			}
			conn.Close()
		}
		lastErr = err
		middleware.LogDebug("TCP Transport", "dial %s at %s failed (attempt %d/%d): %v",
			peer, address, attempt, t.config.DialRetries, err)

		if attempt == t.config.DialRetries {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-t.closed:
			return nil, ErrClosed
		case <-time.After(t.config.DialInterval):
		}
	}
	return nil, fmt.Errorf("giving up after %d attempts: %w", t.config.DialRetries, lastErr)
}

func (t *TCPTransport) dialOnce(ctx context.Context, address string) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: 5 * time.Second}
	if t.config.TLS == nil {
		return dialer.DialContext(ctx, "tcp", address)
	}

	cfg := t.config.TLS.Clone()
	if cfg.ServerName == "" {
		host, _, err := net.SplitHostPort(address)
		if err != nil {
			return nil, err
		}
		cfg.ServerName = host
	}
	tlsDialer := &tls.Dialer{NetDialer: dialer, Config: cfg}
	return tlsDialer.DialContext(ctx, "tcp", address)
}

func (t *TCPTransport) acceptLoop() {
	defer t.wg.Done()
	for {
		conn, err := t.listener.Accept()
		if err != nil {
			if t.isClosed() || errors.Is(err, net.ErrClosed) {
				return
			}
			middleware.LogWarn("TCP Transport", "accept failed: %v", err)
			continue
		}

		t.mu.Lock()
		if t.isClosed() {
			t.mu.Unlock()
			conn.Close()
			return
		}
		t.inbound[conn] = ""
		t.wg.Add(1)
		t.mu.Unlock()

		go t.readLoop(conn)
	}
}

func (t *TCPTransport) readLoop(conn net.Conn) {
	defer t.wg.Done()
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(helloTimeout))
	hello, err := netio.ReadFrame(conn)
	if err != nil || len(hello) == 0 {
		middleware.LogWarn("TCP Transport", "dropping connection from %s without hello: %v", conn.RemoteAddr(), err)
		t.forget(conn, "")
		return
	}
	conn.SetReadDeadline(time.Time{})
	peer := string(hello)
	if err := verifyPeerName(conn, peer); err != nil {
		middleware.LogWarn("TCP Transport", "dropping connection from %s: %v", conn.RemoteAddr(), err)
		t.forget(conn, "")
		return
	}

	t.mu.Lock()
	t.inbound[conn] = peer
	t.active[peer]++
	t.mu.Unlock()
	t.inbox.connected(peer)

	for {
		payload, err := netio.ReadFrame(conn)
		if err != nil {
			if !t.isClosed() {
				middleware.LogDebug("TCP Transport", "connection from %s ended: %v", peer, err)
			}
			break
		}
		t.inbox.push(peer, payload)
	}
	t.forget(conn, peer)
}

func (t *TCPTransport) forget(conn net.Conn, peer string) {
	t.mu.Lock()
	delete(t.inbound, conn)
	remaining := 0
	if peer != "" {
		t.active[peer]--
		remaining = t.active[peer]
	}
	t.mu.Unlock()

	if peer != "" && remaining == 0 {
		t.inbox.disconnected(peer)
	}
}

// verifyPeerName checks that a TLS client presented a certificate issued to the name it claims
func verifyPeerName(conn net.Conn, peer string) error {
	tlsConn, ok := conn.(*tls.Conn)
	if !ok {
		return nil
	}
	certs := tlsConn.ConnectionState().PeerCertificates
	if len(certs) == 0 {
		return fmt.Errorf("no client certificate for %q", peer)
	}
	leaf := certs[0]
	if leaf.Subject.CommonName == peer || slices.Contains(leaf.DNSNames, peer) {
		return nil
	}
	return fmt.Errorf("certificate for %q does not match claimed name %q", leaf.Subject.CommonName, peer)
}
