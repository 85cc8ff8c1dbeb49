package transport

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// exchangeBothWays has both parties send before either receives
func exchangeBothWays(t *testing.T, a, b Transport, nameA, nameB string, payloadA, payloadB []byte) {
	ctx := testContext(t)

	var wg sync.WaitGroup
	var gotA, gotB []byte
	var errA, errB error
	wg.Add(2)
	go func() {
		defer wg.Done()
		if errA = a.Send(ctx, nameB, payloadA); errA == nil {
			gotA, errA = a.Receive(ctx, nameB)
		}
	}()
	go func() {
		defer wg.Done()
		if errB = b.Send(ctx, nameA, payloadB); errB == nil {
			gotB, errB = b.Receive(ctx, nameA)
		}
	}()
	wg.Wait()

	require.NoError(t, errA)
	require.NoError(t, errB)
	assert.True(t, bytes.Equal(payloadB, gotA), "leader received wrong payload")
	assert.True(t, bytes.Equal(payloadA, gotB), "follower received wrong payload")
}

func TestMemoryTransportOrdering(t *testing.T) {
	a, b := NewMemoryPair("leader", "follower")
	defer a.Close()
	defer b.Close()
	ctx := testContext(t)

	for i := 0; i < 5; i++ {
		require.NoError(t, a.Send(ctx, "follower", []byte{byte(i)}))
	}
	for i := 0; i < 5; i++ {
		got, err := b.Receive(ctx, "leader")
		require.NoError(t, err)
		assert.Equal(t, []byte{byte(i)}, got)
	}
}

func TestMemoryTransportSimultaneousSend(t *testing.T) {
	a, b := NewMemoryPair("leader", "follower")
	defer a.Close()
	defer b.Close()

	exchangeBothWays(t, a, b, "leader", "follower", []byte("from leader"), []byte("from follower"))
}

func TestMemoryTransportCopiesPayload(t *testing.T) {
	a, b := NewMemoryPair("leader", "follower")
	defer a.Close()
	defer b.Close()
	ctx := testContext(t)

	payload := []byte("abc")
	require.NoError(t, a.Send(ctx, "follower", payload))
	payload[0] = 'z'

	got, err := b.Receive(ctx, "leader")
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), got)
}

func TestMemoryTransportErrors(t *testing.T) {
	t.Run("unknown peer", func(t *testing.T) {
		a, b := NewMemoryPair("leader", "follower")
		defer a.Close()
		defer b.Close()

		err := a.Send(testContext(t), "nobody", []byte("x"))
		var transportErr *TransportError
		require.ErrorAs(t, err, &transportErr)
		assert.Equal(t, "nobody", transportErr.Peer)
		assert.Equal(t, "send", transportErr.Op)
	})

	t.Run("receive after close", func(t *testing.T) {
		a, b := NewMemoryPair("leader", "follower")
		defer b.Close()
		require.NoError(t, a.Close())

		_, err := a.Receive(testContext(t), "follower")
		assert.ErrorIs(t, err, ErrClosed)

		err = a.Send(testContext(t), "follower", []byte("x"))
		assert.ErrorIs(t, err, ErrClosed)
	})

	t.Run("close wakes pending receiver", func(t *testing.T) {
		a, b := NewMemoryPair("leader", "follower")
		defer b.Close()

		done := make(chan error, 1)
		go func() {
			_, err := a.Receive(testContext(t), "follower")
			done <- err
		}()
		time.Sleep(20 * time.Millisecond)
		require.NoError(t, a.Close())

		select {
		case err := <-done:
			assert.ErrorIs(t, err, ErrClosed)
		case <-time.After(2 * time.Second):
			t.Fatal("receive did not return after close")
		}
	})

	t.Run("peer close drains then fails", func(t *testing.T) {
		a, b := NewMemoryPair("leader", "follower")
		defer b.Close()
		ctx := testContext(t)

		require.NoError(t, a.Send(ctx, "follower", []byte("last")))
		require.NoError(t, a.Close())

		got, err := b.Receive(ctx, "leader")
		require.NoError(t, err)
		assert.Equal(t, []byte("last"), got)

		_, err = b.Receive(ctx, "leader")
		assert.ErrorIs(t, err, ErrPeerDisconnected)
	})

	t.Run("context cancelled", func(t *testing.T) {
		a, b := NewMemoryPair("leader", "follower")
		defer a.Close()
		defer b.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		_, err := a.Receive(ctx, "follower")
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

func newTCPPair(t *testing.T, leaderTLS, followerTLS *TCPConfig) (*TCPTransport, *TCPTransport) {
	leaderConfig := TCPConfig{Name: "leader", ListenAddress: "127.0.0.1:0", DialRetries: 3, DialInterval: 20 * time.Millisecond}
	followerConfig := TCPConfig{Name: "follower", ListenAddress: "127.0.0.1:0", DialRetries: 3, DialInterval: 20 * time.Millisecond}
	if leaderTLS != nil {
		leaderConfig.TLS = leaderTLS.TLS
	}
	if followerTLS != nil {
		followerConfig.TLS = followerTLS.TLS
	}

	leader, err := NewTCPTransport(leaderConfig)
	require.NoError(t, err)
	follower, err := NewTCPTransport(followerConfig)
	require.NoError(t, err)
	t.Cleanup(func() {
		leader.Close()
		follower.Close()
	})

	leader.AddPeer("follower", follower.Addr().String())
	follower.AddPeer("leader", leader.Addr().String())
	return leader, follower
}

func TestTCPTransportSimultaneousLargeSend(t *testing.T) {
	leader, follower := newTCPPair(t, nil, nil)

	payloadA := bytes.Repeat([]byte{0xA1}, 4<<20)
	payloadB := bytes.Repeat([]byte{0xB2}, 4<<20)
	exchangeBothWays(t, leader, follower, "leader", "follower", payloadA, payloadB)
}

func TestTCPTransportOrdering(t *testing.T) {
	leader, follower := newTCPPair(t, nil, nil)
	ctx := testContext(t)

	for i := 0; i < 20; i++ {
		require.NoError(t, leader.Send(ctx, "follower", []byte{byte(i)}))
	}
	for i := 0; i < 20; i++ {
		got, err := follower.Receive(ctx, "leader")
		require.NoError(t, err)
		assert.Equal(t, []byte{byte(i)}, got)
	}
}

func TestTCPTransportDialFailure(t *testing.T) {
	// grab a free port and release it so nothing is listening there
	reserved, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	deadAddr := reserved.Addr().String()
	reserved.Close()

	tr, err := NewTCPTransport(TCPConfig{
		Name:          "leader",
		ListenAddress: "127.0.0.1:0",
		Peers:         map[string]string{"follower": deadAddr},
		DialRetries:   2,
		DialInterval:  10 * time.Millisecond,
	})
	require.NoError(t, err)
	defer tr.Close()

	err = tr.Send(testContext(t), "follower", []byte("hello"))
	var transportErr *TransportError
	require.ErrorAs(t, err, &transportErr)
	assert.Equal(t, "dial", transportErr.Op)
	assert.Equal(t, "follower", transportErr.Peer)
}

func TestTCPTransportClose(t *testing.T) {
	leader, follower := newTCPPair(t, nil, nil)
	ctx := testContext(t)

	require.NoError(t, leader.Send(ctx, "follower", []byte("bye")))
	got, err := follower.Receive(ctx, "leader")
	require.NoError(t, err)
	assert.Equal(t, []byte("bye"), got)

	require.NoError(t, leader.Close())

	_, err = follower.Receive(ctx, "leader")
	assert.ErrorIs(t, err, ErrPeerDisconnected)

	_, err = leader.Receive(ctx, "follower")
	assert.ErrorIs(t, err, ErrClosed)

	err = leader.Send(ctx, "follower", []byte("x"))
	assert.ErrorIs(t, err, ErrClosed)
}

func TestTCPTransportMutualTLS(t *testing.T) {
	dir := t.TempDir()
	caCert, caKey := writeTestCA(t, dir)
	writeTestLeaf(t, dir, "leader", caCert, caKey)
	writeTestLeaf(t, dir, "follower", caCert, caKey)

	leaderTLS, err := LoadMutualTLSConfig(
		filepath.Join(dir, "leader.crt"), filepath.Join(dir, "leader.key"), filepath.Join(dir, "ca.crt"))
	require.NoError(t, err)
	followerTLS, err := LoadMutualTLSConfig(
		filepath.Join(dir, "follower.crt"), filepath.Join(dir, "follower.key"), filepath.Join(dir, "ca.crt"))
	require.NoError(t, err)

	leader, follower := newTCPPair(t, &TCPConfig{TLS: leaderTLS}, &TCPConfig{TLS: followerTLS})
	exchangeBothWays(t, leader, follower, "leader", "follower", []byte("secure leader"), []byte("secure follower"))
}

func TestTCPTransportRejectsImpersonation(t *testing.T) {
	dir := t.TempDir()
	caCert, caKey := writeTestCA(t, dir)
	writeTestLeaf(t, dir, "leader", caCert, caKey)
	writeTestLeaf(t, dir, "intruder", caCert, caKey)

	leaderTLS, err := LoadMutualTLSConfig(
		filepath.Join(dir, "leader.crt"), filepath.Join(dir, "leader.key"), filepath.Join(dir, "ca.crt"))
	require.NoError(t, err)
	intruderTLS, err := LoadMutualTLSConfig(
		filepath.Join(dir, "intruder.crt"), filepath.Join(dir, "intruder.key"), filepath.Join(dir, "ca.crt"))
	require.NoError(t, err)

	leader, err := NewTCPTransport(TCPConfig{Name: "leader", ListenAddress: "127.0.0.1:0", TLS: leaderTLS})
	require.NoError(t, err)
	defer leader.Close()

	// a valid certificate for "intruder" claiming to be the follower
	intruder, err := NewTCPTransport(TCPConfig{
		Name:          "follower",
		ListenAddress: "127.0.0.1:0",
		Peers:         map[string]string{"leader": leader.Addr().String()},
		TLS:           intruderTLS,
		DialRetries:   1,
	})
	require.NoError(t, err)
	defer intruder.Close()

	_ = intruder.Send(testContext(t), "leader", []byte("forged"))

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	_, err = leader.Receive(ctx, "follower")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestTCPTransportSendAfterCancelledWrite(t *testing.T) {
	leader, follower := newTCPPair(t, nil, nil)
	ctx := testContext(t)

	for i := 0; i < 200; i++ {
		sendCtx, cancel := context.WithCancel(ctx)
		go cancel()
		_ = leader.Send(sendCtx, "follower", []byte{byte(i)})

		// a cancellation racing the previous write must not leak into this one
		require.NoError(t, leader.Send(ctx, "follower", []byte("ok")), "round %d", i)
	}

	got, err := follower.Receive(ctx, "leader")
	require.NoError(t, err)
	assert.NotEmpty(t, got)
}

func TestLoadMutualTLSConfigErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadMutualTLSConfig(filepath.Join(dir, "missing.crt"), filepath.Join(dir, "missing.key"), filepath.Join(dir, "ca.crt"))
	assert.Error(t, err)

	caCert, caKey := writeTestCA(t, dir)
	writeTestLeaf(t, dir, "leader", caCert, caKey)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "empty.crt"), []byte("not a pem"), 0o600))

	_, err = LoadMutualTLSConfig(filepath.Join(dir, "leader.crt"), filepath.Join(dir, "leader.key"), filepath.Join(dir, "empty.crt"))
	assert.ErrorContains(t, err, "no certificates")
}

func TestQueueName(t *testing.T) {
	assert.Equal(t, "datajoin.follower.leader", QueueName("", "follower", "leader"))
	assert.Equal(t, "psi.leader.follower", QueueName("psi", "leader", "follower"))
}

func TestTransportErrorUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := newError("send", "follower", cause)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), `peer "follower"`)
}

func writeTestCA(t *testing.T, dir string) (*x509.Certificate, *ecdsa.PrivateKey) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	template := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "datajoin test CA"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		IsCA:                  true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	writePEM(t, filepath.Join(dir, "ca.crt"), "CERTIFICATE", der)
	return cert, key
}

func writeTestLeaf(t *testing.T, dir, name string, ca *x509.Certificate, caKey *ecdsa.PrivateKey) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	serial, err := rand.Int(rand.Reader, big.NewInt(1<<62))
	require.NoError(t, err)
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: name},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1")},
	}
	der, err := x509.CreateCertificate(rand.Reader, template, ca, &key.PublicKey, caKey)
	require.NoError(t, err)
	keyDER, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)

	writePEM(t, filepath.Join(dir, name+".crt"), "CERTIFICATE", der)
	writePEM(t, filepath.Join(dir, name+".key"), "EC PRIVATE KEY", keyDER)
}

func writePEM(t *testing.T, path, blockType string, der []byte) {
	data := pem.EncodeToMemory(&pem.Block{Type: blockType, Bytes: der})
	require.NoError(t, os.WriteFile(path, data, 0o600))
}
