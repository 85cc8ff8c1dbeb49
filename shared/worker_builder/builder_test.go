package worker_builder

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gaoyang-zhang/mindspore-federated/shared/transport"
)

func TestResourceTrackerCleansUpInReverseOrder(t *testing.T) {
	rt := NewResourceTracker()
	var order []string
	for _, name := range []string{"first", "second", "third"} {
		name := name
		rt.Register(ResourceTypeDirectory, name, name, func() error {
			order = append(order, name)
			return nil
		})
	}

	assert.Equal(t, "second", rt.Get(ResourceTypeDirectory, "second"))
	assert.Len(t, rt.GetAllByType(ResourceTypeDirectory), 3)

	require.NoError(t, rt.CleanupFromIndex(1))
	assert.Equal(t, []string{"third", "second"}, order)
	assert.Equal(t, 1, rt.GetLastIndex())

	require.NoError(t, rt.CleanupAll())
	assert.Equal(t, []string{"third", "second", "first"}, order)
	assert.Zero(t, rt.GetLastIndex())
}

func TestResourceTrackerContinuesAfterFailure(t *testing.T) {
	rt := NewResourceTracker()
	closed := false
	rt.Register(ResourceTypeTransport, "a", nil, func() error { closed = true; return nil })
	rt.Register(ResourceTypeTransport, "b", nil, func() error { return errors.New("boom") })

	err := rt.CleanupAll()
	assert.ErrorContains(t, err, "boom")
	assert.True(t, closed)
}

func TestBuildWithTCPTransportAndHealthServer(t *testing.T) {
	result, err := NewWorkerBuilder("leader").
		WithTCPTransport(transport.TCPConfig{Name: "leader", ListenAddress: "127.0.0.1:0"}).
		WithHealthServer("0", func() string { return "idle" }).
		Build()
	require.NoError(t, err)
	require.NotNil(t, result.Transport)
	require.NotNil(t, result.HealthServer)

	require.NoError(t, result.Close())

	_, err = result.Transport.Receive(t.Context(), "follower")
	assert.ErrorIs(t, err, transport.ErrClosed)
}

func TestBuildFailsWithoutTransport(t *testing.T) {
	wb := NewWorkerBuilder("leader").WithHealthServer("0", nil)
	_, err := wb.Build()
	assert.ErrorContains(t, err, "transport is required")
	assert.Zero(t, wb.GetResourceTracker().GetLastIndex())
}

func TestBuildReportsAccumulatedErrors(t *testing.T) {
	a, b := transport.NewMemoryPair("leader", "follower")
	defer b.Close()

	wb := NewWorkerBuilder("leader").
		WithTransport("memory", a).
		WithTCPTransport(transport.TCPConfig{Name: "leader", ListenAddress: "127.0.0.1:0"})
	assert.True(t, wb.HasErrors())

	_, err := wb.Build()
	assert.ErrorContains(t, err, "already configured")

	// the memory transport was closed by the cleanup
	assert.ErrorIs(t, a.Send(t.Context(), "follower", nil), transport.ErrClosed)
}
