package psi

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gaoyang-zhang/mindspore-federated/protocol/psiround"
	"github.com/gaoyang-zhang/mindspore-federated/shared/middleware"
	"github.com/gaoyang-zhang/mindspore-federated/shared/transport"
	"github.com/gaoyang-zhang/mindspore-federated/workers/datajoin/shared/joinconfig"
)

// Request describes one bucket's intersection
type Request struct {
	Keys      []string
	SelfRole  string
	PeerRole  string
	BucketID  int
	ThreadNum int
}

// Intersector computes the keys of a bucket that both parties hold
type Intersector interface {
	Intersect(ctx context.Context, req Request) ([]string, error)
}

// PSITransportError reports that a bucket's exchange failed and only that bucket was aborted
type PSITransportError struct {
	BucketID int
	Err      error
}

func (e *PSITransportError) Error() string {
	return fmt.Sprintf("psi bucket %d: %v", e.BucketID, e.Err)
}

func (e *PSITransportError) Unwrap() error {
	return e.Err
}

// ErrProtocol marks messages that do not fit the expected bucket and step
var ErrProtocol = errors.New("psi protocol violation")

// New returns the intersector for algorithm, talking to peer over t
func New(algorithm string, t transport.Transport, peer string, sessionID []byte) (Intersector, error) {
	ch := &channel{transport: t, peer: peer}
	switch algorithm {
	case joinconfig.PSIAlgorithmPlaintext:
		return &Plaintext{channel: ch}, nil
	case joinconfig.PSIAlgorithmECDH:
		if len(sessionID) == 0 {
			return nil, fmt.Errorf("ecdh psi requires a session id")
		}
		return &ECDH{channel: ch, dst: append([]byte(hashToCurveDomain), sessionID...)}, nil
	case joinconfig.PSIAlgorithmFilterECDH:
		if len(sessionID) == 0 {
			return nil, fmt.Errorf("filter ecdh psi requires a session id")
		}
		return &FilterECDH{channel: ch, dst: append([]byte(hashToCurveDomain), sessionID...)}, nil
	default:
		return nil, &joinconfig.ConfigValidationError{
			Field:  "psi_algorithm",
			Value:  algorithm,
			Reason: "not supported",
			Err:    &joinconfig.UnsupportedTypeError{Kind: "psi algorithm", Value: algorithm},
		}
	}
}

// channel sends and receives round messages for consecutive buckets.
// Messages for buckets already finished are dropped; messages for later
// buckets are held until that bucket runs.
type channel struct {
	transport transport.Transport
	peer      string

	mu      sync.Mutex
	pending []*psiround.RoundMessage
}

// exchange sends items for (bucketID, step) and returns the peer's items for the same round
func (c *channel) exchange(ctx context.Context, bucketID, step int, items [][]byte) ([][]byte, error) {
	if err := c.send(ctx, bucketID, step, items); err != nil {
		return nil, err
	}
	return c.receive(ctx, bucketID, step)
}

func (c *channel) send(ctx context.Context, bucketID, step int, items [][]byte) error {
	data, err := psiround.SerializeRoundMessage(psiround.NewRoundMessage(bucketID, step, items))
	if err != nil {
		return err
	}
	if err := c.transport.Send(ctx, c.peer, data); err != nil {
		return &PSITransportError{BucketID: bucketID, Err: err}
	}
	return nil
}

// receive returns the peer's items for (bucketID, step)
func (c *channel) receive(ctx context.Context, bucketID, step int) ([][]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for {
		msg, err := c.next(ctx, bucketID)
		if err != nil {
			return nil, err
		}

		switch {
		case msg.BucketID < bucketID:
			middleware.LogDebug("PSI", "Dropping stale message for bucket %d step %d while in bucket %d",
				msg.BucketID, msg.Step, bucketID)
			continue
		case msg.BucketID > bucketID:
			c.pending = append(c.pending, msg)
			return nil, &PSITransportError{BucketID: bucketID, Err: fmt.Errorf(
				"%w: peer is already at bucket %d", ErrProtocol, msg.BucketID)}
		case msg.Step != step:
			return nil, &PSITransportError{BucketID: bucketID, Err: fmt.Errorf(
				"%w: expected step %d, got %d", ErrProtocol, step, msg.Step)}
		}
		return msg.Items, nil
	}
}

func (c *channel) next(ctx context.Context, bucketID int) (*psiround.RoundMessage, error) {
	if len(c.pending) > 0 {
		msg := c.pending[0]
		c.pending = c.pending[1:]
		return msg, nil
	}

	data, err := c.transport.Receive(ctx, c.peer)
	if err != nil {
		return nil, &PSITransportError{BucketID: bucketID, Err: err}
	}
	msg, err := psiround.DeserializeRoundMessage(data)
	if err != nil {
		return nil, &PSITransportError{BucketID: bucketID, Err: fmt.Errorf("%w: %v", ErrProtocol, err)}
	}
	return msg, nil
}

// parallelFor runs fn for every index in [0, n) on at most threads goroutines
func parallelFor(n, threads int, fn func(i int) error) error {
	if threads < 1 {
		threads = 1
	}
	if threads > n {
		threads = n
	}

	indexes := make(chan int)
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	for range threads {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range indexes {
				if err := fn(i); err != nil {
					mu.Lock()
					if firstErr == nil {
						firstErr = err
					}
					mu.Unlock()
				}
			}
		}()
	}

	for i := 0; i < n; i++ {
		indexes <- i
	}
	close(indexes)
	wg.Wait()
	return firstErr
}
