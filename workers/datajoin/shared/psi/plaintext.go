package psi

import (
	"context"

	"github.com/gaoyang-zhang/mindspore-federated/protocol/psiround"
	"github.com/gaoyang-zhang/mindspore-federated/shared/middleware"
)

// Plaintext exchanges raw keys. It reveals every key to the peer and is meant for testing only.
type Plaintext struct {
	*channel
}

// Intersect sends the bucket's keys and keeps the local keys the peer also sent
func (p *Plaintext) Intersect(ctx context.Context, req Request) ([]string, error) {
	items := make([][]byte, len(req.Keys))
	for i, key := range req.Keys {
		items[i] = []byte(key)
	}

	peerItems, err := p.exchange(ctx, req.BucketID, psiround.StepKeys, items)
	if err != nil {
		return nil, err
	}

	peerKeys := make(map[string]struct{}, len(peerItems))
	for _, item := range peerItems {
		peerKeys[string(item)] = struct{}{}
	}

	result := make([]string, 0)
	for _, key := range req.Keys {
		if _, ok := peerKeys[key]; ok {
			result = append(result, key)
		}
	}

	middleware.LogDebug("PSI", "%s plaintext bucket %d: local=%d peer=%d intersection=%d",
		req.SelfRole, req.BucketID, len(req.Keys), len(peerItems), len(result))
	return result, nil
}
