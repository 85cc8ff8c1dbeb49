package psi

import (
	"context"
	"crypto/rand"
	"fmt"

	"github.com/cloudflare/circl/group"

	"github.com/gaoyang-zhang/mindspore-federated/protocol/psiround"
	"github.com/gaoyang-zhang/mindspore-federated/shared/middleware"
	"github.com/gaoyang-zhang/mindspore-federated/workers/datajoin/shared/joinconfig"
)

// FilterECDH is the ECDH intersection where the follower ships a bloom filter
// of its blinded keys instead of the keys themselves. The leader unblinds the
// follower's answer with the inverse of its own secret and looks it up in the
// filter. The leader's candidates are then confirmed by the follower, so filter
// false positives never reach the result.
type FilterECDH struct {
	*channel
	dst []byte
}

// Intersect runs the leader or follower side depending on req.SelfRole
func (f *FilterECDH) Intersect(ctx context.Context, req Request) ([]string, error) {
	var (
		result []string
		err    error
	)
	if req.SelfRole == joinconfig.RoleLeader {
		result, err = f.evaluate(ctx, req)
	} else {
		result, err = f.hold(ctx, req)
	}
	if err != nil {
		return nil, err
	}

	middleware.LogDebug("PSI", "%s filter_ecdh bucket %d: local=%d intersection=%d",
		req.SelfRole, req.BucketID, len(req.Keys), len(result))
	return result, nil
}

func (f *FilterECDH) evaluate(ctx context.Context, req Request) ([]string, error) {
	secret := curve.RandomScalar(rand.Reader)

	blinded, err := f.blind(req, secret)
	if err != nil {
		return nil, err
	}
	if err := f.send(ctx, req.BucketID, psiround.StepKeys, blinded); err != nil {
		return nil, err
	}

	items, err := f.receive(ctx, req.BucketID, psiround.StepKeys)
	if err != nil {
		return nil, err
	}
	if len(items) != 1 {
		return nil, protocolError(req.BucketID, fmt.Errorf("expected one filter, got %d items", len(items)))
	}
	filter, err := unmarshalBloomFilter(items[0])
	if err != nil {
		return nil, protocolError(req.BucketID, err)
	}

	raised, err := f.receive(ctx, req.BucketID, psiround.StepBlinded)
	if err != nil {
		return nil, err
	}
	if len(raised) != len(req.Keys) {
		return nil, protocolError(req.BucketID, fmt.Errorf("expected %d points, got %d", len(req.Keys), len(raised)))
	}

	// H(k)^ab * a^-1 = H(k)^b, which is what the follower put in the filter
	inverse := curve.NewScalar()
	inverse.Inv(secret)
	hits := make([]bool, len(raised))
	err = parallelFor(len(raised), req.ThreadNum, func(i int) error {
		point, err := decodePoint(raised[i])
		if err != nil {
			return fmt.Errorf("peer point %d: %w", i, err)
		}
		point.Mul(point, inverse)
		data, err := point.MarshalBinaryCompress()
		if err != nil {
			return err
		}
		hits[i] = filter.contains(data)
		return nil
	})
	if err != nil {
		return nil, protocolError(req.BucketID, err)
	}

	candidates := make([][]byte, 0)
	for i, hit := range hits {
		if hit {
			candidates = append(candidates, []byte(req.Keys[i]))
		}
	}
	if err := f.send(ctx, req.BucketID, psiround.StepResult, candidates); err != nil {
		return nil, err
	}
	confirmed, err := f.receive(ctx, req.BucketID, psiround.StepConfirm)
	if err != nil {
		return nil, err
	}

	held := make(map[string]struct{}, len(confirmed))
	for _, key := range confirmed {
		held[string(key)] = struct{}{}
	}
	result := make([]string, 0, len(held))
	for _, key := range candidates {
		if _, ok := held[string(key)]; ok {
			result = append(result, string(key))
		}
	}
	if dropped := len(candidates) - len(result); dropped > 0 {
		middleware.LogDebug("PSI", "bucket %d: follower rejected %d filter false positives", req.BucketID, dropped)
	}
	return result, nil
}

func (f *FilterECDH) hold(ctx context.Context, req Request) ([]string, error) {
	secret := curve.RandomScalar(rand.Reader)

	blinded, err := f.blind(req, secret)
	if err != nil {
		return nil, err
	}
	filter := newBloomFilter(len(blinded), FilterNegLogFPRate)
	for _, point := range blinded {
		filter.add(point)
	}
	if err := f.send(ctx, req.BucketID, psiround.StepKeys, [][]byte{filter.marshal()}); err != nil {
		return nil, err
	}

	peerBlinded, err := f.receive(ctx, req.BucketID, psiround.StepKeys)
	if err != nil {
		return nil, err
	}
	raised := make([][]byte, len(peerBlinded))
	err = parallelFor(len(peerBlinded), req.ThreadNum, func(i int) error {
		point, err := decodePoint(peerBlinded[i])
		if err != nil {
			return fmt.Errorf("peer point %d: %w", i, err)
		}
		point.Mul(point, secret)
		raised[i], err = point.MarshalBinaryCompress()
		return err
	})
	if err != nil {
		return nil, protocolError(req.BucketID, err)
	}
	if err := f.send(ctx, req.BucketID, psiround.StepBlinded, raised); err != nil {
		return nil, err
	}

	candidates, err := f.receive(ctx, req.BucketID, psiround.StepResult)
	if err != nil {
		return nil, err
	}
	wanted := make(map[string]struct{}, len(candidates))
	for _, key := range candidates {
		wanted[string(key)] = struct{}{}
	}
	result := make([]string, 0, len(candidates))
	confirmed := make([][]byte, 0, len(candidates))
	for _, key := range req.Keys {
		if _, ok := wanted[key]; ok {
			result = append(result, key)
			confirmed = append(confirmed, []byte(key))
		}
	}
	if err := f.send(ctx, req.BucketID, psiround.StepConfirm, confirmed); err != nil {
		return nil, err
	}
	return result, nil
}

// blind returns H(k)^secret for every key, compressed
func (f *FilterECDH) blind(req Request, secret group.Scalar) ([][]byte, error) {
	blinded := make([][]byte, len(req.Keys))
	err := parallelFor(len(req.Keys), req.ThreadNum, func(i int) error {
		point := curve.HashToElement([]byte(req.Keys[i]), f.dst)
		point.Mul(point, secret)
		data, err := point.MarshalBinaryCompress()
		if err != nil {
			return err
		}
		blinded[i] = data
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("bucket %d: blinding keys: %w", req.BucketID, err)
	}
	return blinded, nil
}

func protocolError(bucketID int, err error) error {
	return &PSITransportError{BucketID: bucketID, Err: fmt.Errorf("%w: %v", ErrProtocol, err)}
}
