package psi

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"fmt"

	"github.com/cloudflare/circl/group"

	"github.com/gaoyang-zhang/mindspore-federated/protocol/psiround"
	"github.com/gaoyang-zhang/mindspore-federated/shared/middleware"
)

const (
	hashToCurveDomain = "datajoin_psi_hash_to_element"
	// PointSize is the length of a compressed P-256 point
	PointSize = 33
	// DigestSize is the length of a doubly-blinded point digest on the wire
	DigestSize = 12
)

var curve = group.P256

// ECDH runs a Diffie-Hellman based intersection on P-256. Each side blinds
// hashed keys with a per-bucket secret scalar; only doubly-blinded values are compared.
type ECDH struct {
	*channel
	dst []byte
}

// Intersect runs both rounds for one bucket
func (e *ECDH) Intersect(ctx context.Context, req Request) ([]string, error) {
	secret := curve.RandomScalar(rand.Reader)

	// round 1: H(k)^a for every local key
	blinded := make([][]byte, len(req.Keys))
	err := parallelFor(len(req.Keys), req.ThreadNum, func(i int) error {
		point := curve.HashToElement([]byte(req.Keys[i]), e.dst)
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

	peerBlinded, err := e.exchange(ctx, req.BucketID, psiround.StepKeys, blinded)
	if err != nil {
		return nil, err
	}

	// round 2: (H(k')^b)^a for every peer point, in received order
	peerDigests := make([][]byte, len(peerBlinded))
	err = parallelFor(len(peerBlinded), req.ThreadNum, func(i int) error {
		point, err := decodePoint(peerBlinded[i])
		if err != nil {
			return fmt.Errorf("peer point %d: %w", i, err)
		}
		point.Mul(point, secret)
		peerDigests[i], err = digest(point)
		return err
	})
	if err != nil {
		return nil, &PSITransportError{BucketID: req.BucketID, Err: fmt.Errorf("%w: %v", ErrProtocol, err)}
	}

	ownDigests, err := e.exchange(ctx, req.BucketID, psiround.StepBlinded, peerDigests)
	if err != nil {
		return nil, err
	}
	if len(ownDigests) != len(req.Keys) {
		return nil, &PSITransportError{BucketID: req.BucketID, Err: fmt.Errorf(
			"%w: expected %d digests, got %d", ErrProtocol, len(req.Keys), len(ownDigests))}
	}

	peerSet := make(map[string]struct{}, len(peerDigests))
	for _, d := range peerDigests {
		peerSet[string(d)] = struct{}{}
	}

	result := make([]string, 0)
	for i, d := range ownDigests {
		if _, ok := peerSet[string(d)]; ok {
			result = append(result, req.Keys[i])
		}
	}

	middleware.LogDebug("PSI", "%s ecdh bucket %d: local=%d peer=%d intersection=%d",
		req.SelfRole, req.BucketID, len(req.Keys), len(peerBlinded), len(result))
	return result, nil
}

// decodePoint parses a compressed point and rejects the identity
func decodePoint(data []byte) (group.Element, error) {
	if len(data) != PointSize {
		return nil, fmt.Errorf("invalid point length %d", len(data))
	}
	point := curve.NewElement()
	if err := point.UnmarshalBinary(data); err != nil {
		return nil, err
	}
	if point.IsIdentity() {
		return nil, fmt.Errorf("identity point")
	}
	return point, nil
}

func digest(point group.Element) ([]byte, error) {
	data, err := point.MarshalBinaryCompress()
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256(data)
	return sum[:DigestSize], nil
}
