package psi

import (
	"crypto/rand"
	"encoding/binary"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gaoyang-zhang/mindspore-federated/protocol/psiround"
	"github.com/gaoyang-zhang/mindspore-federated/shared/transport"
	"github.com/gaoyang-zhang/mindspore-federated/workers/datajoin/shared/joinconfig"
)

func TestBloomFilterSizing(t *testing.T) {
	f := newBloomFilter(1000, FilterNegLogFPRate)
	assert.Equal(t, uint32(40), f.hashes)
	assert.Equal(t, uint64(58_000), f.length)
	assert.Len(t, f.bits, 7250)

	empty := newBloomFilter(0, FilterNegLogFPRate)
	assert.Equal(t, uint64(minFilterBits), empty.length)
	assert.False(t, empty.contains([]byte("anything")))
}

func TestBloomFilterMembership(t *testing.T) {
	f := newBloomFilter(1000, FilterNegLogFPRate)
	for i := 0; i < 1000; i++ {
		f.add([]byte("member-" + strconv.Itoa(i)))
	}

	for i := 0; i < 1000; i++ {
		assert.True(t, f.contains([]byte("member-"+strconv.Itoa(i))), "member %d", i)
	}

	// at 2^-40 not a single outsider should get through
	hits := 0
	for i := 0; i < 100_000; i++ {
		if f.contains([]byte("outsider-" + strconv.Itoa(i))) {
			hits++
		}
	}
	assert.Zero(t, hits)
}

func TestUnmarshalBloomFilter(t *testing.T) {
	f := newBloomFilter(10, FilterNegLogFPRate)
	f.add([]byte("k"))

	got, err := unmarshalBloomFilter(f.marshal())
	require.NoError(t, err)
	assert.True(t, got.contains([]byte("k")))
	assert.False(t, got.contains([]byte("other")))

	valid := f.marshal()
	zeroHashes := append([]byte(nil), valid...)
	binary.BigEndian.PutUint32(zeroHashes, 0)
	tests := map[string][]byte{
		"short header":     valid[:filterHeaderSize-1],
		"zero hashes":      zeroHashes,
		"truncated bits":   valid[:len(valid)-1],
		"trailing garbage": append(append([]byte(nil), valid...), 0),
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := unmarshalBloomFilter(data)
			assert.Error(t, err)
		})
	}
}

func receiveRound(t *testing.T, tr transport.Transport, peer string, bucketID, step int) [][]byte {
	data, err := tr.Receive(testContext(t), peer)
	require.NoError(t, err)
	msg, err := psiround.DeserializeRoundMessage(data)
	require.NoError(t, err)
	require.Equal(t, bucketID, msg.BucketID)
	require.Equal(t, step, msg.Step)
	return msg.Items
}

func TestFilterECDHDropsUnconfirmedCandidates(t *testing.T) {
	p := newPair(t, joinconfig.PSIAlgorithmFilterECDH, testSession, testSession)
	ctx := testContext(t)

	done := make(chan outcome, 1)
	go func() {
		keys, err := p.leader.Intersect(ctx, Request{
			Keys: []string{"a", "b", "c"}, SelfRole: joinconfig.RoleLeader, BucketID: 0, ThreadNum: 1,
		})
		done <- outcome{keys, err}
	}()

	// a saturated filter claims every key the leader holds
	saturated := newBloomFilter(1, FilterNegLogFPRate)
	for i := range saturated.bits {
		saturated.bits[i] = 0xff
	}
	sendRound(t, p.b, "leader", 0, psiround.StepKeys, [][]byte{saturated.marshal()})

	points := receiveRound(t, p.b, "leader", 0, psiround.StepKeys)
	require.Len(t, points, 3)
	secret := curve.RandomScalar(rand.Reader)
	raised := make([][]byte, len(points))
	for i, data := range points {
		point, err := decodePoint(data)
		require.NoError(t, err)
		point.Mul(point, secret)
		raised[i], err = point.MarshalBinaryCompress()
		require.NoError(t, err)
	}
	sendRound(t, p.b, "leader", 0, psiround.StepBlinded, raised)

	candidates := receiveRound(t, p.b, "leader", 0, psiround.StepResult)
	assert.Equal(t, [][]byte{[]byte("a"), []byte("b"), []byte("c")}, candidates)
	sendRound(t, p.b, "leader", 0, psiround.StepConfirm, [][]byte{[]byte("c"), []byte("a")})

	leader := <-done
	require.NoError(t, leader.err)
	assert.Equal(t, []string{"a", "c"}, leader.keys)
}

func TestFilterECDHRejectsMalformedFilter(t *testing.T) {
	p := newPair(t, joinconfig.PSIAlgorithmFilterECDH, testSession, testSession)

	sendRound(t, p.b, "leader", 0, psiround.StepKeys, [][]byte{{1, 2, 3}})

	_, err := p.leader.Intersect(testContext(t), Request{
		Keys: []string{"k"}, SelfRole: joinconfig.RoleLeader, BucketID: 0,
	})
	var psiErr *PSITransportError
	require.ErrorAs(t, err, &psiErr)
	assert.Equal(t, 0, psiErr.BucketID)
	assert.ErrorIs(t, err, ErrProtocol)
}

func TestFilterECDHRejectsShortAnswer(t *testing.T) {
	p := newPair(t, joinconfig.PSIAlgorithmFilterECDH, testSession, testSession)

	sendRound(t, p.b, "leader", 0, psiround.StepKeys, [][]byte{newBloomFilter(1, FilterNegLogFPRate).marshal()})
	sendRound(t, p.b, "leader", 0, psiround.StepBlinded, nil)

	_, err := p.leader.Intersect(testContext(t), Request{
		Keys: []string{"k1", "k2"}, SelfRole: joinconfig.RoleLeader, BucketID: 0,
	})
	assert.ErrorIs(t, err, ErrProtocol)
}
