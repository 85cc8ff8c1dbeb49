package bucket

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeKeys(from, to int) []string {
	keys := make([]string, 0, to-from+1)
	for i := from; i <= to; i++ {
		keys = append(keys, strconv.Itoa(i))
	}
	return keys
}

func TestIDMatchesMmh3(t *testing.T) {
	// mmh3.hash("foo") == -156908512
	assert.Equal(t, 32, ID("foo", 64))
	assert.Equal(t, 0, ID("anything", 1))
}

func TestIDRange(t *testing.T) {
	for _, n := range []int{1, 2, 7, 64, 1000} {
		for _, key := range makeKeys(0, 500) {
			id := ID(key, n)
			assert.GreaterOrEqual(t, id, 0)
			assert.Less(t, id, n)
		}
	}
}

func TestBucketIsDeterministic(t *testing.T) {
	keys := makeKeys(1, 200)
	first := Bucket(keys, 8)
	second := Bucket(keys, 8)
	assert.Equal(t, first, second)
}

func TestBucketIsAnExactPartition(t *testing.T) {
	keys := makeKeys(1, 1000)
	buckets := Bucket(keys, 16)
	require.Len(t, buckets, 16)

	seen := make(map[string]int)
	total := 0
	for id, bucket := range buckets {
		for _, key := range bucket {
			seen[key]++
			assert.Equal(t, id, ID(key, 16))
		}
		total += len(bucket)
	}
	assert.Equal(t, len(keys), total)
	for _, key := range keys {
		assert.Equal(t, 1, seen[key], "key %s", key)
	}
}

func TestBucketKeepsInputOrder(t *testing.T) {
	keys := []string{"c", "a", "b", "a2", "z"}
	buckets := Bucket(keys, 1)
	require.Len(t, buckets, 1)
	assert.Equal(t, keys, buckets[0])
}

func TestBucketAgreementAcrossParties(t *testing.T) {
	leader := Bucket(makeKeys(1, 1000), 4)
	follower := Bucket(makeKeys(500, 1500), 4)

	for id := range leader {
		followerSet := make(map[string]bool)
		for _, key := range follower[id] {
			followerSet[key] = true
		}
		for _, key := range leader[id] {
			n, _ := strconv.Atoi(key)
			if n >= 500 {
				assert.True(t, followerSet[key], "shared key %s landed in different buckets", key)
			}
		}
	}
}

func TestBucketEmptyInput(t *testing.T) {
	buckets := Bucket(nil, 3)
	require.Len(t, buckets, 3)
	for _, bucket := range buckets {
		assert.Empty(t, bucket)
	}
}

func TestIDPanicsOnInvalidBucketNum(t *testing.T) {
	assert.Panics(t, func() { ID("key", 0) })
}
