package bucket

import (
	"github.com/spaolacci/murmur3"
)

// ID maps key to a bucket in [0, bucketNum). The 32-bit MurmurHash3 of the key
// is read as a signed integer and reduced with a non-negative modulo, so ids agree
// with mmh3-based peers.
func ID(key string, bucketNum int) int {
	if bucketNum <= 0 {
		panic("bucket: bucketNum must be positive")
	}
	hash := int64(int32(murmur3.Sum32([]byte(key))))
	id := hash % int64(bucketNum)
	if id < 0 {
		id += int64(bucketNum)
	}
	return int(id)
}

// Bucket partitions keys into bucketNum lists, keeping input order inside each bucket
func Bucket(keys []string, bucketNum int) [][]string {
	buckets := make([][]string, bucketNum)
	for _, key := range keys {
		id := ID(key, bucketNum)
		buckets[id] = append(buckets[id], key)
	}
	return buckets
}
