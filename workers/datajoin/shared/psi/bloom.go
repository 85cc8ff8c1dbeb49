package psi

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/spaolacci/murmur3"
)

// FilterNegLogFPRate is -log2 of the false positive rate of a bloomFilter
const FilterNegLogFPRate = 40

const (
	filterHeaderSize = 4 + 8
	minFilterBits    = 64
)

// bloomFilter is a bit array with hashes positions set per item.
// Positions come from double hashing the two halves of a 128-bit murmur3 sum.
type bloomFilter struct {
	bits   []byte
	length uint64
	hashes uint32
}

// newBloomFilter sizes a filter for n items at a false positive rate of 2^-negLogFPRate
func newBloomFilter(n, negLogFPRate int) *bloomFilter {
	bitsPerItem := uint64(float64(negLogFPRate)/math.Ln2) + 1
	length := max(uint64(n)*bitsPerItem, minFilterBits)
	return &bloomFilter{
		bits:   make([]byte, (length+7)/8),
		length: length,
		hashes: uint32(negLogFPRate),
	}
}

func (f *bloomFilter) add(item []byte) {
	h1, h2 := murmur3.Sum128(item)
	for i := uint64(0); i < uint64(f.hashes); i++ {
		pos := (h1 + i*h2) % f.length
		f.bits[pos/8] |= 1 << (pos % 8)
	}
}

func (f *bloomFilter) contains(item []byte) bool {
	h1, h2 := murmur3.Sum128(item)
	for i := uint64(0); i < uint64(f.hashes); i++ {
		pos := (h1 + i*h2) % f.length
		if f.bits[pos/8]&(1<<(pos%8)) == 0 {
			return false
		}
	}
	return true
}

// marshal lays out hash count, bit length and the bit array, big-endian
func (f *bloomFilter) marshal() []byte {
	data := make([]byte, filterHeaderSize, filterHeaderSize+len(f.bits))
	binary.BigEndian.PutUint32(data, f.hashes)
	binary.BigEndian.PutUint64(data[4:], f.length)
	return append(data, f.bits...)
}

func unmarshalBloomFilter(data []byte) (*bloomFilter, error) {
	if len(data) < filterHeaderSize {
		return nil, fmt.Errorf("filter too short: %d bytes", len(data))
	}
	hashes := binary.BigEndian.Uint32(data)
	length := binary.BigEndian.Uint64(data[4:])
	bits := data[filterHeaderSize:]
	if hashes == 0 || hashes > 64 {
		return nil, fmt.Errorf("invalid filter hash count %d", hashes)
	}
	if length < minFilterBits || uint64(len(bits)) != (length+7)/8 {
		return nil, fmt.Errorf("filter length %d bits does not match %d bytes", length, len(bits))
	}
	return &bloomFilter{bits: bits, length: length, hashes: hashes}, nil
}
