// Package keyspace maps (worker, sequence) pairs onto cache keys.
//
// Keys have the form "<letter>-<worker:6>-<sequence:6>", for example
// "Q-000042-001337". Both numbers are zero-padded to a fixed width, which is
// what makes the mapping injective. The leading letter only spreads keys
// across prefixes; it plays no part in uniqueness.
package keyspace

import (
	"encoding/binary"
	"hash/fnv"
	"strconv"
)

// MaxID is the exclusive upper bound for worker IDs and sequence numbers.
const MaxID = 1_000_000

const width = 6

// Key returns the cache key for the given worker and sequence.
// Both values must be in [0, MaxID); this is not checked here.
func Key(workerID, sequence int) string {
	buf := make([]byte, 0, 2+width+1+width)
	buf = append(buf, Letter(workerID, sequence), '-')
	buf = appendPadded(buf, workerID)
	buf = append(buf, '-')
	buf = appendPadded(buf, sequence)
	return string(buf)
}

// Letter returns the prefix letter for a pair. It is derived from the pair so
// that reloading with the same parameters recomputes the same keys.
func Letter(workerID, sequence int) byte {
	h := fnv.New32a()
	var b [8]byte
	binary.BigEndian.PutUint32(b[:4], uint32(workerID))
	binary.BigEndian.PutUint32(b[4:], uint32(sequence))
	_, _ = h.Write(b[:])
	return byte('A' + h.Sum32()%26)
}

// Valid reports whether workers and records fit the fixed-width encoding.
func Valid(workers, records int) bool {
	return workers >= 0 && workers <= MaxID && records >= 0 && records <= MaxID
}

func appendPadded(buf []byte, v int) []byte {
	s := strconv.Itoa(v)
	for i := len(s); i < width; i++ {
		buf = append(buf, '0')
	}
	return append(buf, s...)
}
