// Package entropy provides the single seedable random stream a simulation
// draws from. Every draw (initial societies, histories, genomes, pair
// selection) goes through one Source, so a run is fully reproducible from
// its seed and draw order.
package entropy

import (
	"crypto/rand"
	"encoding/binary"
	mrand "math/rand"

	"github.com/talgya/societies/internal/society"
)

// digits is the history alphabet, one character per society code.
const digits = "0123"

// Source is a deterministic random stream. Not safe for concurrent use; a
// simulation owns its Source exclusively.
type Source struct {
	seed int64
	rng  *mrand.Rand
}

// NewSource creates a stream seeded with seed.
func NewSource(seed int64) *Source {
	return &Source{
		seed: seed,
		rng:  mrand.New(mrand.NewSource(seed)),
	}
}

// Seed returns the seed the stream was created with.
func (s *Source) Seed() int64 {
	return s.seed
}

// Intn returns a uniform int in [0, n). Panics if n <= 0.
func (s *Source) Intn(n int) int {
	return s.rng.Intn(n)
}

// Society returns a uniformly chosen society.
func (s *Source) Society() society.Society {
	return society.All[s.rng.Intn(society.AlphabetSize)]
}

// Digit returns a uniformly chosen history digit.
func (s *Source) Digit() byte {
	return digits[s.rng.Intn(len(digits))]
}

// Pick returns a uniformly chosen element of items. Panics on an empty slice.
func Pick[T any](s *Source, items []T) T {
	return items[s.rng.Intn(len(items))]
}

// ResolveSeed returns seed unchanged, or a fresh crypto/rand seed when seed
// is zero. Zero is the "unset" value and is never used as a seed itself;
// callers log and store the resolved seed so unseeded runs can be replayed.
func ResolveSeed(seed int64) int64 {
	if seed != 0 {
		return seed
	}
	return CryptoSeed()
}

// CryptoSeed draws a non-zero seed from crypto/rand.
func CryptoSeed() int64 {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// This should never happen but return 1 as a safe default.
		return 1
	}
	// Clear the sign bit so seeds print as positive numbers.
	seed := int64(binary.LittleEndian.Uint64(buf[:]) >> 1)
	if seed == 0 {
		return 1
	}
	return seed
}
