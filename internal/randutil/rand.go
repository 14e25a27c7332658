// Package randutil centralises construction of the random sources used to shuffle decks.
package randutil

import (
	crand "crypto/rand"
	rand "math/rand/v2"
)

const goldenRatio64 = 0x9e3779b97f4a7c15

// New returns a *rand.Rand seeded deterministically from seed, so replays and
// tests that pin a seed see the same shuffles.
func New(seed int64) *rand.Rand {
	u := uint64(seed)
	return rand.New(rand.NewPCG(mix(u), mix(u+goldenRatio64)))
}

// NewSecure returns a ChaCha8 source keyed from the operating system's CSPRNG.
// Live tables shuffle with this; New is for tests and harness replays.
func NewSecure() *rand.Rand {
	var seed [32]byte
	if _, err := crand.Read(seed[:]); err != nil {
		panic("randutil: reading system entropy: " + err.Error())
	}
	return rand.New(rand.NewChaCha8(seed))
}

func mix(x uint64) uint64 {
	x ^= x >> 30
	x *= 0xbf58476d1ce4e5b9
	x ^= x >> 27
	x *= 0x94d049bb133111eb
	x ^= x >> 31
	return x
}
