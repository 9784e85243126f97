// Package random provides seed helpers for the mission-scoped RNG.
//
// Missions draw execution outcomes from a deterministic math/rand source;
// the seed is either persisted with the mission snapshot or generated once
// from crypto/rand when a mission is created without one.
package random

import (
	crand "crypto/rand"
	"encoding/binary"
	"fmt"
	"hash/fnv"
)

// NewSeed generates a random seed using crypto/rand.
func NewSeed() (int64, error) {
	var b [8]byte
	if _, err := crand.Read(b[:]); err != nil {
		return 0, fmt.Errorf("read random seed: %w", err)
	}

	return int64(binary.LittleEndian.Uint64(b[:])), nil
}

// SeedFromID derives a stable seed from a mission identifier, so a mission
// snapshot without a stored seed still replays the same outcome sequence.
func SeedFromID(id string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(id))
	return int64(h.Sum64())
}

// ResolveSeed returns stored when non-zero, otherwise falls back to a seed
// derived from id, and to a fresh crypto seed when id is empty.
func ResolveSeed(stored int64, id string) (int64, error) {
	if stored != 0 {
		return stored, nil
	}
	if id != "" {
		return SeedFromID(id), nil
	}
	return NewSeed()
}
