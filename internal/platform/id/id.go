// Package id generates opaque identifiers for executions, effects and
// spawned nodes.
package id

import (
	"encoding/base32"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

var encoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// NewID returns a random v4 UUID encoded as 26 lowercase base32 characters.
func NewID() (string, error) {
	value, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("generate id: %w", err)
	}
	return strings.ToLower(encoding.EncodeToString(value[:])), nil
}

// Generator returns a function that yields ids with prefix prepended,
// e.g. "exec_" + NewID().
func Generator(prefix string) func() (string, error) {
	return func() (string, error) {
		value, err := NewID()
		if err != nil {
			return "", err
		}
		return prefix + value, nil
	}
}
