// Package id generates request identifiers.
package id

import (
	"fmt"

	"github.com/google/uuid"
)

// Generator creates UUIDv7 request IDs, which sort by creation time in logs.
type Generator struct{}

// New returns a Generator.
func New() Generator {
	return Generator{}
}

// NewID returns a UUIDv7 string.
func (Generator) NewID() (string, error) {
	v, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid7: %w", err)
	}
	return v.String(), nil
}

// RequestID returns a UUIDv7, falling back to a random v4 when the v7
// generator cannot read its entropy source.
func (g Generator) RequestID() string {
	if v, err := g.NewID(); err == nil {
		return v
	}
	return uuid.NewString()
}
