// Package idgen provides pluggable ID generation for adsweep.
//
// Reports and pages get time-sortable UUIDv7 identifiers so that sink
// consumers can order them without trusting wall clocks.
package idgen

import (
	"fmt"

	"github.com/google/uuid"
)

// Generator produces unique string identifiers.
type Generator func() string

// UUIDv7 returns a Generator that produces RFC 9562 UUID v7 strings.
func UUIDv7() Generator {
	return func() string {
		return uuid.Must(uuid.NewV7()).String()
	}
}

// Prefixed wraps a Generator and prepends a fixed prefix to every ID.
func Prefixed(prefix string, gen Generator) Generator {
	return func() string {
		return prefix + gen()
	}
}

// Default is UUIDv7.
var Default Generator = UUIDv7()

// Report generates sweep report IDs.
var Report = Prefixed("rpt_", Default)

// Page generates IDs for pages declared without one.
var Page = Prefixed("pg_", Default)

// New produces an ID using the Default generator.
func New() string {
	return Default()
}

// Parse validates a UUID string (without prefix) and returns it normalised.
func Parse(s string) (string, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return "", fmt.Errorf("invalid UUID: %w", err)
	}
	return u.String(), nil
}
