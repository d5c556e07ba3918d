package cache

import (
	"strings"

	"github.com/jmgilman/go/errors"
)

// Policy decides what happens when a new key arrives at a full cache.
type Policy int

const (
	// EvictLRU removes the least recently used item to make room.
	EvictLRU Policy = iota
	// DeclineWhenFull keeps the existing items and drops the new key.
	DeclineWhenFull
)

func (p Policy) String() string {
	switch p {
	case EvictLRU:
		return "lru"
	case DeclineWhenFull:
		return "decline"
	default:
		return "unknown"
	}
}

// ParsePolicy returns the Policy named by s ("lru" or "decline"),
// ignoring case and surrounding space.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "lru":
		return EvictLRU, nil
	case "decline":
		return DeclineWhenFull, nil
	}
	return EvictLRU, errors.Newf(errors.CodeInvalidInput, "unknown eviction policy %q", s)
}
