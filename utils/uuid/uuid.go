// Package uuid generates request and instance identifiers.
package uuid

import (
	"strconv"
	"sync"

	"github.com/google/uuid"
)

// IDer generates identifiers.
type IDer interface {
	ID() string
}

// UUID generates random (version 4) UUID strings.
type UUID struct{}

// NewUUID creates a new UUID generator.
func NewUUID() *UUID {
	return &UUID{}
}

// ID returns a new random UUID.
func (u *UUID) ID() string {
	return uuid.NewString()
}

// Valid reports whether id parses as a UUID.
func Valid(id string) bool {
	return uuid.Validate(id) == nil
}

// Sequence generates prefixed, monotonically numbered IDs.
// It is safe for concurrent use.
type Sequence struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequence creates a generator returning prefix-1, prefix-2, ...
func NewSequence(prefix string) *Sequence {
	return &Sequence{prefix: prefix}
}

// ID returns the next ID in the sequence.
func (s *Sequence) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return s.prefix + "-" + strconv.Itoa(s.n)
}

// StaticIDs cycles through a fixed list of IDs.
type StaticIDs struct {
	ids []string
	i   int
}

// NewStaticIDs creates a generator cycling through ids.
func NewStaticIDs(ids ...string) *StaticIDs {
	return &StaticIDs{ids: ids}
}

// ID returns the next ID, wrapping around at the end of the list.
func (s *StaticIDs) ID() string {
	id := s.ids[s.i%len(s.ids)]
	s.i++
	return id
}
