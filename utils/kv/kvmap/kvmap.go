// Package kvmap implements an in-memory key-value bucket backed by a Go map.
package kvmap

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/micromdm/nanotenant/utils/kv"
)

// KVMap is an in-memory key-value bucket backed by a Go map.
type KVMap struct {
	mu sync.RWMutex
	m  map[string][]byte
}

// NewBucket creates an empty bucket.
func NewBucket() *KVMap {
	return &KVMap{m: make(map[string][]byte)}
}

// Get returns a copy of the value of k.
func (s *KVMap) Get(_ context.Context, k string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.m[k]
	if !ok {
		return nil, fmt.Errorf("%w: %s", kv.ErrKeyNotFound, k)
	}
	return append([]byte(nil), v...), nil
}

// Set stores a copy of v under k.
func (s *KVMap) Set(_ context.Context, k string, v []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[k] = append([]byte(nil), v...)
	return nil
}

func (s *KVMap) Has(_ context.Context, k string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.m[k]
	return ok, nil
}

func (s *KVMap) Delete(_ context.Context, k string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, k)
	return nil
}

// Keys sends a snapshot of the keys in sorted order.
// The snapshot is taken before sending so callers may write to the
// bucket while reading keys.
func (s *KVMap) Keys(cancel <-chan struct{}) <-chan string {
	s.mu.RLock()
	keys := make([]string, 0, len(s.m))
	for k := range s.m {
		keys = append(keys, k)
	}
	s.mu.RUnlock()
	sort.Strings(keys)

	r := make(chan string)
	go func() {
		defer close(r)
		for _, k := range keys {
			select {
			case <-cancel:
				return
			case r <- k:
			}
		}
	}()
	return r
}
