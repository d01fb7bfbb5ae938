// Package kv defines the key-value bucket interfaces storage backends are built on.
package kv

import (
	"context"
	"errors"
)

// ErrKeyNotFound is returned by buckets when getting a missing key.
var ErrKeyNotFound = errors.New("key not found")

// Bucket stores byte values by key in a single namespace.
type Bucket interface {
	Get(ctx context.Context, k string) (v []byte, err error)
	Set(ctx context.Context, k string, v []byte) error
	Has(ctx context.Context, k string) (found bool, err error)
	Delete(ctx context.Context, k string) error
}

// TraversingBucket can also list its keys.
type TraversingBucket interface {
	Bucket
	// Keys returns the unordered keys in the bucket.
	// Keys stops sending when cancel is closed.
	Keys(cancel <-chan struct{}) <-chan string
}

// AllKeys collects the keys of b.
// Collection stops early, with the keys read so far, when ctx is done.
func AllKeys(ctx context.Context, b TraversingBucket) []string {
	cancel := make(chan struct{})
	defer close(cancel)
	var keys []string
	ch := b.Keys(cancel)
	for {
		select {
		case k, ok := <-ch:
			if !ok {
				return keys
			}
			keys = append(keys, k)
		case <-ctx.Done():
			return keys
		}
	}
}
