// Package kvdiskv adapts diskv to the key-value bucket interface.
package kvdiskv

import (
	"context"
	"fmt"

	"github.com/micromdm/nanotenant/utils/kv"

	"github.com/peterbourgon/diskv/v3"
)

// KVDiskv is an on-disk key-value bucket.
type KVDiskv struct {
	diskv *diskv.Diskv
}

// NewBucket wraps dv.
func NewBucket(dv *diskv.Diskv) *KVDiskv {
	return &KVDiskv{diskv: dv}
}

// New creates a bucket storing one file per key directly in path.
func New(path string) *KVDiskv {
	return NewBucket(diskv.New(diskv.Options{
		BasePath:     path,
		Transform:    func(string) []string { return []string{} },
		CacheSizeMax: 1024 * 1024,
	}))
}

func (s *KVDiskv) Get(_ context.Context, k string) ([]byte, error) {
	if !s.diskv.Has(k) {
		return nil, fmt.Errorf("%w: %s", kv.ErrKeyNotFound, k)
	}
	return s.diskv.Read(k)
}

func (s *KVDiskv) Set(_ context.Context, k string, v []byte) error {
	return s.diskv.Write(k, v)
}

func (s *KVDiskv) Has(_ context.Context, k string) (bool, error) {
	return s.diskv.Has(k), nil
}

func (s *KVDiskv) Delete(_ context.Context, k string) error {
	return s.diskv.Erase(k)
}

func (s *KVDiskv) Keys(cancel <-chan struct{}) <-chan string {
	return s.diskv.Keys(cancel)
}
