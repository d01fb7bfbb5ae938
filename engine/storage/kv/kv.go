// Package kv implements a tenant engine storage backend using a key-value interface.
package kv

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/micromdm/nanotenant/engine/storage"
	"github.com/micromdm/nanotenant/utils/kv"
)

// CheckpointKey is the key the checkpoint document is stored under.
const CheckpointKey = "tenant_info.json"

// KV is a tenant engine storage backend using a key-value interface.
type KV struct {
	mu              sync.RWMutex
	checkpointStore kv.Bucket
	archiveStores   map[storage.Kind]kv.TraversingBucket
}

// New creates a new key-value tenant engine storage backend.
func New(checkpointStore kv.Bucket, workflowStore kv.TraversingBucket, failedStore kv.TraversingBucket) *KV {
	return &KV{
		checkpointStore: checkpointStore,
		archiveStores: map[storage.Kind]kv.TraversingBucket{
			storage.WorkflowArchive: workflowStore,
			storage.FailedArchive:   failedStore,
		},
	}
}

// RetrieveCheckpoint implements the storage interface method.
func (s *KV) RetrieveCheckpoint(ctx context.Context) (*storage.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if ok, err := s.checkpointStore.Has(ctx, CheckpointKey); err != nil {
		return nil, fmt.Errorf("checking checkpoint: %w", err)
	} else if !ok {
		return nil, nil
	}
	b, err := s.checkpointStore.Get(ctx, CheckpointKey)
	if err != nil {
		return nil, fmt.Errorf("reading checkpoint: %w", err)
	}
	return storage.Unmarshal(b)
}

// StoreCheckpoint implements the storage interface method.
func (s *KV) StoreCheckpoint(ctx context.Context, c *storage.Checkpoint) error {
	if err := c.Validate(); err != nil {
		return err
	}
	b, err := storage.Marshal(c)
	if err != nil {
		return fmt.Errorf("encoding checkpoint: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.checkpointStore.Set(ctx, CheckpointKey, b)
}

// StoreArchive implements the storage interface method.
func (s *KV) StoreArchive(ctx context.Context, kind storage.Kind, name string, doc []byte) error {
	if err := storage.CheckArchiveArgs(kind, name); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.archiveStores[kind].Set(ctx, name, doc)
}

// RetrieveArchive implements the storage interface method.
func (s *KV) RetrieveArchive(ctx context.Context, kind storage.Kind, name string) ([]byte, error) {
	if err := storage.CheckArchiveArgs(kind, name); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	b := s.archiveStores[kind]
	if ok, err := b.Has(ctx, name); err != nil {
		return nil, err
	} else if !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrArchiveNotFound, name)
	}
	return b.Get(ctx, name)
}

// ListArchives implements the storage interface method.
func (s *KV) ListArchives(ctx context.Context, kind storage.Kind) ([]string, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: %q", storage.ErrUnknownKind, kind)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := kv.AllKeys(ctx, s.archiveStores[kind])
	sort.Strings(names)
	return names, nil
}
