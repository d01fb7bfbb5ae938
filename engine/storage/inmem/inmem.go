// Package inmem implements a tenant engine storage backend using a map-based key-value store.
package inmem

import (
	"github.com/micromdm/nanotenant/engine/storage/kv"
	"github.com/micromdm/nanotenant/utils/kv/kvmap"
)

// InMem is an in-memory tenant engine storage backend.
// State is lost when the process exits.
type InMem struct {
	*kv.KV
}

func New() *InMem {
	return &InMem{KV: kv.New(
		kvmap.NewBucket(),
		kvmap.NewBucket(),
		kvmap.NewBucket(),
	)}
}
