// Package diskv implements a tenant engine storage backend using the diskv key-value store.
package diskv

import (
	"path/filepath"

	"github.com/micromdm/nanotenant/engine/storage/kv"
	"github.com/micromdm/nanotenant/utils/kv/kvdiskv"
)

// Diskv is a diskv-backed tenant engine storage backend.
// The checkpoint, completed workflow archives and failed requests
// are kept in separate directories below path.
type Diskv struct {
	*kv.KV
}

func New(path string) *Diskv {
	return &Diskv{KV: kv.New(
		kvdiskv.New(filepath.Join(path, "checkpoint")),
		kvdiskv.New(filepath.Join(path, "archive")),
		kvdiskv.New(filepath.Join(path, "failed")),
	)}
}
