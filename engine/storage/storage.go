// Package storage defines types and primitives for tenant engine storage backends.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/micromdm/nanotenant/payload"
	"github.com/micromdm/nanotenant/workflow"
)

var (
	ErrInvalidCheckpoint = errors.New("invalid checkpoint")
	ErrEmptyArchiveName  = errors.New("empty archive name")
	ErrInvalidName       = errors.New("invalid archive name")
	ErrUnknownKind       = errors.New("unknown archive kind")
	ErrArchiveNotFound   = errors.New("archive not found")
)

// Checkpoint is a durable snapshot of the engine state.
type Checkpoint struct {
	Created   time.Time
	Queue     workflow.Queue
	Instances []*workflow.Instance // insertion order
	Stalled   []workflow.Stalled
}

// Validate checks c for missing values.
func (c *Checkpoint) Validate() error {
	if c == nil {
		return fmt.Errorf("%w: nil checkpoint", ErrInvalidCheckpoint)
	}
	for _, e := range c.Queue {
		if e.RequestID == "" || e.Owner == "" {
			return fmt.Errorf("%w: empty queue entry", ErrInvalidCheckpoint)
		}
	}
	for _, i := range c.Instances {
		if err := i.Validate(); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidCheckpoint, err)
		}
	}
	return nil
}

// Value encodes c as {creation_time, request_queue: [[id, owner], ...],
// resultobjects: {id: instance}, stalled_requests: [...]}.
func (c *Checkpoint) Value() payload.Value {
	queue := payload.Array()
	for _, e := range c.Queue {
		queue.Append(payload.Array(payload.String(e.RequestID), payload.String(e.Owner)))
	}
	instances := payload.Object()
	for _, i := range c.Instances {
		instances.Set(i.ID, i.Value())
	}
	stalled := payload.Array()
	for _, s := range c.Stalled {
		stalled.Append(s.Value())
	}
	return payload.Object(
		payload.Member{Key: "creation_time", Value: payload.String(c.Created.UTC().Format(time.RFC3339Nano))},
		payload.Member{Key: "request_queue", Value: queue},
		payload.Member{Key: "resultobjects", Value: instances},
		payload.Member{Key: "stalled_requests", Value: stalled},
	)
}

// Marshal encodes c as indented JSON.
func Marshal(c *Checkpoint) ([]byte, error) {
	return payload.MarshalIndent(c.Value())
}

// Unmarshal decodes a checkpoint encoded by Marshal.
func Unmarshal(b []byte) (*Checkpoint, error) {
	v, err := payload.Parse(b)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCheckpoint, err)
	}
	if !v.IsObject() {
		return nil, fmt.Errorf("%w: not an object", ErrInvalidCheckpoint)
	}
	c := new(Checkpoint)
	if ct, ok := v.Get("creation_time"); ok {
		s, _ := ct.Str()
		if c.Created, err = time.Parse(time.RFC3339Nano, s); err != nil {
			return nil, fmt.Errorf("%w: creation time: %w", ErrInvalidCheckpoint, err)
		}
	}
	queue, _ := v.Get("request_queue")
	for _, item := range queue.Items() {
		pair := item.Items()
		if len(pair) != 2 {
			return nil, fmt.Errorf("%w: queue entry %s", ErrInvalidCheckpoint, item)
		}
		id, _ := pair[0].Str()
		owner, _ := pair[1].Str()
		c.Queue = append(c.Queue, workflow.QueueEntry{RequestID: id, Owner: owner})
	}
	instances, _ := v.Get("resultobjects")
	for _, m := range instances.Members() {
		i, err := workflow.InstanceFromValue(m.Key, m.Value)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidCheckpoint, err)
		}
		c.Instances = append(c.Instances, i)
	}
	stalled, _ := v.Get("stalled_requests")
	for _, item := range stalled.Items() {
		s, err := workflow.StalledFromValue(item)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidCheckpoint, err)
		}
		c.Stalled = append(c.Stalled, s)
	}
	if err = c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// CheckpointStorage persists the engine checkpoint.
type CheckpointStorage interface {
	// RetrieveCheckpoint returns the last stored checkpoint.
	// A nil checkpoint and nil error are returned if none was stored.
	RetrieveCheckpoint(ctx context.Context) (*Checkpoint, error)

	// StoreCheckpoint replaces the stored checkpoint with c.
	StoreCheckpoint(ctx context.Context, c *Checkpoint) error
}

// Kind selects an archive.
type Kind string

const (
	// WorkflowArchive holds one document per completed instance.
	WorkflowArchive Kind = "workflow"

	// FailedArchive holds the payloads of failed submissions.
	FailedArchive Kind = "failed"
)

// Valid reports whether k is a known archive kind.
func (k Kind) Valid() bool {
	return k == WorkflowArchive || k == FailedArchive
}

// ArchiveStorage stores write-once JSON documents by name.
type ArchiveStorage interface {
	// StoreArchive stores doc under name, replacing any document of
	// the same name and kind.
	StoreArchive(ctx context.Context, kind Kind, name string, doc []byte) error

	// RetrieveArchive returns the document stored under name.
	// ErrArchiveNotFound is returned if none was stored.
	RetrieveArchive(ctx context.Context, kind Kind, name string) ([]byte, error)

	// ListArchives returns the sorted names of the documents of kind.
	ListArchives(ctx context.Context, kind Kind) ([]string, error)
}

// AllStorage is the storage needed by the engine.
type AllStorage interface {
	CheckpointStorage
	ArchiveStorage
}

// CheckArchiveArgs validates the common archive arguments.
func CheckArchiveArgs(kind Kind, name string) error {
	if !kind.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	if name == "" {
		return ErrEmptyArchiveName
	}
	if !ValidName(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// ValidName reports whether name is usable as a single path element.
func ValidName(name string) bool {
	return name != "" && name != "." && name != ".." && !strings.ContainsAny(name, `/\`)
}
