// Package test runs a shared test suite against tenant engine storage backends.
package test

import (
	"bytes"
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/micromdm/nanotenant/engine/storage"
	"github.com/micromdm/nanotenant/payload"
	"github.com/micromdm/nanotenant/workflow"
)

// testCheckpoint returns a checkpoint with a single and a fan-out record,
// queue entries and a stalled submission.
func testCheckpoint(t *testing.T) *storage.Checkpoint {
	t.Helper()
	i := workflow.NewInstance("root-1", payload.MustParse(`{
		"request": {
			"quantity": "degradationEOL",
			"methods": ["degradation_workflow"],
			"parameters": {"degradation_workflow": {"batch_volume": 8.0, "note": "x<y"}}
		},
		"uuid": "root-1",
		"ctime": "2024-05-01T10:00:00"
	}`))
	if err := i.AddRecord(&workflow.Record{
		Name:      "electrolyte",
		RequestID: "req-e",
		Request:   payload.MustParse(`{"quantity":"electrolyte","methods":["flow"]}`),
		Result:    payload.MustParse(`{"result":{"data":{"run_info":{"a":1e3}}}}`),
	}); err != nil {
		t.Fatal(err)
	}
	capacity := i.EnsureRecord("capacity", true)
	capacity.AddSample("req-c1", payload.MustParse(`{"quantity":"capacity"}`))
	capacity.AddSample("req-c2", payload.MustParse(`{"quantity":"capacity"}`)).Result = payload.MustParse(`{"result":{}}`)

	return &storage.Checkpoint{
		Created:   time.Date(2024, 5, 1, 10, 0, 0, 123456789, time.UTC),
		Instances: []*workflow.Instance{i},
		Queue: workflow.Queue{
			{RequestID: "req-c1", Owner: "root-1"},
			{RequestID: "req-d2", Owner: "root-1"},
		},
		Stalled: []workflow.Stalled{{
			InstanceID: "root-1",
			Step:       workflow.Step{Quantity: "degradationEOL", Method: "degradation_model"},
			Sample:     "req-c2",
			BatchIndex: workflow.AllSamples,
		}},
	}
}

// TestEngineStorage runs the storage test suite against backends
// created by newStorage.
func TestEngineStorage(t *testing.T, newStorage func() storage.AllStorage) {
	t.Run("testCheckpoint", func(t *testing.T) {
		testCheckpointStorage(t, newStorage())
	})

	t.Run("testArchive", func(t *testing.T) {
		testArchiveStorage(t, newStorage())
	})
}

func testCheckpointStorage(t *testing.T, s storage.AllStorage) {
	ctx := context.Background()

	c, err := s.RetrieveCheckpoint(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if c != nil {
		// shared backends may carry a checkpoint from an earlier run
		t.Log("existing checkpoint found")
	}

	want := testCheckpoint(t)
	if err = s.StoreCheckpoint(ctx, want); err != nil {
		t.Fatal(err)
	}

	have, err := s.RetrieveCheckpoint(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if have == nil {
		t.Fatal("nil checkpoint")
	}
	if !have.Created.Equal(want.Created) {
		t.Errorf("created: have: %v, want: %v", have.Created, want.Created)
	}
	if !reflect.DeepEqual(have.Queue, want.Queue) {
		t.Errorf("queue: have: %v, want: %v", have.Queue, want.Queue)
	}
	if !reflect.DeepEqual(have.Stalled, want.Stalled) {
		t.Errorf("stalled: have: %v, want: %v", have.Stalled, want.Stalled)
	}
	haveB, err := storage.Marshal(have)
	if err != nil {
		t.Fatal(err)
	}
	wantB, err := storage.Marshal(want)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(haveB, wantB) {
		t.Errorf("have: %s, want: %s", haveB, wantB)
	}

	// replace with an empty checkpoint
	empty := &storage.Checkpoint{Created: want.Created.Add(time.Second)}
	if err = s.StoreCheckpoint(ctx, empty); err != nil {
		t.Fatal(err)
	}
	if have, err = s.RetrieveCheckpoint(ctx); err != nil {
		t.Fatal(err)
	}
	if have == nil || len(have.Instances) != 0 || len(have.Queue) != 0 {
		t.Errorf("expected empty checkpoint, have: %v", have)
	}

	invalid := &storage.Checkpoint{Queue: workflow.Queue{{RequestID: "x"}}}
	if err = s.StoreCheckpoint(ctx, invalid); !errors.Is(err, storage.ErrInvalidCheckpoint) {
		t.Errorf("have: %v, want: %v", err, storage.ErrInvalidCheckpoint)
	}
}

func contains(s []string, v string) bool {
	for _, i := range s {
		if i == v {
			return true
		}
	}
	return false
}

func testArchiveStorage(t *testing.T, s storage.AllStorage) {
	ctx := context.Background()

	docs := []struct {
		kind storage.Kind
		name string
		doc  []byte
	}{
		{storage.WorkflowArchive, "2024-05-01_root-2.json", []byte(`{"request":"root-2"}`)},
		{storage.WorkflowArchive, "2024-05-01_root-1.json", []byte(`{"request":"root-1"}`)},
		{storage.FailedArchive, "2024-05-01T10-00-00.000000000_capacity.json", []byte(`{"quantity":"capacity"}`)},
	}
	for _, d := range docs {
		if err := s.StoreArchive(ctx, d.kind, d.name, d.doc); err != nil {
			t.Fatal(err)
		}
	}
	for _, d := range docs {
		have, err := s.RetrieveArchive(ctx, d.kind, d.name)
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(have, d.doc) {
			t.Errorf("have: %s, want: %s", have, d.doc)
		}
	}

	names, err := s.ListArchives(ctx, storage.WorkflowArchive)
	if err != nil {
		t.Fatal(err)
	}
	if !contains(names, docs[0].name) || !contains(names, docs[1].name) {
		t.Errorf("missing workflow archives: %v", names)
	}
	if contains(names, docs[2].name) {
		t.Errorf("failed request listed as workflow archive: %v", names)
	}
	for i := 1; i < len(names); i++ {
		if names[i-1] > names[i] {
			t.Errorf("names not sorted: %v", names)
			break
		}
	}

	if _, err = s.RetrieveArchive(ctx, storage.FailedArchive, docs[0].name); !errors.Is(err, storage.ErrArchiveNotFound) {
		t.Errorf("have: %v, want: %v", err, storage.ErrArchiveNotFound)
	}
	if err = s.StoreArchive(ctx, storage.Kind("bogus"), "x", nil); !errors.Is(err, storage.ErrUnknownKind) {
		t.Errorf("have: %v, want: %v", err, storage.ErrUnknownKind)
	}
	if err = s.StoreArchive(ctx, storage.WorkflowArchive, "", nil); !errors.Is(err, storage.ErrEmptyArchiveName) {
		t.Errorf("have: %v, want: %v", err, storage.ErrEmptyArchiveName)
	}
	if err = s.StoreArchive(ctx, storage.WorkflowArchive, "../x.json", nil); !errors.Is(err, storage.ErrInvalidName) {
		t.Errorf("have: %v, want: %v", err, storage.ErrInvalidName)
	}

	// overwrite
	replaced := []byte(`{"request":"root-1","result":"res"}`)
	if err = s.StoreArchive(ctx, storage.WorkflowArchive, docs[1].name, replaced); err != nil {
		t.Fatal(err)
	}
	have, err := s.RetrieveArchive(ctx, storage.WorkflowArchive, docs[1].name)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(have, replaced) {
		t.Errorf("have: %s, want: %s", have, replaced)
	}
}
