package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/micromdm/nanotenant/engine/storage"
	"github.com/micromdm/nanotenant/engine/storage/inmem"
	"github.com/micromdm/nanotenant/payload"
	"github.com/micromdm/nanotenant/workflow"

	"github.com/alexedwards/flow"
	"github.com/micromdm/nanolib/log"
)

type testRegistration struct{}

func (testRegistration) RegistrationDocument() payload.Value {
	return payload.MustParse(`{"name":"tenant-1"}`)
}

func newTestServer(t *testing.T) (*inmem.InMem, *flow.Mux) {
	t.Helper()
	s := inmem.New()
	mux := flow.New()
	HandleAPIv1("/v1", mux, log.NopLogger, s, testRegistration{})
	return s, mux
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	r := httptest.NewRequest("GET", path, nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func storeTestCheckpoint(t *testing.T, s storage.CheckpointStorage) {
	t.Helper()
	a := workflow.NewInstance("root-a", payload.MustParse(`{"uuid":"root-a"}`))
	a.Steps = append(a.Steps, &workflow.Record{
		Name:      "cycling_channel",
		RequestID: "req-1",
		Request:   payload.MustParse(`{"quantity":"cycling_channel","methods":["cycler"]}`),
	})
	b := workflow.NewInstance("root-b", payload.MustParse(`{"uuid":"root-b"}`))
	c := &storage.Checkpoint{
		Created:   time.Date(2024, 5, 2, 8, 30, 0, 0, time.UTC),
		Queue:     workflow.Queue{{RequestID: "req-1", Owner: "root-a"}},
		Instances: []*workflow.Instance{a, b},
		Stalled:   []workflow.Stalled{{InstanceID: "root-b", Step: workflow.Step{Quantity: "electrolyte", Method: "formulation"}}},
	}
	if err := s.StoreCheckpoint(context.Background(), c); err != nil {
		t.Fatal(err)
	}
}

func TestNoCheckpoint(t *testing.T) {
	_, mux := newTestServer(t)
	for _, path := range []string{"/v1/checkpoint", "/v1/instances", "/v1/instances/root-a"} {
		if have, want := get(t, mux, path).Code, http.StatusNotFound; have != want {
			t.Errorf("%s: have: %v, want: %v", path, have, want)
		}
	}
}

func TestCheckpointHandlers(t *testing.T) {
	s, mux := newTestServer(t)
	storeTestCheckpoint(t, s)

	w := get(t, mux, "/v1/checkpoint")
	if have, want := w.Code, http.StatusOK; have != want {
		t.Fatalf("have: %v, want: %v", have, want)
	}
	c, err := storage.Unmarshal(w.Body.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	if have, want := len(c.Instances), 2; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}

	w = get(t, mux, "/v1/instances")
	if have, want := w.Code, http.StatusOK; have != want {
		t.Fatalf("have: %v, want: %v", have, want)
	}
	var summaries []InstanceSummary
	if err = json.Unmarshal(w.Body.Bytes(), &summaries); err != nil {
		t.Fatal(err)
	}
	if have, want := len(summaries), 2; have != want {
		t.Fatalf("have: %v, want: %v", have, want)
	}
	if have, want := summaries[0], (InstanceSummary{ID: "root-a", Steps: []string{"cycling_channel"}, Queued: 1}); have.ID != want.ID || have.Queued != want.Queued || len(have.Steps) != 1 || have.Steps[0] != want.Steps[0] {
		t.Errorf("have: %v, want: %v", have, want)
	}
	if have, want := summaries[1].Stalled, 1; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}

	w = get(t, mux, "/v1/instances/root-a")
	if have, want := w.Code, http.StatusOK; have != want {
		t.Fatalf("have: %v, want: %v", have, want)
	}
	v, err := payload.Parse(w.Body.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	if !v.Has("cycling_channel") {
		t.Errorf("missing step record: %s", v)
	}

	if have, want := get(t, mux, "/v1/instances/root-z").Code, http.StatusNotFound; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}
}

func TestArchiveHandlers(t *testing.T) {
	s, mux := newTestServer(t)
	ctx := context.Background()
	if err := s.StoreArchive(ctx, storage.FailedArchive, "b.json", []byte(`{"b":1}`)); err != nil {
		t.Fatal(err)
	}
	if err := s.StoreArchive(ctx, storage.FailedArchive, "a.json", []byte(`{"a":1}`)); err != nil {
		t.Fatal(err)
	}

	w := get(t, mux, "/v1/archives/failed")
	if have, want := w.Code, http.StatusOK; have != want {
		t.Fatalf("have: %v, want: %v", have, want)
	}
	var names []string
	if err := json.Unmarshal(w.Body.Bytes(), &names); err != nil {
		t.Fatal(err)
	}
	if len(names) != 2 || names[0] != "a.json" {
		t.Errorf("have: %v, want: [a.json b.json]", names)
	}

	w = get(t, mux, "/v1/archives/workflow")
	if have, want := w.Body.String(), "[]\n"; have != want {
		t.Errorf("have: %q, want: %q", have, want)
	}

	w = get(t, mux, "/v1/archives/failed/a.json")
	if have, want := w.Body.String(), `{"a":1}`; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}

	for path, code := range map[string]int{
		"/v1/archives/failed/c.json": http.StatusNotFound,
		"/v1/archives/bogus":         http.StatusBadRequest,
		"/v1/archives/bogus/a.json":  http.StatusBadRequest,
	} {
		if have, want := get(t, mux, path).Code, code; have != want {
			t.Errorf("%s: have: %v, want: %v", path, have, want)
		}
	}
}

func TestTenantHandler(t *testing.T) {
	_, mux := newTestServer(t)
	w := get(t, mux, "/v1/tenant")
	v, err := payload.Parse(w.Body.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	name, _ := v.Get("name")
	if have, want := name.String(), `"tenant-1"`; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}
}
