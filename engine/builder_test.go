package engine

import (
	"context"
	"errors"
	"strings"
	"testing"

	cotest "github.com/micromdm/nanotenant/coordinator/test"
	"github.com/micromdm/nanotenant/defaults"
	"github.com/micromdm/nanotenant/engine/storage"
	"github.com/micromdm/nanotenant/engine/storage/inmem"
	"github.com/micromdm/nanotenant/payload"
	"github.com/micromdm/nanotenant/utils/uuid"
	"github.com/micromdm/nanotenant/workflow"
)

func newTestBuilder(t *testing.T) (*Builder, *cotest.Fake, *inmem.InMem) {
	t.Helper()
	p := testPipeline(t)
	fake := cotest.NewFake(uuid.NewSequence("req"))
	setTestTemplates(fake)
	s := inmem.New()
	b := NewBuilder(p, defaults.New(p.Defaults), fake, s, nil, "tenant-1")
	b.now = testClock
	return b, fake, s
}

func rootInstance(params string) *workflow.Instance {
	return workflow.NewInstance("root-1", payload.MustParse(`{
		"request": {
			"quantity": "degradationEOL",
			"methods": ["degradation_workflow"],
			"parameters": {"degradation_workflow": `+params+`}
		},
		"uuid": "root-1",
		"ctime": "2024-05-01T10:00:00"
	}`))
}

func resolution(res []Resolution, key string) (Resolution, bool) {
	for _, r := range res {
		if r.Key == key {
			return r, true
		}
	}
	return Resolution{}, false
}

func TestFillPrecedence(t *testing.T) {
	ws := payload.MustParse(`{
		"a": 1,
		"battery_chemistry": {"cathode": {"mass_loading": 10, "size": 2}},
		"cycling_protocol": "custom",
		"nest": {"inner": "n"},
		"obj": {"x": 5, "y": 6}
	}`)
	tmpl := payload.MustParse(`{
		"a": null,
		"capacity": null,
		"I_max": null,
		"cycling_protocol": null,
		"number_cycles": null,
		"inner": null,
		"obj": {"x": null},
		"sub": {"a": null, "nothing": null},
		"missing": null
	}`)
	d := defaults.New(payload.MustParse(`{"number_cycles": 200, "roundnumber": 5}`))
	f := &filler{defaults: d, ws: ws}
	f.fill(&tmpl, "")

	for _, test := range []struct {
		key     string
		outcome Outcome
		source  Source
	}{
		{"a", Resolved, FromExact},
		{"capacity", Resolved, FromComputed},
		{"I_max", Failed, FromComputed},
		{"cycling_protocol", Resolved, FromExact},
		{"number_cycles", Resolved, FromStatic},
		{"inner", Resolved, FromNested},
		{"obj", Resolved, FromExact},
		{"sub.a", Resolved, FromExact},
		{"sub.nothing", Skipped, ""},
		{"missing", Skipped, ""},
	} {
		r, ok := resolution(f.res, test.key)
		if !ok {
			t.Errorf("%s: no resolution", test.key)
			continue
		}
		if r.Outcome != test.outcome || r.Source != test.source {
			t.Errorf("%s: have: %v/%v, want: %v/%v", test.key, r.Outcome, r.Source, test.outcome, test.source)
		}
	}

	if have, want := tmpl.String(), `{"a":1,"capacity":0.002,"I_max":null,"cycling_protocol":"custom","number_cycles":200,"inner":"n","obj":{"x":5},"sub":{"a":1,"nothing":null},"missing":null}`; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}
	if have, want := strings.Join(missing(f.res), ","), "I_max,sub.nothing,missing"; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}
}

func TestAssignShapes(t *testing.T) {
	for _, test := range []struct {
		name string
		tmpl string
		src  string
		want string
	}{
		{"scalar", `null`, `3`, `3`},
		{"emptyobject", `{}`, `{"a":1,"b":2}`, `{"a":1,"b":2}`},
		{"samekeys", `{"b":null,"a":null}`, `{"a":1,"b":2}`, `{"a":1,"b":2}`},
		{"subkeys", `{"a":null,"c":"keep"}`, `{"a":1,"b":2}`, `{"a":1,"c":"keep"}`},
		{"objectlist", `{"items":[{"k":null}],"other":1}`, `[{"k":1},{"k":2}]`, `{"items":[{"k":1},{"k":2}],"other":1}`},
		{"list", `{"items":[{"k":null}]}`, `[1,2]`, `[1,2]`},
	} {
		t.Run(test.name, func(t *testing.T) {
			have := assign(payload.MustParse(test.tmpl), payload.MustParse(test.src))
			if have.String() != test.want {
				t.Errorf("have: %v, want: %v", have, test.want)
			}
		})
	}
}

func TestStripIdempotent(t *testing.T) {
	v := payload.MustParse(`{"a":null,"b":"optional","c":{"d":null,"e":"OPTIONAL value","f":1},"g":[null],"h":"x"}`)
	removed := strip(&v, "")
	if have, want := strings.Join(removed, ","), "a,b,c.d,c.e"; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}
	once := v.String()
	if have, want := once, `{"c":{"f":1},"g":[null],"h":"x"}`; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}
	if removed = strip(&v, ""); len(removed) != 0 {
		t.Errorf("second strip removed %v", removed)
	}
	if have, want := v.String(), once; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}
}

func TestBuildDeterministic(t *testing.T) {
	b, _, _ := newTestBuilder(t)
	inst := rootInstance(`{"battery_chemistry":{"cathode":{"mass_loading":10,"size":2}},"batch_volume":8}`)
	step := b.pipeline.Steps[1]

	var first string
	for i := 0; i < 3; i++ {
		req, _, _, err := b.assemble(context.Background(), step, inst.Clone(), BuildOptions{BatchIndex: workflow.AllSamples})
		if err != nil {
			t.Fatal(err)
		}
		raw, err := req.MarshalJSON()
		if err != nil {
			t.Fatal(err)
		}
		if i == 0 {
			first = string(raw)
			continue
		}
		if have, want := string(raw), first; have != want {
			t.Errorf("have: %v, want: %v", have, want)
		}
	}
	if have, want := first, `{"volume":4.2}`; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}
}

func TestBuildTransportFixups(t *testing.T) {
	b, fake, _ := newTestBuilder(t)
	ctx := context.Background()
	inst := rootInstance(`{}`)
	inst.Steps = append(inst.Steps, &workflow.Record{
		Name:      "electrolyte",
		RequestID: "req-e",
		Request:   payload.MustParse(`{"quantity":"electrolyte","methods":["flow"],"parameters":{"flow":{}}}`),
		Result:    payload.MustParse(`{"result":{"data":{"electrolyte":{"location":"flow-lab"}}}}`),
	})
	transport := b.pipeline.Steps[2]

	res, err := b.Build(ctx, transport, inst, BuildOptions{BatchIndex: workflow.AllSamples})
	if err != nil {
		t.Fatal(err)
	}
	if have, want := res.Occurrence, workflow.FirstOccurrence; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}
	if have, want := len(res.Queued), 1; have != want {
		t.Fatalf("have: %v, want: %v", have, want)
	}
	req, _ := fake.Request(res.Queued[0].RequestID)
	params, _ := req.Path("parameters", "transport_service")
	if have, want := params.String(), `{"origin":"flow-lab","destination":{"address":"AutoBASS"}}`; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}
	if r := inst.Record("transport"); r == nil || r.RequestID != res.Queued[0].RequestID {
		t.Error("transport record not created")
	}

	// second occurrence renames the completed first one
	inst.Record("transport").Result = payload.MustParse(`{"result":{"data":{"actual_new_location":"autobass"}}}`)
	res, err = b.Build(ctx, transport, inst, BuildOptions{BatchIndex: workflow.AllSamples})
	if err != nil {
		t.Fatal(err)
	}
	if have, want := res.Occurrence, workflow.SecondOccurrence; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}
	if have, want := strings.Join(inst.StepNames(), ","), "electrolyte,transport-1,transport"; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}
	req, _ = fake.Request(res.Queued[0].RequestID)
	params, _ = req.Path("parameters", "transport_service")
	if have, want := params.String(), `{"origin":"autobass","destination":{"address":"Cycler"}}`; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}
}

func fanOutInstance() *workflow.Instance {
	inst := rootInstance(`{}`)
	inst.Steps = append(inst.Steps, &workflow.Record{
		Name:      "cell_assembly",
		RequestID: "req-a",
		Request:   payload.MustParse(`{"quantity":"cell_assembly","methods":["autobass_assembly"],"parameters":{"autobass_assembly":{}}}`),
		Result: payload.MustParse(`{"result":{"data":{
			"reservation_id": "R1",
			"batch_output": [{"cell_info":{"id":"c1"}},{"cell_info":{"id":"c2"}},{"cell_info":{"id":"c3"}}]
		}}}`),
	})
	return inst
}

func TestBuildFanOut(t *testing.T) {
	b, fake, _ := newTestBuilder(t)
	inst := fanOutInstance()

	res, err := b.Build(context.Background(), b.pipeline.Steps[5], inst, BuildOptions{BatchIndex: workflow.AllSamples})
	if err != nil {
		t.Fatal(err)
	}
	if have, want := len(res.Queued), 3; have != want {
		t.Fatalf("have: %v, want: %v", have, want)
	}
	rec := inst.Record("capacity")
	if rec == nil || !rec.FanOut {
		t.Fatal("expected fan-out capacity record")
	}
	if have, want := len(rec.Samples), 3; have != want {
		t.Fatalf("have: %v, want: %v", have, want)
	}
	for i, q := range res.Queued {
		if have, want := q.Owner, "root-1"; have != want {
			t.Errorf("have: %v, want: %v", have, want)
		}
		if have, want := rec.Samples[i].RequestID, q.RequestID; have != want {
			t.Errorf("have: %v, want: %v", have, want)
		}
		req, _ := fake.Request(q.RequestID)
		params, _ := req.Path("parameters", "cycling")
		want := `{"reservation_number":"R1","cell_info":{"id":"c` + string(rune('1'+i)) + `"}}`
		if have := params.String(); have != want {
			t.Errorf("have: %v, want: %v", have, want)
		}
	}
}

func TestBuildFanOutBatchIndex(t *testing.T) {
	b, fake, _ := newTestBuilder(t)
	inst := fanOutInstance()

	res, err := b.Build(context.Background(), b.pipeline.Steps[5], inst, BuildOptions{BatchIndex: 1})
	if err != nil {
		t.Fatal(err)
	}
	if have, want := len(res.Queued), 1; have != want {
		t.Fatalf("have: %v, want: %v", have, want)
	}
	req, _ := fake.Request(res.Queued[0].RequestID)
	id, _ := req.Path("parameters", "cycling", "cell_info", "id")
	if have, want := id.String(), `"c2"`; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}
}

func TestBuildEmptyBatch(t *testing.T) {
	b, fake, _ := newTestBuilder(t)
	inst := rootInstance(`{}`)
	_, err := b.Build(context.Background(), b.pipeline.Steps[5], inst, BuildOptions{BatchIndex: workflow.AllSamples})
	if !errors.Is(err, ErrEmptyBatch) {
		t.Errorf("have: %v, want: %v", err, ErrEmptyBatch)
	}
	if len(fake.Submitted()) != 0 {
		t.Error("expected no submissions")
	}
}

func TestBuildMissingTemplate(t *testing.T) {
	b, _, _ := newTestBuilder(t)
	inst := rootInstance(`{}`)
	_, err := b.Build(context.Background(), workflow.Step{Quantity: "viscosity", Method: "rheometer"}, inst, BuildOptions{BatchIndex: workflow.AllSamples})
	if err == nil {
		t.Fatal("expected error")
	}
	if len(inst.Steps) != 0 {
		t.Error("instance modified")
	}
}

func TestBuildSubmitFailure(t *testing.T) {
	b, fake, s := newTestBuilder(t)
	fake.FailSubmit = func(payload.Value) error { return cotest.ErrSubmitRejected }
	ctx := context.Background()
	inst := rootInstance(`{}`)
	step := b.pipeline.Steps[0]

	res, err := b.Build(ctx, step, inst, BuildOptions{BatchIndex: workflow.AllSamples})
	if err != nil {
		t.Fatal(err)
	}
	if have, want := len(res.Queued), 0; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}
	if have, want := len(res.Stalled), 1; have != want {
		t.Fatalf("have: %v, want: %v", have, want)
	}
	if st := res.Stalled[0]; st.InstanceID != "root-1" || !st.Step.Is(step) || st.BatchIndex != workflow.AllSamples {
		t.Errorf("unexpected stalled entry: %+v", st)
	}
	if inst.Has(step.Quantity) {
		t.Error("record created for rejected submission")
	}

	names, err := s.ListArchives(ctx, storage.FailedArchive)
	if err != nil {
		t.Fatal(err)
	}
	if have, want := strings.Join(names, ","), "2024-05-02T08-30-00.000000000_cycling_channel.json"; have != want {
		t.Fatalf("have: %v, want: %v", have, want)
	}
	raw, err := s.RetrieveArchive(ctx, storage.FailedArchive, names[0])
	if err != nil {
		t.Fatal(err)
	}
	doc, err := payload.Parse(raw)
	if err != nil {
		t.Fatal(err)
	}
	if have, want := doc.String(), `{"quantity":"cycling_channel","methods":["service"],"parameters":{"service":{"number_required_channels":8}},"tenant_uuid":"tenant-1"}`; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}
}
