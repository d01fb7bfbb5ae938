package workflow

import (
	"errors"
	"reflect"
	"testing"

	"github.com/micromdm/nanotenant/payload"
)

func testInstance() *Instance {
	i := NewInstance("root-1", payload.MustParse(`{
		"request": {
			"quantity": "degradationEOL",
			"methods": ["degradation_workflow"],
			"parameters": {"degradation_workflow": {"batch_volume": 2}}
		},
		"uuid": "root-1",
		"ctime": "2024-05-01T10:00:00"
	}`))
	i.Steps = append(i.Steps, &Record{
		Name:      "electrolyte",
		RequestID: "req-e",
		Request:   payload.MustParse(`{"quantity":"electrolyte","methods":["flow"]}`),
	})
	capacity := i.EnsureRecord("capacity", true)
	capacity.AddSample("req-c1", payload.MustParse(`{"quantity":"capacity","methods":["cycling"]}`))
	capacity.AddSample("req-c2", payload.MustParse(`{"quantity":"capacity","methods":["cycling"]}`))
	return i
}

func TestInstanceRoot(t *testing.T) {
	i := testInstance()
	step, ok := i.RootStep()
	if !ok {
		t.Fatal("no root step")
	}
	if have, want := step.String(), "degradationEOL/degradation_workflow"; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}
	if have, want := i.RootParameters().String(), `{"batch_volume":2}`; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}
}

func TestRecordResultRequiresRequest(t *testing.T) {
	i := testInstance()

	_, _, err := i.RecordResult("nope", payload.MustParse(`{"result":{}}`))
	if !errors.Is(err, ErrUnknownRequest) {
		t.Fatalf("have: %v, want: %v", err, ErrUnknownRequest)
	}

	r, s, err := i.RecordResult("req-c2", payload.MustParse(`{"result":{"data":1}}`))
	if err != nil {
		t.Fatal(err)
	}
	if r.Name != "capacity" || s == nil || s.RequestID != "req-c2" {
		t.Errorf("unexpected record %s sample %v", r.Name, s)
	}
	if have, want := r.Outstanding(), 1; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}

	r, s, err = i.RecordResult("req-e", payload.MustParse(`{"result":{"data":2}}`))
	if err != nil {
		t.Fatal(err)
	}
	if r.Name != "electrolyte" || s != nil || !r.HasResult() {
		t.Error("expected single electrolyte record with result")
	}
}

func TestRenameRecordKeepsPosition(t *testing.T) {
	i := testInstance()
	i.Steps = append(i.Steps[:1], append([]*Record{{Name: "transport", RequestID: "req-t"}}, i.Steps[1:]...)...)

	if !i.RenameRecord("transport", "transport-1") {
		t.Fatal("rename failed")
	}
	if have, want := i.StepNames(), []string{"electrolyte", "transport-1", "capacity"}; !reflect.DeepEqual(have, want) {
		t.Errorf("have: %v, want: %v", have, want)
	}
	if have, want := i.LastStepName(), "capacity"; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}
	if i.RenameRecord("missing", "x") {
		t.Error("renamed a missing record")
	}
}

func TestInstanceEncodingRoundTrip(t *testing.T) {
	i := testInstance()
	if _, _, err := i.RecordResult("req-c1", payload.MustParse(`{"result":{"data":{"capacity_list":[1.0,0.98]}}}`)); err != nil {
		t.Fatal(err)
	}

	b, err := i.MarshalJSON()
	if err != nil {
		t.Fatal(err)
	}
	v, err := payload.Parse(b)
	if err != nil {
		t.Fatal(err)
	}
	i2, err := InstanceFromValue(i.ID, v)
	if err != nil {
		t.Fatal(err)
	}
	b2, err := i2.MarshalJSON()
	if err != nil {
		t.Fatal(err)
	}
	if have, want := string(b2), string(b); have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}

	capacity := i2.Record("capacity")
	if capacity == nil || !capacity.FanOut || len(capacity.Samples) != 2 {
		t.Fatal("fan-out record not restored")
	}
	if !capacity.Sample("req-c2").Result.IsNull() {
		t.Error("expected no result for req-c2")
	}
}

func TestRecordFromValueRejectsOrphanResult(t *testing.T) {
	_, err := RecordFromValue("capacity", payload.MustParse(`{"fan_out":true,"request":{"a":{}},"result":{"b":{"x":1}}}`))
	if !errors.Is(err, ErrUnknownRequest) {
		t.Errorf("have: %v, want: %v", err, ErrUnknownRequest)
	}
	_, err = RecordFromValue("transport", payload.MustParse(`{"request_id":"","request":null,"result":{"x":1}}`))
	if !errors.Is(err, ErrInvalidRecord) {
		t.Errorf("have: %v, want: %v", err, ErrInvalidRecord)
	}
}

func TestInstanceClone(t *testing.T) {
	i := testInstance()
	c := i.Clone()
	c.Record("capacity").AddSample("req-c3", payload.Null())
	c.RemoveRecord("electrolyte")
	if have, want := len(i.Record("capacity").Samples), 2; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}
	if !i.Has("electrolyte") {
		t.Error("clone mutation reached original")
	}
}

func TestQueue(t *testing.T) {
	q := Queue{{"a", "o1"}, {"b", "o2"}, {"c", "o1"}}
	if have, want := q.CountOwner("o1"), 2; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}
	q2, ok := q.Remove("b")
	if !ok || q2.Has("b") || len(q2) != 2 {
		t.Errorf("unexpected queue after remove: %v", q2)
	}
	if !q.Has("b") {
		t.Error("remove modified the original queue")
	}
	if have, want := len(q.RemoveOwner("o1")), 1; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}
	if have, want := CountStalled([]Stalled{{InstanceID: "o1"}, {InstanceID: "o2"}}, "o1"), 1; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}
}

func TestStalledRoundTrip(t *testing.T) {
	s := Stalled{
		InstanceID: "root-1",
		Step:       Step{Quantity: "capacity", Method: "cycling"},
		BatchIndex: 2,
	}
	s2, err := StalledFromValue(s.Value())
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(s, s2) {
		t.Errorf("have: %v, want: %v", s2, s)
	}
}
