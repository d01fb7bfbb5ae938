package tenant

import (
	"errors"
	"testing"

	"github.com/micromdm/nanotenant/payload"
	"github.com/micromdm/nanotenant/workflow"
)

func TestMatch(t *testing.T) {
	c, err := New(payload.MustParse(`{
		"name": "t",
		"quantities": {
			"degradationEOL": {
				"degradation_workflow": {"parameters": ["cell_info"], "limitations": {}},
				"other": {}
			}
		}
	}`))
	if err != nil {
		t.Fatal(err)
	}

	for _, test := range []struct {
		quantity string
		methods  []string
		want     string
		ok       bool
	}{
		{"degradationEOL", []string{"degradation_workflow"}, "degradation_workflow", true},
		{"degradationEOL", []string{"nope", "other", "degradation_workflow"}, "other", true},
		{"degradationEOL", []string{"nope"}, "", false},
		{"capacity", []string{"degradation_workflow"}, "", false},
		{"degradationEOL", nil, "", false},
	} {
		have, ok := c.Match(test.quantity, test.methods)
		if have != test.want || ok != test.ok {
			t.Errorf("%s %v: have: %v,%v, want: %v,%v", test.quantity, test.methods, have, ok, test.want, test.ok)
		}
	}

	m, ok := c.MatchRequest(payload.MustParse(`{"quantity":"degradationEOL","methods":["degradation_workflow"]}`))
	if !ok || m != "degradation_workflow" {
		t.Errorf("have: %v, want: degradation_workflow", m)
	}
}

func TestNewErrors(t *testing.T) {
	if _, err := New(payload.MustParse(`{"quantities":{}}`)); !errors.Is(err, ErrNoName) {
		t.Errorf("have: %v, want: %v", err, ErrNoName)
	}
	if _, err := New(payload.MustParse(`{"name":"t","quantities":{}}`)); !errors.Is(err, ErrNoQuantities) {
		t.Errorf("have: %v, want: %v", err, ErrNoQuantities)
	}
}

func TestRegistrationDocument(t *testing.T) {
	p, err := workflow.DefaultPipeline()
	if err != nil {
		t.Fatal(err)
	}
	c, err := New(p.Tenant)
	if err != nil {
		t.Fatal(err)
	}
	c.Operators = []string{"alice", "bob"}

	doc := c.RegistrationDocument()
	if have, want := doc.Keys(), []string{"name", "limitations", "contact_person"}; len(have) != 3 || have[0] != want[0] || have[2] != want[2] {
		t.Errorf("have: %v, want: %v", have, want)
	}
	limits, _ := doc.Get("limitations")
	if have, want := limits.Len(), 1; have != want {
		t.Fatalf("have: %v, want: %v", have, want)
	}
	first := limits.Items()[0]
	if have, want := first.Keys()[0], "quantity"; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}
	if _, ok := first.Path("limitations", "battery_chemistry", "electrolyte"); !ok {
		t.Error("missing electrolyte limitations")
	}
	cp, _ := doc.Get("contact_person")
	if have, want := cp.String(), `"alice, bob"`; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}
}
