package workflow

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/micromdm/nanotenant/payload"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultPipelineYAML []byte

var (
	ErrTooFewSteps      = errors.New("pipeline needs at least two steps")
	ErrEmptyStep        = errors.New("step missing quantity or method")
	ErrUnknownRole      = errors.New("role names no catalogue entry")
	ErrRepeatedCount    = errors.New("repeated step must occur exactly twice")
	ErrMissingRole      = errors.New("missing role")
	ErrDefaultsNotTable = errors.New("defaults must be a mapping")
)

// Roles designate the catalogue entries that the branch rules act upon.
type Roles struct {
	// FanOut is the quantity submitted once per physical sample.
	FanOut string `yaml:"fan_out"`

	// Terminal is the step producing per-sample results that are
	// aggregated into the final result.
	Terminal Step `yaml:"terminal"`

	// Repeated is the quantity occurring twice in the catalogue.
	// Its first occurrence is renamed with RepeatedSuffix appended
	// when the second is requested.
	Repeated       string `yaml:"repeated"`
	RepeatedSuffix string `yaml:"repeated_suffix"`

	// RepeatGate is the quantity that must be recorded, together with
	// the renamed repeated step, before routing past the second
	// occurrence of the repeated step.
	RepeatGate string `yaml:"repeat_gate"`

	BatchKey  string `yaml:"batch_key"`  // working-set key listing samples
	SampleKey string `yaml:"sample_key"` // per-sample key copied into fan-out requests

	RunInfoStep string `yaml:"run_info_step"`
	RunInfoKey  string `yaml:"run_info_key"`
}

// RepeatedName returns the record name for the first occurrence of the
// repeated step once renamed.
func (r Roles) RepeatedName() string {
	return r.Repeated + r.RepeatedSuffix
}

// Pipeline is the immutable configuration of a tenant's workflow.
type Pipeline struct {
	Name     string
	Steps    Catalogue
	Roles    Roles
	Fixups   []Fixup
	Defaults payload.Value // static default value table
	Tenant   payload.Value // tenant capability document
}

type rawFixup struct {
	Name  string    `yaml:"name"`
	Op    FixupOp   `yaml:"op"`
	From  string    `yaml:"from"`
	To    string    `yaml:"to"`
	Value yaml.Node `yaml:"value"`
	When  Condition `yaml:"when"`
}

type rawPipeline struct {
	Name     string     `yaml:"name"`
	Steps    []Step     `yaml:"steps"`
	Roles    Roles      `yaml:"roles"`
	Fixups   []rawFixup `yaml:"fixups"`
	Defaults yaml.Node  `yaml:"defaults"`
	Tenant   yaml.Node  `yaml:"tenant"`
}

func splitPath(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ".")
}

// ParsePipeline decodes and validates a YAML pipeline document.
func ParsePipeline(b []byte) (*Pipeline, error) {
	var raw rawPipeline
	if err := yaml.Unmarshal(b, &raw); err != nil {
		return nil, fmt.Errorf("decoding pipeline: %w", err)
	}
	p := &Pipeline{
		Name:  raw.Name,
		Steps: Catalogue(raw.Steps),
		Roles: raw.Roles,
	}
	var err error
	for i, rf := range raw.Fixups {
		f := Fixup{
			Name: rf.Name,
			Op:   rf.Op,
			From: splitPath(rf.From),
			To:   splitPath(rf.To),
			When: rf.When,
		}
		if f.Value, err = payload.FromYAML(&rf.Value); err != nil {
			return nil, fmt.Errorf("fixup %d value: %w", i, err)
		}
		p.Fixups = append(p.Fixups, f)
	}
	if p.Defaults, err = payload.FromYAML(&raw.Defaults); err != nil {
		return nil, fmt.Errorf("defaults: %w", err)
	}
	if p.Tenant, err = payload.FromYAML(&raw.Tenant); err != nil {
		return nil, fmt.Errorf("tenant: %w", err)
	}
	if err = p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pipeline: %w", err)
	}
	return p, nil
}

// LoadPipeline reads and parses the pipeline at path.
// An empty path loads the embedded default pipeline.
func LoadPipeline(path string) (*Pipeline, error) {
	if path == "" {
		return DefaultPipeline()
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParsePipeline(b)
}

// DefaultPipeline returns the embedded seven-step degradation pipeline.
func DefaultPipeline() (*Pipeline, error) {
	return ParsePipeline(defaultPipelineYAML)
}

// Validate checks the catalogue and that every role names a catalogue entry.
func (p *Pipeline) Validate() error {
	if p == nil || len(p.Steps) < 2 {
		return ErrTooFewSteps
	}
	for i, s := range p.Steps {
		if s.Quantity == "" || s.Method == "" {
			return fmt.Errorf("%w: index %d", ErrEmptyStep, i)
		}
	}
	r := p.Roles
	for _, role := range []struct {
		name  string
		value string
	}{
		{"fan_out", r.FanOut},
		{"repeated", r.Repeated},
		{"repeat_gate", r.RepeatGate},
		{"run_info_step", r.RunInfoStep},
	} {
		if role.value == "" {
			return fmt.Errorf("%w: %s", ErrMissingRole, role.name)
		}
		if p.Steps.IndexQuantity(role.value, 0) < 0 {
			return fmt.Errorf("%w: %s: %s", ErrUnknownRole, role.name, role.value)
		}
	}
	if p.Steps.Index(r.Terminal, 0) < 0 {
		return fmt.Errorf("%w: terminal: %s", ErrUnknownRole, r.Terminal)
	}
	for _, role := range []struct {
		name  string
		value string
	}{
		{"repeated_suffix", r.RepeatedSuffix},
		{"batch_key", r.BatchKey},
		{"sample_key", r.SampleKey},
		{"run_info_key", r.RunInfoKey},
	} {
		if role.value == "" {
			return fmt.Errorf("%w: %s", ErrMissingRole, role.name)
		}
	}
	if first, second := p.RepeatedIndexes(); first < 0 || second < 0 {
		return ErrRepeatedCount
	} else if p.Steps.IndexQuantity(r.Repeated, second+1) >= 0 {
		return ErrRepeatedCount
	}
	for i, f := range p.Fixups {
		if err := f.Validate(); err != nil {
			return fmt.Errorf("fixup %d (%s): %w", i, f.Name, err)
		}
	}
	if !p.Defaults.IsNull() && !p.Defaults.IsObject() {
		return ErrDefaultsNotTable
	}
	return nil
}

// RepeatedIndexes returns the catalogue indexes of the first and second
// occurrence of the repeated step. Either is -1 if not present.
func (p *Pipeline) RepeatedIndexes() (first, second int) {
	first = p.Steps.IndexQuantity(p.Roles.Repeated, 0)
	if first < 0 {
		return -1, -1
	}
	return first, p.Steps.IndexQuantity(p.Roles.Repeated, first+1)
}

// IsTerminal reports whether s is the terminal step.
func (p *Pipeline) IsTerminal(s Step) bool {
	return p.Roles.Terminal.Is(s)
}

// IsFanOut reports whether s is the fan-out step.
func (p *Pipeline) IsFanOut(s Step) bool {
	return s.Quantity == p.Roles.FanOut
}
