package workflow

import (
	"errors"
	"fmt"

	"github.com/micromdm/nanotenant/payload"
)

// RootName is the record name of the request that started an instance.
const RootName = "request_0"

var (
	// ErrUnknownRequest is returned when recording a result for a
	// request ID that was never recorded in the instance.
	ErrUnknownRequest = errors.New("unknown request id")

	ErrEmptyInstanceID = errors.New("empty instance id")
	ErrDuplicateRecord = errors.New("duplicate record name")
)

// Sample is one per-sample request/result pair of a fan-out record.
type Sample struct {
	RequestID string
	Request   payload.Value
	Result    payload.Value
}

// Record is the state of one requested step within an instance.
// Fan-out records hold samples, single records hold one request.
type Record struct {
	Name   string
	FanOut bool

	RequestID string
	Request   payload.Value
	Result    payload.Value

	Samples []*Sample
}

// HasResult reports whether a single record has a non-empty result.
// For fan-out records it reports whether any sample has a result.
func (r *Record) HasResult() bool {
	if r == nil {
		return false
	}
	if !r.FanOut {
		return !r.Result.IsEmpty()
	}
	for _, s := range r.Samples {
		if !s.Result.IsEmpty() {
			return true
		}
	}
	return false
}

// Sample returns the sample with requestID, or nil.
func (r *Record) Sample(requestID string) *Sample {
	if r == nil {
		return nil
	}
	for _, s := range r.Samples {
		if s.RequestID == requestID {
			return s
		}
	}
	return nil
}

// AddSample records a submitted per-sample request.
func (r *Record) AddSample(requestID string, request payload.Value) *Sample {
	s := &Sample{RequestID: requestID, Request: request}
	r.Samples = append(r.Samples, s)
	return s
}

// Outstanding returns the number of samples without a result.
func (r *Record) Outstanding() int {
	var n int
	for _, s := range r.Samples {
		if s.Result.IsEmpty() {
			n++
		}
	}
	return n
}

// Clone returns a deep copy of r.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := &Record{
		Name:      r.Name,
		FanOut:    r.FanOut,
		RequestID: r.RequestID,
		Request:   r.Request.Clone(),
		Result:    r.Result.Clone(),
	}
	for _, s := range r.Samples {
		c.Samples = append(c.Samples, &Sample{
			RequestID: s.RequestID,
			Request:   s.Request.Clone(),
			Result:    s.Result.Clone(),
		})
	}
	return c
}

// Instance is the accumulated state of one execution of a pipeline.
type Instance struct {
	// ID is the identifier of the root request.
	ID string

	// Root holds the pending item that seeded the instance as its
	// request and, once all terminal results arrive, those results
	// keyed by request ID.
	Root *Record

	// Steps are the records of requested steps in insertion order.
	Steps []*Record
}

// NewInstance creates an instance rooted at the pending item.
func NewInstance(id string, pending payload.Value) *Instance {
	return &Instance{
		ID: id,
		Root: &Record{
			Name:      RootName,
			RequestID: id,
			Request:   pending,
		},
	}
}

// RootRequest returns the request document of the root pending item.
func (i *Instance) RootRequest() payload.Value {
	v, _ := i.Root.Request.Get("request")
	return v
}

// RootStep returns the quantity and method requested by the root.
func (i *Instance) RootStep() (Step, bool) {
	return StepOf(i.RootRequest())
}

// RootParameters returns the root request's parameters for its method.
func (i *Instance) RootParameters() payload.Value {
	step, ok := i.RootStep()
	if !ok {
		return payload.Value{}
	}
	v, _ := i.RootRequest().Path("parameters", step.Method)
	return v
}

// Record returns the record named name, or nil.
func (i *Instance) Record(name string) *Record {
	for _, r := range i.Steps {
		if r.Name == name {
			return r
		}
	}
	return nil
}

// Has reports whether a record named name exists.
func (i *Instance) Has(name string) bool {
	return i.Record(name) != nil
}

// AddRecord appends r to the instance.
func (i *Instance) AddRecord(r *Record) error {
	if r.Name == RootName || i.Has(r.Name) {
		return fmt.Errorf("%w: %s", ErrDuplicateRecord, r.Name)
	}
	i.Steps = append(i.Steps, r)
	return nil
}

// EnsureRecord returns the record named name, creating it if absent.
func (i *Instance) EnsureRecord(name string, fanOut bool) *Record {
	if r := i.Record(name); r != nil {
		return r
	}
	r := &Record{Name: name, FanOut: fanOut}
	i.Steps = append(i.Steps, r)
	return r
}

// RemoveRecord deletes the record named name.
func (i *Instance) RemoveRecord(name string) bool {
	for idx, r := range i.Steps {
		if r.Name == name {
			i.Steps = append(i.Steps[:idx], i.Steps[idx+1:]...)
			return true
		}
	}
	return false
}

// RenameRecord renames a record in place, keeping its position.
// An existing record named to is removed first.
func (i *Instance) RenameRecord(from, to string) bool {
	r := i.Record(from)
	if r == nil || from == to {
		return false
	}
	i.RemoveRecord(to)
	r.Name = to
	return true
}

// StepNames returns the record names in insertion order.
func (i *Instance) StepNames() []string {
	names := make([]string, len(i.Steps))
	for idx, r := range i.Steps {
		names[idx] = r.Name
	}
	return names
}

// LastStepName returns the most recently recorded step name.
func (i *Instance) LastStepName() string {
	if len(i.Steps) < 1 {
		return ""
	}
	return i.Steps[len(i.Steps)-1].Name
}

// FindRequest locates the record, and for fan-out records the sample,
// holding requestID.
func (i *Instance) FindRequest(requestID string) (*Record, *Sample) {
	for _, r := range i.Steps {
		if r.FanOut {
			if s := r.Sample(requestID); s != nil {
				return r, s
			}
		} else if r.RequestID == requestID && requestID != "" {
			return r, nil
		}
	}
	return nil, nil
}

// RecordResult stores result against the recorded requestID.
func (i *Instance) RecordResult(requestID string, result payload.Value) (*Record, *Sample, error) {
	r, s := i.FindRequest(requestID)
	if r == nil {
		return nil, nil, fmt.Errorf("%w: %s", ErrUnknownRequest, requestID)
	}
	if s != nil {
		s.Result = result
	} else {
		r.Result = result
	}
	return r, s, nil
}

// Clone returns a deep copy of i.
func (i *Instance) Clone() *Instance {
	c := &Instance{ID: i.ID, Root: i.Root.Clone()}
	for _, r := range i.Steps {
		c.Steps = append(c.Steps, r.Clone())
	}
	return c
}

// Validate checks i for an ID, a root and the result invariant.
func (i *Instance) Validate() error {
	if i == nil || i.ID == "" {
		return ErrEmptyInstanceID
	}
	if i.Root == nil {
		return errors.New("missing root record")
	}
	for _, r := range i.Steps {
		if r.FanOut {
			continue
		}
		if r.RequestID == "" && !r.Result.IsEmpty() {
			return fmt.Errorf("%w: result without request in %s", ErrUnknownRequest, r.Name)
		}
	}
	return nil
}
