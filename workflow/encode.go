package workflow

import (
	"errors"
	"fmt"

	"github.com/micromdm/nanotenant/payload"
)

var ErrInvalidRecord = errors.New("invalid record")

func strMember(v payload.Value, key string) string {
	m, _ := v.Get(key)
	s, _ := m.Str()
	return s
}

// Value encodes r.
// Single records encode as {"request_id", "request", "result"}.
// Fan-out records encode as {"fan_out": true, "request": {id: request},
// "result": {id: result}} with only samples having a result listed
// under "result".
func (r *Record) Value() payload.Value {
	if !r.FanOut {
		return payload.Object(
			payload.Member{Key: "request_id", Value: payload.String(r.RequestID)},
			payload.Member{Key: "request", Value: r.Request},
			payload.Member{Key: "result", Value: r.Result},
		)
	}
	reqs := payload.Object()
	results := payload.Object()
	for _, s := range r.Samples {
		reqs.Set(s.RequestID, s.Request)
		if !s.Result.IsNull() {
			results.Set(s.RequestID, s.Result)
		}
	}
	return payload.Object(
		payload.Member{Key: "fan_out", Value: payload.Bool(true)},
		payload.Member{Key: "request", Value: reqs},
		payload.Member{Key: "result", Value: results},
	)
}

// RecordFromValue decodes a record encoded by Record.Value.
func RecordFromValue(name string, v payload.Value) (*Record, error) {
	if !v.IsObject() {
		return nil, fmt.Errorf("%w: %s: not an object", ErrInvalidRecord, name)
	}
	r := &Record{Name: name}
	if fo, ok := v.Get("fan_out"); ok {
		r.FanOut, _ = fo.Boolean()
	}
	request, _ := v.Get("request")
	result, _ := v.Get("result")
	if !r.FanOut {
		r.RequestID = strMember(v, "request_id")
		r.Request = request
		r.Result = result
		if r.RequestID == "" && !r.Result.IsEmpty() {
			return nil, fmt.Errorf("%w: %s: result without request", ErrInvalidRecord, name)
		}
		return r, nil
	}
	for _, m := range request.Members() {
		r.AddSample(m.Key, m.Value)
	}
	for _, m := range result.Members() {
		s := r.Sample(m.Key)
		if s == nil {
			return nil, fmt.Errorf("%w: %s: %s", ErrUnknownRequest, name, m.Key)
		}
		s.Result = m.Value
	}
	return r, nil
}

// Value encodes i as an object of its root record and step records.
func (i *Instance) Value() payload.Value {
	v := payload.Object()
	if i.Root != nil {
		v.Set(RootName, i.Root.Value())
	}
	for _, r := range i.Steps {
		v.Set(r.Name, r.Value())
	}
	return v
}

// MarshalJSON encodes i.
func (i *Instance) MarshalJSON() ([]byte, error) {
	return i.Value().MarshalJSON()
}

// InstanceFromValue decodes an instance encoded by Instance.Value.
func InstanceFromValue(id string, v payload.Value) (*Instance, error) {
	if id == "" {
		return nil, ErrEmptyInstanceID
	}
	if !v.IsObject() {
		return nil, fmt.Errorf("%w: instance %s: not an object", ErrInvalidRecord, id)
	}
	i := &Instance{ID: id}
	for _, m := range v.Members() {
		r, err := RecordFromValue(m.Key, m.Value)
		if err != nil {
			return nil, fmt.Errorf("instance %s: %w", id, err)
		}
		if m.Key == RootName {
			i.Root = r
			continue
		}
		i.Steps = append(i.Steps, r)
	}
	if i.Root == nil {
		return nil, fmt.Errorf("%w: instance %s: missing %s", ErrInvalidRecord, id, RootName)
	}
	return i, nil
}

// Value encodes s.
func (s Stalled) Value() payload.Value {
	return payload.Object(
		payload.Member{Key: "instance_id", Value: payload.String(s.InstanceID)},
		payload.Member{Key: "quantity", Value: payload.String(s.Step.Quantity)},
		payload.Member{Key: "method", Value: payload.String(s.Step.Method)},
		payload.Member{Key: "sample", Value: payload.String(s.Sample)},
		payload.Member{Key: "batch_index", Value: payload.Number(float64(s.BatchIndex))},
	)
}

// StalledFromValue decodes a stalled entry encoded by Stalled.Value.
func StalledFromValue(v payload.Value) (Stalled, error) {
	s := Stalled{
		InstanceID: strMember(v, "instance_id"),
		Step: Step{
			Quantity: strMember(v, "quantity"),
			Method:   strMember(v, "method"),
		},
		Sample:     strMember(v, "sample"),
		BatchIndex: AllSamples,
	}
	if s.InstanceID == "" || s.Step.Quantity == "" || s.Step.Method == "" {
		return s, fmt.Errorf("%w: stalled entry %s", ErrInvalidRecord, v)
	}
	if bi, ok := v.Get("batch_index"); ok {
		if f, ok := bi.Float(); ok {
			s.BatchIndex = int(f)
		}
	}
	return s, nil
}
