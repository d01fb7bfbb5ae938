package engine

import (
	"github.com/micromdm/nanotenant/defaults"
	"github.com/micromdm/nanotenant/logkeys"
	"github.com/micromdm/nanotenant/payload"
	"github.com/micromdm/nanotenant/workflow"

	"github.com/micromdm/nanolib/log"
)

// requestParameters returns the parameters of request document req
// for its first method.
func requestParameters(req payload.Value) (payload.Value, bool) {
	step, ok := workflow.StepOf(req)
	if !ok {
		return payload.Value{}, false
	}
	return req.Path("parameters", step.Method)
}

// recordData returns what a recorded request/result pair contributes
// to the working set: the result data if a result exists, otherwise
// the request parameters.
func recordData(request, result payload.Value) (payload.Value, bool) {
	if !result.IsEmpty() {
		if data, ok := result.Path("result", "data"); ok && data.IsObject() {
			return data, true
		}
	}
	if params, ok := requestParameters(request); ok && params.IsObject() {
		return params, true
	}
	return payload.Value{}, false
}

// workingSet seeds the parameters available to a build from the root
// request and merges every other recorded step in insertion order.
// Fan-out records only contribute their sub-entry named by sample.
func workingSet(logger log.Logger, step workflow.Step, inst *workflow.Instance, sample string) payload.Value {
	ws := inst.RootParameters().Clone()
	if !ws.IsObject() {
		ws = payload.Object()
	}
	for _, r := range inst.Steps {
		if r.Name == step.Quantity {
			continue
		}
		var request, result payload.Value
		if r.FanOut {
			s := r.Sample(sample)
			if s == nil {
				continue
			}
			request, result = s.Request, s.Result
		} else {
			request, result = r.Request, r.Result
		}
		data, ok := recordData(request, result)
		if !ok {
			logger.Info(
				logkeys.Message, "record has neither result data nor request parameters",
				logkeys.StepName, r.Name,
			)
			continue
		}
		ws.Update(data)
	}
	return ws
}

func sameKeys(a, b payload.Value) bool {
	if a.Len() != b.Len() {
		return false
	}
	for _, k := range a.Keys() {
		if !b.Has(k) {
			return false
		}
	}
	return true
}

// matchObjectList replaces every list-of-objects member of tmpl with
// src when an item of that list has the same keys as an item of src.
func matchObjectList(tmpl, src payload.Value) (payload.Value, bool) {
	var matched bool
	for _, m := range tmpl.Members() {
		if !m.Value.IsArray() {
			continue
		}
	items:
		for _, item := range m.Value.Items() {
			for _, srcItem := range src.Items() {
				if item.IsObject() && srcItem.IsObject() && sameKeys(item, srcItem) {
					tmpl.Set(m.Key, src.Clone())
					matched = true
					break items
				}
			}
		}
	}
	return tmpl, matched
}

// assign returns the value for a template slot tmpl given source src.
// Object slots take only the sub-keys they declare unless empty or of
// the same shape. Object slots given a list take the list wholesale
// where a declared list of objects matches its items.
func assign(tmpl, src payload.Value) payload.Value {
	switch {
	case tmpl.IsObject() && src.IsObject():
		if tmpl.Len() == 0 || sameKeys(tmpl, src) {
			return src.Clone()
		}
		ret := tmpl.Clone()
		for _, k := range ret.Keys() {
			if v, ok := src.Get(k); ok {
				ret.Set(k, v.Clone())
			}
		}
		return ret
	case tmpl.IsObject() && src.IsArray():
		if ret, ok := matchObjectList(tmpl.Clone(), src); ok {
			return ret
		}
	}
	return src.Clone()
}

// filler copies working-set values into a template.
type filler struct {
	defaults *defaults.Registry
	ws       payload.Value
	res      []Resolution
}

func (f *filler) resolved(key string, src Source) {
	f.res = append(f.res, Resolution{Key: key, Outcome: Resolved, Source: src})
}

// fill resolves every key of tmpl in order: exact working-set match,
// computed default, static default, a match nested one level into the
// working set, then recursion into object slots. Keys left are
// recorded as skipped.
func (f *filler) fill(tmpl *payload.Value, prefix string) {
	for _, key := range tmpl.Keys() {
		path := prefix + key
		slot, _ := tmpl.Get(key)

		if src, ok := f.ws.Get(key); ok {
			tmpl.Set(key, assign(slot, src))
			f.resolved(path, FromExact)
			continue
		}

		if f.defaults.HasComputed(key) {
			v, err := f.defaults.Compute(key, f.ws)
			if err == nil {
				tmpl.Set(key, v)
				f.resolved(path, FromComputed)
				continue
			}
			f.res = append(f.res, Resolution{Key: path, Outcome: Failed, Source: FromComputed, Err: err})
		}

		if v, ok := f.defaults.Static(key); ok {
			tmpl.Set(key, v)
			f.resolved(path, FromStatic)
			continue
		}

		if src, ok := f.nested(key); ok {
			tmpl.Set(key, assign(slot, src))
			f.resolved(path, FromNested)
			continue
		}

		if slot.IsObject() && slot.Len() > 0 {
			child := slot.Clone()
			f.fill(&child, path+".")
			tmpl.Set(key, child)
			continue
		}

		f.res = append(f.res, Resolution{Key: path, Outcome: Skipped, Reason: "no source"})
	}
}

// nested finds key one level into the working-set objects.
func (f *filler) nested(key string) (payload.Value, bool) {
	for _, m := range f.ws.Members() {
		if v, ok := m.Value.Get(key); ok {
			return v, true
		}
	}
	return payload.Value{}, false
}

// missing returns the keys no source could resolve.
func missing(res []Resolution) []string {
	var keys []string
	for _, r := range res {
		if r.Outcome == Skipped {
			keys = append(keys, r.Key)
		}
	}
	return keys
}

// strip removes every member whose value is null or an optional
// marker, recursing through objects. It returns the removed paths.
func strip(v *payload.Value, prefix string) []string {
	var removed []string
	for _, key := range v.Keys() {
		child, _ := v.Get(key)
		switch {
		case child.IsNull() || child.IsOptionalMarker():
			v.Delete(key)
			removed = append(removed, prefix+key)
		case child.IsObject():
			child = child.Clone()
			removed = append(removed, strip(&child, prefix+key+".")...)
			v.Set(key, child)
		}
	}
	return removed
}
