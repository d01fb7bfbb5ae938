package engine

import (
	"strings"

	"github.com/micromdm/nanotenant/payload"
	"github.com/micromdm/nanotenant/workflow"
)

// collectTerminal copies the terminal sample results onto the root
// record, keyed by request ID.
func collectTerminal(p *workflow.Pipeline, inst *workflow.Instance) {
	results := payload.Object()
	for _, s := range inst.Record(p.Roles.Terminal.Quantity).Samples {
		if !s.Result.IsEmpty() {
			results.Set(s.RequestID, s.Result)
		}
	}
	inst.Root.Result = results
}

// aggregate builds the final result document of inst from the terminal
// results collected on its root record.
func aggregate(p *workflow.Pipeline, inst *workflow.Instance, tenantUUID string) payload.Value {
	roles := p.Roles
	terminal := roles.Terminal

	runInfo := payload.Object()
	if r := inst.Record(roles.RunInfoStep); r != nil && !r.FanOut {
		if v, ok := r.Result.Path("result", "data", roles.RunInfoKey); ok {
			runInfo = v.Clone()
		}
	}

	perSample := payload.Array()
	for _, m := range inst.Root.Result.Members() {
		entry := payload.Object()
		if v, ok := m.Value.Path("result", "data", terminal.Quantity); ok {
			if v.IsObject() {
				entry.Update(v.Clone())
			} else {
				entry.Set(terminal.Quantity, v.Clone())
			}
		}
		if v, ok := m.Value.Path("result", "parameters", terminal.Method, roles.SampleKey); ok {
			entry.Set(roles.SampleKey, v.Clone())
		}
		perSample.Append(entry)
	}

	root, _ := inst.RootStep()
	return payload.Object(
		payload.Member{Key: "data", Value: payload.Object(
			payload.Member{Key: roles.RunInfoKey, Value: runInfo},
			payload.Member{Key: terminal.Quantity, Value: perSample},
		)},
		payload.Member{Key: "quantity", Value: payload.String(root.Quantity)},
		payload.Member{Key: "method", Value: payload.Array(payload.String(root.Method))},
		payload.Member{Key: "parameters", Value: payload.Object(
			payload.Member{Key: root.Method, Value: inst.RootParameters().Clone()},
		)},
		payload.Member{Key: "tenant_uuid", Value: payload.String(tenantUUID)},
		payload.Member{Key: "request_uuid", Value: payload.String(inst.ID)},
	)
}

// archiveName names the workflow archive of inst by the date of its
// root request's creation time. fallback is used when ctime is absent.
func archiveName(inst *workflow.Instance, fallback string) string {
	date := fallback
	if ctime, ok := inst.Root.Request.Get("ctime"); ok {
		if s, ok := ctime.Str(); ok && s != "" {
			date, _, _ = strings.Cut(s, "T")
		}
	}
	return date + "_" + inst.ID + ".json"
}
