package engine

import (
	"strings"

	"github.com/micromdm/nanotenant/payload"
	"github.com/micromdm/nanotenant/workflow"
)

// applyFixup applies f to the outgoing request payload req.
// The parent of the target path must already exist in req; otherwise
// the fixup is skipped.
func applyFixup(f workflow.Fixup, req *payload.Value, ws payload.Value) Resolution {
	res := Resolution{Key: f.Name, Source: FromFixup}
	to := strings.Join(f.To, ".")

	parent, ok := req.Path(f.To[:len(f.To)-1]...)
	if !ok || !parent.IsObject() {
		res.Outcome = Skipped
		res.Reason = "no parent for " + to
		return res
	}

	var v payload.Value
	switch f.Op {
	case workflow.FixupLift:
		if v, ok = req.Path(f.From...); !ok {
			res.Outcome = Skipped
			res.Reason = "request has no " + strings.Join(f.From, ".")
			return res
		}
	case workflow.FixupCopy:
		if v, ok = ws.Path(f.From...); !ok {
			res.Outcome = Skipped
			res.Reason = "working set has no " + strings.Join(f.From, ".")
			return res
		}
	case workflow.FixupSet:
		v = f.Value
	}

	if err := req.SetPath(v.Clone(), f.To...); err != nil {
		res.Outcome = Failed
		res.Err = err
		return res
	}
	res.Outcome = Resolved
	return res
}

// applyFixups applies every fixup of p matching step at occurrence occ,
// in order. None of them fail the build.
func applyFixups(p *workflow.Pipeline, step workflow.Step, occ workflow.Occurrence, req *payload.Value, ws payload.Value) []Resolution {
	var res []Resolution
	for _, f := range p.Fixups {
		if !f.Applies(step, occ) {
			continue
		}
		res = append(res, applyFixup(f, req, ws))
	}
	return res
}
