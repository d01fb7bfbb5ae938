package engine

import (
	"github.com/micromdm/nanotenant/workflow"
)

// Rule identifies the branch rule that chose the next step.
type Rule int

const (
	// RuleStart routes an instance with no recorded steps, or one
	// rooted at the first catalogue entry itself, to that entry.
	RuleStart Rule = iota + 1

	// RuleRestart routes after the terminal step or the root's own
	// step back to the first catalogue entry.
	RuleRestart

	// RuleRepeat routes past the second occurrence of the repeated
	// step once its first occurrence and the gate step are recorded.
	RuleRepeat

	// RuleAdvance routes to the catalogue entry after the completed one.
	RuleAdvance

	// RuleDefault routes to the second catalogue entry.
	RuleDefault
)

func (r Rule) String() string {
	switch r {
	case RuleStart:
		return "start"
	case RuleRestart:
		return "restart"
	case RuleRepeat:
		return "repeat"
	case RuleAdvance:
		return "advance"
	case RuleDefault:
		return "default"
	}
	return "unknown"
}

// Decision is the outcome of resolving the next step.
type Decision struct {
	Step workflow.Step
	Rule Rule

	// Fallback is set when no rule matched the instance state and a
	// default entry was chosen. Such routing may be wrong.
	Fallback bool
}

// Resolver picks the next pipeline step for an instance.
type Resolver struct {
	pipeline *workflow.Pipeline
}

// NewResolver creates a resolver for pipeline p.
func NewResolver(p *workflow.Pipeline) *Resolver {
	return &Resolver{pipeline: p}
}

// Resolve returns the step to request after last completed in inst.
// It neither performs I/O nor modifies inst. Unmatched states fall
// back to a default entry rather than failing.
func (r *Resolver) Resolve(last workflow.Step, inst *workflow.Instance) Decision {
	steps := r.pipeline.Steps
	roles := r.pipeline.Roles

	if len(inst.Steps) < 1 {
		return Decision{Step: steps[0], Rule: RuleStart}
	}
	rootStep, hasRoot := inst.RootStep()
	if hasRoot && rootStep.Is(steps[0]) {
		return Decision{Step: steps[0], Rule: RuleStart}
	}

	if r.pipeline.IsTerminal(last) || (hasRoot && last.Is(rootStep) && steps.Index(rootStep, 0) < 0) {
		return Decision{Step: steps[0], Rule: RuleRestart}
	}

	if _, second := r.pipeline.RepeatedIndexes(); second >= 0 && second+1 < len(steps) {
		after := steps[second+1]
		if inst.Has(roles.RepeatedName()) && inst.Has(roles.RepeatGate) && !inst.Has(after.Quantity) {
			return Decision{Step: after, Rule: RuleRepeat}
		}
	}

	if o := steps.Index(last, 1); o > 0 {
		lastName := inst.LastStepName()
		for n := o; n >= 0; n-- {
			if steps[n].Quantity == lastName || steps[n].Quantity == roles.FanOut {
				if o+1 < len(steps) {
					return Decision{Step: steps[o+1], Rule: RuleAdvance}
				}
				return Decision{Step: steps[0], Rule: RuleAdvance, Fallback: true}
			}
		}
		return Decision{Step: steps[0], Rule: RuleAdvance, Fallback: true}
	}

	return Decision{Step: steps[1], Rule: RuleDefault, Fallback: !last.Is(steps[0])}
}
