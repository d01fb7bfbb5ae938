package workflow

import (
	"errors"
	"fmt"

	"github.com/micromdm/nanotenant/payload"
)

// FixupOp is the kind of change a fixup makes to an outgoing request.
type FixupOp string

const (
	// FixupLift replaces the value at To with the value at From, both
	// within the request payload.
	FixupLift FixupOp = "lift"

	// FixupCopy assigns the working-set value at From to To in the
	// request payload.
	FixupCopy FixupOp = "copy"

	// FixupSet assigns the literal Value to To in the request payload.
	FixupSet FixupOp = "set"
)

// Occurrence selects the first or second occurrence of the repeated step.
type Occurrence string

const (
	AnyOccurrence    Occurrence = ""
	FirstOccurrence  Occurrence = "first"
	SecondOccurrence Occurrence = "second"
)

var (
	ErrUnknownFixupOp  = errors.New("unknown fixup op")
	ErrMissingFixupTo  = errors.New("missing fixup target")
	ErrMissingFixupSrc = errors.New("missing fixup source")
)

// Condition restricts a fixup to matching steps.
// Empty fields match anything.
type Condition struct {
	Quantity   string     `yaml:"quantity"`
	Method     string     `yaml:"method"`
	Occurrence Occurrence `yaml:"occurrence"`
}

// Fixup is a best-effort, step-conditional change to an outgoing request.
type Fixup struct {
	Name  string
	Op    FixupOp
	From  []string
	To    []string
	Value payload.Value
	When  Condition
}

// Validate checks f for a known op and the paths the op needs.
func (f Fixup) Validate() error {
	switch f.Op {
	case FixupLift, FixupCopy:
		if len(f.From) < 1 {
			return ErrMissingFixupSrc
		}
	case FixupSet:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownFixupOp, f.Op)
	}
	if len(f.To) < 1 {
		return ErrMissingFixupTo
	}
	switch f.When.Occurrence {
	case AnyOccurrence, FirstOccurrence, SecondOccurrence:
	default:
		return fmt.Errorf("invalid occurrence: %q", f.When.Occurrence)
	}
	return nil
}

// Applies reports whether f applies to step at occurrence occ.
func (f Fixup) Applies(step Step, occ Occurrence) bool {
	if f.When.Quantity != "" && f.When.Quantity != step.Quantity {
		return false
	}
	if f.When.Method != "" && f.When.Method != step.Method {
		return false
	}
	if f.When.Occurrence != AnyOccurrence && f.When.Occurrence != occ {
		return false
	}
	return true
}
