package engine

import (
	"errors"
	"fmt"

	"github.com/micromdm/nanotenant/logkeys"

	"github.com/micromdm/nanolib/log"
)

// FatalError stops the orchestration loop.
// It is returned when resolving or building the next step fails on
// the completion or discovery path. The in-memory state is rolled back
// and recovery resumes from the last checkpoint on restart.
type FatalError struct {
	Op         string
	InstanceID string
	Err        error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal: %s: instance %s: %v", e.Op, e.InstanceID, e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// IsFatal reports whether err contains a *FatalError.
func IsFatal(err error) bool {
	var fatal *FatalError
	return errors.As(err, &fatal)
}

// Outcome is the result of resolving a template key or applying a fixup.
type Outcome int

const (
	Resolved Outcome = iota
	Skipped
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Resolved:
		return "resolved"
	case Skipped:
		return "skipped"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("Outcome(%d)", int(o))
}

// Source names where a template key's value came from.
type Source string

const (
	FromExact    Source = "exact"
	FromComputed Source = "computed"
	FromStatic   Source = "static"
	FromNested   Source = "nested"
	FromFixup    Source = "fixup"
)

// Resolution records how a single template key or fixup was handled.
type Resolution struct {
	Key     string
	Outcome Outcome
	Source  Source
	Reason  string // set when skipped
	Err     error  // set when failed
}

// logAndError logs err with msg and returns err wrapped with msg.
func logAndError(err error, logger log.Logger, msg string) error {
	logger.Info(
		logkeys.Message, msg,
		logkeys.Error, err,
	)
	return fmt.Errorf("%s: %w", msg, err)
}
