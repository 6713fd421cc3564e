package pipeline

import (
	"errors"
	"fmt"
	"strings"
)

// StepError attributes a failure to the step that raised it.
type StepError struct {
	Step  string
	Index int
	Err   error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("error in step `%s` (index %d): %v", e.Step, e.Index, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// GroupError reports every failure of a parallel run in step-list order.
type GroupError struct {
	Failures []*StepError
}

// First returns the failure of the earliest failing step in list order.
func (e *GroupError) First() *StepError {
	if e == nil || len(e.Failures) == 0 {
		return nil
	}
	return e.Failures[0]
}

func (e *GroupError) Error() string {
	first := e.First()
	if first == nil {
		return "parallel group failed"
	}
	if extra := len(e.Failures) - 1; extra > 0 {
		names := make([]string, 0, extra)
		for _, f := range e.Failures[1:] {
			names = append(names, f.Step)
		}
		return fmt.Sprintf("%s (also failed: %s)", first.Error(), strings.Join(names, ", "))
	}
	return first.Error()
}

// Unwrap exposes every failure so errors.As finds the first StepError.
func (e *GroupError) Unwrap() []error {
	out := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		out = append(out, f)
	}
	return out
}

// FailedStep returns the step attributed to err, if any.
func FailedStep(err error) (*StepError, bool) {
	var stepErr *StepError
	if errors.As(err, &stepErr) {
		return stepErr, true
	}
	return nil, false
}

// panicError carries a recovered panic value out of a step.
type panicError struct {
	value any
}

func (e *panicError) Error() string {
	return fmt.Sprintf("step panicked: %v", e.value)
}
