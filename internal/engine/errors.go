package engine

import (
	"errors"
	"fmt"
)

// ValidationError reports input that violates a precondition. Nothing was written.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// ForbiddenTransitionError reports a state change not reachable from the
// current state. Nothing was written.
type ForbiddenTransitionError struct {
	Entity string
	From   string
	To     string
}

func (e ForbiddenTransitionError) Error() string {
	return fmt.Sprintf("invalid %s status transition %s -> %s", e.Entity, e.From, e.To)
}

// ErrSubmissionInFlight is returned while another submission for the same
// defect has not finished.
var ErrSubmissionInFlight = errors.New("remediation submission already in flight")

func invalid(field, reason string) error {
	return ValidationError{Field: field, Reason: reason}
}
