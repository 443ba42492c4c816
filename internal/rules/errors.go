package rules

import "fmt"

// EvaluationError reports that a rule could not be evaluated. It wraps
// the originating cause and identifies the failing rule by name. No
// partial scoring result exists when this error is returned.
type EvaluationError struct {
	RuleName string
	Err      error
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("failed to evaluate rule %s: %v", e.RuleName, e.Err)
}

func (e *EvaluationError) Unwrap() error {
	return e.Err
}
