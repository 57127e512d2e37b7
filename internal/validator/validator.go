// Package validator accumulates fail-fast checks against a job's argv and
// options before any backend is invoked, so construction errors never reach
// a half-started exec helper or a submitted cluster job.
package validator

import (
	"errors"
	"fmt"
)

// ErrInvalidInput marks an error as a failed construction-time check.
var ErrInvalidInput = errors.New("invalid input")

// NewErrInvalidInput wraps ErrInvalidInput with a caller-supplied detail.
func NewErrInvalidInput(msg string) error {
	return fmt.Errorf("%w; msg: %s", ErrInvalidInput, msg)
}

// New returns a Validator ready to accumulate checks.
func New() *Validator {
	return &Validator{}
}

// Validator runs a sequence of conditions and keeps only the first failure:
// once a check fails, later Assert/AssertFunc calls are no-ops, so callers
// can chain checks without guarding each one on the previous succeeding.
type Validator struct {
	err error
}

// AssertFunc records msg as the validator's error if fn returns false and no
// earlier check has already failed.
func (v *Validator) AssertFunc(fn func() bool, msg string) {
	if v.err != nil {
		return
	}
	if !fn() {
		v.err = NewErrInvalidInput(msg)
	}
}

// Assert records msg as the validator's error if condition is false and no
// earlier check has already failed.
func (v *Validator) Assert(condition bool, msg string) {
	if v.err != nil {
		return
	}
	if !condition {
		v.err = NewErrInvalidInput(msg)
	}
}

// Err returns the first recorded failure, or nil if every check passed.
func (v Validator) Err() error {
	return v.err
}

// Format renders msg in the validator's standard invalid-input phrasing, for
// callers that build their own error text instead of going through Assert.
func Format(msg string) string {
	return fmt.Sprintf("invalid input; %s", msg)
}
