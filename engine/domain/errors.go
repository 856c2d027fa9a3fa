package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for validation failures.
var (
	ErrMissingID         = errors.New("missing identifier")
	ErrMissingField      = errors.New("missing required field")
	ErrDuplicateID       = errors.New("duplicate identifier")
	ErrInvalidCategory   = errors.New("invalid category")
	ErrInvalidImportance = errors.New("invalid importance")
)

// ValidationError wraps a sentinel with the location of the offending item.
type ValidationError struct {
	Path    string // e.g. exams[1].subjects[0]
	Field   string
	Value   string
	Wrapped error
}

func (e *ValidationError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("validation: %s: %s (value=%q)", e.Wrapped, e.Field, e.Value)
	}
	return fmt.Sprintf("validation: %s: %s: %s (value=%q)", e.Path, e.Wrapped, e.Field, e.Value)
}

func (e *ValidationError) Unwrap() error { return e.Wrapped }

// NewValidationError creates a ValidationError.
func NewValidationError(path, field, value string, wrapped error) *ValidationError {
	return &ValidationError{Path: path, Field: field, Value: value, Wrapped: wrapped}
}

// ItemErrors collects one error per rejected item so operators can see
// every bad input of a batch instead of only the first.
type ItemErrors struct {
	Errs []error
}

// Add appends err when it is non-nil.
func (e *ItemErrors) Add(err error) {
	if err != nil {
		e.Errs = append(e.Errs, err)
	}
}

// Len returns the number of collected errors.
func (e *ItemErrors) Len() int {
	if e == nil {
		return 0
	}
	return len(e.Errs)
}

// ErrOrNil returns e when it holds errors and nil otherwise.
func (e *ItemErrors) ErrOrNil() error {
	if e.Len() == 0 {
		return nil
	}
	return e
}

func (e *ItemErrors) Error() string {
	msgs := make([]string, len(e.Errs))
	for i, err := range e.Errs {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("%d invalid items: %s", len(e.Errs), strings.Join(msgs, "; "))
}

func (e *ItemErrors) Unwrap() []error { return e.Errs }
