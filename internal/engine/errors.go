package engine

import (
	"errors"
	"fmt"
)

// Failure categories callers can test for with errors.Is.
var (
	// ErrResourceNotFound is returned when no loader has the template.
	ErrResourceNotFound = errors.New("resource not found")

	// ErrParse is returned when a template cannot be parsed or escaped.
	ErrParse = errors.New("template parse error")
)

// InvocationError reports that a method or function called by a template
// failed while the template was being merged.
type InvocationError struct {
	Template string
	Err      error
}

func (e *InvocationError) Error() string {
	return fmt.Sprintf("invocation failed in %s: %v", e.Template, e.Err)
}

func (e *InvocationError) Unwrap() error { return e.Err }

// Cause returns the innermost wrapped error: what the invoked tool
// actually returned or panicked with.
func (e *InvocationError) Cause() error {
	err := e.Err
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err
		}
		err = next
	}
}
