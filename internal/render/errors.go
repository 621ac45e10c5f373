package render

import (
	"errors"
	"fmt"
	"strings"

	"viewtools/internal/engine"
)

// PanicError carries a panic recovered while rendering.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// RootCauser is implemented by wrapper errors that know their root cause,
// such as *engine.InvocationError.
type RootCauser interface {
	Cause() error
}

var _ RootCauser = (*engine.InvocationError)(nil)

// IncludeError reports a failed include of a secondary resource.
type IncludeError struct {
	Path string
	Err  error
}

func (e *IncludeError) Error() string {
	return fmt.Sprintf("include %s: %v", e.Path, e.Err)
}

func (e *IncludeError) Unwrap() error { return e.Err }

func newIncludeError(path string, err error) *IncludeError {
	var rc RootCauser
	if errors.As(err, &rc) {
		if cause := rc.Cause(); cause != nil {
			err = cause
		}
	}
	return &IncludeError{Path: path, Err: err}
}

// formatTrace renders err for the stack_trace context key: the recovered
// goroutine stack for panics, otherwise the chain of wrapped errors.
func formatTrace(err error) string {
	var pe *PanicError
	if errors.As(err, &pe) && len(pe.Stack) > 0 {
		return fmt.Sprintf("%v\n\n%s", pe.Value, pe.Stack)
	}
	var b strings.Builder
	for i := 0; err != nil; i++ {
		if i > 0 {
			b.WriteString("\ncaused by: ")
		}
		b.WriteString(err.Error())
		err = errors.Unwrap(err)
	}
	return b.String()
}
