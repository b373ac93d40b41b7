// Package errors provides the error taxonomy of the calibration driver.
//
// Every failure that can end a trial carries a Kind so that callers (the
// study loop, tests, the CLI) can tell a crashed simulation apart from a
// misaligned table or a degenerate metric input without matching on
// message text.
package errors

import (
	stderrors "errors"
	"fmt"
	"runtime"
	"strings"
)

// Kind classifies an error.
type Kind string

const (
	// KindInternal is used for unexpected failures, including recovered panics.
	KindInternal Kind = "internal"
	// KindSimulationFailed means the external simulation could not be started
	// or exited with a nonzero status.
	KindSimulationFailed Kind = "simulation_failed"
	// KindDataAlignment means a (district, day) or (district, date) lookup
	// matched zero or several rows.
	KindDataAlignment Kind = "data_alignment"
	// KindDegenerateInput means a metric input cannot produce a finite value.
	KindDegenerateInput Kind = "degenerate_input"
	// KindLengthMismatch means two sequences that must be aligned differ in length.
	KindLengthMismatch Kind = "length_mismatch"
	// KindParse means an input file could not be parsed.
	KindParse Kind = "parse"
	// KindConfig means the configuration or the study attributes are invalid.
	KindConfig Kind = "config"
	// KindNotFound means a requested study or file does not exist.
	KindNotFound Kind = "not_found"
)

// Error represents an error with a kind, context and stack trace.
type Error struct {
	// Kind classifies the failure
	Kind Kind
	// The operation that was being performed when the error occurred
	Op string
	// A human-readable message describing the error
	Message string
	// The underlying error, if any
	Err error
	// The stack trace captured at construction
	Stack []string
}

// Error implements the error interface.
func (e *Error) Error() string {
	var builder strings.Builder

	if e.Op != "" {
		builder.WriteString(e.Op)
	}

	if e.Message != "" {
		if builder.Len() > 0 {
			builder.WriteString(": ")
		}
		builder.WriteString(e.Message)
	}

	if e.Err != nil {
		if builder.Len() > 0 {
			builder.WriteString(": ")
		}
		builder.WriteString(e.Err.Error())
	}

	if builder.Len() == 0 {
		builder.WriteString(string(e.Kind))
	}

	return builder.String()
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// WithOperation sets the operation on the error.
func (e *Error) WithOperation(op string) *Error {
	e.Op = op
	return e
}

// StackTrace returns the stack trace as a slice of strings.
func (e *Error) StackTrace() []string {
	return e.Stack
}

// New creates a new error of the given kind.
func New(kind Kind, op, msg string) *Error {
	return &Error{
		Kind:    kind,
		Op:      op,
		Message: msg,
		Stack:   getStackTrace(),
	}
}

// Errorf creates a new error of the given kind with a formatted message.
func Errorf(kind Kind, op, format string, args ...interface{}) *Error {
	return &Error{
		Kind:    kind,
		Op:      op,
		Message: fmt.Sprintf(format, args...),
		Stack:   getStackTrace(),
	}
}

// Wrap wraps err with a kind and operation. It returns nil if err is nil.
func Wrap(err error, kind Kind, op, msg string) *Error {
	if err == nil {
		return nil
	}
	return &Error{
		Kind:    kind,
		Op:      op,
		Message: msg,
		Err:     err,
		Stack:   getStackTrace(),
	}
}

// Wrapf is Wrap with a formatted message.
func Wrapf(err error, kind Kind, op, format string, args ...interface{}) *Error {
	if err == nil {
		return nil
	}
	return &Error{
		Kind:    kind,
		Op:      op,
		Message: fmt.Sprintf(format, args...),
		Err:     err,
		Stack:   getStackTrace(),
	}
}

// KindOf returns the kind of the outermost *Error in err's chain, or
// KindInternal if there is none.
func KindOf(err error) Kind {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether any *Error in err's chain has the given kind.
func IsKind(err error, kind Kind) bool {
	for err != nil {
		var e *Error
		if !stderrors.As(err, &e) {
			return false
		}
		if e.Kind == kind {
			return true
		}
		err = e.Err
	}
	return false
}

// getStackTrace returns the current stack trace as a slice of strings.
func getStackTrace() []string {
	const depth = 32
	var pcs [depth]uintptr
	n := runtime.Callers(3, pcs[:]) // Skip runtime.Callers, getStackTrace, and the constructor
	if n == 0 {
		return nil
	}

	frames := runtime.CallersFrames(pcs[:n])
	stack := make([]string, 0, n)

	for {
		frame, more := frames.Next()
		if !strings.Contains(frame.File, "runtime/") && !strings.Contains(frame.File, "internal/errors") {
			stack = append(stack, fmt.Sprintf("%s\n\t%s:%d", frame.Function, frame.File, frame.Line))
		}
		if !more {
			break
		}
	}

	return stack
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return stderrors.As(err, target)
}

// Unwrap returns the result of calling the Unwrap method on err, if any.
func Unwrap(err error) error {
	return stderrors.Unwrap(err)
}
