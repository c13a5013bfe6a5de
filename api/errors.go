package api

import (
	"errors"
	"fmt"
)

// Kind classifies failures of the export pipeline.
type Kind string

const (
	// KindConfigurationMissing covers absent ICC profiles and tools that are
	// not installed. It degrades a strategy chain but is never fatal.
	KindConfigurationMissing Kind = "ConfigurationMissing"
	// KindInvalidInput is fatal for a single call and is raised before any
	// external process is spawned.
	KindInvalidInput Kind = "InvalidInput"
	// KindToolInvocationFailure is a non-zero exit of an external tool.
	KindToolInvocationFailure Kind = "ToolInvocationFailure"
	// KindValidationInconclusive is a probe that failed or produced
	// unparseable output.
	KindValidationInconclusive Kind = "ValidationInconclusive"
)

type Error struct {
	Kind    Kind
	Op      string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Kind, e.Op, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Kind, e.Op, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func NewError(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

// Errorf creates an error of the given kind with a formatted message
func Errorf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind to err. An err that already carries a kind is
// returned unchanged.
func Wrap(kind Kind, op, message string, err error) error {
	if err == nil {
		return nil
	}
	var typed *Error
	if errors.As(err, &typed) {
		return err
	}
	return &Error{Kind: kind, Op: op, Message: message, Cause: err}
}

// IsKind reports whether any error in the chain has the given kind.
func IsKind(err error, kind Kind) bool {
	var target *Error
	if errors.As(err, &target) {
		return target.Kind == kind
	}
	return false
}
