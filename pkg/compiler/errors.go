package compiler

import (
	"errors"
	"fmt"
)

// ErrorKind classifies compilation failures.
type ErrorKind string

const (
	KindCanceled          ErrorKind = "canceled"
	KindUnsupportedOS     ErrorKind = "unsupported_os"
	KindInvalidParams     ErrorKind = "invalid_params"
	KindDuplicateResource ErrorKind = "duplicate_resource"
	KindUnknownType       ErrorKind = "unknown_type"
	KindUnknownProvider   ErrorKind = "unknown_provider"
	KindUnknownAttribute  ErrorKind = "unknown_attribute"
	KindUnresolvedRef     ErrorKind = "unresolved_ref"
	KindDependencyCycle   ErrorKind = "dependency_cycle"
	KindInternal          ErrorKind = "internal"
)

// CompilationError reports why a catalog could not be compiled.
type CompilationError struct {
	OS       string // context name, empty when compiling from a facts file
	Kind     ErrorKind
	Resource string // offending resource reference, if any
	Err      error
}

func (e *CompilationError) Error() string {
	if e == nil {
		return "<nil>"
	}
	base := "compile"
	if e.OS != "" {
		base += fmt.Sprintf(" on %s", e.OS)
	}
	base += fmt.Sprintf(": %s", e.Kind)
	if e.Resource != "" {
		base += fmt.Sprintf(" (resource=%s)", e.Resource)
	}
	if e.Err != nil {
		base += fmt.Sprintf(": %v", e.Err)
	}
	return base
}

func (e *CompilationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// IsKind reports whether err is a CompilationError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var ce *CompilationError
	if errors.As(err, &ce) {
		return ce.Kind == kind
	}
	return false
}

// KindOf returns the kind of a CompilationError, or "" for other errors.
func KindOf(err error) ErrorKind {
	var ce *CompilationError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return ""
}
