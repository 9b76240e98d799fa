package qgraph

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidPattern is returned for configuration errors: malformed
	// conditions, unknown operators, undeclared roles, bad annotations and
	// type-incompatible comparisons. It is raised before any match is
	// computed.
	ErrInvalidPattern = errors.New("invalid pattern")

	// ErrReleased is returned when a released relation is released again or
	// passed to an operator.
	ErrReleased = errors.New("match relation already released")

	// ErrScopeMisuse is returned when scopes are closed twice or out of
	// order, or when a relation is kept by a scope that does not own it.
	ErrScopeMisuse = errors.New("scope misuse")
)

// ValidationError lists every problem found in a pattern.
type ValidationError struct {
	Pattern  string
	Problems []string
}

func (e *ValidationError) Error() string {
	name := e.Pattern
	if name == "" {
		name = "<unnamed>"
	}
	return fmt.Sprintf("invalid pattern %s: %s", name, strings.Join(e.Problems, "; "))
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidPattern
}

func (e *ValidationError) addf(format string, args ...any) {
	e.Problems = append(e.Problems, fmt.Sprintf(format, args...))
}

func (e *ValidationError) orNil() error {
	if len(e.Problems) == 0 {
		return nil
	}
	return e
}

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidPattern, fmt.Sprintf(format, args...))
}
