package models

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation is matched by every *ValidationError.
	ErrValidation = errors.New("postfeed: validation failed")
	// ErrNotFound indicates a missing post, group or profile.
	ErrNotFound = errors.New("postfeed: not found")
	// ErrAuthRequired indicates an anonymous viewer asked for a personalized resource.
	ErrAuthRequired = errors.New("postfeed: authentication required")
	// ErrSelfFollow indicates a follow edge from a user to themselves.
	ErrSelfFollow = errors.New("postfeed: cannot follow yourself")
	// ErrNotAuthor indicates a post mutation by someone other than its author.
	ErrNotAuthor = errors.New("postfeed: only the author may change this post")
)

// ValidationError describes malformed mutation input the caller can correct.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed: %s %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}
