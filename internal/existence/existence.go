// Package existence answers "does this resource exist in the service that owns it?"
// for writes that reference data held elsewhere.
package existence

import (
	"context"
	"errors"
	"fmt"
)

// Kind names a resource type owned by another service
type Kind string

const (
	KindProject Kind = "project"
	KindUser    Kind = "user"
)

var (
	// ErrNotFound means the owning service answered and the resource is absent
	ErrNotFound = errors.New("referenced resource not found")
	// ErrUnavailable means no definitive answer could be obtained
	ErrUnavailable = errors.New("existence check unavailable")
)

// Checker reports whether a resource exists. A false result is only returned
// on a definitive negative answer; anything else is ErrUnavailable.
type Checker interface {
	Exists(ctx context.Context, kind Kind, id string) (bool, error)
}

// CheckerFunc adapts a function to Checker
type CheckerFunc func(ctx context.Context, kind Kind, id string) (bool, error)

func (f CheckerFunc) Exists(ctx context.Context, kind Kind, id string) (bool, error) {
	return f(ctx, kind, id)
}

// NotFoundError carries the missing reference
type NotFoundError struct {
	Kind Kind
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q does not exist", e.Kind, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }
