// Package errs defines the error taxonomy shared across propsearch
// components: transient (retriable), input (caller mistake), contract
// (invariant violation) and systemic (degraded-but-alive) errors.
package errs

import (
	"errors"
	"fmt"
)

// Class classifies an error for propagation-policy decisions (§7).
type Class string

const (
	ClassTransient Class = "transient"
	ClassInput     Class = "input"
	ClassContract  Class = "contract"
	ClassSystemic  Class = "systemic"
)

// Sentinel errors referenced by invariant checks across packages.
var (
	// ErrModelMismatch is I6/I9: a cache record or index entry was
	// produced by a model id other than the one requested.
	ErrModelMismatch = errors.New("model id mismatch")
	// ErrDimensionMismatch is I10: vector dimension differs from the
	// dimension fixed at index create time.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
	// ErrMissingVectors is I3: has_valid_embeddings=true but no usable
	// vector is present.
	ErrMissingVectors = errors.New("document marked has_valid_embeddings but has no vectors")
	// ErrUnsupportedStyle is I4: a style token outside the closed set S.
	ErrUnsupportedStyle = errors.New("architecture style outside supported set")
	// ErrIncompatibleMapping is the §4.4 idempotence contract error:
	// index already exists with a mapping that disagrees with the
	// caller's requested schema.
	ErrIncompatibleMapping = errors.New("existing index mapping is incompatible")
	// ErrNotFound is returned by CRUD lookups (§6.2) for unknown zpid.
	ErrNotFound = errors.New("listing not found")
	// ErrClosed indicates an operation on a closed store.
	ErrClosed = errors.New("store is closed")
	// ErrEmptyQuery indicates an empty query vector/text was supplied
	// where one is required.
	ErrEmptyQuery = errors.New("empty query")
)

// Error wraps an underlying error with an operation name and class,
// mirroring the teacher's StoreError{Op, Err} wrapping style.
type Error struct {
	Op    string
	Class Class
	Err   error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("propsearch: [%s] %v", e.Class, e.Err)
	}
	return fmt.Sprintf("propsearch: %s: [%s] %v", e.Op, e.Class, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool { return errors.Is(e.Err, target) }

// Wrap attaches an operation name and class to err. Returns nil if err
// is nil, so call sites can write `return errs.Wrap(op, class, err)`
// unconditionally.
func Wrap(op string, class Class, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Class: class, Err: err}
}

// ClassOf extracts the Class of an error produced by Wrap, defaulting
// to ClassSystemic for errors not wrapped by this package (matches the
// degraded-response posture of §7 for unclassified failures).
func ClassOf(err error) Class {
	var e *Error
	if errors.As(err, &e) {
		return e.Class
	}
	return ClassSystemic
}

// Transient reports whether err should be retried with backoff.
func Transient(err error) bool {
	return ClassOf(err) == ClassTransient
}
