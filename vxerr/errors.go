// Package vxerr holds the closed error taxonomy of spec §4.10/§7, kept in
// its own package (the way pthm-melange/pkg/compiler re-exports
// internal/sqlgen types) so every layer of the pipeline - provider,
// draft, resolve, cascade, hydrate, engine - can return and check these
// errors without import cycles.
package vxerr

import (
	"errors"
	"fmt"
)

// ErrSystemEntityImmutable is returned, verbatim, whenever a caller
// attempts to create, update, or delete a Noun, Verb, Edge, or Thing
// system entity through CRUD (spec §3, §7: "a fixed message: those rows
// are derived, never user-owned").
var ErrSystemEntityImmutable = errors.New("vertex: system entities are derived and cannot be created, updated, or deleted")

// EntityNotFoundError is raised when an operation references an entity
// that does not exist.
type EntityNotFoundError struct {
	Type string
	ID   string
}

func (e *EntityNotFoundError) Error() string {
	return fmt.Sprintf("vertex: %s %q not found", e.Type, e.ID)
}

// EntityExistsError is raised when a create collides with an existing ID.
type EntityExistsError struct {
	Type string
	ID   string
}

func (e *EntityExistsError) Error() string {
	return fmt.Sprintf("vertex: %s %q already exists", e.Type, e.ID)
}

// CapabilityNotSupportedError is raised when an optional provider
// capability (semantic search, hybrid search, events, actions, artifacts,
// embeddings config) is invoked against a provider that does not implement
// it.
type CapabilityNotSupportedError struct {
	Capability string
	Fallback   string // suggested fallback behavior, if any
}

func (e *CapabilityNotSupportedError) Error() string {
	if e.Fallback == "" {
		return fmt.Sprintf("vertex: capability %q not supported by this provider", e.Capability)
	}
	return fmt.Sprintf("vertex: capability %q not supported by this provider (%s)", e.Capability, e.Fallback)
}

// DatabaseError wraps a provider-raised error with the operation context
// that produced it (spec §4.10, §7: "carries operation/type/id").
type DatabaseError struct {
	Op    string
	Type  string
	ID    string
	Cause error
}

func (e *DatabaseError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("vertex: %s %s: %v", e.Op, e.Type, e.Cause)
	}
	return fmt.Sprintf("vertex: %s %s %q: %v", e.Op, e.Type, e.ID, e.Cause)
}

func (e *DatabaseError) Unwrap() error { return e.Cause }

// Wrap turns a raw provider error into a DatabaseError, attaching
// operation context. A nil err returns nil.
func Wrap(op, typ, id string, err error) error {
	if err == nil {
		return nil
	}
	var notFound *EntityNotFoundError
	var exists *EntityExistsError
	if errors.As(err, &notFound) || errors.As(err, &exists) {
		return err // already a typed taxonomy error; don't double-wrap
	}
	return &DatabaseError{Op: op, Type: typ, ID: id, Cause: err}
}

// IsNotFound reports whether err is (or wraps) an EntityNotFoundError.
func IsNotFound(err error) bool {
	var e *EntityNotFoundError
	return errors.As(err, &e)
}

// IsExists reports whether err is (or wraps) an EntityExistsError.
func IsExists(err error) bool {
	var e *EntityExistsError
	return errors.As(err, &e)
}

// IsCapabilityNotSupported reports whether err is (or wraps) a
// CapabilityNotSupportedError.
func IsCapabilityNotSupported(err error) bool {
	var e *CapabilityNotSupportedError
	return errors.As(err, &e)
}
