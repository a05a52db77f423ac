// Package engine wires schema, provider, generate, draft, resolve, cascade,
// and hydrate into the pipeline entity operations of spec §4.9: get, list,
// find, search, create, draft, resolve, update, upsert, delete, forEach,
// semanticSearch, and hybridSearch, plus the closed error taxonomy of
// spec §4.10.
package engine

import (
	"errors"
	"fmt"

	"github.com/vertexdb/vertex/vxerr"
)

// UnknownTypeError is returned whenever an operation names a type the
// current schema doesn't declare.
type UnknownTypeError struct {
	Type string
}

func (e *UnknownTypeError) Error() string {
	return fmt.Sprintf("vertex: %q is not a declared entity type", e.Type)
}

// Re-exported so engine callers don't need to import vxerr directly for
// the common predicates (spec §4.10: "a closed error taxonomy").
var (
	ErrSystemEntityImmutable = vxerr.ErrSystemEntityImmutable
	IsNotFound               = vxerr.IsNotFound
	IsExists                 = vxerr.IsExists
	IsCapabilityNotSupported = vxerr.IsCapabilityNotSupported
)

// IsUnknownType reports whether err is (or wraps) an UnknownTypeError.
func IsUnknownType(err error) bool {
	var e *UnknownTypeError
	return errors.As(err, &e)
}

// isSystemType reports whether typ names one of the derived, read-only
// system entities (spec §3/§7: Noun, Verb, Edge, Thing are never
// created/updated/deleted through ordinary CRUD).
func isSystemType(typ string) bool {
	switch typ {
	case "Noun", "Verb", "Edge", "Thing":
		return true
	default:
		return false
	}
}
