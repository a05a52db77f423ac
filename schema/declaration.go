// Package schema turns a declarative entity map into a normalized,
// validated ParsedSchema: the schema normalizer (spec §4.2) and the
// system-entity projector (spec §4.3).
package schema

// Declaration is the flat authoring surface described in spec §3 and §6.2:
// a mapping from entity type name to a mapping from field name to a field
// definition. Keys beginning with '$' are schema-level metadata, not
// fields; their values are plain strings/numbers rather than field
// definitions.
//
// A field definition value is either a string or a one-element []string
// (the array-literal form); this is enforced at parse time, not by the Go
// type system, so Declaration uses `any` for field values.
type Declaration map[string]map[string]any

// Metadata holds the '$'-prefixed schema-level keys for one entity.
type Metadata struct {
	// FuzzyThreshold is the default similarity threshold ("$fuzzyThreshold")
	// applied to fuzzy relation fields that don't declare their own.
	FuzzyThreshold float64

	// Instructions ("$instructions") is injected into generation context
	// for every generated field/entity of this type.
	Instructions string

	// Context ("$context") is additional free-form generation context.
	Context string

	// Seed ("$seed") points at a seed dataset for this entity.
	Seed string

	// SeedID ("$id") names the seed column mapped to the entity's $id.
	SeedID string
}

// DefaultFuzzyThreshold is used when an entity declares no $fuzzyThreshold.
const DefaultFuzzyThreshold = 0.75

// isMetadataKey reports whether key is schema-level metadata rather than a
// field name.
func isMetadataKey(key string) bool {
	return len(key) > 0 && key[0] == '$'
}
