package schema

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/vertexdb/vertex/vtype"
)

// ErrInvalidSchema is the sentinel wrapped by every InvalidSchemaError,
// following pthm-melange/errors.go's sentinel + Is*Err helper pattern.
var ErrInvalidSchema = errors.New("schema: invalid schema")

// InvalidSchemaError reports a schema reference to a type that does not
// exist (spec §4.2: "Fails with InvalidSchemaError when a referenced type
// is absent").
type InvalidSchemaError struct {
	Entity string
	Field  string
	Reason string
}

func (e *InvalidSchemaError) Error() string {
	return fmt.Sprintf("schema: %s.%s: %s", e.Entity, e.Field, e.Reason)
}

func (e *InvalidSchemaError) Unwrap() error { return ErrInvalidSchema }

// IsInvalidSchemaErr reports whether err is or wraps an InvalidSchemaError.
func IsInvalidSchemaErr(err error) bool {
	return errors.Is(err, ErrInvalidSchema)
}

// ParsedField is the runtime description of one field on a ParsedEntity,
// per spec §3's "Parsed schema (runtime)" section.
type ParsedField struct {
	Name       string
	Type       string // primitive type name, or RelatedType when IsRelation
	IsArray    bool
	IsOptional bool
	IsRelation bool

	RelatedType string
	Backref     string
	UnionTypes  []string

	Operator  vtype.Operator
	Direction vtype.Direction
	MatchMode vtype.MatchMode
	Prompt    string
	Threshold float64

	SeedMapping string

	// Synthesized is true for inverse fields created by bidirectional
	// synthesis (pass 3) rather than declared directly.
	Synthesized bool

	// InferredBackref is computed at normalize time for the hydrator's
	// "no explicit backref declared" fallback (spec §4.8): when a backward
	// field has no declared Backref, this names the forward field on the
	// related entity that points back to the owning entity, found by
	// scanning the related entity's fields once at normalize time rather
	// than per hydration call.
	InferredBackref string
}

// ParsedEntity is one normalized entity type: its fields in a stable order
// (declared fields alphabetical, since Go maps carry no declaration order,
// then any synthesized inverse fields), plus its schema-level metadata.
type ParsedEntity struct {
	Name   string
	Fields []*ParsedField

	Metadata Metadata
}

// Field looks up a field by name, or returns nil.
func (e *ParsedEntity) Field(name string) *ParsedField {
	for _, f := range e.Fields {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// ParsedSchema is the fully normalized, validated graph of entities and
// fields produced by Normalize.
type ParsedSchema struct {
	Entities map[string]*ParsedEntity
	// Order holds entity names in a stable (alphabetical) order, for
	// deterministic iteration (codegen, system-entity projection).
	Order []string
}

// Entity looks up an entity by name, or returns nil.
func (s *ParsedSchema) Entity(name string) *ParsedEntity {
	return s.Entities[name]
}

// Normalize runs all three normalization passes of spec §4.2 over decl:
// parse every field, validate non-union relation targets exist, then
// synthesize inverse (backref) fields.
func Normalize(decl Declaration) (*ParsedSchema, error) {
	ps := &ParsedSchema{Entities: make(map[string]*ParsedEntity, len(decl))}

	names := make([]string, 0, len(decl))
	for name := range decl {
		names = append(names, name)
	}
	sort.Strings(names)
	ps.Order = names

	// Pass 1: parse every field.
	for _, name := range names {
		entity, err := parseEntity(name, decl[name])
		if err != nil {
			return nil, err
		}
		ps.Entities[name] = entity
	}

	// Pass 2: validate explicit, non-union relation targets exist.
	for _, name := range names {
		entity := ps.Entities[name]
		for _, f := range entity.Fields {
			if !f.IsRelation || len(f.UnionTypes) > 0 {
				continue
			}
			if _, ok := ps.Entities[f.RelatedType]; !ok {
				return nil, &InvalidSchemaError{
					Entity: name,
					Field:  f.Name,
					Reason: fmt.Sprintf("references undeclared type %q", f.RelatedType),
				}
			}
		}
	}

	// Pass 3: synthesize inverse fields for every declared backref.
	synthesizeInverses(ps)

	// Compute InferredBackref for backward fields lacking an explicit one.
	computeInferredBackrefs(ps)

	return ps, nil
}

func parseEntity(name string, fields map[string]any) (*ParsedEntity, error) {
	entity := &ParsedEntity{Name: name, Metadata: Metadata{FuzzyThreshold: DefaultFuzzyThreshold}}

	fieldNames := make([]string, 0, len(fields))
	for fname := range fields {
		fieldNames = append(fieldNames, fname)
	}
	sort.Strings(fieldNames)

	for _, fname := range fieldNames {
		raw := fields[fname]

		if isMetadataKey(fname) {
			if err := applyMetadata(&entity.Metadata, fname, raw); err != nil {
				return nil, &InvalidSchemaError{Entity: name, Field: fname, Reason: err.Error()}
			}
			continue
		}

		if s, ok := raw.(string); ok && strings.HasPrefix(s, "$.") {
			entity.Fields = append(entity.Fields, &ParsedField{
				Name:        fname,
				Type:        string(vtype.TString),
				SeedMapping: strings.TrimPrefix(s, "$."),
			})
			continue
		}

		spec, err := vtype.ParseField(raw)
		if err != nil {
			return nil, &InvalidSchemaError{Entity: name, Field: fname, Reason: err.Error()}
		}

		pf := &ParsedField{
			Name:        fname,
			IsArray:     spec.IsArray,
			IsOptional:  spec.IsOptional,
			IsRelation:  spec.IsRelation,
			RelatedType: spec.RelatedType,
			Backref:     spec.Backref,
			UnionTypes:  spec.UnionTypes,
			Operator:    spec.Operator,
			Direction:   spec.Direction,
			MatchMode:   spec.MatchMode,
			Prompt:      spec.Prompt,
		}
		if spec.IsRelation {
			pf.Type = spec.RelatedType
		} else {
			pf.Type = string(spec.Primitive)
		}
		if spec.Threshold != nil {
			pf.Threshold = *spec.Threshold
		} else {
			pf.Threshold = entity.Metadata.FuzzyThreshold
		}
		entity.Fields = append(entity.Fields, pf)
	}

	return entity, nil
}

func applyMetadata(m *Metadata, key string, raw any) error {
	switch key {
	case "$fuzzyThreshold":
		v, ok := toFloat(raw)
		if !ok {
			return fmt.Errorf("$fuzzyThreshold must be a number")
		}
		m.FuzzyThreshold = v
	case "$instructions":
		s, ok := raw.(string)
		if !ok {
			return fmt.Errorf("$instructions must be a string")
		}
		m.Instructions = s
	case "$context":
		s, ok := raw.(string)
		if !ok {
			return fmt.Errorf("$context must be a string")
		}
		m.Context = s
	case "$seed":
		s, ok := raw.(string)
		if !ok {
			return fmt.Errorf("$seed must be a string")
		}
		m.Seed = s
	case "$id":
		s, ok := raw.(string)
		if !ok {
			return fmt.Errorf("$id must be a string")
		}
		m.SeedID = s
	default:
		return fmt.Errorf("unrecognized schema metadata key %q", key)
	}
	return nil
}

func toFloat(raw any) (float64, bool) {
	switch v := raw.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	default:
		return 0, false
	}
}

// synthesizeInverses implements spec §4.2 pass 3 / §3's invariant: for
// every field A.x declaring backref='y' targeting B, add a synthesized
// B.y if not already present - array, non-optional, relational, targeting
// A, backref pointing back to x.
func synthesizeInverses(ps *ParsedSchema) {
	// Collect synthesis work first so we don't mutate Entities while
	// ranging over a snapshot of the original declared fields.
	type inverse struct {
		targetEntity string
		fieldName    string
		relatedType  string
		backref      string
	}
	var toAdd []inverse

	for _, name := range ps.Order {
		entity := ps.Entities[name]
		for _, f := range entity.Fields {
			if !f.IsRelation || f.Backref == "" || f.Synthesized {
				continue
			}
			target, ok := ps.Entities[f.RelatedType]
			if !ok {
				continue // union or otherwise-unvalidated target; skip
			}
			if target.Field(f.Backref) != nil {
				continue // already declared or already synthesized
			}
			toAdd = append(toAdd, inverse{
				targetEntity: f.RelatedType,
				fieldName:    f.Backref,
				relatedType:  name,
				backref:      f.Name,
			})
		}
	}

	for _, inv := range toAdd {
		target := ps.Entities[inv.targetEntity]
		if target.Field(inv.fieldName) != nil {
			continue
		}
		target.Fields = append(target.Fields, &ParsedField{
			Name:        inv.fieldName,
			Type:        inv.relatedType,
			IsArray:     true,
			IsOptional:  false,
			IsRelation:  true,
			RelatedType: inv.relatedType,
			Backref:     inv.backref,
			Direction:   vtype.Backward,
			MatchMode:   vtype.Exact,
			Synthesized: true,
		})
	}
}

// computeInferredBackrefs implements the hydrator's normalize-time
// fallback (spec §4.8): for a backward field without an explicit backref,
// find the forward single field on the related entity that points back to
// the owning entity; fall back to the lowercased owning-type name.
func computeInferredBackrefs(ps *ParsedSchema) {
	for _, name := range ps.Order {
		entity := ps.Entities[name]
		for _, f := range entity.Fields {
			if f.Direction != vtype.Backward || f.Backref != "" {
				continue
			}
			related, ok := ps.Entities[f.RelatedType]
			if !ok {
				f.InferredBackref = strings.ToLower(name)
				continue
			}
			found := ""
			for _, rf := range related.Fields {
				if rf.IsRelation && rf.Direction == vtype.Forward && !rf.IsArray && rf.RelatedType == name {
					found = rf.Name
					break
				}
			}
			if found == "" {
				found = strings.ToLower(name)
			}
			f.InferredBackref = found
		}
	}
}
