package schema

import (
	"strings"

	"github.com/vertexdb/vertex/vtype"
)

// NounRecord is a virtual Noun system entity: one per declared entity type
// (spec §4.3).
type NounRecord struct {
	ID            string
	Type          string // always "Noun"
	Name          string
	Plural        string
	Slug          string
	Description   string
	Properties    []string
	Relationships []string
}

// VerbRecord is a virtual Verb system entity: one per registered verb.
type VerbRecord struct {
	ID   string
	Type string // always "Verb"
	Name string
}

// EdgeCardinality classifies a relationship field's cardinality.
type EdgeCardinality string

const (
	ManyToMany EdgeCardinality = "many-to-many"
	OneToMany  EdgeCardinality = "one-to-many"
	ManyToOne  EdgeCardinality = "many-to-one"
)

// EdgeRecord is a virtual Edge system entity: one per relationship field,
// plus any runtime rows merged in from fuzzy matches (spec §4.3/§4.6).
type EdgeRecord struct {
	ID          string
	Type        string // always "Edge"
	From        string
	Name        string
	To          string
	Direction   vtype.Direction
	MatchMode   vtype.MatchMode
	Cardinality EdgeCardinality

	// Runtime-only fields, populated for fuzzy-match rows fetched through
	// the Provider façade rather than derived from the declared schema.
	FromID      string
	ToID        string
	Similarity  *float64
	MatchedType string
}

// key identifies an Edge by its declaring field, the unit used when
// shadowing schema rows with runtime rows (spec §4.3: "merges, letting
// runtime fuzzy rows shadow schema fuzzy rows with the same from:name
// key").
func (e EdgeRecord) key() string { return e.From + ":" + e.Name }

// ThingType is the fixed name of the abstract root system entity every
// stored record is conceptually an instance of.
const ThingType = "Thing"

// SystemEntities holds the three derived, read-only record sets the
// projector produces from a ParsedSchema.
type SystemEntities struct {
	Nouns []NounRecord
	Verbs []VerbRecord
	Edges []EdgeRecord
}

// Project derives the virtual Noun/Verb/Edge rows from a normalized
// schema, per spec §4.3. verbs is the set of registered verb names
// (out-of-scope action/event bookkeeping supplies these at runtime; an
// empty slice is fine for schema-only use).
func Project(ps *ParsedSchema, verbs []string) *SystemEntities {
	se := &SystemEntities{}

	for _, name := range ps.Order {
		entity := ps.Entities[name]
		noun := NounRecord{
			ID:          "noun_" + strings.ToLower(name),
			Type:        "Noun",
			Name:        name,
			Plural:      pluralize(name),
			Slug:        slugify(name),
			Description: "A " + name,
		}
		for _, f := range entity.Fields {
			if f.IsRelation {
				noun.Relationships = append(noun.Relationships, f.Name)
			} else {
				noun.Properties = append(noun.Properties, f.Name)
			}
		}
		se.Nouns = append(se.Nouns, noun)

		for _, f := range entity.Fields {
			if !f.IsRelation {
				continue
			}
			se.Edges = append(se.Edges, schemaEdge(name, f))
		}
	}

	for _, v := range verbs {
		se.Verbs = append(se.Verbs, VerbRecord{ID: "verb_" + strings.ToLower(v), Type: "Verb", Name: v})
	}

	return se
}

func schemaEdge(entityName string, f *ParsedField) EdgeRecord {
	e := EdgeRecord{
		ID:        "edge_" + entityName + "_" + f.Name,
		Type:      "Edge",
		Name:      f.Name,
		Direction: f.Direction,
		MatchMode: f.MatchMode,
	}

	switch {
	case f.IsArray && f.Backref != "":
		e.Cardinality = ManyToMany
	case f.IsArray:
		e.Cardinality = OneToMany
	default:
		e.Cardinality = ManyToOne
	}

	// Backward-direction edges are emitted with from/to inverted so graph
	// traversal reads naturally (spec §4.3).
	if f.Direction == vtype.Backward {
		e.From, e.To = f.RelatedType, entityName
	} else {
		e.From, e.To = entityName, f.RelatedType
	}

	return e
}

// MergeRuntimeEdges merges runtime Edge rows (fetched through the Provider
// façade, carrying recorded fuzzy-match similarity scores) into the
// schema-derived edges, letting runtime rows shadow schema rows that share
// the same "from:name" key.
func MergeRuntimeEdges(schemaEdges, runtime []EdgeRecord) []EdgeRecord {
	byKey := make(map[string]EdgeRecord, len(schemaEdges))
	order := make([]string, 0, len(schemaEdges))
	for _, e := range schemaEdges {
		k := e.key()
		if _, exists := byKey[k]; !exists {
			order = append(order, k)
		}
		byKey[k] = e
	}
	for _, e := range runtime {
		k := e.key()
		if _, exists := byKey[k]; !exists {
			order = append(order, k)
		}
		byKey[k] = e
	}
	merged := make([]EdgeRecord, 0, len(order))
	for _, k := range order {
		merged = append(merged, byKey[k])
	}
	return merged
}

// pluralize is a deliberately small heuristic: it covers the common English
// suffixes well enough for Noun.Plural without pulling in an inflection
// library, since no package in the retrieval pack that vertex otherwise
// depends on exposes English pluralization as a reusable seam (the
// teacher's own codegen never names plural forms).
func pluralize(s string) string {
	lower := strings.ToLower(s)
	switch {
	case strings.HasSuffix(lower, "y") && len(s) > 1 && !isVowel(rune(lower[len(lower)-2])):
		return s[:len(s)-1] + "ies"
	case strings.HasSuffix(lower, "s"), strings.HasSuffix(lower, "x"), strings.HasSuffix(lower, "z"),
		strings.HasSuffix(lower, "ch"), strings.HasSuffix(lower, "sh"):
		return s + "es"
	default:
		return s + "s"
	}
}

func isVowel(r rune) bool {
	switch r {
	case 'a', 'e', 'i', 'o', 'u', 'A', 'E', 'I', 'O', 'U':
		return true
	default:
		return false
	}
}

func slugify(name string) string {
	var b strings.Builder
	for i, r := range name {
		if i > 0 && r >= 'A' && r <= 'Z' {
			b.WriteByte('-')
		}
		b.WriteRune(r)
	}
	return strings.ToLower(b.String())
}
