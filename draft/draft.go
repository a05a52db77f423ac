// Package draft implements the draft builder (spec §4.5): given partial
// data for a type, it populates scalar fields (generating any that carry a
// prompt) and leaves every forward relationship field as a natural-language
// placeholder carrying a ReferenceSpec, ready for resolve to bind.
package draft

import (
	"context"
	"fmt"
	"strings"

	"github.com/vertexdb/vertex/generate"
	"github.com/vertexdb/vertex/schema"
	"github.com/vertexdb/vertex/vtype"
)

// PhaseDraft and PhaseResolved are the two values $phase can take (spec §3:
// "Drafts satisfy $phase === 'draft' ... resolved values satisfy
// $phase === 'resolved'").
const (
	PhaseDraft    = "draft"
	PhaseResolved = "resolved"
)

// ReferenceSpec is the runtime descriptor of one unresolved relationship
// field (spec §4.5 step 3, §GLOSSARY).
type ReferenceSpec struct {
	Field      string
	Operator   vtype.Operator
	Direction  vtype.Direction
	MatchMode  vtype.MatchMode
	TargetType string
	UnionTypes []string
	Threshold  float64
	IsOptional bool
	Resolved   bool

	Prompt        string
	GeneratedText string   // placeholder text shown on the draft field
	IsArray       bool
	Hints         []string // per-element hints, for array fields (one ReferenceSpec per field, not per element)
}

// Draft is the in-memory result of Build: scalar fields populated, pending
// relationship fields carrying a placeholder plus a ReferenceSpec in Refs.
type Draft struct {
	Type  string
	Phase string
	Data  map[string]any
	Refs  map[string]*ReferenceSpec

	// Errors accumulates resolve-phase failures when resolve runs with
	// onError:"skip" (spec §4.6/§7 item 4); empty for a freshly built draft.
	Errors []error
}

// Options configures Build's scalar-field generation.
type Options struct {
	// Stream, when true, invokes OnChunk for every generated scalar field
	// as it streams, per spec §4.5 step 4.
	Stream  bool
	OnChunk func(field, chunk string)
}

// Build constructs a Draft for entity from partialData, per spec §4.5.
// gen is consulted for every non-relational field carrying a generation
// prompt; it may be nil if the entity declares none (callers resolving a
// purely-scalar schema need not wire a Generator).
func Build(ctx context.Context, entity *schema.ParsedEntity, gen generate.Generator, partialData map[string]any, opts Options) (*Draft, error) {
	data := make(map[string]any, len(partialData)+2)
	for k, v := range partialData {
		data[k] = v
	}

	d := &Draft{
		Type:  entity.Name,
		Phase: PhaseDraft,
		Data:  data,
		Refs:  make(map[string]*ReferenceSpec),
	}
	data["$phase"] = PhaseDraft

	for _, f := range entity.Fields {
		if f.IsRelation {
			if err := draftRelationField(d, f); err != nil {
				return nil, err
			}
			continue
		}
		if err := draftScalarField(ctx, d, entity, f, gen, opts); err != nil {
			return nil, err
		}
	}

	return d, nil
}

func draftScalarField(ctx context.Context, d *Draft, entity *schema.ParsedEntity, f *schema.ParsedField, gen generate.Generator, opts Options) error {
	if f.Prompt == "" {
		return nil
	}
	if existing, ok := d.Data[f.Name]; ok && existing != nil && existing != "" {
		return nil
	}
	if gen == nil {
		return fmt.Errorf("draft: field %s.%s requires generation but no generator is configured", entity.Name, f.Name)
	}

	gc := generate.GenerationContext{
		EntityType:    entity.Name,
		FieldName:     f.Name,
		Prompt:        f.Prompt,
		Instructions:  entity.Metadata.Instructions,
		PrimitiveType: f.Type,
		Siblings:      d.Data,
	}

	var value string
	var err error
	if opts.Stream {
		value, err = gen.StreamField(ctx, gc, func(chunk string) {
			if opts.OnChunk != nil {
				opts.OnChunk(f.Name, chunk)
			}
		})
	} else {
		value, err = gen.GenerateField(ctx, gc)
	}
	if err != nil {
		return fmt.Errorf("draft: generate %s.%s: %w", entity.Name, f.Name, err)
	}
	d.Data[f.Name] = value
	return nil
}

// draftRelationField implements spec §4.5 step 3: backward references are
// never drafted; an already-set forward field is left untouched; an unset
// forward field gets a placeholder plus a ReferenceSpec.
func draftRelationField(d *Draft, f *schema.ParsedField) error {
	if f.Direction == vtype.Backward {
		return nil
	}
	if existing, ok := d.Data[f.Name]; ok && !isEmptyValue(existing) {
		return nil
	}

	hints := fieldHints(d.Data, f)
	placeholder, generatedText := placeholderFor(f, hints)

	d.Data[f.Name] = placeholder
	d.Refs[f.Name] = &ReferenceSpec{
		Field:         f.Name,
		Operator:      f.Operator,
		Direction:     f.Direction,
		MatchMode:     f.MatchMode,
		TargetType:    f.RelatedType,
		UnionTypes:    f.UnionTypes,
		Threshold:     f.Threshold,
		IsOptional:    f.IsOptional,
		Resolved:      false,
		Prompt:        f.Prompt,
		GeneratedText: generatedText,
		IsArray:       f.IsArray,
		Hints:         hints,
	}
	return nil
}

// fieldHints reads the "<fieldName>Hint" convention key from the partial
// data (spec §4.5 step 3), splitting it on commas for array fields.
func fieldHints(data map[string]any, f *schema.ParsedField) []string {
	raw, ok := data[f.Name+"Hint"]
	if !ok {
		return nil
	}
	s, ok := raw.(string)
	if !ok || s == "" {
		return nil
	}
	if !f.IsArray {
		return []string{strings.TrimSpace(s)}
	}
	parts := strings.Split(s, ",")
	hints := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			hints = append(hints, t)
		}
	}
	return hints
}

// placeholderFor derives the natural-language placeholder assigned to the
// draft field for immediate display (spec §4.5 step 3).
func placeholderFor(f *schema.ParsedField, hints []string) (fieldValue any, generatedText string) {
	base := f.Prompt
	if base == "" {
		base = fmt.Sprintf("a %s to be resolved", f.RelatedType)
	}

	if len(hints) > 0 {
		generatedText = strings.Join(hints, ", ")
	} else {
		generatedText = base
	}

	return generatedText, generatedText
}

func isEmptyValue(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case []string:
		return len(t) == 0
	case []any:
		return len(t) == 0
	default:
		return false
	}
}
