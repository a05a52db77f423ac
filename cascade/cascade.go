// Package cascade implements the recursive generation walker of spec §4.7:
// given a freshly persisted entity, it walks every forward relation field,
// generating and persisting children (or recursing into ones that already
// have values) up to a depth- and type-bounded ceiling, reporting progress
// as it goes.
package cascade

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/vertexdb/vertex/draft"
	"github.com/vertexdb/vertex/generate"
	"github.com/vertexdb/vertex/provider"
	"github.com/vertexdb/vertex/resolve"
	"github.com/vertexdb/vertex/schema"
	"github.com/vertexdb/vertex/vtype"
)

// DefaultMaxDepth is the hard ceiling on cascade depth regardless of what
// the caller requests (spec §4.7: "a hard ceiling guarding against
// circular schemas"), mirroring the teacher's own named, documented
// recursion-depth guard.
const DefaultMaxDepth = 8

// Phase is the lifecycle stage reported to Options.OnProgress.
type Phase string

const (
	PhaseGenerating Phase = "generating"
	PhaseComplete   Phase = "complete"
	PhaseError      Phase = "error"
)

// Progress is reported after every generated child and once more at the
// end of the walk (spec §4.7: "{phase, currentDepth, currentType,
// totalEntitiesCreated, typesGenerated}").
type Progress struct {
	Phase                Phase
	CurrentDepth         int
	CurrentType          string
	TotalEntitiesCreated int
	TypesGenerated       []string
	Err                  error
}

// Options configures a single cascade Run.
type Options struct {
	// MaxDepth is clamped to [1, DefaultMaxDepth]; a zero or negative value
	// defaults to DefaultMaxDepth.
	MaxDepth int

	// CascadeTypes, when non-empty, restricts which related types are
	// eligible for auto-generation; a forward field whose target (or,
	// for a union field, every union member) is excluded is skipped.
	CascadeTypes []string

	OnProgress func(Progress)

	// OnError is invoked for every error encountered walking a field.
	OnError func(error)

	// StopOnError aborts the whole walk on the first error instead of
	// continuing to sibling fields.
	StopOnError bool

	IDGenerator func() string
}

func (o Options) genID() string {
	if o.IDGenerator != nil {
		return o.IDGenerator()
	}
	return uuid.NewString()
}

func (o Options) effectiveMaxDepth() int {
	if o.MaxDepth <= 0 || o.MaxDepth > DefaultMaxDepth {
		return DefaultMaxDepth
	}
	return o.MaxDepth
}

type state struct {
	mu             sync.Mutex
	opts           Options
	maxDepth       int
	cascadeTypes   map[string]bool
	totalCreated   int
	typesGenerated map[string]bool
	deepestDepth   int
}

func newState(opts Options) *state {
	var cascadeTypes map[string]bool
	if len(opts.CascadeTypes) > 0 {
		cascadeTypes = make(map[string]bool, len(opts.CascadeTypes))
		for _, t := range opts.CascadeTypes {
			cascadeTypes[t] = true
		}
	}
	return &state{
		opts:           opts,
		maxDepth:       opts.effectiveMaxDepth(),
		cascadeTypes:   cascadeTypes,
		typesGenerated: make(map[string]bool),
	}
}

func (s *state) recordCreated(typ string) {
	s.mu.Lock()
	s.totalCreated++
	s.typesGenerated[typ] = true
	s.mu.Unlock()
}

func (s *state) snapshot() (int, []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	types := make([]string, 0, len(s.typesGenerated))
	for t := range s.typesGenerated {
		types = append(types, t)
	}
	return s.totalCreated, types
}

func (s *state) report(phase Phase, depth int, typ string, err error) {
	s.mu.Lock()
	if depth > s.deepestDepth {
		s.deepestDepth = depth
	}
	s.mu.Unlock()

	if s.opts.OnProgress == nil {
		return
	}
	total, types := s.snapshot()
	s.opts.OnProgress(Progress{
		Phase:                phase,
		CurrentDepth:         depth,
		CurrentType:          typ,
		TotalEntitiesCreated: total,
		TypesGenerated:       types,
		Err:                  err,
	})
}

func (s *state) handleErr(err error) error {
	if s.opts.OnError != nil {
		s.opts.OnError(err)
	}
	if s.opts.StopOnError {
		return err
	}
	return nil
}

func (s *state) eligible(field *schema.ParsedField) bool {
	if s.cascadeTypes == nil {
		return true
	}
	if len(field.UnionTypes) > 0 {
		for _, t := range field.UnionTypes {
			if s.cascadeTypes[t] {
				return true
			}
		}
		return false
	}
	return s.cascadeTypes[field.RelatedType]
}

// Run walks typ/id's forward relation fields, generating and persisting
// children up to opts.MaxDepth (clamped to DefaultMaxDepth), starting at
// depth 0.
func Run(ctx context.Context, ps *schema.ParsedSchema, prov provider.Provider, gen generate.Generator, typ, id string, opts Options) error {
	s := newState(opts)
	err := s.walk(ctx, ps, prov, gen, typ, id, 0)
	s.mu.Lock()
	deepest := s.deepestDepth
	s.mu.Unlock()
	s.report(PhaseComplete, deepest, typ, nil)
	return err
}

func (s *state) walk(ctx context.Context, ps *schema.ParsedSchema, prov provider.Provider, gen generate.Generator, typ, id string, depth int) error {
	if depth >= s.maxDepth {
		return nil
	}

	entity := ps.Entity(typ)
	if entity == nil {
		return fmt.Errorf("cascade: type %q is not declared in the schema", typ)
	}

	rec, err := prov.Get(ctx, typ, id)
	if err != nil {
		return err
	}
	if rec == nil {
		return fmt.Errorf("cascade: %s %q not found", typ, id)
	}

	for _, f := range entity.Fields {
		if !f.IsRelation || f.Direction != vtype.Forward {
			continue
		}
		if !s.eligible(f) {
			continue
		}

		if err := s.walkField(ctx, ps, prov, gen, entity, rec, f, depth); err != nil {
			if wrapped := s.handleErr(err); wrapped != nil {
				return wrapped
			}
		}
	}

	return nil
}

func (s *state) walkField(ctx context.Context, ps *schema.ParsedSchema, prov provider.Provider, gen generate.Generator, entity *schema.ParsedEntity, rec provider.Record, f *schema.ParsedField, depth int) error {
	existing := existingIDs(rec[f.Name])
	if len(existing) > 0 {
		for _, childID := range existing {
			if err := s.walk(ctx, ps, prov, gen, f.RelatedType, childID, depth+1); err != nil {
				return err
			}
		}
		return nil
	}

	if f.IsOptional {
		return nil
	}

	childID, err := s.generateChild(ctx, ps, prov, gen, f.RelatedType, entity.Name, rec.ID(), f.Name)
	if err != nil {
		s.report(PhaseError, depth, f.RelatedType, err)
		return err
	}
	s.report(PhaseGenerating, depth+1, f.RelatedType, nil)

	var fieldValue any = childID
	if f.IsArray {
		fieldValue = []string{childID}
	}
	if _, err := prov.Update(ctx, entity.Name, rec.ID(), provider.Record{f.Name: fieldValue}); err != nil {
		return err
	}

	meta := provider.RelateMeta{"direction": string(vtype.Forward), "matchMode": string(vtype.Exact)}
	if err := prov.Relate(ctx, entity.Name, rec.ID(), f.Name, f.RelatedType, childID, meta); err != nil {
		return err
	}

	return s.walk(ctx, ps, prov, gen, f.RelatedType, childID, depth+1)
}

// generateChild drafts, resolves (deferring its own array auto-generation
// back to this walker), and persists one new entity of targetType, stamped
// $generated/$generatedBy/$sourceField.
func (s *state) generateChild(ctx context.Context, ps *schema.ParsedSchema, prov provider.Provider, gen generate.Generator, targetType, parentType, parentID, field string) (string, error) {
	entity := ps.Entity(targetType)
	if entity == nil {
		return "", fmt.Errorf("cascade: target type %q is not declared in the schema", targetType)
	}

	childDraft, err := draft.Build(ctx, entity, gen, map[string]any{}, draft.Options{})
	if err != nil {
		return "", err
	}

	childID := s.opts.genID()

	var genCap generate.Capability
	if c, ok := gen.(generate.Capability); ok {
		genCap = c
	}
	if err := resolve.Resolve(ctx, ps, prov, genCap, childID, childDraft, resolve.Options{
		DeferArrayGeneration: true,
		IDGenerator:          s.opts.IDGenerator,
	}); err != nil {
		return "", err
	}

	childDraft.Data["$generated"] = true
	childDraft.Data["$generatedBy"] = parentID
	childDraft.Data["$sourceField"] = field

	if _, err := prov.Create(ctx, targetType, childID, provider.Record(childDraft.Data)); err != nil {
		return "", err
	}

	s.recordCreated(targetType)
	return childID, nil
}

func existingIDs(v any) []string {
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		if t == "" {
			return nil
		}
		return []string{t}
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			if s, ok := e.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
