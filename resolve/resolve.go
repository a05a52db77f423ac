// Package resolve implements the reference resolver (spec §4.6): it walks
// every pending draft.ReferenceSpec and replaces the placeholder with a
// concrete target ID, by semantic search, recursive generation, or lookup.
package resolve

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/vertexdb/vertex/draft"
	"github.com/vertexdb/vertex/generate"
	"github.com/vertexdb/vertex/provider"
	"github.com/vertexdb/vertex/schema"
	"github.com/vertexdb/vertex/vtype"
	"github.com/vertexdb/vertex/vxerr"
)

// Options configures a single Resolve call.
type Options struct {
	// OnErrorSkip, when true, accumulates per-field errors into
	// draft.Draft.Errors instead of aborting on the first one (spec §4.6
	// "onError:'skip'" / §7 item 4).
	OnErrorSkip bool

	// IDGenerator produces ids for auto-generated child entities. Defaults
	// to uuid.NewString.
	IDGenerator func() string

	// DeferArrayGeneration, when true, leaves forward-exact array fields
	// untouched (field deleted from Data, no child generated) because the
	// caller is about to run the cascade generator over the same entity
	// (spec §4.6: "`->` array... unless cascade is enabled, then array
	// auto-generation is deferred to §4.7").
	DeferArrayGeneration bool
}

func (o Options) genID() string {
	if o.IDGenerator != nil {
		return o.IDGenerator()
	}
	return uuid.NewString()
}

// Resolve binds every pending ReferenceSpec in d to a concrete target id.
// id is the pre-generated id the entity will carry once the caller
// persists it, threaded through so generated children can record
// $generatedBy (spec §2: "a pre-generated ID threaded through so children
// can backlink").
func Resolve(ctx context.Context, ps *schema.ParsedSchema, prov provider.Provider, gen generate.Capability, id string, d *draft.Draft, opts Options) error {
	for field, ref := range d.Refs {
		if err := resolveOne(ctx, ps, prov, gen, d, id, field, ref, opts); err != nil {
			wrapped := fmt.Errorf("resolve %s.%s: %w", d.Type, field, err)
			if opts.OnErrorSkip {
				d.Errors = append(d.Errors, wrapped)
				continue
			}
			return wrapped
		}
	}
	d.Refs = map[string]*draft.ReferenceSpec{}
	d.Phase = draft.PhaseResolved
	d.Data["$phase"] = draft.PhaseResolved
	return nil
}

func resolveOne(ctx context.Context, ps *schema.ParsedSchema, prov provider.Provider, gen generate.Capability, d *draft.Draft, entityID, field string, ref *draft.ReferenceSpec, opts Options) error {
	switch {
	case ref.MatchMode == vtype.Exact && !ref.IsArray:
		return resolveForwardExactSingle(ctx, ps, prov, gen, d, entityID, field, ref, opts)
	case ref.MatchMode == vtype.Exact && ref.IsArray:
		return resolveForwardExactArray(ctx, ps, prov, gen, d, entityID, field, ref, opts)
	case ref.MatchMode == vtype.Fuzzy && !ref.IsArray:
		return resolveForwardFuzzySingle(ctx, ps, prov, gen, d, entityID, field, ref, opts)
	case ref.MatchMode == vtype.Fuzzy && ref.IsArray:
		return resolveForwardFuzzyArray(ctx, ps, prov, gen, d, entityID, field, ref, opts)
	default:
		return fmt.Errorf("unsupported match mode %q for field %q", ref.MatchMode, field)
	}
}

func resolveForwardExactSingle(ctx context.Context, ps *schema.ParsedSchema, prov provider.Provider, gen generate.Capability, d *draft.Draft, entityID, field string, ref *draft.ReferenceSpec, opts Options) error {
	if ref.IsOptional {
		delete(d.Data, field)
		return nil
	}
	childID, err := generateAndPersistChild(ctx, ps, prov, gen, ref.TargetType, d.Type, entityID, field, hintOrPrompt(ref), opts)
	if err != nil {
		return err
	}
	d.Data[field] = childID
	d.Data[field+"$autoGenerated"] = true
	return nil
}

func resolveForwardExactArray(ctx context.Context, ps *schema.ParsedSchema, prov provider.Provider, gen generate.Capability, d *draft.Draft, entityID, field string, ref *draft.ReferenceSpec, opts Options) error {
	if opts.DeferArrayGeneration {
		delete(d.Data, field)
		return nil
	}

	if ref.IsOptional {
		delete(d.Data, field)
		return nil
	}

	hints := ref.Hints
	if len(hints) == 0 {
		hints = []string{hintOrPrompt(ref)}
	}

	ids := make([]string, len(hints))
	for i, hint := range hints {
		childID, err := generateAndPersistChild(ctx, ps, prov, gen, ref.TargetType, d.Type, entityID, field, hint, opts)
		if err != nil {
			return err
		}
		ids[i] = childID
	}
	d.Data[field] = ids
	return nil
}

func resolveForwardFuzzySingle(ctx context.Context, ps *schema.ParsedSchema, prov provider.Provider, gen generate.Capability, d *draft.Draft, entityID, field string, ref *draft.ReferenceSpec, opts Options) error {
	query := hintOrPrompt(ref)
	best, hit, err := searchBest(ctx, prov, searchTypes(ref), query, ref.Threshold)
	if err != nil && !vxerr.IsCapabilityNotSupported(err) {
		return err
	}

	if hit {
		d.Data[field] = best.Record.ID()
		d.Data[field+"$matched"] = true
		d.Data[field+"$score"] = best.Score
		if len(ref.UnionTypes) > 0 {
			d.Data[field+"$matchedType"] = best.Record.TypeName()
		}
		return writeRuntimeEdge(ctx, prov, d.Type, entityID, field, best.Record.TypeName(), best.Record.ID(), best.Score)
	}

	if ref.IsOptional {
		delete(d.Data, field)
		return nil
	}

	similarity := 0.0
	if best != nil {
		similarity = best.Score
	}
	childID, err := generateAndPersistChild(ctx, ps, prov, gen, ref.TargetType, d.Type, entityID, field, query, opts)
	if err != nil {
		return err
	}
	d.Data[field] = childID
	return writeRuntimeEdge(ctx, prov, d.Type, entityID, field, ref.TargetType, childID, similarity)
}

func resolveForwardFuzzyArray(ctx context.Context, ps *schema.ParsedSchema, prov provider.Provider, gen generate.Capability, d *draft.Draft, entityID, field string, ref *draft.ReferenceSpec, opts Options) error {
	hints := ref.Hints
	if len(hints) == 0 {
		if ref.IsOptional {
			delete(d.Data, field)
			return nil
		}
		hints = []string{hintOrPrompt(ref)}
	}

	ids := make([]string, 0, len(hints))
	matchedTypes := make([]string, 0, len(hints))
	for _, hint := range hints {
		best, hit, err := searchBest(ctx, prov, searchTypes(ref), hint, ref.Threshold)
		if err != nil && !vxerr.IsCapabilityNotSupported(err) {
			return err
		}
		if hit {
			ids = append(ids, best.Record.ID())
			matchedTypes = append(matchedTypes, best.Record.TypeName())
			if err := writeRuntimeEdge(ctx, prov, d.Type, entityID, field, best.Record.TypeName(), best.Record.ID(), best.Score); err != nil {
				return err
			}
			continue
		}
		similarity := 0.0
		if best != nil {
			similarity = best.Score
		}
		childID, err := generateAndPersistChild(ctx, ps, prov, gen, ref.TargetType, d.Type, entityID, field, hint, opts)
		if err != nil {
			return err
		}
		ids = append(ids, childID)
		matchedTypes = append(matchedTypes, ref.TargetType)
		if err := writeRuntimeEdge(ctx, prov, d.Type, entityID, field, ref.TargetType, childID, similarity); err != nil {
			return err
		}
	}
	d.Data[field] = ids
	if len(ref.UnionTypes) > 0 {
		d.Data[field+"$matchedTypes"] = matchedTypes
	}
	return nil
}

// generateAndPersistChild generates a minimal target entity of targetType,
// recursively resolving its own nested relation fields, and persists it
// stamped $generated/$generatedBy/$sourceField (spec §4.6).
func generateAndPersistChild(ctx context.Context, ps *schema.ParsedSchema, prov provider.Provider, gen generate.Capability, targetType, parentType, parentID, field, hint string, opts Options) (string, error) {
	entity := ps.Entity(targetType)
	if entity == nil {
		return "", fmt.Errorf("target type %q is not declared in the schema", targetType)
	}

	var generator generate.Generator
	if gen != nil {
		generator = gen
	}

	childDraft, err := draft.Build(ctx, entity, generator, map[string]any{"$hint": hint}, draft.Options{})
	if err != nil {
		return "", fmt.Errorf("draft generated %s: %w", targetType, err)
	}

	childID := opts.genID()
	if err := Resolve(ctx, ps, prov, gen, childID, childDraft, opts); err != nil {
		return "", err
	}

	childDraft.Data["$generated"] = true
	childDraft.Data["$generatedBy"] = parentID
	childDraft.Data["$sourceField"] = field
	delete(childDraft.Data, "$hint")

	if _, err := prov.Create(ctx, targetType, childID, provider.Record(childDraft.Data)); err != nil {
		return "", vxerr.Wrap("create", targetType, childID, err)
	}
	return childID, nil
}

// writeRuntimeEdge records a fuzzy-match runtime Edge row (spec §4.6:
// "Fuzzy matches additionally write a runtime Edge row"). Duplicate-id
// collisions are swallowed; every other provider error is wrapped (spec
// §4.10/§7).
func writeRuntimeEdge(ctx context.Context, prov provider.Provider, fromType, fromID, field, toType, toID string, similarity float64) error {
	meta := provider.RelateMeta{
		"direction":   string(vtype.Forward),
		"matchMode":   string(vtype.Fuzzy),
		"similarity":  similarity,
		"matchedType": toType,
	}
	if err := prov.Relate(ctx, fromType, fromID, field, toType, toID, meta); err != nil {
		if vxerr.IsExists(err) {
			return nil
		}
		return vxerr.Wrap("relate", fromType, fromID, err)
	}
	return nil
}

// searchBest runs a semantic search across types in parallel (spec §5:
// "sibling branches run in parallel via structured fan-out") and returns
// the single best-scoring candidate across all of them, plus whether it
// clears threshold. A nil result with no error means no provider candidate
// existed at all. CapabilityNotSupportedError propagates so callers can
// degrade to pure generation (spec §4.4).
func searchBest(ctx context.Context, prov provider.Provider, types []string, query string, threshold float64) (*provider.ScoredRecord, bool, error) {
	searcher, err := provider.RequireSemanticSearch(prov)
	if err != nil {
		return nil, false, err
	}

	results := make([]*provider.ScoredRecord, len(types))
	g, gctx := errgroup.WithContext(ctx)
	for i, t := range types {
		i, t := i, t
		g.Go(func() error {
			recs, err := searcher.SemanticSearch(gctx, t, query, provider.SemanticSearchOptions{Limit: 1})
			if err != nil {
				return err
			}
			if len(recs) > 0 {
				results[i] = &recs[0]
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, false, err
	}

	var best *provider.ScoredRecord
	for _, r := range results {
		if r != nil && (best == nil || r.Score > best.Score) {
			best = r
		}
	}
	if best == nil {
		return nil, false, nil
	}
	return best, best.Score >= threshold, nil
}

func searchTypes(ref *draft.ReferenceSpec) []string {
	if len(ref.UnionTypes) > 0 {
		return ref.UnionTypes
	}
	return []string{ref.TargetType}
}

func hintOrPrompt(ref *draft.ReferenceSpec) string {
	if len(ref.Hints) > 0 {
		return ref.Hints[0]
	}
	if ref.Prompt != "" {
		return ref.Prompt
	}
	return ref.GeneratedText
}
