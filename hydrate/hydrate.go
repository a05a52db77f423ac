// Package hydrate transforms a raw stored record into a hydrated view
// (spec §4.8): every relational field becomes a dual-personality value
// that stringifies like its stored id and loads like a future.
//
// Go has no transparent proxy mechanism, so this package takes the
// wrapper-type path spec.md §9's design notes describe: Relation and
// RelationList are concrete types implementing fmt.Stringer and
// json.Marshaler (the "stringifies like an ID" half) plus an explicit
// Load/LoadAll method (the "loads like a future" half), in one value.
package hydrate

import (
	"context"
	"encoding/json"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/vertexdb/vertex/provider"
	"github.com/vertexdb/vertex/schema"
	"github.com/vertexdb/vertex/vtype"
	"github.com/vertexdb/vertex/vxerr"
)

// Relation is a single forward or backward reference (spec §4.8's
// "Forward single" / "Backward single" rows).
type Relation struct {
	id          string
	targetType  string
	backrefType string // set only for a backward-exact single with no stored id
	backref     string // the related type's field that points back to owner
	owner       string

	// fuzzy fields, set only for a backward-fuzzy (<~) single. <~ is never
	// drafted or resolved (spec.md:111,121: "resolved lazily during
	// hydration"), so there is no stored id or backref to look up — Load
	// performs the semantic search itself, against query derived from the
	// owner record.
	fuzzy       bool
	searchTypes []string
	query       string
	threshold   float64
}

// String implements fmt.Stringer: a Relation with a stored id stringifies
// to that id, matching the "typeof entity.field === 'string'" invariant.
func (r Relation) String() string { return r.id }

// MarshalJSON marshals to the bare id string, matching the stored-record
// shape (spec §4.8: "marshals to the bare ID string").
func (r Relation) MarshalJSON() ([]byte, error) { return json.Marshal(r.id) }

// ID returns the stored id, or "" for a backward single with no stored id.
func (r Relation) ID() string { return r.id }

// IsZero reports whether this Relation carries neither a stored id nor a
// backward lookup path (an unset optional reference).
func (r Relation) IsZero() bool { return r.id == "" && r.backref == "" && !r.fuzzy }

// Load hydrates the target entity. A Relation with a stored id fetches it
// directly (using the recorded $matchedType for unions). A backward-exact
// single with no stored id resolves by searching the related type for an
// entity whose backref field equals owner (spec §4.8: "find an entity of
// related type whose forward array contains us"). A backward-fuzzy single
// runs a semantic search instead, and never generates (spec.md:276): on a
// sub-threshold or no-capability outcome it returns a nil record, not an
// error.
func (r Relation) Load(ctx context.Context, prov provider.Provider) (provider.Record, error) {
	if r.id != "" {
		rec, err := prov.Get(ctx, r.targetType, r.id)
		if err != nil {
			return nil, err
		}
		if rec == nil {
			return nil, &vxerr.EntityNotFoundError{Type: r.targetType, ID: r.id}
		}
		return rec, nil
	}
	if r.fuzzy {
		return searchBackwardFuzzyBest(ctx, prov, r.searchTypes, r.query, r.threshold)
	}
	if r.backref == "" {
		return nil, nil
	}
	recs, err := prov.List(ctx, r.backrefType, provider.ListOptions{Where: map[string]any{r.backref: r.owner}, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, nil
	}
	return recs[0], nil
}

// RelationList is an array reference (spec §4.8's "Forward array" /
// "Backward array" rows): a []string-backed value so len/range/
// json.Marshal behave like a plain id slice, with a LoadAll method that
// hydrates every element in parallel.
type RelationList struct {
	ids          []string
	matchedTypes []string // parallel to ids for union fields; nil when not a union
	targetType   string
	backrefType  string // set only for a backward-exact array with no stored ids
	backref      string
	owner        string

	// fuzzy fields, set only for a backward-fuzzy (<~) array. Mirrors
	// Relation's fuzzy fields.
	fuzzy       bool
	searchTypes []string
	query       string
	threshold   float64
}

// MarshalJSON marshals to the plain id slice (or [] when empty).
func (r RelationList) MarshalJSON() ([]byte, error) {
	if r.ids == nil {
		return json.Marshal([]string{})
	}
	return json.Marshal(r.ids)
}

// Len reports the number of stored ids (0 for a backward list with no
// stored ids, since its membership isn't known until LoadAll runs).
func (r RelationList) Len() int { return len(r.ids) }

// IDs returns the stored id slice, nil for a backward list resolved by
// lookup rather than stored ids.
func (r RelationList) IDs() []string { return r.ids }

// LoadAll hydrates every element in parallel via errgroup (spec §4.8:
// "awaiting it resolves every element in parallel"). A backward list with
// no stored ids instead looks up every entity of the related type whose
// backref field equals owner (spec §4.8: "{where: {[backrefField]: id}}
// against the related type"). Nulls (not-found elements) are filtered.
func (r RelationList) LoadAll(ctx context.Context, prov provider.Provider) ([]provider.Record, error) {
	if r.fuzzy {
		return searchBackwardFuzzyAll(ctx, prov, r.searchTypes, r.query, r.threshold)
	}
	if r.backref != "" {
		return prov.List(ctx, r.backrefType, provider.ListOptions{Where: map[string]any{r.backref: r.owner}})
	}
	if len(r.ids) == 0 {
		return []provider.Record{}, nil
	}

	recs := make([]provider.Record, len(r.ids))
	g, gctx := errgroup.WithContext(ctx)
	for i, id := range r.ids {
		i, id := i, id
		typ := r.targetType
		if i < len(r.matchedTypes) && r.matchedTypes[i] != "" {
			typ = r.matchedTypes[i]
		}
		g.Go(func() error {
			rec, err := prov.Get(gctx, typ, id)
			if err != nil {
				return err
			}
			recs[i] = rec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]provider.Record, 0, len(recs))
	for _, rec := range recs {
		if rec != nil {
			out = append(out, rec)
		}
	}
	return out, nil
}

// Record hydrates every relational field of rec according to entity's
// field declarations, replacing each stored value with a Relation or
// RelationList proxy. Non-relational fields pass through unchanged.
func Record(rec provider.Record, entity *schema.ParsedEntity) provider.Record {
	out := rec.Clone()
	for _, f := range entity.Fields {
		if !f.IsRelation {
			continue
		}
		if f.IsArray {
			out[f.Name] = hydrateRelationList(rec, f)
		} else {
			out[f.Name] = hydrateRelation(rec, f)
		}
	}
	return out
}

func hydrateRelation(rec provider.Record, f *schema.ParsedField) Relation {
	id, _ := rec[f.Name].(string)
	if id != "" {
		targetType := f.RelatedType
		if matched, ok := rec[f.Name+"$matchedType"].(string); ok && matched != "" {
			targetType = matched
		}
		return Relation{id: id, targetType: targetType}
	}

	if f.Direction != vtype.Backward {
		return Relation{}
	}

	if f.MatchMode == vtype.Fuzzy {
		return Relation{fuzzy: true, searchTypes: searchTypes(f), query: recordSearchText(rec), threshold: f.Threshold}
	}

	backref := f.Backref
	if backref == "" {
		backref = f.InferredBackref
	}
	return Relation{backrefType: f.RelatedType, backref: backref, owner: rec.ID()}
}

func hydrateRelationList(rec provider.Record, f *schema.ParsedField) RelationList {
	ids := toStringSlice(rec[f.Name])
	if len(ids) > 0 || f.Direction == vtype.Forward {
		matched := toStringSlice(rec[f.Name+"$matchedTypes"])
		return RelationList{ids: ids, matchedTypes: matched, targetType: f.RelatedType}
	}

	if f.MatchMode == vtype.Fuzzy {
		return RelationList{fuzzy: true, searchTypes: searchTypes(f), query: recordSearchText(rec), threshold: f.Threshold}
	}

	backref := f.Backref
	if backref == "" {
		backref = f.InferredBackref
	}
	return RelationList{backrefType: f.RelatedType, backref: backref, owner: rec.ID()}
}

// searchTypes returns the set of types a backward-fuzzy field should search:
// every union member, or the field's single related type.
func searchTypes(f *schema.ParsedField) []string {
	if len(f.UnionTypes) > 0 {
		return f.UnionTypes
	}
	return []string{f.RelatedType}
}

// recordSearchText builds the query text a backward-fuzzy field searches
// with. <~ has no stored value or prompt of its own (spec.md:111: backward
// fields are never drafted), so the query is derived from the owner
// record's own scalar content, mirroring provider/libsql's
// recordContainsText string-field scan. Keys are sorted for a deterministic
// query across Go's randomized map iteration.
func recordSearchText(rec provider.Record) string {
	keys := make([]string, 0, len(rec))
	for k := range rec {
		if strings.HasPrefix(k, "$") {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		if s, ok := rec[k].(string); ok && s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " ")
}

// searchBackwardFuzzyBest runs a semantic search across types and returns
// the single best match clearing threshold (spec.md:276: "<~ never
// generates — if no match >= threshold, the field is left unset"). A nil
// record with a nil error means no hit, no capability, or no candidates;
// never an error for those cases.
func searchBackwardFuzzyBest(ctx context.Context, prov provider.Provider, types []string, query string, threshold float64) (provider.Record, error) {
	searcher, err := provider.RequireSemanticSearch(prov)
	if err != nil {
		if vxerr.IsCapabilityNotSupported(err) {
			return nil, nil
		}
		return nil, err
	}

	results := make([]*provider.ScoredRecord, len(types))
	g, gctx := errgroup.WithContext(ctx)
	for i, t := range types {
		i, t := i, t
		g.Go(func() error {
			recs, err := searcher.SemanticSearch(gctx, t, query, provider.SemanticSearchOptions{MinScore: threshold, Limit: 1})
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
		return nil, err
	}

	var best *provider.ScoredRecord
	for _, r := range results {
		if r != nil && (best == nil || r.Score > best.Score) {
			best = r
		}
	}
	if best == nil || best.Score < threshold {
		return nil, nil
	}
	return best.Record, nil
}

// searchBackwardFuzzyAll runs a semantic search across types and returns
// every match clearing threshold from every type searched (spec.md:144: "For
// union <~, fetches each ID from its matched type"). A provider lacking
// SemanticSearcher yields an empty slice, not an error.
func searchBackwardFuzzyAll(ctx context.Context, prov provider.Provider, types []string, query string, threshold float64) ([]provider.Record, error) {
	searcher, err := provider.RequireSemanticSearch(prov)
	if err != nil {
		if vxerr.IsCapabilityNotSupported(err) {
			return []provider.Record{}, nil
		}
		return nil, err
	}

	results := make([][]provider.ScoredRecord, len(types))
	g, gctx := errgroup.WithContext(ctx)
	for i, t := range types {
		i, t := i, t
		g.Go(func() error {
			recs, err := searcher.SemanticSearch(gctx, t, query, provider.SemanticSearchOptions{MinScore: threshold})
			if err != nil {
				return err
			}
			results[i] = recs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]provider.Record, 0, len(types))
	for _, recs := range results {
		for _, r := range recs {
			if r.Score >= threshold {
				out = append(out, r.Record)
			}
		}
	}
	return out, nil
}

func toStringSlice(v any) []string {
	switch t := v.(type) {
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
