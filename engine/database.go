package engine

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/vertexdb/vertex/cascade"
	"github.com/vertexdb/vertex/draft"
	"github.com/vertexdb/vertex/generate"
	"github.com/vertexdb/vertex/hydrate"
	"github.com/vertexdb/vertex/provider"
	"github.com/vertexdb/vertex/resolve"
	"github.com/vertexdb/vertex/schema"
	"github.com/vertexdb/vertex/vxerr"
)

// Globals is the process-wide, steady-state-immutable state spec §5
// singles out as the one bit of shared mutable state the engine allows:
// the provider reference, the generator, the current schema, and the
// logger. It's swapped as a whole (atomic.Pointer), never mutated in
// place, so a SwapSchema (e.g. from a fsnotify-driven reload) never races
// a concurrent read of the other fields.
type Globals struct {
	Provider  provider.Provider
	Generator generate.Generator
	Schema    *schema.ParsedSchema
	Logger    *slog.Logger
}

// NLQueryFunc is the seam for the natural-language query fallback (spec
// §4.9: "the database object is also itself callable as a template tag,
// dispatching to the natural-language query fallback"). vertex only
// defines this interface; the NL-query implementation itself is
// out-of-scope (spec §1).
type NLQueryFunc func(ctx context.Context, format string, args []any) ([]provider.Record, error)

// DB is the top-level pipeline entrypoint: Open it once, then call
// Entity(typ) for the per-type operations surface of spec §4.9.
type DB struct {
	globals atomic.Pointer[Globals]
	nlQuery NLQueryFunc
}

// Open constructs a DB over prov/gen/ps. A nil logger defaults to
// slog.Default().
func Open(prov provider.Provider, gen generate.Generator, ps *schema.ParsedSchema, logger *slog.Logger) *DB {
	if logger == nil {
		logger = slog.Default()
	}
	db := &DB{}
	db.globals.Store(&Globals{Provider: prov, Generator: gen, Schema: ps, Logger: logger})
	return db
}

// WithNLQuery attaches the natural-language query fallback implementation
// and returns db for chaining.
func (db *DB) WithNLQuery(fn NLQueryFunc) *DB {
	db.nlQuery = fn
	return db
}

func (db *DB) snapshot() *Globals { return db.globals.Load() }

// Schema returns the current, steady-state schema.
func (db *DB) Schema() *schema.ParsedSchema { return db.snapshot().Schema }

// SwapSchema atomically replaces the active schema (e.g. after a
// schema.Watch-driven reload), leaving the provider/generator/logger
// untouched.
func (db *DB) SwapSchema(ps *schema.ParsedSchema) {
	old := db.snapshot()
	db.globals.Store(&Globals{Provider: old.Provider, Generator: old.Generator, Schema: ps, Logger: old.Logger})
}

// Entity returns the pipeline operations surface for typ.
func (db *DB) Entity(typ string) *EntityOps {
	return &EntityOps{db: db, typ: typ}
}

// Query dispatches to the natural-language query fallback (spec §4.9).
// Returns a CapabilityNotSupportedError if no NLQueryFunc was attached.
func (db *DB) Query(ctx context.Context, format string, args ...any) (Query[provider.Record], error) {
	if db.nlQuery == nil {
		return Query[provider.Record]{}, &vxerr.CapabilityNotSupportedError{
			Capability: "nlQuery",
			Fallback:   "attach a NLQueryFunc via DB.WithNLQuery",
		}
	}
	return NewQuery(func(ctx context.Context) ([]provider.Record, error) {
		return db.nlQuery(ctx, format, args)
	}), nil
}

// EntityOps is the per-declared-type operations surface of spec §4.9.
type EntityOps struct {
	db  *DB
	typ string
}

func (e *EntityOps) entity(g *Globals) (*schema.ParsedEntity, error) {
	entity := g.Schema.Entity(e.typ)
	if entity == nil {
		return nil, &UnknownTypeError{Type: e.typ}
	}
	return entity, nil
}

func (e *EntityOps) genCapability(g *Globals) generate.Capability {
	c, _ := g.Generator.(generate.Capability)
	return c
}

func (e *EntityOps) hydrate(g *Globals, rec provider.Record) provider.Record {
	if rec == nil {
		return nil
	}
	entity := g.Schema.Entity(e.typ)
	if entity == nil {
		return rec
	}
	return hydrate.Record(rec, entity)
}

// Get fetches one record by id and hydrates it.
func (e *EntityOps) Get(ctx context.Context, id string) (provider.Record, error) {
	g := e.db.snapshot()
	rec, err := g.Provider.Get(ctx, e.typ, id)
	if err != nil {
		return nil, vxerr.Wrap("get", e.typ, id, err)
	}
	if rec == nil {
		return nil, &vxerr.EntityNotFoundError{Type: e.typ, ID: id}
	}
	return e.hydrate(g, rec), nil
}

// List returns a chainable Query over every record matching opts,
// hydrated, batching none of the fetch itself (list is already bulk) but
// composable with Map/Filter/Sort/Limit/First.
func (e *EntityOps) List(opts provider.ListOptions) Query[provider.Record] {
	return NewQuery(func(ctx context.Context) ([]provider.Record, error) {
		g := e.db.snapshot()
		recs, err := g.Provider.List(ctx, e.typ, opts)
		if err != nil {
			return nil, vxerr.Wrap("list", e.typ, "", err)
		}
		out := make([]provider.Record, len(recs))
		for i, r := range recs {
			out[i] = e.hydrate(g, r)
		}
		return out, nil
	})
}

// Find is List restricted to a where clause, matching spec §4.9's
// find(where) shorthand.
func (e *EntityOps) Find(where map[string]any) Query[provider.Record] {
	return e.List(provider.ListOptions{Where: where})
}

// Search returns a chainable Query over full-text search results.
func (e *EntityOps) Search(query string, opts provider.ListOptions) Query[provider.Record] {
	return NewQuery(func(ctx context.Context) ([]provider.Record, error) {
		g := e.db.snapshot()
		recs, err := g.Provider.Search(ctx, e.typ, query, opts)
		if err != nil {
			return nil, vxerr.Wrap("search", e.typ, "", err)
		}
		out := make([]provider.Record, len(recs))
		for i, r := range recs {
			out[i] = e.hydrate(g, r)
		}
		return out, nil
	})
}

// CreateOptions configures Create (spec §4.9/§4.7).
type CreateOptions struct {
	// ID overrides the generated id; used internally by Upsert.
	ID string

	// DraftOnly stops after the draft phase: no resolve, persist, relate,
	// cascade, or hydrate.
	DraftOnly bool

	// OnErrorSkip makes resolve accumulate per-reference errors onto the
	// draft instead of aborting the whole create.
	OnErrorSkip bool

	// Cascade, when true, runs the cascade generator after persisting
	// (spec §4.7) and defers the draft's own array-reference generation to
	// it, one level at a time.
	Cascade      bool
	MaxDepth     int
	CascadeTypes []string
	OnProgress   func(cascade.Progress)
	OnCascadeErr func(error)

	// Stream/OnChunk forward to draft.Build's scalar-field streaming.
	Stream  bool
	OnChunk func(field, chunk string)

	// NoHydrate skips the final hydrate step, returning the raw stored
	// record instead.
	NoHydrate bool
}

// Create runs the full pipeline: draft, resolve, persist, relate,
// (cascade), hydrate (spec §4.9).
func (e *EntityOps) Create(ctx context.Context, data map[string]any, opts CreateOptions) (provider.Record, error) {
	if isSystemType(e.typ) {
		return nil, vxerr.ErrSystemEntityImmutable
	}
	g := e.db.snapshot()
	entity, err := e.entity(g)
	if err != nil {
		return nil, err
	}

	d, err := draft.Build(ctx, entity, g.Generator, data, draft.Options{Stream: opts.Stream, OnChunk: opts.OnChunk})
	if err != nil {
		return nil, err
	}
	if opts.DraftOnly {
		return provider.Record(d.Data), nil
	}

	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	}

	if err := resolve.Resolve(ctx, g.Schema, g.Provider, e.genCapability(g), id, d, resolve.Options{
		OnErrorSkip:          opts.OnErrorSkip,
		DeferArrayGeneration: opts.Cascade,
	}); err != nil {
		return nil, err
	}

	rec, err := g.Provider.Create(ctx, e.typ, id, provider.Record(d.Data))
	if err != nil {
		return nil, vxerr.Wrap("create", e.typ, id, err)
	}

	if opts.Cascade {
		if err := cascade.Run(ctx, g.Schema, g.Provider, g.Generator, e.typ, id, cascade.Options{
			MaxDepth:     opts.MaxDepth,
			CascadeTypes: opts.CascadeTypes,
			OnProgress:   opts.OnProgress,
			OnError:      opts.OnCascadeErr,
		}); err != nil {
			return nil, err
		}
		rec, err = g.Provider.Get(ctx, e.typ, id)
		if err != nil {
			return nil, vxerr.Wrap("get", e.typ, id, err)
		}
	}

	if opts.NoHydrate {
		return rec, nil
	}
	return e.hydrate(g, rec), nil
}

// Draft directly exposes the draft phase (spec §4.9: "draft(data, opts?)").
func (e *EntityOps) Draft(ctx context.Context, data map[string]any, opts draft.Options) (*draft.Draft, error) {
	g := e.db.snapshot()
	entity, err := e.entity(g)
	if err != nil {
		return nil, err
	}
	return draft.Build(ctx, entity, g.Generator, data, opts)
}

// Resolve directly exposes the resolve phase (spec §4.9:
// "resolve(draft, opts?)"), writing into the record at id.
func (e *EntityOps) Resolve(ctx context.Context, id string, d *draft.Draft, opts resolve.Options) error {
	g := e.db.snapshot()
	return resolve.Resolve(ctx, g.Schema, g.Provider, e.genCapability(g), id, d, opts)
}

// Update merges partial into the stored record and returns the hydrated
// result. System entities reject this unconditionally.
func (e *EntityOps) Update(ctx context.Context, id string, partial map[string]any) (provider.Record, error) {
	if isSystemType(e.typ) {
		return nil, vxerr.ErrSystemEntityImmutable
	}
	g := e.db.snapshot()
	rec, err := g.Provider.Update(ctx, e.typ, id, provider.Record(partial))
	if err != nil {
		return nil, vxerr.Wrap("update", e.typ, id, err)
	}
	return e.hydrate(g, rec), nil
}

// Upsert updates id if it exists (a direct merge, like Update), otherwise
// creates it with that id through Create's draft/resolve/persist pipeline,
// with cascade off.
func (e *EntityOps) Upsert(ctx context.Context, id string, data map[string]any) (provider.Record, error) {
	if isSystemType(e.typ) {
		return nil, vxerr.ErrSystemEntityImmutable
	}
	g := e.db.snapshot()
	existing, err := g.Provider.Get(ctx, e.typ, id)
	if err != nil {
		return nil, vxerr.Wrap("upsert", e.typ, id, err)
	}
	if existing != nil {
		return e.Update(ctx, id, data)
	}
	return e.Create(ctx, data, CreateOptions{ID: id})
}

// Delete removes the record at id. System entities reject this
// unconditionally (spec §3/§7).
func (e *EntityOps) Delete(ctx context.Context, id string) (bool, error) {
	if isSystemType(e.typ) {
		return false, vxerr.ErrSystemEntityImmutable
	}
	g := e.db.snapshot()
	ok, err := g.Provider.Delete(ctx, e.typ, id)
	if err != nil {
		return false, vxerr.Wrap("delete", e.typ, id, err)
	}
	return ok, nil
}

// ForEach iterates every record of this type with bounded concurrency
// (spec §4.9). fn receives the hydrated record.
func (e *EntityOps) ForEach(ctx context.Context, opts ForEachOptions, fn func(ctx context.Context, rec provider.Record) error) error {
	g := e.db.snapshot()
	recs, err := g.Provider.List(ctx, e.typ, provider.ListOptions{})
	if err != nil {
		return vxerr.Wrap("list", e.typ, "", err)
	}
	hydrated := make([]provider.Record, len(recs))
	for i, r := range recs {
		hydrated[i] = e.hydrate(g, r)
	}
	return ForEach(ctx, hydrated, opts, fn)
}

// SemanticSearch requires the provider implement SemanticSearcher,
// returning hydrated records augmented with "$score" (spec §4.9).
func (e *EntityOps) SemanticSearch(ctx context.Context, query string, opts provider.SemanticSearchOptions) ([]provider.Record, error) {
	g := e.db.snapshot()
	searcher, err := provider.RequireSemanticSearch(g.Provider)
	if err != nil {
		return nil, err
	}
	scored, err := searcher.SemanticSearch(ctx, e.typ, query, opts)
	if err != nil {
		return nil, vxerr.Wrap("semanticSearch", e.typ, "", err)
	}
	out := make([]provider.Record, len(scored))
	for i, s := range scored {
		rec := e.hydrate(g, s.Record)
		rec["$score"] = s.Score
		out[i] = rec
	}
	return out, nil
}

// HybridSearch requires the provider implement HybridSearcher, returning
// hydrated records augmented with "$score", "$rrfScore", "$ftsRank", and
// "$semanticRank" (spec §4.9).
func (e *EntityOps) HybridSearch(ctx context.Context, query string, opts provider.HybridSearchOptions) ([]provider.Record, error) {
	g := e.db.snapshot()
	searcher, err := provider.RequireHybridSearch(g.Provider)
	if err != nil {
		return nil, err
	}
	results, err := searcher.HybridSearch(ctx, e.typ, query, opts)
	if err != nil {
		return nil, vxerr.Wrap("hybridSearch", e.typ, "", err)
	}
	out := make([]provider.Record, len(results))
	for i, r := range results {
		rec := e.hydrate(g, r.Record)
		rec["$score"] = r.Score
		rec["$rrfScore"] = r.RRFScore
		rec["$ftsRank"] = r.FTSRank
		rec["$semanticRank"] = r.SemanticRank
		out[i] = rec
	}
	return out, nil
}
