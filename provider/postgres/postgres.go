// Package postgres implements provider.Provider against PostgreSQL with a
// pgvector-backed semantic/hybrid search capability, plus a lighter SQLite
// dialect (see sqlite.go) for the "sqlite://" DATABASE_URL scheme. Both
// share the same one-JSONB-column-per-record table shape rather than
// mapping entity fields onto typed columns, since the schema is dynamic
// (spec §4.2's runtime-reloadable Declaration) and not known at migration
// time the way a conventional ORM schema would be.
//
// Grounded on MrWong99/glyphoxa's pkg/memory/postgres: a pgxpool.Pool
// shared across the package, idempotent "CREATE TABLE IF NOT EXISTS" DDL
// run once at Open time (schema.go's ddl* constants), and pgvector.Vector
// plus `embedding <=> $1` cosine-distance ordering for nearest-neighbour
// search (semantic_index.go's Search).
package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/vertexdb/vertex/generate"
	"github.com/vertexdb/vertex/provider"
	"github.com/vertexdb/vertex/vxerr"
)

const ddl = `
CREATE TABLE IF NOT EXISTS vertex_entities (
    type       TEXT        NOT NULL,
    id         TEXT        NOT NULL,
    data       JSONB       NOT NULL,
    embedding  VECTOR(1536),
    PRIMARY KEY (type, id)
);

CREATE INDEX IF NOT EXISTS idx_vertex_entities_type ON vertex_entities (type);
CREATE INDEX IF NOT EXISTS idx_vertex_entities_fts
    ON vertex_entities USING GIN (to_tsvector('english', data::text));

CREATE TABLE IF NOT EXISTS vertex_edges (
    from_type  TEXT  NOT NULL,
    from_id    TEXT  NOT NULL,
    relation   TEXT  NOT NULL,
    to_type    TEXT  NOT NULL,
    to_id      TEXT  NOT NULL,
    meta       JSONB NOT NULL DEFAULT '{}',
    PRIMARY KEY (from_type, from_id, relation, to_type, to_id)
);

CREATE INDEX IF NOT EXISTS idx_vertex_edges_from
    ON vertex_edges (from_type, from_id, relation);
`

// Provider is a PostgreSQL-backed provider.Provider with pgvector semantic
// and hybrid search. Safe for concurrent use; all methods share pool.
type Provider struct {
	pool     *pgxpool.Pool
	cfg      provider.EmbeddingsConfig
	embedder generate.EmbeddingGenerator
}

var (
	_ provider.Provider               = (*Provider)(nil)
	_ provider.SemanticSearcher       = (*Provider)(nil)
	_ provider.HybridSearcher         = (*Provider)(nil)
	_ provider.EmbeddingsConfigurable = (*Provider)(nil)
)

func init() {
	provider.RegisterOpener("postgres", func(ctx context.Context, dsn string) (provider.Provider, error) {
		return Open(ctx, dsn)
	})
	provider.RegisterOpener("sqlite", func(_ context.Context, dsn string) (provider.Provider, error) {
		path := strings.TrimPrefix(dsn, "sqlite://")
		if path == "" {
			path = provider.DefaultSQLitePath
		} else {
			path = provider.SQLitePathFor(path)
		}
		return OpenSQLite(path)
	})
}

// Open connects to dsn, registers the pgvector codec on every connection,
// installs the pgvector extension and the provider's tables (idempotent),
// and returns a ready Provider.
func Open(ctx context.Context, dsn string) (*Provider, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse dsn: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	if _, err := pool.Exec(ctx, `CREATE EXTENSION IF NOT EXISTS vector`); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: create extension vector: %w", err)
	}
	if _, err := pool.Exec(ctx, ddl); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: migrate: %w", err)
	}
	return &Provider{pool: pool, cfg: provider.EmbeddingsConfig{Model: "text-embedding-3-small", Dimensions: 1536}}, nil
}

// Close releases the underlying connection pool.
func (p *Provider) Close() { p.pool.Close() }

// WithEmbedder configures the generate.EmbeddingGenerator SemanticSearch
// and HybridSearch call to turn a query string into a vector, and Create
// calls to populate the embedding column. Without one, SemanticSearch
// reports CapabilityNotSupportedError — a pgvector search needs a vector,
// and the provider itself has no embeddings API of its own (spec §4.4) —
// and HybridSearch falls back to full-text search alone.
func (p *Provider) WithEmbedder(embedder generate.EmbeddingGenerator) *Provider {
	p.embedder = embedder
	return p
}

func (p *Provider) SetEmbeddingsConfig(cfg provider.EmbeddingsConfig) { p.cfg = cfg }
func (p *Provider) GetEmbeddingsConfig() provider.EmbeddingsConfig     { return p.cfg }

func (p *Provider) Get(ctx context.Context, typ, id string) (provider.Record, error) {
	const q = `SELECT data FROM vertex_entities WHERE type = $1 AND id = $2`
	var rec provider.Record
	err := p.pool.QueryRow(ctx, q, typ, id).Scan(&rec)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get %s/%s: %w", typ, id, err)
	}
	return withIdentity(rec, typ, id), nil
}

func (p *Provider) List(ctx context.Context, typ string, opts provider.ListOptions) ([]provider.Record, error) {
	q, args := listQuery(typ, opts, nil)
	return p.queryRecords(ctx, q, args)
}

func (p *Provider) Search(ctx context.Context, typ, query string, opts provider.ListOptions) ([]provider.Record, error) {
	q, args := listQuery(typ, opts, &query)
	return p.queryRecords(ctx, q, args)
}

func (p *Provider) Create(ctx context.Context, typ, id string, data provider.Record) (provider.Record, error) {
	rec := data.Clone()
	vec, err := p.embedRecord(ctx, rec)
	if err != nil {
		return nil, fmt.Errorf("postgres: embed %s/%s: %w", typ, id, err)
	}
	const q = `INSERT INTO vertex_entities (type, id, data, embedding) VALUES ($1, $2, $3, $4)`
	_, err = p.pool.Exec(ctx, q, typ, id, rec, vec)
	if isUniqueViolation(err) {
		return nil, &vxerr.EntityExistsError{Type: typ, ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: create %s/%s: %w", typ, id, err)
	}
	return withIdentity(rec, typ, id), nil
}

// embedRecord computes an embedding over rec's string fields when an
// embedder is configured, returning a nil *pgvector.Vector otherwise (which
// pgx stores as SQL NULL).
func (p *Provider) embedRecord(ctx context.Context, rec provider.Record) (*pgvector.Vector, error) {
	if p.embedder == nil {
		return nil, nil
	}
	text := embeddableText(rec)
	if text == "" {
		return nil, nil
	}
	vals, err := p.embedder.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	vec := pgvector.NewVector(vals)
	return &vec, nil
}

// embeddableText concatenates rec's string-valued, non-"$"-prefixed
// fields in map order — the closest approximation to "the document" a
// dynamically-shaped record has, absent a spec-level designated field.
func embeddableText(rec provider.Record) string {
	var parts []string
	for k, v := range rec {
		if strings.HasPrefix(k, "$") {
			continue
		}
		if s, ok := v.(string); ok && s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "\n")
}

func (p *Provider) Update(ctx context.Context, typ, id string, data provider.Record) (provider.Record, error) {
	existing, err := p.Get(ctx, typ, id)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, &vxerr.EntityNotFoundError{Type: typ, ID: id}
	}
	merged := existing.Clone()
	for k, v := range data {
		merged[k] = v
	}
	vec, err := p.embedRecord(ctx, merged)
	if err != nil {
		return nil, fmt.Errorf("postgres: embed %s/%s: %w", typ, id, err)
	}
	const q = `UPDATE vertex_entities SET data = $3, embedding = $4 WHERE type = $1 AND id = $2`
	if _, err := p.pool.Exec(ctx, q, typ, id, merged, vec); err != nil {
		return nil, fmt.Errorf("postgres: update %s/%s: %w", typ, id, err)
	}
	return withIdentity(merged, typ, id), nil
}

func (p *Provider) Delete(ctx context.Context, typ, id string) (bool, error) {
	const q = `DELETE FROM vertex_entities WHERE type = $1 AND id = $2`
	tag, err := p.pool.Exec(ctx, q, typ, id)
	if err != nil {
		return false, fmt.Errorf("postgres: delete %s/%s: %w", typ, id, err)
	}
	return tag.RowsAffected() > 0, nil
}

func (p *Provider) Related(ctx context.Context, fromType, fromID, relation string) ([]provider.Record, error) {
	const q = `
		SELECT e.data, e.type, e.id
		FROM vertex_edges edge
		JOIN vertex_entities e ON e.type = edge.to_type AND e.id = edge.to_id
		WHERE edge.from_type = $1 AND edge.from_id = $2 AND edge.relation = $3`
	rows, err := p.pool.Query(ctx, q, fromType, fromID, relation)
	if err != nil {
		return nil, fmt.Errorf("postgres: related %s/%s.%s: %w", fromType, fromID, relation, err)
	}
	defer rows.Close()
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (provider.Record, error) {
		var rec provider.Record
		var typ, id string
		if err := row.Scan(&rec, &typ, &id); err != nil {
			return nil, err
		}
		return withIdentity(rec, typ, id), nil
	})
}

func (p *Provider) Relate(ctx context.Context, fromType, fromID, relation, toType, toID string, meta provider.RelateMeta) error {
	const q = `
		INSERT INTO vertex_edges (from_type, from_id, relation, to_type, to_id, meta)
		VALUES ($1, $2, $3, $4, $5, $6)`
	if meta == nil {
		meta = provider.RelateMeta{}
	}
	_, err := p.pool.Exec(ctx, q, fromType, fromID, relation, toType, toID, meta)
	if isUniqueViolation(err) {
		return &vxerr.EntityExistsError{Type: "Edge", ID: fromType + ":" + fromID + ":" + relation + ":" + toID}
	}
	if err != nil {
		return fmt.Errorf("postgres: relate %s/%s.%s->%s/%s: %w", fromType, fromID, relation, toType, toID, err)
	}
	return nil
}

func (p *Provider) Unrelate(ctx context.Context, fromType, fromID, relation, toType, toID string) error {
	const q = `
		DELETE FROM vertex_edges
		WHERE from_type = $1 AND from_id = $2 AND relation = $3 AND to_type = $4 AND to_id = $5`
	if _, err := p.pool.Exec(ctx, q, fromType, fromID, relation, toType, toID); err != nil {
		return fmt.Errorf("postgres: unrelate %s/%s.%s->%s/%s: %w", fromType, fromID, relation, toType, toID, err)
	}
	return nil
}

// SemanticSearch embeds query via the configured generate.EmbeddingGenerator
// (see WithEmbedder) and ranks records of typ by cosine similarity. Without
// an embedder configured, pgvector has no vector to compare against, so
// this reports CapabilityNotSupportedError exactly as an unconfigured
// provider would (spec §4.4's degrade-to-generation fallback).
func (p *Provider) SemanticSearch(ctx context.Context, typ, query string, opts provider.SemanticSearchOptions) ([]provider.ScoredRecord, error) {
	if p.embedder == nil {
		return nil, &vxerr.CapabilityNotSupportedError{
			Capability: provider.CapSemanticSearch,
			Fallback:   "resolveForwardFuzzy degrades to pure generation",
		}
	}
	vals, err := p.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: embed query: %w", err)
	}
	return p.semanticSearchVector(ctx, typ, vals, opts)
}

func (p *Provider) semanticSearchVector(ctx context.Context, typ string, embedding []float32, opts provider.SemanticSearchOptions) ([]provider.ScoredRecord, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 20
	}
	const q = `
		SELECT id, data, 1 - (embedding <=> $2) AS score
		FROM vertex_entities
		WHERE type = $1 AND embedding IS NOT NULL
		ORDER BY embedding <=> $2
		LIMIT $3`
	rows, err := p.pool.Query(ctx, q, typ, pgvector.NewVector(embedding), limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: semantic search %s: %w", typ, err)
	}
	defer rows.Close()
	results, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (provider.ScoredRecord, error) {
		var id string
		var rec provider.Record
		var score float64
		if err := row.Scan(&id, &rec, &score); err != nil {
			return provider.ScoredRecord{}, err
		}
		return provider.ScoredRecord{Record: withIdentity(rec, typ, id), Score: score}, nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: scan semantic search %s: %w", typ, err)
	}
	out := results[:0]
	for _, r := range results {
		if r.Score >= opts.MinScore {
			out = append(out, r)
		}
	}
	return out, nil
}

// HybridSearch blends full-text rank and, when an embedder is configured
// (see WithEmbedder), cosine-similarity rank via reciprocal rank fusion
// (spec §6.1's { $rrfScore, $ftsRank, $semanticRank }). Without an embedder
// it degrades to full-text search alone rather than failing outright,
// since the full-text half of the blend needs no embedding.
func (p *Provider) HybridSearch(ctx context.Context, typ, query string, opts provider.HybridSearchOptions) ([]provider.HybridResult, error) {
	if p.embedder == nil {
		return p.fullTextSearch(ctx, typ, query, opts)
	}
	vals, err := p.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: embed query: %w", err)
	}
	return p.hybridSearchVector(ctx, typ, query, vals, opts)
}

func (p *Provider) hybridSearchVector(ctx context.Context, typ, query string, embedding []float32, opts provider.HybridSearchOptions) ([]provider.HybridResult, error) {
	rrfK := opts.RRFK
	if rrfK <= 0 {
		rrfK = 60
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = 20
	}
	const q = `
		WITH fts AS (
			SELECT id, data,
			       row_number() OVER (ORDER BY ts_rank(to_tsvector('english', data::text), plainto_tsquery('english', $2)) DESC) AS rank
			FROM vertex_entities
			WHERE type = $1 AND to_tsvector('english', data::text) @@ plainto_tsquery('english', $2)
		),
		sem AS (
			SELECT id, data,
			       row_number() OVER (ORDER BY embedding <=> $3) AS rank,
			       1 - (embedding <=> $3) AS score
			FROM vertex_entities
			WHERE type = $1 AND embedding IS NOT NULL
		)
		SELECT
			coalesce(fts.id, sem.id) AS id,
			coalesce(fts.data, sem.data) AS data,
			coalesce(fts.rank, 0) AS fts_rank,
			coalesce(sem.rank, 0) AS sem_rank,
			coalesce(sem.score, 0) AS score,
			(coalesce(1.0 / ($4 + fts.rank), 0) + coalesce(1.0 / ($4 + sem.rank), 0)) AS rrf_score
		FROM fts
		FULL OUTER JOIN sem ON fts.id = sem.id
		ORDER BY rrf_score DESC
		OFFSET $5
		LIMIT $6`
	rows, err := p.pool.Query(ctx, q, typ, query, pgvector.NewVector(embedding), rrfK, opts.Offset, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: hybrid search %s: %w", typ, err)
	}
	defer rows.Close()
	results, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (provider.HybridResult, error) {
		var id string
		var rec provider.Record
		var ftsRank, semRank int
		var score, rrf float64
		if err := row.Scan(&id, &rec, &ftsRank, &semRank, &score, &rrf); err != nil {
			return provider.HybridResult{}, err
		}
		return provider.HybridResult{
			Record:       withIdentity(rec, typ, id),
			Score:        score,
			RRFScore:     rrf,
			FTSRank:      ftsRank,
			SemanticRank: semRank,
		}, nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: scan hybrid search %s: %w", typ, err)
	}
	out := results[:0]
	for _, r := range results {
		if r.Score >= opts.MinScore {
			out = append(out, r)
		}
	}
	return out, nil
}

func (p *Provider) fullTextSearch(ctx context.Context, typ, query string, opts provider.HybridSearchOptions) ([]provider.HybridResult, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 20
	}
	const q = `
		SELECT id, data,
		       row_number() OVER (ORDER BY ts_rank(to_tsvector('english', data::text), plainto_tsquery('english', $2)) DESC) AS rank
		FROM vertex_entities
		WHERE type = $1 AND to_tsvector('english', data::text) @@ plainto_tsquery('english', $2)
		OFFSET $3
		LIMIT $4`
	rows, err := p.pool.Query(ctx, q, typ, query, opts.Offset, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: full text search %s: %w", typ, err)
	}
	defer rows.Close()
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (provider.HybridResult, error) {
		var id string
		var rec provider.Record
		var rank int
		if err := row.Scan(&id, &rec, &rank); err != nil {
			return provider.HybridResult{}, err
		}
		return provider.HybridResult{Record: withIdentity(rec, typ, id), FTSRank: rank}, nil
	})
}

func (p *Provider) queryRecords(ctx context.Context, q string, args []any) ([]provider.Record, error) {
	rows, err := p.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: query: %w", err)
	}
	defer rows.Close()
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (provider.Record, error) {
		var typ, id string
		var rec provider.Record
		if err := row.Scan(&typ, &id, &rec); err != nil {
			return nil, err
		}
		return withIdentity(rec, typ, id), nil
	})
}

// listQuery builds the SELECT for List/Search: equality filters from
// opts.Where, an optional full-text predicate when query != nil,
// ORDER BY/LIMIT/OFFSET from opts. Uses jsonb `data ->> 'field'` accessors
// since record fields are dynamic per spec §4.2.
func listQuery(typ string, opts provider.ListOptions, query *string) (string, []any) {
	var b strings.Builder
	args := []any{typ}
	b.WriteString(`SELECT type, id, data FROM vertex_entities WHERE type = $1`)

	for field, val := range opts.Where {
		args = append(args, fmt.Sprint(val))
		fmt.Fprintf(&b, ` AND data ->> %s = $%d`, quoteIdent(field), len(args))
	}
	if query != nil && *query != "" {
		args = append(args, *query)
		fmt.Fprintf(&b, ` AND to_tsvector('english', data::text) @@ plainto_tsquery('english', $%d)`, len(args))
	}
	if opts.OrderBy != "" {
		dir := "ASC"
		if strings.EqualFold(opts.Order, "desc") {
			dir = "DESC"
		}
		fmt.Fprintf(&b, ` ORDER BY data ->> %s %s`, quoteIdent(opts.OrderBy), dir)
	}
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		fmt.Fprintf(&b, ` LIMIT $%d`, len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		fmt.Fprintf(&b, ` OFFSET $%d`, len(args))
	}
	return b.String(), args
}

// quoteIdent renders field as a single-quoted JSON key literal, rejecting
// anything that would let a field name escape the literal.
func quoteIdent(field string) string {
	return "'" + strings.ReplaceAll(field, "'", "") + "'"
}

func withIdentity(rec provider.Record, typ, id string) provider.Record {
	if rec == nil {
		rec = provider.Record{}
	}
	rec["$type"] = typ
	rec["$id"] = id
	return rec
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "23505")
}
