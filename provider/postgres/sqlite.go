package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/vertexdb/vertex/provider"
	"github.com/vertexdb/vertex/vxerr"
)

const sqliteDDL = `
CREATE TABLE IF NOT EXISTS vertex_entities (
    type TEXT NOT NULL,
    id   TEXT NOT NULL,
    data TEXT NOT NULL,
    PRIMARY KEY (type, id)
);
CREATE INDEX IF NOT EXISTS idx_vertex_entities_type ON vertex_entities (type);

CREATE TABLE IF NOT EXISTS vertex_edges (
    from_type TEXT NOT NULL,
    from_id   TEXT NOT NULL,
    relation  TEXT NOT NULL,
    to_type   TEXT NOT NULL,
    to_id     TEXT NOT NULL,
    meta      TEXT NOT NULL DEFAULT '{}',
    PRIMARY KEY (from_type, from_id, relation, to_type, to_id)
);
CREATE INDEX IF NOT EXISTS idx_vertex_edges_from ON vertex_edges (from_type, from_id, relation);
`

// SQLiteProvider implements provider.Provider over a local SQLite file via
// modernc.org/sqlite (the pure-Go driver syssam-velox registers under the
// "sqlite" database/sql name). It carries no semantic/hybrid search
// capability — pgvector is Postgres-only — so List/Search fall back to an
// in-process substring match, mirroring provider/memory's approach, rather
// than a SQL full-text predicate.
type SQLiteProvider struct {
	db *sql.DB
}

var _ provider.Provider = (*SQLiteProvider)(nil)

// OpenSQLite opens (creating if needed) the SQLite file at path and runs
// the provider's idempotent DDL.
func OpenSQLite(path string) (*SQLiteProvider, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	if _, err := db.Exec(sqliteDDL); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: migrate %s: %w", path, err)
	}
	return &SQLiteProvider{db: db}, nil
}

// Close releases the underlying *sql.DB.
func (p *SQLiteProvider) Close() error { return p.db.Close() }

func (p *SQLiteProvider) Get(ctx context.Context, typ, id string) (provider.Record, error) {
	const q = `SELECT data FROM vertex_entities WHERE type = ? AND id = ?`
	var raw string
	err := p.db.QueryRowContext(ctx, q, typ, id).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get %s/%s: %w", typ, id, err)
	}
	rec, err := decodeRecord(raw)
	if err != nil {
		return nil, err
	}
	return withIdentity(rec, typ, id), nil
}

func (p *SQLiteProvider) List(ctx context.Context, typ string, opts provider.ListOptions) ([]provider.Record, error) {
	return p.scan(ctx, typ, opts, "")
}

func (p *SQLiteProvider) Search(ctx context.Context, typ, query string, opts provider.ListOptions) ([]provider.Record, error) {
	return p.scan(ctx, typ, opts, strings.ToLower(query))
}

func (p *SQLiteProvider) scan(ctx context.Context, typ string, opts provider.ListOptions, query string) ([]provider.Record, error) {
	const q = `SELECT id, data FROM vertex_entities WHERE type = ?`
	rows, err := p.db.QueryContext(ctx, q, typ)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list %s: %w", typ, err)
	}
	defer rows.Close()

	var out []provider.Record
	for rows.Next() {
		var id, raw string
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, err
		}
		rec, err := decodeRecord(raw)
		if err != nil {
			return nil, err
		}
		rec = withIdentity(rec, typ, id)
		if !matchesWhere(rec, opts.Where) {
			continue
		}
		if query != "" && !recordContainsText(rec, query) {
			continue
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return applyOrderAndPageSlice(out, opts), nil
}

func (p *SQLiteProvider) Create(ctx context.Context, typ, id string, data provider.Record) (provider.Record, error) {
	rec := data.Clone()
	raw, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("sqlite: encode %s/%s: %w", typ, id, err)
	}
	const q = `INSERT INTO vertex_entities (type, id, data) VALUES (?, ?, ?)`
	_, err = p.db.ExecContext(ctx, q, typ, id, string(raw))
	if isSQLiteUniqueViolation(err) {
		return nil, &vxerr.EntityExistsError{Type: typ, ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: create %s/%s: %w", typ, id, err)
	}
	return withIdentity(rec, typ, id), nil
}

func (p *SQLiteProvider) Update(ctx context.Context, typ, id string, data provider.Record) (provider.Record, error) {
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
	raw, err := json.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("sqlite: encode %s/%s: %w", typ, id, err)
	}
	const q = `UPDATE vertex_entities SET data = ? WHERE type = ? AND id = ?`
	if _, err := p.db.ExecContext(ctx, q, string(raw), typ, id); err != nil {
		return nil, fmt.Errorf("sqlite: update %s/%s: %w", typ, id, err)
	}
	return withIdentity(merged, typ, id), nil
}

func (p *SQLiteProvider) Delete(ctx context.Context, typ, id string) (bool, error) {
	const q = `DELETE FROM vertex_entities WHERE type = ? AND id = ?`
	res, err := p.db.ExecContext(ctx, q, typ, id)
	if err != nil {
		return false, fmt.Errorf("sqlite: delete %s/%s: %w", typ, id, err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (p *SQLiteProvider) Related(ctx context.Context, fromType, fromID, relation string) ([]provider.Record, error) {
	const q = `
		SELECT e.type, e.id, e.data
		FROM vertex_edges edge
		JOIN vertex_entities e ON e.type = edge.to_type AND e.id = edge.to_id
		WHERE edge.from_type = ? AND edge.from_id = ? AND edge.relation = ?`
	rows, err := p.db.QueryContext(ctx, q, fromType, fromID, relation)
	if err != nil {
		return nil, fmt.Errorf("sqlite: related %s/%s.%s: %w", fromType, fromID, relation, err)
	}
	defer rows.Close()

	var out []provider.Record
	for rows.Next() {
		var typ, id, raw string
		if err := rows.Scan(&typ, &id, &raw); err != nil {
			return nil, err
		}
		rec, err := decodeRecord(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, withIdentity(rec, typ, id))
	}
	return out, rows.Err()
}

func (p *SQLiteProvider) Relate(ctx context.Context, fromType, fromID, relation, toType, toID string, meta provider.RelateMeta) error {
	if meta == nil {
		meta = provider.RelateMeta{}
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("sqlite: encode edge meta: %w", err)
	}
	const q = `
		INSERT INTO vertex_edges (from_type, from_id, relation, to_type, to_id, meta)
		VALUES (?, ?, ?, ?, ?, ?)`
	_, err = p.db.ExecContext(ctx, q, fromType, fromID, relation, toType, toID, string(raw))
	if isSQLiteUniqueViolation(err) {
		return &vxerr.EntityExistsError{Type: "Edge", ID: fromType + ":" + fromID + ":" + relation + ":" + toID}
	}
	if err != nil {
		return fmt.Errorf("sqlite: relate %s/%s.%s->%s/%s: %w", fromType, fromID, relation, toType, toID, err)
	}
	return nil
}

func (p *SQLiteProvider) Unrelate(ctx context.Context, fromType, fromID, relation, toType, toID string) error {
	const q = `
		DELETE FROM vertex_edges
		WHERE from_type = ? AND from_id = ? AND relation = ? AND to_type = ? AND to_id = ?`
	_, err := p.db.ExecContext(ctx, q, fromType, fromID, relation, toType, toID)
	if err != nil {
		return fmt.Errorf("sqlite: unrelate %s/%s.%s->%s/%s: %w", fromType, fromID, relation, toType, toID, err)
	}
	return nil
}

func decodeRecord(raw string) (provider.Record, error) {
	var rec provider.Record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, fmt.Errorf("sqlite: decode record: %w", err)
	}
	return rec, nil
}

func matchesWhere(rec provider.Record, where map[string]any) bool {
	for k, v := range where {
		if rec[k] != v {
			return false
		}
	}
	return true
}

func recordContainsText(rec provider.Record, q string) bool {
	for k, v := range rec {
		if strings.HasPrefix(k, "$") {
			continue
		}
		if s, ok := v.(string); ok && strings.Contains(strings.ToLower(s), q) {
			return true
		}
	}
	return false
}

func applyOrderAndPageSlice(recs []provider.Record, opts provider.ListOptions) []provider.Record {
	if opts.OrderBy != "" {
		desc := strings.EqualFold(opts.Order, "desc")
		sort.SliceStable(recs, func(i, j int) bool {
			less := fmt.Sprint(recs[i][opts.OrderBy]) < fmt.Sprint(recs[j][opts.OrderBy])
			if desc {
				return !less
			}
			return less
		})
	}
	if opts.Offset > 0 {
		if opts.Offset >= len(recs) {
			recs = recs[:0]
		} else {
			recs = recs[opts.Offset:]
		}
	}
	if opts.Limit > 0 && opts.Limit < len(recs) {
		recs = recs[:opts.Limit]
	}
	return recs
}

func isSQLiteUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
