// Package libsql implements provider.Provider over Turso/libsql — a remote
// SQLite-compatible database reached over HTTP — for the "libsql://…turso.io"
// DATABASE_URL form (spec §6.3). The connector construction (libsql.
// NewConnector plus an optional auth token from the environment, wrapped in
// database/sql via sql.OpenDB) is termfx-morfx's db.Connect; this package
// drops morfx's gorm layer in favor of the same dynamic JSON-column shape
// provider/postgres's SQLite dialect uses, since libsql's schema here is
// runtime-declared rather than migration-generated.
package libsql

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	libsql "github.com/tursodatabase/libsql-client-go/libsql"

	"github.com/vertexdb/vertex/provider"
	"github.com/vertexdb/vertex/vxerr"
)

const ddl = `
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

// AuthTokenEnv is the environment variable holding the Turso auth token,
// named after morfx's own MORFX_LIBSQL_AUTH_TOKEN convention.
const AuthTokenEnv = "VERTEX_LIBSQL_AUTH_TOKEN"

// Provider is the libsql-backed storage adapter. It carries no semantic or
// hybrid search capability — vector columns are Postgres/pgvector-only
// (provider/postgres).
type Provider struct {
	db *sql.DB
}

var _ provider.Provider = (*Provider)(nil)

func init() {
	provider.RegisterOpener("libsql", func(ctx context.Context, dsn string) (provider.Provider, error) {
		return Open(ctx, dsn)
	})
}

// Open connects to the libsql URL (e.g. "libsql://my-db.turso.io") and runs
// the provider's idempotent DDL. The auth token, if any, comes from
// AuthTokenEnv.
func Open(ctx context.Context, dsn string) (*Provider, error) {
	var (
		connector driver.Connector
		err       error
	)
	if token := os.Getenv(AuthTokenEnv); token != "" {
		connector, err = libsql.NewConnector(dsn, libsql.WithAuthToken(token))
	} else {
		connector, err = libsql.NewConnector(dsn)
	}
	if err != nil {
		return nil, fmt.Errorf("libsql: connect %s: %w", dsn, err)
	}

	db := sql.OpenDB(connector)
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		db.Close()
		return nil, fmt.Errorf("libsql: migrate %s: %w", dsn, err)
	}
	return &Provider{db: db}, nil
}

// Close releases the underlying *sql.DB.
func (p *Provider) Close() error { return p.db.Close() }

func (p *Provider) Get(ctx context.Context, typ, id string) (provider.Record, error) {
	const q = `SELECT data FROM vertex_entities WHERE type = ? AND id = ?`
	var raw string
	err := p.db.QueryRowContext(ctx, q, typ, id).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("libsql: get %s/%s: %w", typ, id, err)
	}
	rec, err := decodeRecord(raw)
	if err != nil {
		return nil, err
	}
	return withIdentity(rec, typ, id), nil
}

func (p *Provider) List(ctx context.Context, typ string, opts provider.ListOptions) ([]provider.Record, error) {
	return p.scan(ctx, typ, opts, "")
}

func (p *Provider) Search(ctx context.Context, typ, query string, opts provider.ListOptions) ([]provider.Record, error) {
	return p.scan(ctx, typ, opts, strings.ToLower(query))
}

func (p *Provider) scan(ctx context.Context, typ string, opts provider.ListOptions, query string) ([]provider.Record, error) {
	const q = `SELECT id, data FROM vertex_entities WHERE type = ?`
	rows, err := p.db.QueryContext(ctx, q, typ)
	if err != nil {
		return nil, fmt.Errorf("libsql: list %s: %w", typ, err)
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
	return applyOrderAndPage(out, opts), nil
}

func (p *Provider) Create(ctx context.Context, typ, id string, data provider.Record) (provider.Record, error) {
	rec := data.Clone()
	raw, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("libsql: encode %s/%s: %w", typ, id, err)
	}
	const q = `INSERT INTO vertex_entities (type, id, data) VALUES (?, ?, ?)`
	_, err = p.db.ExecContext(ctx, q, typ, id, string(raw))
	if isUniqueViolation(err) {
		return nil, &vxerr.EntityExistsError{Type: typ, ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("libsql: create %s/%s: %w", typ, id, err)
	}
	return withIdentity(rec, typ, id), nil
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
	raw, err := json.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("libsql: encode %s/%s: %w", typ, id, err)
	}
	const q = `UPDATE vertex_entities SET data = ? WHERE type = ? AND id = ?`
	if _, err := p.db.ExecContext(ctx, q, string(raw), typ, id); err != nil {
		return nil, fmt.Errorf("libsql: update %s/%s: %w", typ, id, err)
	}
	return withIdentity(merged, typ, id), nil
}

func (p *Provider) Delete(ctx context.Context, typ, id string) (bool, error) {
	const q = `DELETE FROM vertex_entities WHERE type = ? AND id = ?`
	res, err := p.db.ExecContext(ctx, q, typ, id)
	if err != nil {
		return false, fmt.Errorf("libsql: delete %s/%s: %w", typ, id, err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (p *Provider) Related(ctx context.Context, fromType, fromID, relation string) ([]provider.Record, error) {
	const q = `
		SELECT e.type, e.id, e.data
		FROM vertex_edges edge
		JOIN vertex_entities e ON e.type = edge.to_type AND e.id = edge.to_id
		WHERE edge.from_type = ? AND edge.from_id = ? AND edge.relation = ?`
	rows, err := p.db.QueryContext(ctx, q, fromType, fromID, relation)
	if err != nil {
		return nil, fmt.Errorf("libsql: related %s/%s.%s: %w", fromType, fromID, relation, err)
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

func (p *Provider) Relate(ctx context.Context, fromType, fromID, relation, toType, toID string, meta provider.RelateMeta) error {
	if meta == nil {
		meta = provider.RelateMeta{}
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("libsql: encode edge meta: %w", err)
	}
	const q = `
		INSERT INTO vertex_edges (from_type, from_id, relation, to_type, to_id, meta)
		VALUES (?, ?, ?, ?, ?, ?)`
	_, err = p.db.ExecContext(ctx, q, fromType, fromID, relation, toType, toID, string(raw))
	if isUniqueViolation(err) {
		return &vxerr.EntityExistsError{Type: "Edge", ID: fromType + ":" + fromID + ":" + relation + ":" + toID}
	}
	if err != nil {
		return fmt.Errorf("libsql: relate %s/%s.%s->%s/%s: %w", fromType, fromID, relation, toType, toID, err)
	}
	return nil
}

func (p *Provider) Unrelate(ctx context.Context, fromType, fromID, relation, toType, toID string) error {
	const q = `
		DELETE FROM vertex_edges
		WHERE from_type = ? AND from_id = ? AND relation = ? AND to_type = ? AND to_id = ?`
	_, err := p.db.ExecContext(ctx, q, fromType, fromID, relation, toType, toID)
	if err != nil {
		return fmt.Errorf("libsql: unrelate %s/%s.%s->%s/%s: %w", fromType, fromID, relation, toType, toID, err)
	}
	return nil
}

func decodeRecord(raw string) (provider.Record, error) {
	var rec provider.Record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, fmt.Errorf("libsql: decode record: %w", err)
	}
	return rec, nil
}

func withIdentity(rec provider.Record, typ, id string) provider.Record {
	if rec == nil {
		rec = provider.Record{}
	}
	rec["$id"] = id
	rec["$type"] = typ
	return rec
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

func applyOrderAndPage(recs []provider.Record, opts provider.ListOptions) []provider.Record {
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

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
