// Package clickhouse implements provider.Provider against ClickHouse's HTTP
// interface for the "chdb://./path" and "clickhouse://host:port/db"
// DATABASE_URL forms (spec §6.3). No ClickHouse client library appears
// anywhere in the retrieval pack, so unlike every other adapter in this
// module this one is deliberately stdlib: a request is "POST <base>/?database=
// <db>" with the SQL in the body and "FORMAT JSONEachRow" on
// SELECTs, decoded line-by-line with encoding/json — the same shape
// ClickHouse's own HTTP docs describe and that a Go client library would
// wrap anyway.
package clickhouse

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/vertexdb/vertex/provider"
	"github.com/vertexdb/vertex/vxerr"
)

const ddl = `
CREATE TABLE IF NOT EXISTS vertex_entities (
    type String,
    id String,
    data String
) ENGINE = ReplacingMergeTree ORDER BY (type, id);

CREATE TABLE IF NOT EXISTS vertex_edges (
    from_type String,
    from_id String,
    relation String,
    to_type String,
    to_id String,
    meta String
) ENGINE = ReplacingMergeTree ORDER BY (from_type, from_id, relation, to_type, to_id);
`

// Provider is the ClickHouse HTTP-interface storage adapter. It carries no
// semantic or hybrid search capability — vector search lives in
// provider/postgres's pgvector columns.
type Provider struct {
	httpClient *http.Client
	baseURL    string // e.g. "http://127.0.0.1:8123"
	database   string
}

var _ provider.Provider = (*Provider)(nil)

func init() {
	opener := func(ctx context.Context, dsn string) (provider.Provider, error) {
		return Open(ctx, dsn)
	}
	provider.RegisterOpener("clickhouse", opener)
	provider.RegisterOpener("chdb", opener)
}

// Open parses a "clickhouse://host:port/db" or "chdb://./path" DSN.
//
// chdb (embedded ClickHouse) has no Go binding in the retrieval pack; this
// adapter treats "chdb://./path" as a local server reachable at
// 127.0.0.1:8123, using the path's base name as the database — a
// deliberate simplification, recorded as an Open-question decision, rather
// than inventing an embedded-mode client that does not exist in the corpus.
func Open(ctx context.Context, dsn string) (*Provider, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return nil, fmt.Errorf("clickhouse: parse dsn %s: %w", dsn, err)
	}

	var base, db string
	switch u.Scheme {
	case "clickhouse":
		host := u.Host
		if host == "" {
			host = "127.0.0.1:8123"
		}
		base = "http://" + host
		db = strings.TrimPrefix(u.Path, "/")
	case "chdb":
		base = "http://127.0.0.1:8123"
		dir := strings.TrimSuffix(u.Opaque+u.Path, "/")
		db = dir[strings.LastIndex(dir, "/")+1:]
	default:
		return nil, fmt.Errorf("clickhouse: unsupported scheme %q", u.Scheme)
	}
	if db == "" {
		db = "default"
	}

	p := &Provider{httpClient: http.DefaultClient, baseURL: base, database: db}
	if err := p.exec(ctx, fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", quoteIdent(db))); err != nil {
		return nil, fmt.Errorf("clickhouse: create database %s: %w", db, err)
	}
	if err := p.exec(ctx, ddl); err != nil {
		return nil, fmt.Errorf("clickhouse: migrate: %w", err)
	}
	return p, nil
}

func (p *Provider) exec(ctx context.Context, query string) error {
	_, err := p.do(ctx, query)
	return err
}

func (p *Provider) do(ctx context.Context, query string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/?database="+url.QueryEscape(p.database), bytes.NewBufferString(query))
	if err != nil {
		return nil, err
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("clickhouse: request: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("clickhouse: %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	return body, nil
}

type entityRow struct {
	Type string `json:"type"`
	ID   string `json:"id"`
	Data string `json:"data"`
}

type edgeRow struct {
	FromType string `json:"from_type"`
	FromID   string `json:"from_id"`
	Relation string `json:"relation"`
	ToType   string `json:"to_type"`
	ToID     string `json:"to_id"`
	Meta     string `json:"meta"`
}

func (p *Provider) queryEntities(ctx context.Context, query string) ([]entityRow, error) {
	body, err := p.do(ctx, query+" FORMAT JSONEachRow")
	if err != nil {
		return nil, err
	}
	var out []entityRow
	scanner := bufio.NewScanner(bytes.NewReader(body))
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var row entityRow
		if err := json.Unmarshal(line, &row); err != nil {
			return nil, fmt.Errorf("clickhouse: decode row: %w", err)
		}
		out = append(out, row)
	}
	return out, scanner.Err()
}

func (p *Provider) queryEdges(ctx context.Context, query string) ([]edgeRow, error) {
	body, err := p.do(ctx, query+" FORMAT JSONEachRow")
	if err != nil {
		return nil, err
	}
	var out []edgeRow
	scanner := bufio.NewScanner(bytes.NewReader(body))
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var row edgeRow
		if err := json.Unmarshal(line, &row); err != nil {
			return nil, fmt.Errorf("clickhouse: decode edge row: %w", err)
		}
		out = append(out, row)
	}
	return out, scanner.Err()
}

func (p *Provider) Get(ctx context.Context, typ, id string) (provider.Record, error) {
	q := fmt.Sprintf(
		"SELECT type, id, data FROM vertex_entities FINAL WHERE type = %s AND id = %s LIMIT 1",
		sqlString(typ), sqlString(id),
	)
	rows, err := p.queryEntities(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("clickhouse: get %s/%s: %w", typ, id, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return decodeRow(rows[0])
}

func (p *Provider) List(ctx context.Context, typ string, opts provider.ListOptions) ([]provider.Record, error) {
	return p.scan(ctx, typ, opts, "")
}

func (p *Provider) Search(ctx context.Context, typ, query string, opts provider.ListOptions) ([]provider.Record, error) {
	return p.scan(ctx, typ, opts, strings.ToLower(query))
}

func (p *Provider) scan(ctx context.Context, typ string, opts provider.ListOptions, query string) ([]provider.Record, error) {
	q := fmt.Sprintf("SELECT type, id, data FROM vertex_entities FINAL WHERE type = %s", sqlString(typ))
	rows, err := p.queryEntities(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("clickhouse: list %s: %w", typ, err)
	}

	var out []provider.Record
	for _, row := range rows {
		rec, err := decodeRow(row)
		if err != nil {
			return nil, err
		}
		if !matchesWhere(rec, opts.Where) {
			continue
		}
		if query != "" && !recordContainsText(rec, query) {
			continue
		}
		out = append(out, rec)
	}
	return applyOrderAndPage(out, opts), nil
}

func (p *Provider) Create(ctx context.Context, typ, id string, data provider.Record) (provider.Record, error) {
	existing, err := p.Get(ctx, typ, id)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, &vxerr.EntityExistsError{Type: typ, ID: id}
	}
	rec := data.Clone()
	raw, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("clickhouse: encode %s/%s: %w", typ, id, err)
	}
	q := fmt.Sprintf("INSERT INTO vertex_entities (type, id, data) VALUES (%s, %s, %s)",
		sqlString(typ), sqlString(id), sqlString(string(raw)))
	if err := p.exec(ctx, q); err != nil {
		return nil, fmt.Errorf("clickhouse: create %s/%s: %w", typ, id, err)
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
		return nil, fmt.Errorf("clickhouse: encode %s/%s: %w", typ, id, err)
	}
	// ReplacingMergeTree dedupes by ORDER BY key on background merge; a
	// fresh INSERT is the idiomatic "overwrite" here, not an UPDATE.
	q := fmt.Sprintf("INSERT INTO vertex_entities (type, id, data) VALUES (%s, %s, %s)",
		sqlString(typ), sqlString(id), sqlString(string(raw)))
	if err := p.exec(ctx, q); err != nil {
		return nil, fmt.Errorf("clickhouse: update %s/%s: %w", typ, id, err)
	}
	return withIdentity(merged, typ, id), nil
}

func (p *Provider) Delete(ctx context.Context, typ, id string) (bool, error) {
	existing, err := p.Get(ctx, typ, id)
	if err != nil {
		return false, err
	}
	if existing == nil {
		return false, nil
	}
	q := fmt.Sprintf("ALTER TABLE vertex_entities DELETE WHERE type = %s AND id = %s", sqlString(typ), sqlString(id))
	if err := p.exec(ctx, q); err != nil {
		return false, fmt.Errorf("clickhouse: delete %s/%s: %w", typ, id, err)
	}
	return true, nil
}

func (p *Provider) Related(ctx context.Context, fromType, fromID, relation string) ([]provider.Record, error) {
	q := fmt.Sprintf(
		"SELECT to_type, to_id FROM vertex_edges FINAL WHERE from_type = %s AND from_id = %s AND relation = %s",
		sqlString(fromType), sqlString(fromID), sqlString(relation),
	)
	edges, err := p.queryEdges(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("clickhouse: related %s/%s.%s: %w", fromType, fromID, relation, err)
	}
	var out []provider.Record
	for _, e := range edges {
		rec, err := p.Get(ctx, e.ToType, e.ToID)
		if err != nil {
			return nil, err
		}
		if rec != nil {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (p *Provider) Relate(ctx context.Context, fromType, fromID, relation, toType, toID string, meta provider.RelateMeta) error {
	if meta == nil {
		meta = provider.RelateMeta{}
	}
	existing, err := p.queryEdges(ctx, fmt.Sprintf(
		"SELECT from_type, from_id, relation, to_type, to_id, meta FROM vertex_edges FINAL WHERE from_type = %s AND from_id = %s AND relation = %s AND to_type = %s AND to_id = %s",
		sqlString(fromType), sqlString(fromID), sqlString(relation), sqlString(toType), sqlString(toID),
	))
	if err != nil {
		return fmt.Errorf("clickhouse: check edge %s/%s.%s->%s/%s: %w", fromType, fromID, relation, toType, toID, err)
	}
	if len(existing) > 0 {
		return &vxerr.EntityExistsError{Type: "Edge", ID: fromType + ":" + fromID + ":" + relation + ":" + toID}
	}

	raw, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("clickhouse: encode edge meta: %w", err)
	}
	q := fmt.Sprintf(
		"INSERT INTO vertex_edges (from_type, from_id, relation, to_type, to_id, meta) VALUES (%s, %s, %s, %s, %s, %s)",
		sqlString(fromType), sqlString(fromID), sqlString(relation), sqlString(toType), sqlString(toID), sqlString(string(raw)),
	)
	if err := p.exec(ctx, q); err != nil {
		return fmt.Errorf("clickhouse: relate %s/%s.%s->%s/%s: %w", fromType, fromID, relation, toType, toID, err)
	}
	return nil
}

func (p *Provider) Unrelate(ctx context.Context, fromType, fromID, relation, toType, toID string) error {
	q := fmt.Sprintf(
		"ALTER TABLE vertex_edges DELETE WHERE from_type = %s AND from_id = %s AND relation = %s AND to_type = %s AND to_id = %s",
		sqlString(fromType), sqlString(fromID), sqlString(relation), sqlString(toType), sqlString(toID),
	)
	if err := p.exec(ctx, q); err != nil {
		return fmt.Errorf("clickhouse: unrelate %s/%s.%s->%s/%s: %w", fromType, fromID, relation, toType, toID, err)
	}
	return nil
}

func decodeRow(row entityRow) (provider.Record, error) {
	var rec provider.Record
	if err := json.Unmarshal([]byte(row.Data), &rec); err != nil {
		return nil, fmt.Errorf("clickhouse: decode record: %w", err)
	}
	return withIdentity(rec, row.Type, row.ID), nil
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

func sqlString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func quoteIdent(ident string) string {
	return "`" + strings.ReplaceAll(ident, "`", "") + "`"
}
