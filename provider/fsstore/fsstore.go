// Package fsstore implements provider.Provider over a directory of
// Markdown files — one file per entity, YAML frontmatter for fields and the
// Markdown body for the record's "body" field (BodyField) if it has one —
// for the unset/"./path" DATABASE_URL form (spec §6.3). Each entity type
// gets its own subdirectory, mirroring how pthm-melange's doctor/licenses
// tooling walks a directory tree of one-file-per-unit artifacts
// (internal/licenses) rather than a database.
package fsstore

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/vertexdb/vertex/provider"
	"github.com/vertexdb/vertex/vxerr"
)

// MarkdownFileWarningThreshold is the `.md`/`.mdx` file count above which
// the "fs" Opener registered in init logs an advisory warning (spec §6.3).
const MarkdownFileWarningThreshold = 10000

// BodyField is the record key whose value, when present, is written as the
// file's Markdown body instead of into the YAML frontmatter.
const BodyField = "body"

const frontmatterDelim = "---\n"

// Provider is the filesystem-backed storage adapter. It carries no
// semantic or hybrid search capability.
type Provider struct {
	root string
	mu   sync.Mutex // serializes writes; the filesystem has no transaction
}

var _ provider.Provider = (*Provider)(nil)

func init() {
	provider.RegisterOpener("fs", func(_ context.Context, dsn string) (provider.Provider, error) {
		root := strings.TrimPrefix(dsn, "fs://")
		if root == "" {
			root = "."
		}
		if n, err := MarkdownFileCount(root); err == nil && n > MarkdownFileWarningThreshold {
			slog.Default().Warn("fsstore: large vault", "path", root, "markdown_files", n, "threshold", MarkdownFileWarningThreshold)
		}
		return Open(root)
	})
}

// MarkdownFileCount walks root counting ".md"/".mdx" files, without opening
// a Provider — used by the "fs" Opener to decide whether to log the
// advisory warning.
func MarkdownFileCount(root string) (int, error) {
	n := 0
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) && path == root {
				return filepath.SkipAll
			}
			return err
		}
		if !d.IsDir() && (strings.HasSuffix(path, ".md") || strings.HasSuffix(path, ".mdx")) {
			n++
		}
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return 0, err
	}
	return n, nil
}

// Open creates root if missing and returns a Provider rooted there. Open
// itself logs nothing; the "fs" Opener registered in init emits the
// MarkdownFileWarningThreshold advisory before calling it.
func Open(root string) (*Provider, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("fsstore: create root %s: %w", root, err)
	}
	return &Provider{root: root}, nil
}

func (p *Provider) typeDir(typ string) string { return filepath.Join(p.root, typ) }

func (p *Provider) path(typ, id string) string {
	return filepath.Join(p.typeDir(typ), id+".md")
}

func (p *Provider) Get(_ context.Context, typ, id string) (provider.Record, error) {
	rec, err := readEntity(p.path(typ, id))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return withIdentity(rec, typ, id), nil
}

func (p *Provider) List(_ context.Context, typ string, opts provider.ListOptions) ([]provider.Record, error) {
	return p.scan(typ, opts, "")
}

func (p *Provider) Search(_ context.Context, typ, query string, opts provider.ListOptions) ([]provider.Record, error) {
	return p.scan(typ, opts, strings.ToLower(query))
}

func (p *Provider) scan(typ string, opts provider.ListOptions, query string) ([]provider.Record, error) {
	entries, err := os.ReadDir(p.typeDir(typ))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fsstore: list %s: %w", typ, err)
	}

	var out []provider.Record
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") {
			continue
		}
		id := strings.TrimSuffix(e.Name(), ".md")
		rec, err := readEntity(p.path(typ, id))
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
	return applyOrderAndPage(out, opts), nil
}

func (p *Provider) Create(_ context.Context, typ, id string, data provider.Record) (provider.Record, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	path := p.path(typ, id)
	if _, err := os.Stat(path); err == nil {
		return nil, &vxerr.EntityExistsError{Type: typ, ID: id}
	}
	if err := os.MkdirAll(p.typeDir(typ), 0o755); err != nil {
		return nil, fmt.Errorf("fsstore: create dir for %s: %w", typ, err)
	}
	rec := data.Clone()
	if err := writeEntity(path, rec); err != nil {
		return nil, err
	}
	return withIdentity(rec, typ, id), nil
}

func (p *Provider) Update(_ context.Context, typ, id string, data provider.Record) (provider.Record, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	path := p.path(typ, id)
	existing, err := readEntity(path)
	if os.IsNotExist(err) {
		return nil, &vxerr.EntityNotFoundError{Type: typ, ID: id}
	}
	if err != nil {
		return nil, err
	}
	merged := existing.Clone()
	for k, v := range data {
		merged[k] = v
	}
	if err := writeEntity(path, merged); err != nil {
		return nil, err
	}
	return withIdentity(merged, typ, id), nil
}

func (p *Provider) Delete(_ context.Context, typ, id string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	err := os.Remove(p.path(typ, id))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("fsstore: delete %s/%s: %w", typ, id, err)
	}
	return true, nil
}

// edgeEntry is one outgoing relation in an entity's adjacency list, stored
// alongside it as "<id>.edges.yaml" since Markdown files have no
// natural place for a list of foreign-type references.
type edgeEntry struct {
	Relation string             `yaml:"relation"`
	ToType   string             `yaml:"toType"`
	ToID     string             `yaml:"toId"`
	Meta     provider.RelateMeta `yaml:"meta,omitempty"`
}

func (p *Provider) edgesPath(typ, id string) string {
	return filepath.Join(p.typeDir(typ), id+".edges.yaml")
}

func (p *Provider) readEdges(typ, id string) ([]edgeEntry, error) {
	raw, err := os.ReadFile(p.edgesPath(typ, id))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fsstore: read edges %s/%s: %w", typ, id, err)
	}
	var edges []edgeEntry
	if err := yaml.Unmarshal(raw, &edges); err != nil {
		return nil, fmt.Errorf("fsstore: decode edges %s/%s: %w", typ, id, err)
	}
	return edges, nil
}

func (p *Provider) writeEdges(typ, id string, edges []edgeEntry) error {
	raw, err := yaml.Marshal(edges)
	if err != nil {
		return fmt.Errorf("fsstore: encode edges %s/%s: %w", typ, id, err)
	}
	if err := os.MkdirAll(p.typeDir(typ), 0o755); err != nil {
		return err
	}
	return os.WriteFile(p.edgesPath(typ, id), raw, 0o644)
}

func (p *Provider) Related(_ context.Context, fromType, fromID, relation string) ([]provider.Record, error) {
	edges, err := p.readEdges(fromType, fromID)
	if err != nil {
		return nil, err
	}
	var out []provider.Record
	for _, e := range edges {
		if e.Relation != relation {
			continue
		}
		rec, err := readEntity(p.path(e.ToType, e.ToID))
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, withIdentity(rec, e.ToType, e.ToID))
	}
	return out, nil
}

func (p *Provider) Relate(_ context.Context, fromType, fromID, relation, toType, toID string, meta provider.RelateMeta) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	edges, err := p.readEdges(fromType, fromID)
	if err != nil {
		return err
	}
	for _, e := range edges {
		if e.Relation == relation && e.ToType == toType && e.ToID == toID {
			return &vxerr.EntityExistsError{Type: "Edge", ID: fromType + ":" + fromID + ":" + relation + ":" + toID}
		}
	}
	edges = append(edges, edgeEntry{Relation: relation, ToType: toType, ToID: toID, Meta: meta})
	return p.writeEdges(fromType, fromID, edges)
}

func (p *Provider) Unrelate(_ context.Context, fromType, fromID, relation, toType, toID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	edges, err := p.readEdges(fromType, fromID)
	if err != nil {
		return err
	}
	out := edges[:0]
	for _, e := range edges {
		if e.Relation == relation && e.ToType == toType && e.ToID == toID {
			continue
		}
		out = append(out, e)
	}
	return p.writeEdges(fromType, fromID, out)
}

func readEntity(path string) (provider.Record, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return decodeFrontmatter(raw)
}

func writeEntity(path string, rec provider.Record) error {
	raw, err := encodeFrontmatter(rec)
	if err != nil {
		return fmt.Errorf("fsstore: encode %s: %w", path, err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("fsstore: write %s: %w", path, err)
	}
	return nil
}

// decodeFrontmatter splits a "---\n<yaml>\n---\n<body>" file into a Record,
// folding the body back under BodyField if present.
func decodeFrontmatter(raw []byte) (provider.Record, error) {
	s := string(raw)
	if !strings.HasPrefix(s, frontmatterDelim) {
		return provider.Record{}, nil
	}
	rest := s[len(frontmatterDelim):]
	end := strings.Index(rest, "\n"+frontmatterDelim)
	if end == -1 {
		return provider.Record{}, fmt.Errorf("fsstore: malformed frontmatter")
	}
	head, body := rest[:end], strings.TrimPrefix(rest[end+1+len(frontmatterDelim):], "\n")

	rec := provider.Record{}
	if strings.TrimSpace(head) != "" {
		if err := yaml.Unmarshal([]byte(head), &rec); err != nil {
			return nil, fmt.Errorf("fsstore: decode frontmatter: %w", err)
		}
	}
	if body = strings.TrimRight(body, "\n"); body != "" {
		rec[BodyField] = body
	}
	return rec, nil
}

func encodeFrontmatter(rec provider.Record) ([]byte, error) {
	head := rec.Clone()
	body, _ := head[BodyField].(string)
	delete(head, BodyField)
	delete(head, "$id")
	delete(head, "$type")

	yamlBytes, err := yaml.Marshal(head)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.WriteString(frontmatterDelim)
	buf.Write(yamlBytes)
	buf.WriteString(frontmatterDelim)
	if body != "" {
		buf.WriteString(body)
		buf.WriteString("\n")
	}
	return buf.Bytes(), nil
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
