// Package memory implements an in-process provider.Provider, used for the
// ":memory:" DATABASE_URL, as the fallback-on-load-failure target (spec
// §6.3), and by every other package's tests. It carries no external
// dependencies, following the same sync.RWMutex-guarded-map shape as
// pthm-melange/melange/cache.go's CacheImpl.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/vertexdb/vertex/provider"
	"github.com/vertexdb/vertex/vxerr"
)

type key struct {
	typ string
	id  string
}

type edgeKey struct {
	fromType, fromID, relation, toType, toID string
}

// Provider is the in-memory storage adapter. Safe for concurrent use.
type Provider struct {
	mu      sync.RWMutex
	records map[key]provider.Record
	order   map[string][]string // typ -> ids in insertion order
	edges   map[edgeKey]provider.RelateMeta
	related map[string][]edgeKey // "fromType:fromID:relation" -> edges
}

// New returns an empty in-memory provider.
func New() *Provider {
	return &Provider{
		records: make(map[key]provider.Record),
		order:   make(map[string][]string),
		edges:   make(map[edgeKey]provider.RelateMeta),
		related: make(map[string][]edgeKey),
	}
}

var _ provider.Provider = (*Provider)(nil)

func init() {
	provider.RegisterOpener("memory", func(context.Context, string) (provider.Provider, error) {
		return New(), nil
	})
}

func (p *Provider) Get(_ context.Context, typ, id string) (provider.Record, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	rec, ok := p.records[key{typ, id}]
	if !ok {
		return nil, nil
	}
	return rec.Clone(), nil
}

func (p *Provider) List(_ context.Context, typ string, opts provider.ListOptions) ([]provider.Record, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []provider.Record
	for _, id := range p.order[typ] {
		rec := p.records[key{typ, id}]
		if matches(rec, opts.Where) {
			out = append(out, rec.Clone())
		}
	}
	out = applyOrderAndPage(out, opts)
	return out, nil
}

func (p *Provider) Search(_ context.Context, typ, query string, opts provider.ListOptions) ([]provider.Record, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	q := strings.ToLower(query)
	var out []provider.Record
	for _, id := range p.order[typ] {
		rec := p.records[key{typ, id}]
		if !matches(rec, opts.Where) {
			continue
		}
		if q == "" || recordContains(rec, q) {
			out = append(out, rec.Clone())
		}
	}
	out = applyOrderAndPage(out, opts)
	return out, nil
}

func (p *Provider) Create(_ context.Context, typ, id string, data provider.Record) (provider.Record, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	k := key{typ, id}
	if _, exists := p.records[k]; exists {
		return nil, &vxerr.EntityExistsError{Type: typ, ID: id}
	}
	rec := data.Clone()
	rec["$id"] = id
	rec["$type"] = typ
	p.records[k] = rec
	p.order[typ] = append(p.order[typ], id)
	return rec.Clone(), nil
}

func (p *Provider) Update(_ context.Context, typ, id string, data provider.Record) (provider.Record, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	k := key{typ, id}
	existing, ok := p.records[k]
	if !ok {
		return nil, &vxerr.EntityNotFoundError{Type: typ, ID: id}
	}
	merged := existing.Clone()
	for fk, fv := range data {
		merged[fk] = fv
	}
	merged["$id"] = id
	merged["$type"] = typ
	p.records[k] = merged
	return merged.Clone(), nil
}

func (p *Provider) Delete(_ context.Context, typ, id string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	k := key{typ, id}
	if _, ok := p.records[k]; !ok {
		return false, nil
	}
	delete(p.records, k)
	ids := p.order[typ]
	for i, existing := range ids {
		if existing == id {
			p.order[typ] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	return true, nil
}

func (p *Provider) Related(_ context.Context, fromType, fromID, relation string) ([]provider.Record, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []provider.Record
	for _, ek := range p.related[relatedIndex(fromType, fromID, relation)] {
		if rec, ok := p.records[key{ek.toType, ek.toID}]; ok {
			out = append(out, rec.Clone())
		}
	}
	return out, nil
}

func (p *Provider) Relate(_ context.Context, fromType, fromID, relation, toType, toID string, meta provider.RelateMeta) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	ek := edgeKey{fromType, fromID, relation, toType, toID}
	if _, exists := p.edges[ek]; exists {
		return &vxerr.EntityExistsError{Type: "Edge", ID: fromType + ":" + fromID + ":" + relation + ":" + toID}
	}
	p.edges[ek] = meta
	idx := relatedIndex(fromType, fromID, relation)
	p.related[idx] = append(p.related[idx], ek)
	return nil
}

func (p *Provider) Unrelate(_ context.Context, fromType, fromID, relation, toType, toID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	ek := edgeKey{fromType, fromID, relation, toType, toID}
	if _, ok := p.edges[ek]; !ok {
		return nil
	}
	delete(p.edges, ek)
	idx := relatedIndex(fromType, fromID, relation)
	edges := p.related[idx]
	for i, existing := range edges {
		if existing == ek {
			p.related[idx] = append(edges[:i], edges[i+1:]...)
			break
		}
	}
	return nil
}

func relatedIndex(fromType, fromID, relation string) string {
	return fromType + ":" + fromID + ":" + relation
}

func matches(rec provider.Record, where map[string]any) bool {
	for k, v := range where {
		if rec[k] != v {
			return false
		}
	}
	return true
}

func recordContains(rec provider.Record, q string) bool {
	for _, v := range rec {
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
			less := lessValue(recs[i][opts.OrderBy], recs[j][opts.OrderBy])
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

func lessValue(a, b any) bool {
	switch av := a.(type) {
	case string:
		bv, _ := b.(string)
		return av < bv
	case float64:
		bv, _ := b.(float64)
		return av < bv
	case int:
		bv, _ := b.(int)
		return av < bv
	default:
		return false
	}
}
