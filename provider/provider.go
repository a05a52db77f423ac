// Package provider defines the storage adapter contract of spec §6.1 and
// the capability-typed façade every other package consumes it through.
// Concrete adapters (memory, filesystem, Postgres/pgvector, libsql,
// ClickHouse) live in subpackages; this package only fixes the contract.
package provider

import (
	"context"

	"github.com/vertexdb/vertex/vxerr"
)

// Record is a stored entity: every key the provider returns, including the
// "$id"/"$type" pair and any "$generated", "$matched", "$score" sibling
// fields spec §3 describes.
type Record map[string]any

// ID returns the record's "$id" as a string, or "" if absent/non-string.
func (r Record) ID() string {
	s, _ := r["$id"].(string)
	return s
}

// TypeName returns the record's "$type" as a string, or "" if absent.
func (r Record) TypeName() string {
	s, _ := r["$type"].(string)
	return s
}

// Clone returns a shallow copy of r, safe to mutate independently.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// ListOptions configures List/Search/Related calls.
type ListOptions struct {
	Where   map[string]any
	OrderBy string
	Order   string // "asc" or "desc"
	Limit   int
	Offset  int
}

// RelateMeta carries optional metadata attached to an edge at relate time
// (e.g. fuzzy-match similarity, matched union type).
type RelateMeta map[string]any

// Provider is the storage adapter contract, spec §6.1. All methods are
// asynchronous in spirit (they take a context and may block); Go expresses
// that directly rather than through a promise/future type.
type Provider interface {
	Get(ctx context.Context, typ, id string) (Record, error)
	List(ctx context.Context, typ string, opts ListOptions) ([]Record, error)
	Search(ctx context.Context, typ, query string, opts ListOptions) ([]Record, error)
	Create(ctx context.Context, typ, id string, data Record) (Record, error)
	Update(ctx context.Context, typ, id string, data Record) (Record, error)
	Delete(ctx context.Context, typ, id string) (bool, error)
	Related(ctx context.Context, fromType, fromID, relation string) ([]Record, error)
	Relate(ctx context.Context, fromType, fromID, relation, toType, toID string, meta RelateMeta) error
	Unrelate(ctx context.Context, fromType, fromID, relation, toType, toID string) error
}

// ScoredRecord pairs a record with a semantic-search similarity score.
type ScoredRecord struct {
	Record Record
	Score  float64
}

// SemanticSearchOptions configures SemanticSearcher.SemanticSearch.
type SemanticSearchOptions struct {
	MinScore float64
	Limit    int
}

// SemanticSearcher is an optional capability: embedding-similarity search.
// Probe for it with a type assertion, not a method call that might panic.
type SemanticSearcher interface {
	SemanticSearch(ctx context.Context, typ, query string, opts SemanticSearchOptions) ([]ScoredRecord, error)
}

// HybridResult is one row of a hybrid (full-text + semantic) search,
// carrying both rank positions and the blended RRF score (spec §6.1).
type HybridResult struct {
	Record        Record
	Score         float64
	RRFScore      float64
	FTSRank       int
	SemanticRank  int
}

// HybridSearchOptions configures HybridSearcher.HybridSearch.
type HybridSearchOptions struct {
	RRFK            int
	FTSWeight       float64
	SemanticWeight  float64
	MinScore        float64
	Limit           int
	Offset          int
}

// HybridSearcher is an optional capability combining full-text and
// semantic ranking via reciprocal rank fusion.
type HybridSearcher interface {
	HybridSearch(ctx context.Context, typ, query string, opts HybridSearchOptions) ([]HybridResult, error)
}

// EmbeddingsConfig configures how a provider computes/stores embeddings.
type EmbeddingsConfig struct {
	Model      string
	Dimensions int
}

// EmbeddingsConfigurable is an optional capability for providers that
// compute or store embeddings and need runtime configuration.
type EmbeddingsConfigurable interface {
	SetEmbeddingsConfig(cfg EmbeddingsConfig)
	GetEmbeddingsConfig() EmbeddingsConfig
}

// EventsAPI, ActionsAPI, and ArtifactsAPI are optional capability markers
// for the out-of-scope action/event/artifact bookkeeping APIs (spec §1).
// vertex only probes for their presence; it never defines their behavior.
type EventsAPI interface{ EventsCapability() }
type ActionsAPI interface{ ActionsCapability() }
type ArtifactsAPI interface{ ArtifactsCapability() }

// Capability names probed by HasCapability.
const (
	CapSemanticSearch   = "semanticSearch"
	CapHybridSearch     = "hybridSearch"
	CapEmbeddingsConfig = "embeddingsConfig"
	CapEvents           = "events"
	CapActions          = "actions"
	CapArtifacts        = "artifacts"
)

// HasCapability runtime-probes p for one of the Cap* capabilities.
func HasCapability(p Provider, capability string) bool {
	switch capability {
	case CapSemanticSearch:
		_, ok := p.(SemanticSearcher)
		return ok
	case CapHybridSearch:
		_, ok := p.(HybridSearcher)
		return ok
	case CapEmbeddingsConfig:
		_, ok := p.(EmbeddingsConfigurable)
		return ok
	case CapEvents:
		_, ok := p.(EventsAPI)
		return ok
	case CapActions:
		_, ok := p.(ActionsAPI)
		return ok
	case CapArtifacts:
		_, ok := p.(ArtifactsAPI)
		return ok
	default:
		return false
	}
}

// RequireSemanticSearch returns p as a SemanticSearcher, or a
// CapabilityNotSupportedError describing the degrade-to-generation
// fallback (spec §4.4).
func RequireSemanticSearch(p Provider) (SemanticSearcher, error) {
	if s, ok := p.(SemanticSearcher); ok {
		return s, nil
	}
	return nil, &vxerr.CapabilityNotSupportedError{
		Capability: CapSemanticSearch,
		Fallback:   "resolveForwardFuzzy degrades to pure generation",
	}
}

// RequireHybridSearch returns p as a HybridSearcher, or a
// CapabilityNotSupportedError.
func RequireHybridSearch(p Provider) (HybridSearcher, error) {
	if h, ok := p.(HybridSearcher); ok {
		return h, nil
	}
	return nil, &vxerr.CapabilityNotSupportedError{Capability: CapHybridSearch}
}
