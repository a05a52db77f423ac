package resolve_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vertexdb/vertex/draft"
	"github.com/vertexdb/vertex/generate"
	"github.com/vertexdb/vertex/generate/mock"
	"github.com/vertexdb/vertex/provider"
	"github.com/vertexdb/vertex/provider/memory"
	"github.com/vertexdb/vertex/resolve"
	"github.com/vertexdb/vertex/schema"
)

func buildSchema(t *testing.T, decl schema.Declaration) *schema.ParsedSchema {
	t.Helper()
	ps, err := schema.Normalize(decl)
	require.NoError(t, err)
	return ps
}

// TestResolve_ForwardExactAutoGeneratesAndStampsGeneratedBy covers spec §8
// scenario 2: a `->` single with no existing target auto-generates a child
// and stamps $autoGenerated/$generatedBy.
func TestResolve_ForwardExactAutoGeneratesAndStampsGeneratedBy(t *testing.T) {
	ps := buildSchema(t, schema.Declaration{
		"Startup": {"name": "string", "idea": "->Idea"},
		"Idea":    {"description": "string (describe the idea)"},
	})
	prov := memory.New()
	gen := &mock.Generator{FieldValue: "A revolutionary widget marketplace"}

	d, err := draft.Build(context.Background(), ps.Entity("Startup"), gen, map[string]any{"name": "Acme"}, draft.Options{})
	require.NoError(t, err)

	err = resolve.Resolve(context.Background(), ps, prov, gen, "startup_1", d, resolve.Options{})
	require.NoError(t, err)

	assert.Equal(t, draft.PhaseResolved, d.Phase)
	ideaID, _ := d.Data["idea"].(string)
	require.NotEmpty(t, ideaID)
	assert.Equal(t, true, d.Data["idea$autoGenerated"])
	assert.Empty(t, d.Refs)

	rec, err := prov.Get(context.Background(), "Idea", ideaID)
	require.NoError(t, err)
	assert.Equal(t, true, rec["$generated"])
	assert.Equal(t, "startup_1", rec["$generatedBy"])
	assert.Equal(t, "idea", rec["$sourceField"])
}

// fuzzyProvider wraps memory.Provider with a stub SemanticSearch, since the
// plain in-memory provider does not implement provider.SemanticSearcher.
type fuzzyProvider struct {
	*memory.Provider
	results map[string][]provider.ScoredRecord
	err     error
}

func (f *fuzzyProvider) SemanticSearch(ctx context.Context, typ, query string, opts provider.SemanticSearchOptions) ([]provider.ScoredRecord, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.results[typ], nil
}

var _ provider.SemanticSearcher = (*fuzzyProvider)(nil)

// TestResolve_FuzzyHitReusesExistingEntityNoNewEntityCreated covers spec §8
// scenario 3: a fuzzy match above threshold reuses the existing record and
// writes a runtime Edge, without generating anything new.
func TestResolve_FuzzyHitReusesExistingEntityNoNewEntityCreated(t *testing.T) {
	ps := buildSchema(t, schema.Declaration{
		"Post": {"title": "string", "topic": "~>Topic(0.8)"},
		"Topic": {"name": "string"},
	})
	base := memory.New()
	_, err := base.Create(context.Background(), "Topic", "topic_1", provider.Record{"$id": "topic_1", "$type": "Topic", "name": "Databases"})
	require.NoError(t, err)

	prov := &fuzzyProvider{
		Provider: base,
		results: map[string][]provider.ScoredRecord{
			"Topic": {{Record: provider.Record{"$id": "topic_1", "$type": "Topic", "name": "Databases"}, Score: 0.92}},
		},
	}

	gen := &mock.Generator{}
	d, err := draft.Build(context.Background(), ps.Entity("Post"), gen, map[string]any{"title": "Indexing 101", "topicHint": "databases"}, draft.Options{})
	require.NoError(t, err)

	err = resolve.Resolve(context.Background(), ps, prov, gen, "post_1", d, resolve.Options{})
	require.NoError(t, err)

	assert.Equal(t, "topic_1", d.Data["topic"])
	assert.Equal(t, true, d.Data["topic$matched"])
	assert.InDelta(t, 0.92, d.Data["topic$score"], 0.0001)
	assert.Empty(t, gen.EntityCalls)

	related, err := prov.Related(context.Background(), "Post", "post_1", "topic")
	require.NoError(t, err)
	assert.Len(t, related, 1)
}

// TestResolve_FuzzyMissGeneratesNewEntityAndStampsGenerated covers spec §8
// scenario 4: a fuzzy search below threshold (or empty) falls back to
// generation, still recording a runtime Edge.
func TestResolve_FuzzyMissGeneratesNewEntityAndStampsGenerated(t *testing.T) {
	ps := buildSchema(t, schema.Declaration{
		"Post":  {"title": "string", "topic": "~>Topic(0.8)"},
		"Topic": {"name": "string (name this topic)"},
	})
	base := memory.New()
	prov := &fuzzyProvider{Provider: base, results: map[string][]provider.ScoredRecord{}}
	gen := &mock.Generator{FieldValue: "Distributed Systems"}

	d, err := draft.Build(context.Background(), ps.Entity("Post"), gen, map[string]any{"title": "Consensus", "topicHint": "distributed systems"}, draft.Options{})
	require.NoError(t, err)

	err = resolve.Resolve(context.Background(), ps, prov, gen, "post_2", d, resolve.Options{})
	require.NoError(t, err)

	topicID, _ := d.Data["topic"].(string)
	require.NotEmpty(t, topicID)
	assert.NotContains(t, d.Data, "topic$matched")

	rec, err := prov.Get(context.Background(), "Topic", topicID)
	require.NoError(t, err)
	assert.Equal(t, true, rec["$generated"])

	related, err := prov.Related(context.Background(), "Post", "post_2", "topic")
	require.NoError(t, err)
	assert.Len(t, related, 1)
}

// TestResolve_UnionFuzzyRecordsMatchedType covers spec §8 scenario 5: a
// union-typed fuzzy field records which member type was actually matched.
func TestResolve_UnionFuzzyRecordsMatchedType(t *testing.T) {
	ps := buildSchema(t, schema.Declaration{
		"Comment": {"body": "string", "subject": "~>Post|Topic(0.5)"},
		"Post":    {"title": "string"},
		"Topic":   {"name": "string"},
	})
	base := memory.New()
	prov := &fuzzyProvider{
		Provider: base,
		results: map[string][]provider.ScoredRecord{
			"Post":  {{Record: provider.Record{"$id": "post_9", "$type": "Post", "title": "Indexing"}, Score: 0.6}},
			"Topic": {{Record: provider.Record{"$id": "topic_9", "$type": "Topic", "name": "Indexing"}, Score: 0.95}},
		},
	}
	gen := &mock.Generator{}

	d, err := draft.Build(context.Background(), ps.Entity("Comment"), gen, map[string]any{"body": "great post", "subjectHint": "indexing"}, draft.Options{})
	require.NoError(t, err)

	err = resolve.Resolve(context.Background(), ps, prov, gen, "comment_1", d, resolve.Options{})
	require.NoError(t, err)

	assert.Equal(t, "topic_9", d.Data["subject"])
	assert.Equal(t, "Topic", d.Data["subject$matchedType"])
}

// TestResolve_OptionalForwardExactWithNoHintIsSkipped covers the optional
// skip branch of spec §4.6: an optional `->` field with no hint is dropped
// rather than generated.
func TestResolve_OptionalForwardExactWithNoHintIsSkipped(t *testing.T) {
	ps := buildSchema(t, schema.Declaration{
		"Startup": {"name": "string", "cofounder": "->Person?"},
		"Person":  {"name": "string"},
	})
	prov := memory.New()
	gen := &mock.Generator{}

	d, err := draft.Build(context.Background(), ps.Entity("Startup"), gen, map[string]any{"name": "Acme"}, draft.Options{})
	require.NoError(t, err)

	err = resolve.Resolve(context.Background(), ps, prov, gen, "startup_3", d, resolve.Options{})
	require.NoError(t, err)
	assert.NotContains(t, d.Data, "cofounder")
	assert.Empty(t, gen.EntityCalls)
}

// TestResolve_OptionalForwardExactWithHintIsStillSkipped covers spec §4.6's
// strictly sequential "present -> accept, optional -> skip, otherwise ->
// generate" ordering: an optional `->` field is skipped even when a hint
// was supplied, since the optional check runs before hints are consulted.
func TestResolve_OptionalForwardExactWithHintIsStillSkipped(t *testing.T) {
	ps := buildSchema(t, schema.Declaration{
		"Startup": {"name": "string", "cofounder": "->Person?"},
		"Person":  {"name": "string"},
	})
	prov := memory.New()
	gen := &mock.Generator{}

	d, err := draft.Build(context.Background(), ps.Entity("Startup"), gen, map[string]any{"name": "Acme", "cofounderHint": "a technical co-founder"}, draft.Options{})
	require.NoError(t, err)

	err = resolve.Resolve(context.Background(), ps, prov, gen, "startup_4", d, resolve.Options{})
	require.NoError(t, err)
	assert.NotContains(t, d.Data, "cofounder")
	assert.Empty(t, gen.EntityCalls)
}

// TestResolve_OptionalForwardExactArrayWithHintIsStillSkipped is the array
// counterpart: an optional `->` array field is skipped even with a hint.
func TestResolve_OptionalForwardExactArrayWithHintIsStillSkipped(t *testing.T) {
	ps := buildSchema(t, schema.Declaration{
		"Startup": {"name": "string", "advisors": []string{"->Person?"}},
		"Person":  {"name": "string"},
	})
	prov := memory.New()
	gen := &mock.Generator{}

	d, err := draft.Build(context.Background(), ps.Entity("Startup"), gen, map[string]any{"name": "Acme", "advisorsHint": "a seasoned operator"}, draft.Options{})
	require.NoError(t, err)

	err = resolve.Resolve(context.Background(), ps, prov, gen, "startup_5", d, resolve.Options{})
	require.NoError(t, err)
	assert.NotContains(t, d.Data, "advisors")
	assert.Empty(t, gen.EntityCalls)
}

// TestResolve_OnErrorSkipAccumulatesAndContinues covers spec §7 item 4: a
// resolve failure on one field is accumulated in Errors rather than
// aborting the whole resolve when OnErrorSkip is set.
func TestResolve_OnErrorSkipAccumulatesAndContinues(t *testing.T) {
	ps := buildSchema(t, schema.Declaration{
		"Startup": {"name": "string", "idea": "->Idea", "hq": "->Office"},
		"Idea":    {"description": "string (describe it)"},
		"Office":  {"address": "string (describe it)"},
	})
	prov := memory.New()
	gen := &mock.Generator{
		FieldFunc: func(gc generate.GenerationContext) (string, error) {
			if gc.EntityType == "Office" {
				return "", fmt.Errorf("boom")
			}
			return "An idea", nil
		},
	}

	d, err := draft.Build(context.Background(), ps.Entity("Startup"), gen, map[string]any{"name": "Acme"}, draft.Options{})
	require.NoError(t, err)

	err = resolve.Resolve(context.Background(), ps, prov, gen, "startup_4", d, resolve.Options{OnErrorSkip: true})
	require.NoError(t, err)
	require.Len(t, d.Errors, 1)

	ideaID, _ := d.Data["idea"].(string)
	assert.NotEmpty(t, ideaID)
	assert.NotContains(t, d.Data, "hq$autoGenerated")
}
