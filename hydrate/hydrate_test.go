package hydrate_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vertexdb/vertex/hydrate"
	"github.com/vertexdb/vertex/provider"
	"github.com/vertexdb/vertex/provider/memory"
	"github.com/vertexdb/vertex/schema"
)

func buildSchema(t *testing.T, decl schema.Declaration) *schema.ParsedSchema {
	t.Helper()
	ps, err := schema.Normalize(decl)
	require.NoError(t, err)
	return ps
}

// TestRecord_ForwardSingleStringifiesAndLoads covers spec §8: stored
// post.author = 'a_1' stringifies to 'a_1' and loads the Author.
func TestRecord_ForwardSingleStringifiesAndLoads(t *testing.T) {
	ps := buildSchema(t, schema.Declaration{
		"Post":   {"title": "string", "author": "->Author"},
		"Author": {"name": "string"},
	})
	prov := memory.New()
	_, err := prov.Create(context.Background(), "Author", "a_1", provider.Record{"name": "Jane"})
	require.NoError(t, err)

	post := provider.Record{"$id": "p_1", "$type": "Post", "title": "Hi", "author": "a_1"}
	hydrated := hydrate.Record(post, ps.Entity("Post"))

	rel, ok := hydrated["author"].(hydrate.Relation)
	require.True(t, ok)
	assert.Equal(t, "a_1", rel.String())
	assert.Equal(t, "a_1", rel.ID())

	b, err := json.Marshal(rel)
	require.NoError(t, err)
	assert.JSONEq(t, `"a_1"`, string(b))

	loaded, err := rel.Load(context.Background(), prov)
	require.NoError(t, err)
	assert.Equal(t, "Jane", loaded["name"])
}

// TestRecord_ForwardArrayIsRealArrayAndLoadsAllInParallel covers spec §8:
// post.tags is a real array of length 2 whose LoadAll resolves both Tags.
func TestRecord_ForwardArrayIsRealArrayAndLoadsAllInParallel(t *testing.T) {
	ps := buildSchema(t, schema.Declaration{
		"Post": {"title": "string", "tags": []string{"->Tag"}},
		"Tag":  {"name": "string"},
	})
	prov := memory.New()
	_, err := prov.Create(context.Background(), "Tag", "t_1", provider.Record{"name": "go"})
	require.NoError(t, err)
	_, err = prov.Create(context.Background(), "Tag", "t_2", provider.Record{"name": "db"})
	require.NoError(t, err)

	post := provider.Record{"$id": "p_1", "$type": "Post", "title": "Hi", "tags": []string{"t_1", "t_2"}}
	hydrated := hydrate.Record(post, ps.Entity("Post"))

	rl, ok := hydrated["tags"].(hydrate.RelationList)
	require.True(t, ok)
	assert.Equal(t, 2, rl.Len())
	assert.Equal(t, []string{"t_1", "t_2"}, rl.IDs())

	loaded, err := rl.LoadAll(context.Background(), prov)
	require.NoError(t, err)
	require.Len(t, loaded, 2)
}

// TestRecord_ForwardEmptyArrayLoadsAllEmpty covers spec §4.8: "Forward
// empty array. Array with thenable yielding []."
func TestRecord_ForwardEmptyArrayLoadsAllEmpty(t *testing.T) {
	ps := buildSchema(t, schema.Declaration{
		"Post": {"title": "string", "tags": []string{"->Tag"}},
		"Tag":  {"name": "string"},
	})
	prov := memory.New()
	post := provider.Record{"$id": "p_1", "$type": "Post", "title": "Hi"}
	hydrated := hydrate.Record(post, ps.Entity("Post"))

	rl, ok := hydrated["tags"].(hydrate.RelationList)
	require.True(t, ok)
	assert.Equal(t, 0, rl.Len())

	loaded, err := rl.LoadAll(context.Background(), prov)
	require.NoError(t, err)
	assert.Empty(t, loaded)
}

// TestRecord_BackwardArrayWithoutStoredIDLooksUpByBackref covers spec §8:
// "for backward array without a stored ID, await blog.posts returns every
// Post whose blog field equals blog.$id" — exercised here via Author.posts
// synthesized from Post.author's declared backref.
func TestRecord_BackwardArrayWithoutStoredIDLooksUpByBackref(t *testing.T) {
	ps := buildSchema(t, schema.Declaration{
		"Post":   {"title": "string", "author": "Author.posts"},
		"Author": {"name": "string"},
	})
	prov := memory.New()
	_, err := prov.Create(context.Background(), "Author", "a_1", provider.Record{"name": "J"})
	require.NoError(t, err)
	_, err = prov.Create(context.Background(), "Post", "p_1", provider.Record{"title": "H", "author": "a_1"})
	require.NoError(t, err)

	author := provider.Record{"$id": "a_1", "$type": "Author", "name": "J"}
	hydrated := hydrate.Record(author, ps.Entity("Author"))

	rl, ok := hydrated["posts"].(hydrate.RelationList)
	require.True(t, ok)
	assert.Equal(t, 0, rl.Len()) // no stored ids; resolved by lookup

	loaded, err := rl.LoadAll(context.Background(), prov)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "H", loaded[0]["title"])
}

// fuzzyProvider stubs SemanticSearcher with canned per-type results,
// mirroring resolve_test.go's test double.
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

// TestRecord_BackwardFuzzySingleHitLoadsMatch covers spec.md:50/144: a
// backward-fuzzy (<~) single runs a semantic search and loads the best
// match clearing threshold.
func TestRecord_BackwardFuzzySingleHitLoadsMatch(t *testing.T) {
	ps := buildSchema(t, schema.Declaration{
		"Post":   {"title": "string", "ghostwriter": "<~Author(0.5)"},
		"Author": {"name": "string"},
	})
	mem := memory.New()
	_, err := mem.Create(context.Background(), "Author", "a_1", provider.Record{"name": "Jane"})
	require.NoError(t, err)
	prov := &fuzzyProvider{Provider: mem, results: map[string][]provider.ScoredRecord{
		"Author": {{Record: provider.Record{"$id": "a_1", "$type": "Author", "name": "Jane"}, Score: 0.9}},
	}}

	post := provider.Record{"$id": "p_1", "$type": "Post", "title": "Hi"}
	hydrated := hydrate.Record(post, ps.Entity("Post"))

	rel, ok := hydrated["ghostwriter"].(hydrate.Relation)
	require.True(t, ok)
	assert.False(t, rel.IsZero()) // no stored id, but a search path for Load

	loaded, err := rel.Load(context.Background(), prov)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, "Jane", loaded["name"])
}

// TestRecord_BackwardFuzzySingleSubThresholdLeavesUnset covers spec.md:276:
// "<~ never generates — if no match >= threshold, the field is left unset."
func TestRecord_BackwardFuzzySingleSubThresholdLeavesUnset(t *testing.T) {
	ps := buildSchema(t, schema.Declaration{
		"Post":   {"title": "string", "ghostwriter": "<~Author(0.9)"},
		"Author": {"name": "string"},
	})
	prov := &fuzzyProvider{Provider: memory.New(), results: map[string][]provider.ScoredRecord{
		"Author": {{Record: provider.Record{"$id": "a_1", "$type": "Author", "name": "Jane"}, Score: 0.2}},
	}}

	post := provider.Record{"$id": "p_1", "$type": "Post", "title": "Hi"}
	hydrated := hydrate.Record(post, ps.Entity("Post"))

	rel := hydrated["ghostwriter"].(hydrate.Relation)
	loaded, err := rel.Load(context.Background(), prov)
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

// TestRecord_BackwardFuzzySingleNoCapabilityLeavesUnset covers spec.md:276:
// a provider without SemanticSearcher degrades to an unset field, not an
// error.
func TestRecord_BackwardFuzzySingleNoCapabilityLeavesUnset(t *testing.T) {
	ps := buildSchema(t, schema.Declaration{
		"Post":   {"title": "string", "ghostwriter": "<~Author(0.5)"},
		"Author": {"name": "string"},
	})
	prov := memory.New()

	post := provider.Record{"$id": "p_1", "$type": "Post", "title": "Hi"}
	hydrated := hydrate.Record(post, ps.Entity("Post"))

	rel := hydrated["ghostwriter"].(hydrate.Relation)
	loaded, err := rel.Load(context.Background(), prov)
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

// TestRecord_BackwardFuzzyArrayFiltersByThresholdAcrossUnion covers
// spec.md:144: "For union <~, fetches each ID from its matched type."
func TestRecord_BackwardFuzzyArrayFiltersByThresholdAcrossUnion(t *testing.T) {
	ps := buildSchema(t, schema.Declaration{
		"Post":    {"title": "string", "relatedPeople": []string{"<~Person|Company(0.5)"}},
		"Person":  {"name": "string"},
		"Company": {"name": "string"},
	})
	prov := &fuzzyProvider{Provider: memory.New(), results: map[string][]provider.ScoredRecord{
		"Person":  {{Record: provider.Record{"$id": "per_1", "$type": "Person", "name": "Ada"}, Score: 0.8}},
		"Company": {{Record: provider.Record{"$id": "co_1", "$type": "Company", "name": "Acme"}, Score: 0.1}},
	}}

	post := provider.Record{"$id": "p_1", "$type": "Post", "title": "Hi"}
	hydrated := hydrate.Record(post, ps.Entity("Post"))

	rl, ok := hydrated["relatedPeople"].(hydrate.RelationList)
	require.True(t, ok)
	assert.Equal(t, 0, rl.Len())

	loaded, err := rl.LoadAll(context.Background(), prov)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "per_1", loaded[0].ID())
}

// TestRecord_UnionForwardSingleUsesMatchedType covers spec §8 scenario 5:
// a union field hydrates from the recorded $matchedType.
func TestRecord_UnionForwardSingleUsesMatchedType(t *testing.T) {
	ps := buildSchema(t, schema.Declaration{
		"Post":    {"subject": "->Person|Company"},
		"Person":  {"name": "string"},
		"Company": {"name": "string"},
	})
	prov := memory.New()
	_, err := prov.Create(context.Background(), "Person", "per_9", provider.Record{"name": "Ada"})
	require.NoError(t, err)

	post := provider.Record{"$id": "p_1", "$type": "Post", "subject": "per_9", "subject$matchedType": "Person"}
	hydrated := hydrate.Record(post, ps.Entity("Post"))

	rel, ok := hydrated["subject"].(hydrate.Relation)
	require.True(t, ok)
	loaded, err := rel.Load(context.Background(), prov)
	require.NoError(t, err)
	assert.Equal(t, "Ada", loaded["name"])
}
