package engine_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vertexdb/vertex/engine"
	"github.com/vertexdb/vertex/generate/mock"
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

func TestEntityOps_CreateDraftOnlyStopsBeforePersist(t *testing.T) {
	ps := buildSchema(t, schema.Declaration{
		"Startup": {"name": "string", "idea": "->Idea"},
		"Idea":    {"description": "string (describe it)"},
	})
	prov := memory.New()
	gen := &mock.Generator{FieldValue: "an idea"}
	db := engine.Open(prov, gen, ps, nil)

	rec, err := db.Entity("Startup").Create(context.Background(), map[string]any{"name": "Acme"}, engine.CreateOptions{DraftOnly: true})
	require.NoError(t, err)
	assert.Equal(t, "draft", rec["$phase"])

	all, err := prov.List(context.Background(), "Startup", provider.ListOptions{})
	require.NoError(t, err)
	assert.Empty(t, all, "draftOnly must not persist")
}

func TestEntityOps_CreateResolvesAndHydrates(t *testing.T) {
	ps := buildSchema(t, schema.Declaration{
		"Post":   {"title": "string", "author": "->Author"},
		"Author": {"name": "string (name a person)"},
	})
	prov := memory.New()
	gen := &mock.Generator{FieldValue: "Ada Lovelace"}
	db := engine.Open(prov, gen, ps, nil)

	rec, err := db.Entity("Post").Create(context.Background(), map[string]any{"title": "Hi"}, engine.CreateOptions{})
	require.NoError(t, err)

	rel, ok := rec["author"].(hydrate.Relation)
	require.True(t, ok)
	assert.NotEmpty(t, rel.ID())

	assert.Equal(t, "resolved", rec["$phase"])
}

func TestEntityOps_CreateSystemTypeRejected(t *testing.T) {
	ps := buildSchema(t, schema.Declaration{"Post": {"title": "string"}})
	db := engine.Open(memory.New(), &mock.Generator{}, ps, nil)

	_, err := db.Entity("Noun").Create(context.Background(), map[string]any{}, engine.CreateOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, engine.ErrSystemEntityImmutable)
}

func TestEntityOps_GetNotFound(t *testing.T) {
	ps := buildSchema(t, schema.Declaration{"Post": {"title": "string"}})
	db := engine.Open(memory.New(), &mock.Generator{}, ps, nil)

	_, err := db.Entity("Post").Get(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, engine.IsNotFound(err))
}

func TestEntityOps_UpdateAndDelete(t *testing.T) {
	ps := buildSchema(t, schema.Declaration{"Post": {"title": "string"}})
	prov := memory.New()
	db := engine.Open(prov, &mock.Generator{}, ps, nil)

	_, err := prov.Create(context.Background(), "Post", "p_1", provider.Record{"title": "Hi"})
	require.NoError(t, err)

	updated, err := db.Entity("Post").Update(context.Background(), "p_1", map[string]any{"title": "Updated"})
	require.NoError(t, err)
	assert.Equal(t, "Updated", updated["title"])

	ok, err := db.Entity("Post").Delete(context.Background(), "p_1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEntityOps_UpsertCreatesWhenMissingAndUpdatesWhenPresent(t *testing.T) {
	ps := buildSchema(t, schema.Declaration{"Post": {"title": "string"}})
	prov := memory.New()
	db := engine.Open(prov, &mock.Generator{}, ps, nil)

	created, err := db.Entity("Post").Upsert(context.Background(), "p_1", map[string]any{"title": "First"})
	require.NoError(t, err)
	assert.Equal(t, "First", created["title"])

	updated, err := db.Entity("Post").Upsert(context.Background(), "p_1", map[string]any{"title": "Second"})
	require.NoError(t, err)
	assert.Equal(t, "Second", updated["title"])

	all, err := prov.List(context.Background(), "Post", provider.ListOptions{})
	require.NoError(t, err)
	assert.Len(t, all, 1, "upsert on an existing id must not create a duplicate")
}

func TestEntityOps_ListAndFindChain(t *testing.T) {
	ps := buildSchema(t, schema.Declaration{"Post": {"title": "string", "views": "number"}})
	prov := memory.New()
	db := engine.Open(prov, &mock.Generator{}, ps, nil)

	_, err := prov.Create(context.Background(), "Post", "p_1", provider.Record{"title": "A", "views": 10})
	require.NoError(t, err)
	_, err = prov.Create(context.Background(), "Post", "p_2", provider.Record{"title": "B", "views": 20})
	require.NoError(t, err)

	out, err := db.Entity("Post").List(provider.ListOptions{}).
		Sort(func(a, b provider.Record) bool { return a["title"].(string) < b["title"].(string) }).
		Run(context.Background())
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "A", out[0]["title"])
}

func TestEntityOps_ForEachVisitsEveryRecord(t *testing.T) {
	ps := buildSchema(t, schema.Declaration{"Post": {"title": "string"}})
	prov := memory.New()
	db := engine.Open(prov, &mock.Generator{}, ps, nil)

	for i := 0; i < 3; i++ {
		id := string(rune('a' + i))
		_, err := prov.Create(context.Background(), "Post", id, provider.Record{"title": id})
		require.NoError(t, err)
	}

	seen := make(map[string]bool)
	var mu sync.Mutex
	err := db.Entity("Post").ForEach(context.Background(), engine.ForEachOptions{Concurrency: 2}, func(ctx context.Context, rec provider.Record) error {
		mu.Lock()
		seen[rec.ID()] = true
		mu.Unlock()
		return nil
	})
	require.NoError(t, err)
	assert.Len(t, seen, 3)
}
