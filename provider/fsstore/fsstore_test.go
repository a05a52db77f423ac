package fsstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vertexdb/vertex/provider"
)

func openTestStore(t *testing.T) *Provider {
	t.Helper()
	p, err := Open(t.TempDir())
	require.NoError(t, err)
	return p
}

func TestProvider_CreateGetUpdateDelete(t *testing.T) {
	ctx := context.Background()
	p := openTestStore(t)

	created, err := p.Create(ctx, "Post", "p1", provider.Record{"title": "Hello", "body": "World content"})
	require.NoError(t, err)
	assert.Equal(t, "p1", created.ID())

	_, err = p.Create(ctx, "Post", "p1", provider.Record{"title": "Dup"})
	assert.Error(t, err)

	got, err := p.Get(ctx, "Post", "p1")
	require.NoError(t, err)
	assert.Equal(t, "Hello", got["title"])
	assert.Equal(t, "World content", got["body"])

	updated, err := p.Update(ctx, "Post", "p1", provider.Record{"title": "Hello Updated"})
	require.NoError(t, err)
	assert.Equal(t, "Hello Updated", updated["title"])
	assert.Equal(t, "World content", updated["body"])

	ok, err := p.Delete(ctx, "Post", "p1")
	require.NoError(t, err)
	assert.True(t, ok)

	missing, err := p.Get(ctx, "Post", "p1")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestProvider_ListSearchRelate(t *testing.T) {
	ctx := context.Background()
	p := openTestStore(t)

	_, _ = p.Create(ctx, "Post", "p1", provider.Record{"title": "Golang Concurrency"})
	_, _ = p.Create(ctx, "Post", "p2", provider.Record{"title": "Cooking Basics"})
	_, _ = p.Create(ctx, "Author", "a1", provider.Record{"name": "Ada"})

	list, err := p.List(ctx, "Post", provider.ListOptions{})
	require.NoError(t, err)
	assert.Len(t, list, 2)

	found, err := p.Search(ctx, "Post", "golang", provider.ListOptions{})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "p1", found[0].ID())

	require.NoError(t, p.Relate(ctx, "Post", "p1", "author", "Author", "a1", nil))
	err = p.Relate(ctx, "Post", "p1", "author", "Author", "a1", nil)
	assert.Error(t, err)

	related, err := p.Related(ctx, "Post", "p1", "author")
	require.NoError(t, err)
	require.Len(t, related, 1)
	assert.Equal(t, "a1", related[0].ID())

	require.NoError(t, p.Unrelate(ctx, "Post", "p1", "author", "Author", "a1"))
	related, err = p.Related(ctx, "Post", "p1", "author")
	require.NoError(t, err)
	assert.Empty(t, related)
}

func TestProvider_StoresFrontmatterAndBodySeparately(t *testing.T) {
	ctx := context.Background()
	p := openTestStore(t)
	_, err := p.Create(ctx, "Post", "p1", provider.Record{"title": "Hello", "body": "Some *markdown* body."})
	require.NoError(t, err)

	raw, err := os.ReadFile(filepath.Join(p.root, "Post", "p1.md"))
	require.NoError(t, err)
	s := string(raw)
	assert.Contains(t, s, "---\n")
	assert.Contains(t, s, "title: Hello")
	assert.Contains(t, s, "Some *markdown* body.")
}

func TestMarkdownFileCount(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.md"), []byte("---\n---\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.mdx"), []byte("---\n---\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "c.txt"), []byte("not markdown"), 0o644))

	n, err := MarkdownFileCount(dir)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestMarkdownFileCount_MissingDirIsZero(t *testing.T) {
	n, err := MarkdownFileCount(filepath.Join(t.TempDir(), "does-not-exist"))
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
