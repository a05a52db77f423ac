package cascade_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vertexdb/vertex/cascade"
	"github.com/vertexdb/vertex/generate/mock"
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

// TestRun_BoundedCascadeStopsAtHardCeiling covers spec §8 scenario 6: a
// self-referencing schema cascaded with maxDepth:3 creates exactly one
// child per depth and halts, with no depth-4 node.
func TestRun_BoundedCascadeStopsAtHardCeiling(t *testing.T) {
	ps := buildSchema(t, schema.Declaration{
		"Node": {"name": "string", "children": []string{"->Node"}},
	})
	prov := memory.New()
	gen := &mock.Generator{FieldValue: "child"}

	_, err := prov.Create(context.Background(), "Node", "root", provider.Record{"name": "root"})
	require.NoError(t, err)

	var depths []int
	err = cascade.Run(context.Background(), ps, prov, gen, "Node", "root", cascade.Options{
		MaxDepth: 3,
		OnProgress: func(p cascade.Progress) {
			depths = append(depths, p.CurrentDepth)
		},
	})
	require.NoError(t, err)

	all, err := prov.List(context.Background(), "Node", provider.ListOptions{})
	require.NoError(t, err)
	assert.Len(t, all, 4) // root + one child at each of depths 1..3

	for i := 1; i < len(depths); i++ {
		assert.GreaterOrEqual(t, depths[i], depths[i-1], "progress depths must be non-decreasing")
	}
}

// TestRun_ExistingValuesAreRecursedIntoNotRegenerated covers spec §4.7:
// "if the field already has values, recurse into each child" rather than
// generating a new one.
func TestRun_ExistingValuesAreRecursedIntoNotRegenerated(t *testing.T) {
	ps := buildSchema(t, schema.Declaration{
		"Startup": {"name": "string", "idea": "->Idea"},
		"Idea":    {"description": "string"},
	})
	prov := memory.New()
	gen := &mock.Generator{}

	_, err := prov.Create(context.Background(), "Idea", "idea_1", provider.Record{"description": "existing"})
	require.NoError(t, err)
	_, err = prov.Create(context.Background(), "Startup", "startup_1", provider.Record{"name": "Acme", "idea": "idea_1"})
	require.NoError(t, err)

	err = cascade.Run(context.Background(), ps, prov, gen, "Startup", "startup_1", cascade.Options{MaxDepth: 2})
	require.NoError(t, err)

	ideas, err := prov.List(context.Background(), "Idea", provider.ListOptions{})
	require.NoError(t, err)
	assert.Len(t, ideas, 1, "no new Idea should have been generated")
}

// TestRun_ForwardExactAutoGeneratesAndStampsGeneratedBy covers spec §8
// scenario 2 driven through the cascade entrypoint: an unset `->` single
// is auto-generated and stamped.
func TestRun_ForwardExactAutoGeneratesAndStampsGeneratedBy(t *testing.T) {
	ps := buildSchema(t, schema.Declaration{
		"Startup": {"name": "string", "idea": "->Idea"},
		"Idea":    {"description": "string (describe it)"},
	})
	prov := memory.New()
	gen := &mock.Generator{FieldValue: "A bold idea"}

	_, err := prov.Create(context.Background(), "Startup", "startup_2", provider.Record{"name": "Acme"})
	require.NoError(t, err)

	err = cascade.Run(context.Background(), ps, prov, gen, "Startup", "startup_2", cascade.Options{MaxDepth: 2})
	require.NoError(t, err)

	startup, err := prov.Get(context.Background(), "Startup", "startup_2")
	require.NoError(t, err)
	ideaID, _ := startup["idea"].(string)
	require.NotEmpty(t, ideaID)

	idea, err := prov.Get(context.Background(), "Idea", ideaID)
	require.NoError(t, err)
	assert.Equal(t, true, idea["$generated"])
	assert.Equal(t, "startup_2", idea["$generatedBy"])
}

// TestRun_CascadeTypesExcludesTarget covers the cascadeTypes filter: a
// field whose target type is excluded is skipped entirely.
func TestRun_CascadeTypesExcludesTarget(t *testing.T) {
	ps := buildSchema(t, schema.Declaration{
		"Startup": {"name": "string", "idea": "->Idea"},
		"Idea":    {"description": "string (describe it)"},
	})
	prov := memory.New()
	gen := &mock.Generator{FieldValue: "skipped"}

	_, err := prov.Create(context.Background(), "Startup", "startup_3", provider.Record{"name": "Acme"})
	require.NoError(t, err)

	err = cascade.Run(context.Background(), ps, prov, gen, "Startup", "startup_3", cascade.Options{
		MaxDepth:     2,
		CascadeTypes: []string{"Office"},
	})
	require.NoError(t, err)

	ideas, err := prov.List(context.Background(), "Idea", provider.ListOptions{})
	require.NoError(t, err)
	assert.Empty(t, ideas)
}
