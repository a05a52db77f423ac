package vtype_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vertexdb/vertex/vtype"
)

func TestParseOperator_ForwardExact(t *testing.T) {
	info := vtype.ParseOperator("->Author")
	require.NotNil(t, info)
	assert.Equal(t, vtype.OpForwardExact, info.Operator)
	assert.Equal(t, vtype.Forward, info.Direction)
	assert.Equal(t, vtype.Exact, info.MatchMode)
	assert.Equal(t, "Author", info.TargetType)
	assert.Empty(t, info.Prompt)
}

func TestParseOperator_FuzzyWithPromptAndThreshold(t *testing.T) {
	info := vtype.ParseOperator("Write a bio ~>Author(0.9)")
	require.NotNil(t, info)
	assert.Equal(t, "Write a bio", info.Prompt)
	assert.Equal(t, vtype.OpForwardFuzzy, info.Operator)
	assert.Equal(t, vtype.Fuzzy, info.MatchMode)
	assert.Equal(t, "Author", info.TargetType)
	require.NotNil(t, info.Threshold)
	assert.InDelta(t, 0.9, *info.Threshold, 1e-9)
}

func TestParseOperator_Union(t *testing.T) {
	info := vtype.ParseOperator("->A|B|C")
	require.NotNil(t, info)
	assert.Equal(t, "A", info.TargetType)
	assert.Equal(t, []string{"A", "B", "C"}, info.UnionTypes)
}

func TestParseOperator_Backward(t *testing.T) {
	fuzzy := vtype.ParseOperator("<~Tag")
	require.NotNil(t, fuzzy)
	assert.Equal(t, vtype.Backward, fuzzy.Direction)
	assert.Equal(t, vtype.Fuzzy, fuzzy.MatchMode)

	exact := vtype.ParseOperator("<-Comment")
	require.NotNil(t, exact)
	assert.Equal(t, vtype.Backward, exact.Direction)
	assert.Equal(t, vtype.Exact, exact.MatchMode)
}

func TestParseOperator_MalformedThresholdTreatedAsAbsent(t *testing.T) {
	info := vtype.ParseOperator("~>Category(0.8")
	require.NotNil(t, info)
	assert.Nil(t, info.Threshold)
	assert.Equal(t, "Category", info.TargetType)
}

func TestParseOperator_NoOperator(t *testing.T) {
	assert.Nil(t, vtype.ParseOperator("string"))
	assert.Nil(t, vtype.ParseOperator("Author"))
}

func TestParseField_PrimitiveVariants(t *testing.T) {
	cases := []struct {
		def        string
		isOptional bool
		isArray    bool
	}{
		{"string", false, false},
		{"string?", true, false},
		{"string[]", false, true},
		{"string[]?", true, true},
	}
	for _, tc := range cases {
		spec, err := vtype.ParseField(tc.def)
		require.NoError(t, err)
		assert.False(t, spec.IsRelation)
		assert.Equal(t, vtype.TString, spec.Primitive)
		assert.Equal(t, tc.isOptional, spec.IsOptional, tc.def)
		assert.Equal(t, tc.isArray, spec.IsArray, tc.def)
	}
}

func TestParseField_PrimitivePrompt(t *testing.T) {
	spec, err := vtype.ParseField("string (write a catchy title)")
	require.NoError(t, err)
	assert.False(t, spec.IsRelation)
	assert.Equal(t, vtype.TString, spec.Primitive)
	assert.Equal(t, "write a catchy title", spec.Prompt)
}

func TestParseField_ImplicitBackrefLegacyForm(t *testing.T) {
	spec, err := vtype.ParseField("Author.posts")
	require.NoError(t, err)
	assert.True(t, spec.IsRelation)
	assert.Equal(t, "Author", spec.RelatedType)
	assert.Equal(t, "posts", spec.Backref)
	assert.Equal(t, vtype.Forward, spec.Direction)
	assert.Equal(t, vtype.Exact, spec.MatchMode)
}

func TestParseField_ArrayLiteralForm(t *testing.T) {
	spec, err := vtype.ParseField([]string{"Type.backref"})
	require.NoError(t, err)
	assert.True(t, spec.IsArray)
	assert.True(t, spec.IsRelation)
	assert.Equal(t, "Type", spec.RelatedType)
	assert.Equal(t, "backref", spec.Backref)
}

func TestParseField_FuzzyThresholdStripsDecorations(t *testing.T) {
	spec, err := vtype.ParseField("~>Tag(0.9)")
	require.NoError(t, err)
	assert.True(t, spec.IsRelation)
	assert.Equal(t, "Tag", spec.RelatedType)
	require.NotNil(t, spec.Threshold)
	assert.InDelta(t, 0.9, *spec.Threshold, 1e-9)
}
