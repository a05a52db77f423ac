package libsql

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/vertexdb/vertex/provider"
)

func TestWithIdentity_SetsDollarIdAndType(t *testing.T) {
	rec := withIdentity(provider.Record{"title": "Hello"}, "Post", "p1")
	assert.Equal(t, "p1", rec.ID())
	assert.Equal(t, "Post", rec.TypeName())
}

func TestMatchesWhere(t *testing.T) {
	rec := provider.Record{"status": "live"}
	assert.True(t, matchesWhere(rec, map[string]any{"status": "live"}))
	assert.False(t, matchesWhere(rec, map[string]any{"status": "draft"}))
}

func TestRecordContainsText_SkipsDollarKeys(t *testing.T) {
	rec := provider.Record{"$id": "golang-1", "title": "Cooking Basics"}
	assert.False(t, recordContainsText(rec, "golang"))
	assert.True(t, recordContainsText(rec, "cooking"))
}

func TestApplyOrderAndPage_OrdersAndLimits(t *testing.T) {
	recs := []provider.Record{
		{"$id": "a", "views": float64(1)},
		{"$id": "b", "views": float64(3)},
		{"$id": "c", "views": float64(2)},
	}
	out := applyOrderAndPage(recs, provider.ListOptions{OrderBy: "views", Order: "desc", Limit: 2})
	assert.Len(t, out, 2)
	assert.Equal(t, "b", out[0].ID())
	assert.Equal(t, "c", out[1].ID())
}

func TestIsUniqueViolation(t *testing.T) {
	assert.False(t, isUniqueViolation(nil))
}
