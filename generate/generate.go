// Package generate defines the AI-materialization seam: the Generator and
// EmbeddingGenerator interfaces every draft/resolve/cascade operation calls
// through, and the GenerationContext passed to them. Concrete adapters live
// in subpackages (openai, anthropic, anyllm), grounded on glyphoxa's
// pkg/provider/llm and pkg/provider/embeddings client seams.
package generate

import "context"

// GenerationContext is the combined prompt material for one generated
// field or entity: schema-level $instructions, the prompt embedded in the
// field definition, and whatever sibling field values are already known
// on the entity being drafted.
type GenerationContext struct {
	EntityType   string
	FieldName    string
	Prompt       string
	Instructions string
	PrimitiveType string
	RelatedType  string         // for relation fields: the target/union-member type
	Siblings     map[string]any // already-known field values on the same entity
}

// Generator produces field values and whole entities from a
// GenerationContext. Concrete adapters call out to an LLM completion
// endpoint; generate/mock's Generator returns canned values for tests.
type Generator interface {
	GenerateField(ctx context.Context, gc GenerationContext) (string, error)
	GenerateEntity(ctx context.Context, typ string, gc GenerationContext) (map[string]any, error)
	StreamField(ctx context.Context, gc GenerationContext, onChunk func(string)) (string, error)
}

// EmbeddingGenerator turns text into a vector. provider/postgres uses it
// (see its WithEmbedder) to populate embedding columns on write and to embed
// SemanticSearch/HybridSearch queries.
type EmbeddingGenerator interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Capability is the combination most draft/resolve callers need: a
// provider able to both generate field values and embed text for fuzzy
// matching. Not every Generator implements it; callers probe with a type
// assertion exactly as provider.HasCapability does.
type Capability interface {
	Generator
	EmbeddingGenerator
}
