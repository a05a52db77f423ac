// Package openai adapts the OpenAI chat completion and embeddings APIs to
// generate.Capability, grounded on glyphoxa's pkg/provider/llm/openai and
// pkg/provider/embeddings/openai clients.
package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/vertexdb/vertex/generate"
)

// DefaultEmbeddingModel mirrors OpenAI's cheapest current embedding model.
const DefaultEmbeddingModel = oai.EmbeddingModelTextEmbedding3Small

// Adapter implements generate.Capability against the OpenAI API.
type Adapter struct {
	client          oai.Client
	completionModel string
	embeddingModel  string
}

var _ generate.Capability = (*Adapter)(nil)

// New constructs an Adapter. completionModel drives GenerateField/
// GenerateEntity/StreamField; embeddingModel drives Embed (falls back to
// DefaultEmbeddingModel if empty).
func New(apiKey, completionModel, embeddingModel string, opts ...option.RequestOption) (*Adapter, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: apiKey must not be empty")
	}
	if completionModel == "" {
		return nil, fmt.Errorf("openai: completionModel must not be empty")
	}
	if embeddingModel == "" {
		embeddingModel = DefaultEmbeddingModel
	}
	reqOpts := append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	client := oai.NewClient(reqOpts...)
	return &Adapter{client: client, completionModel: completionModel, embeddingModel: embeddingModel}, nil
}

// GenerateField implements generate.Generator.
func (a *Adapter) GenerateField(ctx context.Context, gc generate.GenerationContext) (string, error) {
	resp, err := a.complete(ctx, fieldSystemPrompt(gc), fieldUserPrompt(gc))
	if err != nil {
		return "", fmt.Errorf("openai: generate field %s.%s: %w", gc.EntityType, gc.FieldName, err)
	}
	return strings.TrimSpace(resp), nil
}

// GenerateEntity implements generate.Generator, asking the model for a
// JSON object of scalar field values for a fresh entity of typ.
func (a *Adapter) GenerateEntity(ctx context.Context, typ string, gc generate.GenerationContext) (map[string]any, error) {
	sys := fmt.Sprintf("You materialize a new %q entity. Reply with a single JSON object of field values, no commentary.", typ)
	resp, err := a.complete(ctx, sys, fieldUserPrompt(gc))
	if err != nil {
		return nil, fmt.Errorf("openai: generate entity %s: %w", typ, err)
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(resp), &out); err != nil {
		return nil, fmt.Errorf("openai: generate entity %s: parse JSON: %w", typ, err)
	}
	return out, nil
}

// StreamField implements generate.Generator. The OpenAI SDK's native
// streaming is not wired here; this adapter generates the full field then
// replays it through onChunk once, keeping the seam usable without a live
// streaming round trip in tests.
func (a *Adapter) StreamField(ctx context.Context, gc generate.GenerationContext, onChunk func(string)) (string, error) {
	text, err := a.GenerateField(ctx, gc)
	if err != nil {
		return "", err
	}
	if onChunk != nil {
		onChunk(text)
	}
	return text, nil
}

// Embed implements generate.EmbeddingGenerator.
func (a *Adapter) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := a.client.Embeddings.New(ctx, oai.EmbeddingNewParams{
		Model: a.embeddingModel,
		Input: oai.EmbeddingNewParamsInputUnion{OfString: param.NewOpt(text)},
	})
	if err != nil {
		return nil, fmt.Errorf("openai: embed: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("openai: embed: empty response")
	}
	out := make([]float32, len(resp.Data[0].Embedding))
	for i, v := range resp.Data[0].Embedding {
		out[i] = float32(v)
	}
	return out, nil
}

func (a *Adapter) complete(ctx context.Context, system, user string) (string, error) {
	params := oai.ChatCompletionNewParams{
		Model: shared.ChatModel(a.completionModel),
		Messages: []oai.ChatCompletionMessageParamUnion{
			oai.SystemMessage(system),
			oai.UserMessage(user),
		},
		Temperature: param.NewOpt(0.7),
	}
	resp, err := a.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("empty choices")
	}
	return resp.Choices[0].Message.Content, nil
}

func fieldSystemPrompt(gc generate.GenerationContext) string {
	return fmt.Sprintf("You materialize a single %q field value for a %q entity. Reply with only the value, no commentary.", gc.FieldName, gc.EntityType)
}

func fieldUserPrompt(gc generate.GenerationContext) string {
	var b strings.Builder
	if gc.Instructions != "" {
		b.WriteString(gc.Instructions)
		b.WriteString("\n")
	}
	if gc.Prompt != "" {
		b.WriteString(gc.Prompt)
	} else {
		fmt.Fprintf(&b, "Generate a plausible %s value for field %q.", gc.PrimitiveType, gc.FieldName)
	}
	for k, v := range gc.Siblings {
		fmt.Fprintf(&b, "\n%s: %v", k, v)
	}
	return b.String()
}
