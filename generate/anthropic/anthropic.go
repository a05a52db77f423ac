// Package anthropic adapts the Claude Messages API to generate.Generator,
// grounded on the same completion-request shape as
// glyphoxa/pkg/provider/llm/openai but against anthropic-sdk-go. Anthropic
// has no embeddings endpoint, so Adapter implements only generate.Generator;
// pair it with another EmbeddingGenerator where fuzzy matching is needed.
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/vertexdb/vertex/generate"
)

// Adapter implements generate.Generator against the Claude Messages API.
type Adapter struct {
	client anthropic.Client
	model  string
}

var _ generate.Generator = (*Adapter)(nil)

// New constructs an Adapter targeting model (e.g. "claude-3-5-sonnet-latest").
func New(apiKey, model string, opts ...option.RequestOption) (*Adapter, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic: apiKey must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("anthropic: model must not be empty")
	}
	reqOpts := append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	client := anthropic.NewClient(reqOpts...)
	return &Adapter{client: client, model: model}, nil
}

// GenerateField implements generate.Generator.
func (a *Adapter) GenerateField(ctx context.Context, gc generate.GenerationContext) (string, error) {
	system := fmt.Sprintf("You materialize a single %q field value for a %q entity. Reply with only the value, no commentary.", gc.FieldName, gc.EntityType)
	text, err := a.complete(ctx, system, userPromptFor(gc))
	if err != nil {
		return "", fmt.Errorf("anthropic: generate field %s.%s: %w", gc.EntityType, gc.FieldName, err)
	}
	return strings.TrimSpace(text), nil
}

// GenerateEntity implements generate.Generator.
func (a *Adapter) GenerateEntity(ctx context.Context, typ string, gc generate.GenerationContext) (map[string]any, error) {
	system := fmt.Sprintf("You materialize a new %q entity. Reply with a single JSON object of field values, no commentary.", typ)
	text, err := a.complete(ctx, system, userPromptFor(gc))
	if err != nil {
		return nil, fmt.Errorf("anthropic: generate entity %s: %w", typ, err)
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		return nil, fmt.Errorf("anthropic: generate entity %s: parse JSON: %w", typ, err)
	}
	return out, nil
}

// StreamField implements generate.Generator by generating the full value
// and replaying it through onChunk once.
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

func (a *Adapter) complete(ctx context.Context, system, user string) (string, error) {
	msg, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: 512,
		System:    []anthropic.TextBlockParam{{Text: system}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(user)),
		},
	})
	if err != nil {
		return "", err
	}
	var out strings.Builder
	for _, block := range msg.Content {
		if text := block.AsText(); text.Text != "" {
			out.WriteString(text.Text)
		}
	}
	return out.String(), nil
}

func userPromptFor(gc generate.GenerationContext) string {
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
