// Package anyllm adapts github.com/mozilla-ai/any-llm-go, a unified
// multi-provider completion client, to generate.Generator - grounded
// directly on glyphoxa/pkg/provider/llm/anyllm's backend-selection
// pattern. Use this when the caller's provider name is only known at
// runtime.
package anyllm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/vertexdb/vertex/generate"
)

// Adapter implements generate.Generator by delegating to any-llm-go.
type Adapter struct {
	backend anyllmlib.Provider
	model   string
}

var _ generate.Generator = (*Adapter)(nil)

// New constructs an Adapter. providerName is one of "openai", "anthropic",
// "gemini", "ollama"; opts are any-llm-go options (e.g. WithAPIKey).
func New(providerName, model string, opts ...anyllmlib.Option) (*Adapter, error) {
	if providerName == "" {
		return nil, fmt.Errorf("anyllm: providerName must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("anyllm: model must not be empty")
	}
	backend, err := createBackend(providerName, opts...)
	if err != nil {
		return nil, fmt.Errorf("anyllm: create %q backend: %w", providerName, err)
	}
	return &Adapter{backend: backend, model: model}, nil
}

func createBackend(providerName string, opts ...anyllmlib.Option) (anyllmlib.Provider, error) {
	switch strings.ToLower(providerName) {
	case "openai":
		return anyllmoai.New(opts...)
	case "anthropic":
		return anthropic.New(opts...)
	case "gemini":
		return gemini.New(opts...)
	case "ollama":
		return ollama.New(opts...)
	default:
		return nil, fmt.Errorf("unsupported provider %q; supported: openai, anthropic, gemini, ollama", providerName)
	}
}

// GenerateField implements generate.Generator.
func (a *Adapter) GenerateField(ctx context.Context, gc generate.GenerationContext) (string, error) {
	system := fmt.Sprintf("You materialize a single %q field value for a %q entity. Reply with only the value, no commentary.", gc.FieldName, gc.EntityType)
	text, err := a.complete(ctx, system, userPromptFor(gc))
	if err != nil {
		return "", fmt.Errorf("anyllm: generate field %s.%s: %w", gc.EntityType, gc.FieldName, err)
	}
	return strings.TrimSpace(text), nil
}

// GenerateEntity implements generate.Generator.
func (a *Adapter) GenerateEntity(ctx context.Context, typ string, gc generate.GenerationContext) (map[string]any, error) {
	system := fmt.Sprintf("You materialize a new %q entity. Reply with a single JSON object of field values, no commentary.", typ)
	text, err := a.complete(ctx, system, userPromptFor(gc))
	if err != nil {
		return nil, fmt.Errorf("anyllm: generate entity %s: %w", typ, err)
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		return nil, fmt.Errorf("anyllm: generate entity %s: parse JSON: %w", typ, err)
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
	params := anyllmlib.CompletionParams{
		Model: a.model,
		Messages: []anyllmlib.Message{
			{Role: anyllmlib.RoleSystem, Content: system},
			{Role: anyllmlib.RoleUser, Content: user},
		},
	}
	resp, err := a.backend.Completion(ctx, params)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("empty choices")
	}
	return resp.Choices[0].Message.ContentString(), nil
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
