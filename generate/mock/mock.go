// Package mock provides a test double for generate.Capability, grounded on
// glyphoxa/pkg/provider/llm/mock's call-recording shape.
//
// Example:
//
//	g := &mock.Generator{FieldValue: "a generated value"}
//	v, _ := g.GenerateField(ctx, generate.GenerationContext{FieldName: "title"})
package mock

import (
	"context"
	"sync"

	"github.com/vertexdb/vertex/generate"
)

// FieldCall records a single invocation of GenerateField or StreamField.
type FieldCall struct {
	Ctx context.Context
	GC  generate.GenerationContext
}

// EntityCall records a single invocation of GenerateEntity.
type EntityCall struct {
	Ctx  context.Context
	Type string
	GC   generate.GenerationContext
}

// EmbedCall records a single invocation of Embed.
type EmbedCall struct {
	Ctx  context.Context
	Text string
}

// Generator is a configurable test double implementing generate.Capability.
// The *Func fields, when set, override the static fields; call records
// accumulate for later assertion. Not safe across goroutines that also
// mutate the *Func/static fields concurrently with calls, matching
// glyphoxa's mock.Provider contract.
type Generator struct {
	mu sync.Mutex

	// FieldValue is returned by GenerateField/StreamField when
	// FieldFunc is nil.
	FieldValue string
	FieldErr   error
	FieldFunc  func(generate.GenerationContext) (string, error)

	// EntityValue is returned by GenerateEntity when EntityFunc is nil.
	EntityValue map[string]any
	EntityErr   error
	EntityFunc  func(typ string, gc generate.GenerationContext) (map[string]any, error)

	// Vector is returned by Embed when EmbedFunc is nil.
	Vector   []float32
	EmbedErr error
	EmbedFunc func(string) ([]float32, error)

	FieldCalls  []FieldCall
	EntityCalls []EntityCall
	EmbedCalls  []EmbedCall
}

var _ generate.Capability = (*Generator)(nil)

func (g *Generator) GenerateField(ctx context.Context, gc generate.GenerationContext) (string, error) {
	g.mu.Lock()
	g.FieldCalls = append(g.FieldCalls, FieldCall{Ctx: ctx, GC: gc})
	fn, val, err := g.FieldFunc, g.FieldValue, g.FieldErr
	g.mu.Unlock()
	if fn != nil {
		return fn(gc)
	}
	return val, err
}

func (g *Generator) GenerateEntity(ctx context.Context, typ string, gc generate.GenerationContext) (map[string]any, error) {
	g.mu.Lock()
	g.EntityCalls = append(g.EntityCalls, EntityCall{Ctx: ctx, Type: typ, GC: gc})
	fn, val, err := g.EntityFunc, g.EntityValue, g.EntityErr
	g.mu.Unlock()
	if fn != nil {
		return fn(typ, gc)
	}
	return val, err
}

func (g *Generator) StreamField(ctx context.Context, gc generate.GenerationContext, onChunk func(string)) (string, error) {
	text, err := g.GenerateField(ctx, gc)
	if err != nil {
		return "", err
	}
	if onChunk != nil {
		onChunk(text)
	}
	return text, nil
}

func (g *Generator) Embed(ctx context.Context, text string) ([]float32, error) {
	g.mu.Lock()
	g.EmbedCalls = append(g.EmbedCalls, EmbedCall{Ctx: ctx, Text: text})
	fn, vec, err := g.EmbedFunc, g.Vector, g.EmbedErr
	g.mu.Unlock()
	if fn != nil {
		return fn(text)
	}
	return vec, err
}

// Reset clears all recorded calls. Thread-safe.
func (g *Generator) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.FieldCalls = nil
	g.EntityCalls = nil
	g.EmbedCalls = nil
}
