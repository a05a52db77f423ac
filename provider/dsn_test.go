package provider_test

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vertexdb/vertex/provider"
)

type stubProvider struct{ provider.Provider }

func registerStub(t *testing.T, scheme string, err error) *stubProvider {
	t.Helper()
	p := &stubProvider{}
	provider.RegisterOpener(scheme, func(context.Context, string) (provider.Provider, error) {
		if err != nil {
			return nil, err
		}
		return p, nil
	})
	return p
}

func TestOpen_DispatchesRegisteredScheme(t *testing.T) {
	want := registerStub(t, "teststore", nil)

	got := provider.Open(context.Background(), "teststore://somewhere", slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))
	assert.Same(t, provider.Provider(want), got)
}

func TestOpen_FallsBackToMemoryOnUnregisteredScheme(t *testing.T) {
	registerStub(t, "memory", nil)

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	got := provider.Open(context.Background(), "nosuchscheme://x", logger)
	require.NotNil(t, got)
	assert.Contains(t, buf.String(), "falling back to in-memory store")
}

func TestOpen_FallsBackToMemoryOnOpenerError(t *testing.T) {
	registerStub(t, "teststore2", assert.AnError)
	registerStub(t, "memory", nil)

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	got := provider.Open(context.Background(), "teststore2://x", logger)
	require.NotNil(t, got)
	assert.Contains(t, buf.String(), "falling back to in-memory store")
}
