package provider

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
)

// DefaultSQLitePath is where the "sqlite://./path" form stores its file,
// per spec §6.3 ("SQLite file at `./path/.db/index.sqlite`").
const DefaultSQLitePath = ".db/index.sqlite"

// Opener constructs a concrete Provider for one DATABASE_URL scheme.
//
// Backend packages (provider/memory, provider/fsstore, provider/postgres,
// provider/libsql, provider/clickhouse) each register themselves from an
// init() via RegisterOpener, the same pattern database/sql drivers use —
// this file never imports a concrete backend, since provider/memory and
// friends import this package for the Provider interface and a reverse
// import would cycle. The composition root (cmd/vertex) blank-imports
// whichever backends it wants linked in.
type Opener func(ctx context.Context, dsn string) (Provider, error)

var openers = map[string]Opener{}

// RegisterOpener adds an Opener for a DATABASE_URL scheme ("memory", "fs",
// "sqlite", "libsql", "chdb", "clickhouse"). Re-registering a scheme
// replaces the previous Opener — useful for tests that want to swap in a
// fake.
func RegisterOpener(scheme string, open Opener) {
	openers[scheme] = open
}

// Open dispatches databaseURL to its provider per spec §6.3: unset or a
// bare "./path" resolves to the "fs" scheme, ":memory:" to "memory", and
// every "scheme://..." URL to the Opener registered under that scheme.
// Any failure — unparseable URL, unregistered scheme, connection error —
// falls back to the "memory" Opener with a slog.Warn rather than a hard
// failure, since vertex always needs a working Provider to start.
func Open(ctx context.Context, databaseURL string, logger *slog.Logger) Provider {
	if logger == nil {
		logger = slog.Default()
	}
	prov, err := open(ctx, databaseURL)
	if err == nil {
		return prov
	}
	logger.Warn("provider: falling back to in-memory store", "database_url", redactDSN(databaseURL), "error", err)

	fallback, ok := openers["memory"]
	if !ok {
		panic("provider: no \"memory\" Opener registered — blank-import provider/memory in main")
	}
	prov, fallbackErr := fallback(ctx, ":memory:")
	if fallbackErr != nil {
		panic(fmt.Errorf("provider: in-memory fallback itself failed: %w", fallbackErr))
	}
	return prov
}

func open(ctx context.Context, databaseURL string) (Provider, error) {
	scheme, dsn := schemeOf(databaseURL)
	opener, ok := openers[scheme]
	if !ok {
		return nil, fmt.Errorf("provider: no adapter registered for scheme %q (forgot a blank import?)", scheme)
	}
	return opener(ctx, dsn)
}

// schemeOf maps a DATABASE_URL to a registered scheme name and the DSN to
// hand that scheme's Opener.
func schemeOf(databaseURL string) (scheme, dsn string) {
	if databaseURL == "" {
		return "fs", "."
	}
	if databaseURL == ":memory:" {
		return "memory", databaseURL
	}
	if s, _, ok := strings.Cut(databaseURL, "://"); ok {
		return s, databaseURL
	}
	return "fs", databaseURL
}

// SQLitePathFor resolves the "sqlite://./path" form to the on-disk file
// spec §6.3 names, joining DefaultSQLitePath under the given root.
func SQLitePathFor(root string) string {
	return filepath.Join(root, DefaultSQLitePath)
}

func redactDSN(databaseURL string) string {
	scheme, rest, ok := strings.Cut(databaseURL, "://")
	if !ok {
		return databaseURL
	}
	if at := strings.LastIndex(rest, "@"); at != -1 {
		return scheme + "://***" + rest[at:]
	}
	return databaseURL
}
