// Package main provides the vertex CLI.
//
// The CLI supports:
//   - validate: check a schema declaration's syntax and print entity/field counts
//   - generate client: produce a typed Go accessor package from the schema
//   - migrate: load $seed datasets into the configured storage provider
//   - watch: hot-reload a schema declaration and report each reload
//   - version: print version information
//
// Usage:
//
//	vertex [flags] <command>
package main

import (
	_ "github.com/vertexdb/vertex/provider/clickhouse"
	_ "github.com/vertexdb/vertex/provider/fsstore"
	_ "github.com/vertexdb/vertex/provider/libsql"
	_ "github.com/vertexdb/vertex/provider/memory"
	_ "github.com/vertexdb/vertex/provider/postgres"
)

func main() {
	Execute()
}
