package main

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/vertexdb/vertex/internal/cli"
	"github.com/vertexdb/vertex/provider"
	"github.com/vertexdb/vertex/schema"
)

var migrateSchema string

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Load $seed datasets into the configured storage provider",
	Long: `Fetch each entity's $seed CSV dataset and create one record per row in
the configured storage provider, mapping columns to fields via each
field's $.column prompt and the entity's $id column.`,
	Example: `  vertex migrate
  vertex migrate --schema schema.json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		schemaPath := resolveString(migrateSchema, cfg.ResolvedSchema())

		if _, err := os.Stat(schemaPath); err != nil {
			return cli.SchemaParseError(fmt.Sprintf("schema not found: %s", schemaPath), nil)
		}

		decl, err := schema.LoadDeclaration(schemaPath)
		if err != nil {
			return cli.SchemaParseError("loading schema", err)
		}
		ps, err := schema.Normalize(decl)
		if err != nil {
			return cli.SchemaParseError("normalizing schema", err)
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
		defer cancel()

		prov := provider.Open(ctx, cfg.Database.URL, nil)

		total := 0
		for _, name := range ps.Order {
			e := ps.Entity(name)
			if e.Metadata.Seed == "" {
				continue
			}
			n, err := seedEntity(ctx, prov, e)
			if err != nil {
				return cli.DBConnectError(fmt.Sprintf("seeding %s", e.Name), err)
			}
			total += n
			if !quiet {
				fmt.Printf("Seeded %s: %d records from %s\n", e.Name, n, e.Metadata.Seed)
			}
		}

		if !quiet {
			fmt.Printf("Migration complete: %d records across %d entities.\n", total, len(ps.Order))
		}

		return nil
	},
}

// seedEntity fetches e.Metadata.Seed as CSV and creates one record per row.
func seedEntity(ctx context.Context, prov provider.Provider, e *schema.ParsedEntity) (int, error) {
	rows, header, err := fetchCSV(ctx, e.Metadata.Seed)
	if err != nil {
		return 0, err
	}

	colIndex := make(map[string]int, len(header))
	for i, col := range header {
		colIndex[col] = i
	}

	created := 0
	for _, row := range rows {
		data := provider.Record{}
		for _, f := range e.Fields {
			if f.SeedMapping == "" {
				continue
			}
			idx, ok := colIndex[f.SeedMapping]
			if !ok || idx >= len(row) {
				continue
			}
			data[f.Name] = row[idx]
		}

		id := uuid.NewString()
		if e.Metadata.SeedID != "" {
			if idx, ok := colIndex[e.Metadata.SeedID]; ok && idx < len(row) && row[idx] != "" {
				id = row[idx]
			}
		}

		if _, err := prov.Create(ctx, e.Name, id, data); err != nil {
			return created, fmt.Errorf("creating %s/%s: %w", e.Name, id, err)
		}
		created++
	}

	return created, nil
}

// fetchCSV reads seedURL (an http(s):// URL or a local file path) and
// returns its rows (header excluded) plus the header row.
func fetchCSV(ctx context.Context, seedURL string) (rows [][]string, header []string, err error) {
	var r io.Reader

	if strings.HasPrefix(seedURL, "http://") || strings.HasPrefix(seedURL, "https://") {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, seedURL, nil)
		if err != nil {
			return nil, nil, err
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return nil, nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, nil, fmt.Errorf("fetching %s: status %s", seedURL, resp.Status)
		}
		r = resp.Body
	} else {
		f, err := os.Open(seedURL)
		if err != nil {
			return nil, nil, err
		}
		defer f.Close()
		r = f
	}

	cr := csv.NewReader(r)
	all, err := cr.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("parsing csv: %w", err)
	}
	if len(all) == 0 {
		return nil, nil, nil
	}

	return all[1:], all[0], nil
}

func init() {
	migrateCmd.Flags().StringVar(&migrateSchema, "schema", "", "path to schema declaration file")
}
