package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/vertexdb/vertex/internal/cli"
	"github.com/vertexdb/vertex/schema"
)

var validateSchema string

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a schema declaration",
	Long:  `Validate a schema declaration's syntax and print its normalized entities.`,
	Example: `  # Validate a specific declaration file
  vertex validate --schema schema.json

  # Validate using config file settings
  vertex validate`,
	RunE: func(cmd *cobra.Command, args []string) error {
		schemaPath := resolveString(validateSchema, cfg.ResolvedSchema())

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

		if !quiet {
			fmt.Printf("Schema is valid. Found %d entities:\n", len(ps.Order))
			for _, name := range ps.Order {
				e := ps.Entity(name)
				relations := 0
				for _, f := range e.Fields {
					if f.IsRelation {
						relations++
					}
				}
				fmt.Printf("  - %s (%d fields, %d relations)\n", e.Name, len(e.Fields), relations)
			}
		}

		return nil
	},
}

func init() {
	validateCmd.Flags().StringVar(&validateSchema, "schema", "", "path to schema declaration file")
}
