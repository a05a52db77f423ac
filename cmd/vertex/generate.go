package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/vertexdb/vertex/internal/cli"
	"github.com/vertexdb/vertex/schema"
)

var (
	generateSchema  string
	generateOutput  string
	generatePackage string
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Code generation commands",
}

var generateClientCmd = &cobra.Command{
	Use:   "client",
	Short: "Generate a typed Go accessor package from the schema",
	Long:  `Generate type-safe Go getters for every entity and relation in the schema.`,
	Example: `  # Generate into ./client, package name "client"
  vertex generate client

  # Generate with a custom package name and output directory
  vertex generate client --output internal/graph --package graph`,
	RunE: func(cmd *cobra.Command, args []string) error {
		schemaPath := resolveString(generateSchema, cfg.ResolvedSchema())
		output := resolveString(generateOutput, cfg.Generate.Client.Output)
		pkg := resolveString(generatePackage, cfg.Generate.Client.Package)

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

		if err := schema.WriteClient(ps, pkg, output); err != nil {
			return cli.GeneralError("writing client", err)
		}

		if !quiet {
			fmt.Printf("Generated %s client package %q in %s\n", cfg.Generate.Client.Runtime, pkg, output)
		}

		return nil
	},
}

func init() {
	generateCmd.AddCommand(generateClientCmd)

	generateClientCmd.Flags().StringVar(&generateSchema, "schema", "", "path to schema declaration file")
	generateClientCmd.Flags().StringVar(&generateOutput, "output", "", "output directory for generated code")
	generateClientCmd.Flags().StringVar(&generatePackage, "package", "", "package name for generated code")
}
