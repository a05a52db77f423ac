package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/vertexdb/vertex/internal/cli"
)

var (
	// Global state set during PersistentPreRunE.
	cfg        *cli.Config
	configPath string

	// Persistent flags.
	cfgFile string
	verbose int
	quiet   bool
)

var rootCmd = &cobra.Command{
	Use:   "vertex",
	Short: "Schema-first graph database with AI-assisted materialization",
	Long: `vertex - Schema-first graph database with AI-assisted materialization

vertex normalizes a JSON schema declaration into typed entities and
relations, then lets missing fields and whole entities be materialized
on demand by a pluggable AI generator, backed by a pluggable storage
provider (filesystem, SQLite, Postgres, libsql, or ClickHouse).`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "help" || cmd.Name() == "completion" || cmd.Name() == "version" {
			return nil
		}

		var err error
		cfg, configPath, err = cli.LoadConfig(cfgFile)
		if err != nil {
			return cli.ConfigError("loading configuration", err)
		}

		level := slog.LevelInfo
		if quiet {
			level = slog.LevelError
		} else if verbose > 0 {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

		return nil
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Command group IDs.
const (
	groupSchema = "schema"
	groupClient = "client"
	groupUtility = "utility"
)

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: auto-discover vertex.yaml)")
	rootCmd.PersistentFlags().CountVarP(&verbose, "verbose", "v", "increase verbosity (can be repeated)")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress non-error output")

	rootCmd.AddGroup(
		&cobra.Group{ID: groupSchema, Title: "Schema:"},
		&cobra.Group{ID: groupClient, Title: "Client:"},
		&cobra.Group{ID: groupUtility, Title: "Utility:"},
	)

	validateCmd.GroupID = groupSchema
	watchCmd.GroupID = groupSchema
	migrateCmd.GroupID = groupSchema
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(migrateCmd)

	generateCmd.GroupID = groupClient
	rootCmd.AddCommand(generateCmd)

	versionCmd.GroupID = groupUtility
	rootCmd.AddCommand(versionCmd)
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		cli.ExitWithError(err)
	}
}

// resolveString returns the first non-empty string from the provided
// values. Used to implement precedence: flag > config > default.
func resolveString(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
