package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vertexdb/vertex/internal/cli"
	"github.com/vertexdb/vertex/schema"
)

var watchSchema string

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Hot-reload a schema declaration",
	Long:  `Watch a schema declaration file and re-normalize it on every write, until interrupted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		schemaPath := resolveString(watchSchema, cfg.ResolvedSchema())

		if _, err := os.Stat(schemaPath); err != nil {
			return cli.SchemaParseError(fmt.Sprintf("schema not found: %s", schemaPath), nil)
		}

		w, err := schema.Watch(schemaPath, schema.WatchOptions{
			Debounce: cfg.Watch.Debounce,
			OnReload: func(ps *schema.ParsedSchema) {
				if !quiet {
					fmt.Printf("reloaded: %d entities\n", len(ps.Order))
				}
			},
			Logger: slog.Default(),
		})
		if err != nil {
			return cli.GeneralError("starting watcher", err)
		}
		defer w.Close()

		if !quiet {
			fmt.Printf("Watching %s (debounce %s). Press Ctrl-C to stop.\n", schemaPath, cfg.Watch.Debounce)
		}

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		<-sig

		return nil
	},
}

func init() {
	watchCmd.Flags().StringVar(&watchSchema, "schema", "", "path to schema declaration file")
}
