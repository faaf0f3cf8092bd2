// Package main provides the LinkDB CLI entry point.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/orneryd/linkdb/pkg/config"
	"github.com/orneryd/linkdb/pkg/linkdb"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "linkdb",
		Short: "LinkDB - embedded graph storage engine",
		Long: `LinkDB stores nodes and typed, directed relationships over
fixed-capacity key-value stores with per-key locking.

This tool inspects and maintains a LinkDB data directory:
  • register relationship types with capacity hints
  • bulk import edge lists
  • query adjacency and type statistics
  • verify bidirectional consistency`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().String("config", "", "YAML config file (LINKDB_* variables override it)")
	rootCmd.PersistentFlags().String("data-dir", "", "Data directory (overrides config)")
	rootCmd.PersistentFlags().String("engine", "", "Storage engine: badger or memory (overrides config)")

	// Version command
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "LinkDB v%s (%s)\n", version, commit)
		},
	})

	// Init command
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Create a data directory and write a config file",
		RunE:  runInit,
	}
	initCmd.Flags().String("output", "linkdb.yaml", "Where to write the config file")
	rootCmd.AddCommand(initCmd)

	// Register command
	registerCmd := &cobra.Command{
		Use:   "register [type]",
		Short: "Register a relationship type",
		Args:  cobra.ExactArgs(1),
		RunE:  runRegister,
	}
	registerCmd.Flags().Int("max-entries", 0, "Nodes per direction the type can hold (0 = default)")
	registerCmd.Flags().Int("avg-out", 0, "Expected average out-degree (0 = default)")
	registerCmd.Flags().Int("avg-in", 0, "Expected average in-degree (0 = default)")
	rootCmd.AddCommand(registerCmd)

	// Import command
	importCmd := &cobra.Command{
		Use:   "import [file.csv]",
		Short: "Import relationships from a type,from,to[,json-properties] CSV file",
		Args:  cobra.ExactArgs(1),
		RunE:  runImport,
	}
	importCmd.Flags().Bool("create-nodes", true, "Add missing endpoint nodes")
	importCmd.Flags().Bool("header", false, "Skip the first line")
	rootCmd.AddCommand(importCmd)

	// Stats command
	rootCmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Show node, relationship type and disk statistics",
		RunE:  runStats,
	})

	// Neighbors command
	neighborsCmd := &cobra.Command{
		Use:   "neighbors [type] [node]",
		Short: "List the neighbors of a node for one relationship type",
		Args:  cobra.ExactArgs(2),
		RunE:  runNeighbors,
	}
	neighborsCmd.Flags().Bool("in", false, "List incoming instead of outgoing neighbors")
	rootCmd.AddCommand(neighborsCmd)

	// Remove node command
	rootCmd.AddCommand(&cobra.Command{
		Use:   "rm-node [node]",
		Short: "Remove a node and all of its relationships",
		Args:  cobra.ExactArgs(1),
		RunE:  runRemoveNode,
	})

	// Verify command
	rootCmd.AddCommand(&cobra.Command{
		Use:   "verify",
		Short: "Check that every relationship is recorded in both directions",
		RunE:  runVerify,
	})

	// GC command
	rootCmd.AddCommand(&cobra.Command{
		Use:   "gc",
		Short: "Run BadgerDB value log garbage collection",
		RunE:  runGC,
	})

	return rootCmd
}

// loadConfig resolves the config file, environment and persistent flags.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if dir, _ := cmd.Flags().GetString("data-dir"); dir != "" {
		cfg.Storage.DataDir = dir
	}
	if engine, _ := cmd.Flags().GetString("engine"); engine != "" {
		cfg.Storage.Engine = engine
	}
	return cfg, nil
}

// openDB opens the database for one command. The returned cleanup closes it
// along with the log output.
func openDB(cmd *cobra.Command) (*linkdb.DB, func(), error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	logger, closeLog, err := cfg.Logging.NewLogger()
	if err != nil {
		return nil, nil, err
	}
	db, err := linkdb.Open(cfg, logger)
	if err != nil {
		closeLog()
		return nil, nil, err
	}
	return db, func() {
		if err := db.Close(); err != nil {
			logger.Error("closing database", "error", err)
		}
		closeLog()
	}, nil
}
