// Command import-citations runs C5, the citation graph builder, end to end:
// raw edge ingest followed by the references/citations aggregation into
// temp_import (spec §6 "import_citations <dir> [--machine M] [--keep-raw]
// [--truncate]").
/*
 * Copyright (c) 2024, Semantic Scholar. All rights reserved.
 */
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/semanticscholar/s2orc-pipeline/cmn/nlog"
	"github.com/semanticscholar/s2orc-pipeline/config"
	"github.com/semanticscholar/s2orc-pipeline/dbconn"
	"github.com/semanticscholar/s2orc-pipeline/graph"
	"github.com/semanticscholar/s2orc-pipeline/load"
	"github.com/semanticscholar/s2orc-pipeline/source"
)

var (
	cfgPath  string
	machine  string
	keepRaw  bool
	truncate bool
)

var rootCmd = &cobra.Command{
	Use:   "import-citations <dir>",
	Short: "Ingest citation edges and build the citation graph",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := args[0]
		if err := nlog.InitName("import-citations"); err != nil {
			return err
		}
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		dsn, err := cfg.MachineDB(machine)
		if err != nil {
			return fmt.Errorf("resolve machine: %w", err)
		}
		db, err := dbconn.Open(dsn)
		if err != nil {
			return fmt.Errorf("connect: %w", err)
		}
		defer db.Close()

		src, err := source.New(cfg.Source.Kind, cfg.Source.S3Bucket, cfg.Source.HDFSNamenode)
		if err != nil {
			return fmt.Errorf("open source: %w", err)
		}

		if err := load.CreateWorkingTable(db); err != nil {
			return fmt.Errorf("ensure temp_import exists: %w", err)
		}

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
		defer cancel()

		stats, err := graph.Run(ctx, db, dir, src, cfg.Loader, graph.Options{KeepRaw: keepRaw, Truncate: truncate})
		if err != nil {
			return fmt.Errorf("build citation graph: %w", err)
		}
		nlog.Infof("import-citations: success=%d failed=%d records=%d elapsed=%s rate=%.0f rec/s",
			stats.Succeeded, stats.Failed, stats.TotalRecords, stats.Elapsed.Round(0), stats.RecordsPerSec())
		return nil
	},
}

func init() {
	rootCmd.Flags().StringVar(&cfgPath, "config", "", "path to pipeline config YAML")
	rootCmd.Flags().StringVar(&machine, "machine", "machine0", "machine id (machine0..machine3)")
	rootCmd.Flags().BoolVar(&keepRaw, "keep-raw", false, "keep citation_raw after building the graph")
	rootCmd.Flags().BoolVar(&truncate, "truncate", false, "truncate citation_raw before ingest")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
