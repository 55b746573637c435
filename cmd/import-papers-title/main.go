// Command import-papers-title runs C6, the title loader, over a papers
// shard directory (spec §6 "import_papers_title <dir> [--machine M]
// [--skip-index]").
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
	"github.com/semanticscholar/s2orc-pipeline/load"
	"github.com/semanticscholar/s2orc-pipeline/source"
	"github.com/semanticscholar/s2orc-pipeline/titleload"
)

var (
	cfgPath   string
	machine   string
	skipIndex bool
)

var rootCmd = &cobra.Command{
	Use:   "import-papers-title <dir>",
	Short: "Load the (corpusid, title) projection of a papers directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := args[0]
		if err := nlog.InitName("import-papers-title"); err != nil {
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

		if err := titleload.CreateUnlogged(db); err != nil {
			return fmt.Errorf("create unlogged table: %w", err)
		}

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
		defer cancel()

		loadStats, err := titleload.Run(ctx, db, dir, src, cfg.Loader)
		if err != nil {
			return fmt.Errorf("run title loader: %w", err)
		}

		if err := titleload.Finalize(db); err != nil {
			return fmt.Errorf("finalize: %w", err)
		}
		if !skipIndex {
			if err := load.CreateIndexes(db, "corpusid_mapping_title", "title"); err != nil {
				return fmt.Errorf("create title index: %w", err)
			}
		}

		nlog.Infof("import-papers-title: success=%d failed=%d records=%d elapsed=%s rate=%.0f rec/s",
			loadStats.Succeeded, loadStats.Failed, loadStats.TotalRecords, loadStats.Elapsed.Round(0), loadStats.RecordsPerSec())
		return nil
	},
}

func init() {
	rootCmd.Flags().StringVar(&cfgPath, "config", "", "path to pipeline config YAML")
	rootCmd.Flags().StringVar(&machine, "machine", "machine0", "machine id (machine0..machine3)")
	rootCmd.Flags().BoolVar(&skipIndex, "skip-index", false, "skip creating the title lookup index")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
