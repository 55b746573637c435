// Command import-gz-to-temp runs C3, the bulk loader, over one directory of
// shards for a single named dataset (spec §6 "import_gz_to_temp <path>
// --dataset X [--machine M] [--delete-gz] [--auto-pipeline]").
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

	"github.com/semanticscholar/s2orc-pipeline/catalog"
	"github.com/semanticscholar/s2orc-pipeline/cmn/nlog"
	"github.com/semanticscholar/s2orc-pipeline/config"
	"github.com/semanticscholar/s2orc-pipeline/dbconn"
	"github.com/semanticscholar/s2orc-pipeline/decode"
	"github.com/semanticscholar/s2orc-pipeline/load"
	"github.com/semanticscholar/s2orc-pipeline/source"
	"github.com/semanticscholar/s2orc-pipeline/stats"
)

var (
	cfgPath      string
	machine      string
	datasetName  string
	deleteGZ     bool
	autoPipeline bool
)

// workingColumn maps a dataset's payload onto temp_import's matching column
// for --auto-pipeline; datasets with no temp_import column are skipped.
var workingColumn = map[config.Dataset]string{
	config.S2ORC:               "content",
	config.S2ORCV2:             "content",
	config.EmbeddingsSpecterV1: "specter_v1",
	config.EmbeddingsSpecterV2: "specter_v2",
}

var rootCmd = &cobra.Command{
	Use:   "import-gz-to-temp <path>",
	Short: "Bulk-load one dataset's shard directory via COPY",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := args[0]
		if err := nlog.InitName("import-gz-to-temp"); err != nil {
			return err
		}
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		dataset, info, err := config.Lookup(datasetName)
		if err != nil {
			return fmt.Errorf("resolve dataset: %w", err)
		}
		if dataset == config.Citations {
			return fmt.Errorf("citations has its own tool: import-citations")
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

		if err := load.CreateUnlogged(db, info, "TEXT"); err != nil {
			return fmt.Errorf("create unlogged table: %w", err)
		}

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
		defer cancel()

		tally := stats.NewTally()
		cat := catalog.New(dir, dataset, src)
		l := &load.Loader{
			Dir:     dir,
			Dataset: dataset,
			Table:   info.Table,
			Columns: load.Columns{info.PrimaryKey, info.PayloadCol},
			Mode:    decode.ModePayload,
			DB:      db,
			Tuning:  dbconn.ForMedium(cfg.Loader.Medium),
			Cat:     cat,
			Src:     src,
			Cfg:     cfg.Loader,
			OnProgress: func(p load.Progress) {
				switch p.Kind {
				case load.ProgressDecoded:
					tally.AddSucceeded(int64(p.Rows))
					nlog.Infof("import-gz-to-temp: %s decoded (%d rows)", p.Name, p.Rows)
				case load.ProgressDecodeFailed, load.ProgressInsertFailed:
					tally.AddFailed()
					nlog.Warnf("import-gz-to-temp: %s failed: %v", p.Name, p.Err)
				}
			},
		}
		if _, err := l.Run(ctx); err != nil {
			return fmt.Errorf("run loader: %w", err)
		}

		mode := load.FinalizeFirstWriteWins
		if err := load.Finalize(db, info, "TEXT", mode); err != nil {
			return fmt.Errorf("finalize: %w", err)
		}

		if autoPipeline {
			col, ok := workingColumn[dataset]
			if !ok {
				nlog.Warnf("import-gz-to-temp: dataset %s has no temp_import column, skipping --auto-pipeline sync", dataset)
			} else if err := load.SyncColumnIntoWorkingTable(db, info.Table, info.PrimaryKey, info.PayloadCol, col); err != nil {
				return fmt.Errorf("sync into temp_import: %w", err)
			}
		}

		if deleteGZ {
			shards, err := src.List(ctx, dir)
			if err != nil {
				return fmt.Errorf("list shards for delete: %w", err)
			}
			for _, s := range shards {
				if err := src.Remove(ctx, dir, s.Name); err != nil {
					nlog.Warnf("import-gz-to-temp: remove %s: %v", s.Name, err)
				}
			}
		}

		nlog.Infof("import-gz-to-temp: %s", tally.Snapshot())
		return nil
	},
}

func init() {
	rootCmd.Flags().StringVar(&cfgPath, "config", "", "path to pipeline config YAML")
	rootCmd.Flags().StringVar(&datasetName, "dataset", "", "dataset name (see config.Dataset constants)")
	rootCmd.MarkFlagRequired("dataset")
	rootCmd.Flags().StringVar(&machine, "machine", "machine0", "machine id (machine0..machine3)")
	rootCmd.Flags().BoolVar(&deleteGZ, "delete-gz", false, "delete shard files after a successful load")
	rootCmd.Flags().BoolVar(&autoPipeline, "auto-pipeline", false, "sync the finalized payload column into temp_import")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
