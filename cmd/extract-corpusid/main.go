// Command extract-corpusid scans one or more shard directories for the
// corpusid key alone and COPYs the union into final_delivery (spec §6
// "extract_corpusid --dir D | --dirs D… [--extractors N] [--inserters N]
// [--no-resume] [--reset]"). Grounded on
// original_source/scripts/all_corpusid_of_5dataset/extract_corpusid.py.
/*
 * Copyright (c) 2024, Semantic Scholar. All rights reserved.
 */
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"

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
	cfgPath    string
	machine    string
	dir        string
	dirs       []string
	extractors int
	inserters  int
	noResume   bool
	reset      bool
)

var rootCmd = &cobra.Command{
	Use:   "extract-corpusid",
	Short: "Extract corpusid alone from one or more shard directories into final_delivery",
	RunE: func(cmd *cobra.Command, args []string) error {
		all := dirs
		if dir != "" {
			all = append([]string{dir}, all...)
		}
		if len(all) == 0 {
			return fmt.Errorf("at least one of --dir or --dirs is required")
		}

		if err := nlog.InitName("extract-corpusid"); err != nil {
			return err
		}
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if extractors > 0 {
			cfg.Loader.DecodeWorkers = extractors
		}
		if inserters > 0 {
			cfg.Loader.InsertWorkers = inserters
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

		if err := load.CreateFinalDelivery(db); err != nil {
			return fmt.Errorf("ensure final_delivery exists: %w", err)
		}

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
		defer cancel()

		tally := stats.NewTally()
		for _, d := range all {
			label := config.Dataset("final_delivery_" + filepath.Base(filepath.Clean(d)))
			cat := catalog.New(d, label, src)
			if noResume || reset {
				if err := cat.Reset(); err != nil {
					return fmt.Errorf("reset progress for %s: %w", d, err)
				}
			}

			l := &load.Loader{
				Dir:     d,
				Dataset: label,
				Table:   "final_delivery",
				Columns: load.Columns{"corpusid"},
				Mode:    decode.ModeCorpusID,
				DB:      db,
				Tuning:  dbconn.ForMedium(cfg.Loader.Medium),
				Cat:     cat,
				Src:     src,
				Cfg:     cfg.Loader,
				OnProgress: func(p load.Progress) {
					switch p.Kind {
					case load.ProgressDecoded:
						tally.AddSucceeded(int64(p.Rows))
					case load.ProgressDecodeFailed, load.ProgressInsertFailed:
						tally.AddFailed()
						nlog.Warnf("extract-corpusid: %s failed: %v", p.Name, p.Err)
					}
				},
			}
			if _, err := l.Run(ctx); err != nil {
				return fmt.Errorf("run extractor over %s: %w", d, err)
			}
		}

		nlog.Infof("extract-corpusid: %s", tally.Snapshot())
		nlog.Infof("extract-corpusid: run init-table --finalize once all directories are done")
		return nil
	},
}

func init() {
	rootCmd.Flags().StringVar(&cfgPath, "config", "", "path to pipeline config YAML")
	rootCmd.Flags().StringVar(&machine, "machine", "machine0", "machine id (machine0..machine3)")
	rootCmd.Flags().StringVar(&dir, "dir", "", "single shard directory to scan")
	rootCmd.Flags().StringSliceVar(&dirs, "dirs", nil, "comma-separated shard directories to scan")
	rootCmd.Flags().IntVar(&extractors, "extractors", 0, "override decode worker count")
	rootCmd.Flags().IntVar(&inserters, "inserters", 0, "override insert worker count")
	rootCmd.Flags().BoolVar(&noResume, "no-resume", false, "clear progress ledgers before scanning")
	rootCmd.Flags().BoolVar(&reset, "reset", false, "alias for --no-resume")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
