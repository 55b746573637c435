// Command merge-citations-to-full-data runs C8, the merger: folds each
// source directory's _part2.jsonl citation sidecars (plus the DB's current
// payload columns) back into the matching target shard in place (spec §6
// "merge_citations_to_full_data --source-dir S --target-dir T --machine
// {machine0|machine2}").
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
	"strings"

	"github.com/spf13/cobra"

	"github.com/semanticscholar/s2orc-pipeline/cmn/nlog"
	"github.com/semanticscholar/s2orc-pipeline/config"
	"github.com/semanticscholar/s2orc-pipeline/dbconn"
	"github.com/semanticscholar/s2orc-pipeline/merge"
)

var (
	cfgPath    string
	machine    string
	sourceDir  string
	targetDir  string
	ledgerPath string
)

var rootCmd = &cobra.Command{
	Use:   "merge-citations-to-full-data",
	Short: "Merge C5/C7 citation sidecars back into delivered shards",
	RunE: func(cmd *cobra.Command, args []string) error {
		if machine != "machine0" && machine != "machine2" {
			return fmt.Errorf("--machine must be machine0 or machine2, got %q", machine)
		}

		if err := nlog.InitName("merge-citations-to-full-data"); err != nil {
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

		if ledgerPath == "" {
			ledgerPath = filepath.Join("logs", "merge_progress.db")
		}
		m, err := merge.New(db, ledgerPath, cfg.Merge)
		if err != nil {
			return fmt.Errorf("open merger: %w", err)
		}
		defer m.Ledger.Close()

		pairs, err := discoverPairs(sourceDir, targetDir)
		if err != nil {
			return fmt.Errorf("discover pairs: %w", err)
		}
		nlog.Infof("merge-citations-to-full-data: %d pairs discovered under %s", len(pairs), sourceDir)

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
		defer cancel()

		if err := m.RunAll(ctx, pairs); err != nil {
			return fmt.Errorf("merge: %w", err)
		}
		nlog.Infof("merge-citations-to-full-data: done")
		return nil
	},
}

// discoverPairs matches every "<name>_part2.jsonl" in sourceDir to
// "<name>.jsonl" in targetDir.
func discoverPairs(sourceDir, targetDir string) ([]merge.Pair, error) {
	entries, err := os.ReadDir(sourceDir)
	if err != nil {
		return nil, err
	}
	var pairs []merge.Pair
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		const suffix = "_part2.jsonl"
		if !strings.HasSuffix(name, suffix) {
			continue
		}
		base := strings.TrimSuffix(name, suffix)
		pairs = append(pairs, merge.Pair{SourceDir: sourceDir, TargetDir: targetDir, Name: base})
	}
	return pairs, nil
}

func init() {
	rootCmd.Flags().StringVar(&cfgPath, "config", "", "path to pipeline config YAML")
	rootCmd.Flags().StringVar(&machine, "machine", "", "machine id, must be machine0 or machine2")
	rootCmd.MarkFlagRequired("machine")
	rootCmd.Flags().StringVar(&sourceDir, "source-dir", "", "directory holding *_part2.jsonl sidecars")
	rootCmd.MarkFlagRequired("source-dir")
	rootCmd.Flags().StringVar(&targetDir, "target-dir", "", "directory holding the delivered shards to rewrite")
	rootCmd.MarkFlagRequired("target-dir")
	rootCmd.Flags().StringVar(&ledgerPath, "ledger", "", "path to the merge progress SQLite ledger (default logs/merge_progress.db)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
