// Command init-table creates and finalises final_delivery, the single-column
// corpusid union table fed by extract-corpusid (spec §6 "init_table
// [--finalize]"). Grounded on original_source/scripts/all_corpusid_of_5dataset/init_table.py's
// two-phase create/finalize split.
/*
 * Copyright (c) 2024, Semantic Scholar. All rights reserved.
 */
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/semanticscholar/s2orc-pipeline/cmn/nlog"
	"github.com/semanticscholar/s2orc-pipeline/config"
	"github.com/semanticscholar/s2orc-pipeline/dbconn"
	"github.com/semanticscholar/s2orc-pipeline/load"
)

// defaultMachine is fixed rather than flag-driven: spec §6 lists no --machine
// for init_table, since final_delivery lives on one designated machine.
const defaultMachine = "machine0"

var (
	cfgPath   string
	finalize  bool
)

var rootCmd = &cobra.Command{
	Use:   "init-table",
	Short: "Create or finalise the final_delivery table",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := nlog.InitName("init-table"); err != nil {
			return err
		}
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		dsn, err := cfg.MachineDB(defaultMachine)
		if err != nil {
			return fmt.Errorf("resolve machine: %w", err)
		}
		db, err := dbconn.Open(dsn)
		if err != nil {
			return fmt.Errorf("connect: %w", err)
		}
		defer db.Close()

		if finalize {
			nlog.Infof("init-table: finalizing final_delivery")
			if err := load.FinalizeFinalDelivery(db); err != nil {
				return fmt.Errorf("finalize final_delivery: %w", err)
			}
			nlog.Infof("init-table: final_delivery finalized")
			return nil
		}

		nlog.Infof("init-table: creating final_delivery (unlogged)")
		if err := load.CreateFinalDelivery(db); err != nil {
			return fmt.Errorf("create final_delivery: %w", err)
		}
		nlog.Infof("init-table: created; load shards then re-run with --finalize")
		return nil
	},
}

func init() {
	rootCmd.Flags().StringVar(&cfgPath, "config", "", "path to pipeline config YAML")
	rootCmd.Flags().BoolVar(&finalize, "finalize", false, "dedup final_delivery and add its primary key")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
