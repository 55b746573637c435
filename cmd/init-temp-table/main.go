// Command init-temp-table drives the one-shot DDL operations on temp_import
// and its sidecars (spec §6 "init_temp_table {--drop | --truncate |
// --create-indexes | --init-log-table | --clear-log} --machine M").
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

const workingTable = "temp_import"

var (
	cfgPath       string
	machine       string
	drop          bool
	truncate      bool
	createIndexes bool
	initLogTable  bool
	clearLog      bool
)

var rootCmd = &cobra.Command{
	Use:   "init-temp-table",
	Short: "One-shot DDL operations on temp_import and its sidecars",
	RunE: func(cmd *cobra.Command, args []string) error {
		selected := 0
		for _, b := range []bool{drop, truncate, createIndexes, initLogTable, clearLog} {
			if b {
				selected++
			}
		}
		if selected != 1 {
			return fmt.Errorf("exactly one of --drop, --truncate, --create-indexes, --init-log-table, --clear-log is required")
		}

		if err := nlog.InitName("init-temp-table"); err != nil {
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

		switch {
		case drop:
			nlog.Infof("init-temp-table: dropping %s", workingTable)
			return wrapf(load.Drop(db, workingTable), "drop")
		case truncate:
			if err := load.CreateWorkingTable(db); err != nil {
				return wrapf(err, "ensure table exists")
			}
			nlog.Infof("init-temp-table: truncating %s", workingTable)
			return wrapf(load.Truncate(db, workingTable), "truncate")
		case createIndexes:
			nlog.Infof("init-temp-table: creating indexes on %s", workingTable)
			return wrapf(load.CreateIndexes(db, workingTable, "corpusid"), "create indexes")
		case initLogTable:
			nlog.Infof("init-temp-table: creating gz_import_log")
			return wrapf(load.InitLogTable(db), "init log table")
		case clearLog:
			nlog.Infof("init-temp-table: truncating gz_import_log")
			return wrapf(load.ClearLogTable(db), "clear log table")
		}
		return nil
	},
}

func wrapf(err error, action string) error {
	if err != nil {
		return fmt.Errorf("%s: %w", action, err)
	}
	return nil
}

func init() {
	rootCmd.Flags().StringVar(&cfgPath, "config", "", "path to pipeline config YAML")
	rootCmd.Flags().StringVar(&machine, "machine", "", "machine id (machine0..machine3)")
	rootCmd.MarkFlagRequired("machine")
	rootCmd.Flags().BoolVar(&drop, "drop", false, "drop temp_import")
	rootCmd.Flags().BoolVar(&truncate, "truncate", false, "truncate temp_import, creating it first if absent")
	rootCmd.Flags().BoolVar(&createIndexes, "create-indexes", false, "create the corpusid index on temp_import")
	rootCmd.Flags().BoolVar(&initLogTable, "init-log-table", false, "create gz_import_log")
	rootCmd.Flags().BoolVar(&clearLog, "clear-log", false, "truncate gz_import_log")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
