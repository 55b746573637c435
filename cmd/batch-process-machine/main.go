// Command batch-process-machine drives every dataset folder assigned to one
// machine through C3 in sequence (spec §6 "batch_process_machine --machine M
// --base-dir D [--extractors N] [--no-resume] [--upsert] [--retry]").
// Grounded on original_source/scripts/batch_process_machine.py's per-machine
// folder/table assignment and flexible hyphen/underscore folder lookup.
/*
 * Copyright (c) 2024, Semantic Scholar. All rights reserved.
 */
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/semanticscholar/s2orc-pipeline/catalog"
	"github.com/semanticscholar/s2orc-pipeline/cmn/nlog"
	"github.com/semanticscholar/s2orc-pipeline/config"
	"github.com/semanticscholar/s2orc-pipeline/custodian"
	"github.com/semanticscholar/s2orc-pipeline/dbconn"
	"github.com/semanticscholar/s2orc-pipeline/decode"
	"github.com/semanticscholar/s2orc-pipeline/load"
	"github.com/semanticscholar/s2orc-pipeline/source"
	"github.com/semanticscholar/s2orc-pipeline/stats"
)

// assignment is one (folder, dataset) pair a machine is responsible for.
type assignment struct {
	Folder  string
	Dataset config.Dataset
}

// machineAssignments is a fixed four-way split of the eight payload datasets,
// mirroring get_machine_config's static folder/table lists; there is no
// dynamic discovery in either the original or this port.
var machineAssignments = map[string][]assignment{
	"machine0": {{"papers", config.Papers}, {"paper_ids", config.PaperIDs}},
	"machine1": {{"abstracts", config.Abstracts}, {"tldrs", config.TLDRs}},
	"machine2": {{"authors", config.Authors}, {"publication-venues", config.PublicationVenues}},
	"machine3": {{"s2orc", config.S2ORC}, {"s2orc_v2", config.S2ORCV2}},
}

var (
	cfgPath     string
	machine     string
	baseDir     string
	extractors  int
	noResume    bool
	useUpsert   bool
	isRetry     bool
	reclaim     bool
	metricsAddr string
)

var rootCmd = &cobra.Command{
	Use:   "batch-process-machine",
	Short: "Process every dataset folder assigned to one machine",
	RunE: func(cmd *cobra.Command, args []string) error {
		assignments, ok := machineAssignments[machine]
		if !ok {
			return fmt.Errorf("no folder assignment for machine %q", machine)
		}

		if err := nlog.InitName("batch-process-machine"); err != nil {
			return err
		}
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if extractors > 0 {
			cfg.Loader.DecodeWorkers = extractors
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

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
		defer cancel()

		reg := prometheus.NewRegistry()
		metrics := stats.NewRegistry(reg)
		if metricsAddr != "" {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
			srv := &http.Server{Addr: metricsAddr, Handler: mux}
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					nlog.Errorf("batch-process-machine: metrics server: %v", err)
				}
			}()
			go func() {
				<-ctx.Done()
				srv.Close()
			}()
			nlog.Infof("batch-process-machine: serving /metrics on %s", metricsAddr)
		}

		var failedFolders []string
		for i, a := range assignments {
			dir := findFolderFlexible(baseDir, a.Folder)
			nlog.Infof("batch-process-machine: [%d/%d] %s -> %s", i+1, len(assignments), dir, a.Dataset)

			if _, err := os.Stat(dir); err != nil {
				nlog.Warnf("batch-process-machine: folder not found, skipping: %s", dir)
				failedFolders = append(failedFolders, a.Folder+" (not found)")
				continue
			}

			_, info, err := config.Lookup(string(a.Dataset))
			if err != nil {
				return fmt.Errorf("resolve dataset %s: %w", a.Dataset, err)
			}

			cat := catalog.New(dir, a.Dataset, src)
			if noResume {
				if err := cat.Reset(); err != nil {
					return fmt.Errorf("reset progress for %s: %w", dir, err)
				}
			} else if isRetry {
				if err := cat.ResetFailed(); err != nil {
					return fmt.Errorf("reset failed ledger for %s: %w", dir, err)
				}
			}

			if err := load.CreateUnlogged(db, info, "TEXT"); err != nil {
				return fmt.Errorf("create unlogged table for %s: %w", a.Dataset, err)
			}

			tally := stats.NewTally()
			l := &load.Loader{
				Dir:     dir,
				Dataset: a.Dataset,
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
						metrics.ShardsDone.Inc()
						metrics.RecordsLoaded.Add(float64(p.Rows))
					case load.ProgressDecodeFailed, load.ProgressInsertFailed:
						tally.AddFailed()
						metrics.ShardsFailed.Inc()
						nlog.Warnf("batch-process-machine: %s failed: %v", p.Name, p.Err)
					}
				},
			}
			if _, err := l.Run(ctx); err != nil {
				failedFolders = append(failedFolders, a.Folder+" ("+err.Error()+")")
				continue
			}

			mode := load.FinalizeFirstWriteWins
			if useUpsert {
				mode = load.FinalizeUpsert
			}
			if err := load.Finalize(db, info, "TEXT", mode); err != nil {
				failedFolders = append(failedFolders, a.Folder+" (finalize: "+err.Error()+")")
				continue
			}
			nlog.Infof("batch-process-machine: %s done: %s", a.Folder, tally.Snapshot())

			if reclaim {
				cus := custodian.New(dir, cat, src, cfg.Custodian)
				report := cus.Reclaim(ctx)
				metrics.BytesReclaimed.Add(float64(report.BytesFreed))
				if len(report.Errors) > 0 {
					nlog.Warnf("batch-process-machine: %s reclaim had %d errors", a.Folder, len(report.Errors))
				}
				nlog.Infof("batch-process-machine: %s reclaimed %d shards, %d bytes", a.Folder, report.Deleted, report.BytesFreed)
			}
		}

		if len(failedFolders) > 0 {
			return fmt.Errorf("folders failed: %v", failedFolders)
		}
		return nil
	},
}

// findFolderFlexible matches the original's hyphen/underscore tolerance.
func findFolderFlexible(base, name string) string {
	p := filepath.Join(base, name)
	if _, err := os.Stat(p); err == nil {
		return p
	}
	alt := swapSeparator(name)
	if alt != name {
		ap := filepath.Join(base, alt)
		if _, err := os.Stat(ap); err == nil {
			return ap
		}
	}
	return p
}

func swapSeparator(name string) string {
	out := make([]byte, len(name))
	changed := false
	for i := 0; i < len(name); i++ {
		switch name[i] {
		case '-':
			out[i] = '_'
			changed = true
		case '_':
			out[i] = '-'
			changed = true
		default:
			out[i] = name[i]
		}
	}
	if !changed {
		return name
	}
	return string(out)
}

func init() {
	rootCmd.Flags().StringVar(&cfgPath, "config", "", "path to pipeline config YAML")
	rootCmd.Flags().StringVar(&machine, "machine", "", "machine id (machine0..machine3)")
	rootCmd.MarkFlagRequired("machine")
	rootCmd.Flags().StringVar(&baseDir, "base-dir", "", "root directory containing all dataset folders")
	rootCmd.MarkFlagRequired("base-dir")
	rootCmd.Flags().IntVar(&extractors, "extractors", 0, "override decode worker count")
	rootCmd.Flags().BoolVar(&noResume, "no-resume", false, "clear both ledgers before processing")
	rootCmd.Flags().BoolVar(&useUpsert, "upsert", false, "finalize with FinalizeUpsert instead of first-write-wins")
	rootCmd.Flags().BoolVar(&isRetry, "retry", false, "clear only the failed ledger before processing")
	rootCmd.Flags().BoolVar(&reclaim, "reclaim", false, "run the disk custodian once per folder after finalize")
	rootCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "address to serve Prometheus /metrics on (disabled if empty)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
