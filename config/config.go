// Package config holds the pipeline's explicit configuration value, threaded
// from each cmd/* main into every component. There is no package-level
// mutable config object (design note, spec §9): the machine-to-DB map is a
// pure lookup table attached to one Config value per process.
/*
 * Copyright (c) 2024, Semantic Scholar. All rights reserved.
 */
package config

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// MachineDSN holds one row of the db_config table (spec §6).
type MachineDSN struct {
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	Database       string `yaml:"database"`
	User           string `yaml:"user"`
	Password       string `yaml:"password"`
	ClientEncoding string `yaml:"client_encoding"`
}

func (m MachineDSN) DSN() string {
	enc := m.ClientEncoding
	if enc == "" {
		enc = "utf8"
	}
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s client_encoding=%s sslmode=disable",
		m.Host, m.Port, m.Database, m.User, m.Password, enc,
	)
}

type CustodianConfig struct {
	IntervalSeconds int   `yaml:"interval_seconds"`
	MinFreeBytes    int64 `yaml:"min_free_bytes"`
}

type LoaderConfig struct {
	DecodeWorkers      int    `yaml:"decode_workers"`
	InsertWorkers      int    `yaml:"insert_workers"`
	BatchRows          int    `yaml:"batch_rows"`
	CommitEveryBatches int    `yaml:"commit_every_batches"`
	Medium             string `yaml:"medium"` // "ssd" | "usb" | "spinning"
}

type MergeConfig struct {
	DBBatchSize       int      `yaml:"db_batch_size"`
	DBFields          []string `yaml:"db_fields"`
	RetryAttempts     int      `yaml:"retry_attempts"`
	RetryBaseDelayMS  int      `yaml:"retry_base_delay_ms"`
}

type AssemblerConfig struct {
	ShardMaxRecords int `yaml:"shard_max_records"`
	Workers         int `yaml:"workers"`
}

type SourceConfig struct {
	Kind         string `yaml:"kind"` // "local" | "s3" | "hdfs"
	S3Bucket     string `yaml:"s3_bucket"`
	HDFSNamenode string `yaml:"hdfs_namenode"`
}

type Config struct {
	Machines  map[string]MachineDSN `yaml:"machines"`
	Custodian CustodianConfig       `yaml:"custodian"`
	Loader    LoaderConfig          `yaml:"loader"`
	Merge     MergeConfig           `yaml:"merge"`
	Assembler AssemblerConfig       `yaml:"assembler"`
	Source    SourceConfig          `yaml:"source"`
}

// Default returns the spec's documented defaults (§4.3, §4.4, §4.7, §4.8),
// used when a config file omits a section.
func Default() Config {
	return Config{
		Custodian: CustodianConfig{IntervalSeconds: 900, MinFreeBytes: 30 << 30},
		Loader: LoaderConfig{
			DecodeWorkers:      4,
			InsertWorkers:      2,
			BatchRows:          500_000,
			CommitEveryBatches: 4,
			Medium:             "ssd",
		},
		Merge: MergeConfig{
			DBBatchSize:      5000,
			DBFields:         []string{"content"},
			RetryAttempts:    5,
			RetryBaseDelayMS: 2000,
		},
		Assembler: AssemblerConfig{ShardMaxRecords: 50_000, Workers: 4},
		Source:    SourceConfig{Kind: "local"},
	}
}

// Load reads a YAML config file and overlays it onto Default().
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrapf(err, "config: read %s", path)
	}
	// decode into a copy so zero-valued sections in the file don't clobber
	// the defaults computed above
	overlay := cfg
	if err := yaml.Unmarshal(b, &overlay); err != nil {
		return cfg, errors.Wrapf(err, "config: parse %s", path)
	}
	return overlay, nil
}

// MachineDB is the pure lookup the spec's design notes call for (§9):
// machine id -> DSN, failing fast (Programmer error class, spec §7) on an
// unknown id.
func (c Config) MachineDB(machineID string) (MachineDSN, error) {
	m, ok := c.Machines[machineID]
	if !ok {
		return MachineDSN{}, errors.Errorf("unknown machine id %q", machineID)
	}
	return m, nil
}
