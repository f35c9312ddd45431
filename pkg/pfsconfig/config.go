// Package pfsconfig loads the small set of patch-group and journal knobs:
// whether atomic groups are allowed at all, and how the journal sizes and
// closes transactions.
package pfsconfig

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cuemby/patchfs/pkg/journal"
)

// Config is the on-disk configuration shape, loaded from YAML.
type Config struct {
	// AtomicPatchgroupAllowed records whether atomic patch groups are
	// allowed. It is loaded and printed by patchfsctl stats, but it is not
	// passed to patchgroup.Scope.Create, which accepts FlagAtomic whatever
	// this value is.
	AtomicPatchgroupAllowed bool `yaml:"atomic_patchgroup_allowed"`

	// TransactionPeriodSeconds is the transaction close period; zero means
	// use journal.TransactionPeriod. Stored as seconds rather than a
	// time.Duration since that parses unambiguously out of plain YAML. It is
	// loaded and printed by patchfsctl stats; Device.RunScheduler does not
	// read it and always ticks at journal.TransactionPeriod.
	TransactionPeriodSeconds int `yaml:"transaction_period_seconds"`

	// TransactionSize overrides journal.TransactionSize in bytes; zero
	// means use the package default.
	TransactionSize int `yaml:"transaction_size"`

	// NumSlots is how many transaction slots the journal reserves.
	NumSlots int `yaml:"num_slots"`

	// DataDir is where block-store-backed devices keep their files.
	DataDir string `yaml:"data_dir"`
}

// Default returns the configuration a new deployment starts from.
func Default() Config {
	return Config{
		AtomicPatchgroupAllowed: true,
		TransactionPeriodSeconds: int(journal.TransactionPeriod / time.Second),
		TransactionSize:          journal.TransactionSize,
		NumSlots:                 4,
		DataDir:                  "./data",
	}
}

// TransactionPeriod returns TransactionPeriodSeconds as a time.Duration.
func (c Config) TransactionPeriod() time.Duration {
	return time.Duration(c.TransactionPeriodSeconds) * time.Second
}

// Load reads and parses a YAML config file at path, filling in defaults for
// any zero-valued field.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("pfsconfig: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("pfsconfig: parse %s: %w", path, err)
	}

	if cfg.TransactionPeriodSeconds == 0 {
		cfg.TransactionPeriodSeconds = int(journal.TransactionPeriod / time.Second)
	}
	if cfg.TransactionSize == 0 {
		cfg.TransactionSize = journal.TransactionSize
	}
	if cfg.NumSlots == 0 {
		cfg.NumSlots = 4
	}
	if cfg.DataDir == "" {
		cfg.DataDir = "./data"
	}
	return cfg, nil
}

// Validate reports whether the configuration is internally consistent.
func (c Config) Validate() error {
	if c.NumSlots < 1 {
		return fmt.Errorf("pfsconfig: num_slots must be at least 1")
	}
	if c.TransactionSize < 1 {
		return fmt.Errorf("pfsconfig: transaction_size must be positive")
	}
	return nil
}
