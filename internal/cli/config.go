package cli

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tapecell/undotx/internal/manager"
)

// Config is the optional YAML configuration file.
type Config struct {
	// DataDir overrides the default data directory ($HOME/.undotx).
	DataDir string `yaml:"data_dir"`

	// LockRetrySeconds overrides the lock backoff schedule, in whole
	// seconds per retry.
	LockRetrySeconds []int `yaml:"lock_retry_seconds"`

	// Quotas are accepted for forward compatibility but not enforced.
	Quotas QuotaConfig `yaml:"quotas"`
}

// QuotaConfig mirrors manager.Quotas in file form.
type QuotaConfig struct {
	MaxTxs          int `yaml:"max_txs"`
	MaxOpenTxs      int `yaml:"max_open_txs"`
	MaxCommittedTxs int `yaml:"max_committed_txs"`
	MaxOpenAge      int `yaml:"max_open_age"`      // seconds
	MaxCommittedAge int `yaml:"max_committed_age"` // seconds
}

// LoadConfig reads a YAML config file. An empty path returns the
// zero config; a path that does not exist is an error.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// ManagerOptions converts the config into manager options.
func (c Config) ManagerOptions() manager.Options {
	opts := manager.Options{
		DataDir: c.DataDir,
		Quotas: manager.Quotas{
			MaxTxs:          c.Quotas.MaxTxs,
			MaxOpenTxs:      c.Quotas.MaxOpenTxs,
			MaxCommittedTxs: c.Quotas.MaxCommittedTxs,
			MaxOpenAge:      time.Duration(c.Quotas.MaxOpenAge) * time.Second,
			MaxCommittedAge: time.Duration(c.Quotas.MaxCommittedAge) * time.Second,
		},
	}
	for _, s := range c.LockRetrySeconds {
		opts.LockRetries = append(opts.LockRetries, time.Duration(s)*time.Second)
	}
	return opts
}
