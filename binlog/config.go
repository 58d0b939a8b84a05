package binlog

import (
	"github.com/pelletier/go-toml"
)

// Config mirrors the server variables spec §6 lists under "External
// interfaces: configuration".
type Config struct {
	MaxBinlogSize       int64  `toml:"max_binlog_size"`
	StateIntervalBytes  int64  `toml:"state_interval_bytes"`
	Directory           string `toml:"directory"`
	FlushLogAtTrxCommit int    `toml:"flush_log_at_trx_commit"`
	ForceRecovery       bool   `toml:"force_recovery"`
}

// DefaultConfig matches the usual MariaDB/InnoDB defaults this subsystem
// assumes absent explicit configuration.
func DefaultConfig() Config {
	return Config{
		MaxBinlogSize:       1 << 30, // 1 GiB
		StateIntervalBytes:  fspDefaultPageSize,
		Directory:           ".",
		FlushLogAtTrxCommit: 1,
	}
}

const fspDefaultPageSize = 16 * 1024

// LoadConfig reads TOML configuration from path and overlays it onto
// DefaultConfig, following the teacher's go-toml based config loading
// convention.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	tree, err := toml.LoadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := tree.Unmarshal(&cfg); err != nil {
		return cfg, err
	}
	cfg.Normalize()
	return cfg, nil
}

// Normalize clamps fields to the ranges spec §6 requires: max binlog
// size within [4 pages, 2^32 pages); state interval a power of two ≥
// page size; flush_log_at_trx_commit ∈ {0,1,2}.
func (c *Config) Normalize() {
	if c.MaxBinlogSize < 4*fspDefaultPageSize {
		c.MaxBinlogSize = 4 * fspDefaultPageSize
	}
	if limit := int64(1<<32) * fspDefaultPageSize; c.MaxBinlogSize >= limit {
		c.MaxBinlogSize = limit - fspDefaultPageSize
	}
	if c.StateIntervalBytes < fspDefaultPageSize {
		c.StateIntervalBytes = fspDefaultPageSize
	}
	c.StateIntervalBytes = nextPowerOfTwo(c.StateIntervalBytes)
	if c.FlushLogAtTrxCommit < 0 || c.FlushLogAtTrxCommit > 2 {
		c.FlushLogAtTrxCommit = 1
	}
	if c.Directory == "" {
		c.Directory = "."
	}
}

func nextPowerOfTwo(v int64) int64 {
	if v <= 1 {
		return 1
	}
	p := int64(1)
	for p < v {
		p <<= 1
	}
	return p
}
