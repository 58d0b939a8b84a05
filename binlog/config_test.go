package binlog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, int64(1<<30), cfg.MaxBinlogSize)
	assert.Equal(t, 1, cfg.FlushLogAtTrxCommit)
	assert.Equal(t, ".", cfg.Directory)
}

func TestConfigNormalizeClampsStateInterval(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StateIntervalBytes = 100 // below page size, not a power of two
	cfg.Normalize()
	assert.GreaterOrEqual(t, cfg.StateIntervalBytes, int64(fspDefaultPageSize))
	assert.True(t, isPowerOfTwo(cfg.StateIntervalBytes))
}

func TestConfigNormalizeClampsFlushMode(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FlushLogAtTrxCommit = 7
	cfg.Normalize()
	assert.Equal(t, 1, cfg.FlushLogAtTrxCommit)
}

func TestConfigNormalizeDefaultsEmptyDirectory(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Directory = ""
	cfg.Normalize()
	assert.Equal(t, ".", cfg.Directory)
}

func TestLoadConfigFromTOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "binlog.toml")
	contents := []byte(`
max_binlog_size = 2147483648
state_interval_bytes = 65536
directory = "/var/lib/xbinlog"
flush_log_at_trx_commit = 2
force_recovery = true
`)
	assert.NoError(t, os.WriteFile(path, contents, 0644))

	cfg, err := LoadConfig(path)
	assert.NoError(t, err)
	assert.Equal(t, int64(2147483648), cfg.MaxBinlogSize)
	assert.Equal(t, int64(65536), cfg.StateIntervalBytes)
	assert.Equal(t, "/var/lib/xbinlog", cfg.Directory)
	assert.Equal(t, 2, cfg.FlushLogAtTrxCommit)
	assert.True(t, cfg.ForceRecovery)
}

func TestNextPowerOfTwo(t *testing.T) {
	cases := map[int64]int64{0: 1, 1: 1, 2: 2, 3: 4, 1000: 1024, 1024: 1024}
	for in, want := range cases {
		assert.Equal(t, want, nextPowerOfTwo(in))
	}
}

func isPowerOfTwo(v int64) bool { return v > 0 && v&(v-1) == 0 }
