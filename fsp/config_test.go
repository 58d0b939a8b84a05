package fsp

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultSpaceConfigMatchesLifecycleConstants(t *testing.T) {
	cfg := DefaultSpaceConfig()
	assert.Equal(t, SpaceKindGeneral, cfg.Kind)
	assert.Equal(t, uint32(DefaultPageSize), cfg.PageSize)
	assert.Equal(t, uint32(SystemSpaceGrowthMB), cfg.SystemGrowthMB)
	assert.Equal(t, uint32(GeneralSpaceGrowthExtents), cfg.GeneralGrowthExtents)
	assert.Equal(t, ShrinkLogBudgetBytes, cfg.ShrinkLogBudgetBytes)
}

func TestLoadSpaceConfigOverridesNamedKeys(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "space.ini")
	contents := `
[undo01]
kind = system
page_size = 8192
system_growth_mb = 128
general_growth_extents = 8
shrink_log_budget_bytes = 4194304
`
	assert.NoError(t, os.WriteFile(path, []byte(contents), 0644))

	cfg, err := LoadSpaceConfig(path, "undo01")
	assert.NoError(t, err)
	assert.Equal(t, SpaceKindSystem, cfg.Kind)
	assert.Equal(t, uint32(8192), cfg.PageSize)
	assert.Equal(t, uint32(128), cfg.SystemGrowthMB)
	assert.Equal(t, uint32(8), cfg.GeneralGrowthExtents)
	assert.Equal(t, 4194304, cfg.ShrinkLogBudgetBytes)
}

func TestLoadSpaceConfigFallsBackToDefaultsForMissingSection(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "space.ini")
	assert.NoError(t, os.WriteFile(path, []byte("[other]\nkind = temp\n"), 0644))

	cfg, err := LoadSpaceConfig(path, "binlog01")
	assert.NoError(t, err)
	assert.Equal(t, DefaultSpaceConfig(), cfg)
}

func TestLoadSpaceConfigRecognizesEachKind(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "space.ini")
	contents := `
[s]
kind = temp
[b]
kind = binlog
[g]
kind = general
`
	assert.NoError(t, os.WriteFile(path, []byte(contents), 0644))

	s, err := LoadSpaceConfig(path, "s")
	assert.NoError(t, err)
	assert.Equal(t, SpaceKindTemp, s.Kind)

	b, err := LoadSpaceConfig(path, "b")
	assert.NoError(t, err)
	assert.Equal(t, SpaceKindBinlog, b.Kind)

	g, err := LoadSpaceConfig(path, "g")
	assert.NoError(t, err)
	assert.Equal(t, SpaceKindGeneral, g.Kind)
}

func TestLoadSpaceConfigMissingFileReturnsError(t *testing.T) {
	_, err := LoadSpaceConfig(filepath.Join(t.TempDir(), "absent.ini"), "x")
	assert.Error(t, err)
}
