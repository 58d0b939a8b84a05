package fsp

import (
	"gopkg.in/ini.v1"
)

// SpaceConfig is the per-tablespace growth/shrink policy (spec §4.4),
// loaded from an INI section so an operator can override it the same
// way legacy my.cnf-style deployments do, independent of the binlog
// subsystem's own TOML config.
type SpaceConfig struct {
	Kind                 SpaceKind
	PageSize             uint32
	SystemGrowthMB       uint32
	GeneralGrowthExtents uint32
	ShrinkLogBudgetBytes int
}

// DefaultSpaceConfig matches the constants in lifecycle.go.
func DefaultSpaceConfig() SpaceConfig {
	return SpaceConfig{
		Kind:                 SpaceKindGeneral,
		PageSize:             DefaultPageSize,
		SystemGrowthMB:       SystemSpaceGrowthMB,
		GeneralGrowthExtents: GeneralSpaceGrowthExtents,
		ShrinkLogBudgetBytes: ShrinkLogBudgetBytes,
	}
}

// LoadSpaceConfig reads section from path, falling back to
// DefaultSpaceConfig for any key the file omits.
func LoadSpaceConfig(path, section string) (SpaceConfig, error) {
	cfg := DefaultSpaceConfig()
	f, err := ini.Load(path)
	if err != nil {
		return cfg, err
	}
	sec := f.Section(section)
	if sec == nil {
		return cfg, nil
	}
	if k := sec.Key("page_size"); k.String() != "" {
		v, err := k.Uint()
		if err == nil {
			cfg.PageSize = uint32(v)
		}
	}
	if k := sec.Key("system_growth_mb"); k.String() != "" {
		v, err := k.Uint()
		if err == nil {
			cfg.SystemGrowthMB = uint32(v)
		}
	}
	if k := sec.Key("general_growth_extents"); k.String() != "" {
		v, err := k.Uint()
		if err == nil {
			cfg.GeneralGrowthExtents = uint32(v)
		}
	}
	if k := sec.Key("shrink_log_budget_bytes"); k.String() != "" {
		v, err := k.Int()
		if err == nil {
			cfg.ShrinkLogBudgetBytes = v
		}
	}
	switch sec.Key("kind").String() {
	case "system":
		cfg.Kind = SpaceKindSystem
	case "temp":
		cfg.Kind = SpaceKindTemp
	case "binlog":
		cfg.Kind = SpaceKindBinlog
	case "general", "":
		cfg.Kind = SpaceKindGeneral
	}
	return cfg, nil
}
