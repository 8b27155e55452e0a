package config

import (
	"fmt"
	"sort"
	"time"

	"github.com/qliqsoft/adbridge/internal/forest"
)

// Validate checks cross-cutting invariants beyond each forest's own
// Validate (checked separately in Load): duration-parseable interval
// strings, non-negative thresholds, and a non-empty cloud base URL.
func Validate(cfg *Config) error {
	if _, err := time.ParseDuration(cfg.Sync.PollInterval); err != nil {
		return fmt.Errorf("sync.poll_interval: %w", err)
	}

	if cfg.Safety.UserCountThreshold < 0 || cfg.Safety.Percent < 0 {
		return fmt.Errorf("anomaly thresholds must be non-negative")
	}

	if cfg.Sync.PageSize <= 0 {
		return fmt.Errorf("sync.page_size must be positive")
	}

	if cfg.Sync.SubgroupWorkers <= 0 {
		return fmt.Errorf("sync.subgroup_workers must be positive")
	}

	if len(cfg.Forests) > 0 && cfg.Cloud.BaseURL == "" {
		return fmt.Errorf("cloud.base_url must be set when forests are configured")
	}

	return nil
}

// forestConfigToForest converts the TOML-facing ForestConfig into the
// internal forest.Forest model used by the comparator and manager.
func forestConfigToForest(objectGUID string, fc ForestConfig) forest.Forest {
	controllers := make([]forest.DomainController, 0, len(fc.Controllers))
	for _, c := range fc.Controllers {
		controllers = append(controllers, forest.DomainController{Host: c.Host, IsPrimary: c.IsPrimary})
	}

	return forest.Forest{
		ObjectGUID:  objectGUID,
		UserName:    fc.UserName,
		Password:    fc.Password,
		SyncGroup:   fc.SyncGroup,
		Controllers: controllers,
	}
}

// ForestList converts every configured forest section into forest.Forest
// values, in a stable order (sorted by objectGuid) for deterministic
// iteration by the DC Manager.
func (cfg *Config) ForestList() []forest.Forest {
	guids := make([]string, 0, len(cfg.Forests))
	for guid := range cfg.Forests {
		guids = append(guids, guid)
	}

	sort.Strings(guids)

	out := make([]forest.Forest, 0, len(guids))
	for _, guid := range guids {
		out = append(out, forestConfigToForest(guid, cfg.Forests[guid]))
	}

	return out
}
