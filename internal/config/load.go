package config

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/BurntSushi/toml"
)

// Load reads and validates the TOML config file at path. Unset fields
// retain DefaultConfig's values. Unknown top-level keys are rejected, the
// way the teacher's internal/config/load.go does via checkUnknownKeys — a
// silently-ignored typo in a forest section is exactly the kind of mistake
// that must fail loudly rather than leave a forest unconfigured.
func Load(path string, logger *slog.Logger) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	meta, err := toml.Decode(string(data), cfg)
	if err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}

		return nil, fmt.Errorf("config: unknown key(s) in %s: %v", path, keys)
	}

	for guid, fc := range cfg.Forests {
		if err := forestConfigToForest(guid, fc).Validate(); err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	logger.Debug("config loaded", slog.String("path", path), slog.Int("forest_count", len(cfg.Forests)))

	return cfg, nil
}
