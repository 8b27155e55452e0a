package config

// Default values for configuration options not set on disk.
// Anomaly thresholds mirror the teacher's BigDeleteThreshold/Percentage
// (internal/config/defaults.go) — same shape, domain-renamed.
// UserCountThreshold alone doubles as the population floor below which
// the detector skips judging a forest entirely, per spec §4.G.
const (
	defaultUserCountThreshold = 1000
	defaultPercent            = 50

	defaultPollInterval       = "5m"
	defaultPageSize           = 500
	defaultEventRetentionDays = 30
	defaultSubgroupWorkers    = 8

	defaultLogLevel  = "info"
	defaultLogFormat = "auto"

	defaultConnectTimeout = "10s"
	defaultDataTimeout    = "60s"
)

// DefaultConfig returns a Config populated with every default value, with
// no forests configured.
func DefaultConfig() *Config {
	return &Config{
		Forests: map[string]ForestConfig{},
		Safety:  defaultAnomalyConfig(),
		Sync:    defaultSyncConfig(),
		Cloud:   CloudConfig{},
		Logging: defaultLoggingConfig(),
		Network: defaultNetworkConfig(),
	}
}

func defaultAnomalyConfig() AnomalyConfig {
	return AnomalyConfig{
		UserCountThreshold: defaultUserCountThreshold,
		Percent:            defaultPercent,
	}
}

func defaultSyncConfig() SyncConfig {
	return SyncConfig{
		PollInterval:       defaultPollInterval,
		EnableAvatars:      false,
		EnableSubgroups:    true,
		EnableDNAuth:       false,
		PageSize:           defaultPageSize,
		EventRetentionDays: defaultEventRetentionDays,
		SubgroupWorkers:    defaultSubgroupWorkers,
	}
}

func defaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		LogLevel:  defaultLogLevel,
		LogFormat: defaultLogFormat,
	}
}

func defaultNetworkConfig() NetworkConfig {
	return NetworkConfig{
		ConnectTimeout: defaultConnectTimeout,
		DataTimeout:    defaultDataTimeout,
	}
}
