// Package config implements TOML configuration loading, validation, and
// live reload for adbridge.
package config

// Config is the top-level configuration structure: global ambient sections
// plus the forest list, keyed by objectGuid, each of which fully overrides
// nothing — forests are additive entries, not section overrides.
type Config struct {
	Forests map[string]ForestConfig `toml:"forest"`
	Safety  AnomalyConfig           `toml:"anomaly"`
	Sync    SyncConfig              `toml:"sync"`
	Cloud   CloudConfig             `toml:"cloud"`
	Logging LoggingConfig           `toml:"logging"`
	Network NetworkConfig           `toml:"network"`
}

// ForestConfig is one forest section, keyed in TOML as [forest."<objectGuid>"].
type ForestConfig struct {
	UserName    string                 `toml:"user_name"`
	Password    string                 `toml:"password"`
	SyncGroup   string                 `toml:"sync_group"`
	Controllers []DomainControllerConfig `toml:"controller"`
}

// DomainControllerConfig is one controller entry within a forest section.
type DomainControllerConfig struct {
	Host      string `toml:"host"`
	IsPrimary bool   `toml:"is_primary"`
}

// AnomalyConfig controls the mass-deletion anomaly-detection interlock.
// Grounded on the teacher's SafetyConfig big-delete fields (internal/config/config.go,
// internal/config/defaults.go), renamed to this domain's vocabulary.
type AnomalyConfig struct {
	UserCountThreshold int `toml:"user_count_threshold"`
	Percent            int `toml:"percent"`
}

// SyncConfig controls the AD Monitor's timer and enumeration behavior.
type SyncConfig struct {
	PollInterval    string `toml:"poll_interval"`
	EnableAvatars   bool   `toml:"enable_avatars"`
	EnableSubgroups bool   `toml:"enable_subgroups"`
	EnableDNAuth    bool   `toml:"enable_dn_auth"`
	PageSize        int    `toml:"page_size"`
	EventRetentionDays int `toml:"event_retention_days"`

	// SubgroupWorkers bounds how many subgroups are enumerated concurrently
	// per forest sync cycle — each subgroup's member search dials its own
	// LDAP connection, so this is a fan-out width, not a DB concern (the
	// Local Store serializes all writes onto its single connection anyway).
	SubgroupWorkers int `toml:"subgroup_workers"`
}

// CloudConfig addresses the SCIM-style cloud identity provider.
type CloudConfig struct {
	BaseURL string `toml:"base_url"`
	APIKey  string `toml:"api_key"`
}

// LoggingConfig controls log output behavior.
type LoggingConfig struct {
	LogLevel  string `toml:"log_level"`
	LogFile   string `toml:"log_file"`
	LogFormat string `toml:"log_format"`
}

// NetworkConfig controls HTTP/LDAP client timeouts.
type NetworkConfig struct {
	ConnectTimeout string `toml:"connect_timeout"`
	DataTimeout    string `toml:"data_timeout"`
}
