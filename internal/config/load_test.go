package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func writeTempConfig(t *testing.T, body string) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "adbridge.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	return path
}

func TestLoad_Defaults(t *testing.T) {
	path := writeTempConfig(t, `
[cloud]
base_url = "https://cloud.example.com/scimv2"
api_key = "secret"

[forest."F1"]
user_name = "svc"
password = "pw"
sync_group = "qliqConnect"

[[forest."F1".controller]]
host = "dc1.example.com"
is_primary = true
`)

	cfg, err := Load(path, testLogger())
	require.NoError(t, err)

	assert.Equal(t, defaultUserCountThreshold, cfg.Safety.UserCountThreshold)
	assert.Equal(t, defaultPollInterval, cfg.Sync.PollInterval)
	require.Len(t, cfg.Forests, 1)
	assert.Equal(t, "qliqConnect", cfg.Forests["F1"].SyncGroup)
}

func TestLoad_RejectsUnknownKey(t *testing.T) {
	path := writeTempConfig(t, `
[cloud]
base_url = "https://cloud.example.com/scimv2"

bogus_top_level_key = 1
`)

	_, err := Load(path, testLogger())
	require.Error(t, err)
}

func TestLoad_RejectsInvalidForest(t *testing.T) {
	path := writeTempConfig(t, `
[cloud]
base_url = "https://cloud.example.com/scimv2"

[forest."F1"]
sync_group = "qliqConnect"
`)

	_, err := Load(path, testLogger())
	require.Error(t, err)
}

func TestLoad_RequiresCloudBaseURLWhenForestsConfigured(t *testing.T) {
	path := writeTempConfig(t, `
[forest."F1"]
user_name = "svc"
password = "pw"
sync_group = "qliqConnect"

[[forest."F1".controller]]
host = "dc1.example.com"
is_primary = true
`)

	_, err := Load(path, testLogger())
	require.Error(t, err)
}

func TestConfig_ForestList_SortedByGUID(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Forests["F2"] = ForestConfig{SyncGroup: "g2", Controllers: []DomainControllerConfig{{Host: "dc2", IsPrimary: true}}}
	cfg.Forests["F1"] = ForestConfig{SyncGroup: "g1", Controllers: []DomainControllerConfig{{Host: "dc1", IsPrimary: true}}}

	forests := cfg.ForestList()

	require.Len(t, forests, 2)
	assert.Equal(t, "F1", forests[0].ObjectGUID)
	assert.Equal(t, "F2", forests[1].ObjectGUID)
}
