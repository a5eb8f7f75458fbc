package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfigValidates(t *testing.T) {
	require.NoError(t, Validate(DefaultConfig()))
}

func TestValidateRejectsEmptyDataDir(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DataDir = "  "
	require.Error(t, Validate(cfg))
}

func TestValidateRejectsNonPositiveDurations(t *testing.T) {
	base := DefaultConfig()

	cfg := base
	cfg.TipPollInterval = 0
	require.Error(t, Validate(cfg))

	cfg = base
	cfg.TransportTimeout = -1
	require.Error(t, Validate(cfg))

	cfg = base
	cfg.SessionLifetime = 0
	require.Error(t, Validate(cfg))
}

func TestValidateRejectsUnknownLogLevel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LogLevel = "verbose"
	require.Error(t, Validate(cfg))
}

func TestValidateAcceptsLogLevelCaseInsensitively(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LogLevel = "DEBUG"
	require.NoError(t, Validate(cfg))
}

func TestFromEnvOverlaysSetVariables(t *testing.T) {
	t.Setenv("COMMUNITAS_LOG_LEVEL", "warn")
	t.Setenv("COMMUNITAS_RPK_ALLOW_ANY", "true")
	t.Setenv("COMMUNITAS_CACHE_BUDGET_BYTES", "1024")

	cfg := FromEnv(DefaultConfig())
	require.Equal(t, "warn", cfg.LogLevel)
	require.True(t, cfg.RPKAllowAny)
	require.EqualValues(t, 1024, cfg.CacheBudgetBytes)
}

func TestFromEnvLeavesDefaultsWhenUnset(t *testing.T) {
	cfg := FromEnv(DefaultConfig())
	require.Equal(t, DefaultConfig().LogLevel, cfg.LogLevel)
}

func TestDirHelpersNestUnderDataDir(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DataDir = "/tmp/communitas"

	require.Equal(t, "/tmp/communitas/personal/abc123", cfg.PersonalDir("abc123"))
	require.Equal(t, "/tmp/communitas/group_shards/g1/d1", cfg.GroupShardsDir("g1", "d1"))
	require.Equal(t, "/tmp/communitas/dht_cache", cfg.DHTCacheDir())
	require.Equal(t, "/tmp/communitas/log", cfg.LogDir())
	require.Equal(t, "/tmp/communitas/metadata.json", cfg.MetadataPath())
}
