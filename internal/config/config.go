// Package config loads Communitas core configuration: a plain struct, a
// DefaultConfig, an env-driven override pass, and an explicit Validate —
// no config library, just godotenv for an optional .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DataDir             string        `json:"data_dir"`
	QUICListenAddr      string        `json:"quic_listen_addr"`
	QUICPinnedSPKI      string        `json:"quic_pinned_spki"`
	RPKAllowAny         bool          `json:"rpk_allow_any"`
	TipPollInterval     time.Duration `json:"tip_poll_interval"`
	TipBackoffMax       time.Duration `json:"tip_backoff_max"`
	TransportTimeout    time.Duration `json:"transport_timeout"`
	CacheBudgetBytes    int64         `json:"cache_budget_bytes"`
	CapacityBaseUnit    int64         `json:"capacity_base_unit"`
	SessionLifetime     time.Duration `json:"session_lifetime"`
	SessionSweepEvery   time.Duration `json:"session_sweep_every"`
	LogLevel            string        `json:"log_level"`
}

var allowedLogLevels = map[string]struct{}{
	"debug": {},
	"info":  {},
	"warn":  {},
	"error": {},
}

func DefaultDataDir() string {
	if v := os.Getenv("COMMUNITAS_DATA_DIR"); v != "" {
		return v
	}
	return filepath.Join("src-tauri", ".communitas-data")
}

func DefaultConfig() Config {
	return Config{
		DataDir:           DefaultDataDir(),
		QUICListenAddr:    "[::]:0",
		RPKAllowAny:       false,
		TipPollInterval:   time.Second,
		TipBackoffMax:     12 * time.Hour,
		TransportTimeout:  30 * time.Second,
		CacheBudgetBytes:  128 << 20,
		CapacityBaseUnit:  4 << 30, // 4 GiB personal_local == personal_dht; public = 2x
		SessionLifetime:   time.Hour,
		SessionSweepEvery: 5 * time.Minute,
		LogLevel:          "info",
	}
}

// LoadEnv loads .env into the process environment if present, then
// returns FromEnv(DefaultConfig()). A missing .env file is not an error.
func LoadEnv(dotenvPath string) (Config, error) {
	if dotenvPath != "" {
		if err := godotenv.Load(dotenvPath); err != nil && !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("load .env: %w", err)
		}
	}
	return FromEnv(DefaultConfig()), nil
}

// FromEnv overlays environment variables onto base, matching the names
// the core's external interface specifies.
func FromEnv(base Config) Config {
	cfg := base
	if v := os.Getenv("COMMUNITAS_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("COMMUNITAS_QUIC_PINNED_SPKI"); v != "" {
		cfg.QUICPinnedSPKI = v
	}
	if v := os.Getenv("COMMUNITAS_RPK_ALLOW_ANY"); v != "" {
		cfg.RPKAllowAny = isTruthy(v)
	}
	if v := os.Getenv("COMMUNITAS_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("COMMUNITAS_CACHE_BUDGET_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.CacheBudgetBytes = n
		}
	}
	return cfg
}

func isTruthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func Validate(cfg Config) error {
	if strings.TrimSpace(cfg.DataDir) == "" {
		return errors.New("data_dir is required")
	}
	if cfg.TipPollInterval <= 0 {
		return errors.New("tip_poll_interval must be > 0")
	}
	if cfg.TransportTimeout <= 0 {
		return errors.New("transport_timeout must be > 0")
	}
	if cfg.CacheBudgetBytes <= 0 {
		return errors.New("cache_budget_bytes must be > 0")
	}
	if cfg.CapacityBaseUnit <= 0 {
		return errors.New("capacity_base_unit must be > 0")
	}
	if cfg.SessionLifetime <= 0 {
		return errors.New("session_lifetime must be > 0")
	}
	logLevel := strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	if _, ok := allowedLogLevels[logLevel]; !ok {
		return fmt.Errorf("invalid log_level %q", cfg.LogLevel)
	}
	return nil
}

// PersonalDir returns <data_root>/personal/<identity_hex>.
func (c Config) PersonalDir(identityHex string) string {
	return filepath.Join(c.DataDir, "personal", identityHex)
}

// GroupShardsDir returns <data_root>/group_shards/<group_id>/<data_id>.
func (c Config) GroupShardsDir(groupID, dataID string) string {
	return filepath.Join(c.DataDir, "group_shards", groupID, dataID)
}

// DHTCacheDir returns <data_root>/dht_cache.
func (c Config) DHTCacheDir() string {
	return filepath.Join(c.DataDir, "dht_cache")
}

// LogDir returns <data_root>/log.
func (c Config) LogDir() string {
	return filepath.Join(c.DataDir, "log")
}

// MetadataPath returns <data_root>/metadata.json.
func (c Config) MetadataPath() string {
	return filepath.Join(c.DataDir, "metadata.json")
}
