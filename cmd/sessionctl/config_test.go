package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	goSession "github.com/MrEthical07/goSession"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func configFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	flags := pflag.NewFlagSet("sessionctl", pflag.ContinueOnError)
	addConfigFlags(flags)
	require.NoError(t, flags.Parse(args))
	return flags
}

func TestLoadCLIConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
base_url: https://auth.example.com
store: memory
refresh_interval: 2m
log_level: debug
offline_domains: [demo.example.com]
`), 0o600))

	cfg, err := loadCLIConfig(configFlags(t, "--config", path))
	require.NoError(t, err)
	assert.Equal(t, "https://auth.example.com", cfg.BaseURL)
	assert.Equal(t, "memory", cfg.Store)
	assert.Equal(t, 2*time.Minute, cfg.RefreshInterval)
	assert.Equal(t, zerolog.DebugLevel, cfg.level())
	assert.Equal(t, []string{"demo.example.com"}, cfg.OfflineDomains)
	assert.Equal(t, "sessionctl", cfg.RedisPrefix, "unset keys keep their defaults")
}

func TestLoadCLIConfigMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent.yaml")

	flags := configFlags(t)
	require.NoError(t, flags.Lookup("config").Value.Set(path))
	cfg, err := loadCLIConfig(flags)
	require.NoError(t, err)
	assert.Equal(t, "bolt", cfg.Store)

	_, err = loadCLIConfig(configFlags(t, "--config", path))
	assert.Error(t, err)
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("base_url: https://auth.example.com\nstore: memory\n"), 0o600))

	t.Setenv("SESSIONCTL_BASE_URL", "http://10.0.0.5:9000")
	t.Setenv("SESSIONCTL_STORE", "redis")
	t.Setenv("SESSIONCTL_REDIS_ADDR", "127.0.0.1:6379")
	t.Setenv("SESSIONCTL_REFRESH_INTERVAL", "45s")
	t.Setenv("SESSIONCTL_OFFLINE_EMAILS", "a@x.com, b@x.com,")

	cfg, err := loadCLIConfig(configFlags(t, "--config", path))
	require.NoError(t, err)
	assert.Equal(t, "http://10.0.0.5:9000", cfg.BaseURL)
	assert.Equal(t, "redis", cfg.Store)
	assert.Equal(t, "127.0.0.1:6379", cfg.RedisAddr)
	assert.Equal(t, 45*time.Second, cfg.RefreshInterval)
	assert.Equal(t, []string{"a@x.com", "b@x.com"}, cfg.OfflineEmails)
}

func TestFlagsOverrideEnv(t *testing.T) {
	t.Setenv("SESSIONCTL_BASE_URL", "http://10.0.0.5:9000")
	t.Setenv("SESSIONCTL_LOG_LEVEL", "error")

	flags := configFlags(t, "--base-url", "http://127.0.0.1:9999", "--store", "memory")
	require.NoError(t, flags.Lookup("config").Value.Set(filepath.Join(t.TempDir(), "config.yaml")))
	cfg, err := loadCLIConfig(flags)
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:9999", cfg.BaseURL)
	assert.Equal(t, "memory", cfg.Store)
	assert.Equal(t, zerolog.ErrorLevel, cfg.level())
}

func TestInvalidEnvDurationIsRejected(t *testing.T) {
	t.Setenv("SESSIONCTL_REFRESH_INTERVAL", "ten minutes")

	flags := configFlags(t)
	require.NoError(t, flags.Lookup("config").Value.Set(filepath.Join(t.TempDir(), "config.yaml")))
	_, err := loadCLIConfig(flags)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode config")
}

func TestEngineConfig(t *testing.T) {
	cfg := defaultCLIConfig()
	cfg.BoltPath = filepath.Join(t.TempDir(), "state", "session.db")
	cfg.RefreshInterval = time.Minute

	ec, err := cfg.engineConfig()
	require.NoError(t, err)
	assert.Equal(t, goSession.StoreBolt, ec.Store.Backend)
	assert.Equal(t, time.Minute, ec.Refresh.Interval)
	assert.Less(t, ec.Refresh.EarlyCheckDelay, ec.Refresh.Interval)
	assert.False(t, ec.Logout.RedirectOnLogout)
	require.NoError(t, ec.Validate())
	assert.DirExists(t, filepath.Dir(cfg.BoltPath))

	cfg.Store = "redis"
	_, err = cfg.engineConfig()
	assert.Error(t, err, "redis without an address")

	cfg.Store = "etcd"
	_, err = cfg.engineConfig()
	assert.Error(t, err)
}
