package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	goSession "github.com/MrEthical07/goSession"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = "SESSIONCTL"

// cliConfig is the sessionctl configuration file. Environment variables
// override the file; flags override both.
type cliConfig struct {
	BaseURL         string        `mapstructure:"base_url"`
	Store           string        `mapstructure:"store"`
	BoltPath        string        `mapstructure:"bolt_path"`
	RedisAddr       string        `mapstructure:"redis_addr"`
	RedisPrefix     string        `mapstructure:"redis_prefix"`
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
	LogLevel        string        `mapstructure:"log_level"`
	OfflineEmails   []string      `mapstructure:"offline_emails"`
	OfflineDomains  []string      `mapstructure:"offline_domains"`
}

// configKeys are the keys read from the file and the environment.
var configKeys = []string{
	"base_url",
	"store",
	"bolt_path",
	"redis_addr",
	"redis_prefix",
	"refresh_interval",
	"log_level",
	"offline_emails",
	"offline_domains",
}

// flagKeys maps persistent flags onto config keys.
var flagKeys = map[string]string{
	"base-url":  "base_url",
	"store":     "store",
	"log-level": "log_level",
}

func defaultCLIConfig() cliConfig {
	return cliConfig{
		BaseURL:     "http://127.0.0.1:8085",
		Store:       string(goSession.StoreBolt),
		BoltPath:    filepath.Join(stateDir(), "session.db"),
		RedisPrefix: "sessionctl",
		LogLevel:    "warn",
	}
}

func stateDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "sessionctl")
	}
	return ".sessionctl"
}

func defaultConfigPath() string {
	return filepath.Join(stateDir(), "config.yaml")
}

// addConfigFlags registers the flags loadCLIConfig reads.
func addConfigFlags(flags *pflag.FlagSet) {
	flags.String("config", defaultConfigPath(), "config file")
	flags.String("base-url", "", "auth service base URL")
	flags.String("store", "", "credential store: bolt, redis or memory")
	flags.String("log-level", "", "log level")
}

func setDefaults(v *viper.Viper) {
	d := defaultCLIConfig()
	v.SetDefault("base_url", d.BaseURL)
	v.SetDefault("store", d.Store)
	v.SetDefault("bolt_path", d.BoltPath)
	v.SetDefault("redis_prefix", d.RedisPrefix)
	v.SetDefault("log_level", d.LogLevel)
}

// loadCLIConfig layers the config file, SESSIONCTL_* variables and the
// flags over the defaults. A missing file is an error only when --config
// was given explicitly.
func loadCLIConfig(flags *pflag.FlagSet) (cliConfig, error) {
	v := viper.New()
	setDefaults(v)

	path, err := flags.GetString("config")
	if err != nil {
		return cliConfig{}, err
	}
	if flags.Changed("config") {
		if _, err := os.Stat(path); err != nil {
			return cliConfig{}, fmt.Errorf("read config: %w", err)
		}
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(filepath.Dir(path))
		v.SetConfigName(strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)))
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	for _, key := range configKeys {
		if err := v.BindEnv(key); err != nil {
			return cliConfig{}, err
		}
	}
	for name, key := range flagKeys {
		if f := flags.Lookup(name); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return cliConfig{}, err
			}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return cliConfig{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg cliConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return cliConfig{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.OfflineEmails = cleanList(cfg.OfflineEmails)
	cfg.OfflineDomains = cleanList(cfg.OfflineDomains)
	return cfg, nil
}

// engineConfig maps the CLI configuration onto the engine configuration.
func (c cliConfig) engineConfig() (goSession.Config, error) {
	cfg := goSession.DefaultConfig()
	cfg.Gateway.BaseURL = c.BaseURL
	cfg.Gateway.UserAgent = "sessionctl"
	if c.RefreshInterval > 0 {
		cfg.Refresh.Interval = c.RefreshInterval
		if cfg.Refresh.EarlyCheckDelay >= c.RefreshInterval {
			cfg.Refresh.EarlyCheckDelay = c.RefreshInterval / 2
		}
	}
	cfg.Privilege.OfflineEmails = c.OfflineEmails
	cfg.Privilege.OfflineDomains = c.OfflineDomains
	cfg.Logout.RedirectOnLogout = false

	switch goSession.StoreBackend(c.Store) {
	case goSession.StoreBolt:
		if err := os.MkdirAll(filepath.Dir(c.BoltPath), 0o700); err != nil {
			return goSession.Config{}, fmt.Errorf("create state dir: %w", err)
		}
		cfg.Store.Backend = goSession.StoreBolt
		cfg.Store.BoltPath = c.BoltPath
	case goSession.StoreRedis:
		if c.RedisAddr == "" {
			return goSession.Config{}, errors.New("store redis requires redis_addr")
		}
		cfg.Store.Backend = goSession.StoreRedis
		cfg.Store.RedisPrefix = c.RedisPrefix
	case goSession.StoreMemory:
		cfg.Store.Backend = goSession.StoreMemory
	default:
		return goSession.Config{}, fmt.Errorf("unknown store %q", c.Store)
	}
	return cfg, nil
}

func (c cliConfig) level() zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(c.LogLevel))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.WarnLevel
	}
	return lvl
}

// cleanList trims entries and drops empty ones, so "a, b," reads as [a b].
func cleanList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, item := range in {
		for _, p := range strings.Split(item, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func (c cliConfig) refreshInterval() time.Duration {
	if c.RefreshInterval > 0 {
		return c.RefreshInterval
	}
	return goSession.DefaultConfig().Refresh.Interval
}
