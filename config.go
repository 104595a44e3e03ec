package goSession

import (
	"errors"
	"net/url"
	"strings"
	"time"
)

// DefaultExpiredNotice is the user-visible text carried by EventSessionExpired.
const DefaultExpiredNotice = "Session expired, please log in again."

// Config groups every engine setting by concern.
type Config struct {
	Gateway   GatewayConfig
	Refresh   RefreshConfig
	Privilege PrivilegeConfig
	Store     StoreConfig
	Events    EventsConfig
	Metrics   MetricsConfig
	Logout    LogoutConfig
}

/*
====================================
GATEWAY CONFIG
====================================
*/

// GatewayConfig configures the auth service client built when no gateway is
// supplied to the Builder.
type GatewayConfig struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
}

/*
====================================
REFRESH CONFIG
====================================
*/

// RefreshConfig configures the background token refresh.
type RefreshConfig struct {
	Interval        time.Duration
	EarlyCheckDelay time.Duration
	// FailureThreshold is the number of consecutive network failures that end
	// the session. Rejections end it immediately. The default of 1 makes any
	// failure fatal.
	FailureThreshold int
	CallTimeout      time.Duration
}

/*
====================================
PRIVILEGE CONFIG
====================================
*/

// PrivilegeConfig configures privilege resolution.
type PrivilegeConfig struct {
	CacheTTL       time.Duration
	ResolveTimeout time.Duration
	// OfflineEmails and OfflineDomains select accounts that always resolve
	// from the static role table.
	OfflineEmails  []string
	OfflineDomains []string
}

/*
====================================
STORE CONFIG
====================================
*/

// StoreBackend selects the credential store built by the Builder.
type StoreBackend string

const (
	StoreMemory StoreBackend = "memory"
	StoreRedis  StoreBackend = "redis"
	StoreBolt   StoreBackend = "bolt"
)

// StoreConfig configures credential persistence.
type StoreConfig struct {
	Backend     StoreBackend
	RedisPrefix string
	BoltPath    string
}

/*
====================================
EVENTS / METRICS / LOGOUT
====================================
*/

// EventsConfig configures the event dispatcher.
type EventsConfig struct {
	BufferSize int
	DropIfFull bool
}

// MetricsConfig toggles engine counters and latency histograms.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// LogoutConfig configures teardown signalling.
type LogoutConfig struct {
	RedirectOnLogout bool
	ExpiredNotice    string
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		Gateway: GatewayConfig{
			Timeout:   15 * time.Second,
			UserAgent: "goSession",
		},
		Refresh: RefreshConfig{
			Interval:         10 * time.Minute,
			EarlyCheckDelay:  5 * time.Minute,
			FailureThreshold: 1,
			CallTimeout:      30 * time.Second,
		},
		Privilege: PrivilegeConfig{
			CacheTTL:       5 * time.Minute,
			ResolveTimeout: 30 * time.Second,
		},
		Store: StoreConfig{
			Backend:     StoreMemory,
			RedisPrefix: "gs",
		},
		Events: EventsConfig{
			BufferSize: 256,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: false,
		},
		Logout: LogoutConfig{
			RedirectOnLogout: true,
			ExpiredNotice:    DefaultExpiredNotice,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Privilege.OfflineEmails = cloneStrings(cfg.Privilege.OfflineEmails)
	out.Privilege.OfflineDomains = cloneStrings(cfg.Privilege.OfflineDomains)
	return out
}

func cloneStrings(s []string) []string {
	if len(s) == 0 {
		return nil
	}
	out := make([]string, len(s))
	copy(out, s)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	// Gateway
	if c.Gateway.BaseURL != "" {
		u, err := url.Parse(c.Gateway.BaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return errors.New("Gateway BaseURL must be an absolute http(s) URL")
		}
	}
	if c.Gateway.Timeout < 0 {
		return errors.New("Gateway Timeout must be >= 0")
	}

	// Refresh
	if c.Refresh.Interval <= 0 {
		return errors.New("Refresh Interval must be > 0")
	}
	if c.Refresh.EarlyCheckDelay < 0 {
		return errors.New("Refresh EarlyCheckDelay must be >= 0")
	}
	if c.Refresh.FailureThreshold < 1 {
		return errors.New("Refresh FailureThreshold must be >= 1")
	}
	if c.Refresh.CallTimeout <= 0 {
		return errors.New("Refresh CallTimeout must be > 0")
	}

	// Privilege
	if c.Privilege.CacheTTL <= 0 {
		return errors.New("Privilege CacheTTL must be > 0")
	}
	if c.Privilege.ResolveTimeout <= 0 {
		return errors.New("Privilege ResolveTimeout must be > 0")
	}
	for _, d := range c.Privilege.OfflineDomains {
		if strings.TrimSpace(strings.TrimPrefix(d, "@")) == "" {
			return errors.New("Privilege OfflineDomains contains an empty domain")
		}
	}

	// Store
	switch c.Store.Backend {
	case "", StoreMemory, StoreRedis:
	case StoreBolt:
		if c.Store.BoltPath == "" {
			return errors.New("Store BoltPath is required for the bolt backend")
		}
	default:
		return errors.New("Store Backend must be memory, redis or bolt")
	}

	// Events
	if c.Events.BufferSize <= 0 {
		return errors.New("Events BufferSize must be > 0")
	}

	return nil
}

// isOffline reports whether email belongs to the offline account class.
func (c *Config) isOffline(email string) bool {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return false
	}
	for _, e := range c.Privilege.OfflineEmails {
		if strings.EqualFold(strings.TrimSpace(e), email) {
			return true
		}
	}
	at := strings.LastIndexByte(email, '@')
	if at < 0 {
		return false
	}
	domain := email[at+1:]
	for _, d := range c.Privilege.OfflineDomains {
		if strings.EqualFold(strings.TrimPrefix(strings.TrimSpace(d), "@"), domain) {
			return true
		}
	}
	return false
}
