package goSession

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// LintSeverity ranks configuration warnings.
type LintSeverity uint8

const (
	LintInfo LintSeverity = iota
	LintWarn
	LintHigh
)

func (s LintSeverity) String() string {
	switch s {
	case LintInfo:
		return "INFO"
	case LintWarn:
		return "WARN"
	case LintHigh:
		return "HIGH"
	default:
		return "UNKNOWN"
	}
}

// LintWarning is a valid but questionable setting.
type LintWarning struct {
	Code     string
	Severity LintSeverity
	Message  string
}

// LintResult is the list of warnings produced by Config.Lint.
type LintResult []LintWarning

// Codes returns the warning codes in order.
func (r LintResult) Codes() []string {
	out := make([]string, len(r))
	for i, w := range r {
		out[i] = w.Code
	}
	return out
}

// BySeverity returns warnings at or above min.
func (r LintResult) BySeverity(min LintSeverity) LintResult {
	var out LintResult
	for _, w := range r {
		if w.Severity >= min {
			out = append(out, w)
		}
	}
	return out
}

// AsError returns an error listing warnings at or above min, or nil.
func (r LintResult) AsError(min LintSeverity) error {
	hits := r.BySeverity(min)
	if len(hits) == 0 {
		return nil
	}
	msgs := make([]string, len(hits))
	for i, w := range hits {
		msgs[i] = fmt.Sprintf("[%s] %s: %s", w.Severity, w.Code, w.Message)
	}
	return fmt.Errorf("config lint: %s", strings.Join(msgs, "; "))
}

// Lint reports settings that validate but are likely mistakes.
func (c *Config) Lint() LintResult {
	var ws LintResult
	add := func(code string, sev LintSeverity, msg string) {
		ws = append(ws, LintWarning{Code: code, Severity: sev, Message: msg})
	}

	if u, err := url.Parse(c.Gateway.BaseURL); err == nil && u.Scheme == "http" && !isLoopback(u.Hostname()) {
		add("gateway_plain_http", LintHigh, "credentials and tokens would cross the network unencrypted")
	}
	if c.Refresh.EarlyCheckDelay >= c.Refresh.Interval && c.Refresh.EarlyCheckDelay > 0 {
		add("early_check_after_interval", LintWarn, "the early refresh check fires after the first regular tick")
	}
	if c.Refresh.FailureThreshold > 3 {
		add("refresh_threshold_lenient", LintWarn, "a dead refresh token may go unnoticed for several intervals")
	}
	if c.Refresh.CallTimeout >= c.Refresh.Interval {
		add("refresh_timeout_exceeds_interval", LintWarn, "a hung refresh call outlives the refresh interval")
	}
	if c.Privilege.CacheTTL > 30*time.Minute {
		add("privilege_ttl_long", LintWarn, "role edits take a long time to reach live sessions")
	}
	if len(c.Privilege.OfflineEmails) > 0 || len(c.Privilege.OfflineDomains) > 0 {
		add("offline_accounts", LintInfo, "some accounts always resolve privileges from the static table")
	}
	if c.Events.DropIfFull && c.Events.BufferSize < 16 {
		add("events_buffer_small", LintWarn, "events may be dropped under bursts")
	}
	if !c.Metrics.Enabled {
		add("metrics_disabled", LintInfo, "engine counters are off")
	}
	if c.Store.Backend == StoreMemory || c.Store.Backend == "" {
		add("store_not_durable", LintInfo, "sessions are lost when the process exits")
	}

	return ws
}

func isLoopback(host string) bool {
	return host == "localhost" || host == "127.0.0.1" || host == "::1"
}
