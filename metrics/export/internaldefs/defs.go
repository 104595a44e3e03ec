package internaldefs

import (
	goSession "github.com/MrEthical07/goSession"
)

// CounterDef names one engine counter.
type CounterDef struct {
	ID   goSession.MetricID
	Name string
	Help string
}

// HistogramDef names one engine latency histogram.
type HistogramDef struct {
	ID   goSession.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported engine counter.
var CounterDefs = []CounterDef{
	{ID: goSession.MetricLoginSuccess, Name: "gosession_login_success_total", Help: "Successful logins."},
	{ID: goSession.MetricLoginFailure, Name: "gosession_login_failure_total", Help: "Failed logins."},
	{ID: goSession.MetricLoginSuperseded, Name: "gosession_login_superseded_total", Help: "Logins discarded because a logout overtook them."},
	{ID: goSession.MetricProfileUnavailable, Name: "gosession_profile_unavailable_total", Help: "Logins whose profile fetch failed after tokens were issued."},
	{ID: goSession.MetricRestoreSuccess, Name: "gosession_restore_success_total", Help: "Sessions restored from persisted credentials."},
	{ID: goSession.MetricRestoreFailure, Name: "gosession_restore_failure_total", Help: "Failed session restores."},
	{ID: goSession.MetricRefreshSuccess, Name: "gosession_refresh_success_total", Help: "Successful access-token refreshes."},
	{ID: goSession.MetricRefreshFailure, Name: "gosession_refresh_failure_total", Help: "Failed access-token refreshes."},
	{ID: goSession.MetricRefreshSkipped, Name: "gosession_refresh_skipped_total", Help: "Refreshes skipped because one was in flight."},
	{ID: goSession.MetricRefreshDiscarded, Name: "gosession_refresh_discarded_total", Help: "Refresh results discarded after the session changed."},
	{ID: goSession.MetricPrivilegeCacheHit, Name: "gosession_privilege_cache_hit_total", Help: "Privilege resolutions served from cache."},
	{ID: goSession.MetricPrivilegeRemote, Name: "gosession_privilege_remote_total", Help: "Privilege resolutions served by the privilege service."},
	{ID: goSession.MetricPrivilegeFallback, Name: "gosession_privilege_fallback_total", Help: "Privilege resolutions served by the static role table."},
	{ID: goSession.MetricPrivilegeApplied, Name: "gosession_privilege_applied_total", Help: "Privilege resolutions applied to the session."},
	{ID: goSession.MetricPrivilegeDiscarded, Name: "gosession_privilege_discarded_total", Help: "Stale privilege resolutions discarded."},
	{ID: goSession.MetricLogout, Name: "gosession_logout_total", Help: "Session teardowns."},
	{ID: goSession.MetricSessionExpired, Name: "gosession_session_expired_total", Help: "Sessions ended by a fatal refresh failure."},
}

// HistogramDefs lists every exported latency histogram.
var HistogramDefs = []HistogramDef{
	{ID: goSession.MetricRefreshLatency, Name: "gosession_refresh_latency_seconds", Help: "Refresh call latency."},
	{ID: goSession.MetricPrivilegeLatency, Name: "gosession_privilege_latency_seconds", Help: "Uncached privilege resolution latency."},
}

// DroppedEventsName is the counter of events dropped by the dispatcher.
const (
	DroppedEventsName = "gosession_events_dropped_total"
	DroppedEventsHelp = "Events dropped due to dispatcher backpressure."
)

// HistogramBounds are the upper bounds, in seconds, of every bucket but the last.
var HistogramBounds = []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}

// HistogramBoundSuffix names each bucket, +Inf included, for exporters that
// model buckets as separate instruments.
var HistogramBoundSuffix = []string{
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"1",
	"2_5",
	"5",
	"inf",
}

// NormalizeBuckets pads or truncates raw to the fixed bucket count.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
