// Package rate provides Redis fixed-window counters used by the mock auth
// backend to throttle credential exchanges and token refreshes.
//
// # Window semantics
//
// INCR plus a conditional EXPIRE on the first hit. Key prefixes, after the
// configured namespace:
//   - al:  failed logins per account
//   - ali: failed logins per address
//   - ar:  refreshes per user
//
// A nil *Limiter allows everything.
package rate
