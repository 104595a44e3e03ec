// Package refresh runs a periodic task that never overlaps with itself.
//
// # Scheduling
//
// A [Loop] fires every interval and once more, out of band, after an early
// delay. Each firing tries to acquire a [Guard]; when the previous run is
// still in flight the firing is skipped, never queued.
//
// # Architecture boundaries
//
// This package knows nothing about tokens. The session engine supplies the
// task and decides, through its return value, when the loop must stop.
//
// # What this package must NOT do
//
//   - Import goSession, gateway or credential.
//   - Cancel a run that is already in flight.
package refresh
