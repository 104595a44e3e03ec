// Package goSession manages the authenticated session of one user of a
// client application: sign-in against a remote auth service, persisted
// credentials, background access-token refresh, role-based privilege
// resolution and teardown.
//
// Engine methods are safe to call from multiple goroutines after
// initialization through [Builder.Build].
//
// # Architecture boundaries
//
// goSession is the public surface. It exposes [Engine], [Builder], [Config],
// [Session] and [Event]. The sub-packages are usable on their own:
//
//   - credential: token pair and user snapshot persistence (memory, Redis, bbolt)
//   - gateway: HTTP client of the remote auth service
//   - permission: privilege resolver, static role table and route patterns
//   - refresh: non-overlapping periodic loop
//   - middleware: HTTP guards over Engine access checks
//
// # Session epochs
//
// Every sign-in and every logout advances the session epoch. Work started
// under one epoch (a login round-trip, a privilege resolution, a token
// refresh) applies its result only if the epoch is unchanged, so a logout
// always wins over whatever was in flight.
//
// # What this package must NOT do
//
//   - Log tokens or passwords.
//   - Emit events while holding engine locks.
//   - Clear role-keyed privilege caches on logout; they are shared by every
//     user of the role.
//   - Retry ordinary API calls. Only token refresh has a failure policy.
package goSession
