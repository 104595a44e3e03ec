// Package credential persists the access token, the refresh token and a
// last-known-good user snapshot for one authenticated process.
//
// # Storage layout
//
// Every backend stores the same stable keys: "auth_token" (the access token
// with its "Bearer " prefix), "refresh_token", and "user_snapshot" (JSON).
// Issue time and access-token expiry travel alongside the pair.
//
// # Architecture boundaries
//
// This package is pure storage. It does NOT talk to the auth server, decide
// when tokens are refreshed, or interpret privileges; those responsibilities
// belong to the Engine.
//
// # What this package must NOT do
//
//   - Import goSession, gateway or permission (no upward imports).
//   - Expose a partially written [TokenPair] to a reader.
//   - Log token values.
package credential
