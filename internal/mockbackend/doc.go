// Package mockbackend is an in-process implementation of the remote auth
// API consumed by goSession: POST /token, POST /token/refresh,
// GET /user/profile and POST /privilege/list.
//
// Passwords are bcrypt hashes, access tokens are HS256 JWTs and refresh
// tokens are opaque UUIDs. Fault knobs ([Server.FailWith],
// [Server.SetDelay], [Server.RevokeRefreshTokens]) drive failure paths in
// tests and in the sessionctl demo server. An optional Redis-backed
// limiter throttles failed logins and refreshes.
package mockbackend
