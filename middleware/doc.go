// Package middleware exposes HTTP guards that gate handlers on the
// privileges of the local goSession.Engine session.
//
// # Guards
//
//   - [RequireSession]: any active session.
//   - [RequirePrivilege]: a named privilege.
//   - [RequireModule]: an accessible module id.
//   - [RequireRoute]: the request path matches an accessible route pattern.
//
// A missing or inactive session answers 401; a session lacking access
// answers 403. Passing requests carry the session copy, retrievable with
// goSession.SessionFromContext.
//
// # What this package must NOT do
//
//   - Call the remote backend (the engine owns all I/O).
//   - Mutate the session.
package middleware
