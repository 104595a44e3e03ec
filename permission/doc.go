// Package permission resolves a role identifier into the privileges, modules
// and routes it grants.
//
// # Resolution order
//
// [Resolver.Resolve] consults, in order, a role-keyed cache with a fixed TTL,
// the remote privilege source, and finally the compiled-in [Table]. The
// fallback never fails: an unknown role resolves to empty sets, which deny
// everything.
//
// Routes are never fetched remotely. They are derived from the module ids of
// a resolution using the table's per-module route lists.
//
// # Architecture boundaries
//
// The cache is process-wide and keyed only by role id, so every session with
// the same role shares one entry. It outlives sessions and is cleared only by
// [Resolver.Invalidate] and [Resolver.InvalidateAll].
//
// # What this package must NOT do
//
//   - Import goSession, gateway or credential.
//   - Return remote errors to callers.
//   - Cache a static fallback result.
package permission
