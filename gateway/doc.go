// Package gateway is the HTTP client for the remote auth service.
//
// It covers four endpoints: credential exchange (POST /token), access token
// refresh (POST /token/refresh), the authenticated user profile
// (GET /user/profile) and role privilege listing (POST /privilege/list).
// The client is stateless; callers own token persistence.
//
// Every failure is reported as one of the package sentinels so callers can
// branch with errors.Is without inspecting status codes.
package gateway
