// Package jwt reads the claims of access tokens held by a session and issues
// HS256 access tokens for the in-process mock backend.
//
// Clients never hold the server's verification key, so [Inspect] decodes
// claims without verifying the signature. Its results drive refresh timing
// only and must never be used as an authorization decision.
package jwt
