package gateway

import "errors"

var (
	// ErrInvalidCredentials is returned when /token rejects the email/password.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrRefreshRejected is returned when /token/refresh rejects the refresh token.
	ErrRefreshRejected = errors.New("refresh token rejected")
	// ErrUnauthorized is returned when a bearer call is rejected with 401.
	ErrUnauthorized = errors.New("access token rejected")
	// ErrNetworkUnavailable covers transport failures, timeouts and 5xx replies.
	ErrNetworkUnavailable = errors.New("auth service unreachable")
	// ErrUnexpectedStatus is returned for any other non-success status.
	ErrUnexpectedStatus = errors.New("unexpected status from auth service")
	// ErrMalformedResponse is returned when a reply cannot be decoded or lacks required fields.
	ErrMalformedResponse = errors.New("malformed auth service response")
)
