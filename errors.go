package goSession

import (
	"errors"
	"fmt"

	"github.com/MrEthical07/goSession/gateway"
	"github.com/MrEthical07/goSession/permission"
)

var (
	// ErrInvalidCredentials is returned by Login when the auth service rejects the email/password.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrProfileUnavailable is returned when tokens were issued but the profile could not be fetched.
	// Tokens stay persisted; Restore retries without credentials.
	ErrProfileUnavailable = errors.New("profile unavailable")
	// ErrRefreshRejected is returned when the auth service rejects the refresh token.
	ErrRefreshRejected = errors.New("refresh rejected")
	// ErrNetworkUnavailable is returned when the auth service cannot be reached.
	ErrNetworkUnavailable = errors.New("network unavailable")
	// ErrPrivilegeResolutionUnavailable is logged when privileges fall back to the static table.
	// It is never returned to callers.
	ErrPrivilegeResolutionUnavailable = permission.ErrResolutionUnavailable
	// ErrInvalidState is returned when an operation is not valid in the current lifecycle state.
	ErrInvalidState = errors.New("operation not valid in current session state")
	// ErrSessionSuperseded is returned when a logout or new login overtook an in-flight operation.
	ErrSessionSuperseded = errors.New("session superseded")
	// ErrRoleMismatch is returned when a resolution targets a role other than the session's.
	ErrRoleMismatch = errors.New("resolution role does not match session role")
	// ErrNoSession is returned by Restore when nothing is persisted.
	ErrNoSession = errors.New("no persisted session")
	// ErrSessionExpired is returned when persisted credentials are no longer accepted.
	ErrSessionExpired = errors.New("session expired")
	// ErrRefreshInFlight is returned by RefreshAccessToken when another refresh is running.
	ErrRefreshInFlight = errors.New("refresh already in flight")
	// ErrCredentialStore wraps failures of the credential store.
	ErrCredentialStore = errors.New("credential store failure")
	// ErrEngineNotReady is returned by methods called on a nil engine.
	ErrEngineNotReady = errors.New("engine not initialized")
	// ErrEngineClosed is returned after Close.
	ErrEngineClosed = errors.New("engine closed")
)

// mapGatewayError translates gateway sentinels into the engine taxonomy while
// keeping the original error in the chain.
func mapGatewayError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrInvalidCredentials), errors.Is(err, ErrRefreshRejected), errors.Is(err, ErrNetworkUnavailable):
		return err
	case errors.Is(err, gateway.ErrInvalidCredentials):
		return fmt.Errorf("%w: %w", ErrInvalidCredentials, err)
	case errors.Is(err, gateway.ErrRefreshRejected):
		return fmt.Errorf("%w: %w", ErrRefreshRejected, err)
	case errors.Is(err, gateway.ErrNetworkUnavailable):
		return fmt.Errorf("%w: %w", ErrNetworkUnavailable, err)
	default:
		return err
	}
}

// fatalRefreshError reports whether a refresh failure ends the session
// regardless of the failure threshold.
func fatalRefreshError(err error) bool {
	return errors.Is(err, ErrRefreshRejected) ||
		errors.Is(err, gateway.ErrMalformedResponse) ||
		errors.Is(err, gateway.ErrUnexpectedStatus)
}
