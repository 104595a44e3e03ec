package goSession

import (
	"context"

	"github.com/MrEthical07/goSession/gateway"
)

// AuthGateway is the remote auth service as seen by the engine.
// [*gateway.Client] satisfies it.
//
//	Docs: gateway/doc.go
type AuthGateway interface {
	Login(ctx context.Context, email, password string) (gateway.Tokens, error)
	RefreshWithRotation(ctx context.Context, refreshToken string) (access, rotated string, err error)
	Profile(ctx context.Context, accessToken string) (gateway.Profile, error)
}

// SessionCache clears data scoped to the signed-in user. Registered caches
// run on every logout, after credentials are cleared. Role-keyed privilege
// caches are shared across users and are not session caches.
type SessionCache func(ctx context.Context) error

var _ AuthGateway = (*gateway.Client)(nil)
