package gateway

import (
	"context"

	"github.com/MrEthical07/goSession/permission"
)

// TokenFunc returns the current access token for bearer calls.
type TokenFunc func(ctx context.Context) (string, error)

// PrivilegeSource adapts the client into a permission.RemoteSource that
// authenticates with whatever token tokenFn returns at call time.
func (c *Client) PrivilegeSource(tokenFn TokenFunc) permission.RemoteSource {
	return permission.RemoteSourceFunc(func(ctx context.Context, roleID int) ([]permission.ModuleGrant, error) {
		token, err := tokenFn(ctx)
		if err != nil {
			return nil, err
		}
		groups, err := c.ListPrivileges(ctx, token, roleID)
		if err != nil {
			return nil, err
		}
		grants := make([]permission.ModuleGrant, len(groups))
		for i, g := range groups {
			grants[i] = permission.ModuleGrant{ModuleID: g.ModuleID, Privileges: g.Privileges}
		}
		return grants, nil
	})
}
