package jwt

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrNotJWT is returned by Inspect for opaque (non-JWT) tokens.
var ErrNotJWT = errors.New("token is not a JWT")

// AccessClaims are the claims carried by access tokens issued by the remote
// auth service.
type AccessClaims struct {
	UserID string `json:"user_id,omitempty"`
	Email  string `json:"email,omitempty"`
	RoleID int    `json:"role_id,omitempty"`
	jwt.RegisteredClaims
}

// TokenInfo is the unverified view of an access token.
type TokenInfo struct {
	Subject   string
	UserID    string
	RoleID    int
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// ExpiresWithin reports whether the token expires within d of now. Tokens
// without an exp claim never expire from the client's point of view.
func (i TokenInfo) ExpiresWithin(now time.Time, d time.Duration) bool {
	if i.ExpiresAt.IsZero() {
		return false
	}
	return !now.Add(d).Before(i.ExpiresAt)
}

// Inspect decodes token claims without verifying the signature. A leading
// "Bearer " prefix is tolerated.
func Inspect(token string) (TokenInfo, error) {
	token = strings.TrimSpace(strings.TrimPrefix(token, "Bearer "))
	if strings.Count(token, ".") != 2 {
		return TokenInfo{}, ErrNotJWT
	}

	claims := &AccessClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return TokenInfo{}, errors.Join(ErrNotJWT, err)
	}

	info := TokenInfo{
		Subject: claims.Subject,
		UserID:  claims.UserID,
		RoleID:  claims.RoleID,
	}
	if claims.IssuedAt != nil {
		info.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		info.ExpiresAt = claims.ExpiresAt.Time
	}
	return info, nil
}
