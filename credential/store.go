package credential

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Stable storage keys shared by every backend.
const (
	KeyAccessToken  = "auth_token"
	KeyRefreshToken = "refresh_token"
	KeySnapshot     = "user_snapshot"

	keyIssuedAt      = "issued_at"
	keyAccessExpires = "access_expires_at"
)

// BearerPrefix is prepended to the stored access token.
const BearerPrefix = "Bearer "

var (
	// ErrNoTokens is returned when no token pair is persisted.
	ErrNoTokens = errors.New("no tokens persisted")
	// ErrNoSnapshot is returned when no user snapshot is persisted.
	ErrNoSnapshot = errors.New("no user snapshot persisted")
	// ErrBackendUnavailable wraps transport failures of remote backends.
	ErrBackendUnavailable = errors.New("credential backend unavailable")
	// ErrInvalidTokenPair is returned when Save is called with an empty token.
	ErrInvalidTokenPair = errors.New("invalid token pair")
)

// TokenPair is the persisted access/refresh token pair.
//
// AccessToken always carries [BearerPrefix] once it has been through a Store.
type TokenPair struct {
	AccessToken     string
	RefreshToken    string
	IssuedAt        time.Time
	AccessExpiresAt time.Time
}

// RawAccessToken returns the access token without its bearer prefix.
func (p TokenPair) RawAccessToken() string {
	return StripBearer(p.AccessToken)
}

// Snapshot is the last-known-good user profile used to hydrate a UI before
// the profile re-fetch completes.
type Snapshot struct {
	UserID            string    `json:"user_id"`
	Email             string    `json:"email"`
	DisplayName       string    `json:"display_name"`
	RoleID            int       `json:"role_id"`
	RoleName          string    `json:"role_name,omitempty"`
	IsSuperUser       bool      `json:"is_superuser"`
	Organisation      string    `json:"organisation_name,omitempty"`
	Status            string    `json:"status,omitempty"`
	AssignedCustomers []int     `json:"assigned_customers,omitempty"`
	SavedAt           time.Time `json:"saved_at"`
}

// Store is the durable key/value persistence for one process's credentials.
//
// Implementations serialize writes and never let a reader observe a
// half-written pair.
type Store interface {
	Save(ctx context.Context, pair TokenPair) error
	RotateAccess(ctx context.Context, accessToken string, issuedAt, expiresAt time.Time) error
	Load(ctx context.Context) (TokenPair, error)
	SaveSnapshot(ctx context.Context, snap Snapshot) error
	LoadSnapshot(ctx context.Context) (Snapshot, error)
	Clear(ctx context.Context) error
}

// WithBearer returns token with exactly one bearer prefix.
func WithBearer(token string) string {
	if token == "" {
		return ""
	}
	return BearerPrefix + StripBearer(token)
}

// StripBearer removes a leading bearer prefix if present.
func StripBearer(value string) string {
	return strings.TrimPrefix(value, BearerPrefix)
}

func normalizePair(pair TokenPair) (TokenPair, error) {
	if StripBearer(pair.AccessToken) == "" || pair.RefreshToken == "" {
		return TokenPair{}, ErrInvalidTokenPair
	}
	pair.AccessToken = WithBearer(pair.AccessToken)
	if pair.IssuedAt.IsZero() {
		pair.IssuedAt = time.Now()
	}
	return pair, nil
}

func cloneSnapshot(s Snapshot) Snapshot {
	if s.AssignedCustomers != nil {
		s.AssignedCustomers = append([]int(nil), s.AssignedCustomers...)
	}
	return s
}
