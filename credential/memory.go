package credential

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps credentials in process memory. It is the default store
// and the one used by tests.
type MemoryStore struct {
	mu       sync.RWMutex
	pair     *TokenPair
	snapshot *Snapshot
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Save replaces the stored pair.
func (s *MemoryStore) Save(_ context.Context, pair TokenPair) error {
	pair, err := normalizePair(pair)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.pair = &pair
	return nil
}

// RotateAccess replaces the access token and keeps the refresh token.
func (s *MemoryStore) RotateAccess(_ context.Context, accessToken string, issuedAt, expiresAt time.Time) error {
	if StripBearer(accessToken) == "" {
		return ErrInvalidTokenPair
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pair == nil {
		return ErrNoTokens
	}
	next := *s.pair
	next.AccessToken = WithBearer(accessToken)
	next.IssuedAt = issuedAt
	next.AccessExpiresAt = expiresAt
	s.pair = &next
	return nil
}

// Load returns the stored pair, or ErrNoTokens.
func (s *MemoryStore) Load(context.Context) (TokenPair, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.pair == nil {
		return TokenPair{}, ErrNoTokens
	}
	return *s.pair, nil
}

// SaveSnapshot stores a copy of snap.
func (s *MemoryStore) SaveSnapshot(_ context.Context, snap Snapshot) error {
	snap = cloneSnapshot(snap)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot = &snap
	return nil
}

// LoadSnapshot returns a copy of the stored snapshot, or ErrNoSnapshot.
func (s *MemoryStore) LoadSnapshot(context.Context) (Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.snapshot == nil {
		return Snapshot{}, ErrNoSnapshot
	}
	return cloneSnapshot(*s.snapshot), nil
}

// Clear drops the pair and the snapshot.
func (s *MemoryStore) Clear(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pair = nil
	s.snapshot = nil
	return nil
}
