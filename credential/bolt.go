package credential

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.etcd.io/bbolt"
)

var credentialsBucket = []byte("credentials")

// BoltStore persists credentials in a local bbolt file. Each write is one
// bbolt transaction, so a crash never leaves a half-written pair behind.
type BoltStore struct {
	db *bbolt.DB

	writeMu sync.Mutex
}

var _ Store = (*BoltStore)(nil)

// NewBoltStore wraps an open bbolt database.
func NewBoltStore(db *bbolt.DB) (*BoltStore, error) {
	err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(credentialsBucket)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("create credentials bucket: %w", err)
	}
	return &BoltStore{db: db}, nil
}

// OpenBoltStore opens (or creates) the bbolt file at path. With nil
// options it waits at most one second for the file lock held by another
// process.
func OpenBoltStore(path string, options *bbolt.Options) (*BoltStore, error) {
	if options == nil {
		options = &bbolt.Options{Timeout: time.Second}
	}
	db, err := bbolt.Open(path, 0o600, options)
	if err != nil {
		return nil, fmt.Errorf("opening bbolt db: %w", err)
	}
	store, err := NewBoltStore(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Save writes the whole pair in one bolt transaction.
func (s *BoltStore) Save(_ context.Context, pair TokenPair) error {
	pair, err := normalizePair(pair)
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(credentialsBucket)
		return putAll(b, map[string]string{
			KeyAccessToken:   pair.AccessToken,
			KeyRefreshToken:  pair.RefreshToken,
			keyIssuedAt:      encodeTime(pair.IssuedAt),
			keyAccessExpires: encodeTime(pair.AccessExpiresAt),
		})
	})
}

// RotateAccess replaces the access token if a refresh token is stored.
func (s *BoltStore) RotateAccess(_ context.Context, accessToken string, issuedAt, expiresAt time.Time) error {
	if StripBearer(accessToken) == "" {
		return ErrInvalidTokenPair
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(credentialsBucket)
		if len(b.Get([]byte(KeyRefreshToken))) == 0 {
			return ErrNoTokens
		}
		return putAll(b, map[string]string{
			KeyAccessToken:   WithBearer(accessToken),
			keyIssuedAt:      encodeTime(issuedAt),
			keyAccessExpires: encodeTime(expiresAt),
		})
	})
}

// Load reads the pair in one read transaction, or returns ErrNoTokens.
func (s *BoltStore) Load(context.Context) (TokenPair, error) {
	var pair TokenPair
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(credentialsBucket)
		access := string(b.Get([]byte(KeyAccessToken)))
		refresh := string(b.Get([]byte(KeyRefreshToken)))
		if access == "" || refresh == "" {
			return ErrNoTokens
		}
		pair = TokenPair{
			AccessToken:     access,
			RefreshToken:    refresh,
			IssuedAt:        decodeTime(string(b.Get([]byte(keyIssuedAt)))),
			AccessExpiresAt: decodeTime(string(b.Get([]byte(keyAccessExpires)))),
		}
		return nil
	})
	if err != nil {
		return TokenPair{}, err
	}
	return pair, nil
}

// SaveSnapshot writes the user snapshot as JSON.
func (s *BoltStore) SaveSnapshot(_ context.Context, snap Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(credentialsBucket).Put([]byte(KeySnapshot), data)
	})
}

// LoadSnapshot reads the user snapshot, or ErrNoSnapshot when none is stored.
func (s *BoltStore) LoadSnapshot(context.Context) (Snapshot, error) {
	var snap Snapshot
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(credentialsBucket).Get([]byte(KeySnapshot))
		if data == nil {
			return ErrNoSnapshot
		}
		if err := json.Unmarshal(data, &snap); err != nil {
			return fmt.Errorf("decode user snapshot: %w", err)
		}
		return nil
	})
	if err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

// Clear deletes every credential key.
func (s *BoltStore) Clear(context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(credentialsBucket)
		for _, k := range []string{KeyAccessToken, KeyRefreshToken, keyIssuedAt, keyAccessExpires, KeySnapshot} {
			if err := b.Delete([]byte(k)); err != nil {
				return err
			}
		}
		return nil
	})
}

func putAll(b *bbolt.Bucket, values map[string]string) error {
	for k, v := range values {
		if err := b.Put([]byte(k), []byte(v)); err != nil {
			return err
		}
	}
	return nil
}
