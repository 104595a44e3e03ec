package credential

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "gs"

const rotateAccessScript = `
if redis.call("EXISTS", KEYS[2]) == 0 then
  return 0
end
redis.call("SET", KEYS[1], ARGV[1])
redis.call("SET", KEYS[3], ARGV[2])
redis.call("SET", KEYS[4], ARGV[3])
return 1
`

var rotateAccessLua = redis.NewScript(rotateAccessScript)

// RedisStore persists credentials in Redis under a key prefix, for processes
// that share a session across restarts or hosts.
type RedisStore struct {
	redis  redis.UniversalClient
	prefix string

	writeMu sync.Mutex
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore returns a Redis-backed store. An empty prefix selects "gs".
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisStore{
		redis:  client,
		prefix: prefix,
	}
}

// key wraps the prefix in a hash tag so every credential key lands in one
// Cluster slot, which MGET, MULTI and the rotate script require.
func (s *RedisStore) key(name string) string {
	return "{" + s.prefix + "}:" + name
}

// Save writes the whole pair in one MULTI/EXEC transaction.
func (s *RedisStore) Save(ctx context.Context, pair TokenPair) error {
	pair, err := normalizePair(pair)
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key(KeyAccessToken), pair.AccessToken, 0)
		pipe.Set(ctx, s.key(KeyRefreshToken), pair.RefreshToken, 0)
		pipe.Set(ctx, s.key(keyIssuedAt), encodeTime(pair.IssuedAt), 0)
		pipe.Set(ctx, s.key(keyAccessExpires), encodeTime(pair.AccessExpiresAt), 0)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return nil
}

// RotateAccess replaces the access token only if a refresh token exists.
func (s *RedisStore) RotateAccess(ctx context.Context, accessToken string, issuedAt, expiresAt time.Time) error {
	if StripBearer(accessToken) == "" {
		return ErrInvalidTokenPair
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	keys := []string{
		s.key(KeyAccessToken),
		s.key(KeyRefreshToken),
		s.key(keyIssuedAt),
		s.key(keyAccessExpires),
	}
	updated, err := rotateAccessLua.Run(ctx, s.redis, keys,
		WithBearer(accessToken),
		encodeTime(issuedAt),
		encodeTime(expiresAt),
	).Int64()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	if updated == 0 {
		return ErrNoTokens
	}
	return nil
}

// Load reads all pair fields with a single MGET so the result is consistent.
func (s *RedisStore) Load(ctx context.Context) (TokenPair, error) {
	values, err := s.redis.MGet(ctx,
		s.key(KeyAccessToken),
		s.key(KeyRefreshToken),
		s.key(keyIssuedAt),
		s.key(keyAccessExpires),
	).Result()
	if err != nil {
		return TokenPair{}, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	access, _ := values[0].(string)
	refresh, _ := values[1].(string)
	if access == "" || refresh == "" {
		return TokenPair{}, ErrNoTokens
	}
	issued, _ := values[2].(string)
	expires, _ := values[3].(string)

	return TokenPair{
		AccessToken:     access,
		RefreshToken:    refresh,
		IssuedAt:        decodeTime(issued),
		AccessExpiresAt: decodeTime(expires),
	}, nil
}

// SaveSnapshot writes the user snapshot as JSON.
func (s *RedisStore) SaveSnapshot(ctx context.Context, snap Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.redis.Set(ctx, s.key(KeySnapshot), data, 0).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return nil
}

// LoadSnapshot reads the user snapshot, or ErrNoSnapshot when none is stored.
func (s *RedisStore) LoadSnapshot(ctx context.Context) (Snapshot, error) {
	data, err := s.redis.Get(ctx, s.key(KeySnapshot)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Snapshot{}, ErrNoSnapshot
		}
		return Snapshot{}, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("decode user snapshot: %w", err)
	}
	return snap, nil
}

// Clear deletes every credential key. Deleting absent keys is not an error.
func (s *RedisStore) Clear(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	err := s.redis.Del(ctx,
		s.key(KeyAccessToken),
		s.key(KeyRefreshToken),
		s.key(keyIssuedAt),
		s.key(keyAccessExpires),
		s.key(KeySnapshot),
	).Err()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return nil
}

// Ping reports Redis availability and round-trip latency.
func (s *RedisStore) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return time.Since(start), fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return time.Since(start), nil
}

func encodeTime(t time.Time) string {
	if t.IsZero() {
		return "0"
	}
	return strconv.FormatInt(t.UnixNano(), 10)
}

func decodeTime(v string) time.Time {
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}
