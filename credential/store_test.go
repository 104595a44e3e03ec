package credential

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type backend struct {
	name string
	open func(t *testing.T) Store
}

func backends() []backend {
	return []backend{
		{name: "memory", open: func(*testing.T) Store { return NewMemoryStore() }},
		{name: "redis", open: func(t *testing.T) Store {
			mr := miniredis.RunT(t)
			rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
			t.Cleanup(func() { _ = rdb.Close() })
			return NewRedisStore(rdb, "test")
		}},
		{name: "bolt", open: func(t *testing.T) Store {
			store, err := OpenBoltStore(filepath.Join(t.TempDir(), "creds.db"), nil)
			require.NoError(t, err)
			t.Cleanup(func() { _ = store.Close() })
			return store
		}},
	}
}

func TestStoreRoundTrip(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			store := b.open(t)

			_, err := store.Load(ctx)
			require.ErrorIs(t, err, ErrNoTokens)

			issued := time.Unix(1_700_000_000, 0)
			expires := issued.Add(15 * time.Minute)
			require.NoError(t, store.Save(ctx, TokenPair{
				AccessToken:     "acc-1",
				RefreshToken:    "ref-1",
				IssuedAt:        issued,
				AccessExpiresAt: expires,
			}))

			pair, err := store.Load(ctx)
			require.NoError(t, err)
			assert.Equal(t, "Bearer acc-1", pair.AccessToken)
			assert.Equal(t, "acc-1", pair.RawAccessToken())
			assert.Equal(t, "ref-1", pair.RefreshToken)
			assert.True(t, pair.IssuedAt.Equal(issued))
			assert.True(t, pair.AccessExpiresAt.Equal(expires))
		})
	}
}

func TestStoreRotateAccessKeepsRefreshToken(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			store := b.open(t)

			err := store.RotateAccess(ctx, "acc-2", time.Now(), time.Time{})
			require.ErrorIs(t, err, ErrNoTokens)

			require.NoError(t, store.Save(ctx, TokenPair{AccessToken: "Bearer acc-1", RefreshToken: "ref-1"}))
			require.NoError(t, store.RotateAccess(ctx, "acc-2", time.Now(), time.Time{}))

			pair, err := store.Load(ctx)
			require.NoError(t, err)
			assert.Equal(t, "Bearer acc-2", pair.AccessToken)
			assert.Equal(t, "ref-1", pair.RefreshToken)
			assert.True(t, pair.AccessExpiresAt.IsZero())
		})
	}
}

func TestStoreSnapshotAndClear(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			store := b.open(t)

			_, err := store.LoadSnapshot(ctx)
			require.ErrorIs(t, err, ErrNoSnapshot)

			snap := Snapshot{
				UserID:            "42",
				Email:             "ops@example.com",
				DisplayName:       "Ops User",
				RoleID:            3,
				RoleName:          "Operator",
				AssignedCustomers: []int{7, 9},
				SavedAt:           time.Unix(1_700_000_000, 0).UTC(),
			}
			require.NoError(t, store.Save(ctx, TokenPair{AccessToken: "acc", RefreshToken: "ref"}))
			require.NoError(t, store.SaveSnapshot(ctx, snap))

			got, err := store.LoadSnapshot(ctx)
			require.NoError(t, err)
			assert.Equal(t, snap.UserID, got.UserID)
			assert.Equal(t, snap.RoleID, got.RoleID)
			assert.Equal(t, snap.AssignedCustomers, got.AssignedCustomers)
			assert.True(t, snap.SavedAt.Equal(got.SavedAt))

			require.NoError(t, store.Clear(ctx))
			require.NoError(t, store.Clear(ctx), "clear must be idempotent")

			_, err = store.Load(ctx)
			assert.ErrorIs(t, err, ErrNoTokens)
			_, err = store.LoadSnapshot(ctx)
			assert.ErrorIs(t, err, ErrNoSnapshot)
		})
	}
}

func TestStoreRejectsEmptyTokens(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			store := b.open(t)

			assert.ErrorIs(t, store.Save(ctx, TokenPair{AccessToken: "Bearer ", RefreshToken: "ref"}), ErrInvalidTokenPair)
			assert.ErrorIs(t, store.Save(ctx, TokenPair{AccessToken: "acc"}), ErrInvalidTokenPair)
			assert.ErrorIs(t, store.RotateAccess(ctx, "", time.Now(), time.Time{}), ErrInvalidTokenPair)
		})
	}
}

func TestStoreConcurrentReadersSeeWholePairs(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			store := b.open(t)
			require.NoError(t, store.Save(ctx, TokenPair{AccessToken: "acc-0", RefreshToken: "ref-0"}))

			pairs := []TokenPair{
				{AccessToken: "acc-a", RefreshToken: "ref-a"},
				{AccessToken: "acc-b", RefreshToken: "ref-b"},
			}
			want := map[string]string{
				"Bearer acc-0": "ref-0",
				"Bearer acc-a": "ref-a",
				"Bearer acc-b": "ref-b",
			}

			var wg sync.WaitGroup
			errs := make(chan error, 64)
			for i := 0; i < 4; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					for j := 0; j < 25; j++ {
						if err := store.Save(ctx, pairs[(i+j)%2]); err != nil {
							errs <- err
							return
						}
					}
				}(i)
				wg.Add(1)
				go func() {
					defer wg.Done()
					for j := 0; j < 25; j++ {
						pair, err := store.Load(ctx)
						if err != nil {
							errs <- err
							return
						}
						if want[pair.AccessToken] != pair.RefreshToken {
							errs <- errors.New("torn pair " + pair.AccessToken + "/" + pair.RefreshToken)
							return
						}
					}
				}()
			}
			wg.Wait()
			close(errs)
			for err := range errs {
				t.Fatal(err)
			}
		})
	}
}

func TestRedisStoreKeysShareHashTag(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	store := NewRedisStore(rdb, "console")
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, TokenPair{AccessToken: "a", RefreshToken: "r"}))
	require.NoError(t, store.SaveSnapshot(ctx, Snapshot{Email: "admin@example.com"}))

	keys := mr.Keys()
	require.NotEmpty(t, keys)
	for _, k := range keys {
		assert.True(t, strings.HasPrefix(k, "{console}:"), "key %q outside the hash tag", k)
	}
	access, err := mr.Get("{console}:" + KeyAccessToken)
	require.NoError(t, err)
	assert.Equal(t, "Bearer a", access)
}

func TestRedisStoreUnavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })
	store := NewRedisStore(rdb, "")
	mr.Close()

	ctx := context.Background()
	_, err := store.Load(ctx)
	assert.ErrorIs(t, err, ErrBackendUnavailable)
	assert.ErrorIs(t, store.Save(ctx, TokenPair{AccessToken: "a", RefreshToken: "r"}), ErrBackendUnavailable)
	_, err = store.Ping(ctx)
	assert.ErrorIs(t, err, ErrBackendUnavailable)
}

func TestBearerHelpers(t *testing.T) {
	assert.Equal(t, "Bearer abc", WithBearer("abc"))
	assert.Equal(t, "Bearer abc", WithBearer("Bearer abc"))
	assert.Equal(t, "", WithBearer(""))
	assert.Equal(t, "abc", StripBearer("Bearer abc"))
	assert.Equal(t, "abc", StripBearer("abc"))
}
