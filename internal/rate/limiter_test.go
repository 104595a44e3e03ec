package rate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newLimiter(t *testing.T, cfg Config) (*Limiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return New(rdb, cfg), mr
}

func TestLoginFailuresLockAccount(t *testing.T) {
	l, _ := newLimiter(t, Config{MaxLoginFailures: 3, LoginWindow: time.Minute})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := l.CheckLogin(ctx, "a@example.com", ""); err != nil {
			t.Fatalf("attempt %d: unexpected %v", i, err)
		}
		if err := l.RecordLoginFailure(ctx, "a@example.com", ""); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	if err := l.CheckLogin(ctx, "A@Example.com ", ""); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if err := l.CheckLogin(ctx, "b@example.com", ""); err != nil {
		t.Fatalf("other account should pass, got %v", err)
	}

	if err := l.ResetLogin(ctx, "a@example.com"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if n, _ := l.LoginFailures(ctx, "a@example.com"); n != 0 {
		t.Fatalf("expected 0 failures after reset, got %d", n)
	}
}

func TestLoginWindowExpires(t *testing.T) {
	l, mr := newLimiter(t, Config{MaxLoginFailures: 1, LoginWindow: time.Minute})
	ctx := context.Background()

	_ = l.RecordLoginFailure(ctx, "a@example.com", "")
	if err := l.CheckLogin(ctx, "a@example.com", ""); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected limited, got %v", err)
	}
	mr.FastForward(2 * time.Minute)
	if err := l.CheckLogin(ctx, "a@example.com", ""); err != nil {
		t.Fatalf("expected window reset, got %v", err)
	}
}

func TestIPThrottle(t *testing.T) {
	l, _ := newLimiter(t, Config{MaxLoginFailures: 2, EnableIPThrottle: true})
	ctx := context.Background()

	_ = l.RecordLoginFailure(ctx, "a@example.com", "10.0.0.1")
	_ = l.RecordLoginFailure(ctx, "b@example.com", "10.0.0.1")
	if err := l.CheckLogin(ctx, "c@example.com", "10.0.0.1"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected address limited, got %v", err)
	}
	if err := l.CheckLogin(ctx, "c@example.com", "10.0.0.2"); err != nil {
		t.Fatalf("other address should pass, got %v", err)
	}
}

func TestAllowRefresh(t *testing.T) {
	l, _ := newLimiter(t, Config{MaxRefreshes: 2})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := l.AllowRefresh(ctx, "u-1"); err != nil {
			t.Fatalf("refresh %d: %v", i, err)
		}
	}
	if err := l.AllowRefresh(ctx, "u-1"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected limited, got %v", err)
	}
}

func TestBackendUnavailable(t *testing.T) {
	l, mr := newLimiter(t, Config{MaxLoginFailures: 1})
	mr.Close()

	err := l.RecordLoginFailure(context.Background(), "a@example.com", "")
	if !errors.Is(err, ErrRedisUnavailable) {
		t.Fatalf("expected ErrRedisUnavailable, got %v", err)
	}
}

func TestNilLimiterAllows(t *testing.T) {
	var l *Limiter
	ctx := context.Background()
	if err := l.CheckLogin(ctx, "a", ""); err != nil {
		t.Fatal(err)
	}
	if err := l.AllowRefresh(ctx, "a"); err != nil {
		t.Fatal(err)
	}
}
