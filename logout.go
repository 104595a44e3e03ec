package goSession

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/MrEthical07/goSession/credential"
	"github.com/rs/zerolog"
)

// anyEpoch makes a logout apply to whichever session is current.
const anyEpoch = 0

// logoutCoordinator runs teardowns one at a time.
type logoutCoordinator struct {
	engine *Engine
	logger zerolog.Logger

	mu sync.Mutex
}

// logout tears down the session of epoch, or the current one for anyEpoch.
// It reports whether a teardown ran.
//
// Steps run in a fixed order and a failing step never prevents the next:
// begin, stop scheduler, clear credentials, reset record, clear session
// caches, then events.
func (c *logoutCoordinator) logout(ctx context.Context, reason LogoutReason, redirect bool, epoch uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.engine
	if ctx == nil {
		ctx = context.Background()
	}

	// begin
	e.txMu.Lock()
	if epoch != anyEpoch && e.epochLocked() != epoch {
		e.txMu.Unlock()
		return false
	}
	e.mu.RLock()
	state := e.rec.State
	e.mu.RUnlock()
	if state == StateUnauthenticated && !c.persisted(ctx) {
		e.txMu.Unlock()
		return false
	}
	e.mu.Lock()
	next := e.rec.Epoch + 1
	e.rec.Epoch = next
	e.rec.State = StateLoggingOut
	e.mu.Unlock()
	e.txMu.Unlock()

	c.logger.Info().Str("reason", string(reason)).Str("from", state.String()).Msg("logout started")

	// scheduler
	e.refresher.stop()

	// credentials
	e.txMu.Lock()
	if err := e.store.Clear(ctx); err != nil {
		c.logger.Error().Err(err).Msg("logout: clear credentials failed")
	}
	e.txMu.Unlock()

	// record
	e.mu.Lock()
	e.rec.reset(next)
	e.mu.Unlock()

	// session caches
	for i, cache := range e.caches {
		if err := clearCache(ctx, cache); err != nil {
			c.logger.Error().Err(err).Int("cache", i).Msg("logout: clear session cache failed")
		}
	}

	e.metrics.Inc(MetricLogout)
	e.emit(ctx, Event{Kind: EventSessionChanged, State: StateUnauthenticated, Epoch: next, Reason: reason})
	if redirect {
		e.emit(ctx, Event{Kind: EventNavigateSignIn, State: StateUnauthenticated, Epoch: next, Reason: reason})
	}
	return true
}

// persisted reports whether anything is left in the credential store. A
// store that cannot answer counts as non-empty so teardown still runs.
func (c *logoutCoordinator) persisted(ctx context.Context) bool {
	store := c.engine.store
	_, err := store.Load(ctx)
	if err == nil || !errors.Is(err, credential.ErrNoTokens) {
		return true
	}
	_, err = store.LoadSnapshot(ctx)
	return err == nil || !errors.Is(err, credential.ErrNoSnapshot)
}

func clearCache(ctx context.Context, cache SessionCache) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("session cache panic: %v", r)
		}
	}()
	return cache(ctx)
}
