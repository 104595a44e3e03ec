package goSession

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/goSession/credential"
	"github.com/MrEthical07/goSession/refresh"
	"github.com/rs/zerolog"
)

// refreshScheduler keeps the access token of the current session fresh. One
// loop runs per established session; the guard is shared with manual
// refreshes so no two refresh calls overlap.
type refreshScheduler struct {
	engine *Engine
	guard  *refresh.Guard
	logger zerolog.Logger

	mu   sync.Mutex
	loop *refresh.Loop
	run  *schedulerRun
}

// schedulerRun is the per-session state of one loop.
type schedulerRun struct {
	epoch    uint64
	failures atomic.Int32
	fatal    sync.Once
}

// start replaces any running loop with one bound to epoch. Callers hold
// the engine's txMu so a concurrent logout cannot miss the new loop.
func (s *refreshScheduler) start(epoch uint64) {
	e := s.engine

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.loop != nil {
		s.loop.Stop()
	}

	run := &schedulerRun{epoch: epoch}
	s.run = run
	s.loop = refresh.New(
		func(ctx context.Context) bool {
			stop, _ := s.attempt(ctx, run)
			return stop
		},
		refresh.WithInterval(e.config.Refresh.Interval),
		refresh.WithEarlyTick(e.config.Refresh.EarlyCheckDelay),
		refresh.WithGuard(s.guard),
		refresh.WithSkipHook(func() {
			e.metrics.Inc(MetricRefreshSkipped)
			s.logger.Debug().Msg("refresh tick skipped, previous refresh still in flight")
		}),
	)
	s.loop.Start(e.baseCtx)
}

// stop halts the current loop and returns it so the caller may wait on it.
// An in-flight refresh completes and is discarded by the epoch check.
func (s *refreshScheduler) stop() *refresh.Loop {
	s.mu.Lock()
	defer s.mu.Unlock()

	loop := s.loop
	if loop != nil {
		loop.Stop()
	}
	s.loop = nil
	s.run = nil
	return loop
}

func (s *refreshScheduler) current() *schedulerRun {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.run
}

// refreshNow runs one refresh outside the loop, sharing its guard.
func (s *refreshScheduler) refreshNow(ctx context.Context) error {
	run := s.current()
	if run == nil {
		return fmt.Errorf("%w: no active session to refresh", ErrInvalidState)
	}
	if !s.guard.TryAcquire() {
		s.engine.metrics.Inc(MetricRefreshSkipped)
		return ErrRefreshInFlight
	}
	defer s.guard.Release()

	_, err := s.attempt(ctx, run)
	return err
}

// attempt performs one refresh and applies the failure policy. It reports
// whether the loop should stop.
func (s *refreshScheduler) attempt(ctx context.Context, run *schedulerRun) (bool, error) {
	e := s.engine
	if ctx.Err() != nil {
		return true, ctx.Err()
	}

	callCtx, cancel := context.WithTimeout(ctx, e.config.Refresh.CallTimeout)
	err := e.refreshOnce(callCtx, run.epoch)
	cancel()

	switch {
	case err == nil:
		run.failures.Store(0)
		return false, nil
	case errors.Is(err, ErrSessionSuperseded):
		e.metrics.Inc(MetricRefreshDiscarded)
		return true, err
	case errors.Is(err, ErrNoSession):
		s.logger.Info().Msg("no tokens persisted, refresh scheduler stopped")
		return true, err
	case errors.Is(err, ErrInvalidState):
		return false, err
	case errors.Is(err, ErrCredentialStore):
		s.logger.Warn().Err(err).Msg("refresh skipped, credential store unavailable")
		return false, err
	case ctx.Err() != nil:
		// engine closing
		return true, err
	}

	n := int(run.failures.Add(1))
	if fatalRefreshError(err) || n >= e.config.Refresh.FailureThreshold {
		s.logger.Warn().Err(err).Int("failures", n).Msg("refresh failed, ending session")
		s.expire(ctx, run)
		return true, err
	}
	s.logger.Warn().Err(err).Int("failures", n).Msg("refresh failed, will retry on next tick")
	return false, err
}

// expire ends the session of run exactly once: EventSessionExpired first,
// then a logout limited to the run's epoch.
func (s *refreshScheduler) expire(ctx context.Context, run *schedulerRun) {
	e := s.engine
	run.fatal.Do(func() {
		if e.ready() != nil || e.currentEpoch() != run.epoch {
			return
		}
		ctx = context.WithoutCancel(ctx)
		e.metrics.Inc(MetricSessionExpired)
		e.mu.RLock()
		state := e.rec.State
		e.mu.RUnlock()
		e.emit(ctx, Event{
			Kind:    EventSessionExpired,
			State:   state,
			Epoch:   run.epoch,
			Reason:  LogoutExpired,
			Message: e.config.Logout.ExpiredNotice,
		})
		e.logouts.logout(ctx, LogoutExpired, e.config.Logout.RedirectOnLogout, run.epoch)
	})
}

// RefreshAccessToken exchanges the stored refresh token for a new access
// token now, with the same failure policy as the background refresh. It
// returns ErrRefreshInFlight when a refresh is already running.
func (e *Engine) RefreshAccessToken(ctx context.Context) error {
	if err := e.ready(); err != nil {
		return err
	}
	return e.refresher.refreshNow(ctx)
}

// refreshOnce performs one refresh call for epoch.
func (e *Engine) refreshOnce(ctx context.Context, epoch uint64) error {
	pair, err := e.store.Load(ctx)
	if err != nil {
		if errors.Is(err, credential.ErrNoTokens) {
			return fmt.Errorf("%w: %w", ErrNoSession, err)
		}
		return fmt.Errorf("%w: %w", ErrCredentialStore, err)
	}

	if err := e.setRefreshing(epoch, true); err != nil {
		return err
	}

	start := time.Now()
	access, rotated, err := e.gateway.RefreshWithRotation(ctx, pair.RefreshToken)
	e.metrics.Observe(MetricRefreshLatency, time.Since(start))
	if err != nil {
		e.metrics.Inc(MetricRefreshFailure)
		_ = e.setRefreshing(epoch, false)
		return mapGatewayError(err)
	}

	next := e.tokenPair(access, pair.RefreshToken)
	if rotated != "" {
		next.RefreshToken = rotated
	}
	if err := e.persistRotation(ctx, epoch, next, rotated != ""); err != nil {
		_ = e.setRefreshing(epoch, false)
		return err
	}

	e.mu.Lock()
	if e.rec.Epoch == epoch {
		e.rec.AccessTokenExpiresAt = next.AccessExpiresAt
		if e.rec.State == StateRefreshing {
			e.rec.State = StateAuthenticated
		}
	}
	state := e.rec.State
	e.mu.Unlock()

	e.metrics.Inc(MetricRefreshSuccess)
	e.emit(ctx, Event{Kind: EventAccessTokenRotated, State: state, Epoch: epoch})
	return nil
}

// setRefreshing moves the record between Authenticated and Refreshing.
func (e *Engine) setRefreshing(epoch uint64, on bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.rec.Epoch != epoch {
		return ErrSessionSuperseded
	}
	from, to := StateAuthenticated, StateRefreshing
	if !on {
		from, to = StateRefreshing, StateAuthenticated
	}
	if e.rec.State != from || !canTransition(from, to) {
		return fmt.Errorf("%w: refresh while %s", ErrInvalidState, e.rec.State)
	}
	e.rec.State = to
	return nil
}
