package goSession

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/MrEthical07/goSession/credential"
	"github.com/MrEthical07/goSession/gateway"
	"github.com/MrEthical07/goSession/jwt"
	"github.com/MrEthical07/goSession/permission"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// restoreExpirySkew is how close to expiry a stored access token may be
// before Restore refreshes it without trying it first.
const restoreExpirySkew = 30 * time.Second

// Engine owns the session of one signed-in user: its lifecycle state, its
// persisted credentials, its resolved privileges and the background refresh.
//
// Engine methods are safe for concurrent use. Every operation that changes
// who is signed in advances the session epoch; results computed for an older
// epoch are discarded instead of applied.
type Engine struct {
	config    Config
	logger    zerolog.Logger
	store     credential.Store
	gateway   AuthGateway
	resolver  *permission.Resolver
	events    *eventDispatcher
	metrics   *Metrics
	refresher *refreshScheduler
	logouts   *logoutCoordinator
	caches    []SessionCache
	closers   []io.Closer
	now       func() time.Time

	baseCtx context.Context
	cancel  context.CancelFunc

	// txMu serializes epoch changes with credential writes. Lock order is
	// txMu then mu.
	txMu sync.Mutex
	mu   sync.RWMutex
	rec  record
	// privSeq is the ticket of the latest privilege resolution issued.
	// Guarded by mu.
	privSeq uint64

	lifeMu sync.RWMutex
	closed bool
	async  sync.WaitGroup
}

/*
====================================
LOGIN / RESTORE
====================================
*/

// Login authenticates with the auth service and establishes a session.
//
// Login is only valid while unauthenticated. Privileges are resolved in the
// background; the session is usable for identity immediately and for access
// checks once RBACInitialized is set. If a logout overtakes the call, nothing
// is persisted and ErrSessionSuperseded is returned.
func (e *Engine) Login(ctx context.Context, email, password string) error {
	if err := e.ready(); err != nil {
		return err
	}

	epoch, err := e.begin(ctx)
	if err != nil {
		return err
	}

	tokens, err := e.gateway.Login(ctx, email, password)
	if err != nil {
		e.metrics.Inc(MetricLoginFailure)
		if !e.abort(ctx, epoch) {
			return ErrSessionSuperseded
		}
		return mapGatewayError(err)
	}

	pair := e.tokenPair(tokens.Access, tokens.Refresh)
	if err := e.persistTokens(ctx, epoch, pair); err != nil {
		e.abort(ctx, epoch)
		return e.loginError(err)
	}

	profile, err := e.gateway.Profile(ctx, pair.RawAccessToken())
	if err != nil {
		e.metrics.Inc(MetricProfileUnavailable)
		if !e.abort(ctx, epoch) {
			return e.loginError(ErrSessionSuperseded)
		}
		e.logger.Warn().Err(err).Msg("profile unavailable after login, tokens kept for restore")
		return fmt.Errorf("%w: %w", ErrProfileUnavailable, mapGatewayError(err))
	}

	if err := e.establish(ctx, epoch, profile, pair); err != nil {
		return e.loginError(err)
	}
	e.metrics.Inc(MetricLoginSuccess)
	return nil
}

func (e *Engine) loginError(err error) error {
	if errors.Is(err, ErrSessionSuperseded) {
		e.metrics.Inc(MetricLoginSuperseded)
	} else {
		e.metrics.Inc(MetricLoginFailure)
	}
	return err
}

// Restore re-establishes a session from persisted credentials, as on process
// start or after Login returned ErrProfileUnavailable.
//
// The stored user snapshot, when present, is loaded first and marked
// Hydrated so callers can render identity before the profile re-fetch
// completes. An access token that is expired, or that the auth service no
// longer accepts, is refreshed once; if that fails the credentials are
// cleared and ErrSessionExpired is returned.
func (e *Engine) Restore(ctx context.Context) error {
	if err := e.ready(); err != nil {
		return err
	}

	epoch, err := e.begin(ctx)
	if err != nil {
		return err
	}

	pair, err := e.store.Load(ctx)
	if err != nil {
		e.metrics.Inc(MetricRestoreFailure)
		e.abort(ctx, epoch)
		if errors.Is(err, credential.ErrNoTokens) {
			return ErrNoSession
		}
		return fmt.Errorf("%w: %w", ErrCredentialStore, err)
	}

	if snap, err := e.store.LoadSnapshot(ctx); err == nil {
		if e.hydrate(epoch, snap, pair) {
			e.emitChanged(ctx, "")
		}
	} else if !errors.Is(err, credential.ErrNoSnapshot) {
		e.logger.Warn().Err(err).Msg("user snapshot unreadable, restoring without hydration")
	}

	var profile gateway.Profile
	if e.accessExpiring(pair) {
		pair, profile, err = e.restoreWithRefresh(ctx, epoch, pair)
	} else {
		profile, err = e.gateway.Profile(ctx, pair.RawAccessToken())
		if errors.Is(err, gateway.ErrUnauthorized) {
			pair, profile, err = e.restoreWithRefresh(ctx, epoch, pair)
		}
	}
	if err != nil {
		e.metrics.Inc(MetricRestoreFailure)
		if !e.abort(ctx, epoch) {
			return ErrSessionSuperseded
		}
		if errors.Is(err, ErrSessionExpired) {
			e.clearCredentials(ctx, epoch)
			return err
		}
		if errors.Is(err, ErrSessionSuperseded) || errors.Is(err, ErrCredentialStore) {
			return err
		}
		return fmt.Errorf("%w: %w", ErrProfileUnavailable, mapGatewayError(err))
	}

	if err := e.establish(ctx, epoch, profile, pair); err != nil {
		e.metrics.Inc(MetricRestoreFailure)
		return err
	}
	e.metrics.Inc(MetricRestoreSuccess)
	return nil
}

// accessExpiring reports whether the stored access token is expired or
// about to be, so Restore refreshes before the profile call instead of
// after its 401.
func (e *Engine) accessExpiring(pair credential.TokenPair) bool {
	info, err := jwt.Inspect(pair.RawAccessToken())
	if err != nil {
		return false
	}
	return info.ExpiresWithin(e.now(), restoreExpirySkew)
}

// restoreWithRefresh trades the stored refresh token for a new access token
// and retries the profile once.
func (e *Engine) restoreWithRefresh(ctx context.Context, epoch uint64, pair credential.TokenPair) (credential.TokenPair, gateway.Profile, error) {
	access, rotated, err := e.gateway.RefreshWithRotation(ctx, pair.RefreshToken)
	if err != nil {
		err = mapGatewayError(err)
		if fatalRefreshError(err) {
			return pair, gateway.Profile{}, fmt.Errorf("%w: %w", ErrSessionExpired, err)
		}
		return pair, gateway.Profile{}, err
	}

	next := e.tokenPair(access, pair.RefreshToken)
	if rotated != "" {
		next.RefreshToken = rotated
	}
	if err := e.persistRotation(ctx, epoch, next, rotated != ""); err != nil {
		return pair, gateway.Profile{}, err
	}

	profile, err := e.gateway.Profile(ctx, next.RawAccessToken())
	if errors.Is(err, gateway.ErrUnauthorized) {
		return next, gateway.Profile{}, fmt.Errorf("%w: %w", ErrSessionExpired, err)
	}
	return next, profile, err
}

/*
====================================
PROFILE / PRIVILEGES
====================================
*/

// RefreshProfile re-fetches the profile of the signed-in user. A role change
// clears the current privileges and resolves the new role in the background.
func (e *Engine) RefreshProfile(ctx context.Context) error {
	if err := e.ready(); err != nil {
		return err
	}

	e.mu.RLock()
	epoch, state := e.rec.Epoch, e.rec.State
	e.mu.RUnlock()
	if !state.Active() {
		return fmt.Errorf("%w: refresh profile in state %s", ErrInvalidState, state)
	}

	pair, err := e.store.Load(ctx)
	if err != nil {
		if errors.Is(err, credential.ErrNoTokens) {
			return ErrNoSession
		}
		return fmt.Errorf("%w: %w", ErrCredentialStore, err)
	}

	profile, err := e.gateway.Profile(ctx, pair.RawAccessToken())
	if err != nil {
		return fmt.Errorf("%w: %w", ErrProfileUnavailable, mapGatewayError(err))
	}

	e.txMu.Lock()
	e.mu.Lock()
	if e.rec.Epoch != epoch || !e.rec.State.Active() {
		e.mu.Unlock()
		e.txMu.Unlock()
		return ErrSessionSuperseded
	}
	roleChanged := e.rec.applyProfile(profile)
	var req permission.Request
	var seq uint64
	if roleChanged {
		e.rec.clearPrivileges()
		req, seq = e.privilegeRequestLocked()
	}
	snap := e.rec.snapshot(e.now())
	e.mu.Unlock()
	if err := e.store.SaveSnapshot(ctx, snap); err != nil {
		e.logger.Warn().Err(err).Msg("save user snapshot failed")
	}
	e.txMu.Unlock()

	e.emitChanged(ctx, "")
	if roleChanged {
		e.logger.Info().Int("role_id", req.RoleID).Msg("role changed, resolving privileges")
		e.resolveAsync(epoch, seq, req)
	}
	return nil
}

// ApplyPrivileges merges res into the session. It supersedes any resolution
// still in flight. Applying the same resolution twice is a no-op.
func (e *Engine) ApplyPrivileges(res permission.Resolution) error {
	if e == nil {
		return ErrEngineNotReady
	}

	e.mu.Lock()
	if !e.rec.State.Active() {
		state := e.rec.State
		e.mu.Unlock()
		return fmt.Errorf("%w: apply privileges in state %s", ErrInvalidState, state)
	}
	if res.RoleID != e.rec.RoleID {
		e.mu.Unlock()
		return ErrRoleMismatch
	}
	_, seq := e.privilegeRequestLocked()
	epoch := e.rec.Epoch
	e.mu.Unlock()

	if !e.applyResolution(e.baseCtx, epoch, seq, res) {
		return ErrSessionSuperseded
	}
	return nil
}

// ResolvePrivileges resolves the session role synchronously and applies the
// result. Combined with InvalidateRole it picks up role edits immediately.
func (e *Engine) ResolvePrivileges(ctx context.Context) error {
	if err := e.ready(); err != nil {
		return err
	}

	e.mu.Lock()
	if !e.rec.State.Active() {
		state := e.rec.State
		e.mu.Unlock()
		return fmt.Errorf("%w: resolve privileges in state %s", ErrInvalidState, state)
	}
	req, seq := e.privilegeRequestLocked()
	epoch := e.rec.Epoch
	e.mu.Unlock()

	res := e.resolver.Resolve(ctx, req)
	if !e.applyResolution(ctx, epoch, seq, res) {
		return ErrSessionSuperseded
	}
	return nil
}

// InvalidateRole drops the cached resolution of roleID for every session.
func (e *Engine) InvalidateRole(roleID int) {
	if e == nil {
		return
	}
	e.resolver.Invalidate(roleID)
}

// InvalidateAllRoles drops every cached resolution.
func (e *Engine) InvalidateAllRoles() {
	if e == nil {
		return
	}
	e.resolver.InvalidateAll()
}

// Resolver exposes the privilege resolver for role lookups outside the
// current session.
func (e *Engine) Resolver() *permission.Resolver {
	if e == nil {
		return nil
	}
	return e.resolver
}

/*
====================================
LOGOUT / CLOSE
====================================
*/

// Logout tears the session down. It never fails: each teardown step that
// errors is logged and the remaining steps still run. Logging out without a
// session is a no-op.
func (e *Engine) Logout(ctx context.Context) {
	if e == nil {
		return
	}
	e.logouts.logout(ctx, LogoutUser, e.config.Logout.RedirectOnLogout, anyEpoch)
}

// Close stops background work and releases owned resources. Persisted
// credentials are kept so a later process can Restore.
func (e *Engine) Close() {
	if e == nil {
		return
	}

	e.lifeMu.Lock()
	if e.closed {
		e.lifeMu.Unlock()
		return
	}
	e.closed = true
	e.lifeMu.Unlock()

	loop := e.refresher.stop()
	e.cancel()
	if loop != nil {
		loop.Wait()
	}
	e.async.Wait()
	e.events.Close()

	for _, c := range e.closers {
		if err := c.Close(); err != nil {
			e.logger.Warn().Err(err).Msg("close resource failed")
		}
	}
}

/*
====================================
QUERIES
====================================
*/

// CurrentSession returns a copy of the session record.
func (e *Engine) CurrentSession() Session {
	if e == nil {
		return Session{}
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.rec.Session.clone()
}

// State returns the lifecycle state.
func (e *Engine) State() LifecycleState {
	if e == nil {
		return StateUnauthenticated
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.rec.State
}

// Can reports whether the signed-in user holds privilege. It is false until
// privileges are initialized, except for superusers.
func (e *Engine) Can(privilege string) bool {
	if e == nil {
		return false
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.rec.can(privilege)
}

// IsModuleAccessible reports whether module id is granted to the session.
func (e *Engine) IsModuleAccessible(id int) bool {
	if e == nil {
		return false
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.rec.moduleAccessible(id)
}

// IsRouteAccessible reports whether path matches a route of an accessible
// module.
func (e *Engine) IsRouteAccessible(path string) bool {
	if e == nil {
		return false
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.rec.routeAccessible(path)
}

// Subscribe registers fn for every event. Events are delivered in order on
// one goroutine; fn must not block for long.
func (e *Engine) Subscribe(fn func(Event)) (unsubscribe func()) {
	if e == nil || fn == nil {
		return func() {}
	}
	return e.events.subscribe(fn)
}

// Events returns a channel receiving every event. Events that do not fit in
// buffer are dropped and counted in EventsDropped. cancel closes the channel.
func (e *Engine) Events(buffer int) (<-chan Event, func()) {
	if e == nil {
		ch := make(chan Event)
		close(ch)
		return ch, func() {}
	}
	return e.events.channel(buffer)
}

// EventsDropped returns how many events were dropped.
func (e *Engine) EventsDropped() uint64 {
	if e == nil {
		return 0
	}
	return e.events.Dropped()
}

// MetricsSnapshot returns a copy of the engine counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

/*
====================================
INTERNAL
====================================
*/

func (e *Engine) ready() error {
	if e == nil {
		return ErrEngineNotReady
	}
	e.lifeMu.RLock()
	defer e.lifeMu.RUnlock()
	if e.closed {
		return ErrEngineClosed
	}
	return nil
}

// begin moves an unauthenticated session to Authenticating under a new epoch.
func (e *Engine) begin(ctx context.Context) (uint64, error) {
	e.txMu.Lock()
	e.mu.Lock()
	state := e.rec.State
	if !canTransition(state, StateAuthenticating) {
		e.mu.Unlock()
		e.txMu.Unlock()
		return 0, fmt.Errorf("%w: sign in while %s", ErrInvalidState, state)
	}
	epoch := e.rec.Epoch + 1
	e.rec.reset(epoch)
	e.rec.State = StateAuthenticating
	e.mu.Unlock()
	e.txMu.Unlock()

	e.emitChanged(ctx, "")
	return epoch, nil
}

// abort returns a failed sign-in to Unauthenticated. It reports false when
// the epoch moved on, in which case the record belongs to someone else.
func (e *Engine) abort(ctx context.Context, epoch uint64) bool {
	e.mu.Lock()
	if e.rec.Epoch != epoch {
		e.mu.Unlock()
		return false
	}
	if e.rec.State == StateAuthenticating {
		e.rec.reset(epoch)
	}
	e.mu.Unlock()

	e.emitChanged(ctx, "")
	return true
}

func (e *Engine) hydrate(epoch uint64, snap credential.Snapshot, pair credential.TokenPair) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.rec.Epoch != epoch || e.rec.State != StateAuthenticating {
		return false
	}
	e.rec.applySnapshot(snap)
	e.rec.AccessTokenExpiresAt = pair.AccessExpiresAt
	return true
}

// establish completes a sign-in: the record becomes Authenticated, the
// snapshot is persisted, the scheduler starts and privileges are requested.
func (e *Engine) establish(ctx context.Context, epoch uint64, profile gateway.Profile, pair credential.TokenPair) error {
	e.txMu.Lock()
	e.mu.Lock()
	if e.rec.Epoch != epoch || !canTransition(e.rec.State, StateAuthenticated) {
		e.mu.Unlock()
		e.txMu.Unlock()
		return ErrSessionSuperseded
	}

	now := e.now()
	e.rec.applyProfile(profile)
	e.rec.clearPrivileges()
	e.rec.SessionID = uuid.NewString()
	e.rec.State = StateAuthenticated
	e.rec.AuthenticatedAt = now
	e.rec.AccessTokenExpiresAt = pair.AccessExpiresAt
	req, seq := e.privilegeRequestLocked()
	snap := e.rec.snapshot(now)
	sessionID := e.rec.SessionID
	e.mu.Unlock()

	if err := e.store.SaveSnapshot(ctx, snap); err != nil {
		e.logger.Warn().Err(err).Msg("save user snapshot failed")
	}
	e.refresher.start(epoch)
	e.txMu.Unlock()

	e.logger.Info().
		Str("session_id", sessionID).
		Int("role_id", req.RoleID).
		Bool("offline", req.Offline).
		Msg("session established")
	e.emitChanged(ctx, "")
	e.resolveAsync(epoch, seq, req)
	return nil
}

// privilegeRequestLocked issues the next resolution ticket. Callers hold mu.
func (e *Engine) privilegeRequestLocked() (permission.Request, uint64) {
	e.privSeq++
	return permission.Request{
		RoleID:  e.rec.RoleID,
		Offline: e.config.isOffline(e.rec.Email),
	}, e.privSeq
}

func (e *Engine) resolveAsync(epoch, seq uint64, req permission.Request) {
	e.lifeMu.RLock()
	if e.closed {
		e.lifeMu.RUnlock()
		return
	}
	e.async.Add(1)
	e.lifeMu.RUnlock()

	go func() {
		defer e.async.Done()
		ctx, cancel := context.WithTimeout(e.baseCtx, e.config.Privilege.ResolveTimeout)
		defer cancel()
		res := e.resolver.Resolve(ctx, req)
		e.applyResolution(ctx, epoch, seq, res)
	}()
}

// applyResolution applies res if it answers the latest ticket of the current
// epoch. Late answers to older tickets are discarded.
func (e *Engine) applyResolution(ctx context.Context, epoch, seq uint64, res permission.Resolution) bool {
	e.mu.Lock()
	if e.rec.Epoch != epoch || seq != e.privSeq || !e.rec.State.Active() || res.RoleID != e.rec.RoleID {
		e.mu.Unlock()
		e.metrics.Inc(MetricPrivilegeDiscarded)
		e.logger.Debug().Uint64("ticket", seq).Int("role_id", res.RoleID).Msg("stale privilege resolution discarded")
		return false
	}
	e.rec.applyResolution(res, e.now())
	e.mu.Unlock()

	e.metrics.Inc(MetricPrivilegeApplied)
	e.emitChanged(context.WithoutCancel(ctx), "")
	return true
}

// persistTokens saves pair unless the epoch moved on.
func (e *Engine) persistTokens(ctx context.Context, epoch uint64, pair credential.TokenPair) error {
	e.txMu.Lock()
	defer e.txMu.Unlock()
	if e.epochLocked() != epoch {
		return ErrSessionSuperseded
	}
	if err := e.store.Save(ctx, pair); err != nil {
		return fmt.Errorf("%w: %w", ErrCredentialStore, err)
	}
	return nil
}

// persistRotation stores a refreshed access token. The refresh token is
// replaced only when the auth service rotated it.
func (e *Engine) persistRotation(ctx context.Context, epoch uint64, pair credential.TokenPair, rotated bool) error {
	e.txMu.Lock()
	defer e.txMu.Unlock()
	if e.epochLocked() != epoch {
		return ErrSessionSuperseded
	}

	var err error
	if rotated {
		err = e.store.Save(ctx, pair)
	} else {
		err = e.store.RotateAccess(ctx, pair.AccessToken, pair.IssuedAt, pair.AccessExpiresAt)
	}
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCredentialStore, err)
	}
	return nil
}

func (e *Engine) clearCredentials(ctx context.Context, epoch uint64) {
	e.txMu.Lock()
	defer e.txMu.Unlock()
	if e.epochLocked() != epoch {
		return
	}
	if err := e.store.Clear(ctx); err != nil {
		e.logger.Error().Err(err).Msg("clear credentials failed")
	}
}

// epochLocked reads the epoch. Callers hold txMu or mu; writers hold both.
func (e *Engine) epochLocked() uint64 {
	return e.rec.Epoch
}

func (e *Engine) currentEpoch() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.rec.Epoch
}

func (e *Engine) tokenPair(access, refreshToken string) credential.TokenPair {
	pair := credential.TokenPair{
		AccessToken:  credential.WithBearer(access),
		RefreshToken: refreshToken,
		IssuedAt:     e.now(),
	}
	if info, err := jwt.Inspect(access); err == nil {
		pair.AccessExpiresAt = info.ExpiresAt
	}
	return pair
}

func (e *Engine) emit(ctx context.Context, event Event) {
	if event.At.IsZero() {
		event.At = e.now()
	}
	e.events.emit(ctx, event)
}

func (e *Engine) emitChanged(ctx context.Context, reason LogoutReason) {
	e.mu.RLock()
	state, epoch := e.rec.State, e.rec.Epoch
	e.mu.RUnlock()
	e.emit(ctx, Event{Kind: EventSessionChanged, State: state, Epoch: epoch, Reason: reason})
}
