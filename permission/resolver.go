package permission

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultTTL is how long a remote resolution stays fresh.
	DefaultTTL = 5 * time.Minute
	// DefaultTimeout bounds one shared remote call.
	DefaultTimeout = 30 * time.Second
)

// ErrResolutionUnavailable marks a remote failure that was absorbed by the
// static fallback. It reaches observers and logs, never callers.
var ErrResolutionUnavailable = errors.New("privilege resolution unavailable")

// RemoteSource is the authoritative privilege service.
type RemoteSource interface {
	ListPrivileges(ctx context.Context, roleID int) ([]ModuleGrant, error)
}

// RemoteSourceFunc adapts a function to RemoteSource.
type RemoteSourceFunc func(ctx context.Context, roleID int) ([]ModuleGrant, error)

func (f RemoteSourceFunc) ListPrivileges(ctx context.Context, roleID int) ([]ModuleGrant, error) {
	return f(ctx, roleID)
}

// Request asks for the resolution of one role. Offline requests skip the
// remote source.
type Request struct {
	RoleID  int
	Offline bool
}

// Outcome describes one Resolve call for observers.
type Outcome struct {
	RoleID  int
	Source  Source
	Elapsed time.Duration
	// Err is set when the remote source failed and the static table answered.
	Err error
}

// Observer receives one Outcome per Resolve call.
type Observer func(Outcome)

// Option configures a Resolver.
type Option func(*Resolver)

// WithTTL overrides DefaultTTL.
func WithTTL(ttl time.Duration) Option {
	return func(r *Resolver) {
		if ttl > 0 {
			r.ttl = ttl
		}
	}
}

// WithTimeout overrides DefaultTimeout. The shared remote call runs
// detached from the caller that started it and is bounded by this instead.
func WithTimeout(d time.Duration) Option {
	return func(r *Resolver) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithNow overrides the clock.
func WithNow(now func() time.Time) Option {
	return func(r *Resolver) {
		if now != nil {
			r.now = now
		}
	}
}

// WithLogger sets the logger used for fallback warnings.
func WithLogger(l zerolog.Logger) Option {
	return func(r *Resolver) {
		r.logger = l
	}
}

// WithObserver registers an outcome observer.
func WithObserver(o Observer) Option {
	return func(r *Resolver) {
		r.observer = o
	}
}

type cacheEntry struct {
	res Resolution
}

// Resolver resolves roles through the cache, remote and static tiers.
// It is safe for concurrent use.
type Resolver struct {
	table    *Table
	remote   RemoteSource
	ttl      time.Duration
	timeout  time.Duration
	now      func() time.Time
	logger   zerolog.Logger
	observer Observer

	group singleflight.Group

	mu    sync.RWMutex
	cache map[int]cacheEntry
	// gen advances on every invalidation so an in-flight remote result
	// fetched before the invalidation is not cached after it.
	gen map[int]uint64
	all uint64
}

// NewResolver returns a resolver. A nil table selects DefaultTable; a nil
// remote makes every miss fall back to the table.
func NewResolver(table *Table, remote RemoteSource, opts ...Option) *Resolver {
	if table == nil {
		table = DefaultTable()
	}
	r := &Resolver{
		table:   table,
		remote:  remote,
		ttl:     DefaultTTL,
		timeout: DefaultTimeout,
		now:     time.Now,
		logger:  zerolog.Nop(),
		cache:   make(map[int]cacheEntry),
		gen:     make(map[int]uint64),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Table returns the static table backing the fallback.
func (r *Resolver) Table() *Table {
	return r.table
}

// Resolve returns the effective access of req.RoleID. It never fails.
func (r *Resolver) Resolve(ctx context.Context, req Request) Resolution {
	start := r.now()

	if res, ok := r.cached(req.RoleID, start); ok {
		r.observe(Outcome{RoleID: req.RoleID, Source: SourceCache})
		return res
	}

	var remoteErr error
	if !req.Offline && r.remote != nil {
		res, err := r.fetch(ctx, req.RoleID)
		if err == nil {
			r.observe(Outcome{RoleID: req.RoleID, Source: SourceRemote, Elapsed: r.now().Sub(start)})
			return res
		}
		remoteErr = fmt.Errorf("%w: %v", ErrResolutionUnavailable, err)
		r.logger.Warn().
			Err(err).
			Int("role_id", req.RoleID).
			Msg("privilege resolution unavailable, using static role table")
	}

	res := Build(req.RoleID, r.table.Grants(req.RoleID), r.table, SourceStatic, r.now())
	r.observe(Outcome{RoleID: req.RoleID, Source: SourceStatic, Elapsed: r.now().Sub(start), Err: remoteErr})
	return res
}

// Privileges is Resolve narrowed to privilege names.
func (r *Resolver) Privileges(ctx context.Context, req Request) []string {
	return r.Resolve(ctx, req).Privileges
}

// Modules is Resolve narrowed to module ids.
func (r *Resolver) Modules(ctx context.Context, req Request) []int {
	return r.Resolve(ctx, req).ModuleIDs
}

// Routes is Resolve narrowed to route patterns.
func (r *Resolver) Routes(ctx context.Context, req Request) []string {
	return r.Resolve(ctx, req).Routes
}

// Invalidate drops the cache entry of roleID.
func (r *Resolver) Invalidate(roleID int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cache, roleID)
	r.gen[roleID]++
}

// InvalidateAll drops every cache entry.
func (r *Resolver) InvalidateAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache = make(map[int]cacheEntry)
	r.all++
}

// Cached reports whether a fresh entry exists for roleID.
func (r *Resolver) Cached(roleID int) bool {
	_, ok := r.cached(roleID, r.now())
	return ok
}

func (r *Resolver) cached(roleID int, now time.Time) (Resolution, bool) {
	r.mu.RLock()
	entry, ok := r.cache[roleID]
	r.mu.RUnlock()
	if !ok || now.Sub(entry.res.ResolvedAt) >= r.ttl {
		return Resolution{}, false
	}
	res := entry.res.Clone()
	res.Source = SourceCache
	return res, true
}

// fetch calls the remote source, collapsing concurrent misses for the same
// role into one call. The shared call outlives the caller that started it,
// so a short caller deadline does not fail the other waiters.
func (r *Resolver) fetch(ctx context.Context, roleID int) (Resolution, error) {
	ch := r.group.DoChan(strconv.Itoa(roleID), func() (any, error) {
		r.mu.RLock()
		gen, all := r.gen[roleID], r.all
		r.mu.RUnlock()

		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
		defer cancel()
		res, err := r.callRemote(callCtx, roleID)
		if err != nil {
			return nil, err
		}

		r.mu.Lock()
		if r.gen[roleID] == gen && r.all == all {
			r.cache[roleID] = cacheEntry{res: res}
		}
		r.mu.Unlock()
		return res, nil
	})

	select {
	case out := <-ch:
		if out.Err != nil {
			return Resolution{}, out.Err
		}
		return out.Val.(Resolution).Clone(), nil
	case <-ctx.Done():
		return Resolution{}, ctx.Err()
	}
}

func (r *Resolver) callRemote(ctx context.Context, roleID int) (Resolution, error) {
	grants, err := r.remote.ListPrivileges(ctx, roleID)
	if err != nil {
		return Resolution{}, err
	}
	if len(grants) == 0 {
		return Resolution{}, errors.New("remote returned no module grants")
	}
	return Build(roleID, grants, r.table, SourceRemote, r.now()), nil
}

func (r *Resolver) observe(o Outcome) {
	if r.observer != nil {
		r.observer(o)
	}
}
