package goSession

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrEthical07/goSession/credential"
	"github.com/MrEthical07/goSession/gateway"
	"github.com/MrEthical07/goSession/jwt"
	"github.com/MrEthical07/goSession/permission"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type fakeUser struct {
	password string
	profile  gateway.Profile
}

// fakeGateway is an in-memory auth service. Gates, when set, block the
// matching call until closed.
type fakeGateway struct {
	issuer *jwt.Issuer

	mu          sync.Mutex
	users       map[string]*fakeUser
	sessions    map[string]string // access token -> email
	refreshes   map[string]string // refresh token -> email
	revoked     map[string]bool   // access tokens answered with 401
	loginGate   chan struct{}
	profileGate chan struct{}
	refreshGate chan struct{}
	profileErr  error
	refreshErr  error
	rotate      bool
	seq         int

	loginCalls   atomic.Int32
	profileCalls atomic.Int32
	refreshCalls atomic.Int32
	inFlight     atomic.Int32
	maxInFlight  atomic.Int32
}

func newFakeGateway(t testing.TB) *fakeGateway {
	t.Helper()
	issuer, err := jwt.NewIssuer(jwt.Config{
		AccessTTL: 15 * time.Minute,
		Secret:    []byte("test-secret-0123456789"),
		Issuer:    "fake-auth",
	})
	require.NoError(t, err)

	g := &fakeGateway{
		issuer:    issuer,
		users:     make(map[string]*fakeUser),
		sessions:  make(map[string]string),
		refreshes: make(map[string]string),
		revoked:   make(map[string]bool),
	}
	g.addUser("admin@example.com", "s3cret", 1, false)
	g.addUser("planner@example.com", "s3cret", 2, false)
	g.addUser("root@example.com", "s3cret", 1, true)
	return g
}

func (g *fakeGateway) addUser(email, password string, roleID int, superuser bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	id := len(g.users) + 1
	g.users[email] = &fakeUser{
		password: password,
		profile: gateway.Profile{
			ID:               gateway.ID(strconv.Itoa(id)),
			Email:            email,
			FirstName:        "Test",
			LastName:         fmt.Sprintf("User%d", id),
			IsSuperUser:      superuser,
			Role:             []gateway.Role{{ID: roleID, RoleName: fmt.Sprintf("role-%d", roleID)}},
			OrganisationName: "Example Freight",
			Status:           "active",
		},
	}
}

func (g *fakeGateway) setRole(email string, roleID int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.users[email].profile.Role = []gateway.Role{{ID: roleID, RoleName: fmt.Sprintf("role-%d", roleID)}}
}

func (g *fakeGateway) set(fn func(g *fakeGateway)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	fn(g)
}

func (g *fakeGateway) issueLocked(email string) (string, error) {
	u := g.users[email]
	role, _ := u.profile.PrimaryRole()
	access, _, err := g.issuer.Issue(string(u.profile.ID), email, role.ID)
	if err != nil {
		return "", err
	}
	g.sessions[access] = email
	return access, nil
}

func wait(ctx context.Context, gate chan struct{}) error {
	if gate == nil {
		return nil
	}
	select {
	case <-gate:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", gateway.ErrNetworkUnavailable, ctx.Err())
	}
}

func (g *fakeGateway) Login(ctx context.Context, email, password string) (gateway.Tokens, error) {
	g.loginCalls.Add(1)
	g.mu.Lock()
	gate := g.loginGate
	g.mu.Unlock()
	if err := wait(ctx, gate); err != nil {
		return gateway.Tokens{}, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	u, ok := g.users[email]
	if !ok || u.password != password {
		return gateway.Tokens{}, fmt.Errorf("%w: status 401", gateway.ErrInvalidCredentials)
	}
	access, err := g.issueLocked(email)
	if err != nil {
		return gateway.Tokens{}, err
	}
	g.seq++
	refresh := fmt.Sprintf("refresh-%d", g.seq)
	g.refreshes[refresh] = email
	return gateway.Tokens{Access: access, Refresh: refresh}, nil
}

func (g *fakeGateway) RefreshWithRotation(ctx context.Context, refreshToken string) (string, string, error) {
	g.refreshCalls.Add(1)
	n := g.inFlight.Add(1)
	defer g.inFlight.Add(-1)
	for {
		max := g.maxInFlight.Load()
		if n <= max || g.maxInFlight.CompareAndSwap(max, n) {
			break
		}
	}

	g.mu.Lock()
	gate, failure := g.refreshGate, g.refreshErr
	g.mu.Unlock()
	if err := wait(ctx, gate); err != nil {
		return "", "", err
	}
	if failure != nil {
		return "", "", failure
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	email, ok := g.refreshes[refreshToken]
	if !ok {
		return "", "", fmt.Errorf("%w: status 401", gateway.ErrRefreshRejected)
	}
	g.seq++
	access, err := g.issueLocked(email)
	if err != nil {
		return "", "", err
	}
	if !g.rotate {
		return access, "", nil
	}
	rotated := fmt.Sprintf("refresh-%d", g.seq)
	delete(g.refreshes, refreshToken)
	g.refreshes[rotated] = email
	return access, rotated, nil
}

func (g *fakeGateway) Profile(ctx context.Context, accessToken string) (gateway.Profile, error) {
	g.profileCalls.Add(1)
	g.mu.Lock()
	gate, failure := g.profileGate, g.profileErr
	g.mu.Unlock()
	if err := wait(ctx, gate); err != nil {
		return gateway.Profile{}, err
	}
	if failure != nil {
		return gateway.Profile{}, failure
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	email, ok := g.sessions[accessToken]
	if !ok || g.revoked[accessToken] {
		return gateway.Profile{}, fmt.Errorf("%w: status 401", gateway.ErrUnauthorized)
	}
	return g.users[email].profile, nil
}

// fakeSource is a privilege service. Calls block on gate when it is set.
type fakeSource struct {
	mu      sync.Mutex
	gate    chan struct{}
	fail    bool
	grants  map[int][]permission.ModuleGrant
	calls   atomic.Int32
	started chan struct{}
}

func unreachableSource() *fakeSource {
	return &fakeSource{fail: true}
}

func (s *fakeSource) ListPrivileges(ctx context.Context, roleID int) ([]permission.ModuleGrant, error) {
	s.calls.Add(1)
	s.mu.Lock()
	gate, fail, started := s.gate, s.fail, s.started
	grants := s.grants[roleID]
	s.mu.Unlock()

	if started != nil {
		select {
		case started <- struct{}{}:
		default:
		}
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if fail {
		return nil, fmt.Errorf("%w: connection refused", gateway.ErrNetworkUnavailable)
	}
	return grants, nil
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Refresh.Interval = time.Hour
	cfg.Refresh.EarlyCheckDelay = 0
	cfg.Refresh.CallTimeout = 5 * time.Second
	cfg.Privilege.ResolveTimeout = 5 * time.Second
	return cfg
}

type engineOpts struct {
	cfg    Config
	store  credential.Store
	source permission.RemoteSource
	caches []SessionCache
	logger *zerolog.Logger
	now    func() time.Time
}

func newTestEngine(t testing.TB, gw AuthGateway, mutate ...func(*engineOpts)) *Engine {
	t.Helper()
	o := &engineOpts{cfg: testConfig(), source: unreachableSource()}
	for _, fn := range mutate {
		fn(o)
	}

	b := New().WithConfig(o.cfg).WithGateway(gw).WithPrivilegeSource(o.source)
	if o.store != nil {
		b.WithStore(o.store)
	}
	if o.logger != nil {
		b.WithLogger(*o.logger)
	}
	for _, c := range o.caches {
		b.WithSessionCache(c)
	}
	if o.now != nil {
		b.withClock(o.now)
	}
	e, err := b.Build()
	require.NoError(t, err)
	t.Cleanup(e.Close)
	return e
}

func login(t testing.TB, e *Engine, email string) {
	t.Helper()
	require.NoError(t, e.Login(context.Background(), email, "s3cret"))
}

func waitRBAC(t testing.TB, e *Engine) Session {
	t.Helper()
	require.Eventually(t, func() bool {
		return e.CurrentSession().RBACInitialized
	}, 2*time.Second, 5*time.Millisecond)
	return e.CurrentSession()
}

// collect drains events from ch until none arrives for a short while.
func collect(ch <-chan Event) []Event {
	var out []Event
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-time.After(100 * time.Millisecond):
			return out
		}
	}
}

// flushEvents waits until every event emitted so far has been delivered.
func flushEvents(t *testing.T, e *Engine) {
	t.Helper()
	marker := uuid.NewString()
	seen := make(chan struct{})
	unsubscribe := e.events.subscribe(func(ev Event) {
		if ev.ID == marker {
			close(seen)
		}
	})
	defer unsubscribe()

	e.events.emit(context.Background(), Event{ID: marker})
	select {
	case <-seen:
	case <-time.After(2 * time.Second):
		t.Fatal("event dispatcher did not drain")
	}
}

func kinds(events []Event) []EventKind {
	out := make([]EventKind, len(events))
	for i, ev := range events {
		out[i] = ev.Kind
	}
	return out
}

func staticResolution(roleID int) permission.Resolution {
	return permission.NewResolver(nil, nil).Resolve(context.Background(), permission.Request{RoleID: roleID})
}
