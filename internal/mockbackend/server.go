package mockbackend

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/goSession/internal/rate"
	"github.com/MrEthical07/goSession/jwt"
	"github.com/MrEthical07/goSession/permission"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
)

// DefaultPassword is the password of the seeded demo accounts.
const DefaultPassword = "s3cret"

// User is an account known to the backend.
type User struct {
	ID                string
	Email             string
	Password          string
	FirstName         string
	LastName          string
	RoleID            int
	RoleName          string
	SuperUser         bool
	Organisation      string
	Status            string
	AssignedCustomers []int
}

type account struct {
	User
	hash      []byte
	lastLogin time.Time
}

// Config configures a Server.
type Config struct {
	Secret        []byte
	AccessTTL     time.Duration
	RotateRefresh bool
	// Roles supplies the privilege grants served by /privilege/list.
	// Defaults to the compiled-in role table.
	Roles   *permission.Table
	Limiter *rate.Limiter
	// Logger defaults to a no-op logger.
	Logger *zerolog.Logger
	// BcryptCost defaults to bcrypt.MinCost.
	BcryptCost int
}

// Stats counts handled requests per endpoint.
type Stats struct {
	Logins         int64
	LoginFailures  int64
	Refreshes      int64
	Profiles       int64
	PrivilegeLists int64
}

// Server is an in-process implementation of the remote auth API. It is safe
// for concurrent use.
type Server struct {
	issuer  *jwt.Issuer
	roles   *permission.Table
	limiter *rate.Limiter
	logger  zerolog.Logger
	cost    int
	router  chi.Router

	mu       sync.RWMutex
	byEmail  map[string]*account
	byID     map[string]*account
	refresh  map[string]string
	grants   map[int][]permission.ModuleGrant
	rotate   bool
	statuses map[string]int
	delay    time.Duration

	logins         atomic.Int64
	loginFailures  atomic.Int64
	refreshes      atomic.Int64
	profiles       atomic.Int64
	privilegeLists atomic.Int64
}

var errDuplicateUser = errors.New("user already exists")

// New builds a Server with no accounts.
func New(cfg Config) (*Server, error) {
	if len(cfg.Secret) == 0 {
		cfg.Secret = []byte(uuid.NewString() + uuid.NewString())
	}
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = 15 * time.Minute
	}
	if cfg.Roles == nil {
		cfg.Roles = permission.DefaultTable()
	}
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = bcrypt.MinCost
	}

	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	issuer, err := jwt.NewIssuer(jwt.Config{
		AccessTTL: cfg.AccessTTL,
		Secret:    cfg.Secret,
		Issuer:    "mockbackend",
	})
	if err != nil {
		return nil, fmt.Errorf("mockbackend: %w", err)
	}

	s := &Server{
		issuer:   issuer,
		roles:    cfg.Roles,
		limiter:  cfg.Limiter,
		logger:   logger,
		cost:     cfg.BcryptCost,
		byEmail:  make(map[string]*account),
		byID:     make(map[string]*account),
		refresh:  make(map[string]string),
		grants:   make(map[int][]permission.ModuleGrant),
		rotate:   cfg.RotateRefresh,
		statuses: make(map[string]int),
	}
	s.router = s.buildRouter()
	return s, nil
}

// NewDemo returns a Server seeded with [DemoUsers].
func NewDemo(cfg Config) (*Server, error) {
	s, err := New(cfg)
	if err != nil {
		return nil, err
	}
	for _, u := range DemoUsers() {
		if err := s.AddUser(u); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// DemoUsers are an administrator, a planner and a superuser, all with
// [DefaultPassword].
func DemoUsers() []User {
	return []User{
		{ID: "1", Email: "admin@example.com", Password: DefaultPassword, FirstName: "Ada", LastName: "Admin", RoleID: 1, RoleName: "Administrator", Organisation: "Example Logistics", Status: "active", AssignedCustomers: []int{1, 2}},
		{ID: "2", Email: "planner@example.com", Password: DefaultPassword, FirstName: "Pat", LastName: "Planner", RoleID: 2, RoleName: "Planner", Organisation: "Example Logistics", Status: "active", AssignedCustomers: []int{2}},
		{ID: "3", Email: "root@example.com", Password: DefaultPassword, FirstName: "Root", RoleID: 1, RoleName: "Administrator", SuperUser: true, Organisation: "Example Logistics", Status: "active"},
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// AddUser registers u. The password is stored as a bcrypt hash.
func (s *Server) AddUser(u User) error {
	email := normalizeEmail(u.Email)
	if email == "" || u.Password == "" {
		return errors.New("mockbackend: email and password are required")
	}
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(u.Password), s.cost)
	if err != nil {
		return fmt.Errorf("mockbackend: hash password: %w", err)
	}
	u.Password = ""

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byEmail[email]; ok {
		return fmt.Errorf("mockbackend: %s: %w", email, errDuplicateUser)
	}
	if _, ok := s.byID[u.ID]; ok {
		return fmt.Errorf("mockbackend: id %s: %w", u.ID, errDuplicateUser)
	}
	a := &account{User: u, hash: hash}
	s.byEmail[email] = a
	s.byID[u.ID] = a
	return nil
}

// SetRole changes the role reported by the profile of email.
func (s *Server) SetRole(email string, roleID int, roleName string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.byEmail[normalizeEmail(email)]
	if !ok {
		return false
	}
	a.RoleID = roleID
	a.RoleName = roleName
	return true
}

// SetGrants overrides the privileges served for roleID.
func (s *Server) SetGrants(roleID int, grants []permission.ModuleGrant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.grants[roleID] = grants
}

// SetRotateRefresh toggles refresh-token rotation.
func (s *Server) SetRotateRefresh(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rotate = on
}

// FailWith forces every request to path to answer status. Zero clears it.
func (s *Server) FailWith(path string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if status == 0 {
		delete(s.statuses, path)
		return
	}
	s.statuses[path] = status
}

// SetDelay makes every handler sleep for d before answering.
func (s *Server) SetDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delay = d
}

// RevokeRefreshTokens invalidates every refresh token issued so far.
func (s *Server) RevokeRefreshTokens() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refresh = make(map[string]string)
}

// IssueAccess signs an access token for the account behind email.
func (s *Server) IssueAccess(email string) (string, error) {
	s.mu.RLock()
	a, ok := s.byEmail[normalizeEmail(email)]
	s.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("mockbackend: unknown user %s", email)
	}
	token, _, err := s.issuer.Issue(a.ID, a.Email, a.RoleID)
	return token, err
}

// Stats returns request counters.
func (s *Server) Stats() Stats {
	return Stats{
		Logins:         s.logins.Load(),
		LoginFailures:  s.loginFailures.Load(),
		Refreshes:      s.refreshes.Load(),
		Profiles:       s.profiles.Load(),
		PrivilegeLists: s.privilegeLists.Load(),
	}
}

func (s *Server) grantsFor(roleID int) []permission.ModuleGrant {
	s.mu.RLock()
	g, ok := s.grants[roleID]
	s.mu.RUnlock()
	if !ok {
		g = s.roles.Grants(roleID)
	}
	out := append([]permission.ModuleGrant(nil), g...)
	sort.Slice(out, func(i, j int) bool { return out[i].ModuleID < out[j].ModuleID })
	return out
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
