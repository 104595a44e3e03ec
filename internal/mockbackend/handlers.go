package mockbackend

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/MrEthical07/goSession/internal/rate"
	"github.com/MrEthical07/goSession/jwt"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const maxBodySize = 64 << 10

type claimsKey struct{}

type errorReply struct {
	Detail string `json:"detail"`
}

type roleReply struct {
	ID       int    `json:"id"`
	RoleName string `json:"role_name"`
}

type profileReply struct {
	ID                string      `json:"id"`
	Email             string      `json:"email"`
	FirstName         string      `json:"first_name"`
	LastName          string      `json:"last_name"`
	IsSuperUser       bool        `json:"is_superuser"`
	Role              []roleReply `json:"role"`
	OrganisationName  string      `json:"organisation_name"`
	Status            string      `json:"status"`
	AssignedCustomers []int       `json:"assigned_customers"`
	LastLogin         *time.Time  `json:"last_login,omitempty"`
}

type privilegeName struct {
	PrivilegeName string `json:"privilege_name"`
}

type privilegeGroup struct {
	ModuleID   int             `json:"module_id"`
	Privileges []privilegeName `json:"privileges"`
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(s.faultMiddleware)

	r.Post("/token", s.handleToken)
	r.Post("/token/refresh", s.handleRefresh)

	r.Group(func(r chi.Router) {
		r.Use(s.bearerMiddleware)
		r.Get("/user/profile", s.handleProfile)
		r.Post("/privilege/list", s.handlePrivilegeList)
	})
	return r
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("mock request")
	})
}

// faultMiddleware applies the configured delay and forced status codes.
func (s *Server) faultMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.RLock()
		delay := s.delay
		status := s.statuses[r.URL.Path]
		s.mu.RUnlock()

		if delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-r.Context().Done():
				timer.Stop()
				return
			}
		}
		if status != 0 {
			writeError(w, status, http.StatusText(status))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) bearerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			writeError(w, http.StatusUnauthorized, "authentication credentials were not provided")
			return
		}
		claims, err := s.issuer.Verify(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "token is invalid or expired")
			return
		}
		ctx := context.WithValue(r.Context(), claimsKey{}, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	s.logins.Add(1)

	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "email and password are required")
		return
	}

	ip := remoteIP(r)
	if err := s.limiter.CheckLogin(r.Context(), req.Email, ip); err != nil {
		s.limiterError(w, err)
		return
	}

	s.mu.RLock()
	a, ok := s.byEmail[normalizeEmail(req.Email)]
	s.mu.RUnlock()

	if !ok || bcrypt.CompareHashAndPassword(a.hash, []byte(req.Password)) != nil {
		s.loginFailures.Add(1)
		if err := s.limiter.RecordLoginFailure(r.Context(), req.Email, ip); err != nil {
			s.logger.Warn().Err(err).Msg("record login failure")
		}
		writeError(w, http.StatusUnauthorized, "no active account found with the given credentials")
		return
	}
	if err := s.limiter.ResetLogin(r.Context(), req.Email); err != nil {
		s.logger.Warn().Err(err).Msg("reset login counter")
	}

	access, _, err := s.issuer.Issue(a.ID, a.Email, a.RoleID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "token issuance failed")
		return
	}
	refresh := uuid.NewString()

	s.mu.Lock()
	s.refresh[refresh] = a.ID
	a.lastLogin = time.Now().UTC()
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]string{"access": access, "refresh": refresh})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	s.refreshes.Add(1)

	var req struct {
		Refresh string `json:"refresh"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Refresh == "" {
		writeError(w, http.StatusBadRequest, "refresh is required")
		return
	}

	s.mu.RLock()
	userID, ok := s.refresh[req.Refresh]
	a := s.byID[userID]
	rotate := s.rotate
	s.mu.RUnlock()
	if !ok || a == nil {
		writeError(w, http.StatusUnauthorized, "token is invalid or expired")
		return
	}

	if err := s.limiter.AllowRefresh(r.Context(), userID); err != nil {
		s.limiterError(w, err)
		return
	}

	access, _, err := s.issuer.Issue(a.ID, a.Email, a.RoleID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "token issuance failed")
		return
	}
	reply := map[string]string{"access": access}

	if rotate {
		next := uuid.NewString()
		s.mu.Lock()
		if _, live := s.refresh[req.Refresh]; !live {
			s.mu.Unlock()
			writeError(w, http.StatusUnauthorized, "token is invalid or expired")
			return
		}
		delete(s.refresh, req.Refresh)
		s.refresh[next] = userID
		s.mu.Unlock()
		reply["refresh"] = next
	}

	writeJSON(w, http.StatusOK, reply)
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	s.profiles.Add(1)

	claims := r.Context().Value(claimsKey{}).(*jwt.AccessClaims)
	s.mu.RLock()
	a, ok := s.byID[claims.UserID]
	var reply profileReply
	if ok {
		reply = profileReply{
			ID:                a.ID,
			Email:             a.Email,
			FirstName:         a.FirstName,
			LastName:          a.LastName,
			IsSuperUser:       a.SuperUser,
			Role:              []roleReply{},
			OrganisationName:  a.Organisation,
			Status:            a.Status,
			AssignedCustomers: append([]int{}, a.AssignedCustomers...),
		}
		if a.RoleID != 0 {
			reply.Role = append(reply.Role, roleReply{ID: a.RoleID, RoleName: a.RoleName})
		}
		if !a.lastLogin.IsZero() {
			last := a.lastLogin
			reply.LastLogin = &last
		}
	}
	s.mu.RUnlock()

	if !ok {
		writeError(w, http.StatusUnauthorized, "user not found")
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

func (s *Server) handlePrivilegeList(w http.ResponseWriter, r *http.Request) {
	s.privilegeLists.Add(1)

	var req struct {
		RoleID int `json:"role_id"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.RoleID <= 0 {
		writeError(w, http.StatusBadRequest, "role_id is required")
		return
	}

	grants := s.grantsFor(req.RoleID)
	results := make([]privilegeGroup, 0, len(grants))
	for _, g := range grants {
		group := privilegeGroup{ModuleID: g.ModuleID, Privileges: make([]privilegeName, 0, len(g.Privileges))}
		for _, p := range g.Privileges {
			group.Privileges = append(group.Privileges, privilegeName{PrivilegeName: p})
		}
		results = append(results, group)
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (s *Server) limiterError(w http.ResponseWriter, err error) {
	if errors.Is(err, rate.ErrRateLimited) {
		writeError(w, http.StatusTooManyRequests, "too many attempts")
		return
	}
	s.logger.Error().Err(err).Msg("rate limiter unavailable")
	writeError(w, http.StatusServiceUnavailable, "service unavailable")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, out any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err := dec.Decode(out); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // client may have gone away
		json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, errorReply{Detail: detail})
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
