package goSession

import (
	"time"

	"github.com/MrEthical07/goSession/credential"
	"github.com/MrEthical07/goSession/gateway"
	"github.com/MrEthical07/goSession/permission"
)

// Session is a point-in-time copy of the live session record. Privilege
// fields are meaningful only when RBACInitialized is true.
type Session struct {
	SessionID         string
	UserID            string
	Email             string
	DisplayName       string
	RoleID            int
	RoleName          string
	IsSuperUser       bool
	Organisation      string
	Status            string
	AssignedCustomers []int

	Privileges        []string
	AccessibleModules []int
	AccessibleRoutes  []string
	ModulePrivileges  map[int][]string
	RBACInitialized   bool
	RBACLastUpdatedAt time.Time
	RBACSource        permission.Source

	State                LifecycleState
	AuthenticatedAt      time.Time
	AccessTokenExpiresAt time.Time
	Epoch                uint64
	// Hydrated is set while the record comes from the persisted snapshot and
	// the profile has not been re-fetched yet.
	Hydrated bool
}

func (s Session) clone() Session {
	out := s
	out.AssignedCustomers = append([]int(nil), s.AssignedCustomers...)
	out.Privileges = append([]string(nil), s.Privileges...)
	out.AccessibleModules = append([]int(nil), s.AccessibleModules...)
	out.AccessibleRoutes = append([]string(nil), s.AccessibleRoutes...)
	if s.ModulePrivileges != nil {
		out.ModulePrivileges = make(map[int][]string, len(s.ModulePrivileges))
		for id, privs := range s.ModulePrivileges {
			out.ModulePrivileges[id] = append([]string(nil), privs...)
		}
	}
	return out
}

// record is the engine-owned session plus lookup sets derived from it.
type record struct {
	Session

	privileges map[string]struct{}
	modules    map[int]struct{}
}

func (r *record) reset(epoch uint64) {
	*r = record{Session: Session{State: StateUnauthenticated, Epoch: epoch}}
}

func (r *record) clearPrivileges() {
	r.Privileges = nil
	r.AccessibleModules = nil
	r.AccessibleRoutes = nil
	r.ModulePrivileges = nil
	r.RBACInitialized = false
	r.RBACLastUpdatedAt = time.Time{}
	r.RBACSource = permission.SourceNone
	r.privileges = nil
	r.modules = nil
}

func (r *record) applyResolution(res permission.Resolution, at time.Time) {
	res = res.Clone()
	r.Privileges = res.Privileges
	r.AccessibleModules = res.ModuleIDs
	r.AccessibleRoutes = res.Routes
	r.ModulePrivileges = res.ModulePrivileges
	r.RBACInitialized = true
	r.RBACLastUpdatedAt = at
	r.RBACSource = res.Source

	r.privileges = make(map[string]struct{}, len(res.Privileges))
	for _, p := range res.Privileges {
		r.privileges[p] = struct{}{}
	}
	r.modules = make(map[int]struct{}, len(res.ModuleIDs))
	for _, id := range res.ModuleIDs {
		r.modules[id] = struct{}{}
	}
}

// applyProfile copies profile fields. It reports whether the role changed.
func (r *record) applyProfile(p gateway.Profile) bool {
	role, _ := p.PrimaryRole()
	changed := r.RoleID != role.ID
	r.UserID = string(p.ID)
	r.Email = p.Email
	r.DisplayName = p.DisplayName()
	r.RoleID = role.ID
	r.RoleName = role.RoleName
	r.IsSuperUser = p.IsSuperUser
	r.Organisation = p.OrganisationName
	r.Status = p.Status
	r.AssignedCustomers = append([]int(nil), p.AssignedCustomers...)
	r.Hydrated = false
	return changed
}

func (r *record) applySnapshot(s credential.Snapshot) {
	r.UserID = s.UserID
	r.Email = s.Email
	r.DisplayName = s.DisplayName
	r.RoleID = s.RoleID
	r.RoleName = s.RoleName
	r.IsSuperUser = s.IsSuperUser
	r.Organisation = s.Organisation
	r.Status = s.Status
	r.AssignedCustomers = append([]int(nil), s.AssignedCustomers...)
	r.Hydrated = true
}

func (r *record) snapshot(now time.Time) credential.Snapshot {
	return credential.Snapshot{
		UserID:            r.UserID,
		Email:             r.Email,
		DisplayName:       r.DisplayName,
		RoleID:            r.RoleID,
		RoleName:          r.RoleName,
		IsSuperUser:       r.IsSuperUser,
		Organisation:      r.Organisation,
		Status:            r.Status,
		AssignedCustomers: append([]int(nil), r.AssignedCustomers...),
		SavedAt:           now,
	}
}

func (r *record) can(privilege string) bool {
	if !r.State.Active() {
		return false
	}
	if r.IsSuperUser {
		return true
	}
	if !r.RBACInitialized {
		return false
	}
	_, ok := r.privileges[privilege]
	return ok
}

func (r *record) moduleAccessible(id int) bool {
	if !r.State.Active() {
		return false
	}
	if r.IsSuperUser {
		return true
	}
	if !r.RBACInitialized {
		return false
	}
	_, ok := r.modules[id]
	return ok
}

func (r *record) routeAccessible(path string) bool {
	if !r.State.Active() {
		return false
	}
	if r.IsSuperUser {
		return true
	}
	return r.RBACInitialized && permission.MatchAny(r.AccessibleRoutes, path)
}
