package permission

import (
	"sort"
	"time"
)

// Source identifies which tier produced a Resolution.
type Source uint8

const (
	SourceNone Source = iota
	SourceCache
	SourceRemote
	SourceStatic
)

func (s Source) String() string {
	switch s {
	case SourceCache:
		return "cache"
	case SourceRemote:
		return "remote"
	case SourceStatic:
		return "static"
	default:
		return "none"
	}
}

// Resolution is the effective access of one role. Values handed to callers
// are deep copies and may be modified freely.
type Resolution struct {
	RoleID           int
	Privileges       []string
	ModuleIDs        []int
	ModulePrivileges map[int][]string
	Routes           []string
	Source           Source
	ResolvedAt       time.Time
}

// HasPrivilege reports whether name is granted.
func (r Resolution) HasPrivilege(name string) bool {
	for _, p := range r.Privileges {
		if p == name {
			return true
		}
	}
	return false
}

// HasModule reports whether module id is accessible.
func (r Resolution) HasModule(id int) bool {
	i := sort.SearchInts(r.ModuleIDs, id)
	return i < len(r.ModuleIDs) && r.ModuleIDs[i] == id
}

// AllowsRoute reports whether path matches any accessible route pattern.
func (r Resolution) AllowsRoute(path string) bool {
	return MatchAny(r.Routes, path)
}

// Clone returns a deep copy.
func (r Resolution) Clone() Resolution {
	out := r
	out.Privileges = append([]string(nil), r.Privileges...)
	out.ModuleIDs = append([]int(nil), r.ModuleIDs...)
	out.Routes = append([]string(nil), r.Routes...)
	if r.ModulePrivileges != nil {
		out.ModulePrivileges = make(map[int][]string, len(r.ModulePrivileges))
		for id, privs := range r.ModulePrivileges {
			out.ModulePrivileges[id] = append([]string(nil), privs...)
		}
	}
	return out
}

// Empty returns the deny-everything resolution for roleID.
func Empty(roleID int, source Source, now time.Time) Resolution {
	return Resolution{
		RoleID:           roleID,
		Privileges:       []string{},
		ModuleIDs:        []int{},
		ModulePrivileges: map[int][]string{},
		Routes:           []string{},
		Source:           source,
		ResolvedAt:       now,
	}
}

// Build derives a complete Resolution from module grants. Duplicate
// privileges and modules collapse; routes come from table.
func Build(roleID int, grants []ModuleGrant, table *Table, source Source, now time.Time) Resolution {
	res := Empty(roleID, source, now)
	seenPriv := make(map[string]struct{})
	for _, g := range grants {
		if _, ok := res.ModulePrivileges[g.ModuleID]; !ok {
			res.ModuleIDs = append(res.ModuleIDs, g.ModuleID)
			res.ModulePrivileges[g.ModuleID] = []string{}
		}
		for _, p := range g.Privileges {
			if p == "" {
				continue
			}
			res.ModulePrivileges[g.ModuleID] = appendUnique(res.ModulePrivileges[g.ModuleID], p)
			if _, ok := seenPriv[p]; !ok {
				seenPriv[p] = struct{}{}
				res.Privileges = append(res.Privileges, p)
			}
		}
	}
	sort.Ints(res.ModuleIDs)
	if table != nil {
		res.Routes = table.Routes(res.ModuleIDs)
	}
	return res
}

func appendUnique(list []string, v string) []string {
	for _, x := range list {
		if x == v {
			return list
		}
	}
	return append(list, v)
}
