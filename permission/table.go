package permission

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"sort"

	"gopkg.in/yaml.v3"
)

//go:embed static_roles.yaml
var staticRolesYAML []byte

var defaultTable = mustLoadTable(staticRolesYAML)

// Module is a navigable area of the console.
type Module struct {
	ID     int      `yaml:"id"`
	Name   string   `yaml:"name"`
	Routes []string `yaml:"routes"`
}

// ModuleGrant is the privileges a role holds within one module.
type ModuleGrant struct {
	ModuleID   int      `yaml:"module"`
	Privileges []string `yaml:"privileges"`
}

// Role is a static role definition.
type Role struct {
	ID     int           `yaml:"id"`
	Name   string        `yaml:"name"`
	Grants []ModuleGrant `yaml:"grants"`
}

type tableFile struct {
	Modules []Module `yaml:"modules"`
	Roles   []Role   `yaml:"roles"`
}

// Table is an immutable role and module table.
type Table struct {
	modules map[int]Module
	roles   map[int]Role
}

// DefaultTable returns the compiled-in table.
func DefaultTable() *Table {
	return defaultTable
}

// LoadTable parses a table in the static_roles.yaml format.
func LoadTable(r io.Reader) (*Table, error) {
	var file tableFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("decode role table: %w", err)
	}

	t := &Table{
		modules: make(map[int]Module, len(file.Modules)),
		roles:   make(map[int]Role, len(file.Roles)),
	}
	for _, m := range file.Modules {
		if m.ID <= 0 {
			return nil, fmt.Errorf("module %q: id must be positive", m.Name)
		}
		if _, dup := t.modules[m.ID]; dup {
			return nil, fmt.Errorf("module %d defined twice", m.ID)
		}
		for _, route := range m.Routes {
			if err := validatePattern(route); err != nil {
				return nil, fmt.Errorf("module %d: %w", m.ID, err)
			}
		}
		t.modules[m.ID] = m
	}
	for _, r := range file.Roles {
		if r.ID <= 0 {
			return nil, fmt.Errorf("role %q: id must be positive", r.Name)
		}
		if _, dup := t.roles[r.ID]; dup {
			return nil, fmt.Errorf("role %d defined twice", r.ID)
		}
		for _, g := range r.Grants {
			if _, ok := t.modules[g.ModuleID]; !ok {
				return nil, fmt.Errorf("role %d grants unknown module %d", r.ID, g.ModuleID)
			}
		}
		t.roles[r.ID] = r
	}
	if len(t.roles) == 0 {
		return nil, errors.New("role table defines no roles")
	}
	return t, nil
}

func mustLoadTable(data []byte) *Table {
	t, err := LoadTable(bytes.NewReader(data))
	if err != nil {
		panic("permission: embedded role table: " + err.Error())
	}
	return t
}

// Module returns the module with id.
func (t *Table) Module(id int) (Module, bool) {
	m, ok := t.modules[id]
	return m, ok
}

// Role returns the role with id.
func (t *Table) Role(id int) (Role, bool) {
	r, ok := t.roles[id]
	return r, ok
}

// RoleIDs returns every role id in ascending order.
func (t *Table) RoleIDs() []int {
	ids := make([]int, 0, len(t.roles))
	for id := range t.roles {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// Grants returns the static grants of roleID; nil for an unknown role.
func (t *Table) Grants(roleID int) []ModuleGrant {
	r, ok := t.roles[roleID]
	if !ok {
		return nil
	}
	out := make([]ModuleGrant, len(r.Grants))
	for i, g := range r.Grants {
		out[i] = ModuleGrant{ModuleID: g.ModuleID, Privileges: append([]string(nil), g.Privileges...)}
	}
	return out
}

// Routes returns the union of the route lists of moduleIDs, in module order.
// Unknown modules contribute nothing.
func (t *Table) Routes(moduleIDs []int) []string {
	seen := make(map[string]struct{})
	routes := make([]string, 0)
	for _, id := range moduleIDs {
		for _, route := range t.modules[id].Routes {
			if _, ok := seen[route]; ok {
				continue
			}
			seen[route] = struct{}{}
			routes = append(routes, route)
		}
	}
	return routes
}
