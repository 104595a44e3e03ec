package gateway

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// Tokens is the reply of a successful credential exchange.
type Tokens struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

// Role is one entry of the profile role list. Only the first entry is used.
type Role struct {
	ID       int    `json:"id"`
	RoleName string `json:"role_name"`
}

// Profile is the authenticated user's profile.
type Profile struct {
	ID                ID         `json:"id"`
	Email             string     `json:"email"`
	FirstName         string     `json:"first_name"`
	LastName          string     `json:"last_name"`
	IsSuperUser       bool       `json:"is_superuser"`
	Role              []Role     `json:"role"`
	OrganisationName  string     `json:"organisation_name"`
	Status            string     `json:"status"`
	AssignedCustomers []int      `json:"assigned_customers"`
	CreatedAt         *time.Time `json:"created_at,omitempty"`
	UpdatedAt         *time.Time `json:"updated_at,omitempty"`
	LastLogin         *time.Time `json:"last_login,omitempty"`
}

// DisplayName joins first and last name, falling back to the email.
func (p Profile) DisplayName() string {
	name := strings.TrimSpace(p.FirstName + " " + p.LastName)
	if name == "" {
		return p.Email
	}
	return name
}

// PrimaryRole returns role[0], or false when the list is empty.
func (p Profile) PrimaryRole() (Role, bool) {
	if len(p.Role) == 0 {
		return Role{}, false
	}
	return p.Role[0], true
}

// ID accepts both numeric and string identifiers.
type ID string

func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	if _, err := strconv.ParseFloat(n.String(), 64); err != nil {
		return err
	}
	*id = ID(n.String())
	return nil
}

// ModulePrivileges is one module group of a /privilege/list reply.
type ModulePrivileges struct {
	ModuleID   int
	Privileges []string
}

type privilegeListReply struct {
	Results []struct {
		ModuleID   *int `json:"module_id"`
		Privileges []struct {
			PrivilegeName string `json:"privilege_name"`
		} `json:"privileges"`
	} `json:"results"`
}
