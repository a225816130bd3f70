package permission

import (
	"sort"
	"time"
)

// System role names.
const (
	RoleAdmin     = "admin"
	RoleLeader    = "leader"
	RoleDeveloper = "developer"
	RoleTester    = "tester"
)

// CustomPriority is the priority assigned to any role outside the system hierarchy.
const CustomPriority = 99

var systemPriorities = map[string]int{
	RoleAdmin:     1,
	RoleLeader:    2,
	RoleDeveloper: 3,
	RoleTester:    4,
}

// PriorityOf returns the hierarchy priority for a role name. Lower means more authority.
func PriorityOf(roleName string) int {
	if p, ok := systemPriorities[roleName]; ok {
		return p
	}
	return CustomPriority
}

// IsSystemRole reports whether name is one of the four fixed roles.
func IsSystemRole(name string) bool {
	_, ok := systemPriorities[name]
	return ok
}

// Permission is a named capability grant.
type Permission struct {
	ID          string
	Name        string
	DisplayName string
	Description string
	Module      string
	Resource    string
	Action      string
	System      bool
	CreatedAt   time.Time
}

// Role groups permissions and carries a hierarchy priority.
type Role struct {
	ID            string
	Name          string
	DisplayName   string
	Description   string
	Priority      int
	PermissionIDs []string
	Active        bool
	System        bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// HasPermissionID reports whether the role references permissionID.
func (r Role) HasPermissionID(permissionID string) bool {
	for _, id := range r.PermissionIDs {
		if id == permissionID {
			return true
		}
	}
	return false
}

// Set is a set of permission names.
type Set map[string]struct{}

// NewSet builds a set from names.
func NewSet(names ...string) Set {
	s := make(Set, len(names))
	for _, n := range names {
		s[n] = struct{}{}
	}
	return s
}

// Has reports membership.
func (s Set) Has(name string) bool {
	_, ok := s[name]
	return ok
}

// Names returns the members in sorted order.
func (s Set) Names() []string {
	out := make([]string, 0, len(s))
	for n := range s {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
