package permission

import (
	"errors"
	"sort"
	"sync"
)

// Grant describes which target roles an actor role may manage.
type Grant struct {
	All   bool
	Roles []string
}

// Hierarchy is the role-management table: for each actor role, the target roles
// it may assign, edit or delete. It is an explicit list, not derived from role
// priority; priority only orders listings, so a lower number never implies a
// grant. Roles absent from the table manage nothing. Instances are configured
// during initialization and then frozen.
type Hierarchy struct {
	mu     sync.RWMutex
	grants map[string]Grant
	frozen bool
}

// NewHierarchy returns an empty hierarchy.
func NewHierarchy() *Hierarchy {
	return &Hierarchy{grants: make(map[string]Grant)}
}

// Register records the grant for actor. Each actor role is registered once and
// the grant's role list is copied. It fails after Freeze, for an empty actor
// name and for a second registration of the same actor.
func (h *Hierarchy) Register(actor string, g Grant) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.frozen {
		return errors.New("role hierarchy frozen")
	}
	if actor == "" {
		return errors.New("role name empty")
	}
	if _, exists := h.grants[actor]; exists {
		return errors.New("role already registered")
	}

	roles := make([]string, len(g.Roles))
	copy(roles, g.Roles)
	h.grants[actor] = Grant{All: g.All, Roles: roles}
	return nil
}

/*
====================================
LOOKUP
*/

// CanManage reports whether actor may manage target. It does not validate that
// either role exists.
func (h *Hierarchy) CanManage(actor, target string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	g, ok := h.grants[actor]
	if !ok {
		return false
	}
	if g.All {
		return true
	}
	for _, r := range g.Roles {
		if r == target {
			return true
		}
	}
	return false
}

// Manageable filters candidates down to those actor may manage, sorted.
func (h *Hierarchy) Manageable(actor string, candidates []string) []string {
	out := make([]string, 0, len(candidates))
	for _, c := range candidates {
		if h.CanManage(actor, c) {
			out = append(out, c)
		}
	}
	sort.Strings(out)
	return out
}

// Freeze prevents further registrations.
func (h *Hierarchy) Freeze() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.frozen = true
}

// Count returns the number of actor roles in the table.
func (h *Hierarchy) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.grants)
}

// DefaultHierarchy returns the frozen built-in table: admin manages every role,
// leader manages developer and tester, all other roles manage none.
func DefaultHierarchy() *Hierarchy {
	h := NewHierarchy()
	_ = h.Register(RoleAdmin, Grant{All: true})
	_ = h.Register(RoleLeader, Grant{Roles: []string{RoleDeveloper, RoleTester}})
	h.Freeze()
	return h
}
