package permission

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Capability is a (resource, action) pair checked when a caller does not hold the
// exact permission name for an operation.
type Capability struct {
	Resource string
	Action   string
}

// String returns the resource:action form.
func (c Capability) String() string {
	return c.Resource + ":" + c.Action
}

// Registry maps capabilities to the permission names that satisfy them.
// Entries are registered at startup and the registry is frozen before use.
type Registry struct {
	mu     sync.RWMutex
	grants map[Capability][]string
	frozen bool
}

// NewRegistry creates an empty capability [Registry].
func NewRegistry() *Registry {
	return &Registry{grants: make(map[Capability][]string)}
}

// Register binds a capability to the permission names that satisfy it. Must be
// called before [Registry.Freeze].
func (r *Registry) Register(c Capability, names ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return errors.New("registry frozen")
	}
	if c.Resource == "" || c.Action == "" {
		return errors.New("capability resource and action cannot be empty")
	}
	if len(names) == 0 {
		return fmt.Errorf("capability %s has no permissions", c)
	}
	if _, exists := r.grants[c]; exists {
		return fmt.Errorf("capability %s already registered", c)
	}

	seen := make(map[string]struct{}, len(names))
	list := make([]string, 0, len(names))
	for _, n := range names {
		if n == "" {
			return errors.New("permission name cannot be empty")
		}
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		list = append(list, n)
	}
	r.grants[c] = list
	return nil
}

// Freeze prevents further registrations.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

// Frozen reports whether Freeze has been called.
func (r *Registry) Frozen() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.frozen
}

// Satisfying returns the permission names that grant c.
func (r *Registry) Satisfying(c Capability) ([]string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names, ok := r.grants[c]
	if !ok {
		return nil, false
	}
	out := make([]string, len(names))
	copy(out, names)
	return out, true
}

// Allows reports whether any name in held satisfies c.
func (r *Registry) Allows(held Set, c Capability) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, n := range r.grants[c] {
		if held.Has(n) {
			return true
		}
	}
	return false
}

// Capabilities lists the registered capabilities sorted by resource then action.
func (r *Registry) Capabilities() []Capability {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Capability, 0, len(r.grants))
	for c := range r.grants {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Resource != out[j].Resource {
			return out[i].Resource < out[j].Resource
		}
		return out[i].Action < out[j].Action
	})
	return out
}

// Count returns the number of registered capabilities.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.grants)
}

type registryEntry struct {
	resource, action string
	names            []string
}

var defaultCapabilities = []registryEntry{
	{"users", "read", []string{"view_users", "user_management"}},
	{"users", "create", []string{"create_users", "user_management"}},
	{"users", "update", []string{"update_users", "user_management"}},
	{"users", "delete", []string{"delete_users", "user_management"}},
	{"users", "manage", []string{"user_management"}},
	{"users", "assign", []string{"assign_roles", "user_management"}},

	{"roles", "read", []string{"view_roles", "role_management"}},
	{"roles", "create", []string{"create_roles", "role_management"}},
	{"roles", "update", []string{"update_roles", "role_management"}},
	{"roles", "delete", []string{"delete_roles", "role_management"}},
	{"roles", "manage", []string{"role_management"}},

	{"projects", "read", []string{"view_projects", "view_all_projects", "manage_projects", "manage_all_projects"}},
	{"projects", "create", []string{"create_projects", "manage_all_projects"}},
	{"projects", "update", []string{"manage_projects", "manage_all_projects"}},
	{"projects", "manage", []string{"manage_projects", "manage_all_projects"}},
	{"projects", "delete", []string{"delete_projects", "manage_all_projects"}},

	{"teams", "read", []string{"view_team_members", "manage_team_members"}},
	{"teams", "manage", []string{"manage_team_members"}},

	{"channels", "read", []string{"view_channels", "view_all_channels", "manage_channels", "manage_all_channels"}},
	{"channels", "create", []string{"create_channels", "manage_all_channels"}},
	{"channels", "update", []string{"manage_channels", "manage_all_channels"}},
	{"channels", "manage", []string{"manage_channels", "manage_all_channels"}},
	{"channels", "delete", []string{"delete_channels", "manage_all_channels"}},

	{"chaincodes", "read", []string{"view_chaincodes", "view_all_chaincodes", "manage_all_chaincodes"}},
	{"chaincodes", "create", []string{"create_chaincodes", "manage_all_chaincodes"}},
	{"chaincodes", "deploy", []string{"deploy_chaincodes", "manage_all_chaincodes"}},
	{"chaincodes", "approve", []string{"approve_chaincodes", "manage_all_chaincodes"}},
	{"chaincodes", "invoke", []string{"invoke_chaincodes", "manage_all_chaincodes"}},
	{"chaincodes", "query", []string{"query_chaincodes", "manage_all_chaincodes"}},
	{"chaincodes", "upgrade", []string{"upgrade_chaincodes", "manage_all_chaincodes"}},
	{"chaincodes", "manage", []string{"manage_all_chaincodes"}},

	{"system", "manage", []string{"system_configuration"}},

	{"logs", "read", []string{"view_system_logs", "view_all_logs", "manage_system_logs"}},
	{"logs", "manage", []string{"manage_system_logs"}},

	{"data", "create", []string{"create_test_data"}},
}

// DefaultRegistry returns a frozen registry populated with the built-in capability table.
func DefaultRegistry() (*Registry, error) {
	r := NewRegistry()
	for _, e := range defaultCapabilities {
		if err := r.Register(Capability{Resource: e.resource, Action: e.action}, e.names...); err != nil {
			return nil, err
		}
	}
	r.Freeze()
	return r, nil
}
