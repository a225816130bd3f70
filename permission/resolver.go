package permission

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/ibn-api/authcore/identity"
)

// IdentityLookup is the subset of identity.Store the resolver reads.
type IdentityLookup interface {
	GetByID(ctx context.Context, id string) (identity.Identity, error)
}

// Resolver answers authorization queries against the latest committed store state.
//
// Every call re-reads identity, role and permission rows. There is no cache to
// invalidate.
type Resolver struct {
	identities IdentityLookup
	store      Store
	registry   *Registry
	hierarchy  *Hierarchy
}

// NewResolver builds a resolver. A nil registry or hierarchy falls back to the
// built-in tables. The registry must be frozen.
func NewResolver(identities IdentityLookup, store Store, registry *Registry, hierarchy *Hierarchy) (*Resolver, error) {
	if identities == nil {
		return nil, errors.New("identity lookup required")
	}
	if store == nil {
		return nil, errors.New("permission store required")
	}
	if registry == nil {
		r, err := DefaultRegistry()
		if err != nil {
			return nil, err
		}
		registry = r
	}
	if !registry.Frozen() {
		return nil, errors.New("capability registry must be frozen")
	}
	if hierarchy == nil {
		hierarchy = DefaultHierarchy()
	}

	return &Resolver{
		identities: identities,
		store:      store,
		registry:   registry,
		hierarchy:  hierarchy,
	}, nil
}

// Registry returns the capability registry in use.
func (r *Resolver) Registry() *Registry { return r.registry }

// roleOf returns the identity's role. ok is false when the identity has no role or
// references one that no longer exists.
func (r *Resolver) roleOf(ctx context.Context, identityID string) (Role, bool, error) {
	rec, err := r.identities.GetByID(ctx, identityID)
	if err != nil {
		return Role{}, false, err
	}
	if rec.RoleID == "" {
		return Role{}, false, nil
	}

	role, err := r.store.GetRoleByID(ctx, rec.RoleID)
	if errors.Is(err, ErrRoleNotFound) {
		return Role{}, false, nil
	}
	if err != nil {
		return Role{}, false, err
	}
	return role, true, nil
}

func (r *Resolver) permissionsOf(ctx context.Context, role Role) ([]Permission, error) {
	if !role.Active || len(role.PermissionIDs) == 0 {
		return nil, nil
	}
	return r.store.PermissionsByIDs(ctx, role.PermissionIDs)
}

// Resolve returns the permission names granted to identityID through its role.
// An identity without a role, or with an inactive role, resolves to the empty set.
func (r *Resolver) Resolve(ctx context.Context, identityID string) (Set, error) {
	role, ok, err := r.roleOf(ctx, identityID)
	if err != nil || !ok {
		return Set{}, err
	}

	perms, err := r.permissionsOf(ctx, role)
	if err != nil {
		return Set{}, err
	}

	out := make(Set, len(perms))
	for _, p := range perms {
		out[p.Name] = struct{}{}
	}
	return out, nil
}

// Check reports whether identityID holds permission name.
func (r *Resolver) Check(ctx context.Context, identityID, name string) (bool, error) {
	set, err := r.Resolve(ctx, identityID)
	if err != nil {
		return false, err
	}
	return set.Has(name), nil
}

// CheckAny reports whether identityID holds at least one of names. An empty list is false.
func (r *Resolver) CheckAny(ctx context.Context, identityID string, names []string) (bool, error) {
	if len(names) == 0 {
		return false, nil
	}
	set, err := r.Resolve(ctx, identityID)
	if err != nil {
		return false, err
	}
	for _, n := range names {
		if set.Has(n) {
			return true, nil
		}
	}
	return false, nil
}

// CheckAll reports whether identityID holds every one of names. An empty list is true.
func (r *Resolver) CheckAll(ctx context.Context, identityID string, names []string) (bool, error) {
	if len(names) == 0 {
		return true, nil
	}
	set, err := r.Resolve(ctx, identityID)
	if err != nil {
		return false, err
	}
	for _, n := range names {
		if !set.Has(n) {
			return false, nil
		}
	}
	return true, nil
}

// CheckCapability reports whether identityID holds any permission the registry maps
// to (resource, action). Unregistered capabilities are denied.
func (r *Resolver) CheckCapability(ctx context.Context, identityID, resource, action string) (bool, error) {
	c := Capability{Resource: resource, Action: action}
	if _, ok := r.registry.Satisfying(c); !ok {
		return false, nil
	}
	set, err := r.Resolve(ctx, identityID)
	if err != nil {
		return false, err
	}
	return r.registry.Allows(set, c), nil
}

// CanManageRole reports whether the acting identity's role may manage targetRole.
// A target role that does not exist yields ErrRoleNotFound.
func (r *Resolver) CanManageRole(ctx context.Context, actingIdentityID, targetRole string) (bool, error) {
	if _, err := r.store.GetRoleByName(ctx, targetRole); err != nil {
		return false, err
	}

	actor, ok, err := r.roleOf(ctx, actingIdentityID)
	if err != nil || !ok || !actor.Active {
		return false, err
	}
	return r.hierarchy.CanManage(actor.Name, targetRole), nil
}

// ManageableRoles lists the active roles the acting identity may manage, ordered by
// priority then name.
func (r *Resolver) ManageableRoles(ctx context.Context, actingIdentityID string) ([]Role, error) {
	actor, ok, err := r.roleOf(ctx, actingIdentityID)
	if err != nil || !ok || !actor.Active {
		return nil, err
	}

	roles, err := r.store.ListRoles(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]Role, 0, len(roles))
	for _, role := range roles {
		if role.Active && r.hierarchy.CanManage(actor.Name, role.Name) {
			out = append(out, role)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

// Summary describes an identity's effective access.
type Summary struct {
	RoleName        string              `json:"role_name,omitempty"`
	RoleDisplayName string              `json:"role_display_name,omitempty"`
	Priority        int                 `json:"priority,omitempty"`
	Permissions     []string            `json:"permissions"`
	ByModule        map[string][]string `json:"by_module"`
}

// Summary returns the identity's role and its permissions grouped by module.
func (r *Resolver) Summary(ctx context.Context, identityID string) (Summary, error) {
	out := Summary{Permissions: []string{}, ByModule: map[string][]string{}}

	role, ok, err := r.roleOf(ctx, identityID)
	if err != nil {
		return out, err
	}
	if !ok {
		return out, nil
	}
	out.RoleName = role.Name
	out.RoleDisplayName = role.DisplayName
	out.Priority = role.Priority

	perms, err := r.permissionsOf(ctx, role)
	if err != nil {
		return out, fmt.Errorf("summary for %s: %w", identityID, err)
	}
	for _, p := range perms {
		out.Permissions = append(out.Permissions, p.Name)
		out.ByModule[p.Module] = append(out.ByModule[p.Module], p.Name)
	}
	sort.Strings(out.Permissions)
	for m := range out.ByModule {
		sort.Strings(out.ByModule[m])
	}
	return out, nil
}
