package authcore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/ibn-api/authcore/identity"
	"github.com/ibn-api/authcore/permission"
)

// RoleSpec describes a custom role to create.
type RoleSpec struct {
	Name        string
	DisplayName string
	Description string
	Permissions []string
}

// AssignRole gives identityID the role roleName. The actor needs the users:assign
// capability and must be able to manage both the target role and the identity's
// current role, so nobody can demote an identity ranked above them. The
// identity's sessions are invalidated so new tokens carry the new role.
func (e *Engine) AssignRole(ctx context.Context, actorID, identityID, roleName string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	if err := e.requireCapability(ctx, actorID, "users", "assign"); err != nil {
		return err
	}
	role, err := e.manageableRole(ctx, actorID, roleName)
	if err != nil {
		return err
	}
	if !role.Active {
		return ErrRoleNotFound
	}
	if err := e.requireManagesCurrentRole(ctx, actorID, identityID); err != nil {
		return err
	}

	var previous string
	_, err = identity.Mutate(ctx, e.identities, identityID, e.config.Lockout.MaxRetries, func(next *identity.Identity) error {
		previous = next.RoleID
		next.RoleID = role.ID
		next.UpdatedAt = e.now()
		return nil
	})
	if err != nil {
		return mapIdentityError(err)
	}

	e.metricInc(MetricRoleAssigned)
	e.emitAudit(ctx, auditEventRoleAssigned, auditRecord{identityID: identityID, actorID: actorID}, nil, func() map[string]string {
		return map[string]string{
			"role":          role.Name,
			"previous_role": previous,
		}
	})
	if previous != role.ID {
		e.invalidateAllSessions(ctx, identityID, actorID, "role_change")
	}
	return nil
}

// GrantRolePermission adds a permission to a role. It takes effect on the next
// authorization check.
func (e *Engine) GrantRolePermission(ctx context.Context, actorID, roleName, permissionName string) error {
	return e.changeRolePermission(ctx, actorID, roleName, permissionName, true)
}

// RevokeRolePermission removes a permission from a role. It takes effect on the
// next authorization check.
func (e *Engine) RevokeRolePermission(ctx context.Context, actorID, roleName, permissionName string) error {
	return e.changeRolePermission(ctx, actorID, roleName, permissionName, false)
}

func (e *Engine) changeRolePermission(ctx context.Context, actorID, roleName, permissionName string, grant bool) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	if err := e.requireCapability(ctx, actorID, "roles", "update"); err != nil {
		return err
	}
	role, err := e.manageableRole(ctx, actorID, roleName)
	if err != nil {
		return err
	}
	perm, err := e.roles.GetPermissionByName(ctx, permissionName)
	if err != nil {
		return mapPermissionError(err)
	}

	event := auditEventRolePermissionGranted
	if grant {
		err = e.roles.AddRolePermission(ctx, role.ID, perm.ID)
	} else {
		event = auditEventRolePermissionRevoked
		err = e.roles.RemoveRolePermission(ctx, role.ID, perm.ID)
	}
	if err != nil {
		return mapPermissionError(err)
	}

	e.emitAudit(ctx, event, auditRecord{actorID: actorID}, nil, func() map[string]string {
		return map[string]string{
			"role":       role.Name,
			"permission": perm.Name,
		}
	})
	return nil
}

// SetRolePermissions replaces a role's permissions with names. Unknown names fail
// the whole call before anything changes.
func (e *Engine) SetRolePermissions(ctx context.Context, actorID, roleName string, names []string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	if err := e.requireCapability(ctx, actorID, "roles", "update"); err != nil {
		return err
	}
	role, err := e.manageableRole(ctx, actorID, roleName)
	if err != nil {
		return err
	}

	want := make(map[string]struct{}, len(names))
	for _, name := range names {
		perm, err := e.roles.GetPermissionByName(ctx, name)
		if err != nil {
			return mapPermissionError(err)
		}
		want[perm.ID] = struct{}{}
	}

	var added, removed int
	for id := range want {
		if role.HasPermissionID(id) {
			continue
		}
		if err := e.roles.AddRolePermission(ctx, role.ID, id); err != nil {
			return mapPermissionError(err)
		}
		added++
	}
	for _, id := range role.PermissionIDs {
		if _, keep := want[id]; keep {
			continue
		}
		if err := e.roles.RemoveRolePermission(ctx, role.ID, id); err != nil {
			return mapPermissionError(err)
		}
		removed++
	}

	e.emitAudit(ctx, auditEventRolePermissionGranted, auditRecord{actorID: actorID}, nil, func() map[string]string {
		return map[string]string{
			"role":    role.Name,
			"added":   strconv.Itoa(added),
			"removed": strconv.Itoa(removed),
		}
	})
	return nil
}

// CreateRole creates a custom role. System role names are reserved. The actor
// needs the roles:create capability.
func (e *Engine) CreateRole(ctx context.Context, actorID string, req RoleSpec) (RoleView, error) {
	if !e.ready() {
		return RoleView{}, ErrEngineNotReady
	}
	if err := e.requireCapability(ctx, actorID, "roles", "create"); err != nil {
		return RoleView{}, err
	}
	name := strings.ToLower(strings.TrimSpace(req.Name))
	if name == "" {
		return RoleView{}, ErrInvalidRoleName
	}
	if permission.IsSystemRole(name) {
		return RoleView{}, ErrRoleExists
	}

	ids := make([]string, 0, len(req.Permissions))
	for _, pn := range req.Permissions {
		perm, err := e.roles.GetPermissionByName(ctx, pn)
		if err != nil {
			return RoleView{}, mapPermissionError(err)
		}
		ids = append(ids, perm.ID)
	}

	display := req.DisplayName
	if display == "" {
		display = req.Name
	}
	now := e.now()
	created, err := e.roles.CreateRole(ctx, permission.Role{
		Name:          name,
		DisplayName:   display,
		Description:   req.Description,
		Priority:      permission.CustomPriority,
		PermissionIDs: ids,
		Active:        true,
		CreatedAt:     now,
		UpdatedAt:     now,
	})
	if err != nil {
		return RoleView{}, mapPermissionError(err)
	}

	e.emitAudit(ctx, auditEventRoleCreated, auditRecord{actorID: actorID}, nil, func() map[string]string {
		return map[string]string{"role": created.Name}
	})
	return e.roleView(ctx, created)
}

// DeleteRole removes a custom role that no identity holds. The actor needs the
// roles:delete capability and must be able to manage the role.
func (e *Engine) DeleteRole(ctx context.Context, actorID, roleName string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	if err := e.requireCapability(ctx, actorID, "roles", "delete"); err != nil {
		return err
	}
	if permission.IsSystemRole(roleName) {
		return ErrSystemRole
	}
	role, err := e.manageableRole(ctx, actorID, roleName)
	if err != nil {
		return err
	}
	if err := e.roles.DeleteRole(ctx, role.ID); err != nil {
		return mapPermissionError(err)
	}

	e.emitAudit(ctx, auditEventRoleDeleted, auditRecord{actorID: actorID}, nil, func() map[string]string {
		return map[string]string{"role": role.Name}
	})
	return nil
}

// ListRoles returns every role ordered by priority then name.
func (e *Engine) ListRoles(ctx context.Context) ([]RoleView, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	roles, err := e.roles.ListRoles(ctx)
	if err != nil {
		return nil, storeUnavailable(err)
	}
	sort.Slice(roles, func(i, j int) bool {
		if roles[i].Priority != roles[j].Priority {
			return roles[i].Priority < roles[j].Priority
		}
		return roles[i].Name < roles[j].Name
	})
	return e.roleViews(ctx, roles)
}

// ManageableRoles returns the active roles actorID may assign and edit.
func (e *Engine) ManageableRoles(ctx context.Context, actorID string) ([]RoleView, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	roles, err := e.resolver.ManageableRoles(ctx, actorID)
	if err != nil {
		return nil, mapPermissionError(err)
	}
	return e.roleViews(ctx, roles)
}

// PermissionSummary describes identityID's role and permissions grouped by module.
func (e *Engine) PermissionSummary(ctx context.Context, identityID string) (PermissionSummary, error) {
	if !e.ready() {
		return PermissionSummary{}, ErrEngineNotReady
	}
	s, err := e.resolver.Summary(ctx, identityID)
	if err != nil {
		return PermissionSummary{}, mapPermissionError(err)
	}
	return s, nil
}

// ListPermissions returns the permission catalog.
func (e *Engine) ListPermissions(ctx context.Context) ([]permission.Permission, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	perms, err := e.roles.ListPermissions(ctx)
	if err != nil {
		return nil, storeUnavailable(err)
	}
	return perms, nil
}

// manageableRole loads roleName and checks the hierarchy for actorID.
func (e *Engine) manageableRole(ctx context.Context, actorID, roleName string) (permission.Role, error) {
	ok, err := e.resolver.CanManageRole(ctx, actorID, roleName)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return permission.Role{}, ErrPermissionDenied
		}
		return permission.Role{}, mapPermissionError(err)
	}
	if !ok {
		return permission.Role{}, fmt.Errorf("%w: cannot manage role %s", ErrPermissionDenied, roleName)
	}
	role, err := e.roles.GetRoleByName(ctx, roleName)
	if err != nil {
		return permission.Role{}, mapPermissionError(err)
	}
	return role, nil
}

// requireManagesCurrentRole checks that actorID may manage the role identityID
// holds now. An identity whose role row is gone is left to the caller.
func (e *Engine) requireManagesCurrentRole(ctx context.Context, actorID, identityID string) error {
	target, err := e.identities.GetByID(ctx, identityID)
	if err != nil {
		return mapIdentityError(err)
	}
	current, err := e.roles.GetRoleByID(ctx, target.RoleID)
	if err != nil {
		if errors.Is(err, permission.ErrRoleNotFound) {
			return nil
		}
		return mapPermissionError(err)
	}
	_, err = e.manageableRole(ctx, actorID, current.Name)
	return err
}

func (e *Engine) roleViews(ctx context.Context, roles []permission.Role) ([]RoleView, error) {
	out := make([]RoleView, 0, len(roles))
	for _, r := range roles {
		v, err := e.roleView(ctx, r)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (e *Engine) roleView(ctx context.Context, r permission.Role) (RoleView, error) {
	names := []string{}
	if len(r.PermissionIDs) > 0 {
		perms, err := e.roles.PermissionsByIDs(ctx, r.PermissionIDs)
		if err != nil {
			return RoleView{}, storeUnavailable(err)
		}
		for _, p := range perms {
			names = append(names, p.Name)
		}
		sort.Strings(names)
	}
	return RoleView{
		ID:          r.ID,
		Name:        r.Name,
		DisplayName: r.DisplayName,
		Description: r.Description,
		Priority:    r.Priority,
		System:      r.System,
		Active:      r.Active,
		Permissions: names,
	}, nil
}
