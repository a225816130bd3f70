package permission

import (
	"context"
	"errors"
)

var (
	// ErrRoleNotFound is returned when no role matches the lookup.
	ErrRoleNotFound = errors.New("role not found")
	// ErrPermissionNotFound is returned when no permission matches the lookup.
	ErrPermissionNotFound = errors.New("permission not found")
	// ErrDuplicate is returned when a role or permission name is already taken.
	ErrDuplicate = errors.New("role or permission already exists")
	// ErrRoleInUse is returned when deleting a role that identities still reference.
	ErrRoleInUse = errors.New("role is assigned to identities")
	// ErrSystemRole is returned when deleting one of the fixed roles.
	ErrSystemRole = errors.New("system roles cannot be deleted")
	// ErrSystemPermission is returned when modifying a system permission.
	ErrSystemPermission = errors.New("system permissions are immutable")
	// ErrUnavailable wraps backend failures.
	ErrUnavailable = errors.New("permission store unavailable")
)

// Store is the role and permission persistence contract.
//
// Implementations must be safe for concurrent use. DeleteRole must reject system
// roles with ErrSystemRole and referenced roles with ErrRoleInUse; it never cascades.
// AddRolePermission and RemoveRolePermission are idempotent.
type Store interface {
	GetRoleByID(ctx context.Context, id string) (Role, error)
	GetRoleByName(ctx context.Context, name string) (Role, error)
	ListRoles(ctx context.Context) ([]Role, error)
	CreateRole(ctx context.Context, role Role) (Role, error)
	DeleteRole(ctx context.Context, id string) error

	GetPermissionByName(ctx context.Context, name string) (Permission, error)
	ListPermissions(ctx context.Context) ([]Permission, error)
	PermissionsByIDs(ctx context.Context, ids []string) ([]Permission, error)
	CreatePermission(ctx context.Context, perm Permission) (Permission, error)

	AddRolePermission(ctx context.Context, roleID, permissionID string) error
	RemoveRolePermission(ctx context.Context, roleID, permissionID string) error
}
