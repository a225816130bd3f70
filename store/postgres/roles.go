package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ibn-api/authcore/internal"
	"github.com/ibn-api/authcore/permission"
)

const roleColumns = `id, name, display_name, description, priority, active, system, created_at, updated_at`

const permissionColumns = `id, name, display_name, description, module, resource, action, system, created_at`

func roleErr(err error, notFound error) error {
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return notFound
	case pgCode(err) == pgErrUniqueViolation:
		return permission.ErrDuplicate
	case pgCode(err) == pgErrForeignKeyViolation:
		return permission.ErrRoleInUse
	default:
		return fmt.Errorf("%w: %v", permission.ErrUnavailable, err)
	}
}

func scanRole(row scanner) (permission.Role, error) {
	var r permission.Role
	err := row.Scan(&r.ID, &r.Name, &r.DisplayName, &r.Description, &r.Priority,
		&r.Active, &r.System, &r.CreatedAt, &r.UpdatedAt)
	return r, err
}

func scanPermission(row scanner) (permission.Permission, error) {
	var p permission.Permission
	err := row.Scan(&p.ID, &p.Name, &p.DisplayName, &p.Description, &p.Module,
		&p.Resource, &p.Action, &p.System, &p.CreatedAt)
	return p, err
}

func (s *Store) rolePermissionIDs(ctx context.Context, roleID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`select permission_id from role_permissions where role_id = $1 order by permission_id`, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) getRole(ctx context.Context, query string, arg string) (permission.Role, error) {
	r, err := scanRole(s.db.QueryRowContext(ctx, query, arg))
	if err != nil {
		return permission.Role{}, roleErr(err, permission.ErrRoleNotFound)
	}
	r.PermissionIDs, err = s.rolePermissionIDs(ctx, r.ID)
	if err != nil {
		return permission.Role{}, roleErr(err, permission.ErrRoleNotFound)
	}
	return r, nil
}

func (s *Store) GetRoleByID(ctx context.Context, id string) (permission.Role, error) {
	return s.getRole(ctx, `select `+roleColumns+` from roles where id = $1`, id)
}

func (s *Store) GetRoleByName(ctx context.Context, name string) (permission.Role, error) {
	return s.getRole(ctx, `select `+roleColumns+` from roles where name = $1`, name)
}

// ListRoles returns roles ordered by priority, then name, with their grants.
func (s *Store) ListRoles(ctx context.Context) ([]permission.Role, error) {
	rows, err := s.db.QueryContext(ctx,
		`select `+roleColumns+` from roles order by priority, name`)
	if err != nil {
		return nil, roleErr(err, permission.ErrRoleNotFound)
	}
	var (
		roles []permission.Role
		index = map[string]int{}
	)
	for rows.Next() {
		r, err := scanRole(rows)
		if err != nil {
			rows.Close()
			return nil, roleErr(err, permission.ErrRoleNotFound)
		}
		index[r.ID] = len(roles)
		roles = append(roles, r)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, roleErr(err, permission.ErrRoleNotFound)
	}
	rows.Close()

	grants, err := s.db.QueryContext(ctx,
		`select role_id, permission_id from role_permissions order by role_id, permission_id`)
	if err != nil {
		return nil, roleErr(err, permission.ErrRoleNotFound)
	}
	defer grants.Close()
	for grants.Next() {
		var roleID, permID string
		if err := grants.Scan(&roleID, &permID); err != nil {
			return nil, roleErr(err, permission.ErrRoleNotFound)
		}
		if i, ok := index[roleID]; ok {
			roles[i].PermissionIDs = append(roles[i].PermissionIDs, permID)
		}
	}
	if err := grants.Err(); err != nil {
		return nil, roleErr(err, permission.ErrRoleNotFound)
	}
	return roles, nil
}

// CreateRole inserts the role and its initial grants in one transaction.
func (s *Store) CreateRole(ctx context.Context, role permission.Role) (permission.Role, error) {
	if role.ID == "" {
		role.ID = internal.NewID()
	}
	now := s.now()
	if role.CreatedAt.IsZero() {
		role.CreatedAt = now
	}
	role.UpdatedAt = now

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return permission.Role{}, roleErr(err, permission.ErrRoleNotFound)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`insert into roles (`+roleColumns+`) values ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		role.ID, role.Name, role.DisplayName, role.Description, role.Priority,
		role.Active, role.System, role.CreatedAt, role.UpdatedAt,
	); err != nil {
		return permission.Role{}, roleErr(err, permission.ErrRoleNotFound)
	}
	for _, permID := range role.PermissionIDs {
		if _, err := tx.ExecContext(ctx,
			`insert into role_permissions (role_id, permission_id) values ($1,$2) on conflict do nothing`,
			role.ID, permID,
		); err != nil {
			if pgCode(err) == pgErrForeignKeyViolation {
				return permission.Role{}, permission.ErrPermissionNotFound
			}
			return permission.Role{}, roleErr(err, permission.ErrRoleNotFound)
		}
	}
	if err := tx.Commit(); err != nil {
		return permission.Role{}, roleErr(err, permission.ErrRoleNotFound)
	}
	role.PermissionIDs = append([]string(nil), role.PermissionIDs...)
	return role, nil
}

// DeleteRole rejects system roles and roles still referenced by identities.
func (s *Store) DeleteRole(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return roleErr(err, permission.ErrRoleNotFound)
	}
	defer func() { _ = tx.Rollback() }()

	var system bool
	if err := tx.QueryRowContext(ctx,
		`select system from roles where id = $1 for update`, id,
	).Scan(&system); err != nil {
		return roleErr(err, permission.ErrRoleNotFound)
	}
	if system {
		return permission.ErrSystemRole
	}

	var inUse bool
	if err := tx.QueryRowContext(ctx,
		`select exists(select 1 from identities where role_id = $1)`, id,
	).Scan(&inUse); err != nil {
		return roleErr(err, permission.ErrRoleNotFound)
	}
	if inUse {
		return permission.ErrRoleInUse
	}

	if _, err := tx.ExecContext(ctx, `delete from roles where id = $1`, id); err != nil {
		return roleErr(err, permission.ErrRoleNotFound)
	}
	if err := tx.Commit(); err != nil {
		return roleErr(err, permission.ErrRoleNotFound)
	}
	return nil
}

func (s *Store) GetPermissionByName(ctx context.Context, name string) (permission.Permission, error) {
	p, err := scanPermission(s.db.QueryRowContext(ctx,
		`select `+permissionColumns+` from permissions where name = $1`, name))
	if err != nil {
		return permission.Permission{}, roleErr(err, permission.ErrPermissionNotFound)
	}
	return p, nil
}

func (s *Store) ListPermissions(ctx context.Context) ([]permission.Permission, error) {
	return s.queryPermissions(ctx,
		`select `+permissionColumns+` from permissions order by module, name`)
}

// PermissionsByIDs skips ids that no longer exist.
func (s *Store) PermissionsByIDs(ctx context.Context, ids []string) ([]permission.Permission, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return s.queryPermissions(ctx,
		`select `+permissionColumns+` from permissions where id = any($1) order by name`, ids)
}

func (s *Store) queryPermissions(ctx context.Context, query string, args ...any) ([]permission.Permission, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, roleErr(err, permission.ErrPermissionNotFound)
	}
	defer rows.Close()

	var out []permission.Permission
	for rows.Next() {
		p, err := scanPermission(rows)
		if err != nil {
			return nil, roleErr(err, permission.ErrPermissionNotFound)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, roleErr(err, permission.ErrPermissionNotFound)
	}
	return out, nil
}

func (s *Store) CreatePermission(ctx context.Context, perm permission.Permission) (permission.Permission, error) {
	if perm.ID == "" {
		perm.ID = internal.NewID()
	}
	if perm.CreatedAt.IsZero() {
		perm.CreatedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx,
		`insert into permissions (`+permissionColumns+`) values ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		perm.ID, perm.Name, perm.DisplayName, perm.Description, perm.Module,
		perm.Resource, perm.Action, perm.System, perm.CreatedAt,
	)
	if err != nil {
		return permission.Permission{}, roleErr(err, permission.ErrPermissionNotFound)
	}
	return perm, nil
}

func (s *Store) AddRolePermission(ctx context.Context, roleID, permissionID string) error {
	_, err := s.db.ExecContext(ctx,
		`insert into role_permissions (role_id, permission_id) values ($1,$2) on conflict do nothing`,
		roleID, permissionID)
	if err == nil {
		return nil
	}
	if pgCode(err) == pgErrForeignKeyViolation {
		if _, rerr := s.GetRoleByID(ctx, roleID); errors.Is(rerr, permission.ErrRoleNotFound) {
			return permission.ErrRoleNotFound
		}
		return permission.ErrPermissionNotFound
	}
	return roleErr(err, permission.ErrRoleNotFound)
}

func (s *Store) RemoveRolePermission(ctx context.Context, roleID, permissionID string) error {
	var exists bool
	if err := s.db.QueryRowContext(ctx,
		`select exists(select 1 from roles where id = $1)`, roleID,
	).Scan(&exists); err != nil {
		return roleErr(err, permission.ErrRoleNotFound)
	}
	if !exists {
		return permission.ErrRoleNotFound
	}
	if _, err := s.db.ExecContext(ctx,
		`delete from role_permissions where role_id = $1 and permission_id = $2`,
		roleID, permissionID,
	); err != nil {
		return roleErr(err, permission.ErrRoleNotFound)
	}
	return nil
}
