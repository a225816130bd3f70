package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/ibn-api/authcore/identity"
	"github.com/ibn-api/authcore/internal"
	"github.com/ibn-api/authcore/permission"
)

// Store implements identity.Store and permission.Store over a SQLite database.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

var (
	_ identity.Store   = (*Store)(nil)
	_ permission.Store = (*Store)(nil)
)

// Open creates the database directory if needed, applies pragmas and the schema.
func Open(path string, now func() time.Time) (*Store, error) {
	if now == nil {
		now = time.Now
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("sqlite: create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite: %s: %w", p, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: schema: %w", err)
	}
	if _, err := db.Exec(
		`INSERT INTO metadata(key, value) VALUES ('schema_version', ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		strconv.Itoa(SchemaVersion),
	); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: schema version: %w", err)
	}

	return &Store{db: db, now: now}, nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// Ping reports whether the database is usable.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// isConstraint matches the extended result code, falling back to the primary
// code plus the message when extended codes are not reported.
func isConstraint(err error, extended int, keyword string) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	if se.Code() == extended {
		return true
	}
	return se.Code()&0xff == sqlite3.SQLITE_CONSTRAINT && strings.Contains(se.Error(), keyword)
}

func isUnique(err error) bool {
	return isConstraint(err, sqlite3.SQLITE_CONSTRAINT_UNIQUE, "UNIQUE") ||
		isConstraint(err, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, "PRIMARY KEY")
}

func isForeignKey(err error) bool {
	return isConstraint(err, sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY, "FOREIGN KEY")
}

func toMillis(t time.Time) int64 { return t.UnixMilli() }

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func ptrMillis(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMillis(v.Int64)
	return &t
}

func nullIfEmpty(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

type scanner interface {
	Scan(dest ...any) error
}

const identityColumns = `id, username, email, password_hash, status, failed_attempts, locked_until,
	coalesce(role_id, ''), created_at, updated_at, last_login_at, last_activity_at,
	last_ip, last_user_agent, version`

func scanIdentity(row scanner) (identity.Identity, error) {
	var (
		rec                              identity.Identity
		status                           string
		created, updated                 int64
		lockedUntil, lastLogin, activity sql.NullInt64
		version                          int64
	)
	if err := row.Scan(&rec.ID, &rec.Username, &rec.Email, &rec.PasswordHash, &status,
		&rec.FailedAttempts, &lockedUntil, &rec.RoleID, &created, &updated, &lastLogin,
		&activity, &rec.LastIP, &rec.LastUserAgent, &version); err != nil {
		return identity.Identity{}, err
	}
	rec.Status = identity.Status(status)
	rec.LockedUntil = ptrMillis(lockedUntil)
	rec.CreatedAt = fromMillis(created)
	rec.UpdatedAt = fromMillis(updated)
	rec.LastLoginAt = ptrMillis(lastLogin)
	rec.LastActivityAt = ptrMillis(activity)
	rec.Version = uint64(version)
	return rec, nil
}

func identityErr(err error) error {
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return identity.ErrNotFound
	case isUnique(err):
		return identity.ErrDuplicate
	default:
		return fmt.Errorf("%w: %v", identity.ErrUnavailable, err)
	}
}

// GetByLogin prefers an exact username match over a case-insensitive email match.
func (s *Store) GetByLogin(ctx context.Context, login string) (identity.Identity, error) {
	rec, err := scanIdentity(s.db.QueryRowContext(ctx,
		`SELECT `+identityColumns+` FROM identities
		WHERE username = ?1 OR (email <> '' AND lower(email) = lower(?1))
		ORDER BY username = ?1 DESC LIMIT 1`, login))
	if err != nil {
		return identity.Identity{}, identityErr(err)
	}
	return rec, nil
}

func (s *Store) GetByID(ctx context.Context, id string) (identity.Identity, error) {
	rec, err := scanIdentity(s.db.QueryRowContext(ctx,
		`SELECT `+identityColumns+` FROM identities WHERE id = ?`, id))
	if err != nil {
		return identity.Identity{}, identityErr(err)
	}
	return rec, nil
}

func (s *Store) Create(ctx context.Context, rec identity.Identity) (identity.Identity, error) {
	if rec.ID == "" {
		rec.ID = internal.NewID()
	}
	if rec.Status == "" {
		rec.Status = identity.StatusActive
	}
	now := s.now().UTC().Truncate(time.Millisecond)
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	rec.Version = 1

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO identities (id, username, email, password_hash, status, failed_attempts,
			locked_until, role_id, created_at, updated_at, last_login_at, last_activity_at,
			last_ip, last_user_agent, version)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,1)`,
		rec.ID, rec.Username, rec.Email, rec.PasswordHash, string(rec.Status), rec.FailedAttempts,
		nullMillis(rec.LockedUntil), nullIfEmpty(rec.RoleID), toMillis(rec.CreatedAt),
		toMillis(rec.UpdatedAt), nullMillis(rec.LastLoginAt), nullMillis(rec.LastActivityAt),
		rec.LastIP, rec.LastUserAgent)
	if err != nil {
		return identity.Identity{}, identityErr(err)
	}
	return rec, nil
}

// Update writes rec only if the stored version still equals expectedVersion.
func (s *Store) Update(ctx context.Context, rec identity.Identity, expectedVersion uint64) (identity.Identity, error) {
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = s.now()
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE identities SET username = ?, email = ?, password_hash = ?, status = ?,
			failed_attempts = ?, locked_until = ?, role_id = ?, updated_at = ?,
			last_login_at = ?, last_activity_at = ?, last_ip = ?, last_user_agent = ?,
			version = version + 1
		WHERE id = ? AND version = ?`,
		rec.Username, rec.Email, rec.PasswordHash, string(rec.Status), rec.FailedAttempts,
		nullMillis(rec.LockedUntil), nullIfEmpty(rec.RoleID), toMillis(rec.UpdatedAt),
		nullMillis(rec.LastLoginAt), nullMillis(rec.LastActivityAt), rec.LastIP, rec.LastUserAgent,
		rec.ID, int64(expectedVersion))
	if err != nil {
		return identity.Identity{}, identityErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return identity.Identity{}, identityErr(err)
	}
	if n == 1 {
		rec.Version = expectedVersion + 1
		return rec, nil
	}

	var exists bool
	if err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM identities WHERE id = ?)`, rec.ID).Scan(&exists); err != nil {
		return identity.Identity{}, identityErr(err)
	}
	if !exists {
		return identity.Identity{}, identity.ErrNotFound
	}
	return identity.Identity{}, identity.ErrVersionConflict
}

func (s *Store) ListByRole(ctx context.Context, roleID string) ([]identity.Identity, error) {
	return s.queryIdentities(ctx, `SELECT `+identityColumns+` FROM identities WHERE role_id = ? ORDER BY username`, roleID)
}

func (s *Store) List(ctx context.Context) ([]identity.Identity, error) {
	return s.queryIdentities(ctx, `SELECT `+identityColumns+` FROM identities ORDER BY username`)
}

func (s *Store) queryIdentities(ctx context.Context, query string, args ...any) ([]identity.Identity, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, identityErr(err)
	}
	defer rows.Close()

	var out []identity.Identity
	for rows.Next() {
		rec, err := scanIdentity(rows)
		if err != nil {
			return nil, identityErr(err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, identityErr(err)
	}
	return out, nil
}

const roleColumns = `id, name, display_name, description, priority, active, system, created_at, updated_at`

const permissionColumns = `id, name, display_name, description, module, resource, action, system, created_at`

func roleErr(err error, notFound error) error {
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return notFound
	case isUnique(err):
		return permission.ErrDuplicate
	case isForeignKey(err):
		return permission.ErrRoleInUse
	default:
		return fmt.Errorf("%w: %v", permission.ErrUnavailable, err)
	}
}

func scanRole(row scanner) (permission.Role, error) {
	var (
		r                permission.Role
		created, updated int64
	)
	if err := row.Scan(&r.ID, &r.Name, &r.DisplayName, &r.Description, &r.Priority,
		&r.Active, &r.System, &created, &updated); err != nil {
		return permission.Role{}, err
	}
	r.CreatedAt = fromMillis(created)
	r.UpdatedAt = fromMillis(updated)
	return r, nil
}

func scanPermission(row scanner) (permission.Permission, error) {
	var (
		p       permission.Permission
		created int64
	)
	if err := row.Scan(&p.ID, &p.Name, &p.DisplayName, &p.Description, &p.Module,
		&p.Resource, &p.Action, &p.System, &created); err != nil {
		return permission.Permission{}, err
	}
	p.CreatedAt = fromMillis(created)
	return p, nil
}

func (s *Store) grantsFor(ctx context.Context, roleID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT permission_id FROM role_permissions WHERE role_id = ? ORDER BY permission_id`, roleID)
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

func (s *Store) getRole(ctx context.Context, where string, arg string) (permission.Role, error) {
	r, err := scanRole(s.db.QueryRowContext(ctx,
		`SELECT `+roleColumns+` FROM roles WHERE `+where+` = ?`, arg))
	if err != nil {
		return permission.Role{}, roleErr(err, permission.ErrRoleNotFound)
	}
	if r.PermissionIDs, err = s.grantsFor(ctx, r.ID); err != nil {
		return permission.Role{}, roleErr(err, permission.ErrRoleNotFound)
	}
	return r, nil
}

func (s *Store) GetRoleByID(ctx context.Context, id string) (permission.Role, error) {
	return s.getRole(ctx, "id", id)
}

func (s *Store) GetRoleByName(ctx context.Context, name string) (permission.Role, error) {
	return s.getRole(ctx, "name", name)
}

// ListRoles returns roles ordered by priority, then name.
func (s *Store) ListRoles(ctx context.Context) ([]permission.Role, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+roleColumns+` FROM roles ORDER BY priority, name`)
	if err != nil {
		return nil, roleErr(err, permission.ErrRoleNotFound)
	}
	var roles []permission.Role
	for rows.Next() {
		r, err := scanRole(rows)
		if err != nil {
			rows.Close()
			return nil, roleErr(err, permission.ErrRoleNotFound)
		}
		roles = append(roles, r)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, roleErr(err, permission.ErrRoleNotFound)
	}

	// One connection: grants are read after the role cursor is closed.
	for i := range roles {
		if roles[i].PermissionIDs, err = s.grantsFor(ctx, roles[i].ID); err != nil {
			return nil, roleErr(err, permission.ErrRoleNotFound)
		}
	}
	return roles, nil
}

func (s *Store) CreateRole(ctx context.Context, role permission.Role) (permission.Role, error) {
	if role.ID == "" {
		role.ID = internal.NewID()
	}
	now := s.now().UTC().Truncate(time.Millisecond)
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
		`INSERT INTO roles (`+roleColumns+`) VALUES (?,?,?,?,?,?,?,?,?)`,
		role.ID, role.Name, role.DisplayName, role.Description, role.Priority,
		role.Active, role.System, toMillis(role.CreatedAt), toMillis(role.UpdatedAt)); err != nil {
		return permission.Role{}, roleErr(err, permission.ErrRoleNotFound)
	}
	for _, permID := range role.PermissionIDs {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO role_permissions (role_id, permission_id) VALUES (?, ?)`,
			role.ID, permID); err != nil {
			if isForeignKey(err) {
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
	if err := tx.QueryRowContext(ctx, `SELECT system FROM roles WHERE id = ?`, id).Scan(&system); err != nil {
		return roleErr(err, permission.ErrRoleNotFound)
	}
	if system {
		return permission.ErrSystemRole
	}
	var inUse bool
	if err := tx.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM identities WHERE role_id = ?)`, id).Scan(&inUse); err != nil {
		return roleErr(err, permission.ErrRoleNotFound)
	}
	if inUse {
		return permission.ErrRoleInUse
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM roles WHERE id = ?`, id); err != nil {
		return roleErr(err, permission.ErrRoleNotFound)
	}
	if err := tx.Commit(); err != nil {
		return roleErr(err, permission.ErrRoleNotFound)
	}
	return nil
}

func (s *Store) GetPermissionByName(ctx context.Context, name string) (permission.Permission, error) {
	p, err := scanPermission(s.db.QueryRowContext(ctx,
		`SELECT `+permissionColumns+` FROM permissions WHERE name = ?`, name))
	if err != nil {
		return permission.Permission{}, roleErr(err, permission.ErrPermissionNotFound)
	}
	return p, nil
}

func (s *Store) ListPermissions(ctx context.Context) ([]permission.Permission, error) {
	return s.queryPermissions(ctx, `SELECT `+permissionColumns+` FROM permissions ORDER BY module, name`)
}

// PermissionsByIDs skips ids that no longer exist.
func (s *Store) PermissionsByIDs(ctx context.Context, ids []string) ([]permission.Permission, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	return s.queryPermissions(ctx,
		`SELECT `+permissionColumns+` FROM permissions WHERE id IN (`+placeholders+`) ORDER BY name`, args...)
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
		perm.CreatedAt = s.now().UTC().Truncate(time.Millisecond)
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO permissions (`+permissionColumns+`) VALUES (?,?,?,?,?,?,?,?,?)`,
		perm.ID, perm.Name, perm.DisplayName, perm.Description, perm.Module,
		perm.Resource, perm.Action, perm.System, toMillis(perm.CreatedAt)); err != nil {
		return permission.Permission{}, roleErr(err, permission.ErrPermissionNotFound)
	}
	return perm, nil
}

func (s *Store) AddRolePermission(ctx context.Context, roleID, permissionID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO role_permissions (role_id, permission_id) VALUES (?, ?)`,
		roleID, permissionID)
	if err == nil {
		return nil
	}
	if isForeignKey(err) {
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
		`SELECT EXISTS(SELECT 1 FROM roles WHERE id = ?)`, roleID).Scan(&exists); err != nil {
		return roleErr(err, permission.ErrRoleNotFound)
	}
	if !exists {
		return permission.ErrRoleNotFound
	}
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM role_permissions WHERE role_id = ? AND permission_id = ?`,
		roleID, permissionID); err != nil {
		return roleErr(err, permission.ErrRoleNotFound)
	}
	return nil
}
