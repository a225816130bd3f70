package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ibn-api/authcore/identity"
	"github.com/ibn-api/authcore/internal"
)

const identityColumns = `id, username, email, password_hash, status, failed_attempts, locked_until,
	coalesce(role_id, ''), created_at, updated_at, last_login_at, last_activity_at,
	last_ip, last_user_agent, version`

func scanIdentity(row scanner) (identity.Identity, error) {
	var (
		rec          identity.Identity
		status       string
		lockedUntil  sql.NullTime
		lastLogin    sql.NullTime
		lastActivity sql.NullTime
		version      int64
	)
	err := row.Scan(
		&rec.ID, &rec.Username, &rec.Email, &rec.PasswordHash, &status, &rec.FailedAttempts,
		&lockedUntil, &rec.RoleID, &rec.CreatedAt, &rec.UpdatedAt, &lastLogin, &lastActivity,
		&rec.LastIP, &rec.LastUserAgent, &version,
	)
	if err != nil {
		return identity.Identity{}, err
	}
	rec.Status = identity.Status(status)
	rec.LockedUntil = timePtr(lockedUntil)
	rec.LastLoginAt = timePtr(lastLogin)
	rec.LastActivityAt = timePtr(lastActivity)
	rec.Version = uint64(version)
	return rec, nil
}

func identityErr(err error) error {
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return identity.ErrNotFound
	case pgCode(err) == pgErrUniqueViolation:
		return identity.ErrDuplicate
	default:
		return fmt.Errorf("%w: %v", identity.ErrUnavailable, err)
	}
}

// GetByLogin prefers an exact username match over a case-insensitive email match.
func (s *Store) GetByLogin(ctx context.Context, login string) (identity.Identity, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+identityColumns+` from identities
		where username = $1 or (email <> '' and lower(email) = lower($1))
		order by (username = $1) desc limit 1`, login)
	rec, err := scanIdentity(row)
	if err != nil {
		return identity.Identity{}, identityErr(err)
	}
	return rec, nil
}

func (s *Store) GetByID(ctx context.Context, id string) (identity.Identity, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+identityColumns+` from identities where id = $1`, id)
	rec, err := scanIdentity(row)
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
	now := s.now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	rec.Version = 1

	_, err := s.db.ExecContext(ctx,
		`insert into identities (id, username, email, password_hash, status, failed_attempts,
			locked_until, role_id, created_at, updated_at, last_login_at, last_activity_at,
			last_ip, last_user_agent, version)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,1)`,
		rec.ID, rec.Username, rec.Email, rec.PasswordHash, string(rec.Status), rec.FailedAttempts,
		nullTime(rec.LockedUntil), nullIfEmpty(rec.RoleID), rec.CreatedAt, rec.UpdatedAt,
		nullTime(rec.LastLoginAt), nullTime(rec.LastActivityAt), rec.LastIP, rec.LastUserAgent,
	)
	if err != nil {
		return identity.Identity{}, identityErr(err)
	}
	return rec, nil
}

// Update writes rec only if the stored version still equals expectedVersion.
func (s *Store) Update(ctx context.Context, rec identity.Identity, expectedVersion uint64) (identity.Identity, error) {
	var version int64
	err := s.db.QueryRowContext(ctx,
		`update identities set username = $2, email = $3, password_hash = $4, status = $5,
			failed_attempts = $6, locked_until = $7, role_id = $8, updated_at = $9,
			last_login_at = $10, last_activity_at = $11, last_ip = $12, last_user_agent = $13,
			version = version + 1
		where id = $1 and version = $14
		returning version`,
		rec.ID, rec.Username, rec.Email, rec.PasswordHash, string(rec.Status), rec.FailedAttempts,
		nullTime(rec.LockedUntil), nullIfEmpty(rec.RoleID), rec.UpdatedAt,
		nullTime(rec.LastLoginAt), nullTime(rec.LastActivityAt), rec.LastIP, rec.LastUserAgent,
		int64(expectedVersion),
	).Scan(&version)
	if err == nil {
		rec.Version = uint64(version)
		return rec, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return identity.Identity{}, identityErr(err)
	}

	var exists bool
	if err := s.db.QueryRowContext(ctx,
		`select exists(select 1 from identities where id = $1)`, rec.ID,
	).Scan(&exists); err != nil {
		return identity.Identity{}, identityErr(err)
	}
	if !exists {
		return identity.Identity{}, identity.ErrNotFound
	}
	return identity.Identity{}, identity.ErrVersionConflict
}

func (s *Store) ListByRole(ctx context.Context, roleID string) ([]identity.Identity, error) {
	return s.queryIdentities(ctx, `select `+identityColumns+` from identities where role_id = $1 order by username`, roleID)
}

func (s *Store) List(ctx context.Context) ([]identity.Identity, error) {
	return s.queryIdentities(ctx, `select `+identityColumns+` from identities order by username`)
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
