package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ibn-api/authcore/identity"
	"github.com/ibn-api/authcore/permission"
)

var fixedNow = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type passthroughConverter struct{}

func (passthroughConverter) ConvertValue(v any) (driver.Value, error) {
	if valuer, ok := v.(driver.Valuer); ok {
		return valuer.Value()
	}
	return v, nil
}

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.ValueConverterOption(passthroughConverter{}))
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
		db.Close()
	})
	return New(db, func() time.Time { return fixedNow }), mock
}

var identityCols = []string{
	"id", "username", "email", "password_hash", "status", "failed_attempts", "locked_until",
	"role_id", "created_at", "updated_at", "last_login_at", "last_activity_at",
	"last_ip", "last_user_agent", "version",
}

func TestGetByLoginScansIdentity(t *testing.T) {
	s, mock := newMockStore(t)
	until := fixedNow.Add(30 * time.Minute)

	mock.ExpectQuery("select (.+) from identities where username = \\$1 or").
		WithArgs("bob").
		WillReturnRows(sqlmock.NewRows(identityCols).AddRow(
			"u-1", "bob", "bob@example.com", "$argon2id$...", "locked", 5, until,
			"r-4", fixedNow, fixedNow, nil, nil, "10.0.0.1", "curl", int64(7),
		))

	rec, err := s.GetByLogin(context.Background(), "bob")
	if err != nil {
		t.Fatalf("GetByLogin: %v", err)
	}
	if rec.Status != identity.StatusLocked || rec.FailedAttempts != 5 || rec.Version != 7 {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if rec.LockedUntil == nil || !rec.LockedUntil.Equal(until) {
		t.Fatalf("locked_until not scanned: %v", rec.LockedUntil)
	}
	if rec.LastLoginAt != nil {
		t.Fatalf("expected nil last login, got %v", rec.LastLoginAt)
	}
	if rec.RoleID != "r-4" {
		t.Fatalf("unexpected role id %q", rec.RoleID)
	}
}

func TestListOrdersByUsername(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery("select (.+) from identities order by username").
		WillReturnRows(sqlmock.NewRows(identityCols).
			AddRow("u-2", "amy", "", "x", "active", 0, nil, "r-3", fixedNow, fixedNow, nil, nil, "", "", int64(1)).
			AddRow("u-1", "bob", "", "x", "inactive", 0, nil, "r-4", fixedNow, fixedNow, nil, nil, "", "", int64(2)))

	list, err := s.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 2 || list[0].Username != "amy" || list[1].Status != identity.StatusInactive {
		t.Fatalf("unexpected list: %+v", list)
	}
}

func TestGetByIDNotFound(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery("select (.+) from identities where id = \\$1").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	if _, err := s.GetByID(context.Background(), "missing"); !errors.Is(err, identity.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCreateDuplicateMapsUniqueViolation(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec("insert into identities").
		WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation})

	_, err := s.Create(context.Background(), identity.Identity{Username: "bob", PasswordHash: "x"})
	if !errors.Is(err, identity.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
}

func TestUpdateVersionedWrite(t *testing.T) {
	s, mock := newMockStore(t)
	rec := identity.Identity{ID: "u-1", Username: "bob", Status: identity.StatusActive, FailedAttempts: 1}

	mock.ExpectQuery("update identities set (.+) where id = \\$1 and version = \\$14").
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(int64(4)))

	saved, err := s.Update(context.Background(), rec, 3)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if saved.Version != 4 {
		t.Fatalf("expected version 4, got %d", saved.Version)
	}
}

func TestUpdateDistinguishesConflictFromMissing(t *testing.T) {
	s, mock := newMockStore(t)
	rec := identity.Identity{ID: "u-1", Username: "bob"}

	mock.ExpectQuery("update identities set").WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery("select exists\\(select 1 from identities where id = \\$1\\)").
		WithArgs("u-1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	if _, err := s.Update(context.Background(), rec, 3); !errors.Is(err, identity.ErrVersionConflict) {
		t.Fatalf("expected ErrVersionConflict, got %v", err)
	}

	mock.ExpectQuery("update identities set").WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery("select exists\\(select 1 from identities where id = \\$1\\)").
		WithArgs("u-1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	if _, err := s.Update(context.Background(), rec, 3); !errors.Is(err, identity.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestBackendErrorWrapsUnavailable(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery("select (.+) from identities where id").WillReturnError(errors.New("conn reset"))

	if _, err := s.GetByID(context.Background(), "u-1"); !errors.Is(err, identity.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

var roleCols = []string{"id", "name", "display_name", "description", "priority", "active", "system", "created_at", "updated_at"}

func TestGetRoleByNameLoadsGrants(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery("select (.+) from roles where name = \\$1").
		WithArgs("tester").
		WillReturnRows(sqlmock.NewRows(roleCols).AddRow("r-4", "tester", "Tester", "", 4, true, true, fixedNow, fixedNow))
	mock.ExpectQuery("select permission_id from role_permissions where role_id = \\$1").
		WithArgs("r-4").
		WillReturnRows(sqlmock.NewRows([]string{"permission_id"}).AddRow("p-1").AddRow("p-2"))

	r, err := s.GetRoleByName(context.Background(), "tester")
	if err != nil {
		t.Fatalf("GetRoleByName: %v", err)
	}
	if r.Priority != 4 || !r.System || len(r.PermissionIDs) != 2 {
		t.Fatalf("unexpected role: %+v", r)
	}
}

func TestDeleteRoleGuards(t *testing.T) {
	ctx := context.Background()

	t.Run("system", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectQuery("select system from roles where id = \\$1 for update").
			WithArgs("r-1").
			WillReturnRows(sqlmock.NewRows([]string{"system"}).AddRow(true))
		mock.ExpectRollback()

		if err := s.DeleteRole(ctx, "r-1"); !errors.Is(err, permission.ErrSystemRole) {
			t.Fatalf("expected ErrSystemRole, got %v", err)
		}
	})

	t.Run("in use", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectQuery("select system from roles").
			WillReturnRows(sqlmock.NewRows([]string{"system"}).AddRow(false))
		mock.ExpectQuery("select exists\\(select 1 from identities where role_id = \\$1\\)").
			WithArgs("r-9").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
		mock.ExpectRollback()

		if err := s.DeleteRole(ctx, "r-9"); !errors.Is(err, permission.ErrRoleInUse) {
			t.Fatalf("expected ErrRoleInUse, got %v", err)
		}
	})

	t.Run("deleted", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectQuery("select system from roles").
			WillReturnRows(sqlmock.NewRows([]string{"system"}).AddRow(false))
		mock.ExpectQuery("select exists").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
		mock.ExpectExec("delete from roles where id = \\$1").
			WithArgs("r-9").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		if err := s.DeleteRole(ctx, "r-9"); err != nil {
			t.Fatalf("DeleteRole: %v", err)
		}
	})

	t.Run("missing", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectQuery("select system from roles").WillReturnError(sql.ErrNoRows)
		mock.ExpectRollback()

		if err := s.DeleteRole(ctx, "nope"); !errors.Is(err, permission.ErrRoleNotFound) {
			t.Fatalf("expected ErrRoleNotFound, got %v", err)
		}
	})
}

func TestAddRolePermissionIsIdempotentInsert(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec("insert into role_permissions (.+) on conflict do nothing").
		WithArgs("r-4", "p-1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := s.AddRolePermission(context.Background(), "r-4", "p-1"); err != nil {
		t.Fatalf("AddRolePermission: %v", err)
	}
}

func TestPermissionsByIDs(t *testing.T) {
	s, mock := newMockStore(t)
	cols := []string{"id", "name", "display_name", "description", "module", "resource", "action", "system", "created_at"}
	mock.ExpectQuery("select (.+) from permissions where id = any\\(\\$1\\)").
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("p-1", "view_projects", "View Projects", "", "projects", "projects", "view", true, fixedNow))

	perms, err := s.PermissionsByIDs(context.Background(), []string{"p-1", "gone"})
	if err != nil {
		t.Fatalf("PermissionsByIDs: %v", err)
	}
	if len(perms) != 1 || perms[0].Name != "view_projects" {
		t.Fatalf("unexpected permissions: %+v", perms)
	}

	none, err := s.PermissionsByIDs(context.Background(), nil)
	if err != nil || len(none) != 0 {
		t.Fatalf("empty ids: %v %v", none, err)
	}
}

func TestPgx5DSN(t *testing.T) {
	cases := map[string]string{
		"postgres://u:p@h/db":   "pgx5://u:p@h/db",
		"postgresql://u:p@h/db": "pgx5://u:p@h/db",
		"pgx5://u:p@h/db":       "pgx5://u:p@h/db",
	}
	for in, want := range cases {
		if got := pgx5DSN(in); got != want {
			t.Fatalf("pgx5DSN(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestEmbeddedMigrationsPresent(t *testing.T) {
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		t.Fatalf("read migrations: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected up and down migration, got %d files", len(entries))
	}
}
