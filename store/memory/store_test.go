package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/ibn-api/authcore/identity"
	"github.com/ibn-api/authcore/permission"
)

func TestIdentityLookupAndVersioning(t *testing.T) {
	ctx := context.Background()
	s := New(nil)

	rec, err := s.Create(ctx, identity.Identity{Username: "alice", Email: "Alice@Example.com"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if rec.ID == "" || rec.Version != 1 || rec.Status != identity.StatusActive {
		t.Fatalf("unexpected created record: %+v", rec)
	}

	byName, err := s.GetByLogin(ctx, "alice")
	if err != nil || byName.ID != rec.ID {
		t.Fatalf("lookup by username: %+v %v", byName, err)
	}
	byEmail, err := s.GetByLogin(ctx, "alice@example.com")
	if err != nil || byEmail.ID != rec.ID {
		t.Fatalf("lookup by email: %+v %v", byEmail, err)
	}
	if _, err := s.GetByLogin(ctx, "bob"); !errors.Is(err, identity.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	rec.FailedAttempts = 2
	saved, err := s.Update(ctx, rec, 1)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if saved.Version != 2 {
		t.Fatalf("expected version 2, got %d", saved.Version)
	}

	rec.FailedAttempts = 3
	if _, err := s.Update(ctx, rec, 1); !errors.Is(err, identity.ErrVersionConflict) {
		t.Fatalf("expected ErrVersionConflict, got %v", err)
	}
}

func TestListIdentities(t *testing.T) {
	ctx := context.Background()
	s := New(nil)

	for _, rec := range []identity.Identity{
		{Username: "zoe", RoleID: "r1"},
		{Username: "adam", RoleID: "r2"},
		{Username: "mia", RoleID: "r1"},
	} {
		if _, err := s.Create(ctx, rec); err != nil {
			t.Fatalf("create %s: %v", rec.Username, err)
		}
	}

	all, err := s.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 3 || all[0].Username != "adam" || all[1].Username != "mia" || all[2].Username != "zoe" {
		t.Fatalf("expected identities ordered by username, got %+v", all)
	}

	r1, err := s.ListByRole(ctx, "r1")
	if err != nil || len(r1) != 2 || r1[0].Username != "mia" {
		t.Fatalf("list by role: %+v %v", r1, err)
	}
}

func TestIdentityDuplicates(t *testing.T) {
	ctx := context.Background()
	s := New(nil)

	if _, err := s.Create(ctx, identity.Identity{Username: "alice", Email: "a@example.com"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := s.Create(ctx, identity.Identity{Username: "alice", Email: "b@example.com"}); !errors.Is(err, identity.ErrDuplicate) {
		t.Fatalf("expected duplicate username, got %v", err)
	}
	if _, err := s.Create(ctx, identity.Identity{Username: "bob", Email: "A@example.com"}); !errors.Is(err, identity.ErrDuplicate) {
		t.Fatalf("expected duplicate email, got %v", err)
	}
}

func TestReturnedRecordsDoNotAlias(t *testing.T) {
	ctx := context.Background()
	s := New(nil)

	rec, _ := s.Create(ctx, identity.Identity{Username: "alice"})
	got, _ := s.GetByID(ctx, rec.ID)
	got.Username = "mallory"

	again, _ := s.GetByID(ctx, rec.ID)
	if again.Username != "alice" {
		t.Fatalf("store state changed through returned copy: %q", again.Username)
	}
}

func TestDeleteRoleGuards(t *testing.T) {
	ctx := context.Background()
	s := New(nil)

	if _, err := permission.Seed(ctx, s); err != nil {
		t.Fatalf("seed: %v", err)
	}
	admin, err := s.GetRoleByName(ctx, permission.RoleAdmin)
	if err != nil {
		t.Fatalf("admin role: %v", err)
	}
	if err := s.DeleteRole(ctx, admin.ID); !errors.Is(err, permission.ErrSystemRole) {
		t.Fatalf("expected ErrSystemRole, got %v", err)
	}

	custom, err := s.CreateRole(ctx, permission.Role{Name: "auditor", Priority: permission.CustomPriority, Active: true})
	if err != nil {
		t.Fatalf("create role: %v", err)
	}
	if _, err := s.Create(ctx, identity.Identity{Username: "carol", RoleID: custom.ID}); err != nil {
		t.Fatalf("create identity: %v", err)
	}
	if err := s.DeleteRole(ctx, custom.ID); !errors.Is(err, permission.ErrRoleInUse) {
		t.Fatalf("expected ErrRoleInUse, got %v", err)
	}

	carol, _ := s.GetByLogin(ctx, "carol")
	carol.RoleID = ""
	if _, err := s.Update(ctx, carol, carol.Version); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := s.DeleteRole(ctx, custom.ID); err != nil {
		t.Fatalf("delete unreferenced role: %v", err)
	}
	if _, err := s.GetRoleByName(ctx, "auditor"); !errors.Is(err, permission.ErrRoleNotFound) {
		t.Fatalf("expected ErrRoleNotFound, got %v", err)
	}
}

func TestRolePermissionGrantsAreIdempotent(t *testing.T) {
	ctx := context.Background()
	s := New(nil)

	role, _ := s.CreateRole(ctx, permission.Role{Name: "auditor", Active: true})
	perm, _ := s.CreatePermission(ctx, permission.Permission{Name: "view_logs"})

	for i := 0; i < 2; i++ {
		if err := s.AddRolePermission(ctx, role.ID, perm.ID); err != nil {
			t.Fatalf("add: %v", err)
		}
	}
	got, _ := s.GetRoleByID(ctx, role.ID)
	if len(got.PermissionIDs) != 1 {
		t.Fatalf("expected one grant, got %v", got.PermissionIDs)
	}

	for i := 0; i < 2; i++ {
		if err := s.RemoveRolePermission(ctx, role.ID, perm.ID); err != nil {
			t.Fatalf("remove: %v", err)
		}
	}
	got, _ = s.GetRoleByID(ctx, role.ID)
	if len(got.PermissionIDs) != 0 {
		t.Fatalf("expected no grants, got %v", got.PermissionIDs)
	}

	if err := s.AddRolePermission(ctx, role.ID, "missing"); !errors.Is(err, permission.ErrPermissionNotFound) {
		t.Fatalf("expected ErrPermissionNotFound, got %v", err)
	}
}
