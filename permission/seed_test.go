package permission

import (
	"context"
	"testing"
)

func TestSeedIsIdempotent(t *testing.T) {
	store := newFakeStore()
	ctx := context.Background()

	first, err := Seed(ctx, store)
	if err != nil {
		t.Fatalf("first seed: %v", err)
	}
	if first.PermissionsCreated != 42 || first.RolesCreated != 4 {
		t.Fatalf("unexpected first report: %+v", first)
	}

	second, err := Seed(ctx, store)
	if err != nil {
		t.Fatalf("second seed: %v", err)
	}
	if second != (SeedReport{}) {
		t.Fatalf("expected nothing created on reseed, got %+v", second)
	}
}

func TestSeedKeepsRevokedGrants(t *testing.T) {
	store := newFakeStore()
	ctx := context.Background()

	if _, err := Seed(ctx, store); err != nil {
		t.Fatalf("seed: %v", err)
	}
	role, _ := store.GetRoleByName(ctx, RoleTester)
	perm, _ := store.GetPermissionByName(ctx, "create_test_data")
	if err := store.RemoveRolePermission(ctx, role.ID, perm.ID); err != nil {
		t.Fatalf("revoke: %v", err)
	}

	if _, err := Seed(ctx, store); err != nil {
		t.Fatalf("reseed: %v", err)
	}
	role, _ = store.GetRoleByName(ctx, RoleTester)
	if role.HasPermissionID(perm.ID) {
		t.Fatal("reseed restored a revoked grant")
	}
}
