package permission

import (
	"context"
	"errors"
	"fmt"
)

// SeedReport counts the rows a [Seed] call created.
type SeedReport struct {
	PermissionsCreated int
	RolesCreated       int
	GrantsAdded        int
}

// Seed installs the system permission catalog and the four system roles. It only
// creates what is missing. Default grants are attached when a system role is
// created, so grants later revoked by an administrator are not restored.
func Seed(ctx context.Context, store Store) (SeedReport, error) {
	var report SeedReport

	byName := make(map[string]Permission, len(systemCatalog))
	for _, p := range SystemPermissions() {
		existing, err := store.GetPermissionByName(ctx, p.Name)
		switch {
		case err == nil:
			byName[p.Name] = existing
			continue
		case !errors.Is(err, ErrPermissionNotFound):
			return report, fmt.Errorf("seed permission %s: %w", p.Name, err)
		}

		created, err := store.CreatePermission(ctx, p)
		if err != nil {
			return report, fmt.Errorf("seed permission %s: %w", p.Name, err)
		}
		byName[p.Name] = created
		report.PermissionsCreated++
	}

	for _, role := range SystemRoles() {
		_, err := store.GetRoleByName(ctx, role.Name)
		if err == nil {
			continue
		}
		if !errors.Is(err, ErrRoleNotFound) {
			return report, fmt.Errorf("seed role %s: %w", role.Name, err)
		}

		created, err := store.CreateRole(ctx, role)
		if err != nil {
			return report, fmt.Errorf("seed role %s: %w", role.Name, err)
		}
		report.RolesCreated++

		for _, name := range defaultRoleGrants[role.Name] {
			p, ok := byName[name]
			if !ok {
				return report, fmt.Errorf("seed role %s: %w: %s", role.Name, ErrPermissionNotFound, name)
			}
			if err := store.AddRolePermission(ctx, created.ID, p.ID); err != nil {
				return report, fmt.Errorf("seed grant %s/%s: %w", role.Name, name, err)
			}
			report.GrantsAdded++
		}
	}

	return report, nil
}
