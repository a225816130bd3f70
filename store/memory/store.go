package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ibn-api/authcore/identity"
	"github.com/ibn-api/authcore/internal"
	"github.com/ibn-api/authcore/permission"
)

// Store keeps identities, roles and permissions in maps guarded by one RWMutex.
type Store struct {
	mu sync.RWMutex

	identities map[string]identity.Identity
	byUsername map[string]string
	byEmail    map[string]string

	roles      map[string]permission.Role
	roleByName map[string]string
	perms      map[string]permission.Permission
	permByName map[string]string

	now func() time.Time
}

var (
	_ identity.Store   = (*Store)(nil)
	_ permission.Store = (*Store)(nil)
)

// New returns an empty store. now may be nil.
func New(now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{
		identities: make(map[string]identity.Identity),
		byUsername: make(map[string]string),
		byEmail:    make(map[string]string),
		roles:      make(map[string]permission.Role),
		roleByName: make(map[string]string),
		perms:      make(map[string]permission.Permission),
		permByName: make(map[string]string),
		now:        now,
	}
}

func normEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// GetByLogin looks up by username, then by case-insensitive email.
func (s *Store) GetByLogin(_ context.Context, login string) (identity.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if id, ok := s.byUsername[login]; ok {
		return s.identities[id].Clone(), nil
	}
	if id, ok := s.byEmail[normEmail(login)]; ok {
		return s.identities[id].Clone(), nil
	}
	return identity.Identity{}, identity.ErrNotFound
}

func (s *Store) GetByID(_ context.Context, id string) (identity.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.identities[id]
	if !ok {
		return identity.Identity{}, identity.ErrNotFound
	}
	return rec.Clone(), nil
}

// Create stores rec with version 1. An empty ID is replaced by a random UUID.
func (s *Store) Create(_ context.Context, rec identity.Identity) (identity.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.ID == "" {
		rec.ID = internal.NewID()
	}
	if _, ok := s.identities[rec.ID]; ok {
		return identity.Identity{}, identity.ErrDuplicate
	}
	if _, ok := s.byUsername[rec.Username]; ok {
		return identity.Identity{}, identity.ErrDuplicate
	}
	email := normEmail(rec.Email)
	if email != "" {
		if _, ok := s.byEmail[email]; ok {
			return identity.Identity{}, identity.ErrDuplicate
		}
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

	s.identities[rec.ID] = rec.Clone()
	s.byUsername[rec.Username] = rec.ID
	if email != "" {
		s.byEmail[email] = rec.ID
	}
	return rec, nil
}

// Update is a compare-and-swap on Version.
func (s *Store) Update(_ context.Context, rec identity.Identity, expectedVersion uint64) (identity.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.identities[rec.ID]
	if !ok {
		return identity.Identity{}, identity.ErrNotFound
	}
	if cur.Version != expectedVersion {
		return identity.Identity{}, identity.ErrVersionConflict
	}

	if rec.Username != cur.Username {
		if _, taken := s.byUsername[rec.Username]; taken {
			return identity.Identity{}, identity.ErrDuplicate
		}
	}
	newEmail, oldEmail := normEmail(rec.Email), normEmail(cur.Email)
	if newEmail != oldEmail && newEmail != "" {
		if _, taken := s.byEmail[newEmail]; taken {
			return identity.Identity{}, identity.ErrDuplicate
		}
	}

	delete(s.byUsername, cur.Username)
	s.byUsername[rec.Username] = rec.ID
	if oldEmail != "" {
		delete(s.byEmail, oldEmail)
	}
	if newEmail != "" {
		s.byEmail[newEmail] = rec.ID
	}

	rec.CreatedAt = cur.CreatedAt
	rec.Version = expectedVersion + 1
	s.identities[rec.ID] = rec.Clone()
	return rec, nil
}

func (s *Store) ListByRole(_ context.Context, roleID string) ([]identity.Identity, error) {
	return s.listIdentities(func(rec identity.Identity) bool { return rec.RoleID == roleID }), nil
}

func (s *Store) List(context.Context) ([]identity.Identity, error) {
	return s.listIdentities(func(identity.Identity) bool { return true }), nil
}

func (s *Store) listIdentities(keep func(identity.Identity) bool) []identity.Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []identity.Identity
	for _, rec := range s.identities {
		if keep(rec) {
			out = append(out, rec.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out
}

func cloneRole(r permission.Role) permission.Role {
	r.PermissionIDs = append([]string(nil), r.PermissionIDs...)
	return r
}

func (s *Store) GetRoleByID(_ context.Context, id string) (permission.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.roles[id]
	if !ok {
		return permission.Role{}, permission.ErrRoleNotFound
	}
	return cloneRole(r), nil
}

func (s *Store) GetRoleByName(_ context.Context, name string) (permission.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.roleByName[name]
	if !ok {
		return permission.Role{}, permission.ErrRoleNotFound
	}
	return cloneRole(s.roles[id]), nil
}

// ListRoles returns roles ordered by priority, then name.
func (s *Store) ListRoles(_ context.Context) ([]permission.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]permission.Role, 0, len(s.roles))
	for _, r := range s.roles {
		out = append(out, cloneRole(r))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func (s *Store) CreateRole(_ context.Context, role permission.Role) (permission.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.roleByName[role.Name]; ok {
		return permission.Role{}, permission.ErrDuplicate
	}
	if role.ID == "" {
		role.ID = internal.NewID()
	}
	if _, ok := s.roles[role.ID]; ok {
		return permission.Role{}, permission.ErrDuplicate
	}
	now := s.now()
	if role.CreatedAt.IsZero() {
		role.CreatedAt = now
	}
	role.UpdatedAt = now

	s.roles[role.ID] = cloneRole(role)
	s.roleByName[role.Name] = role.ID
	return cloneRole(role), nil
}

// DeleteRole rejects system roles and roles referenced by any identity.
func (s *Store) DeleteRole(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.roles[id]
	if !ok {
		return permission.ErrRoleNotFound
	}
	if r.System {
		return permission.ErrSystemRole
	}
	for _, rec := range s.identities {
		if rec.RoleID == id {
			return permission.ErrRoleInUse
		}
	}
	delete(s.roles, id)
	delete(s.roleByName, r.Name)
	return nil
}

func (s *Store) GetPermissionByName(_ context.Context, name string) (permission.Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.permByName[name]
	if !ok {
		return permission.Permission{}, permission.ErrPermissionNotFound
	}
	return s.perms[id], nil
}

// ListPermissions returns permissions ordered by module, then name.
func (s *Store) ListPermissions(_ context.Context) ([]permission.Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]permission.Permission, 0, len(s.perms))
	for _, p := range s.perms {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Module != out[j].Module {
			return out[i].Module < out[j].Module
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

// PermissionsByIDs skips ids that no longer exist.
func (s *Store) PermissionsByIDs(_ context.Context, ids []string) ([]permission.Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]permission.Permission, 0, len(ids))
	for _, id := range ids {
		if p, ok := s.perms[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *Store) CreatePermission(_ context.Context, perm permission.Permission) (permission.Permission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.permByName[perm.Name]; ok {
		return permission.Permission{}, permission.ErrDuplicate
	}
	if perm.ID == "" {
		perm.ID = internal.NewID()
	}
	if perm.CreatedAt.IsZero() {
		perm.CreatedAt = s.now()
	}
	s.perms[perm.ID] = perm
	s.permByName[perm.Name] = perm.ID
	return perm, nil
}

func (s *Store) AddRolePermission(_ context.Context, roleID, permissionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.roles[roleID]
	if !ok {
		return permission.ErrRoleNotFound
	}
	if _, ok := s.perms[permissionID]; !ok {
		return permission.ErrPermissionNotFound
	}
	if r.HasPermissionID(permissionID) {
		return nil
	}
	r.PermissionIDs = append(append([]string(nil), r.PermissionIDs...), permissionID)
	r.UpdatedAt = s.now()
	s.roles[roleID] = r
	return nil
}

func (s *Store) RemoveRolePermission(_ context.Context, roleID, permissionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.roles[roleID]
	if !ok {
		return permission.ErrRoleNotFound
	}
	kept := make([]string, 0, len(r.PermissionIDs))
	for _, id := range r.PermissionIDs {
		if id != permissionID {
			kept = append(kept, id)
		}
	}
	if len(kept) == len(r.PermissionIDs) {
		return nil
	}
	r.PermissionIDs = kept
	r.UpdatedAt = s.now()
	s.roles[roleID] = r
	return nil
}
