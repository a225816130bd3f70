package permission

import (
	"context"
	"strconv"
	"sync"

	"github.com/ibn-api/authcore/identity"
)

type fakeIdentities struct {
	mu   sync.Mutex
	recs map[string]identity.Identity
}

func newFakeIdentities() *fakeIdentities {
	return &fakeIdentities{recs: map[string]identity.Identity{}}
}

func (f *fakeIdentities) put(id, roleID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recs[id] = identity.Identity{ID: id, Username: id, RoleID: roleID, Status: identity.StatusActive}
}

func (f *fakeIdentities) GetByID(_ context.Context, id string) (identity.Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.recs[id]
	if !ok {
		return identity.Identity{}, identity.ErrNotFound
	}
	return rec, nil
}

type fakeStore struct {
	mu     sync.Mutex
	seq    int
	roles  map[string]Role
	perms  map[string]Permission
	inUse  map[string]bool
	failed error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		roles: map[string]Role{},
		perms: map[string]Permission{},
		inUse: map[string]bool{},
	}
}

func (s *fakeStore) nextID(prefix string) string {
	s.seq++
	return prefix + strconv.Itoa(s.seq)
}

func (s *fakeStore) GetRoleByID(_ context.Context, id string) (Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failed != nil {
		return Role{}, s.failed
	}
	r, ok := s.roles[id]
	if !ok {
		return Role{}, ErrRoleNotFound
	}
	r.PermissionIDs = append([]string(nil), r.PermissionIDs...)
	return r, nil
}

func (s *fakeStore) GetRoleByName(_ context.Context, name string) (Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.roles {
		if r.Name == name {
			r.PermissionIDs = append([]string(nil), r.PermissionIDs...)
			return r, nil
		}
	}
	return Role{}, ErrRoleNotFound
}

func (s *fakeStore) ListRoles(context.Context) ([]Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Role, 0, len(s.roles))
	for _, r := range s.roles {
		out = append(out, r)
	}
	return out, nil
}

func (s *fakeStore) CreateRole(_ context.Context, role Role) (Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.roles {
		if r.Name == role.Name {
			return Role{}, ErrDuplicate
		}
	}
	role.ID = s.nextID("r")
	s.roles[role.ID] = role
	return role, nil
}

func (s *fakeStore) DeleteRole(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.roles[id]
	if !ok {
		return ErrRoleNotFound
	}
	if r.System {
		return ErrSystemRole
	}
	if s.inUse[id] {
		return ErrRoleInUse
	}
	delete(s.roles, id)
	return nil
}

func (s *fakeStore) GetPermissionByName(_ context.Context, name string) (Permission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.perms {
		if p.Name == name {
			return p, nil
		}
	}
	return Permission{}, ErrPermissionNotFound
}

func (s *fakeStore) ListPermissions(context.Context) ([]Permission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Permission, 0, len(s.perms))
	for _, p := range s.perms {
		out = append(out, p)
	}
	return out, nil
}

func (s *fakeStore) PermissionsByIDs(_ context.Context, ids []string) ([]Permission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Permission, 0, len(ids))
	for _, id := range ids {
		if p, ok := s.perms[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *fakeStore) CreatePermission(_ context.Context, p Permission) (Permission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.perms {
		if e.Name == p.Name {
			return Permission{}, ErrDuplicate
		}
	}
	p.ID = s.nextID("p")
	s.perms[p.ID] = p
	return p, nil
}

func (s *fakeStore) AddRolePermission(_ context.Context, roleID, permissionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.roles[roleID]
	if !ok {
		return ErrRoleNotFound
	}
	if _, ok := s.perms[permissionID]; !ok {
		return ErrPermissionNotFound
	}
	if !r.HasPermissionID(permissionID) {
		r.PermissionIDs = append(r.PermissionIDs, permissionID)
		s.roles[roleID] = r
	}
	return nil
}

func (s *fakeStore) RemoveRolePermission(_ context.Context, roleID, permissionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.roles[roleID]
	if !ok {
		return ErrRoleNotFound
	}
	kept := r.PermissionIDs[:0]
	for _, id := range r.PermissionIDs {
		if id != permissionID {
			kept = append(kept, id)
		}
	}
	r.PermissionIDs = kept
	s.roles[roleID] = r
	return nil
}

// newSeededResolver seeds the system catalog and creates one identity per system role,
// named after the role.
func newSeededResolver(t interface {
	Helper()
	Fatalf(string, ...any)
}) (*Resolver, *fakeStore, *fakeIdentities) {
	t.Helper()

	store := newFakeStore()
	if _, err := Seed(context.Background(), store); err != nil {
		t.Fatalf("seed: %v", err)
	}

	ids := newFakeIdentities()
	for _, name := range []string{RoleAdmin, RoleLeader, RoleDeveloper, RoleTester} {
		role, err := store.GetRoleByName(context.Background(), name)
		if err != nil {
			t.Fatalf("role %s: %v", name, err)
		}
		ids.put(name, role.ID)
	}
	ids.put("nobody", "")

	res, err := NewResolver(ids, store, nil, nil)
	if err != nil {
		t.Fatalf("resolver: %v", err)
	}
	return res, store, ids
}
