package authcore

import (
	"context"
	"errors"
	"net/mail"
	"strings"

	"github.com/ibn-api/authcore/identity"
	"github.com/ibn-api/authcore/password"
	"github.com/ibn-api/authcore/permission"
)

// IdentitySpec describes an identity to create. Status defaults to active.
type IdentitySpec struct {
	Username string
	Email    string
	Password string
	Role     string
	Status   identity.Status
}

// CreateIdentity stores a new identity holding req.Role. The actor needs the
// users:create capability and must be able to manage the requested role, so a
// leader can add testers but never an admin. The password is hashed with the
// engine's argon2id parameters.
func (e *Engine) CreateIdentity(ctx context.Context, actorID string, req IdentitySpec) (PublicIdentity, error) {
	if !e.ready() {
		return PublicIdentity{}, ErrEngineNotReady
	}
	if err := e.requireCapability(ctx, actorID, "users", "create"); err != nil {
		return PublicIdentity{}, err
	}

	username := strings.TrimSpace(req.Username)
	email := strings.TrimSpace(req.Email)
	if username == "" {
		return PublicIdentity{}, ErrInvalidIdentity
	}
	if email != "" {
		if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
			return PublicIdentity{}, ErrInvalidIdentity
		}
	}
	status := identity.StatusActive
	if req.Status != "" {
		switch s := identity.Status(strings.ToLower(string(req.Status))); s {
		case identity.StatusActive, identity.StatusInactive, identity.StatusSuspended:
			status = s
		default:
			return PublicIdentity{}, ErrInvalidStatus
		}
	}

	roleName := strings.ToLower(strings.TrimSpace(req.Role))
	if roleName == "" {
		return PublicIdentity{}, ErrInvalidRoleName
	}
	role, err := e.manageableRole(ctx, actorID, roleName)
	if err != nil {
		return PublicIdentity{}, err
	}
	if !role.Active {
		return PublicIdentity{}, ErrRoleNotFound
	}

	hash, err := e.hasher.Hash(req.Password)
	if err != nil {
		if errors.Is(err, password.ErrPasswordTooShort) || errors.Is(err, password.ErrPasswordTooLong) {
			return PublicIdentity{}, ErrPasswordPolicy
		}
		return PublicIdentity{}, err
	}

	now := e.now()
	rec, err := e.identities.Create(ctx, identity.Identity{
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		Status:       status,
		RoleID:       role.ID,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if err != nil {
		if errors.Is(err, identity.ErrDuplicate) {
			return PublicIdentity{}, ErrIdentityExists
		}
		return PublicIdentity{}, storeUnavailable(err)
	}

	e.metricInc(MetricIdentityCreated)
	e.emitAudit(ctx, auditEventIdentityCreated, auditRecord{identityID: rec.ID, actorID: actorID}, nil, func() map[string]string {
		return map[string]string{
			"username": rec.Username,
			"role":     role.Name,
			"status":   string(rec.Status),
		}
	})
	return rec.Public(), nil
}

// ListIdentities returns identities ordered by username. A non-empty roleName
// restricts the list to holders of that role. The actor needs users:read.
func (e *Engine) ListIdentities(ctx context.Context, actorID, roleName string) ([]PublicIdentity, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	if err := e.requireCapability(ctx, actorID, "users", "read"); err != nil {
		return nil, err
	}

	var (
		list []identity.Identity
		err  error
	)
	if roleName = strings.ToLower(strings.TrimSpace(roleName)); roleName == "" {
		list, err = e.identities.List(ctx)
	} else {
		var role permission.Role
		role, err = e.roles.GetRoleByName(ctx, roleName)
		if err != nil {
			return nil, mapPermissionError(err)
		}
		list, err = e.identities.ListByRole(ctx, role.ID)
	}
	if err != nil {
		return nil, storeUnavailable(err)
	}

	out := make([]PublicIdentity, 0, len(list))
	for _, rec := range list {
		out = append(out, rec.Public())
	}
	return out, nil
}
