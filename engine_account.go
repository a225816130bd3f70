package authcore

import (
	"context"
	"errors"
	"strings"

	"github.com/ibn-api/authcore/identity"
	"github.com/ibn-api/authcore/password"
)

var errPasswordChangedConcurrently = errors.New("password changed concurrently")

// ChangePassword replaces the identity's password after verifying the current
// one, then invalidates every session of the identity.
func (e *Engine) ChangePassword(ctx context.Context, identityID, oldPassword, newPassword string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	ev := auditRecord{identityID: identityID, actorID: identityID}
	fail := func(err error, reason string) error {
		e.emitAudit(ctx, auditEventPasswordChangeFailure, ev, err, func() map[string]string {
			return map[string]string{"reason": reason}
		})
		return err
	}

	rec, err := e.identities.GetByID(ctx, identityID)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return fail(ErrIdentityNotFound, "identity_not_found")
		}
		return fail(storeUnavailable(err), "lookup_failed")
	}

	ok, err := e.hasher.Verify(oldPassword, rec.PasswordHash)
	if err != nil && !errors.Is(err, password.ErrPasswordTooLong) {
		e.logger.Warn("stored password hash unreadable", "identity_id", identityID, "error", err)
	}
	if !ok {
		e.metricInc(MetricPasswordChangeInvalidOld)
		return fail(ErrInvalidCredentials, "invalid_old_password")
	}

	if len(newPassword) < e.config.Password.MinPasswordBytes || len(newPassword) > e.config.Password.MaxPasswordBytes {
		return fail(ErrPasswordPolicy, "length")
	}
	if newPassword == oldPassword {
		e.metricInc(MetricPasswordChangeReuseRejected)
		return fail(ErrPasswordReuse, "reuse")
	}

	hash, err := e.hasher.Hash(newPassword)
	if err != nil {
		if errors.Is(err, password.ErrPasswordTooShort) || errors.Is(err, password.ErrPasswordTooLong) {
			return fail(ErrPasswordPolicy, "length")
		}
		return fail(err, "hash_failed")
	}

	verifiedHash := rec.PasswordHash
	_, err = identity.Mutate(ctx, e.identities, identityID, e.config.Lockout.MaxRetries, func(next *identity.Identity) error {
		if next.PasswordHash != verifiedHash {
			return errPasswordChangedConcurrently
		}
		next.PasswordHash = hash
		next.UpdatedAt = e.now()
		return nil
	})
	switch {
	case err == nil:
	case errors.Is(err, errPasswordChangedConcurrently):
		e.metricInc(MetricPasswordChangeInvalidOld)
		return fail(ErrInvalidCredentials, "changed_concurrently")
	case errors.Is(err, identity.ErrNotFound):
		return fail(ErrIdentityNotFound, "identity_not_found")
	default:
		return fail(storeUnavailable(err), "update_failed")
	}

	e.metricInc(MetricPasswordChangeSuccess)
	e.emitAudit(ctx, auditEventPasswordChangeSuccess, ev, nil, nil)
	e.invalidateAllSessions(ctx, identityID, identityID, "password_change")
	return nil
}

// UnlockAccount clears an identity's lockout. The actor needs the users:update
// capability.
func (e *Engine) UnlockAccount(ctx context.Context, actorID, identityID string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	if err := e.requireCapability(ctx, actorID, "users", "update"); err != nil {
		return err
	}

	rec, err := e.verifier.Unlock(ctx, identityID)
	if err != nil {
		return mapIdentityError(err)
	}

	for _, login := range []string{rec.Username, rec.Email} {
		if login == "" {
			continue
		}
		if err := e.rateLimiter.ResetLogin(ctx, login); err != nil {
			e.logger.Warn("login throttle reset failed", "identity_id", identityID, "error", err)
		}
	}

	e.metricInc(MetricAccountUnlocked)
	e.emitAudit(ctx, auditEventAccountUnlocked, auditRecord{identityID: identityID, actorID: actorID}, nil, nil)
	return nil
}

// SetAccountStatus moves an identity to active, inactive or suspended. Any status
// other than active ends every session of the identity. Activating an identity
// also clears its lockout. The actor needs the users:update capability.
func (e *Engine) SetAccountStatus(ctx context.Context, actorID, identityID string, status identity.Status) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	switch identity.Status(strings.ToLower(string(status))) {
	case identity.StatusActive, identity.StatusInactive, identity.StatusSuspended:
		status = identity.Status(strings.ToLower(string(status)))
	default:
		return ErrInvalidStatus
	}
	if err := e.requireCapability(ctx, actorID, "users", "update"); err != nil {
		return err
	}

	var previous identity.Status
	_, err := identity.Mutate(ctx, e.identities, identityID, e.config.Lockout.MaxRetries, func(next *identity.Identity) error {
		previous = next.Status
		if status == identity.StatusActive {
			next.Unlock()
		} else {
			next.Status = status
		}
		next.UpdatedAt = e.now()
		return nil
	})
	if err != nil {
		return mapIdentityError(err)
	}

	e.metricInc(MetricAccountStatusChanged)
	e.emitAudit(ctx, auditEventAccountStatusChange, auditRecord{identityID: identityID, actorID: actorID}, nil, func() map[string]string {
		return map[string]string{
			"from": string(previous),
			"to":   string(status),
		}
	})
	if status != identity.StatusActive {
		e.invalidateAllSessions(ctx, identityID, actorID, "status_change")
	}
	return nil
}

// GetIdentity returns the public view of an identity.
func (e *Engine) GetIdentity(ctx context.Context, identityID string) (PublicIdentity, error) {
	if !e.ready() {
		return PublicIdentity{}, ErrEngineNotReady
	}
	rec, err := e.identities.GetByID(ctx, identityID)
	if err != nil {
		return PublicIdentity{}, mapIdentityError(err)
	}
	return rec.Public(), nil
}

func mapIdentityError(err error) error {
	switch {
	case errors.Is(err, identity.ErrNotFound):
		return ErrIdentityNotFound
	case errors.Is(err, identity.ErrInvalidStatus):
		return ErrInvalidStatus
	default:
		return storeUnavailable(err)
	}
}
