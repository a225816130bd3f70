package authcore

import (
	"context"
)

const (
	auditEventLoginSuccess          = "login_success"
	auditEventLoginFailure          = "login_failure"
	auditEventLoginRateLimited      = "login_rate_limited"
	auditEventAccountLocked         = "account_locked"
	auditEventRefreshSuccess        = "refresh_success"
	auditEventRefreshInvalid        = "refresh_invalid"
	auditEventRefreshRateLimited    = "refresh_rate_limited"
	auditEventRefreshReuseDetected  = "refresh_reuse_detected"
	auditEventRefreshCeiling        = "refresh_ceiling_exceeded"
	auditEventLogoutSession         = "logout_session"
	auditEventLogoutAll             = "logout_all"
	auditEventSessionRevoked        = "session_revoked"
	auditEventSuspiciousActivity    = "suspicious_activity"
	auditEventPasswordChangeSuccess = "password_change_success"
	auditEventPasswordChangeFailure = "password_change_failure"
	auditEventAccountUnlocked       = "account_unlocked"
	auditEventAccountStatusChange   = "account_status_change"
	auditEventRoleAssigned          = "role_assigned"
	auditEventRolePermissionGranted = "role_permission_granted"
	auditEventRolePermissionRevoked = "role_permission_revoked"
	auditEventRoleCreated           = "role_created"
	auditEventRoleDeleted           = "role_deleted"
	auditEventIdentityCreated       = "identity_created"
)

func sessionInvalidatedDetail() map[string]string {
	return map[string]string{"session_invalidated": "true"}
}

// auditRecord carries the subject fields of one event.
type auditRecord struct {
	identityID string
	actorID    string
	sessionID  string
	ip         string
	userAgent  string
}

// emitAudit hands an event to the dispatcher. The error, if any, is recorded as
// its stable code so sinks never see internal detail.
func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	rec auditRecord,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	if rec.ip == "" {
		rec.ip = clientIPFromContext(ctx)
	}
	if rec.userAgent == "" {
		rec.userAgent = userAgentFromContext(ctx)
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	e.audit.Emit(ctx, AuditEvent{
		Timestamp:  e.now().UTC(),
		EventType:  eventType,
		IdentityID: rec.identityID,
		ActorID:    rec.actorID,
		SessionID:  rec.sessionID,
		IP:         rec.ip,
		UserAgent:  rec.userAgent,
		Success:    err == nil,
		Error:      ErrorCode(err),
		Metadata:   metadata,
	})
}
