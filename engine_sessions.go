package authcore

import (
	"context"
	"strconv"
	"time"

	"github.com/ibn-api/authcore/internal"
	"github.com/ibn-api/authcore/session"
)

// ListSessions returns the identity's live sessions, most recently active first.
func (e *Engine) ListSessions(ctx context.Context, identityID string) ([]SessionInfo, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	list, err := e.sessions.ListForIdentity(ctx, identityID)
	if err != nil {
		return nil, storeUnavailable(err)
	}

	now := e.now()
	out := make([]SessionInfo, 0, len(list))
	for _, s := range list {
		out = append(out, sessionInfo(s, now))
	}
	return out, nil
}

// RevokeSession invalidates one of the identity's own sessions. A session that
// belongs to someone else is reported as not found.
func (e *Engine) RevokeSession(ctx context.Context, identityID, sessionID string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	if !internal.ValidSessionID(sessionID) {
		return ErrSessionNotFound
	}
	s, err := e.sessions.Get(ctx, sessionID)
	if err != nil {
		return mapSessionError(err)
	}
	if s.IdentityID != identityID {
		return ErrSessionNotFound
	}

	already, err := e.sessions.Invalidate(ctx, sessionID)
	if err != nil {
		return mapSessionError(err)
	}
	if !already {
		e.metricInc(MetricSessionInvalidated)
	}
	e.emitAudit(ctx, auditEventSessionRevoked, auditRecord{
		identityID: identityID,
		actorID:    identityID,
		sessionID:  sessionID,
	}, nil, nil)
	return nil
}

// LogoutAll invalidates every session of the identity and returns how many were live.
func (e *Engine) LogoutAll(ctx context.Context, identityID string) (int, error) {
	if !e.ready() {
		return 0, ErrEngineNotReady
	}
	n, err := e.sessions.InvalidateAll(ctx, identityID)
	if n > 0 {
		e.metrics.Add(MetricSessionInvalidated, uint64(n))
	}
	e.emitAudit(ctx, auditEventLogoutAll, auditRecord{identityID: identityID, actorID: identityID}, err, func() map[string]string {
		return map[string]string{"invalidated": strconv.Itoa(n)}
	})
	if err != nil {
		return n, storeUnavailable(err)
	}
	return n, nil
}

// invalidateAllSessions is the best-effort form used after account changes. The
// change itself has already been committed, so failures are logged.
func (e *Engine) invalidateAllSessions(ctx context.Context, identityID, actorID, reason string) {
	n, err := e.sessions.InvalidateAll(ctx, identityID)
	if n > 0 {
		e.metrics.Add(MetricSessionInvalidated, uint64(n))
	}
	if err != nil {
		e.logger.Warn("session invalidation failed", "identity_id", identityID, "reason", reason, "error", err)
	}
	e.emitAudit(ctx, auditEventLogoutAll, auditRecord{identityID: identityID, actorID: actorID}, err, func() map[string]string {
		return map[string]string{
			"reason":      reason,
			"invalidated": strconv.Itoa(n),
		}
	})
}

func sessionInfo(s *session.Session, now time.Time) SessionInfo {
	return SessionInfo{
		SessionID:       s.ID,
		CreatedAt:       s.CreatedAt,
		ExpiresAt:       s.ExpiresAt,
		LastActivityAt:  s.LastActivityAt,
		RefreshCount:    s.RefreshCount,
		RefreshCeiling:  s.RefreshCeiling,
		Suspicious:      s.Suspicious,
		IP:              s.IP,
		UserAgent:       s.UserAgent,
		Duration:        s.Duration(now),
		TimeUntilExpiry: s.TimeUntilExpiry(now),
	}
}
