package authcore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/ibn-api/authcore/credential"
	internalaudit "github.com/ibn-api/authcore/internal/audit"
	"github.com/ibn-api/authcore/internal/flows"
	"github.com/ibn-api/authcore/internal/rate"
	"github.com/ibn-api/authcore/identity"
	"github.com/ibn-api/authcore/jwt"
	"github.com/ibn-api/authcore/password"
	"github.com/ibn-api/authcore/permission"
	"github.com/ibn-api/authcore/session"
)

// Engine is the authentication and authorization engine. Build it with [New]
// and release it with [Engine.Close].
type Engine struct {
	config Config
	logger *slog.Logger
	now    func() time.Time

	identities  IdentityStore
	roles       RoleStore
	hasher      *password.Hasher
	verifier    *credential.Verifier
	jwtManager  *jwt.Manager
	sessions    *session.Manager
	resolver    *permission.Resolver
	rateLimiter *rate.Limiter
	audit       *internalaudit.Dispatcher
	metrics     *Metrics
	flowDeps    flows.Deps

	stopSweeper context.CancelFunc
	sweeperDone chan struct{}
	closeOnce   sync.Once
}

// Close stops the sweeper and drains the audit dispatcher. Safe to call twice.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.closeOnce.Do(func() {
		if e.stopSweeper != nil {
			e.stopSweeper()
			<-e.sweeperDone
		}
		e.audit.Close()
	})
}

// AuditDropped returns how many audit events were discarded because the buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot copies the current counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// Health pings the session backend.
func (e *Engine) Health(ctx context.Context) HealthStatus {
	if e == nil || e.sessions == nil {
		return HealthStatus{}
	}
	latency, err := e.sessions.Store().Ping(ctx)
	return HealthStatus{RedisAvailable: err == nil, RedisLatency: latency}
}

// SweepSessions runs one reclamation pass over expired sessions and returns how
// many were deleted.
func (e *Engine) SweepSessions(ctx context.Context) (int, error) {
	if e == nil || e.sessions == nil {
		return 0, ErrEngineNotReady
	}
	n, err := e.sessions.SweepExpired(ctx)
	e.observeSweep(n, err)
	if err != nil {
		return n, storeUnavailable(err)
	}
	return n, nil
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) observeSweep(deleted int, _ error) {
	if deleted > 0 && e.metrics != nil {
		e.metrics.Add(MetricSessionSwept, uint64(deleted))
	}
}

func (e *Engine) ready() bool {
	return e != nil && e.verifier != nil && e.jwtManager != nil && e.sessions != nil && e.resolver != nil
}

// Login verifies an identifier and secret and opens a session.
func (e *Engine) Login(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	ip := req.ClientIP
	if ip == "" {
		ip = clientIPFromContext(ctx)
	}
	ua := req.UserAgent
	if ua == "" {
		ua = userAgentFromContext(ctx)
	}

	res := flows.RunLogin(ctx, flows.LoginInput{
		Identifier: req.Identifier,
		Secret:     req.Secret,
		IP:         ip,
		UserAgent:  ua,
	}, e.flowDeps.Login)

	ev := auditRecord{identityID: res.Identity.ID, ip: ip, userAgent: ua}
	meta := func() map[string]string {
		return map[string]string{"identifier": req.Identifier}
	}

	switch res.Failure {
	case flows.LoginFailureNone:
	case flows.LoginFailureRateLimited:
		e.metricInc(MetricLoginRateLimited)
		e.emitAudit(ctx, auditEventLoginRateLimited, ev, ErrLoginRateLimited, meta)
		return nil, ErrLoginRateLimited
	case flows.LoginFailureLimiterUnavailable:
		e.metricInc(MetricLoginFailure)
		err := storeUnavailable(res.Err)
		e.emitAudit(ctx, auditEventLoginFailure, ev, err, meta)
		return nil, err
	case flows.LoginFailureCredentials:
		e.metricInc(MetricLoginFailure)
		err := mapCredentialError(res.Err)
		e.emitAudit(ctx, auditEventLoginFailure, ev, err, meta)
		if res.Locked {
			e.metricInc(MetricAccountLocked)
			e.emitAudit(ctx, auditEventAccountLocked, ev, nil, meta)
		}
		return nil, err
	default:
		e.metricInc(MetricLoginFailure)
		err := fmt.Errorf("%w: %v", ErrStoreUnavailable, res.Err)
		if res.Failure == flows.LoginFailureIssue {
			err = fmt.Errorf("issue tokens: %w", res.Err)
		}
		e.emitAudit(ctx, auditEventLoginFailure, ev, err, meta)
		return nil, err
	}

	ev.sessionID = res.Session.ID
	e.metricInc(MetricSessionCreated)
	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, auditEventLoginSuccess, ev, nil, meta)

	return &LoginResult{
		Identity:     res.Identity.Public(),
		AccessToken:  res.Tokens.AccessToken,
		RefreshToken: res.Tokens.RefreshToken,
		ExpiresIn:    int64(e.jwtManager.AccessTTL() / time.Second),
		SessionID:    res.Session.ID,
	}, nil
}

// Refresh exchanges a refresh token for a new pair and rotates the session. A
// refresh token can be used once; presenting it again fails with ErrTokenInvalid
// and ends the session, so the pair issued by the earlier rotation stops working
// as well.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (*RefreshResult, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}

	res := flows.RunRefresh(ctx, refreshToken, e.flowDeps.Refresh)
	ev := auditRecord{
		identityID: res.IdentityID,
		sessionID:  res.SessionID,
		ip:         clientIPFromContext(ctx),
		userAgent:  userAgentFromContext(ctx),
	}

	var err error
	switch res.Failure {
	case flows.RefreshFailureNone:
		e.metricInc(MetricRefreshSuccess)
		e.emitAudit(ctx, auditEventRefreshSuccess, ev, nil, func() map[string]string {
			return map[string]string{"refresh_count": strconv.Itoa(res.RefreshCount)}
		})
		return &RefreshResult{
			AccessToken:  res.Tokens.AccessToken,
			RefreshToken: res.Tokens.RefreshToken,
			ExpiresIn:    int64(e.jwtManager.AccessTTL() / time.Second),
		}, nil
	case flows.RefreshFailureDecode:
		err = mapTokenError(res.Err)
	case flows.RefreshFailureRateLimited:
		e.metricInc(MetricRefreshRateLimited)
		e.emitAudit(ctx, auditEventRefreshRateLimited, ev, ErrRefreshRateLimited, nil)
		return nil, ErrRefreshRateLimited
	case flows.RefreshFailureLimiterUnavailable, flows.RefreshFailureRotate:
		err = storeUnavailable(res.Err)
	case flows.RefreshFailureSubject:
		err = res.Err
	case flows.RefreshFailureIssue:
		err = fmt.Errorf("issue tokens: %w", res.Err)
	case flows.RefreshFailureReuse:
		e.metricInc(MetricRefreshReuseDetected)
		e.metricInc(MetricSessionInvalidated)
		e.emitAudit(ctx, auditEventRefreshReuseDetected, ev, ErrTokenInvalid, sessionInvalidatedDetail)
		err = ErrTokenInvalid
	case flows.RefreshFailureCeiling:
		e.metricInc(MetricRefreshCeilingExceeded)
		e.metricInc(MetricSessionInvalidated)
		e.emitAudit(ctx, auditEventRefreshCeiling, ev, ErrRefreshCeilingExceeded, sessionInvalidatedDetail)
		err = ErrRefreshCeilingExceeded
	case flows.RefreshFailureSessionNotFound:
		err = ErrSessionNotFound
	case flows.RefreshFailureSessionExpired:
		err = ErrSessionExpired
	default:
		err = ErrTokenInvalid
	}

	e.metricInc(MetricRefreshFailure)
	if res.Failure != flows.RefreshFailureReuse && res.Failure != flows.RefreshFailureCeiling {
		e.emitAudit(ctx, auditEventRefreshInvalid, ev, err, nil)
	}
	return nil, err
}

// Logout invalidates the session behind accessToken. An expired but correctly
// signed token is accepted. A second call reports LogoutAlreadyInactive.
func (e *Engine) Logout(ctx context.Context, accessToken string) (LogoutOutcome, error) {
	if !e.ready() {
		return 0, ErrEngineNotReady
	}

	res := flows.RunLogout(ctx, accessToken, e.flowDeps.Logout)
	switch res.Failure {
	case flows.LogoutFailureNone:
	case flows.LogoutFailureDecode:
		return 0, mapTokenError(res.Err)
	default:
		return 0, mapSessionError(res.Err)
	}

	ev := auditRecord{
		identityID: res.IdentityID,
		sessionID:  res.SessionID,
		ip:         clientIPFromContext(ctx),
		userAgent:  userAgentFromContext(ctx),
	}
	if res.AlreadyInactive {
		e.emitAudit(ctx, auditEventLogoutSession, ev, nil, func() map[string]string {
			return map[string]string{"outcome": LogoutAlreadyInactive.String()}
		})
		return LogoutAlreadyInactive, nil
	}

	e.metricInc(MetricLogout)
	e.metricInc(MetricSessionInvalidated)
	e.emitAudit(ctx, auditEventLogoutSession, ev, nil, func() map[string]string {
		return map[string]string{"outcome": LogoutInvalidated.String()}
	})
	return LogoutInvalidated, nil
}

// Authenticate verifies an access token, checks that it is the current token of
// a live session and records activity. The client IP is read from ctx (see
// [WithClientIP]); a change of IP sets Principal.Suspicious.
func (e *Engine) Authenticate(ctx context.Context, accessToken string) (*Principal, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	start := time.Now()
	defer func() {
		if e.metrics.LatencyEnabled() {
			e.metrics.Observe(MetricValidateLatency, time.Since(start))
		}
	}()

	client := session.ClientInfo{
		IP:        clientIPFromContext(ctx),
		UserAgent: userAgentFromContext(ctx),
	}
	res := flows.RunValidate(ctx, accessToken, client, e.flowDeps.Validate)
	switch res.Failure {
	case flows.ValidateFailureNone:
	case flows.ValidateFailureDecode:
		return nil, mapTokenError(res.Err)
	default:
		return nil, mapSessionError(res.Err)
	}

	claims := res.Claims
	if res.Suspicious {
		e.metricInc(MetricSuspiciousActivity)
		e.emitAudit(ctx, auditEventSuspiciousActivity, auditRecord{
			identityID: claims.UID,
			sessionID:  claims.SID,
			ip:         client.IP,
			userAgent:  client.UserAgent,
		}, nil, func() map[string]string {
			return map[string]string{"previous_ip": res.Session.IP}
		})
	}

	return &Principal{
		IdentityID: claims.UID,
		SessionID:  claims.SID,
		Username:   claims.Username,
		Email:      claims.Email,
		RoleID:     claims.Role,
		RoleName:   claims.RoleName,
		Suspicious: res.Suspicious || res.Session.Suspicious,
		ExpiresAt:  res.Session.ExpiresAt,
	}, nil
}

// Authorize authenticates accessToken and evaluates req against the caller's
// current grants. A denial is reported in the Decision, not as an error.
func (e *Engine) Authorize(ctx context.Context, accessToken string, req Requirement) (Decision, error) {
	p, err := e.Authenticate(ctx, accessToken)
	if err != nil {
		return Decision{}, err
	}
	return e.AuthorizeIdentity(ctx, p.IdentityID, req)
}

// AuthorizeIdentity evaluates req for an identity that has already been
// authenticated. Grants are read from the role store on every call.
func (e *Engine) AuthorizeIdentity(ctx context.Context, identityID string, req Requirement) (Decision, error) {
	if !e.ready() {
		return Decision{}, ErrEngineNotReady
	}

	res := flows.RunAuthorize(ctx, flows.AuthorizeInput{
		IdentityID:  identityID,
		Permission:  req.Permission,
		Permissions: req.Permissions,
		RequireAll:  req.Mode == MatchAll,
		Resource:    req.Resource,
		Action:      req.Action,
	}, e.flowDeps.Authorize)
	if res.Failure != flows.AuthorizeFailureNone {
		return Decision{}, mapPermissionError(res.Err)
	}

	if res.Allowed {
		e.metricInc(MetricAuthorizeAllowed)
	} else {
		e.metricInc(MetricAuthorizeDenied)
	}
	return Decision{Allowed: res.Allowed, Reason: res.Reason}, nil
}

// requireCapability returns ErrPermissionDenied, wrapped with the reason, unless
// actorID holds a permission satisfying (resource, action).
func (e *Engine) requireCapability(ctx context.Context, actorID, resource, action string) error {
	d, err := e.AuthorizeIdentity(ctx, actorID, RequireCapability(resource, action))
	if err != nil {
		if errors.Is(err, ErrIdentityNotFound) {
			return ErrPermissionDenied
		}
		return err
	}
	if !d.Allowed {
		return fmt.Errorf("%w: %s", ErrPermissionDenied, d.Reason)
	}
	return nil
}

func (e *Engine) roleName(ctx context.Context, roleID string) string {
	role, err := e.roles.GetRoleByID(ctx, roleID)
	if err != nil {
		if !errors.Is(err, permission.ErrRoleNotFound) {
			e.logger.Warn("role lookup for token snapshot failed", "role_id", roleID, "error", err)
		}
		return ""
	}
	return role.Name
}

// loadSubject rebuilds the access token snapshot for a refresh. Inactive and
// suspended identities cannot refresh; a lock only blocks new logins.
func (e *Engine) loadSubject(ctx context.Context, identityID string) (jwt.Subject, error) {
	rec, err := e.identities.GetByID(ctx, identityID)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return jwt.Subject{}, ErrTokenInvalid
		}
		return jwt.Subject{}, storeUnavailable(err)
	}
	if rec.Status == identity.StatusInactive || rec.Status == identity.StatusSuspended {
		return jwt.Subject{}, ErrAccountInactive
	}

	subject := jwt.Subject{
		ID:       rec.ID,
		Username: rec.Username,
		Email:    rec.Email,
		RoleID:   rec.RoleID,
	}
	if rec.RoleID != "" {
		subject.RoleName = e.roleName(ctx, rec.RoleID)
	}
	return subject, nil
}

func storeUnavailable(err error) error {
	if err == nil || errors.Is(err, ErrStoreUnavailable) {
		return ErrStoreUnavailable
	}
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}

func mapCredentialError(err error) error {
	switch {
	case errors.Is(err, credential.ErrUnknownIdentity):
		return ErrUnknownIdentity
	case errors.Is(err, credential.ErrInvalidCredentials):
		return ErrInvalidCredentials
	case errors.Is(err, credential.ErrAccountInactive):
		return ErrAccountInactive
	case errors.Is(err, credential.ErrAccountLocked):
		return ErrAccountLocked
	default:
		return storeUnavailable(err)
	}
}

func mapTokenError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrExpired):
		return ErrTokenExpired
	case errors.Is(err, jwt.ErrKindMismatch):
		return ErrTokenKindMismatch
	default:
		return ErrTokenInvalid
	}
}

func mapSessionError(err error) error {
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		return ErrSessionNotFound
	case errors.Is(err, session.ErrSessionExpired):
		return ErrSessionExpired
	case errors.Is(err, session.ErrRefreshCeilingExceeded):
		return ErrRefreshCeilingExceeded
	case errors.Is(err, session.ErrSessionNotValid),
		errors.Is(err, session.ErrAccessMismatch),
		errors.Is(err, session.ErrRefreshReuse):
		return ErrTokenInvalid
	default:
		return storeUnavailable(err)
	}
}

func mapPermissionError(err error) error {
	switch {
	case errors.Is(err, identity.ErrNotFound):
		return ErrIdentityNotFound
	case errors.Is(err, permission.ErrRoleNotFound):
		return ErrRoleNotFound
	case errors.Is(err, permission.ErrPermissionNotFound):
		return ErrPermissionNotFound
	case errors.Is(err, permission.ErrDuplicate):
		return ErrRoleExists
	case errors.Is(err, permission.ErrRoleInUse):
		return ErrRoleInUse
	case errors.Is(err, permission.ErrSystemRole):
		return ErrSystemRole
	default:
		return storeUnavailable(err)
	}
}
