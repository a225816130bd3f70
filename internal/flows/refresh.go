package flows

import (
	"context"
	"errors"

	"github.com/ibn-api/authcore/jwt"
	"github.com/ibn-api/authcore/session"
)

// RefreshFailureKind classifies refresh flow failures for root-level mapping.
type RefreshFailureKind int

const (
	RefreshFailureNone RefreshFailureKind = iota
	RefreshFailureDecode
	RefreshFailureRateLimited
	RefreshFailureLimiterUnavailable
	RefreshFailureSubject
	RefreshFailureIssue
	RefreshFailureReuse
	RefreshFailureCeiling
	RefreshFailureSessionNotFound
	RefreshFailureSessionExpired
	RefreshFailureSessionInactive
	RefreshFailureRotate
)

// RefreshResult carries either the rotated token pair or failure metadata.
type RefreshResult struct {
	Failure      RefreshFailureKind
	Err          error
	SessionID    string
	IdentityID   string
	RefreshCount int
	Tokens       jwt.TokenPair
}

type RefreshRateLimiter interface {
	CheckRefresh(ctx context.Context, sessionID string) error
}

type RefreshSessionStore interface {
	Rotate(ctx context.Context, sessionID, presentedRefresh, nextAccess, nextRefresh string) (int, error)
	Invalidate(ctx context.Context, sessionID string) (bool, error)
}

// RefreshDeps captures refresh flow dependencies. RateLimiter may be nil.
type RefreshDeps struct {
	VerifyRefresh func(token string) (*jwt.Claims, error)
	// LoadSubject returns the current identity snapshot for a new access token. An
	// error ends the session.
	LoadSubject func(ctx context.Context, identityID string) (jwt.Subject, error)
	Tokens      TokenIssuer
	Sessions    RefreshSessionStore
	RateLimiter RefreshRateLimiter
	RateLimited error
	Warn        func(string, ...any)
}

// RunRefresh verifies a refresh token and atomically rotates its session. Tokens
// are minted before the rotation so that the session only ever stores digests of
// tokens that exist; a losing concurrent caller discards its pair. A refresh
// token that was already rotated away ends the session (RefreshFailureReuse),
// and that includes a concurrent loser presenting the pre-rotation token.
func RunRefresh(ctx context.Context, refreshToken string, deps RefreshDeps) RefreshResult {
	warn := warnOrDiscard(deps.Warn)

	claims, err := deps.VerifyRefresh(refreshToken)
	if err != nil {
		return RefreshResult{Failure: RefreshFailureDecode, Err: err}
	}
	sessionID := claims.SID

	if deps.RateLimiter != nil {
		if err := deps.RateLimiter.CheckRefresh(ctx, sessionID); err != nil {
			kind := RefreshFailureLimiterUnavailable
			if deps.RateLimited != nil && errors.Is(err, deps.RateLimited) {
				kind = RefreshFailureRateLimited
			}
			return RefreshResult{Failure: kind, Err: err, SessionID: sessionID, IdentityID: claims.UID}
		}
	}

	subject, err := deps.LoadSubject(ctx, claims.UID)
	if err != nil {
		if _, invErr := deps.Sessions.Invalidate(ctx, sessionID); invErr != nil && !errors.Is(invErr, session.ErrSessionNotFound) {
			warn("refresh: invalidate after subject failure", "session_id", sessionID, "error", invErr)
		}
		return RefreshResult{Failure: RefreshFailureSubject, Err: err, SessionID: sessionID, IdentityID: claims.UID}
	}

	pair, err := deps.Tokens.Issue(subject, sessionID)
	if err != nil {
		return RefreshResult{Failure: RefreshFailureIssue, Err: err, SessionID: sessionID, IdentityID: claims.UID}
	}

	count, err := deps.Sessions.Rotate(ctx, sessionID, refreshToken, pair.AccessToken, pair.RefreshToken)
	if err != nil {
		out := RefreshResult{Err: err, SessionID: sessionID, IdentityID: claims.UID, RefreshCount: count}
		switch {
		case errors.Is(err, session.ErrRefreshReuse):
			out.Failure = RefreshFailureReuse
		case errors.Is(err, session.ErrRefreshCeilingExceeded):
			out.Failure = RefreshFailureCeiling
		case errors.Is(err, session.ErrSessionNotFound):
			out.Failure = RefreshFailureSessionNotFound
		case errors.Is(err, session.ErrSessionExpired):
			out.Failure = RefreshFailureSessionExpired
		case errors.Is(err, session.ErrSessionNotValid):
			out.Failure = RefreshFailureSessionInactive
		default:
			out.Failure = RefreshFailureRotate
		}
		return out
	}

	return RefreshResult{
		Failure:      RefreshFailureNone,
		SessionID:    sessionID,
		IdentityID:   claims.UID,
		RefreshCount: count,
		Tokens:       pair,
	}
}
