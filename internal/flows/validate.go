package flows

import (
	"context"

	"github.com/ibn-api/authcore/jwt"
	"github.com/ibn-api/authcore/session"
)

// ValidateFailureKind classifies access-token validation failures.
type ValidateFailureKind int

const (
	ValidateFailureNone ValidateFailureKind = iota
	ValidateFailureDecode
	ValidateFailureSession
)

// ValidateResult carries the verified claims and the live session.
type ValidateResult struct {
	Failure    ValidateFailureKind
	Err        error
	Claims     *jwt.Claims
	Session    *session.Session
	Suspicious bool
}

type ValidateSessionStore interface {
	ValidateAccess(ctx context.Context, sessionID, accessToken string) (*session.Session, error)
	UpdateActivity(ctx context.Context, sessionID string, client session.ClientInfo) (bool, error)
}

// ValidateDeps captures validation flow dependencies.
type ValidateDeps struct {
	VerifyAccess func(token string) (*jwt.Claims, error)
	Sessions     ValidateSessionStore
	Warn         func(string, ...any)
}

// RunValidate verifies an access token against its session and records activity.
// A failed activity touch does not reject the request.
func RunValidate(ctx context.Context, accessToken string, client session.ClientInfo, deps ValidateDeps) ValidateResult {
	warn := warnOrDiscard(deps.Warn)

	claims, err := deps.VerifyAccess(accessToken)
	if err != nil {
		return ValidateResult{Failure: ValidateFailureDecode, Err: err}
	}

	sess, err := deps.Sessions.ValidateAccess(ctx, claims.SID, accessToken)
	if err != nil {
		return ValidateResult{Failure: ValidateFailureSession, Err: err, Claims: claims}
	}

	suspicious, err := deps.Sessions.UpdateActivity(ctx, claims.SID, client)
	if err != nil {
		warn("session activity update failed", "session_id", claims.SID, "error", err)
	}

	return ValidateResult{
		Claims:     claims,
		Session:    sess,
		Suspicious: suspicious,
	}
}
