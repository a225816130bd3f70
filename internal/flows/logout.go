package flows

import (
	"context"

	"github.com/ibn-api/authcore/jwt"
)

// LogoutFailureKind classifies logout flow failures for root-level mapping.
type LogoutFailureKind int

const (
	LogoutFailureNone LogoutFailureKind = iota
	LogoutFailureDecode
	LogoutFailureInvalidate
)

// LogoutResult reports whether the session had already been invalidated.
type LogoutResult struct {
	Failure         LogoutFailureKind
	Err             error
	SessionID       string
	IdentityID      string
	AlreadyInactive bool
}

type LogoutSessionStore interface {
	Invalidate(ctx context.Context, sessionID string) (bool, error)
}

// LogoutDeps captures logout flow dependencies.
type LogoutDeps struct {
	// VerifyAccess must check the signature but may accept an expired token.
	VerifyAccess func(token string) (*jwt.Claims, error)
	Sessions     LogoutSessionStore
}

// RunLogout invalidates the session an access token belongs to.
func RunLogout(ctx context.Context, accessToken string, deps LogoutDeps) LogoutResult {
	claims, err := deps.VerifyAccess(accessToken)
	if err != nil {
		return LogoutResult{Failure: LogoutFailureDecode, Err: err}
	}

	already, err := deps.Sessions.Invalidate(ctx, claims.SID)
	if err != nil {
		return LogoutResult{
			Failure:    LogoutFailureInvalidate,
			Err:        err,
			SessionID:  claims.SID,
			IdentityID: claims.UID,
		}
	}

	return LogoutResult{
		SessionID:       claims.SID,
		IdentityID:      claims.UID,
		AlreadyInactive: already,
	}
}
