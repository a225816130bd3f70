package flows

import (
	"context"
	"errors"

	"github.com/ibn-api/authcore/credential"
	"github.com/ibn-api/authcore/identity"
	"github.com/ibn-api/authcore/jwt"
	"github.com/ibn-api/authcore/session"
)

// LoginFailureKind classifies login flow failures for root-level mapping.
type LoginFailureKind int

const (
	LoginFailureNone LoginFailureKind = iota
	LoginFailureRateLimited
	LoginFailureLimiterUnavailable
	LoginFailureCredentials
	LoginFailureIssue
	LoginFailureSession
)

// LoginInput is the flow-local login request.
type LoginInput struct {
	Identifier string
	Secret     string
	IP         string
	UserAgent  string
}

// LoginResult carries either the issued session or failure metadata. Identity is
// populated whenever the identifier resolved, including on failure.
type LoginResult struct {
	Failure  LoginFailureKind
	Err      error
	Identity identity.Identity
	Session  *session.Session
	Tokens   jwt.TokenPair
	// Locked is set when this attempt tripped the lockout.
	Locked bool
}

type LoginRateLimiter interface {
	CheckLogin(ctx context.Context, identifier, ip string) error
	RecordLoginFailure(ctx context.Context, identifier, ip string) error
	ResetLogin(ctx context.Context, identifier string) error
}

type CredentialVerifier interface {
	Authenticate(ctx context.Context, identifier, secret string, client credential.ClientInfo) (identity.Identity, error)
}

type TokenIssuer interface {
	Issue(subject jwt.Subject, sessionID string) (jwt.TokenPair, error)
}

type LoginSessionStore interface {
	NewID() string
	Create(ctx context.Context, sessionID, identityID, accessToken, refreshToken string, client session.ClientInfo) (*session.Session, error)
}

// LoginDeps captures login flow dependencies. RateLimiter may be nil.
type LoginDeps struct {
	RateLimiter LoginRateLimiter
	Verifier    CredentialVerifier
	Tokens      TokenIssuer
	Sessions    LoginSessionStore
	// RoleName resolves a role id for the access token snapshot. Empty is allowed.
	RoleName func(ctx context.Context, roleID string) string
	// RateLimited is the limiter's rejection sentinel; other limiter errors are
	// treated as unavailability.
	RateLimited error
	Warn        func(string, ...any)
}

// RunLogin verifies credentials and, on success, issues a token pair bound to a
// fresh session.
func RunLogin(ctx context.Context, in LoginInput, deps LoginDeps) LoginResult {
	warn := warnOrDiscard(deps.Warn)

	if deps.RateLimiter != nil {
		if err := deps.RateLimiter.CheckLogin(ctx, in.Identifier, in.IP); err != nil {
			if deps.RateLimited != nil && errors.Is(err, deps.RateLimited) {
				return LoginResult{Failure: LoginFailureRateLimited, Err: err}
			}
			return LoginResult{Failure: LoginFailureLimiterUnavailable, Err: err}
		}
	}

	rec, err := deps.Verifier.Authenticate(ctx, in.Identifier, in.Secret, credential.ClientInfo{
		IP:        in.IP,
		UserAgent: in.UserAgent,
	})
	if err != nil {
		if deps.RateLimiter != nil && countsAgainstThrottle(err) {
			if rlErr := deps.RateLimiter.RecordLoginFailure(ctx, in.Identifier, in.IP); rlErr != nil {
				warn("login throttle record failed", "error", rlErr)
			}
		}
		return LoginResult{
			Failure:  LoginFailureCredentials,
			Err:      err,
			Identity: rec,
			Locked:   errors.Is(err, credential.ErrInvalidCredentials) && rec.Status == identity.StatusLocked,
		}
	}

	if deps.RateLimiter != nil {
		if rlErr := deps.RateLimiter.ResetLogin(ctx, in.Identifier); rlErr != nil {
			warn("login throttle reset failed", "error", rlErr)
		}
	}

	subject := jwt.Subject{
		ID:       rec.ID,
		Username: rec.Username,
		Email:    rec.Email,
		RoleID:   rec.RoleID,
	}
	if deps.RoleName != nil && rec.RoleID != "" {
		subject.RoleName = deps.RoleName(ctx, rec.RoleID)
	}

	sessionID := deps.Sessions.NewID()
	pair, err := deps.Tokens.Issue(subject, sessionID)
	if err != nil {
		return LoginResult{Failure: LoginFailureIssue, Err: err, Identity: rec}
	}

	sess, err := deps.Sessions.Create(ctx, sessionID, rec.ID, pair.AccessToken, pair.RefreshToken, session.ClientInfo{
		IP:        in.IP,
		UserAgent: in.UserAgent,
	})
	if err != nil {
		return LoginResult{Failure: LoginFailureSession, Err: err, Identity: rec}
	}

	return LoginResult{
		Failure:  LoginFailureNone,
		Identity: rec,
		Session:  sess,
		Tokens:   pair,
	}
}

func countsAgainstThrottle(err error) bool {
	return errors.Is(err, credential.ErrInvalidCredentials) || errors.Is(err, credential.ErrUnknownIdentity)
}
