package flows

import (
	"context"
	"errors"
	"testing"

	"github.com/ibn-api/authcore/credential"
	"github.com/ibn-api/authcore/identity"
	"github.com/ibn-api/authcore/jwt"
	"github.com/ibn-api/authcore/permission"
	"github.com/ibn-api/authcore/session"
)

var errLimited = errors.New("limited")

type fakeLimiter struct {
	checkErr error
	recorded int
	resets   int
	refresh  error
}

func (f *fakeLimiter) CheckLogin(context.Context, string, string) error { return f.checkErr }

func (f *fakeLimiter) RecordLoginFailure(context.Context, string, string) error {
	f.recorded++
	return nil
}

func (f *fakeLimiter) ResetLogin(context.Context, string) error {
	f.resets++
	return nil
}

func (f *fakeLimiter) CheckRefresh(context.Context, string) error { return f.refresh }

type fakeVerifier struct {
	rec identity.Identity
	err error
}

func (f fakeVerifier) Authenticate(context.Context, string, string, credential.ClientInfo) (identity.Identity, error) {
	return f.rec, f.err
}

type fakeIssuer struct {
	n   int
	err error
}

func (f *fakeIssuer) Issue(subject jwt.Subject, sessionID string) (jwt.TokenPair, error) {
	if f.err != nil {
		return jwt.TokenPair{}, f.err
	}
	f.n++
	return jwt.TokenPair{
		AccessToken:  "access-" + sessionID,
		RefreshToken: "refresh-" + sessionID,
	}, nil
}

type fakeSessions struct {
	created     *session.Session
	rotateErr   error
	invalidated []string
	already     bool
	validateErr error
	activityErr error
	suspicious  bool
}

func (f *fakeSessions) NewID() string { return "sid-1" }

func (f *fakeSessions) Create(_ context.Context, sid, uid, _, _ string, client session.ClientInfo) (*session.Session, error) {
	f.created = &session.Session{ID: sid, IdentityID: uid, IP: client.IP, Active: true}
	return f.created, nil
}

func (f *fakeSessions) Rotate(context.Context, string, string, string, string) (int, error) {
	if f.rotateErr != nil {
		return 0, f.rotateErr
	}
	return 1, nil
}

func (f *fakeSessions) Invalidate(_ context.Context, sid string) (bool, error) {
	f.invalidated = append(f.invalidated, sid)
	return f.already, nil
}

func (f *fakeSessions) ValidateAccess(_ context.Context, sid, _ string) (*session.Session, error) {
	if f.validateErr != nil {
		return nil, f.validateErr
	}
	return &session.Session{ID: sid, Active: true}, nil
}

func (f *fakeSessions) UpdateActivity(context.Context, string, session.ClientInfo) (bool, error) {
	return f.suspicious, f.activityErr
}

func loginDeps(l *fakeLimiter, v fakeVerifier, s *fakeSessions) LoginDeps {
	return LoginDeps{
		RateLimiter: l,
		Verifier:    v,
		Tokens:      &fakeIssuer{},
		Sessions:    s,
		RoleName:    func(context.Context, string) string { return "tester" },
		RateLimited: errLimited,
	}
}

func TestRunLoginLimiterOutcomes(t *testing.T) {
	res := RunLogin(context.Background(), LoginInput{Identifier: "bob"}, loginDeps(&fakeLimiter{checkErr: errLimited}, fakeVerifier{}, &fakeSessions{}))
	if res.Failure != LoginFailureRateLimited {
		t.Fatalf("expected rate limited, got %v", res.Failure)
	}

	res = RunLogin(context.Background(), LoginInput{Identifier: "bob"}, loginDeps(&fakeLimiter{checkErr: errors.New("redis down")}, fakeVerifier{}, &fakeSessions{}))
	if res.Failure != LoginFailureLimiterUnavailable {
		t.Fatalf("expected limiter unavailable, got %v", res.Failure)
	}
}

func TestRunLoginCredentialFailureRecordsThrottle(t *testing.T) {
	lim := &fakeLimiter{}
	v := fakeVerifier{
		rec: identity.Identity{ID: "u1", Status: identity.StatusLocked},
		err: credential.ErrInvalidCredentials,
	}
	res := RunLogin(context.Background(), LoginInput{Identifier: "bob", Secret: "x"}, loginDeps(lim, v, &fakeSessions{}))
	if res.Failure != LoginFailureCredentials {
		t.Fatalf("expected credentials failure, got %v", res.Failure)
	}
	if !res.Locked {
		t.Fatal("expected locking attempt to be flagged")
	}
	if lim.recorded != 1 {
		t.Fatalf("expected one recorded failure, got %d", lim.recorded)
	}

	lim = &fakeLimiter{}
	res = RunLogin(context.Background(), LoginInput{Identifier: "bob"}, loginDeps(lim, fakeVerifier{err: credential.ErrAccountInactive}, &fakeSessions{}))
	if res.Failure != LoginFailureCredentials || res.Locked {
		t.Fatalf("unexpected result %+v", res)
	}
	if lim.recorded != 0 {
		t.Fatal("inactive account must not count against the throttle")
	}
}

func TestRunLoginSuccessCreatesSession(t *testing.T) {
	lim := &fakeLimiter{}
	sessions := &fakeSessions{}
	v := fakeVerifier{rec: identity.Identity{ID: "u1", Username: "bob", RoleID: "r1", Status: identity.StatusActive}}

	res := RunLogin(context.Background(), LoginInput{Identifier: "bob", IP: "10.0.0.1"}, loginDeps(lim, v, sessions))
	if res.Failure != LoginFailureNone {
		t.Fatalf("unexpected failure %v: %v", res.Failure, res.Err)
	}
	if res.Session == nil || res.Session.ID != "sid-1" || res.Session.IP != "10.0.0.1" {
		t.Fatalf("unexpected session %+v", res.Session)
	}
	if res.Tokens.AccessToken != "access-sid-1" {
		t.Fatalf("token not bound to session id: %q", res.Tokens.AccessToken)
	}
	if lim.resets != 1 {
		t.Fatal("expected throttle reset on success")
	}
}

func TestRunRefreshMapsRotateErrors(t *testing.T) {
	cases := []struct {
		err  error
		want RefreshFailureKind
	}{
		{session.ErrRefreshReuse, RefreshFailureReuse},
		{session.ErrRefreshCeilingExceeded, RefreshFailureCeiling},
		{session.ErrSessionNotFound, RefreshFailureSessionNotFound},
		{session.ErrSessionExpired, RefreshFailureSessionExpired},
		{session.ErrSessionNotValid, RefreshFailureSessionInactive},
		{session.ErrStoreUnavailable, RefreshFailureRotate},
	}

	for _, tc := range cases {
		deps := RefreshDeps{
			VerifyRefresh: func(string) (*jwt.Claims, error) {
				return &jwt.Claims{UID: "u1", SID: "s1", Kind: jwt.KindRefresh}, nil
			},
			LoadSubject: func(context.Context, string) (jwt.Subject, error) {
				return jwt.Subject{ID: "u1"}, nil
			},
			Tokens:   &fakeIssuer{},
			Sessions: &fakeSessions{rotateErr: tc.err},
		}
		res := RunRefresh(context.Background(), "r", deps)
		if res.Failure != tc.want {
			t.Fatalf("%v: expected %v, got %v", tc.err, tc.want, res.Failure)
		}
	}
}

func TestRunRefreshReuseDiscardsMintedPair(t *testing.T) {
	deps := RefreshDeps{
		VerifyRefresh: func(string) (*jwt.Claims, error) {
			return &jwt.Claims{UID: "u1", SID: "s1", Kind: jwt.KindRefresh}, nil
		},
		LoadSubject: func(context.Context, string) (jwt.Subject, error) {
			return jwt.Subject{ID: "u1"}, nil
		},
		Tokens:   &fakeIssuer{},
		Sessions: &fakeSessions{rotateErr: session.ErrRefreshReuse},
	}
	res := RunRefresh(context.Background(), "stale", deps)
	if res.Failure != RefreshFailureReuse || !errors.Is(res.Err, session.ErrRefreshReuse) {
		t.Fatalf("expected reuse failure, got %v: %v", res.Failure, res.Err)
	}
	if res.SessionID != "s1" || res.IdentityID != "u1" {
		t.Fatalf("reuse result must name the session: %+v", res)
	}
	if res.Tokens.AccessToken != "" || res.Tokens.RefreshToken != "" {
		t.Fatal("tokens minted before a rejected rotation must not be returned")
	}
}

func TestRunRefreshSubjectFailureInvalidatesSession(t *testing.T) {
	sessions := &fakeSessions{}
	deps := RefreshDeps{
		VerifyRefresh: func(string) (*jwt.Claims, error) {
			return &jwt.Claims{UID: "u1", SID: "s1"}, nil
		},
		LoadSubject: func(context.Context, string) (jwt.Subject, error) {
			return jwt.Subject{}, credential.ErrAccountInactive
		},
		Tokens:   &fakeIssuer{},
		Sessions: sessions,
	}
	res := RunRefresh(context.Background(), "r", deps)
	if res.Failure != RefreshFailureSubject {
		t.Fatalf("expected subject failure, got %v", res.Failure)
	}
	if len(sessions.invalidated) != 1 || sessions.invalidated[0] != "s1" {
		t.Fatalf("expected s1 invalidated, got %v", sessions.invalidated)
	}
}

func TestRunRefreshThrottle(t *testing.T) {
	deps := RefreshDeps{
		VerifyRefresh: func(string) (*jwt.Claims, error) {
			return &jwt.Claims{UID: "u1", SID: "s1"}, nil
		},
		RateLimiter: &fakeLimiter{refresh: errLimited},
		RateLimited: errLimited,
		Sessions:    &fakeSessions{},
	}
	if res := RunRefresh(context.Background(), "r", deps); res.Failure != RefreshFailureRateLimited {
		t.Fatalf("expected rate limited, got %v", res.Failure)
	}
}

func TestRunLogoutReportsAlreadyInactive(t *testing.T) {
	sessions := &fakeSessions{already: true}
	deps := LogoutDeps{
		VerifyAccess: func(string) (*jwt.Claims, error) {
			return &jwt.Claims{UID: "u1", SID: "s1"}, nil
		},
		Sessions: sessions,
	}
	res := RunLogout(context.Background(), "a", deps)
	if res.Failure != LogoutFailureNone || !res.AlreadyInactive {
		t.Fatalf("unexpected result %+v", res)
	}

	deps.VerifyAccess = func(string) (*jwt.Claims, error) { return nil, jwt.ErrInvalid }
	if res := RunLogout(context.Background(), "a", deps); res.Failure != LogoutFailureDecode {
		t.Fatalf("expected decode failure, got %v", res.Failure)
	}
}

func TestRunValidateActivityFailureOnlyWarns(t *testing.T) {
	warned := 0
	deps := ValidateDeps{
		VerifyAccess: func(string) (*jwt.Claims, error) {
			return &jwt.Claims{UID: "u1", SID: "s1"}, nil
		},
		Sessions: &fakeSessions{activityErr: session.ErrStoreUnavailable},
		Warn:     func(string, ...any) { warned++ },
	}
	res := RunValidate(context.Background(), "a", session.ClientInfo{}, deps)
	if res.Failure != ValidateFailureNone || res.Session == nil {
		t.Fatalf("unexpected result %+v", res)
	}
	if warned != 1 {
		t.Fatalf("expected one warning, got %d", warned)
	}

	deps.Sessions = &fakeSessions{validateErr: session.ErrAccessMismatch}
	if res := RunValidate(context.Background(), "a", session.ClientInfo{}, deps); res.Failure != ValidateFailureSession {
		t.Fatalf("expected session failure, got %v", res.Failure)
	}
}

func TestRunAuthorizeReasons(t *testing.T) {
	registry, err := permission.DefaultRegistry()
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	deps := AuthorizeDeps{
		Resolve: func(context.Context, string) (permission.Set, error) {
			return permission.NewSet("view_users", "view_roles"), nil
		},
		Registry: registry,
	}

	cases := []struct {
		name    string
		in      AuthorizeInput
		allowed bool
		reason  string
	}{
		{"single held", AuthorizeInput{Permission: "view_users"}, true, ""},
		{"single missing", AuthorizeInput{Permission: "deploy_chaincodes"}, false, "missing permission: deploy_chaincodes"},
		{"any held", AuthorizeInput{Permissions: []string{"delete_users", "view_roles"}}, true, ""},
		{"any missing", AuthorizeInput{Permissions: []string{"delete_users", "create_users"}}, false, "missing any of: delete_users, create_users"},
		{"all missing", AuthorizeInput{Permissions: []string{"view_users", "delete_users", "create_users"}, RequireAll: true}, false, "missing permissions: delete_users, create_users"},
		{"all held", AuthorizeInput{Permissions: []string{"view_users", "view_roles"}, RequireAll: true}, true, ""},
		{"capability held", AuthorizeInput{Resource: "users", Action: "read"}, true, ""},
		{"capability missing", AuthorizeInput{Resource: "users", Action: "delete"}, false, "missing capability: users:delete"},
		{"capability unknown", AuthorizeInput{Resource: "ledgers", Action: "fork"}, false, "unknown capability: ledgers:fork"},
		{"empty", AuthorizeInput{}, false, ReasonEmptyRequirement},
		{"ambiguous", AuthorizeInput{Permission: "view_users", Resource: "users", Action: "read"}, false, ReasonAmbiguousRequirement},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := RunAuthorize(context.Background(), tc.in, deps)
			if res.Failure != AuthorizeFailureNone {
				t.Fatalf("unexpected failure: %v", res.Err)
			}
			if res.Allowed != tc.allowed || res.Reason != tc.reason {
				t.Fatalf("got (%v, %q), want (%v, %q)", res.Allowed, res.Reason, tc.allowed, tc.reason)
			}
		})
	}
}

func TestRunAuthorizeResolveFailure(t *testing.T) {
	deps := AuthorizeDeps{
		Resolve: func(context.Context, string) (permission.Set, error) {
			return nil, permission.ErrUnavailable
		},
	}
	res := RunAuthorize(context.Background(), AuthorizeInput{Permission: "view_users"}, deps)
	if res.Failure != AuthorizeFailureResolve || res.Allowed {
		t.Fatalf("unexpected result %+v", res)
	}
}
