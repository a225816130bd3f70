package authcore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/ibn-api/authcore/identity"
	"github.com/ibn-api/authcore/password"
	"github.com/ibn-api/authcore/permission"
	"github.com/ibn-api/authcore/store/memory"
)

const testPassword = "correct-horse-battery"

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testEnv struct {
	engine *Engine
	store  *memory.Store
	mr     *miniredis.Miniredis
	rdb    *redis.Client
	clock  *testClock

	// ids maps usernames to identity ids.
	ids map[string]string
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.JWT.SigningMethod = "hs256"
	cfg.JWT.PrivateKey = []byte("0123456789abcdef0123456789abcdef")
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.Sweeper.Enabled = false
	return cfg
}

func newTestRedis(t testing.TB) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})
	return mr, rdb
}

// newTestEnv seeds the system roles and one identity per role: alice (admin),
// lee (leader), dev (developer) and bob (tester), all with testPassword.
func newTestEnv(t testing.TB, cfg Config, sink AuditSink) *testEnv {
	t.Helper()
	ctx := context.Background()

	mr, rdb := newTestRedis(t)
	clock := &testClock{now: time.Now()}
	store := memory.New(clock.Now)
	if _, err := permission.Seed(ctx, store); err != nil {
		t.Fatalf("seed: %v", err)
	}

	hasher, err := password.NewHasher(password.Config{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
	})
	if err != nil {
		t.Fatalf("hasher: %v", err)
	}
	hash, err := hasher.Hash(testPassword)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}

	ids := make(map[string]string)
	for username, role := range map[string]string{
		"alice": permission.RoleAdmin,
		"lee":   permission.RoleLeader,
		"dev":   permission.RoleDeveloper,
		"bob":   permission.RoleTester,
	} {
		r, err := store.GetRoleByName(ctx, role)
		if err != nil {
			t.Fatalf("role %s: %v", role, err)
		}
		rec, err := store.Create(ctx, identity.Identity{
			Username:     username,
			Email:        username + "@example.com",
			PasswordHash: hash,
			RoleID:       r.ID,
		})
		if err != nil {
			t.Fatalf("create %s: %v", username, err)
		}
		ids[username] = rec.ID
	}

	b := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithIdentityStore(store).
		WithRoleStore(store).
		WithClock(clock.Now)
	if sink != nil {
		b = b.WithAuditSink(sink)
	}
	engine, err := b.Build()
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}
	t.Cleanup(engine.Close)

	return &testEnv{
		engine: engine,
		store:  store,
		mr:     mr,
		rdb:    rdb,
		clock:  clock,
		ids:    ids,
	}
}

func (env *testEnv) login(t testing.TB, username string) *LoginResult {
	t.Helper()
	res, err := env.engine.Login(context.Background(), LoginRequest{
		Identifier: username,
		Secret:     testPassword,
		ClientIP:   "10.0.0.1",
		UserAgent:  "test-agent",
	})
	if err != nil {
		t.Fatalf("login %s: %v", username, err)
	}
	return res
}

func TestBuildRequiresDependencies(t *testing.T) {
	_, rdb := newTestRedis(t)
	store := memory.New(nil)

	if _, err := New().WithConfig(testConfig()).WithIdentityStore(store).WithRoleStore(store).Build(); err == nil {
		t.Fatal("expected error without redis")
	}
	if _, err := New().WithConfig(testConfig()).WithRedis(rdb).WithRoleStore(store).Build(); err == nil {
		t.Fatal("expected error without identity store")
	}

	cfg := testConfig()
	cfg.JWT.PrivateKey = []byte("short")
	if _, err := New().WithConfig(cfg).WithRedis(rdb).WithIdentityStore(store).WithRoleStore(store).Build(); err == nil {
		t.Fatal("expected error for short hs256 key")
	}

	b := New().WithConfig(testConfig()).WithRedis(rdb).WithIdentityStore(store).WithRoleStore(store)
	engine, err := b.Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer engine.Close()
	if _, err := b.Build(); err == nil {
		t.Fatal("expected second Build to fail")
	}
}

func TestNilEngineIsNotReady(t *testing.T) {
	var e *Engine
	if _, err := e.Login(context.Background(), LoginRequest{}); !errors.Is(err, ErrEngineNotReady) {
		t.Fatalf("expected ErrEngineNotReady, got %v", err)
	}
	if _, err := e.Authenticate(context.Background(), "tok"); !errors.Is(err, ErrEngineNotReady) {
		t.Fatalf("expected ErrEngineNotReady, got %v", err)
	}
	e.Close()
}

func TestLoginIssuesTokensAndSession(t *testing.T) {
	env := newTestEnv(t, testConfig(), nil)
	ctx := context.Background()

	res := env.login(t, "alice")
	if res.AccessToken == "" || res.RefreshToken == "" || res.SessionID == "" {
		t.Fatalf("incomplete login result: %+v", res)
	}
	if res.ExpiresIn != int64((8 * time.Hour).Seconds()) {
		t.Fatalf("expected 8h expires_in, got %d", res.ExpiresIn)
	}
	if res.Identity.Username != "alice" || res.Identity.ID != env.ids["alice"] {
		t.Fatalf("unexpected identity: %+v", res.Identity)
	}

	p, err := env.engine.Authenticate(WithClientIP(ctx, "10.0.0.1"), res.AccessToken)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if p.IdentityID != env.ids["alice"] || p.SessionID != res.SessionID || p.RoleName != permission.RoleAdmin {
		t.Fatalf("unexpected principal: %+v", p)
	}
	if p.Suspicious {
		t.Fatal("same IP must not be suspicious")
	}

	sessions, err := env.engine.ListSessions(ctx, env.ids["alice"])
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	if len(sessions) != 1 || sessions[0].SessionID != res.SessionID || sessions[0].IP != "10.0.0.1" {
		t.Fatalf("unexpected sessions: %+v", sessions)
	}
	if env.engine.MetricsSnapshot().Counters[MetricLoginSuccess] != 1 {
		t.Fatal("expected one login success counted")
	}
}

func TestLoginByEmailAndUnknownIdentity(t *testing.T) {
	env := newTestEnv(t, testConfig(), nil)
	ctx := context.Background()

	if _, err := env.engine.Login(ctx, LoginRequest{Identifier: "bob@example.com", Secret: testPassword}); err != nil {
		t.Fatalf("login by email: %v", err)
	}

	_, err := env.engine.Login(ctx, LoginRequest{Identifier: "nobody", Secret: testPassword})
	if !errors.Is(err, ErrUnknownIdentity) {
		t.Fatalf("expected ErrUnknownIdentity, got %v", err)
	}
	_, wrong := env.engine.Login(ctx, LoginRequest{Identifier: "bob", Secret: "not-the-password"})
	if !errors.Is(wrong, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", wrong)
	}
	if PublicMessage(err) != PublicMessage(wrong) || ErrorCode(err) != ErrorCode(wrong) {
		t.Fatal("unknown identity must be indistinguishable from a wrong password")
	}
}

func TestLoginInactiveIdentity(t *testing.T) {
	env := newTestEnv(t, testConfig(), nil)
	ctx := context.Background()

	if err := env.engine.SetAccountStatus(ctx, env.ids["alice"], env.ids["dev"], identity.StatusSuspended); err != nil {
		t.Fatalf("suspend: %v", err)
	}
	_, err := env.engine.Login(ctx, LoginRequest{Identifier: "dev", Secret: testPassword})
	if !errors.Is(err, ErrAccountInactive) {
		t.Fatalf("expected ErrAccountInactive, got %v", err)
	}
}

func TestAuthenticateFlagsIPChange(t *testing.T) {
	cfg := testConfig()
	cfg.Audit.Enabled = true
	sink := NewChannelSink(64)
	env := newTestEnv(t, cfg, sink)

	res := env.login(t, "bob")
	p, err := env.engine.Authenticate(WithClientIP(context.Background(), "192.168.1.9"), res.AccessToken)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if !p.Suspicious {
		t.Fatal("expected suspicious principal after IP change")
	}
	if env.engine.MetricsSnapshot().Counters[MetricSuspiciousActivity] != 1 {
		t.Fatal("expected suspicious activity counted")
	}

	env.engine.Close()
	found := false
	for ev := range drain(sink) {
		if ev.EventType == "suspicious_activity" {
			found = true
			if ev.IP != "192.168.1.9" || ev.Metadata["previous_ip"] != "10.0.0.1" {
				t.Fatalf("unexpected suspicious event: %+v", ev)
			}
		}
	}
	if !found {
		t.Fatal("expected suspicious_activity audit event")
	}
}

func TestAuthenticateRejectsRefreshToken(t *testing.T) {
	env := newTestEnv(t, testConfig(), nil)
	res := env.login(t, "bob")

	if _, err := env.engine.Authenticate(context.Background(), res.RefreshToken); !errors.Is(err, ErrTokenKindMismatch) {
		t.Fatalf("expected ErrTokenKindMismatch, got %v", err)
	}
	if _, err := env.engine.Authenticate(context.Background(), "garbage"); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid, got %v", err)
	}
}

func TestAuthenticateExpiredToken(t *testing.T) {
	env := newTestEnv(t, testConfig(), nil)
	res := env.login(t, "bob")

	env.clock.Advance(9 * time.Hour)
	if _, err := env.engine.Authenticate(context.Background(), res.AccessToken); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
}

func TestLogoutIsIdempotent(t *testing.T) {
	env := newTestEnv(t, testConfig(), nil)
	ctx := context.Background()
	res := env.login(t, "bob")

	outcome, err := env.engine.Logout(ctx, res.AccessToken)
	if err != nil || outcome != LogoutInvalidated {
		t.Fatalf("first logout: %v %v", outcome, err)
	}
	outcome, err = env.engine.Logout(ctx, res.AccessToken)
	if err != nil || outcome != LogoutAlreadyInactive {
		t.Fatalf("second logout: %v %v", outcome, err)
	}

	if _, err := env.engine.Authenticate(ctx, res.AccessToken); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid after logout, got %v", err)
	}
	if _, err := env.engine.Refresh(ctx, res.RefreshToken); err == nil {
		t.Fatal("refresh must fail after logout")
	}
}

func TestLogoutAcceptsExpiredAccessToken(t *testing.T) {
	cfg := testConfig()
	cfg.JWT.AccessTTL = 15 * time.Minute
	env := newTestEnv(t, cfg, nil)
	res := env.login(t, "bob")

	env.clock.Advance(20 * time.Minute)
	if _, err := env.engine.Authenticate(context.Background(), res.AccessToken); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
	outcome, err := env.engine.Logout(context.Background(), res.AccessToken)
	if err != nil || outcome != LogoutInvalidated {
		t.Fatalf("logout with expired token: %v %v", outcome, err)
	}
}

func TestHealthReportsRedis(t *testing.T) {
	env := newTestEnv(t, testConfig(), nil)
	if h := env.engine.Health(context.Background()); !h.RedisAvailable {
		t.Fatalf("expected redis available, got %+v", h)
	}
}

func drain(sink *ChannelSink) <-chan AuditEvent {
	out := make(chan AuditEvent, 256)
	go func() {
		defer close(out)
		for {
			select {
			case ev := <-sink.Events():
				out <- ev
			case <-time.After(50 * time.Millisecond):
				return
			}
		}
	}()
	return out
}
