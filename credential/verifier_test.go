package credential

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ibn-api/authcore/identity"
	"github.com/ibn-api/authcore/password"
	"github.com/ibn-api/authcore/store/memory"
)

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

func newTestHasher(t *testing.T) *password.Hasher {
	t.Helper()
	h, err := password.NewHasher(password.Config{
		Memory:      8 * 1024,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	})
	if err != nil {
		t.Fatalf("hasher: %v", err)
	}
	return h
}

type fixture struct {
	store    *memory.Store
	hasher   *password.Hasher
	clock    *testClock
	verifier *Verifier
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	clock := &testClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	store := memory.New(clock.Now)
	hasher := newTestHasher(t)
	cfg.Now = clock.Now
	v, err := NewVerifier(store, hasher, cfg)
	if err != nil {
		t.Fatalf("verifier: %v", err)
	}
	return &fixture{store: store, hasher: hasher, clock: clock, verifier: v}
}

func (f *fixture) addIdentity(t *testing.T, username, secret string) identity.Identity {
	t.Helper()
	hash, err := f.hasher.Hash(secret)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	rec, err := f.store.Create(context.Background(), identity.Identity{
		Username:     username,
		Email:        username + "@example.com",
		PasswordHash: hash,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return rec
}

var client = ClientInfo{IP: "10.0.0.7", UserAgent: "test-agent"}

func TestLockoutAfterThresholdForConfiguredDuration(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	f.addIdentity(t, "bob", "Tester123!")

	for i := 1; i <= DefaultThreshold; i++ {
		rec, err := f.verifier.Authenticate(ctx, "bob", "wrong-password", client)
		if !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d: expected ErrInvalidCredentials, got %v", i, err)
		}
		if rec.FailedAttempts != i {
			t.Fatalf("attempt %d: expected counter %d, got %d", i, i, rec.FailedAttempts)
		}
	}

	rec, err := f.store.GetByLogin(ctx, "bob")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.Status != identity.StatusLocked || rec.LockedUntil == nil {
		t.Fatalf("expected locked identity, got %+v", rec)
	}
	wantUntil := f.clock.Now().Add(DefaultLockDuration)
	if !rec.LockedUntil.Equal(wantUntil) {
		t.Fatalf("expected lock until %v, got %v", wantUntil, *rec.LockedUntil)
	}

	if _, err := f.verifier.Authenticate(ctx, "bob", "Tester123!", client); !errors.Is(err, ErrAccountLocked) {
		t.Fatalf("correct secret inside window: expected ErrAccountLocked, got %v", err)
	}

	f.clock.Advance(DefaultLockDuration - time.Second)
	if _, err := f.verifier.Authenticate(ctx, "bob", "Tester123!", client); !errors.Is(err, ErrAccountLocked) {
		t.Fatalf("one second before expiry: expected ErrAccountLocked, got %v", err)
	}

	f.clock.Advance(time.Second)
	rec, err = f.verifier.Authenticate(ctx, "bob", "Tester123!", client)
	if err != nil {
		t.Fatalf("after window: %v", err)
	}
	if rec.Status != identity.StatusActive || rec.FailedAttempts != 0 || rec.LockedUntil != nil {
		t.Fatalf("expected normalised identity, got %+v", rec)
	}
	if rec.LastLoginAt == nil || !rec.LastLoginAt.Equal(f.clock.Now()) {
		t.Fatalf("last login not recorded: %v", rec.LastLoginAt)
	}
	if rec.LastIP != client.IP || rec.LastUserAgent != client.UserAgent {
		t.Fatalf("client info not recorded: %+v", rec)
	}
}

func TestElapsedLockWithWrongSecretStartsFreshCount(t *testing.T) {
	f := newFixture(t, Config{Threshold: 2, LockDuration: time.Minute})
	ctx := context.Background()
	f.addIdentity(t, "bob", "Tester123!")

	for i := 0; i < 2; i++ {
		_, _ = f.verifier.Authenticate(ctx, "bob", "nope-nope", client)
	}
	f.clock.Advance(time.Minute)

	rec, err := f.verifier.Authenticate(ctx, "bob", "nope-nope", client)
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if rec.Status != identity.StatusActive || rec.FailedAttempts != 1 {
		t.Fatalf("expected active with one failure, got %+v", rec)
	}
}

func TestSuccessResetsCounter(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	f.addIdentity(t, "alice", "Password1!")

	for i := 0; i < DefaultThreshold-1; i++ {
		_, _ = f.verifier.Authenticate(ctx, "alice", "bad-password", client)
	}
	rec, err := f.verifier.Authenticate(ctx, "alice", "Password1!", client)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if rec.FailedAttempts != 0 {
		t.Fatalf("expected counter reset, got %d", rec.FailedAttempts)
	}

	// A fresh run of failures is needed to lock again.
	for i := 0; i < DefaultThreshold-1; i++ {
		_, _ = f.verifier.Authenticate(ctx, "alice", "bad-password", client)
	}
	if _, err := f.verifier.Authenticate(ctx, "alice", "Password1!", client); err != nil {
		t.Fatalf("expected success before threshold, got %v", err)
	}
}

func TestUnknownAndInactiveIdentities(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	if _, err := f.verifier.Authenticate(ctx, "ghost", "whatever1", client); !errors.Is(err, ErrUnknownIdentity) {
		t.Fatalf("expected ErrUnknownIdentity, got %v", err)
	}

	for _, status := range []identity.Status{identity.StatusInactive, identity.StatusSuspended} {
		rec := f.addIdentity(t, "user-"+string(status), "Password1!")
		rec.Status = status
		if _, err := f.store.Update(ctx, rec, rec.Version); err != nil {
			t.Fatalf("update: %v", err)
		}

		got, err := f.verifier.Authenticate(ctx, rec.Username, "Password1!", client)
		if !errors.Is(err, ErrAccountInactive) {
			t.Fatalf("%s: expected ErrAccountInactive, got %v", status, err)
		}
		if got.FailedAttempts != 0 {
			t.Fatalf("%s: inactive attempts must not count, got %d", status, got.FailedAttempts)
		}
	}
}

func TestLookupByEmail(t *testing.T) {
	f := newFixture(t, Config{})
	f.addIdentity(t, "carol", "Password1!")

	rec, err := f.verifier.Authenticate(context.Background(), "carol@example.com", "Password1!", client)
	if err != nil {
		t.Fatalf("authenticate by email: %v", err)
	}
	if rec.Username != "carol" {
		t.Fatalf("unexpected identity %q", rec.Username)
	}
}

func TestConcurrentFailuresAreNeverLost(t *testing.T) {
	f := newFixture(t, Config{Threshold: 100, MaxRetries: 128})
	ctx := context.Background()
	f.addIdentity(t, "dave", "Password1!")

	const workers = 16
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.verifier.Authenticate(ctx, "dave", "wrong-password", client)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("expected ErrInvalidCredentials, got %v", err)
		}
	}

	rec, _ := f.store.GetByLogin(ctx, "dave")
	if rec.FailedAttempts != workers {
		t.Fatalf("expected %d failures, got %d", workers, rec.FailedAttempts)
	}
}

func TestLegacyHashUpgradedOnSuccess(t *testing.T) {
	f := newFixture(t, Config{UpgradeHashes: true})
	ctx := context.Background()

	legacy := "pbkdf2:sha256:1000$NaCl1234$a343f9a24a18df6298c9e450c59e3c278384828e7fb4f6bbe81545eea892163d"
	if _, err := f.store.Create(ctx, identity.Identity{Username: "erin", PasswordHash: legacy}); err != nil {
		t.Fatalf("create: %v", err)
	}

	rec, err := f.verifier.Authenticate(ctx, "erin", "legacy-secret", client)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if !strings.HasPrefix(rec.PasswordHash, "$argon2id$") {
		t.Fatalf("expected upgraded hash, got %q", rec.PasswordHash)
	}

	if _, err := f.verifier.Authenticate(ctx, "erin", "legacy-secret", client); err != nil {
		t.Fatalf("authenticate with upgraded hash: %v", err)
	}
}

func TestUnlockClearsActiveLock(t *testing.T) {
	f := newFixture(t, Config{Threshold: 1})
	ctx := context.Background()
	rec := f.addIdentity(t, "frank", "Password1!")

	_, _ = f.verifier.Authenticate(ctx, "frank", "bad-password", client)
	if _, err := f.verifier.Authenticate(ctx, "frank", "Password1!", client); !errors.Is(err, ErrAccountLocked) {
		t.Fatalf("expected ErrAccountLocked, got %v", err)
	}

	if _, err := f.verifier.Unlock(ctx, rec.ID); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if _, err := f.verifier.Authenticate(ctx, "frank", "Password1!", client); err != nil {
		t.Fatalf("after unlock: %v", err)
	}
}

type failingStore struct {
	identity.Store
}

func (failingStore) GetByLogin(context.Context, string) (identity.Identity, error) {
	return identity.Identity{}, errors.New("connection refused")
}

func TestStoreFailureSurfacesAsUnavailable(t *testing.T) {
	v, err := NewVerifier(failingStore{}, newTestHasher(t), Config{})
	if err != nil {
		t.Fatalf("verifier: %v", err)
	}
	if _, err := v.Authenticate(context.Background(), "bob", "secret-123", client); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
}
