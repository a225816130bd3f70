package credential

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ibn-api/authcore/identity"
)

const (
	// DefaultThreshold is the number of consecutive failures that locks an identity.
	DefaultThreshold = 5
	// DefaultLockDuration is how long a tripped lock lasts.
	DefaultLockDuration = 30 * time.Minute
	// DefaultMaxRetries bounds optimistic write retries per attempt.
	DefaultMaxRetries = 8
)

var (
	ErrUnknownIdentity    = errors.New("unknown identity")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountInactive    = errors.New("account inactive")
	ErrAccountLocked      = errors.New("account locked")
	ErrStoreUnavailable   = errors.New("credential store unavailable")
)

// PasswordHasher is the subset of password.Hasher the verifier needs.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(password, encoded string) (bool, error)
	NeedsRehash(encoded string) bool
}

// ClientInfo describes where an attempt came from.
type ClientInfo struct {
	IP        string
	UserAgent string
}

// Config controls lockout policy.
type Config struct {
	Threshold    int
	LockDuration time.Duration
	MaxRetries   int
	// UpgradeHashes rehashes legacy or weaker hashes after a successful verification.
	UpgradeHashes bool
	// OnRehash, if set, is called after an upgraded hash has been stored.
	OnRehash func(identityID string)
	Now      func() time.Time
}

// DefaultConfig returns the lockout policy used when fields are left zero.
func DefaultConfig() Config {
	return Config{
		Threshold:     DefaultThreshold,
		LockDuration:  DefaultLockDuration,
		MaxRetries:    DefaultMaxRetries,
		UpgradeHashes: true,
		Now:           time.Now,
	}
}

// Verifier authenticates identities and persists lockout state.
type Verifier struct {
	store     identity.Store
	hasher    PasswordHasher
	cfg       Config
	dummyHash string
}

// NewVerifier validates cfg, fills zero fields with defaults and precomputes the
// hash used to equalise timing for unknown identifiers.
func NewVerifier(store identity.Store, hasher PasswordHasher, cfg Config) (*Verifier, error) {
	if store == nil {
		return nil, errors.New("credential: identity store is nil")
	}
	if hasher == nil {
		return nil, errors.New("credential: hasher is nil")
	}
	if cfg.Threshold < 0 || cfg.LockDuration < 0 || cfg.MaxRetries < 0 {
		return nil, errors.New("credential: negative lockout setting")
	}
	if cfg.Threshold == 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.LockDuration == 0 {
		cfg.LockDuration = DefaultLockDuration
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	dummy, err := hasher.Hash("authcore-timing-equaliser")
	if err != nil {
		return nil, fmt.Errorf("credential: dummy hash: %w", err)
	}

	return &Verifier{store: store, hasher: hasher, cfg: cfg, dummyHash: dummy}, nil
}

// Config returns the effective policy.
func (v *Verifier) Config() Config {
	return v.cfg
}

// Authenticate checks secret for identifier and records the outcome.
//
// On failure the returned Identity is the zero value for unknown identifiers and
// otherwise the stored state after the attempt, so callers can tell whether this
// attempt tripped the lock.
func (v *Verifier) Authenticate(
	ctx context.Context,
	identifier string,
	secret string,
	client ClientInfo,
) (identity.Identity, error) {
	rec, err := v.store.GetByLogin(ctx, identifier)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			_, _ = v.hasher.Verify(secret, v.dummyHash)
			return identity.Identity{}, ErrUnknownIdentity
		}
		return identity.Identity{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	now := v.cfg.Now()
	if err := gate(rec, now); err != nil {
		return rec, err
	}

	verifiedHash := rec.PasswordHash
	ok, err := v.hasher.Verify(secret, verifiedHash)
	if err != nil {
		ok = false
	}

	var upgraded string
	if ok && v.cfg.UpgradeHashes && v.hasher.NeedsRehash(verifiedHash) {
		if h, herr := v.hasher.Hash(secret); herr == nil {
			upgraded = h
		}
	}

	saved, err := identity.Mutate(ctx, v.store, rec.ID, v.cfg.MaxRetries, func(next *identity.Identity) error {
		now := v.cfg.Now()
		if err := gate(*next, now); err != nil {
			return err
		}
		if next.LockElapsed(now) {
			next.Unlock()
		}

		match := ok
		if next.PasswordHash != verifiedHash {
			// Password changed between read and write; judge against the new hash.
			match, _ = v.hasher.Verify(secret, next.PasswordHash)
			upgraded = ""
		}

		if !match {
			next.FailedAttempts++
			if next.FailedAttempts >= v.cfg.Threshold {
				until := now.Add(v.cfg.LockDuration)
				next.Status = identity.StatusLocked
				next.LockedUntil = &until
			}
			next.UpdatedAt = now
			return nil
		}

		next.FailedAttempts = 0
		next.LockedUntil = nil
		next.Status = identity.StatusActive
		next.LastLoginAt = &now
		next.LastActivityAt = &now
		next.LastIP = client.IP
		next.LastUserAgent = client.UserAgent
		next.UpdatedAt = now
		if upgraded != "" {
			next.PasswordHash = upgraded
		}
		return nil
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrAccountInactive), errors.Is(err, ErrAccountLocked):
			return saved, err
		case errors.Is(err, identity.ErrNotFound):
			return identity.Identity{}, ErrUnknownIdentity
		default:
			return identity.Identity{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
	}

	if saved.FailedAttempts > 0 {
		return saved, ErrInvalidCredentials
	}
	if upgraded != "" && saved.PasswordHash == upgraded && v.cfg.OnRehash != nil {
		v.cfg.OnRehash(saved.ID)
	}
	return saved, nil
}

// Unlock clears lock state regardless of whether the window has elapsed.
func (v *Verifier) Unlock(ctx context.Context, identityID string) (identity.Identity, error) {
	saved, err := identity.Mutate(ctx, v.store, identityID, v.cfg.MaxRetries, func(next *identity.Identity) error {
		if next.Status == identity.StatusLocked {
			next.Unlock()
		}
		next.FailedAttempts = 0
		next.LockedUntil = nil
		next.UpdatedAt = v.cfg.Now()
		return nil
	})
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return identity.Identity{}, err
		}
		return identity.Identity{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return saved, nil
}

func gate(rec identity.Identity, now time.Time) error {
	switch rec.Status {
	case identity.StatusInactive, identity.StatusSuspended:
		return ErrAccountInactive
	}
	if rec.IsLocked(now) {
		return ErrAccountLocked
	}
	return nil
}
