package session

import (
	"context"
	"errors"
	"time"

	"github.com/ibn-api/authcore/internal"
)

const (
	// DefaultTTL is the lifetime granted on create, extend and rotate.
	DefaultTTL = 8 * time.Hour
	// DefaultRefreshCeiling is the number of rotations a session allows.
	DefaultRefreshCeiling = 10
	// DefaultRetention keeps expired or invalidated records for audit before Redis
	// drops them on its own.
	DefaultRetention = 24 * time.Hour
	// DefaultSweepBatch bounds the number of candidates examined per sweep pass.
	DefaultSweepBatch = 500
)

// Config controls session lifetimes.
type Config struct {
	TTL            time.Duration
	RefreshCeiling int
	SweepBatch     int

	// Now overrides the clock; nil means time.Now.
	Now func() time.Time
	// NewID overrides session id generation; nil means ULIDs.
	NewID func() string
}

// Manager owns the session state machine: Active to Active (extend, rotate),
// Active to Expired (time), Active to Invalidated (logout, ceiling, revoke).
// Expired and Invalidated are terminal.
type Manager struct {
	store *RedisStore
	cfg   Config
}

// NewManager wraps a store. Zero config values take the package defaults.
func NewManager(store *RedisStore, cfg Config) (*Manager, error) {
	if store == nil {
		return nil, errors.New("session store required")
	}
	if cfg.TTL == 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.RefreshCeiling == 0 {
		cfg.RefreshCeiling = DefaultRefreshCeiling
	}
	if cfg.SweepBatch == 0 {
		cfg.SweepBatch = DefaultSweepBatch
	}
	if cfg.TTL < 0 {
		return nil, errors.New("session TTL must be > 0")
	}
	if cfg.RefreshCeiling < 0 {
		return nil, errors.New("refresh ceiling must be > 0")
	}
	if cfg.SweepBatch < 0 {
		return nil, errors.New("sweep batch must be > 0")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewID == nil {
		cfg.NewID = internal.NewSessionID
	}
	return &Manager{store: store, cfg: cfg}, nil
}

// Store returns the underlying store.
func (m *Manager) Store() *RedisStore { return m.store }

// TTL returns the configured session lifetime.
func (m *Manager) TTL() time.Duration { return m.cfg.TTL }

// NewID returns a fresh session id. Tokens are bound to it before Create is called.
func (m *Manager) NewID() string { return m.cfg.NewID() }

// Create persists a new active session with refresh counter 0 and expiry now+TTL.
func (m *Manager) Create(
	ctx context.Context,
	sessionID, identityID, accessToken, refreshToken string,
	client ClientInfo,
) (*Session, error) {
	if sessionID == "" || identityID == "" {
		return nil, errors.New("session and identity id required")
	}

	now := m.cfg.Now()
	sess := &Session{
		ID:             sessionID,
		IdentityID:     identityID,
		AccessHash:     HashToken(accessToken),
		RefreshHash:    HashToken(refreshToken),
		CreatedAt:      now,
		ExpiresAt:      now.Add(m.cfg.TTL),
		LastActivityAt: now,
		RefreshCeiling: m.cfg.RefreshCeiling,
		Active:         true,
		IP:             client.IP,
		UserAgent:      client.UserAgent,
	}
	if err := m.store.Save(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// Get loads a session in any state.
func (m *Manager) Get(ctx context.Context, sessionID string) (*Session, error) {
	return m.store.Get(ctx, sessionID)
}

// Extend pushes expiry to now+d (TTL when d <= 0) for a valid session. Invalid or
// expired sessions yield ErrSessionNotValid and are left untouched.
func (m *Manager) Extend(ctx context.Context, sessionID string, d time.Duration) error {
	if d <= 0 {
		d = m.cfg.TTL
	}
	now := m.cfg.Now()
	err := m.store.Extend(ctx, sessionID, now, now.Add(d))
	if errors.Is(err, ErrSessionExpired) {
		return ErrSessionNotValid
	}
	return err
}

// Rotate replaces the access and refresh digests after checking that
// presentedRefresh is the current refresh token. When the counter has reached the
// ceiling the session is invalidated and ErrRefreshCeilingExceeded is returned.
// A presented token that is not the current one also invalidates the session
// and returns ErrRefreshReuse.
//
// Two concurrent calls with the same presented token cannot both succeed. The
// first loser to reach the store after the winner presents the pre-rotation
// digest, which is indistinguishable from replay, so it invalidates the session
// and gets ErrRefreshReuse; later losers see ErrSessionNotValid. Clients must
// serialize their own refreshes.
func (m *Manager) Rotate(
	ctx context.Context,
	sessionID, presentedRefresh, nextAccess, nextRefresh string,
) (int, error) {
	now := m.cfg.Now()
	return m.store.Rotate(ctx, RotateRequest{
		SessionID:        sessionID,
		PresentedRefresh: HashToken(presentedRefresh),
		NextAccess:       HashToken(nextAccess),
		NextRefresh:      HashToken(nextRefresh),
		Now:              now,
		NextExpiry:       now.Add(m.cfg.TTL),
	})
}

// UpdateActivity touches a valid session. It reports suspicious when the
// observed IP differs from the stored one; that is a signal, not a failure.
func (m *Manager) UpdateActivity(ctx context.Context, sessionID string, client ClientInfo) (bool, error) {
	return m.store.Touch(ctx, sessionID, m.cfg.Now(), client)
}

// MarkSuspicious flags a session for review.
func (m *Manager) MarkSuspicious(ctx context.Context, sessionID string) error {
	return m.store.MarkSuspicious(ctx, sessionID)
}

// Invalidate deactivates a session and clears its access digest. The refresh
// digest stays for audit but can no longer rotate. alreadyInactive distinguishes
// a repeated call from the first one.
func (m *Manager) Invalidate(ctx context.Context, sessionID string) (alreadyInactive bool, err error) {
	return m.store.Invalidate(ctx, sessionID)
}

// InvalidateAll deactivates every session indexed under an identity and returns
// how many were live.
func (m *Manager) InvalidateAll(ctx context.Context, identityID string) (int, error) {
	ids, err := m.store.IDsForIdentity(ctx, identityID)
	if err != nil {
		return 0, err
	}

	n := 0
	for _, id := range ids {
		already, err := m.store.Invalidate(ctx, id)
		if errors.Is(err, ErrSessionNotFound) {
			continue
		}
		if err != nil {
			return n, err
		}
		if !already {
			n++
		}
	}
	return n, nil
}

// ValidateAccess confirms that accessToken is the current access token of a valid
// session. An expired session is reclaimed on the spot.
func (m *Manager) ValidateAccess(ctx context.Context, sessionID, accessToken string) (*Session, error) {
	sess, err := m.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	now := m.cfg.Now()
	if sess.IsExpired(now) {
		if _, err := m.store.DeleteIfExpired(ctx, sessionID, now); err != nil {
			return nil, err
		}
		return nil, ErrSessionExpired
	}
	if !sess.Active {
		return nil, ErrSessionNotValid
	}
	if sess.AccessHash != HashToken(accessToken) {
		return nil, ErrAccessMismatch
	}
	return sess, nil
}

// ListForIdentity returns the identity's valid sessions, most recently active first.
func (m *Manager) ListForIdentity(ctx context.Context, identityID string) ([]*Session, error) {
	all, err := m.store.ListForIdentity(ctx, identityID)
	if err != nil {
		return nil, err
	}

	now := m.cfg.Now()
	out := all[:0]
	for _, s := range all {
		if s.IsValid(now) {
			out = append(out, s)
		}
	}
	return out, nil
}

// SweepExpired deletes sessions whose expiry has passed. Each deletion re-checks
// expiry inside Redis, so a session extended after it was selected survives.
// Safe to run concurrently with live traffic and with other sweepers.
func (m *Manager) SweepExpired(ctx context.Context) (int, error) {
	deleted := 0
	for {
		now := m.cfg.Now()
		ids, err := m.store.ExpiredCandidates(ctx, now, m.cfg.SweepBatch)
		if err != nil {
			return deleted, err
		}
		if len(ids) == 0 {
			return deleted, nil
		}

		progressed := false
		for _, id := range ids {
			ok, err := m.store.DeleteIfExpired(ctx, id, now)
			if err != nil {
				return deleted, err
			}
			if ok {
				deleted++
				progressed = true
			}
		}
		if !progressed || len(ids) < m.cfg.SweepBatch {
			return deleted, nil
		}
	}
}
