package session

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// ClientInfo is the caller network context recorded on a session.
type ClientInfo struct {
	IP        string
	UserAgent string
}

// Session is one login's server-side state. Token values are never stored; only
// their SHA-256 digests are.
type Session struct {
	ID         string
	IdentityID string

	AccessHash  string
	RefreshHash string

	CreatedAt      time.Time
	ExpiresAt      time.Time
	LastActivityAt time.Time

	RefreshCount   int
	RefreshCeiling int

	Active     bool
	Suspicious bool

	IP        string
	UserAgent string
}

// IsValid reports whether the session is active and not past its expiry.
func (s *Session) IsValid(now time.Time) bool {
	return s.Active && now.Before(s.ExpiresAt)
}

// IsExpired reports whether now is at or past the expiry.
func (s *Session) IsExpired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// Duration is the session age.
func (s *Session) Duration(now time.Time) time.Duration {
	return now.Sub(s.CreatedAt)
}

// TimeUntilExpiry is the remaining lifetime, zero once expired.
func (s *Session) TimeUntilExpiry(now time.Time) time.Duration {
	if d := s.ExpiresAt.Sub(now); d > 0 {
		return d
	}
	return 0
}

// HashToken returns the hex SHA-256 digest stored in place of a token value.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
