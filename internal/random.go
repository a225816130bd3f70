package internal

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewSessionID returns a lexicographically sortable session identifier.
func NewSessionID() string {
	return NewSessionIDAt(time.Now())
}

// NewSessionIDAt is NewSessionID with an explicit timestamp component.
func NewSessionIDAt(t time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

// ValidSessionID reports whether s parses as a session identifier.
func ValidSessionID(s string) bool {
	_, err := ulid.ParseStrict(s)
	return err == nil
}

// NewID returns a random UUIDv4 string for identity, role and permission rows.
func NewID() string {
	return uuid.NewString()
}
