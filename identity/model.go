package identity

import (
	"errors"
	"strings"
	"time"
)

// Status is the lifecycle state of an identity.
type Status string

const (
	StatusActive    Status = "active"
	StatusInactive  Status = "inactive"
	StatusLocked    Status = "locked"
	StatusSuspended Status = "suspended"
)

// ErrInvalidStatus is returned when a status string is not one of the known states.
var ErrInvalidStatus = errors.New("invalid identity status")

// ParseStatus normalises s into a [Status].
func ParseStatus(s string) (Status, error) {
	switch Status(strings.ToLower(strings.TrimSpace(s))) {
	case StatusActive:
		return StatusActive, nil
	case StatusInactive:
		return StatusInactive, nil
	case StatusLocked:
		return StatusLocked, nil
	case StatusSuspended:
		return StatusSuspended, nil
	}
	return "", ErrInvalidStatus
}

// Identity is a user account with credentials and lockout state.
type Identity struct {
	ID           string
	Username     string
	Email        string
	PasswordHash string
	Status       Status

	FailedAttempts int
	LockedUntil    *time.Time

	// RoleID references a permission.Role. Empty means no role.
	RoleID string

	CreatedAt      time.Time
	UpdatedAt      time.Time
	LastLoginAt    *time.Time
	LastActivityAt *time.Time
	LastIP         string
	LastUserAgent  string

	// Version is advanced by the store on every successful Update.
	Version uint64
}

// IsLocked reports whether the identity is inside an active lock window.
func (i Identity) IsLocked(now time.Time) bool {
	return i.Status == StatusLocked && i.LockedUntil != nil && now.Before(*i.LockedUntil)
}

// LockElapsed reports whether the identity carries a lock whose window has passed.
func (i Identity) LockElapsed(now time.Time) bool {
	if i.Status != StatusLocked {
		return false
	}
	return i.LockedUntil == nil || !now.Before(*i.LockedUntil)
}

// Unlock clears lock state and restores the active status.
func (i *Identity) Unlock() {
	i.Status = StatusActive
	i.FailedAttempts = 0
	i.LockedUntil = nil
}

// Clone returns a deep copy so callers can mutate without aliasing store state.
func (i Identity) Clone() Identity {
	out := i
	out.LockedUntil = cloneTime(i.LockedUntil)
	out.LastLoginAt = cloneTime(i.LastLoginAt)
	out.LastActivityAt = cloneTime(i.LastActivityAt)
	return out
}

// Public is the subset of an identity that is safe to return to callers.
type Public struct {
	ID          string     `json:"id"`
	Username    string     `json:"username"`
	Email       string     `json:"email"`
	Status      Status     `json:"status"`
	RoleID      string     `json:"role_id,omitempty"`
	LastLoginAt *time.Time `json:"last_login_at,omitempty"`
}

// Public strips credential and lockout fields.
func (i Identity) Public() Public {
	return Public{
		ID:          i.ID,
		Username:    i.Username,
		Email:       i.Email,
		Status:      i.Status,
		RoleID:      i.RoleID,
		LastLoginAt: cloneTime(i.LastLoginAt),
	}
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
