package authcore

import (
	"time"

	"github.com/ibn-api/authcore/identity"
	"github.com/ibn-api/authcore/permission"
)

// IdentityStore persists identities. See [identity.Store] for the contract.
type IdentityStore = identity.Store

// RoleStore persists roles, permissions and grants. See [permission.Store].
type RoleStore = permission.Store

// PublicIdentity is the identity view returned to callers. It never carries
// the password hash or lockout state.
type PublicIdentity = identity.Public

// LoginRequest is the input to [Engine.Login]. Identifier is a username or email.
type LoginRequest struct {
	Identifier string
	Secret     string
	ClientIP   string
	UserAgent  string
}

// LoginResult is returned by a successful [Engine.Login].
type LoginResult struct {
	Identity     PublicIdentity
	AccessToken  string
	RefreshToken string
	// ExpiresIn is the access token lifetime in seconds.
	ExpiresIn int64
	SessionID string
}

// RefreshResult is returned by a successful [Engine.Refresh].
type RefreshResult struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int64
}

// LogoutOutcome distinguishes a first logout from a repeated one.
type LogoutOutcome int

const (
	// LogoutInvalidated means the session was live and is now invalidated.
	LogoutInvalidated LogoutOutcome = iota + 1
	// LogoutAlreadyInactive means the session had already been invalidated.
	LogoutAlreadyInactive
)

func (o LogoutOutcome) String() string {
	switch o {
	case LogoutInvalidated:
		return "invalidated"
	case LogoutAlreadyInactive:
		return "already_inactive"
	default:
		return "unknown"
	}
}

// Principal is the authenticated caller behind an access token.
type Principal struct {
	IdentityID string
	SessionID  string
	Username   string
	Email      string
	RoleID     string
	RoleName   string

	// Suspicious is set when this request came from a different IP than the
	// session last saw.
	Suspicious bool
	ExpiresAt  time.Time
}

// MatchMode selects how a permission list is evaluated.
type MatchMode int

const (
	// MatchAny passes when at least one permission is held.
	MatchAny MatchMode = iota
	// MatchAll passes when every permission is held.
	MatchAll
)

// Requirement is what an operation needs. Exactly one form is used: a single
// Permission, a Permissions list with a Mode, or a (Resource, Action) capability.
type Requirement struct {
	Permission  string
	Permissions []string
	Mode        MatchMode
	Resource    string
	Action      string
}

// RequirePermission requires one permission by name.
func RequirePermission(name string) Requirement {
	return Requirement{Permission: name}
}

// RequireAny requires at least one of names.
func RequireAny(names ...string) Requirement {
	return Requirement{Permissions: names, Mode: MatchAny}
}

// RequireAll requires every one of names.
func RequireAll(names ...string) Requirement {
	return Requirement{Permissions: names, Mode: MatchAll}
}

// RequireCapability requires any permission mapped to (resource, action).
func RequireCapability(resource, action string) Requirement {
	return Requirement{Resource: resource, Action: action}
}

// Decision is the result of [Engine.Authorize]. Reason is set on denial.
type Decision struct {
	Allowed bool
	Reason  string
}

// SessionInfo is the safe view of a session. Token digests are not included.
type SessionInfo struct {
	SessionID       string        `json:"session_id"`
	CreatedAt       time.Time     `json:"created_at"`
	ExpiresAt       time.Time     `json:"expires_at"`
	LastActivityAt  time.Time     `json:"last_activity_at"`
	RefreshCount    int           `json:"refresh_count"`
	RefreshCeiling  int           `json:"refresh_ceiling"`
	Suspicious      bool          `json:"suspicious"`
	IP              string        `json:"ip,omitempty"`
	UserAgent       string        `json:"user_agent,omitempty"`
	Duration        time.Duration `json:"duration"`
	TimeUntilExpiry time.Duration `json:"time_until_expiry"`
}

// HealthStatus is an on-demand backend health result.
type HealthStatus struct {
	RedisAvailable bool
	RedisLatency   time.Duration
}

// RoleView is a role with its permission names resolved.
type RoleView struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	DisplayName string   `json:"display_name"`
	Description string   `json:"description,omitempty"`
	Priority    int      `json:"priority"`
	System      bool     `json:"system"`
	Active      bool     `json:"active"`
	Permissions []string `json:"permissions"`
}

// PermissionSummary describes an identity's effective access.
type PermissionSummary = permission.Summary
