package authcore

import "errors"

var (
	// ErrUnknownIdentity is returned when no identity matches the login identifier.
	// Its public message is the same as ErrInvalidCredentials.
	ErrUnknownIdentity = errors.New("unknown identity")
	// ErrInvalidCredentials is returned when the secret does not match.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountInactive is returned for inactive or suspended identities.
	ErrAccountInactive = errors.New("account inactive")
	// ErrAccountLocked is returned while a lockout window is open.
	ErrAccountLocked = errors.New("account locked")
	// ErrTokenExpired is returned for a correctly signed token past its expiry.
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenKindMismatch is returned when an access token is presented as a refresh token or the reverse.
	ErrTokenKindMismatch = errors.New("token kind mismatch")
	// ErrTokenInvalid covers signature and structure failures, and tokens that are no longer current for their session.
	ErrTokenInvalid = errors.New("token invalid")
	// ErrSessionNotFound is returned when a token references a session that does not exist.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionExpired is returned when the session behind a token has expired.
	ErrSessionExpired = errors.New("session expired")
	// ErrRefreshCeilingExceeded is returned when a session has used up its rotations. The session is invalidated.
	ErrRefreshCeilingExceeded = errors.New("refresh ceiling exceeded")
	// ErrPermissionDenied is returned when a requirement is not met.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrRoleNotFound is returned when a role name or id does not resolve.
	ErrRoleNotFound = errors.New("role not found")
	// ErrRoleExists is returned when creating a role whose name is taken.
	ErrRoleExists = errors.New("role already exists")
	// ErrPermissionNotFound is returned when a permission name does not resolve.
	ErrPermissionNotFound = errors.New("permission not found")
	// ErrRoleInUse is returned when deleting a role that identities still hold.
	ErrRoleInUse = errors.New("role in use")
	// ErrSystemRole is returned when deleting one of the four system roles.
	ErrSystemRole = errors.New("system role")
	// ErrIdentityNotFound is returned by account operations on an unknown identity id.
	ErrIdentityNotFound = errors.New("identity not found")
	// ErrInvalidStatus is returned when a requested account status is not allowed.
	ErrInvalidStatus = errors.New("invalid account status")
	// ErrStoreUnavailable is returned when a backing store cannot be reached.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrLoginRateLimited is returned when the login throttle rejects an attempt.
	ErrLoginRateLimited = errors.New("login rate limited")
	// ErrRefreshRateLimited is returned when the refresh throttle rejects an attempt.
	ErrRefreshRateLimited = errors.New("refresh rate limited")
	// ErrPasswordPolicy is returned when a new password fails the length policy.
	ErrPasswordPolicy = errors.New("password policy violation")
	// ErrPasswordReuse is returned when a new password equals the current one.
	ErrPasswordReuse = errors.New("new password must be different from current password")
	// ErrInvalidRoleName is returned when a role name is empty after trimming.
	ErrInvalidRoleName = errors.New("invalid role name")
	// ErrIdentityExists is returned when a new identity's username or email is taken.
	ErrIdentityExists = errors.New("identity already exists")
	// ErrInvalidIdentity is returned when a new identity lacks a username or
	// carries a malformed email.
	ErrInvalidIdentity = errors.New("invalid identity")
	// ErrEngineNotReady is returned by methods called on a nil or partially built Engine.
	ErrEngineNotReady = errors.New("engine not initialized")
)

// Stable machine codes returned by ErrorCode.
const (
	CodeInvalidCredentials = "invalid_credentials"
	CodeAccountInactive    = "account_inactive"
	CodeAccountLocked      = "account_locked"
	CodeExpired            = "expired"
	CodeInvalid            = "invalid"
	CodeCeilingExceeded    = "ceiling_exceeded"
	CodeSessionNotFound    = "session_not_found"
	CodePermissionDenied   = "permission_denied"
	CodeRoleNotFound       = "role_not_found"
	CodeRoleExists         = "role_exists"
	CodePermissionNotFound = "permission_not_found"
	CodeRoleInUse          = "role_in_use"
	CodeSystemRole         = "system_role"
	CodeIdentityNotFound   = "identity_not_found"
	CodeInvalidStatus      = "invalid_status"
	CodeInvalidRoleName    = "invalid_role_name"
	CodeIdentityExists     = "identity_exists"
	CodeInvalidIdentity    = "invalid_identity"
	CodeRateLimited        = "rate_limited"
	CodePasswordPolicy     = "password_policy"
	CodePasswordReuse      = "password_reuse"
	CodeServiceError       = "service_error"
)

var errorCodes = []struct {
	err  error
	code string
}{
	{ErrUnknownIdentity, CodeInvalidCredentials},
	{ErrInvalidCredentials, CodeInvalidCredentials},
	{ErrAccountInactive, CodeAccountInactive},
	{ErrAccountLocked, CodeAccountLocked},
	{ErrTokenExpired, CodeExpired},
	{ErrSessionExpired, CodeExpired},
	{ErrRefreshCeilingExceeded, CodeCeilingExceeded},
	{ErrTokenKindMismatch, CodeInvalid},
	{ErrTokenInvalid, CodeInvalid},
	{ErrSessionNotFound, CodeSessionNotFound},
	{ErrPermissionDenied, CodePermissionDenied},
	{ErrRoleNotFound, CodeRoleNotFound},
	{ErrRoleExists, CodeRoleExists},
	{ErrPermissionNotFound, CodePermissionNotFound},
	{ErrRoleInUse, CodeRoleInUse},
	{ErrSystemRole, CodeSystemRole},
	{ErrIdentityNotFound, CodeIdentityNotFound},
	{ErrInvalidStatus, CodeInvalidStatus},
	{ErrInvalidRoleName, CodeInvalidRoleName},
	{ErrIdentityExists, CodeIdentityExists},
	{ErrInvalidIdentity, CodeInvalidIdentity},
	{ErrLoginRateLimited, CodeRateLimited},
	{ErrRefreshRateLimited, CodeRateLimited},
	{ErrPasswordPolicy, CodePasswordPolicy},
	{ErrPasswordReuse, CodePasswordReuse},
}

var publicMessages = map[string]string{
	CodeInvalidCredentials: "invalid credentials",
	CodeAccountInactive:    "account is inactive",
	CodeAccountLocked:      "account is locked",
	CodeExpired:            "token expired",
	CodeInvalid:            "invalid token",
	CodeCeilingExceeded:    "session refresh limit reached",
	CodeSessionNotFound:    "session not found",
	CodePermissionDenied:   "permission denied",
	CodeRoleNotFound:       "role not found",
	CodeRoleExists:         "role already exists",
	CodePermissionNotFound: "permission not found",
	CodeRoleInUse:          "role is assigned to users",
	CodeSystemRole:         "system roles cannot be deleted",
	CodeIdentityNotFound:   "user not found",
	CodeInvalidStatus:      "invalid status",
	CodeInvalidRoleName:    "role name required",
	CodeIdentityExists:     "username or email already taken",
	CodeInvalidIdentity:    "username and a valid email are required",
	CodeRateLimited:        "too many attempts",
	CodePasswordPolicy:     "password does not meet policy",
	CodePasswordReuse:      "new password must be different from current password",
	CodeServiceError:       "service error",
}

// ErrorCode maps err to a stable machine code. Unrecognised errors, including
// ErrStoreUnavailable, map to "service_error". A nil error maps to "".
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	for _, entry := range errorCodes {
		if errors.Is(err, entry.err) {
			return entry.code
		}
	}
	return CodeServiceError
}

// PublicMessage returns the message that is safe to show to the caller. It never
// reveals whether an identifier exists or carries internal detail.
func PublicMessage(err error) string {
	if err == nil {
		return ""
	}
	return publicMessages[ErrorCode(err)]
}
