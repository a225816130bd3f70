// Package authcore provides an authentication and role-based access control engine:
// credential verification with account lockout, signed access and refresh tokens,
// Redis-backed sessions with a refresh ceiling, and permission resolution over a
// fixed role hierarchy.
//
// Engine methods are safe to call from multiple goroutines after initialization
// through [Builder.Build].
//
// # Architecture boundaries
//
// authcore is the public surface. It exposes [Engine], [Builder], [Config], and value
// types (LoginResult, Principal, Decision, SessionInfo, etc.). Flow orchestration,
// rate limiting and audit dispatch live under internal/ and are never exported.
// Identity and role persistence are supplied by the caller through [IdentityStore]
// and [RoleStore]; store/memory, store/postgres and store/sqlite implement both.
//
// # What this package must NOT do
//
//   - Expose Redis clients, internal stores, or encoding details in its public API.
//   - Handle HTTP. The Bearer convention lives in the middleware package.
//   - Import any sub-package that re-imports authcore (no import cycles).
//
// # Error contract
//
// Every failure is one of the sentinels in errors.go, possibly wrapped. Use
// [ErrorCode] for a stable machine code and [PublicMessage] for text that is safe to
// show. Only [ErrStoreUnavailable] and unexpected errors surface as "service error".
package authcore
