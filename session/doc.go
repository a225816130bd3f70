// Package session provides Redis-backed session persistence and the session state
// machine.
//
// # Storage
//
// Each session is a Redis hash holding token digests, timestamps in unix
// milliseconds, the refresh counter and flags. A per-identity set and a global
// expiry sorted set index them. Every state transition that reads then writes
// (extend, rotate, activity, invalidate, sweep) runs as one Lua script, so it is
// atomic per session.
//
// # Architecture boundaries
//
// This package owns the [RedisStore], the [Manager] and the [Session] model. It does
// NOT interpret JWT tokens, evaluate permissions, or decide authentication policy;
// those belong to the Engine.
//
// # What this package must NOT do
//
//   - Import authcore, jwt, or permission (no upward imports).
//   - Store plaintext token values in [Session] fields.
package session
