// Package credential verifies identifier/secret pairs against the identity store and
// maintains per-identity lockout state.
//
// # Lockout
//
// Each failed secret increments [identity.Identity.FailedAttempts]. Reaching
// [Config.Threshold] locks the identity until now+[Config.LockDuration]. The attempt
// that trips the lock still reports [ErrInvalidCredentials]; later attempts inside the
// window report [ErrAccountLocked]. An elapsed lock is cleared lazily on the next attempt.
//
// # Concurrency
//
// Every state change goes through [identity.Mutate], so concurrent failures against the
// same identity are never lost: a stale writer re-reads and re-applies its increment.
//
// # What this package must NOT do
//
//   - Issue tokens or create sessions.
//   - Resolve permissions.
package credential
