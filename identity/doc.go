// Package identity defines the identity record consumed by the credential verifier
// and the storage contract every identity backend implements.
//
// # Concurrency
//
// Identity records are shared mutable state. Writers never blindly overwrite a record:
// [Store.Update] is a conditional write keyed on [Identity.Version], and a stale writer
// receives [ErrVersionConflict] so it can re-read and re-apply its change.
//
// # What this package must NOT do
//
//   - Hash or verify passwords (see package password).
//   - Resolve roles or permissions (see package permission).
//   - Import authcore or any backend package.
package identity
