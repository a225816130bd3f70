// Package flows contains pure-function orchestrators for the Engine's request
// operations.
//
// Each flow function (RunLogin, RunRefresh, RunLogout, RunValidate, RunAuthorize)
// accepts a typed dependency struct and returns a result that either carries the
// success payload or classifies the failure. The Engine maps failure kinds onto its
// public sentinels, metrics and audit events.
//
// # Architecture boundaries
//
// Flow functions coordinate the credential verifier, token manager, session
// manager, throttle and permission resolver. They do NOT own any of these
// resources; ownership stays with the Engine.
//
// # What this package must NOT do
//
//   - Hold mutable state between calls.
//   - Import authcore (to avoid import cycles).
//   - Perform I/O directly. All I/O is mediated through dependency interfaces.
package flows
