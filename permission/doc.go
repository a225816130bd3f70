// Package permission models roles and permissions and answers authorization queries.
//
// # Resolution
//
// An identity references one role; the role references a set of permission IDs. The
// [Resolver] walks identity → role → permission names on every call and never caches,
// so a grant committed to the [Store] is visible to the next query.
//
// # Capabilities
//
// Some callers ask "may this identity perform action A on resource R" instead of naming
// a permission. The answer comes from a [Registry]: an enumerated table from
// [Capability] to the permission names that satisfy it, populated once at startup and
// frozen. Nothing is derived from permission naming conventions at check time.
//
// # Role hierarchy
//
// Which roles an actor may manage is a literal table ([Hierarchy]), not inheritance.
// Admin manages every role, Leader manages Developer and Tester, everyone else manages
// nothing. There is no transitive closure.
//
// # What this package must NOT do
//
//   - Issue or verify tokens, or touch sessions.
//   - Cache resolved permission sets across calls.
//   - Import authcore.
package permission
