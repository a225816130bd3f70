// Package memory is an in-process identity and role store.
//
// A single [Store] implements both identity.Store and permission.Store so that
// DeleteRole can check identity references under the same lock. It is intended for
// tests, demos and single-node deployments that seed their data at startup.
package memory
