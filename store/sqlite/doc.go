// Package sqlite stores identities, roles and permissions in a single SQLite file
// using the pure-Go modernc driver.
//
// Timestamps are stored as unix milliseconds. The pool is limited to one connection,
// so writes serialise in the driver and version checks never race each other.
package sqlite
