// Package postgres stores identities, roles and permissions in PostgreSQL through
// database/sql with the pgx driver.
//
// Schema changes ship as embedded golang-migrate files; call [Migrate] before
// serving traffic. Identity updates are conditional on the version column, so a
// stale writer gets identity.ErrVersionConflict rather than overwriting.
package postgres
