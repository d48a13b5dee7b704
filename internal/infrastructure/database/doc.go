// Package database provides SQLite connection management for Fleetgate.
//
// This package manages:
//   - Opening the database with WAL mode and busy-timeout pragmas
//   - Running embedded schema migrations in version order
//   - Health checks and graceful shutdown
//
// SQLite is configured with a single-connection pool because it supports
// only one writer at a time; WAL mode allows concurrent readers during
// writes. All higher-level repositories (devices, policies, audit records,
// inbound messages) share one *DB.
package database
