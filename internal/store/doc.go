// Package store executes commands against a SQL database.
//
// Two dialects are supported through database/sql:
//   - sqlite: github.com/mattn/go-sqlite3, generated keys via LastInsertId
//   - postgres: github.com/jackc/pgx/v5/stdlib, generated keys via RETURNING
//
// # Critical Patterns
//
// Parameterized values: every value reaches the database as a bound
// parameter, never interpolated. Identifiers are always quoted.
//
// Deterministic reads: Select always orders by the primary key, so traces
// built from query results are stable across runs.
//
// Lazy transactions: a Runner opens its transaction on the first command and
// Complete/Rollback on a runner that never ran a command is a no-op.
//
// # Database Configuration (sqlite)
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity, so a misordered write
//     fails instead of committing
package store
