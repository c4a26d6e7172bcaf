// Package stores persists run reports to SQLite with WAL mode and embedded
// schema migrations, so successive reconciliation runs on a host can be
// audited after the fact.
package stores
